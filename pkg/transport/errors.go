package transport

import "errors"

// ErrInterrupted is carried by an exhausted outcome when the caller's
// context was cancelled during a backoff wait.
var ErrInterrupted = errors.New("call interrupted")
