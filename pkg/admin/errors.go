package admin

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned by every call on a client missing its shop
// domain or access token.
var ErrNotConfigured = errors.New("admin api not configured: shop domain and access token required")

// RemoteError is the final classified failure of an Admin API call: either a
// non-retryable response or the last error after retry exhaustion. Status is
// zero when no attempt ever produced a response.
type RemoteError struct {
	Status int
	Path   string
	Body   []byte
	Err    error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("admin api %s: %v", e.Path, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("admin api %s: status %d: %s: %v", e.Path, e.Status, truncate(e.Body, 200), e.Err)
	}
	return fmt.Sprintf("admin api %s: status %d: %s", e.Path, e.Status, truncate(e.Body, 200))
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RemoteError) Unwrap() error { return e.Err }

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
