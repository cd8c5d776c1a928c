// Package transport implements the resilient HTTP call executor used for all
// outbound Admin API traffic: bounded per-attempt timeouts, outcome
// classification, and exponential backoff with optional Retry-After support.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/nordbrew/standing-orders/pkg/logging"
)

// Prometheus metrics for outbound call execution.
var (
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "standing_orders_remote_calls_total",
		Help: "Total outbound remote calls by endpoint and result status",
	}, []string{"endpoint", "status"})

	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "standing_orders_remote_call_duration_seconds",
		Help:    "Outbound call duration in seconds by endpoint, including retries",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "standing_orders_remote_retries_total",
		Help: "Total retry attempts by retry reason",
	}, []string{"reason"})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "standing_orders_remote_retry_backoff_seconds",
		Help:    "Backoff duration waited before retries",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	retryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "standing_orders_remote_retry_exhausted_total",
		Help: "Total number of calls that exhausted all retry attempts",
	})
)

// Kind classifies the final outcome of an executed call.
type Kind string

const (
	// KindSuccess is any 2xx response.
	KindSuccess Kind = "success"

	// KindClientError is a non-retryable non-2xx response (4xx except 429).
	KindClientError Kind = "client_error"

	// KindRetryable is a transient failure (429, 5xx, network or timeout
	// error). It only appears on intermediate attempts; Execute never
	// returns it.
	KindRetryable Kind = "retryable"

	// KindExhausted is a retryable failure that survived the final attempt.
	KindExhausted Kind = "exhausted"
)

// Policy controls retry behavior for one class of calls. The zero value is
// normalized to a single attempt with conservative timeouts.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// PerAttemptTimeout bounds each individual attempt. On expiry the
	// in-flight call is cancelled and counts as a network failure.
	PerAttemptTimeout time.Duration

	// BaseBackoff is the delay before the first retry; retry N waits
	// BaseBackoff * 2^N (attempt-indexed from 0).
	BaseBackoff time.Duration

	// HonorRetryAfter makes a Retry-After response header (seconds)
	// override the computed backoff.
	HonorRetryAfter bool

	// MaxBackoff caps a single backoff delay. Zero means uncapped.
	MaxBackoff time.Duration

	// Jitter randomizes each delay within ±20% to avoid retry storms.
	Jitter bool
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.PerAttemptTimeout <= 0 {
		p.PerAttemptTimeout = 10 * time.Second
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = 500 * time.Millisecond
	}
	return p
}

// Request describes one outbound HTTP call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Outcome is the classified result of an executed call.
type Outcome struct {
	Kind   Kind
	Status int // 0 when the attempt never produced a response
	Header http.Header
	Body   []byte
	Err    error // last network or timeout error, if any
}

// Success reports whether the call ended with a 2xx response.
func (o Outcome) Success() bool { return o.Kind == KindSuccess }

// Executor performs HTTP calls with retry and backoff. It holds no mutable
// state beyond the underlying http.Client and is safe for concurrent use.
type Executor struct {
	client *http.Client
	logger zerolog.Logger
}

// NewExecutor creates an executor. Attempt deadlines come from the policy,
// so the underlying client carries no global timeout.
func NewExecutor() *Executor {
	return &Executor{
		client: &http.Client{},
		logger: logging.NewLogger("transport"),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (e *Executor) SetHTTPClient(client *http.Client) {
	e.client = client
}

// Execute performs req under the given policy and returns the final outcome.
// Retry decisions are owned entirely by this method: callers only ever see
// success, client_error, or exhausted.
func (e *Executor) Execute(ctx context.Context, req Request, policy Policy) Outcome {
	policy = policy.normalized()
	endpoint := endpointLabel(req.URL)

	start := time.Now()
	defer func() {
		callDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	var last Outcome
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		out, retryAfter := e.attempt(ctx, req, policy.PerAttemptTimeout)

		switch out.Kind {
		case KindSuccess:
			callsTotal.WithLabelValues(endpoint, strconv.Itoa(out.Status)).Inc()
			if attempt > 0 {
				e.logger.Info().
					Str("endpoint", endpoint).
					Int("attempt", attempt).
					Msg("call succeeded after retry")
			}
			return out
		case KindClientError:
			callsTotal.WithLabelValues(endpoint, strconv.Itoa(out.Status)).Inc()
			e.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", out.Status).
				Msg("non-retryable remote error")
			return out
		}

		last = out
		if out.Status > 0 {
			callsTotal.WithLabelValues(endpoint, strconv.Itoa(out.Status)).Inc()
		} else {
			callsTotal.WithLabelValues(endpoint, "network_error").Inc()
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := backoffDelay(policy, attempt, retryAfter)
		retriesTotal.WithLabelValues(retryReason(out)).Inc()
		retryBackoffSeconds.Observe(delay.Seconds())

		e.logger.Debug().
			Str("endpoint", endpoint).
			Int("attempt", attempt).
			Int("status", out.Status).
			Dur("backoff", delay).
			Msg("retrying call after backoff")

		select {
		case <-ctx.Done():
			e.logger.Warn().
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Msg("context cancelled during backoff")
			last.Err = fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
			return Outcome{Kind: KindExhausted, Status: last.Status, Header: last.Header, Body: last.Body, Err: last.Err}
		case <-time.After(delay):
		}
	}

	retryExhaustedTotal.Inc()
	e.logger.Warn().
		Str("endpoint", endpoint).
		Int("max_attempts", policy.MaxAttempts).
		Int("status", last.Status).
		Msg("retry attempts exhausted")

	return Outcome{Kind: KindExhausted, Status: last.Status, Header: last.Header, Body: last.Body, Err: last.Err}
}

// attempt performs a single time-boxed attempt and classifies its result.
// The second return value is the parsed Retry-After delay, if the response
// carried one.
func (e *Executor) attempt(ctx context.Context, req Request, timeout time.Duration) (Outcome, time.Duration) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return Outcome{Kind: KindRetryable, Err: err}, 0
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return Outcome{Kind: KindRetryable, Err: err}, 0
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{Kind: KindRetryable, Status: resp.StatusCode, Header: resp.Header, Err: err}, 0
	}

	out := Outcome{Status: resp.StatusCode, Header: resp.Header, Body: body}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		out.Kind = KindSuccess
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		out.Kind = KindRetryable
	default:
		out.Kind = KindClientError
	}

	return out, parseRetryAfter(resp.Header)
}

// backoffDelay computes the wait before retry number attempt+1.
func backoffDelay(policy Policy, attempt int, retryAfter time.Duration) time.Duration {
	if policy.HonorRetryAfter && retryAfter > 0 {
		return retryAfter
	}

	delay := policy.BaseBackoff << uint(attempt)
	if policy.MaxBackoff > 0 && delay > policy.MaxBackoff {
		delay = policy.MaxBackoff
	}
	if policy.Jitter {
		delay = time.Duration(float64(delay) * (0.8 + rand.Float64()*0.4))
	}
	return delay
}

// parseRetryAfter reads a Retry-After header given in seconds. The HTTP-date
// form is not used by the platform and is ignored.
func parseRetryAfter(header http.Header) time.Duration {
	value := header.Get("Retry-After")
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func retryReason(out Outcome) string {
	switch {
	case out.Status == http.StatusTooManyRequests:
		return "rate_limit"
	case out.Status >= 500:
		return "server_error"
	default:
		return "network"
	}
}

// endpointLabel reduces a URL to its path for metric labels, keeping
// cardinality bounded: the query string is dropped and numeric path
// segments (entity ids, with or without a file extension) collapse to :id.
func endpointLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "unknown"
	}

	segments := strings.Split(u.Path, "/")
	for i, segment := range segments {
		name, ext, found := strings.Cut(segment, ".")
		if !isDigits(name) {
			continue
		}
		if found {
			segments[i] = ":id." + ext
		} else {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
