// Package retry runs remote tier requests with exponential backoff. Only
// network failures and HTTP 5xx responses are retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/louisbranch/tierstore/internal/platform/errors"
	"github.com/louisbranch/tierstore/internal/platform/timeouts"
)

// DefaultRetryCount is the number of retries after the first attempt.
const DefaultRetryCount = 3

// Policy controls how often and how patiently an operation is retried.
type Policy struct {
	// RetryCount is the number of retries after the first attempt. Negative
	// values disable retries; zero selects DefaultRetryCount.
	RetryCount int
	// Backoff is the delay before the first retry; each later retry waits
	// twice as long as the one before.
	Backoff time.Duration
	// Logf receives one line per scheduled retry.
	Logf func(string, ...any)
}

func (p Policy) normalized() Policy {
	switch {
	case p.RetryCount == 0:
		p.RetryCount = DefaultRetryCount
	case p.RetryCount < 0:
		p.RetryCount = 0
	}
	if p.Backoff <= 0 {
		p.Backoff = timeouts.RetryBackoff
	}
	if p.Logf == nil {
		p.Logf = log.Printf
	}
	return p
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Status     string
	// Detail is a short description taken from the response body.
	Detail string
}

func (e *StatusError) Error() string {
	status := strings.TrimSpace(e.Status)
	if status == "" {
		status = strconv.Itoa(e.StatusCode)
	}
	if e.Detail == "" {
		return "unexpected status " + status
	}
	return "unexpected status " + status + ": " + e.Detail
}

// NewStatusError wraps a non-2xx response in a REMOTE_STATUS domain error
// whose cause is a StatusError.
func NewStatusError(op string, resp *http.Response, detail string) error {
	statusErr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Detail: strings.TrimSpace(detail)}
	return apperrors.WrapWithMetadata(
		apperrors.CodeRemoteStatus,
		op,
		map[string]string{"status": strconv.Itoa(resp.StatusCode)},
		statusErr,
	)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// Retryable reports whether err is a network failure or a server error.
// Client errors, decode failures, cancellations and domain errors other than
// REMOTE_STATUS are final.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if code := apperrors.CodeOf(err); code != apperrors.CodeUnknown && code != apperrors.CodeRemoteStatus {
		return false
	}
	if code := StatusCode(err); code != 0 {
		return code >= http.StatusInternalServerError
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Do runs op until it succeeds, fails with a non-retryable error, or has
// been retried RetryCount times. Exhausting the retries returns a
// RETRY_EXHAUSTED error carrying the attempt count and the last failure.
func Do[T any](ctx context.Context, name string, policy Policy, op func(context.Context) (T, error)) (T, error) {
	policy = policy.normalized()

	attempts := 0
	permanent := false
	result, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		value, err := op(ctx)
		if err != nil && !Retryable(err) {
			permanent = true
			return value, backoff.Permanent(err)
		}
		return value, err
	},
		backoff.WithBackOff(&backoff.ExponentialBackOff{
			InitialInterval:     policy.Backoff,
			RandomizationFactor: 0,
			Multiplier:          2,
			MaxInterval:         policy.Backoff << policy.RetryCount,
		}),
		backoff.WithMaxTries(uint(policy.RetryCount+1)),
		backoff.WithNotify(func(err error, delay time.Duration) {
			policy.Logf("%s: attempt %d failed, retrying in %s: %v", name, attempts, delay, err)
		}),
	)
	if err == nil {
		return result, nil
	}
	if permanent || ctx.Err() != nil {
		return result, err
	}
	return result, apperrors.WrapWithMetadata(
		apperrors.CodeRetryExhausted,
		fmt.Sprintf("%s failed after %d attempts", name, attempts),
		map[string]string{"attempts": strconv.Itoa(attempts)},
		err,
	)
}
