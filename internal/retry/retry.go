// Package retry retries provider calls that fail transiently.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted wraps the last transient error once every attempt failed.
var ErrExhausted = errors.New("retries exhausted")

// Policy bounds retries: at most MaxAttempts calls, waiting BaseDelay after
// the first failure and doubling after each further one, never more than
// MaxDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy is three attempts, 5s then 10s apart.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 5 * time.Second, MaxDelay: 2 * time.Minute}
}

// Delay returns the wait after the given number of failed attempts.
func (p Policy) Delay(failures int) time.Duration {
	if failures < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < failures; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// schedule adapts Delay to backoff.BackOff. Each Do call owns one.
type schedule struct {
	policy   Policy
	failures int
}

func (s *schedule) NextBackOff() time.Duration {
	s.failures++
	return s.policy.Delay(s.failures)
}

func (s *schedule) Reset() { s.failures = 0 }

// Notify is called before each wait with the attempt that failed.
type Notify func(attempt int, err error, wait time.Duration)

// Do calls op until it succeeds, returns a non-transient error, or the
// attempt budget is spent. Cancelling ctx stops further attempts but op
// decides for itself whether to honour it.
func (p Policy) Do(ctx context.Context, op func(context.Context) error, notify Notify) error {
	attempts := max(p.MaxAttempts, 1)
	var (
		calls     int
		lastErr   error
		permanent bool
	)

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		calls++
		err := op(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		lastErr = err
		if !IsTransient(err) {
			permanent = true
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(&schedule{policy: p}),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if notify != nil {
				notify(calls, err, wait)
			}
		}),
	)
	if err == nil {
		return nil
	}
	if permanent || lastErr == nil {
		return err
	}
	if ctx.Err() != nil && calls < attempts {
		return fmt.Errorf("stopped after %d attempts: %w", calls, errors.Join(ctx.Err(), lastErr))
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, calls, lastErr)
}

var transientCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"ThrottledException":                     true,
	"RequestThrottled":                       true,
	"RequestThrottledException":              true,
	"RequestLimitExceeded":                   true,
	"TooManyRequestsException":               true,
	"ProvisionedThroughputExceededException": true,
	"TransactionInProgressException":         true,
	"SlowDown":                               true,
	"EC2ThrottledException":                  true,
	"BandwidthLimitExceeded":                 true,
	"PriorRequestNotComplete":                true,
	"RequestTimeout":                         true,
	"RequestTimeoutException":                true,
	"InternalError":                          true,
	"InternalFailure":                        true,
	"InternalServerError":                    true,
	"ServiceUnavailable":                     true,
	"ServiceUnavailableException":            true,
	"Unavailable":                            true,
}

// IsTransient reports whether err is worth retrying: throttling, server-side
// faults and network failures. Authorization, validation and not-found
// errors are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if transientCodes[apiErr.ErrorCode()] {
			return true
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return true
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF)
}
