// Package poll drives repeated invocation of an asynchronous remote
// operation until a completion predicate holds, with bounded attempts and
// bounded wall-clock exposure. It is agnostic to what "completion" means:
// different supplier surfaces expose it via different flags, so callers pass
// a predicate.
package poll

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/LockTrip/b2b-integration/pkg/errors"
)

var pollAttempts = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "poll_attempts",
		Help:    "Number of attempts consumed per poll loop",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
	},
	[]string{"operation"},
)

// Config bounds one poll loop.
type Config struct {
	// InitialDelay is applied once, before the first attempt. The remote
	// search is guaranteed asynchronous, so polling immediately would only
	// burn an attempt.
	InitialDelay time.Duration

	// Interval is the delay between attempts.
	Interval time.Duration

	// MaxAttempts is the attempt budget. Exhausting it without satisfying
	// the predicate is an error, never an empty success.
	MaxAttempts int
}

// Result carries the first response satisfying the predicate and the number
// of attempts it took to obtain it.
type Result[T any] struct {
	Response T
	Attempts int
}

// Until invokes op until done holds for its response, the attempt budget is
// exhausted, or ctx is cancelled. Waits are suspension points: cancellation
// aborts them immediately and surfaces ctx.Err(). Operation errors propagate
// as-is on the spot; an incomplete response (done=false) is an expected
// intermediate state and costs only the attempt.
func Until[T any](ctx context.Context, cfg Config, operation string, op func(context.Context) (T, error), done func(T) bool) (Result[T], error) {
	var zero Result[T]

	if cfg.MaxAttempts <= 0 {
		return zero, fmt.Errorf("poll %s: max attempts must be positive", operation)
	}

	if err := wait(ctx, cfg.InitialDelay); err != nil {
		return zero, err
	}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		resp, err := op(ctx)
		if err != nil {
			return zero, fmt.Errorf("poll %s attempt %d: %w", operation, attempt, err)
		}

		if done(resp) {
			pollAttempts.WithLabelValues(operation).Observe(float64(attempt))
			return Result[T]{Response: resp, Attempts: attempt}, nil
		}

		if attempt < cfg.MaxAttempts {
			if err := wait(ctx, cfg.Interval); err != nil {
				return zero, err
			}
		}
	}

	pollAttempts.WithLabelValues(operation).Observe(float64(cfg.MaxAttempts))
	return zero, fmt.Errorf("poll %s: %w", operation, apperrors.PollExhausted(cfg.MaxAttempts))
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
