package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"syscall"
	"time"
)

// Config is a bounded backoff-retry policy
type Config struct {
	// MaxAttempts is the total number of attempts, the first one included
	MaxAttempts int
	// InitialInterval is the delay after the first failed attempt
	InitialInterval time.Duration
	// MaxInterval caps the delay between two attempts, jitter excluded
	MaxInterval time.Duration
	// Multiplier is the factor by which the delay grows per failed attempt
	Multiplier float64
	// Jitter returns the extra delay added on top of a computed backoff.
	// A nil Jitter adds nothing.
	Jitter func(backoff time.Duration) time.Duration
}

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     5,
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		Jitter:          UpTo(250 * time.Millisecond),
	}
}

// UpTo returns a jitter function adding a uniformly random delay in [0, maxJitter).
func UpTo(maxJitter time.Duration) func(time.Duration) time.Duration {
	return func(time.Duration) time.Duration {
		if maxJitter <= 0 {
			return 0
		}
		return time.Duration(rand.Int64N(int64(maxJitter))) //nolint:gosec
	}
}

// Proportional returns a jitter function adding a random delay of up to factor*backoff.
func Proportional(factor float64) func(time.Duration) time.Duration {
	return func(backoff time.Duration) time.Duration {
		if factor <= 0 || backoff <= 0 {
			return 0
		}
		return time.Duration(rand.Float64() * factor * float64(backoff)) //nolint:gosec
	}
}

// Validate checks that the policy is bounded
func (c Config) Validate() error {
	var errs []error
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts))
	}
	if c.InitialInterval < 0 {
		errs = append(errs, fmt.Errorf("initial interval must not be negative, got %s", c.InitialInterval))
	}
	if c.MaxInterval < c.InitialInterval {
		errs = append(errs, fmt.Errorf("max interval %s is below initial interval %s", c.MaxInterval, c.InitialInterval))
	}
	if c.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("multiplier must be at least 1, got %v", c.Multiplier))
	}
	return errors.Join(errs...)
}

// Backoff returns the delay to wait after the given failed attempt (1-based).
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	multiplier := c.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	backoff := float64(c.InitialInterval) * math.Pow(multiplier, float64(attempt-1))
	if c.MaxInterval > 0 && backoff > float64(c.MaxInterval) {
		backoff = float64(c.MaxInterval)
	}

	d := time.Duration(backoff)
	if c.Jitter != nil {
		d += c.Jitter(d)
	}

	return d
}

// RetryableFunc represents a function that can be retried
type RetryableFunc func() error

// IsRetryable is a function that determines if an error should be retried
type IsRetryable func(error) bool

// Always treats every error as retryable
func Always(error) bool { return true }

// Callbacks are invoked around attempts, mostly for metrics and logging
type Callbacks struct {
	OnRetryAttempt func(attempt int, err error, nextBackoff time.Duration)
	OnRetrySuccess func(attempt int)
	OnRetryFailure func(attempt int, err error)
}

// Do executes the given function with retries based on the provided config
func Do(ctx context.Context, fn RetryableFunc, isRetryable IsRetryable, cfg Config) error {
	return DoWithCallbacks(ctx, fn, isRetryable, cfg, Callbacks{})
}

// DoWithCallbacks executes the given function with retries and callbacks
func DoWithCallbacks(ctx context.Context, fn RetryableFunc, isRetryable IsRetryable, cfg Config, callbacks Callbacks) error {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 && callbacks.OnRetrySuccess != nil {
				callbacks.OnRetrySuccess(attempt)
			}
			return nil
		}

		lastErr = err

		if !isRetryable(err) {
			return fmt.Errorf("non-retryable error: %w", err)
		}

		if attempt == maxAttempts {
			if callbacks.OnRetryFailure != nil {
				callbacks.OnRetryFailure(attempt, err)
			}
			break
		}

		backoffTime := cfg.Backoff(attempt)

		if callbacks.OnRetryAttempt != nil {
			callbacks.OnRetryAttempt(attempt+1, err, backoffTime)
		}

		timer := time.NewTimer(backoffTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", maxAttempts, lastErr)
}

// IsNetworkError reports whether err is a timeout or a dropped connection.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
