package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Config controls the backoff schedule for transient failures.
type Config struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// Do runs fn until it succeeds, the context is cancelled, retries are
// exhausted, or retryable(err) reports the error as permanent. The last
// error is returned unwrapped so callers can classify it.
func Do(ctx context.Context, cfg Config, retryable func(error) bool, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == cfg.MaxRetries {
			break
		}
		if retryable != nil && !retryable(err) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay(attempt, cfg)):
		}
	}
	return lastErr
}

func delay(attempt int, cfg Config) time.Duration {
	d := cfg.InitialDelay
	if d <= 0 {
		d = time.Second
	}
	if attempt > 0 {
		factor := cfg.BackoffFactor
		if factor <= 1 {
			factor = 2.0
		}
		d = time.Duration(float64(d) * math.Pow(factor, float64(attempt)))
	}
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if cfg.Jitter {
		d += time.Duration(float64(d) * 0.1 * (2*rand.Float64() - 1))
	}
	return d
}
