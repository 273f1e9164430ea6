package backend

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig controls exponential backoff when dialling the bridge.
type RetryConfig struct {
	MaxRetries int           // retry attempts after the first (0 = no retry)
	BaseDelay  time.Duration // initial backoff delay (default 500ms)
	MaxDelay   time.Duration // maximum backoff delay (default 5s)
}

// DefaultRetryConfig returns the dial retry used by the CLI.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// Retry runs fn until it succeeds, the retries are used up or ctx is done.
// It returns the number of attempts made and the last error.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) (attempts int, err error) {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err = fn(); err == nil {
			return attempt + 1, nil
		}
		if attempt == cfg.MaxRetries {
			break
		}
		timer := time.NewTimer(backoffWithJitter(cfg.BaseDelay, cfg.MaxDelay, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt + 1, err
		case <-timer.C:
		}
	}
	return cfg.MaxRetries + 1, err
}

// backoffWithJitter computes min(base * 2^attempt, max) ± 25%.
func backoffWithJitter(base, limit time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > limit || delay <= 0 {
		delay = limit
	}
	quarter := delay / 4
	if quarter > 0 {
		delay += time.Duration(rand.Int64N(int64(quarter*2))) - quarter
	}
	return delay
}
