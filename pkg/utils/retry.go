package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryFunc represents a function that can be retried
type RetryFunc func() error

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks an error that must not be retried
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry executes a function with retry logic, stopping early on cancellation or a Permanent error
func Retry(ctx context.Context, operation RetryFunc, maxRetries int, delay time.Duration, description string, logger *Logger) (int, error) {
	var lastError error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			logger.Info("Retry attempt %d/%d for %s (waiting %v)", attempt, maxRetries, description, delay)
			select {
			case <-ctx.Done():
				return attempt, fmt.Errorf("%s cancelled: %w", description, ctx.Err())
			case <-time.After(delay):
			}
		}

		err := operation()
		if err == nil {
			if attempt > 0 {
				logger.Info("Succeeded on attempt %d for %s", attempt+1, description)
			} else {
				logger.Debug("Succeeded on first attempt for %s", description)
			}
			return attempt + 1, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			logger.Error("Not retrying %s: %v", description, perm.err)
			return attempt + 1, perm.err
		}
		if ctx.Err() != nil {
			return attempt + 1, fmt.Errorf("%s cancelled: %w (last error: %v)", description, ctx.Err(), err)
		}

		lastError = err
		if attempt < maxRetries {
			logger.Debug("Attempt %d failed for %s: %v", attempt+1, description, err)
		}
	}

	logger.Error("Failed after %d attempts for %s: %v", maxRetries+1, description, lastError)
	return maxRetries + 1, fmt.Errorf("failed after %d attempts: %w", maxRetries+1, lastError)
}
