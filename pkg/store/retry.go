package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"gorm.io/gorm"
)

// RetryConfig controls transient-error retries for persistence operations.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultRetryConfig matches the documented defaults: three attempts with a
// one second base delay doubled between attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, BaseDelay: time.Second}
}

// withRetry runs fn up to cfg.Attempts times, backing off exponentially on
// transient backend errors. Logic errors (not found, constraint violations,
// validation) are returned immediately.
func withRetry(ctx context.Context, cfg RetryConfig, op string, fn func() error) error {
	delay := cfg.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) || attempt >= cfg.Attempts {
			return err
		}
		slog.Warn("Transient database error, retrying",
			"op", op, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// isTransient reports whether an error looks like backend unavailability
// rather than a logic error.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, gorm.ErrRecordNotFound) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrConcurrentModification) ||
		IsValidationError(err) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	msg := err.Error()
	for _, fragment := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"bad connection",
		"server closed",
		"too many connections",
		"deadlock detected",
		"database is locked",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
