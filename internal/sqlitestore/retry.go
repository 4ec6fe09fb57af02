package sqlitestore

import (
	"context"
	"math/rand"
	"strings"
	"time"
)

// retryConfig controls retry behaviour for transient SQLite errors.
type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// defaultRetryConfig is used for every statement the store issues.
var defaultRetryConfig = retryConfig{
	maxRetries: 3,
	baseDelay:  50 * time.Millisecond,
	maxDelay:   500 * time.Millisecond,
}

// isTransient reports whether err is a lock or WAL contention error that
// goes away on retry. modernc.org/sqlite embeds the result code in the
// message text, so the match is textual.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
		"(5)",
		"(6)",
		"(522)",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// retry runs fn until it succeeds, fails with a non-transient error, the
// retry budget runs out, or ctx is done.
func retry(ctx context.Context, cfg retryConfig, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isTransient(lastErr) {
			return lastErr
		}
		if attempt == cfg.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(cfg, attempt)):
		}
	}
	return lastErr
}

// backoff is baseDelay * 2^attempt capped at maxDelay, plus jitter in
// [0, baseDelay).
func backoff(cfg retryConfig, attempt int) time.Duration {
	delay := cfg.baseDelay << uint(attempt)
	if delay > cfg.maxDelay {
		delay = cfg.maxDelay
	}
	return delay + time.Duration(rand.Int63n(int64(cfg.baseDelay)))
}
