package store

import (
	"context"
	"strings"
	"time"

	"github.com/tummerk/video-stats/internal/log"
)

// retryBackoffs are the fixed exponential delays used to retry a transient
// store failure before surfacing it to the caller.
var retryBackoffs = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
}

// withRetry runs fn, retrying up to len(retryBackoffs) additional times
// when fn's error classifies as transient (SQLite lock contention or a
// driver-level I/O error). Non-transient errors return immediately.
func withRetry(ctx context.Context, operation string, fn func() error) error {
	logger := log.WithComponent("store")

	var lastErr error
	for attempt := 0; attempt <= len(retryBackoffs); attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransientDriverError(lastErr) {
			return lastErr
		}
		if attempt == len(retryBackoffs) {
			break
		}
		delay := retryBackoffs[attempt]
		logger.Warn().
			Str("operation", operation).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(lastErr).
			Msg("store operation transient failure, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return newTransient(operation, lastErr)
}

func isTransientDriverError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "i/o error") ||
		strings.Contains(msg, "disk i/o")
}
