package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/spacelock/membership-security-backend/interfaces"
	"github.com/spacelock/membership-security-backend/metrics"
)

const (
	defaultMaxAttempts    = 4
	defaultInitialBackoff = 100 * time.Millisecond
)

// Logger appends entries to the forensic audit log. Audit completeness
// is a correctness property of the whole system, not best-effort
// telemetry: when the store is unreachable, Record retries with
// exponential backoff and then propagates the failure to the caller
// instead of dropping the entry.
type Logger struct {
	store interfaces.AuditStore
	log   *slog.Logger

	maxAttempts    int
	initialBackoff time.Duration
}

// NewLogger creates an audit logger over the given store.
func NewLogger(store interfaces.AuditStore, log *slog.Logger) *Logger {
	return &Logger{
		store:          store,
		log:            log,
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
	}
}

// WithRetry returns a copy tuned for a different retry budget. Used by
// tests to avoid real backoff sleeps.
func (l *Logger) WithRetry(maxAttempts int, initialBackoff time.Duration) *Logger {
	clone := *l
	clone.maxAttempts = maxAttempts
	clone.initialBackoff = initialBackoff
	return &clone
}

// Record persists one entry, assigning its ID and timestamp if unset.
// Returns the persisted entry. Only ErrStoreUnavailable is retried;
// anything else is a caller bug and fails immediately.
func (l *Logger) Record(ctx context.Context, entry *interfaces.AuditLogEntry) (*interfaces.AuditLogEntry, error) {
	if entry == nil || entry.EventType == "" {
		return nil, fmt.Errorf("%w: audit entry requires an event type", interfaces.ErrValidation)
	}
	if entry.Severity == "" {
		entry.Severity = interfaces.SeverityInfo
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	backoff := l.initialBackoff
	var lastErr error

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		lastErr = l.store.Insert(ctx, entry)
		if lastErr == nil {
			metrics.RecordAuditWrite("success")
			return entry, nil
		}
		if !errors.Is(lastErr, interfaces.ErrStoreUnavailable) {
			return nil, lastErr
		}

		l.log.Warn("Audit store unreachable, retrying",
			slog.String("event_type", entry.EventType),
			slog.Int("attempt", attempt),
			"err", lastErr)

		if attempt == l.maxAttempts {
			break
		}

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, ctx.Err())
		}
	}

	metrics.RecordAuditWrite("failure")
	l.log.Error("Audit entry could not be persisted",
		slog.String("event_type", entry.EventType),
		slog.String("entry_id", entry.ID.String()),
		"err", lastErr)

	return nil, lastErr
}

// Query returns one page of the audit log, reverse-chronological.
func (l *Logger) Query(ctx context.Context, q interfaces.AuditQuery) (*interfaces.AuditPage, error) {
	return l.store.Query(ctx, q)
}
