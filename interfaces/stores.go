package interfaces

import (
	"context"
	"time"
)

// KeyMaterial bundles the three independent secrets feeding the
// envelope cipher's key derivation. Compromising any single one is
// insufficient to decrypt an archive.
type KeyMaterial struct {
	SystemKey []byte
	UserKey   []byte
	Pepper    []byte
}

// Zero overwrites the secret bytes. Callers resolve material, use it,
// and defer Zero so secrets never outlive the operation, on any exit
// path.
func (m *KeyMaterial) Zero() {
	for _, b := range [][]byte{m.SystemKey, m.UserKey, m.Pepper} {
		for i := range b {
			b[i] = 0
		}
	}
	m.SystemKey, m.UserKey, m.Pepper = nil, nil, nil
}

// KeyMaterialProvider resolves the global system key, the per-user
// derived key, and the application-wide pepper. Failures map to
// ErrKeyUnavailable.
type KeyMaterialProvider interface {
	Resolve(ctx context.Context, userID string) (*KeyMaterial, error)
}

// AuditLogger appends entries to the forensic audit log. Record must
// not fail silently: on an unreachable store it retries with backoff
// and then propagates ErrStoreUnavailable.
type AuditLogger interface {
	Record(ctx context.Context, entry *AuditLogEntry) (*AuditLogEntry, error)
}

// AuditQuery filters the audit log. Zero-valued filters are ignored.
// Page is 1-based.
type AuditQuery struct {
	Severity AuditSeverity
	Status   ActionStatus
	Page     int
	PageSize int
}

// AuditPage is one page of entries in reverse-chronological
// (timestamp, id) order with pagination derived from a consistent count.
type AuditPage struct {
	Entries    []*AuditLogEntry `json:"entries"`
	Total      int              `json:"total"`
	TotalPages int              `json:"totalPages"`
	Page       int              `json:"page"`
	PageSize   int              `json:"limit"`
}

// HourBucket is the FAILURE count for one clock hour.
type HourBucket struct {
	Hour  time.Time
	Count int
}

// IPFailureStat aggregates FAILURE entries per source IP over a window.
type IPFailureStat struct {
	IP            string `json:"ip"`
	Failures      int    `json:"failures"`
	DistinctUsers int    `json:"distinctUsers"`
}

// SeverityCount is the entry volume for one severity.
type SeverityCount struct {
	Severity AuditSeverity `json:"severity"`
	Count    int           `json:"count"`
}

// EventTypeCount is the entry volume for one event type.
type EventTypeCount struct {
	EventType string `json:"eventType"`
	Count     int    `json:"count"`
}

// DayBucket is the entry count for one calendar day.
type DayBucket struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// AuditStore persists audit entries. Insert-only: the schema exposes no
// update or delete.
type AuditStore interface {
	Insert(ctx context.Context, entry *AuditLogEntry) error
	Query(ctx context.Context, q AuditQuery) (*AuditPage, error)

	// FailureBuckets returns per-hour FAILURE counts in [from, to),
	// for baseline computation.
	FailureBuckets(ctx context.Context, from, to time.Time) ([]HourBucket, error)

	// FailuresByIP returns per-IP FAILURE aggregates in [from, to),
	// for anomaly detection.
	FailuresByIP(ctx context.Context, from, to time.Time) ([]IPFailureStat, error)

	// Analytics aggregates for the dashboard.
	TopFailingIPs(ctx context.Context, since time.Time, limit int) ([]IPFailureStat, error)
	SeverityCounts(ctx context.Context, since time.Time) ([]SeverityCount, error)
	EventTypeCounts(ctx context.Context, since time.Time) ([]EventTypeCount, error)
	StatusRatio(ctx context.Context, since time.Time) (success, failure int, err error)
	DailyCounts(ctx context.Context, since time.Time) ([]DayBucket, error)
}

// ArchiveStore persists identity archives. Archives are created once
// and mutated exactly once by a terminal decision; they are never
// deleted within the security core's scope.
type ArchiveStore interface {
	Create(ctx context.Context, archive *IdentityArchive) error

	// ByUserID returns the user's archive or ErrNotFound.
	ByUserID(ctx context.Context, userID string) (*IdentityArchive, error)

	// Finalize transitions the archive from PENDING to a terminal
	// status. Returns ErrInvalidTransition if it is not PENDING.
	Finalize(ctx context.Context, userID string, status ArchiveStatus, reviewedBy, reason string, reviewedAt time.Time) (*IdentityArchive, error)
}

// ThreatStore persists threat records and enforces the (ipAddress,
// threatType) uniqueness invariant for ACTIVE records.
type ThreatStore interface {
	// Upsert increments evidenceCount and lastDetected on the ACTIVE
	// record for (record.IPAddress, record.Type) if one exists,
	// otherwise inserts the record with evidenceCount 1. Returns the
	// persisted record.
	Upsert(ctx context.Context, record *ThreatRecord) (*ThreatRecord, error)

	// Resolve transitions a threat to RESOLVED. Returns ErrNotFound if
	// no such threat exists or it is already resolved.
	Resolve(ctx context.Context, threatID string, resolvedBy string, at time.Time) (*ThreatRecord, error)

	ListActive(ctx context.Context) ([]*ThreatRecord, error)
}

// BaselineStore persists versioned security baselines.
type BaselineStore interface {
	Insert(ctx context.Context, baseline *SecurityBaseline) error

	// Latest returns the most recent baseline or ErrNotFound when none
	// has been computed yet.
	Latest(ctx context.Context) (*SecurityBaseline, error)
}
