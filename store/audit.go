package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spacelock/membership-security-backend/interfaces"
)

// AuditStorage persists the append-only forensic audit log. The table
// exposes insert and read paths only; there is no update or delete.
type AuditStorage struct {
	db *sql.DB
}

// NewAuditStorage creates an audit store over db.
func NewAuditStorage(db *sql.DB) *AuditStorage {
	return &AuditStorage{db: db}
}

// Insert appends one entry.
func (s *AuditStorage) Insert(ctx context.Context, entry *interfaces.AuditLogEntry) error {
	schema, payload, err := encodeMetadata(entry.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log(
			id, ts, event_type, severity,
			actor_user_id, actor_username, actor_role,
			operation, status, failure_reason,
			resource_type, resource_id,
			ip, user_agent, device, os, country, request_id,
			fingerprint, bundle_id,
			metadata_schema, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		entry.ID.String(),
		entry.Timestamp.UTC(),
		entry.EventType,
		string(entry.Severity),
		entry.Actor.UserID,
		entry.Actor.Username,
		string(entry.Actor.Role),
		entry.Action.Operation,
		string(entry.Action.Status),
		entry.Action.FailureReason,
		entry.Target.ResourceType,
		entry.Target.ResourceID,
		entry.Context.IP,
		entry.Context.UserAgent,
		entry.Context.Device,
		entry.Context.OS,
		entry.Context.Country,
		entry.Context.RequestID,
		entry.Forensics.Fingerprint,
		entry.Forensics.BundleID,
		schema,
		payload,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	return nil
}

// Query returns one page of entries in reverse-chronological order,
// sorted by (ts, id) for stability under concurrent inserts. Pagination
// totals come from a count with the same filters.
func (s *AuditStorage) Query(ctx context.Context, q interfaces.AuditQuery) (*interfaces.AuditPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 50
	}

	var conds []string
	var args []any
	if q.Severity != "" {
		conds = append(conds, fmt.Sprintf("severity = $%d", len(args)+1))
		args = append(args, string(q.Severity))
	}
	if q.Status != "" {
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, string(q.Status))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	query := fmt.Sprintf(
		"SELECT id, ts, event_type, severity, actor_user_id, actor_username, actor_role, operation, status, failure_reason, resource_type, resource_id, ip, user_agent, device, os, country, request_id, fingerprint, bundle_id, metadata_schema, metadata FROM audit_log%s ORDER BY ts DESC, id DESC LIMIT $%d OFFSET $%d",
		where, len(args)+1, len(args)+2,
	)
	args = append(args, q.PageSize, (q.Page-1)*q.PageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var entries []*interfaces.AuditLogEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	totalPages := (total + q.PageSize - 1) / q.PageSize

	return &interfaces.AuditPage{
		Entries:    entries,
		Total:      total,
		TotalPages: totalPages,
		Page:       q.Page,
		PageSize:   q.PageSize,
	}, nil
}

// FailureBuckets returns per-hour FAILURE counts in [from, to).
func (s *AuditStorage) FailureBuckets(ctx context.Context, from, to time.Time) ([]interfaces.HourBucket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT strftime('%Y-%m-%dT%H:00:00Z', ts) AS hour, COUNT(*)
			FROM audit_log
			WHERE status = 'FAILURE' AND ts >= $1 AND ts < $2
			GROUP BY hour
			ORDER BY hour`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var buckets []interfaces.HourBucket
	for rows.Next() {
		var hour string
		var count int
		if err := rows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
		}

		t, err := time.Parse(time.RFC3339, hour)
		if err != nil {
			return nil, fmt.Errorf("corrupt hour bucket %q: %w", hour, err)
		}
		buckets = append(buckets, interfaces.HourBucket{Hour: t, Count: count})
	}

	return buckets, rows.Err()
}

// FailuresByIP returns per-IP FAILURE aggregates in [from, to),
// skipping entries with no recorded source address.
func (s *AuditStorage) FailuresByIP(ctx context.Context, from, to time.Time) ([]interfaces.IPFailureStat, error) {
	return s.queryIPFailures(ctx,
		`SELECT ip, COUNT(*), COUNT(DISTINCT actor_user_id)
			FROM audit_log
			WHERE status = 'FAILURE' AND ip != '' AND ts >= $1 AND ts < $2
			GROUP BY ip`,
		from.UTC(), to.UTC(),
	)
}

// TopFailingIPs returns the IPs with the most FAILUREs since the cutoff.
func (s *AuditStorage) TopFailingIPs(ctx context.Context, since time.Time, limit int) ([]interfaces.IPFailureStat, error) {
	return s.queryIPFailures(ctx,
		`SELECT ip, COUNT(*) AS failures, COUNT(DISTINCT actor_user_id)
			FROM audit_log
			WHERE status = 'FAILURE' AND ip != '' AND ts >= $1
			GROUP BY ip
			ORDER BY failures DESC
			LIMIT $2`,
		since.UTC(), limit,
	)
}

func (s *AuditStorage) queryIPFailures(ctx context.Context, query string, args ...any) ([]interfaces.IPFailureStat, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var stats []interfaces.IPFailureStat
	for rows.Next() {
		var stat interfaces.IPFailureStat
		if err := rows.Scan(&stat.IP, &stat.Failures, &stat.DistinctUsers); err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
		}
		stats = append(stats, stat)
	}

	return stats, rows.Err()
}

// SeverityCounts returns entry volume per severity since the cutoff.
func (s *AuditStorage) SeverityCounts(ctx context.Context, since time.Time) ([]interfaces.SeverityCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT severity, COUNT(*) FROM audit_log WHERE ts >= $1 GROUP BY severity`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var counts []interfaces.SeverityCount
	for rows.Next() {
		var c interfaces.SeverityCount
		var severity string
		if err := rows.Scan(&severity, &c.Count); err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
		}
		c.Severity = interfaces.AuditSeverity(severity)
		counts = append(counts, c)
	}

	return counts, rows.Err()
}

// EventTypeCounts returns entry volume per event type since the cutoff.
func (s *AuditStorage) EventTypeCounts(ctx context.Context, since time.Time) ([]interfaces.EventTypeCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM audit_log WHERE ts >= $1 GROUP BY event_type ORDER BY COUNT(*) DESC`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var counts []interfaces.EventTypeCount
	for rows.Next() {
		var c interfaces.EventTypeCount
		if err := rows.Scan(&c.EventType, &c.Count); err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
		}
		counts = append(counts, c)
	}

	return counts, rows.Err()
}

// StatusRatio returns the SUCCESS and FAILURE totals since the cutoff.
func (s *AuditStorage) StatusRatio(ctx context.Context, since time.Time) (success, failure int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN status = 'SUCCESS' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'FAILURE' THEN 1 ELSE 0 END), 0)
		FROM audit_log WHERE ts >= $1`,
		since.UTC(),
	).Scan(&success, &failure)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	return success, failure, nil
}

// DailyCounts returns entry volume per calendar day since the cutoff.
func (s *AuditStorage) DailyCounts(ctx context.Context, since time.Time) ([]interfaces.DayBucket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT strftime('%Y-%m-%d', ts) AS day, COUNT(*)
			FROM audit_log
			WHERE ts >= $1
			GROUP BY day
			ORDER BY day`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var buckets []interfaces.DayBucket
	for rows.Next() {
		var b interfaces.DayBucket
		if err := rows.Scan(&b.Day, &b.Count); err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
		}
		buckets = append(buckets, b)
	}

	return buckets, rows.Err()
}

func scanAuditEntry(rows *sql.Rows) (*interfaces.AuditLogEntry, error) {
	var (
		entry    interfaces.AuditLogEntry
		id       string
		severity string
		role     string
		status   string
		schema   string
		payload  string
	)

	err := rows.Scan(
		&id,
		&entry.Timestamp,
		&entry.EventType,
		&severity,
		&entry.Actor.UserID,
		&entry.Actor.Username,
		&role,
		&entry.Action.Operation,
		&status,
		&entry.Action.FailureReason,
		&entry.Target.ResourceType,
		&entry.Target.ResourceID,
		&entry.Context.IP,
		&entry.Context.UserAgent,
		&entry.Context.Device,
		&entry.Context.OS,
		&entry.Context.Country,
		&entry.Context.RequestID,
		&entry.Forensics.Fingerprint,
		&entry.Forensics.BundleID,
		&schema,
		&payload,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	entry.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt audit entry id: %w", err)
	}
	entry.Severity = interfaces.AuditSeverity(severity)
	entry.Actor.Role = interfaces.Role(role)
	entry.Action.Status = interfaces.ActionStatus(status)

	entry.Metadata, err = decodeMetadata(schema, payload)
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

// encodeMetadata serializes the typed metadata payload together with
// its schema discriminator.
func encodeMetadata(metadata interfaces.EventMetadata) (schema, payload string, err error) {
	if metadata == nil {
		return "", "", nil
	}

	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode metadata: %w", err)
	}

	return metadata.MetadataSchema(), string(raw), nil
}

// decodeMetadata restores the typed payload from its schema
// discriminator, falling back to GenericMetadata for unknown schemas so
// entries written by newer versions stay readable.
func decodeMetadata(schema, payload string) (interfaces.EventMetadata, error) {
	if schema == "" || payload == "" {
		return nil, nil
	}

	var target interfaces.EventMetadata
	switch schema {
	case interfaces.UploadMetadata{}.MetadataSchema():
		target = &interfaces.UploadMetadata{}
	case interfaces.ReviewMetadata{}.MetadataSchema():
		target = &interfaces.ReviewMetadata{}
	case interfaces.DecisionMetadata{}.MetadataSchema():
		target = &interfaces.DecisionMetadata{}
	case interfaces.ThreatMetadata{}.MetadataSchema():
		target = &interfaces.ThreatMetadata{}
	default:
		generic := interfaces.GenericMetadata{}
		if err := json.Unmarshal([]byte(payload), &generic); err != nil {
			return nil, fmt.Errorf("corrupt audit metadata: %w", err)
		}
		return generic, nil
	}

	if err := json.Unmarshal([]byte(payload), target); err != nil {
		return nil, fmt.Errorf("corrupt audit metadata: %w", err)
	}

	return derefMetadata(target), nil
}

func derefMetadata(m interfaces.EventMetadata) interfaces.EventMetadata {
	switch v := m.(type) {
	case *interfaces.UploadMetadata:
		return *v
	case *interfaces.ReviewMetadata:
		return *v
	case *interfaces.DecisionMetadata:
		return *v
	case *interfaces.ThreatMetadata:
		return *v
	default:
		return m
	}
}
