package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spacelock/membership-security-backend/interfaces"
)

// ThreatStorage persists threat records. A partial unique index on
// (ip_address, threat_type) for ACTIVE rows backs the dedup invariant.
type ThreatStorage struct {
	db *sql.DB
}

// NewThreatStorage creates a threat store over db.
func NewThreatStorage(db *sql.DB) *ThreatStorage {
	return &ThreatStorage{db: db}
}

// Upsert increments evidence on the ACTIVE record for the record's
// (ipAddress, threatType) if one exists, otherwise inserts the record
// with evidenceCount 1. Runs in a transaction so two concurrent sweeps
// cannot create duplicate ACTIVE records.
func (s *ThreatStorage) Upsert(ctx context.Context, record *interfaces.ThreatRecord) (*interfaces.ThreatRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	var existingID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM threat_records
			WHERE ip_address = $1 AND threat_type = $2 AND status = $3 LIMIT 1`,
		record.IPAddress, string(record.Type), string(interfaces.ThreatActive),
	).Scan(&existingID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		metadata := ""
		if record.Metadata != nil {
			raw, err := json.Marshal(record.Metadata)
			if err != nil {
				return nil, fmt.Errorf("failed to encode threat metadata: %w", err)
			}
			metadata = string(raw)
		}

		record.EvidenceCount = 1
		record.Status = interfaces.ThreatActive
		if record.FirstDetected.IsZero() {
			record.FirstDetected = record.LastDetected
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO threat_records(id, ip_address, threat_type, severity, status, evidence_count, first_detected, last_detected, user_id, metadata)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			record.ID.String(),
			record.IPAddress,
			string(record.Type),
			string(record.Severity),
			string(record.Status),
			record.EvidenceCount,
			record.FirstDetected.UTC(),
			record.LastDetected.UTC(),
			record.UserID,
			metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
		}

	case err != nil:
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)

	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE threat_records
				SET evidence_count = evidence_count + 1, last_detected = $1, severity = $2
				WHERE id = $3`,
			record.LastDetected.UTC(),
			string(record.Severity),
			existingID,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
		}
		record.ID, err = uuid.Parse(existingID)
		if err != nil {
			return nil, fmt.Errorf("corrupt threat id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	return s.byID(ctx, record.ID.String())
}

// Resolve transitions an ACTIVE threat to RESOLVED. Resolution is
// terminal; a later detection for the same (ip, type) starts a fresh
// record.
func (s *ThreatStorage) Resolve(ctx context.Context, threatID string, resolvedBy string, at time.Time) (*interfaces.ThreatRecord, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE threat_records
			SET status = $1, resolved_by = $2, resolved_at = $3
			WHERE id = $4 AND status = $5`,
		string(interfaces.ThreatResolved),
		resolvedBy,
		at.UTC(),
		threatID,
		string(interfaces.ThreatActive),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	if affected == 0 {
		return nil, interfaces.ErrNotFound
	}

	return s.byID(ctx, threatID)
}

// ListActive returns all ACTIVE threats, most recently detected first.
func (s *ThreatStorage) ListActive(ctx context.Context) ([]*interfaces.ThreatRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ip_address, threat_type, severity, status, evidence_count, first_detected, last_detected, user_id, metadata, resolved_by, resolved_at
			FROM threat_records
			WHERE status = $1
			ORDER BY last_detected DESC`,
		string(interfaces.ThreatActive),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var records []*interfaces.ThreatRecord
	for rows.Next() {
		record, err := scanThreat(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

func (s *ThreatStorage) byID(ctx context.Context, threatID string) (*interfaces.ThreatRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ip_address, threat_type, severity, status, evidence_count, first_detected, last_detected, user_id, metadata, resolved_by, resolved_at
			FROM threat_records WHERE id = $1 LIMIT 1`,
		threatID,
	)

	return scanThreat(row)
}

func scanThreat(row rowScanner) (*interfaces.ThreatRecord, error) {
	var (
		record     interfaces.ThreatRecord
		id         string
		threatType string
		severity   string
		status     string
		metadata   string
		resolvedAt sql.NullTime
	)

	err := row.Scan(
		&id,
		&record.IPAddress,
		&threatType,
		&severity,
		&status,
		&record.EvidenceCount,
		&record.FirstDetected,
		&record.LastDetected,
		&record.UserID,
		&metadata,
		&record.ResolvedBy,
		&resolvedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	record.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt threat id: %w", err)
	}
	record.Type = interfaces.ThreatType(threatType)
	record.Severity = interfaces.AuditSeverity(severity)
	record.Status = interfaces.ThreatStatus(status)
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &record.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt threat metadata: %w", err)
		}
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		record.ResolvedAt = &t
	}

	return &record, nil
}
