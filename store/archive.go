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

// ArchiveStorage persists identity archives. Rows are created once and
// mutated exactly once by a terminal review decision.
type ArchiveStorage struct {
	db *sql.DB
}

// NewArchiveStorage creates an archive store over db.
func NewArchiveStorage(db *sql.DB) *ArchiveStorage {
	return &ArchiveStorage{db: db}
}

// Create inserts a new PENDING archive. The sealed sides and forensics
// snapshot are stored as JSON; ciphertext itself lives in the blob
// backends and is referenced by content ID only.
func (s *ArchiveStorage) Create(ctx context.Context, archive *interfaces.IdentityArchive) error {
	sides, err := json.Marshal(archive.Sides)
	if err != nil {
		return fmt.Errorf("failed to encode sides: %w", err)
	}
	forensics, err := json.Marshal(archive.Forensics)
	if err != nil {
		return fmt.Errorf("failed to encode forensics: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO identity_archives(id, user_id, document_type, sides, forensics, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		archive.ID.String(),
		archive.UserID,
		archive.DocumentType,
		string(sides),
		string(forensics),
		string(archive.Status),
		archive.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	return nil
}

// ByUserID returns the user's archive or ErrNotFound.
func (s *ArchiveStorage) ByUserID(ctx context.Context, userID string) (*interfaces.IdentityArchive, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, document_type, sides, forensics, status, reviewed_by, reviewed_at, rejection_reason, created_at
			FROM identity_archives
			WHERE user_id = $1 LIMIT 1`,
		userID,
	)

	return scanArchive(row)
}

// Finalize transitions the archive from PENDING to a terminal status
// inside a transaction, distinguishing a missing archive from an
// already-decided one.
func (s *ArchiveStorage) Finalize(ctx context.Context, userID string, status interfaces.ArchiveStatus, reviewedBy, reason string, reviewedAt time.Time) (*interfaces.IdentityArchive, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM identity_archives WHERE user_id = $1 LIMIT 1`, userID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	if interfaces.ArchiveStatus(current) != interfaces.ArchivePending {
		return nil, fmt.Errorf("%w: archive is %s", interfaces.ErrInvalidTransition, current)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE identity_archives
			SET status = $1, reviewed_by = $2, reviewed_at = $3, rejection_reason = $4
			WHERE user_id = $5 AND status = $6`,
		string(status),
		reviewedBy,
		reviewedAt.UTC(),
		reason,
		userID,
		string(interfaces.ArchivePending),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	return s.ByUserID(ctx, userID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArchive(row rowScanner) (*interfaces.IdentityArchive, error) {
	var (
		archive    interfaces.IdentityArchive
		id         string
		sides      string
		forensics  string
		status     string
		reviewedAt sql.NullTime
	)

	err := row.Scan(
		&id,
		&archive.UserID,
		&archive.DocumentType,
		&sides,
		&forensics,
		&status,
		&archive.ReviewedBy,
		&reviewedAt,
		&archive.RejectionReason,
		&archive.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	archive.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt archive id: %w", err)
	}
	if err := json.Unmarshal([]byte(sides), &archive.Sides); err != nil {
		return nil, fmt.Errorf("corrupt archive sides: %w", err)
	}
	if err := json.Unmarshal([]byte(forensics), &archive.Forensics); err != nil {
		return nil, fmt.Errorf("corrupt archive forensics: %w", err)
	}
	archive.Status = interfaces.ArchiveStatus(status)
	if reviewedAt.Valid {
		t := reviewedAt.Time
		archive.ReviewedAt = &t
	}

	return &archive, nil
}
