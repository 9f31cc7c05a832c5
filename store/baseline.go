package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/spacelock/membership-security-backend/interfaces"
)

// BaselineStorage persists versioned security baselines. Baselines are
// immutable: recomputation inserts a new row and readers take the
// latest, so a half-updated baseline is never observable.
type BaselineStorage struct {
	db *sql.DB
}

// NewBaselineStorage creates a baseline store over db.
func NewBaselineStorage(db *sql.DB) *BaselineStorage {
	return &BaselineStorage{db: db}
}

// Insert writes a new baseline version.
func (s *BaselineStorage) Insert(ctx context.Context, baseline *interfaces.SecurityBaseline) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO security_baselines(id, avg_failures, stddev, sample_size, window_start, window_end, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		baseline.ID.String(),
		baseline.AvgFailuresPerHour,
		baseline.StdDevFailuresPerHour,
		baseline.SampleSize,
		baseline.WindowStart.UTC(),
		baseline.WindowEnd.UTC(),
		baseline.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	return nil
}

// Latest returns the most recently computed baseline, or ErrNotFound
// when none has been computed yet.
func (s *BaselineStorage) Latest(ctx context.Context) (*interfaces.SecurityBaseline, error) {
	var (
		baseline interfaces.SecurityBaseline
		id       string
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT id, avg_failures, stddev, sample_size, window_start, window_end, created_at
			FROM security_baselines
			ORDER BY created_at DESC, id DESC
			LIMIT 1`,
	).Scan(
		&id,
		&baseline.AvgFailuresPerHour,
		&baseline.StdDevFailuresPerHour,
		&baseline.SampleSize,
		&baseline.WindowStart,
		&baseline.WindowEnd,
		&baseline.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	baseline.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt baseline id: %w", err)
	}

	return &baseline, nil
}
