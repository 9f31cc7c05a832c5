package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store bundles the SQLite-backed persistence for the three logical
// stores of the security core: identity archives, the append-only audit
// log, and threat records with their versioned baselines.
type Store struct {
	Archives  *ArchiveStorage
	Audit     *AuditStorage
	Threats   *ThreatStorage
	Baselines *BaselineStorage

	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the
// schema. The busy timeout keeps concurrent request handlers from
// failing immediately on a locked database.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return New(db), nil
}

// New wraps an existing database handle. Used by tests with sqlmock.
func New(db *sql.DB) *Store {
	return &Store{
		Archives:  NewArchiveStorage(db),
		Audit:     NewAuditStorage(db),
		Threats:   NewThreatStorage(db),
		Baselines: NewBaselineStorage(db),
		db:        db,
	}
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// schema is idempotent; indexes cover the filters served by the query
// and analytics paths (severity, status, ip, time).
const schema = `
CREATE TABLE IF NOT EXISTS identity_archives (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL UNIQUE,
	document_type    TEXT NOT NULL,
	sides            TEXT NOT NULL,
	forensics        TEXT NOT NULL,
	status           TEXT NOT NULL,
	reviewed_by      TEXT NOT NULL DEFAULT '',
	reviewed_at      TIMESTAMP,
	rejection_reason TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_archives_status ON identity_archives(status);

CREATE TABLE IF NOT EXISTS audit_log (
	id              TEXT PRIMARY KEY,
	ts              TIMESTAMP NOT NULL,
	event_type      TEXT NOT NULL,
	severity        TEXT NOT NULL,
	actor_user_id   TEXT NOT NULL DEFAULT '',
	actor_username  TEXT NOT NULL DEFAULT '',
	actor_role      TEXT NOT NULL DEFAULT '',
	operation       TEXT NOT NULL,
	status          TEXT NOT NULL,
	failure_reason  TEXT NOT NULL DEFAULT '',
	resource_type   TEXT NOT NULL DEFAULT '',
	resource_id     TEXT NOT NULL DEFAULT '',
	ip              TEXT NOT NULL DEFAULT '',
	user_agent      TEXT NOT NULL DEFAULT '',
	device          TEXT NOT NULL DEFAULT '',
	os              TEXT NOT NULL DEFAULT '',
	country         TEXT NOT NULL DEFAULT '',
	request_id      TEXT NOT NULL DEFAULT '',
	fingerprint     TEXT NOT NULL DEFAULT '',
	bundle_id       TEXT NOT NULL DEFAULT '',
	metadata_schema TEXT NOT NULL DEFAULT '',
	metadata        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_audit_severity ON audit_log(severity, ts DESC);
CREATE INDEX IF NOT EXISTS idx_audit_status ON audit_log(status, ts DESC);
CREATE INDEX IF NOT EXISTS idx_audit_ip ON audit_log(ip, ts DESC);

CREATE TABLE IF NOT EXISTS threat_records (
	id             TEXT PRIMARY KEY,
	ip_address     TEXT NOT NULL,
	threat_type    TEXT NOT NULL,
	severity       TEXT NOT NULL,
	status         TEXT NOT NULL,
	evidence_count INTEGER NOT NULL,
	first_detected TIMESTAMP NOT NULL,
	last_detected  TIMESTAMP NOT NULL,
	user_id        TEXT NOT NULL DEFAULT '',
	metadata       TEXT NOT NULL DEFAULT '',
	resolved_by    TEXT NOT NULL DEFAULT '',
	resolved_at    TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_threats_active
	ON threat_records(ip_address, threat_type) WHERE status = 'ACTIVE';
CREATE INDEX IF NOT EXISTS idx_threats_status ON threat_records(status, last_detected DESC);

CREATE TABLE IF NOT EXISTS security_baselines (
	id           TEXT PRIMARY KEY,
	avg_failures REAL NOT NULL,
	stddev       REAL NOT NULL,
	sample_size  INTEGER NOT NULL,
	window_start TIMESTAMP NOT NULL,
	window_end   TIMESTAMP NOT NULL,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_baselines_created ON security_baselines(created_at DESC);
`
