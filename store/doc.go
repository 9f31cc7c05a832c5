// Package store implements SQLite persistence for the security core's
// three logical stores: identity archives, the append-only audit log,
// and threat records with their versioned baselines.
//
// The audit_log table is insert-only by construction: the package
// exposes no update or delete for it. Threat dedup relies on a partial
// unique index over ACTIVE (ip_address, threat_type) pairs, and archive
// decisions run in a transaction that distinguishes a missing archive
// from an already-decided one.
package store
