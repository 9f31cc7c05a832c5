// Package audit implements the append-only forensic audit log.
//
// Every privileged operation in the platform writes exactly one entry
// through Logger.Record, including on failure paths. Record never fails
// silently: an unreachable store is retried with exponential backoff
// and then escalated to the caller, because a dropped audit record is a
// correctness violation, not lost telemetry.
//
// Reads are served by Logger.Query (stable reverse-chronological
// pagination) and by Analytics, which assembles the dashboard
// aggregates without touching the write path.
package audit
