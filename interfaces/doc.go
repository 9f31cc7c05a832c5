// Package interfaces defines the core interfaces and types for the
// membership security backend. It provides the contract between
// components without implementation details.
//
// The security core has three tightly coupled subsystems:
//
//   - The identity vault seals uploaded identity documents with
//     envelope encryption (KeyMaterialProvider, StorageBackend,
//     ArchiveStore).
//
//   - The forensic audit log records every privileged action
//     (AuditLogger, AuditStore). Entries are append-only.
//
//   - The intelligence engine mines the audit log for anomalous
//     behavior and raises reviewable threat records (ThreatStore,
//     BaselineStore).
//
// Shared sentinel errors in errors.go form the error taxonomy; callers
// classify failures with errors.Is.
package interfaces
