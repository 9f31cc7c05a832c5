package interfaces

import "errors"

// Error taxonomy shared across the security core. Callers match with
// errors.Is; messages wrapped around these sentinels must never include
// key material or plaintext. Full detail belongs in the audit trail.
var (
	// ErrValidation marks malformed input, rejected before any key
	// material is touched.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized marks a missing capability. The attempt is still
	// logged as a FAILURE audit entry with actor and target.
	ErrUnauthorized = errors.New("actor not authorized")

	// ErrIntegrity marks an AEAD tag mismatch: tampered ciphertext or
	// wrong key material. Always audited as CRITICAL.
	ErrIntegrity = errors.New("ciphertext integrity check failed")

	// ErrKeyUnavailable marks a failure to resolve one of the three
	// encryption secrets. Recoverable by re-upload.
	ErrKeyUnavailable = errors.New("key material unavailable")

	// ErrReviewLocked marks a concurrent review of the same user's
	// archive. Retryable; the caller should back off.
	ErrReviewLocked = errors.New("review already in progress")

	// ErrVaultWrite marks an upload that failed while sealing or
	// committing the archive. No partial archive is observable.
	ErrVaultWrite = errors.New("vault write failed")

	// ErrInvalidTransition marks a decision on an archive that is not
	// PENDING. Archive decisions are terminal.
	ErrInvalidTransition = errors.New("invalid archive state transition")

	// ErrStoreUnavailable marks unreachable persistence. This is the
	// only class allowed to fail the triggering request fatally:
	// dropping an audit record silently is unacceptable.
	ErrStoreUnavailable = errors.New("backing store unavailable")

	// ErrAnomalyDetection marks a failed intelligence sweep. Contained
	// within the sweep and logged, never surfaced to end users.
	ErrAnomalyDetection = errors.New("anomaly detection failed")

	// ErrNotFound marks a missing archive, threat, or blob.
	ErrNotFound = errors.New("not found")
)
