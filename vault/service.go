package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/spacelock/membership-security-backend/cryptoutils"
	"github.com/spacelock/membership-security-backend/interfaces"
	"github.com/spacelock/membership-security-backend/metrics"
)

// DocumentSideUpload is one plaintext document side submitted for
// sealing. The plaintext never leaves the Upload call.
type DocumentSideUpload struct {
	Side interfaces.DocumentSide
	Data []byte
}

// DecryptedSide is one opened document side returned from a review.
type DecryptedSide struct {
	Side interfaces.DocumentSide `json:"side"`
	Data []byte                  `json:"data"`
}

// ReviewResult is the full decrypted view of a member's archive.
type ReviewResult struct {
	UserID       string                       `json:"userId"`
	DocumentType string                       `json:"documentType"`
	Status       interfaces.ArchiveStatus     `json:"status"`
	Sides        []DecryptedSide              `json:"sides"`
	Forensics    interfaces.ForensicsSnapshot `json:"forensics"`
}

// ServiceConfig wires the vault service's collaborators.
type ServiceConfig struct {
	Keys     interfaces.KeyMaterialProvider
	Archives interfaces.ArchiveStore
	Blobs    interfaces.StorageBackend
	Audit    interfaces.AuditLogger
	Locker   ReviewLocker
	Log      *slog.Logger
}

// Service is the identity vault: it seals uploaded document sides under
// envelope encryption, serves exclusive admin reviews, and records every
// operation in the audit log. No operation, successful or not, completes
// without its audit entry.
type Service struct {
	keys     interfaces.KeyMaterialProvider
	archives interfaces.ArchiveStore
	blobs    interfaces.StorageBackend
	audit    interfaces.AuditLogger
	locker   ReviewLocker
	log      *slog.Logger
}

// NewService creates the vault service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		keys:     cfg.Keys,
		archives: cfg.Archives,
		blobs:    cfg.Blobs,
		audit:    cfg.Audit,
		locker:   cfg.Locker,
		log:      cfg.Log,
	}
}

// Upload seals every submitted side and commits the archive as PENDING
// only after all of them succeed, so a partially-sealed archive is never
// observable. Exactly one audit entry is written per attempt; a cipher
// or blob failure surfaces as ErrVaultWrite.
func (s *Service) Upload(ctx context.Context, userID, documentType string, sides []DocumentSideUpload, forensics interfaces.ForensicsSnapshot) (uuid.UUID, error) {
	archiveID, err := s.upload(ctx, userID, documentType, sides, forensics)

	entry := &interfaces.AuditLogEntry{
		EventType: interfaces.EventVaultUpload,
		Actor:     interfaces.Actor{UserID: userID, Role: interfaces.RoleMember},
		Action:    interfaces.AuditAction{Operation: "upload", Status: interfaces.ActionSuccess},
		Target:    interfaces.AuditTarget{ResourceType: "identity_archive", ResourceID: userID},
		Context:   contextFromForensics(forensics),
		Forensics: interfaces.AuditForensics{Fingerprint: forensics.Fingerprint},
		Metadata:  interfaces.UploadMetadata{DocumentType: documentType, SideCount: len(sides)},
	}
	if err != nil {
		markFailure(entry, err)
	}
	metrics.RecordVaultOperation("upload", string(entry.Action.Status))
	if recordErr := s.record(ctx, entry); recordErr != nil {
		return uuid.Nil, recordErr
	}

	return archiveID, err
}

func (s *Service) upload(ctx context.Context, userID, documentType string, sides []DocumentSideUpload, forensics interfaces.ForensicsSnapshot) (uuid.UUID, error) {
	if userID == "" || documentType == "" {
		return uuid.Nil, fmt.Errorf("%w: user id and document type are required", interfaces.ErrValidation)
	}
	if len(sides) == 0 {
		return uuid.Nil, fmt.Errorf("%w: at least one document side is required", interfaces.ErrValidation)
	}
	for _, side := range sides {
		if side.Side != interfaces.SideFront && side.Side != interfaces.SideBack {
			return uuid.Nil, fmt.Errorf("%w: unknown document side %q", interfaces.ErrValidation, side.Side)
		}
		if len(side.Data) == 0 {
			return uuid.Nil, fmt.Errorf("%w: empty %s side", interfaces.ErrValidation, side.Side)
		}
	}

	material, err := s.keys.Resolve(ctx, userID)
	if err != nil {
		return uuid.Nil, err
	}
	defer material.Zero()

	sealed := make([]interfaces.SealedSide, 0, len(sides))
	for _, side := range sides {
		nonce, ciphertext, tag, err := cryptoutils.Encrypt(side.Data, material.SystemKey, material.UserKey, material.Pepper)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: sealing %s side: %v", interfaces.ErrVaultWrite, side.Side, err)
		}

		// The blob holds ciphertext with the tag appended; the nonce
		// stays in the archive row.
		blobID, err := s.blobs.Store(ctx, append(ciphertext, tag...), interfaces.ArchiveBlobType)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: storing %s side: %v", interfaces.ErrVaultWrite, side.Side, err)
		}

		sealed = append(sealed, interfaces.SealedSide{Side: side.Side, Nonce: nonce, BlobID: blobID})
	}

	archive := &interfaces.IdentityArchive{
		ID:           uuid.New(),
		UserID:       userID,
		DocumentType: documentType,
		Sides:        sealed,
		Forensics:    forensics,
		Status:       interfaces.ArchivePending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.archives.Create(ctx, archive); err != nil {
		return uuid.Nil, err
	}

	s.log.Info("Identity archive sealed",
		slog.String("archive_id", archive.ID.String()),
		slog.String("user_id", userID),
		slog.Int("sides", len(sealed)))

	return archive.ID, nil
}

// Review decrypts a member's archive for an authorized reviewer. At
// most one review per member runs at a time; a concurrent caller fails
// fast with ErrReviewLocked. Every attempt is audited with the acting
// reviewer and the reviewed member, regardless of outcome.
func (s *Service) Review(ctx context.Context, actor interfaces.Actor, userID string, reqCtx interfaces.AuditContext) (*ReviewResult, error) {
	result, err := s.review(ctx, actor, userID)

	entry := &interfaces.AuditLogEntry{
		EventType: interfaces.EventVaultReview,
		Actor:     actor,
		Action:    interfaces.AuditAction{Operation: "review", Status: interfaces.ActionSuccess},
		Target:    interfaces.AuditTarget{ResourceType: "identity_archive", ResourceID: userID},
		Context:   reqCtx,
		Metadata:  interfaces.ReviewMetadata{TargetUserID: userID},
	}
	if err != nil {
		markFailure(entry, err)
	} else {
		entry.Metadata = interfaces.ReviewMetadata{TargetUserID: userID, SidesReturned: len(result.Sides)}
	}

	metrics.RecordVaultOperation("review", string(entry.Action.Status))

	// The review already happened; its audit entry is written even when
	// the caller has gone away.
	if recordErr := s.record(context.WithoutCancel(ctx), entry); recordErr != nil {
		return nil, recordErr
	}

	return result, err
}

func (s *Service) review(ctx context.Context, actor interfaces.Actor, userID string) (*ReviewResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", interfaces.ErrValidation)
	}
	if !actor.CanReviewIdentity() {
		return nil, fmt.Errorf("%w: role %s may not review identity documents", interfaces.ErrUnauthorized, actor.Role)
	}

	release, err := s.locker.Acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	archive, err := s.archives.ByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Once the decrypt starts it runs to completion and releases the
	// lock, even if the caller abandons the request mid-operation.
	opCtx := context.WithoutCancel(ctx)

	material, err := s.keys.Resolve(opCtx, userID)
	if err != nil {
		return nil, err
	}
	defer material.Zero()

	sides := make([]DecryptedSide, 0, len(archive.Sides))
	for _, sealed := range archive.Sides {
		blob, err := s.blobs.Fetch(opCtx, sealed.BlobID, interfaces.ArchiveBlobType)
		if err != nil {
			return nil, fmt.Errorf("fetching %s side: %w", sealed.Side, err)
		}
		if len(blob) < cryptoutils.TagSize {
			return nil, fmt.Errorf("%w: sealed %s side is truncated", interfaces.ErrIntegrity, sealed.Side)
		}

		split := len(blob) - cryptoutils.TagSize
		plaintext, err := cryptoutils.Decrypt(sealed.Nonce, blob[:split], blob[split:], material.SystemKey, material.UserKey, material.Pepper)
		if err != nil {
			return nil, err
		}

		sides = append(sides, DecryptedSide{Side: sealed.Side, Data: plaintext})
	}

	s.log.Info("Identity archive reviewed",
		slog.String("archive_id", archive.ID.String()),
		slog.String("user_id", userID),
		slog.String("reviewer", actor.UserID))

	return &ReviewResult{
		UserID:       archive.UserID,
		DocumentType: archive.DocumentType,
		Status:       archive.Status,
		Sides:        sides,
		Forensics:    archive.Forensics,
	}, nil
}

// Finalize transitions a PENDING archive to VERIFIED or REJECTED. The
// decision is terminal; a second decision fails with
// ErrInvalidTransition. REJECTED requires a reason.
func (s *Service) Finalize(ctx context.Context, actor interfaces.Actor, userID string, decision interfaces.ArchiveStatus, reason string, reqCtx interfaces.AuditContext) (*interfaces.IdentityArchive, error) {
	archive, err := s.finalize(ctx, actor, userID, decision, reason)

	entry := &interfaces.AuditLogEntry{
		EventType: interfaces.EventVaultDecision,
		Actor:     actor,
		Action:    interfaces.AuditAction{Operation: "decision", Status: interfaces.ActionSuccess},
		Target:    interfaces.AuditTarget{ResourceType: "identity_archive", ResourceID: userID},
		Context:   reqCtx,
		Metadata:  interfaces.DecisionMetadata{Decision: decision, Reason: reason},
	}
	if err != nil {
		markFailure(entry, err)
	}
	metrics.RecordVaultOperation("decision", string(entry.Action.Status))
	if recordErr := s.record(ctx, entry); recordErr != nil {
		return nil, recordErr
	}

	return archive, err
}

func (s *Service) finalize(ctx context.Context, actor interfaces.Actor, userID string, decision interfaces.ArchiveStatus, reason string) (*interfaces.IdentityArchive, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", interfaces.ErrValidation)
	}
	if !actor.CanReviewIdentity() {
		return nil, fmt.Errorf("%w: role %s may not decide identity reviews", interfaces.ErrUnauthorized, actor.Role)
	}
	if decision != interfaces.ArchiveVerified && decision != interfaces.ArchiveRejected {
		return nil, fmt.Errorf("%w: decision must be %s or %s", interfaces.ErrValidation, interfaces.ArchiveVerified, interfaces.ArchiveRejected)
	}
	if decision == interfaces.ArchiveRejected && reason == "" {
		return nil, fmt.Errorf("%w: rejection requires a reason", interfaces.ErrValidation)
	}

	archive, err := s.archives.Finalize(ctx, userID, decision, actor.UserID, reason, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.log.Info("Identity archive decided",
		slog.String("archive_id", archive.ID.String()),
		slog.String("user_id", userID),
		slog.String("decision", string(decision)),
		slog.String("reviewer", actor.UserID))

	return archive, nil
}

// Archive returns the member's archive metadata without decrypting
// anything.
func (s *Service) Archive(ctx context.Context, userID string) (*interfaces.IdentityArchive, error) {
	return s.archives.ByUserID(ctx, userID)
}

func (s *Service) record(ctx context.Context, entry *interfaces.AuditLogEntry) error {
	if _, err := s.audit.Record(ctx, entry); err != nil {
		s.log.Error("Vault audit entry failed", "err", err, slog.String("event_type", entry.EventType))
		return err
	}
	return nil
}

// markFailure downgrades a prepared audit entry to the failure outcome
// with a severity matching the error class.
func markFailure(entry *interfaces.AuditLogEntry, err error) {
	entry.Action.Status = interfaces.ActionFailure
	entry.Action.FailureReason = err.Error()
	entry.Severity = severityFor(err)
}

func severityFor(err error) interfaces.AuditSeverity {
	switch {
	case errors.Is(err, interfaces.ErrIntegrity):
		return interfaces.SeverityCritical
	case errors.Is(err, interfaces.ErrKeyUnavailable):
		return interfaces.SeverityError
	case errors.Is(err, interfaces.ErrReviewLocked),
		errors.Is(err, interfaces.ErrUnauthorized),
		errors.Is(err, interfaces.ErrValidation),
		errors.Is(err, interfaces.ErrInvalidTransition):
		return interfaces.SeverityWarning
	default:
		return interfaces.SeverityError
	}
}

func contextFromForensics(f interfaces.ForensicsSnapshot) interfaces.AuditContext {
	return interfaces.AuditContext{
		IP:        f.IP,
		UserAgent: f.UserAgent,
		Device:    f.Device,
		OS:        f.OS,
		Country:   f.Country,
		RequestID: f.RequestID,
	}
}
