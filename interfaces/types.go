package interfaces

import (
	"time"

	"github.com/google/uuid"
)

// Role is the pre-resolved platform role of an acting user. Session and
// credential handling happen upstream; this service only consumes the
// resolved identity.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleStaff  Role = "STAFF"
	RoleMember Role = "MEMBER"
)

// Actor identifies who performed a privileged operation.
type Actor struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// CanReviewIdentity reports whether the actor may decrypt and review
// member identity documents.
func (a Actor) CanReviewIdentity() bool {
	return a.Role == RoleAdmin || a.Role == RoleStaff
}

// DocumentSide distinguishes the scanned faces of an identity document.
type DocumentSide string

const (
	SideFront DocumentSide = "front"
	SideBack  DocumentSide = "back"
)

// ForensicsSnapshot captures request metadata attached to a
// security-relevant event for later investigation.
type ForensicsSnapshot struct {
	IP          string    `json:"ip"`
	UserAgent   string    `json:"userAgent"`
	Fingerprint string    `json:"fingerprint"`
	RequestID   string    `json:"requestId"`
	Device      string    `json:"device,omitempty"`
	OS          string    `json:"os,omitempty"`
	Country     string    `json:"country,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ArchiveStatus is the review state of an identity archive.
// PENDING transitions exactly once, to VERIFIED or REJECTED.
type ArchiveStatus string

const (
	ArchivePending  ArchiveStatus = "PENDING"
	ArchiveVerified ArchiveStatus = "VERIFIED"
	ArchiveRejected ArchiveStatus = "REJECTED"
)

// SealedSide is one encrypted document side. The ciphertext (with its
// authentication tag appended) lives in a blob backend under BlobID;
// only the nonce is persisted alongside the archive row. Plaintext is
// never stored anywhere.
type SealedSide struct {
	Side   DocumentSide `json:"side"`
	Nonce  []byte       `json:"nonce"`
	BlobID ContentID    `json:"blobId"`
}

// IdentityArchive is an uploaded set of encrypted identity document
// sides awaiting (or past) admin review.
type IdentityArchive struct {
	ID              uuid.UUID         `json:"id"`
	UserID          string            `json:"userId"`
	DocumentType    string            `json:"documentType"`
	Sides           []SealedSide      `json:"sides"`
	Forensics       ForensicsSnapshot `json:"forensics"`
	Status          ArchiveStatus     `json:"status"`
	ReviewedBy      string            `json:"reviewedBy,omitempty"`
	ReviewedAt      *time.Time        `json:"reviewedAt,omitempty"`
	RejectionReason string            `json:"rejectionReason,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// AuditSeverity classifies audit entries for filtering and alerting.
type AuditSeverity string

const (
	SeverityDebug    AuditSeverity = "DEBUG"
	SeverityInfo     AuditSeverity = "INFO"
	SeverityWarning  AuditSeverity = "WARNING"
	SeverityError    AuditSeverity = "ERROR"
	SeverityCritical AuditSeverity = "CRITICAL"
)

// ActionStatus is the outcome of the audited operation.
type ActionStatus string

const (
	ActionSuccess ActionStatus = "SUCCESS"
	ActionFailure ActionStatus = "FAILURE"
)

// Event types emitted by this service. External subsystems (login,
// terminal access) append their own types; the audit store treats the
// type as an opaque category.
const (
	EventVaultUpload    = "vault.upload"
	EventVaultReview    = "vault.review"
	EventVaultDecision  = "vault.decision"
	EventThreatDetected = "threat.detected"
	EventThreatResolved = "threat.resolved"
	EventAuthLogin      = "auth.login"
)

// AuditAction describes what was attempted and how it ended.
type AuditAction struct {
	Operation     string       `json:"operation"`
	Status        ActionStatus `json:"status"`
	FailureReason string       `json:"failureReason,omitempty"`
}

// AuditTarget identifies the resource the operation acted on.
type AuditTarget struct {
	ResourceType string `json:"resourceType"`
	ResourceID   string `json:"resourceId,omitempty"`
}

// AuditContext is the request environment the operation ran in.
type AuditContext struct {
	IP        string `json:"ip"`
	UserAgent string `json:"userAgent,omitempty"`
	Device    string `json:"device,omitempty"`
	OS        string `json:"os,omitempty"`
	Country   string `json:"country,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// AuditForensics carries the client fingerprint material.
type AuditForensics struct {
	Fingerprint string `json:"fingerprint,omitempty"`
	BundleID    string `json:"bundleId,omitempty"`
}

// EventMetadata is the typed per-event payload of an audit entry.
// Each known event type has its own schema; GenericMetadata is the
// forward-compatible fallback for types this service does not know.
type EventMetadata interface {
	// MetadataSchema returns the schema discriminator persisted with
	// the payload so readers can decode it back into the right type.
	MetadataSchema() string
}

// UploadMetadata describes a vault upload event.
type UploadMetadata struct {
	DocumentType string `json:"documentType"`
	SideCount    int    `json:"sideCount"`
}

func (UploadMetadata) MetadataSchema() string { return "vault.upload.v1" }

// ReviewMetadata describes an admin PII review event.
type ReviewMetadata struct {
	TargetUserID  string `json:"targetUserId"`
	SidesReturned int    `json:"sidesReturned"`
}

func (ReviewMetadata) MetadataSchema() string { return "vault.review.v1" }

// DecisionMetadata describes a terminal archive decision.
type DecisionMetadata struct {
	Decision ArchiveStatus `json:"decision"`
	Reason   string        `json:"reason,omitempty"`
}

func (DecisionMetadata) MetadataSchema() string { return "vault.decision.v1" }

// ThreatMetadata describes a threat detection or resolution event.
type ThreatMetadata struct {
	ThreatType   ThreatType `json:"threatType"`
	IPAddress    string     `json:"ipAddress,omitempty"`
	FailureCount int        `json:"failureCount,omitempty"`
	Threshold    float64    `json:"threshold,omitempty"`
}

func (ThreatMetadata) MetadataSchema() string { return "threat.v1" }

// GenericMetadata holds structured metadata for event types without a
// dedicated schema.
type GenericMetadata map[string]string

func (GenericMetadata) MetadataSchema() string { return "generic.v1" }

// AuditLogEntry is one immutable record in the forensic audit log.
// Entries are append-only; no update or delete operation exists.
type AuditLogEntry struct {
	ID        uuid.UUID      `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"eventType"`
	Severity  AuditSeverity  `json:"severity"`
	Actor     Actor          `json:"actor"`
	Action    AuditAction    `json:"action"`
	Target    AuditTarget    `json:"target"`
	Context   AuditContext   `json:"context"`
	Forensics AuditForensics `json:"forensics"`
	Metadata  EventMetadata  `json:"metadata,omitempty"`
}

// SecurityBaseline is a versioned, immutable statistical snapshot of
// normal failure volume. Recomputation writes a new row; readers never
// observe a half-updated baseline.
type SecurityBaseline struct {
	ID                    uuid.UUID `json:"id"`
	AvgFailuresPerHour    float64   `json:"avgFailuresPerHour"`
	StdDevFailuresPerHour float64   `json:"stdDevFailuresPerHour"`
	SampleSize            int       `json:"sampleSize"`
	WindowStart           time.Time `json:"windowStart"`
	WindowEnd             time.Time `json:"windowEnd"`
	CreatedAt             time.Time `json:"createdAt"`
}

// ThreatType classifies a detected anomaly.
type ThreatType string

const (
	ThreatBruteForce         ThreatType = "BRUTE_FORCE"
	ThreatCredentialStuffing ThreatType = "CREDENTIAL_STUFFING"
	ThreatAnomalousMovement  ThreatType = "ANOMALOUS_MOVEMENT"
)

// ThreatStatus is the review state of a threat record.
type ThreatStatus string

const (
	ThreatActive   ThreatStatus = "ACTIVE"
	ThreatResolved ThreatStatus = "RESOLVED"
)

// ThreatRecord is a reviewable finding raised by the intelligence
// engine. At most one ACTIVE record exists per (ipAddress, threatType);
// repeated detections increment EvidenceCount on the existing record.
type ThreatRecord struct {
	ID            uuid.UUID       `json:"id"`
	IPAddress     string          `json:"ipAddress"`
	Type          ThreatType      `json:"threatType"`
	Severity      AuditSeverity   `json:"severity"`
	Status        ThreatStatus    `json:"status"`
	EvidenceCount int             `json:"evidenceCount"`
	FirstDetected time.Time       `json:"firstDetected"`
	LastDetected  time.Time       `json:"lastDetected"`
	UserID        string          `json:"userId,omitempty"`
	Metadata      GenericMetadata `json:"metadata,omitempty"`
	ResolvedBy    string          `json:"resolvedBy,omitempty"`
	ResolvedAt    *time.Time      `json:"resolvedAt,omitempty"`
}
