package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spacelock/membership-security-backend/audit"
	"github.com/spacelock/membership-security-backend/intel"
	"github.com/spacelock/membership-security-backend/interfaces"
	"github.com/spacelock/membership-security-backend/vault"
)

// Header constants used in HTTP requests.
const (
	// Actor identity headers. Authentication happens upstream; the edge
	// layer forwards the resolved identity in these headers.
	ActorIDHeader       = "X-Actor-Id"
	ActorUsernameHeader = "X-Actor-Username"
	ActorRoleHeader     = "X-Actor-Role"

	// Client forensics headers.
	FingerprintHeader  = "X-Device-Fingerprint"
	RequestIDHeader    = "X-Request-Id"
	ForwardedForHeader = "X-Forwarded-For"

	// maxBodySize is the maximum allowed request body size (10MB);
	// document scans are image payloads.
	maxBodySize = 10 * 1024 * 1024
)

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

// Handler processes HTTP requests for the membership security core:
// vault uploads and reviews, audit queries and analytics, and threat
// triage.
type Handler struct {
	vault     *vault.Service
	audit     *audit.Logger
	analytics *audit.Analytics
	intel     *intel.Engine
	log       *slog.Logger
}

// NewHandler creates a new HTTP request handler with the specified
// dependencies.
func NewHandler(vaultSvc *vault.Service, auditLog *audit.Logger, analytics *audit.Analytics, engine *intel.Engine, log *slog.Logger) *Handler {
	return &Handler{
		vault:     vaultSvc,
		audit:     auditLog,
		analytics: analytics,
		intel:     engine,
		log:       log,
	}
}

type uploadRequest struct {
	DocumentType string            `json:"documentType"`
	Sides        map[string][]byte `json:"sides"`
}

type uploadResponse struct {
	ArchiveID string `json:"archiveId"`
	Status    string `json:"status"`
}

// HandleUpload processes identity document uploads.
//
// URL format: POST /api/vault/{user_id}/documents
// Request body: {"documentType": "...", "sides": {"front": <base64>, "back": <base64>}}
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		http.Error(w, "Missing user id in URL", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req uploadRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	// Deterministic side order: front before back.
	var sides []vault.DocumentSideUpload
	for _, side := range []interfaces.DocumentSide{interfaces.SideFront, interfaces.SideBack} {
		if data, ok := req.Sides[string(side)]; ok {
			sides = append(sides, vault.DocumentSideUpload{Side: side, Data: data})
		}
	}

	archiveID, err := h.vault.Upload(r.Context(), userID, req.DocumentType, sides, h.forensicsFrom(r))
	if err != nil {
		h.log.Error("Upload failed", "err", err, slog.String("user_id", userID))
		h.writeError(w, err, "Upload failed, please retry")
		return
	}

	h.writeJSON(w, http.StatusCreated, uploadResponse{
		ArchiveID: archiveID.String(),
		Status:    string(interfaces.ArchivePending),
	})
}

// HandleReview decrypts a member's documents for an authorized
// reviewer.
//
// URL format: GET /api/vault/{user_id}/documents
// Required headers: X-Actor-Id, X-Actor-Role (ADMIN or STAFF).
//
// Review failures return a generic message; specifics live only in the
// audit trail.
func (h *Handler) HandleReview(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		http.Error(w, "Missing user id in URL", http.StatusBadRequest)
		return
	}

	actor, err := actorFrom(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.vault.Review(r.Context(), actor, userID, h.auditContextFrom(r))
	if err != nil {
		h.log.Error("Review failed", "err", err,
			slog.String("user_id", userID), slog.String("actor", actor.UserID))
		h.writeError(w, err, "Review unavailable")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

type decisionRequest struct {
	Status interfaces.ArchiveStatus `json:"status"`
	Reason string                   `json:"reason,omitempty"`
}

// HandleDecision applies a terminal review decision.
//
// URL format: POST /api/vault/{user_id}/decision
// Request body: {"status": "VERIFIED"|"REJECTED", "reason": "..."}
func (h *Handler) HandleDecision(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		http.Error(w, "Missing user id in URL", http.StatusBadRequest)
		return
	}

	actor, err := actorFrom(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	archive, err := h.vault.Finalize(r.Context(), actor, userID, req.Status, req.Reason, h.auditContextFrom(r))
	if err != nil {
		h.log.Error("Decision failed", "err", err,
			slog.String("user_id", userID), slog.String("actor", actor.UserID))
		h.writeError(w, err, "Decision failed")
		return
	}

	h.writeJSON(w, http.StatusOK, archive)
}

// HandleAuditQuery serves one page of the audit log.
//
// URL format: GET /api/audit/logs?severity=&status=&page=&limit=
func (h *Handler) HandleAuditQuery(w http.ResponseWriter, r *http.Request) {
	query := interfaces.AuditQuery{
		Severity: interfaces.AuditSeverity(r.URL.Query().Get("severity")),
		Status:   interfaces.ActionStatus(r.URL.Query().Get("status")),
	}
	if page := r.URL.Query().Get("page"); page != "" {
		n, err := strconv.Atoi(page)
		if err != nil || n < 1 {
			http.Error(w, "Invalid page", http.StatusBadRequest)
			return
		}
		query.Page = n
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		query.PageSize = n
	}

	page, err := h.audit.Query(r.Context(), query)
	if err != nil {
		h.log.Error("Audit query failed", "err", err)
		h.writeError(w, err, "Audit query failed")
		return
	}

	h.writeJSON(w, http.StatusOK, page)
}

// HandleAnalytics serves the aggregate dashboard report.
//
// URL format: GET /api/audit/analytics
func (h *Handler) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	report, err := h.analytics.Report(r.Context())
	if err != nil {
		h.log.Error("Analytics report failed", "err", err)
		h.writeError(w, err, "Analytics unavailable")
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

type threatListResponse struct {
	Threats []*interfaces.ThreatRecord `json:"threats"`
}

// HandleThreatList lists ACTIVE threat records.
//
// URL format: GET /api/threats
func (h *Handler) HandleThreatList(w http.ResponseWriter, r *http.Request) {
	threats, err := h.intel.ActiveThreats(r.Context())
	if err != nil {
		h.log.Error("Threat list failed", "err", err)
		h.writeError(w, err, "Threat list unavailable")
		return
	}

	h.writeJSON(w, http.StatusOK, threatListResponse{Threats: threats})
}

type threatResolveRequest struct {
	ThreatID string `json:"threatId"`
}

// HandleThreatResolve marks a threat RESOLVED.
//
// URL format: POST /api/threats/resolve
// Request body: {"threatId": "..."}
func (h *Handler) HandleThreatResolve(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req threatResolveRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		http.Error(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	record, err := h.intel.Resolve(r.Context(), actor, req.ThreatID, h.auditContextFrom(r))
	if err != nil {
		h.log.Error("Threat resolution failed", "err", err, slog.String("threat_id", req.ThreatID))
		h.writeError(w, err, "Threat resolution failed")
		return
	}

	h.writeJSON(w, http.StatusOK, record)
}

// actorFrom parses the pre-resolved actor identity headers.
func actorFrom(r *http.Request) (interfaces.Actor, error) {
	actor := interfaces.Actor{
		UserID:   r.Header.Get(ActorIDHeader),
		Username: r.Header.Get(ActorUsernameHeader),
		Role:     interfaces.Role(r.Header.Get(ActorRoleHeader)),
	}
	if actor.UserID == "" || actor.Role == "" {
		return interfaces.Actor{}, fmt.Errorf("missing actor identity headers")
	}
	return actor, nil
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get(ForwardedForHeader); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) forensicsFrom(r *http.Request) interfaces.ForensicsSnapshot {
	return interfaces.ForensicsSnapshot{
		IP:          clientIP(r),
		UserAgent:   r.UserAgent(),
		Fingerprint: r.Header.Get(FingerprintHeader),
		RequestID:   r.Header.Get(RequestIDHeader),
		Timestamp:   time.Now().UTC(),
	}
}

func (h *Handler) auditContextFrom(r *http.Request) interfaces.AuditContext {
	return interfaces.AuditContext{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: r.Header.Get(RequestIDHeader),
	}
}

// writeError maps the error taxonomy to HTTP status codes. The response
// body carries only the generic message: operational detail, key
// material, and plaintext never leave through the error path.
func (h *Handler) writeError(w http.ResponseWriter, err error, message string) {
	http.Error(w, message, statusForError(err))
}

func statusForError(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode
	}

	switch {
	case errors.Is(err, interfaces.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrReviewLocked), errors.Is(err, interfaces.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrKeyUnavailable), errors.Is(err, interfaces.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
