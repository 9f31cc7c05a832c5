package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacelock/membership-security-backend/audit"
	"github.com/spacelock/membership-security-backend/intel"
	"github.com/spacelock/membership-security-backend/interfaces"
	"github.com/spacelock/membership-security-backend/keymaterial"
	"github.com/spacelock/membership-security-backend/storage"
	"github.com/spacelock/membership-security-backend/store"
	"github.com/spacelock/membership-security-backend/vault"
)

type testEnv struct {
	router http.Handler
	store  *store.Store
	logger *audit.Logger
	engine *intel.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	blobs, err := storage.NewFileBackend(t.TempDir(), log)
	require.NoError(t, err)

	keys, err := keymaterial.NewSimpleProvider(bytes.Repeat([]byte{7}, 32), []byte("test-pepper"))
	require.NoError(t, err)

	logger := audit.NewLogger(st.Audit, log).WithRetry(2, time.Millisecond)
	analytics := audit.NewAnalytics(st.Audit, st.Baselines, log)
	engine := intel.NewEngine(intel.DefaultEngineConfig(), st.Audit, st.Threats, st.Baselines, logger, log)

	vaultSvc := vault.NewService(vault.ServiceConfig{
		Keys:     keys,
		Archives: st.Archives,
		Blobs:    blobs,
		Audit:    logger,
		Locker:   vault.NewMemoryLocker(50 * time.Millisecond),
		Log:      log,
	})

	handler := NewHandler(vaultSvc, logger, analytics, engine, log)
	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      log,
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
		ReadTimeout:              time.Second,
		WriteTimeout:             time.Second,
	}, handler)
	require.NoError(t, err)

	return &testEnv{router: srv.getRouter(), store: st, logger: logger, engine: engine}
}

func (env *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:44822"
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func staffHeaders() map[string]string {
	return map[string]string{
		ActorIDHeader:       "staff-1",
		ActorUsernameHeader: "staff",
		ActorRoleHeader:     "STAFF",
	}
}

func TestUploadReviewDecisionFlow(t *testing.T) {
	env := newTestEnv(t)

	front := []byte("front scan bytes")
	back := []byte("back scan bytes")

	rec := env.do(t, http.MethodPost, "/api/vault/member-1/documents", uploadRequest{
		DocumentType: "national_id",
		Sides:        map[string][]byte{"front": front, "back": back},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var uploaded uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploaded))
	assert.NotEmpty(t, uploaded.ArchiveID)
	assert.Equal(t, "PENDING", uploaded.Status)

	// Review without actor identity is rejected outright.
	rec = env.do(t, http.MethodGet, "/api/vault/member-1/documents", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Members cannot review.
	rec = env.do(t, http.MethodGet, "/api/vault/member-1/documents", nil, map[string]string{
		ActorIDHeader:   "member-2",
		ActorRoleHeader: "MEMBER",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/vault/member-1/documents", nil, staffHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var review vault.ReviewResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &review))
	require.Len(t, review.Sides, 2)
	assert.Equal(t, front, review.Sides[0].Data)
	assert.Equal(t, back, review.Sides[1].Data)
	assert.Equal(t, interfaces.ArchivePending, review.Status)

	rec = env.do(t, http.MethodPost, "/api/vault/member-1/decision", decisionRequest{
		Status: interfaces.ArchiveVerified,
	}, staffHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var archive interfaces.IdentityArchive
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &archive))
	assert.Equal(t, interfaces.ArchiveVerified, archive.Status)

	// The decision is terminal.
	rec = env.do(t, http.MethodPost, "/api/vault/member-1/decision", decisionRequest{
		Status: interfaces.ArchiveRejected,
		Reason: "second thoughts",
	}, staffHeaders())
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Rejection without a reason is invalid input.
	rec = env.do(t, http.MethodPost, "/api/vault/member-2/decision", decisionRequest{
		Status: interfaces.ArchiveRejected,
	}, staffHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRejectsEmptyBody(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/vault/member-1/documents", uploadRequest{
		DocumentType: "national_id",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReviewUnknownUserIs404(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/vault/ghost/documents", nil, staffHeaders())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	// The body stays generic; specifics live in the audit trail.
	assert.Contains(t, rec.Body.String(), "Review unavailable")
}

func seedAuditEntries(t *testing.T, env *testEnv, n int, status interfaces.ActionStatus) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := env.logger.Record(context.Background(), &interfaces.AuditLogEntry{
			EventType: interfaces.EventAuthLogin,
			Severity:  interfaces.SeverityInfo,
			Actor:     interfaces.Actor{UserID: fmt.Sprintf("member-%d", i), Role: interfaces.RoleMember},
			Action:    interfaces.AuditAction{Operation: "login", Status: status},
			Context:   interfaces.AuditContext{IP: "198.51.100.1"},
		})
		require.NoError(t, err)
	}
}

func TestAuditQueryPagination(t *testing.T) {
	env := newTestEnv(t)
	seedAuditEntries(t, env, 7, interfaces.ActionSuccess)

	rec := env.do(t, http.MethodGet, "/api/audit/logs?page=2&limit=3", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var page interfaces.AuditPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 7, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 2, page.Page)
	assert.Len(t, page.Entries, 3)

	rec = env.do(t, http.MethodGet, "/api/audit/logs?page=3&limit=3", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Entries, 1)

	rec = env.do(t, http.MethodGet, "/api/audit/logs?page=zero", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditQueryFiltersByStatus(t *testing.T) {
	env := newTestEnv(t)
	seedAuditEntries(t, env, 4, interfaces.ActionSuccess)
	seedAuditEntries(t, env, 2, interfaces.ActionFailure)

	rec := env.do(t, http.MethodGet, "/api/audit/logs?status=FAILURE", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page interfaces.AuditPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
	for _, entry := range page.Entries {
		assert.Equal(t, interfaces.ActionFailure, entry.Action.Status)
	}
}

func TestAnalyticsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	seedAuditEntries(t, env, 3, interfaces.ActionSuccess)
	seedAuditEntries(t, env, 1, interfaces.ActionFailure)

	rec := env.do(t, http.MethodGet, "/api/audit/analytics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report audit.AnalyticsReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 3, report.SuccessCount)
	assert.Equal(t, 1, report.FailureCount)
	assert.Equal(t, 4, report.CategoryVolume["auth"])
}

func TestThreatListAndResolve(t *testing.T) {
	env := newTestEnv(t)

	now := time.Now().UTC()
	seeded, err := env.store.Threats.Upsert(context.Background(), &interfaces.ThreatRecord{
		ID:            uuid.New(),
		IPAddress:     "203.0.113.5",
		Type:          interfaces.ThreatBruteForce,
		Severity:      interfaces.SeverityCritical,
		Status:        interfaces.ThreatActive,
		EvidenceCount: 1,
		FirstDetected: now,
		LastDetected:  now,
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/threats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed threatListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Threats, 1)
	assert.Equal(t, "203.0.113.5", listed.Threats[0].IPAddress)

	rec = env.do(t, http.MethodPost, "/api/threats/resolve", threatResolveRequest{
		ThreatID: seeded.ID.String(),
	}, staffHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resolved interfaces.ThreatRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resolved))
	assert.Equal(t, interfaces.ThreatResolved, resolved.Status)

	rec = env.do(t, http.MethodGet, "/api/threats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Empty(t, listed.Threats)

	// Resolution is terminal.
	rec = env.do(t, http.MethodPost, "/api/threats/resolve", threatResolveRequest{
		ThreatID: seeded.ID.String(),
	}, staffHeaders())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndDrainEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/livez", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/drain", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodGet, "/undrain", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
