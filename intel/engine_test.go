package intel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacelock/membership-security-backend/interfaces"
)

type fakeAuditStore struct {
	buckets    []interfaces.HourBucket
	ipStats    []interfaces.IPFailureStat
	bucketsErr error
	statsErr   error
}

func (s *fakeAuditStore) Insert(ctx context.Context, entry *interfaces.AuditLogEntry) error {
	return nil
}

func (s *fakeAuditStore) Query(ctx context.Context, q interfaces.AuditQuery) (*interfaces.AuditPage, error) {
	return &interfaces.AuditPage{}, nil
}

func (s *fakeAuditStore) FailureBuckets(ctx context.Context, from, to time.Time) ([]interfaces.HourBucket, error) {
	return s.buckets, s.bucketsErr
}

func (s *fakeAuditStore) FailuresByIP(ctx context.Context, from, to time.Time) ([]interfaces.IPFailureStat, error) {
	return s.ipStats, s.statsErr
}

func (s *fakeAuditStore) TopFailingIPs(ctx context.Context, since time.Time, limit int) ([]interfaces.IPFailureStat, error) {
	return nil, nil
}

func (s *fakeAuditStore) SeverityCounts(ctx context.Context, since time.Time) ([]interfaces.SeverityCount, error) {
	return nil, nil
}

func (s *fakeAuditStore) EventTypeCounts(ctx context.Context, since time.Time) ([]interfaces.EventTypeCount, error) {
	return nil, nil
}

func (s *fakeAuditStore) StatusRatio(ctx context.Context, since time.Time) (int, int, error) {
	return 0, 0, nil
}

func (s *fakeAuditStore) DailyCounts(ctx context.Context, since time.Time) ([]interfaces.DayBucket, error) {
	return nil, nil
}

// memThreatStore implements the ACTIVE (ip, type) dedup contract in
// memory.
type memThreatStore struct {
	mu      sync.Mutex
	records []*interfaces.ThreatRecord
}

func (s *memThreatStore) Upsert(ctx context.Context, record *interfaces.ThreatRecord) (*interfaces.ThreatRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.Status == interfaces.ThreatActive && existing.IPAddress == record.IPAddress && existing.Type == record.Type {
			existing.EvidenceCount++
			existing.LastDetected = record.LastDetected
			existing.Severity = record.Severity
			clone := *existing
			return &clone, nil
		}
	}

	clone := *record
	clone.EvidenceCount = 1
	clone.Status = interfaces.ThreatActive
	s.records = append(s.records, &clone)
	out := clone
	return &out, nil
}

func (s *memThreatStore) Resolve(ctx context.Context, threatID, resolvedBy string, at time.Time) (*interfaces.ThreatRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.ID.String() == threatID && existing.Status == interfaces.ThreatActive {
			existing.Status = interfaces.ThreatResolved
			existing.ResolvedBy = resolvedBy
			existing.ResolvedAt = &at
			clone := *existing
			return &clone, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (s *memThreatStore) ListActive(ctx context.Context) ([]*interfaces.ThreatRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active []*interfaces.ThreatRecord
	for _, r := range s.records {
		if r.Status == interfaces.ThreatActive {
			clone := *r
			active = append(active, &clone)
		}
	}
	return active, nil
}

type memBaselineStore struct {
	mu        sync.Mutex
	baselines []*interfaces.SecurityBaseline
}

func (s *memBaselineStore) Insert(ctx context.Context, baseline *interfaces.SecurityBaseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *baseline
	s.baselines = append(s.baselines, &clone)
	return nil
}

func (s *memBaselineStore) Latest(ctx context.Context) (*interfaces.SecurityBaseline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.baselines) == 0 {
		return nil, interfaces.ErrNotFound
	}
	clone := *s.baselines[len(s.baselines)-1]
	return &clone, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []*interfaces.AuditLogEntry
}

func (a *recordingAudit) Record(ctx context.Context, entry *interfaces.AuditLogEntry) (*interfaces.AuditLogEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	clone := *entry
	a.entries = append(a.entries, &clone)
	return entry, nil
}

func (a *recordingAudit) byType(eventType string) []*interfaces.AuditLogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*interfaces.AuditLogEntry
	for _, e := range a.entries {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestEngine(store *fakeAuditStore) (*Engine, *memThreatStore, *memBaselineStore, *recordingAudit) {
	threats := &memThreatStore{}
	baselines := &memBaselineStore{}
	audit := &recordingAudit{}
	engine := NewEngine(DefaultEngineConfig(), store, threats, baselines, audit,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return engine, threats, baselines, audit
}

func TestComputeBaselineFromHourlyBuckets(t *testing.T) {
	hour := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeAuditStore{buckets: []interfaces.HourBucket{
		{Hour: hour, Count: 1},
		{Hour: hour.Add(time.Hour), Count: 2},
		{Hour: hour.Add(2 * time.Hour), Count: 3},
	}}
	engine, _, baselines, _ := newTestEngine(store)

	baseline, err := engine.ComputeBaseline(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 2.0, baseline.AvgFailuresPerHour, 1e-9)
	assert.InDelta(t, 0.8164965809, baseline.StdDevFailuresPerHour, 1e-9)
	assert.Equal(t, 3, baseline.SampleSize)

	latest, err := baselines.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, baseline.ID, latest.ID)
}

func TestBaselineSampleSizeGrowsWithWindow(t *testing.T) {
	hour := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	subset := []interfaces.HourBucket{{Hour: hour, Count: 4}}
	superset := append(append([]interfaces.HourBucket(nil), subset...),
		interfaces.HourBucket{Hour: hour.Add(time.Hour), Count: 1})

	store := &fakeAuditStore{buckets: subset}
	engine, _, _, _ := newTestEngine(store)

	small, err := engine.ComputeBaseline(context.Background())
	require.NoError(t, err)

	store.buckets = superset
	large, err := engine.ComputeBaseline(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, large.SampleSize, small.SampleSize)
}

func TestDetectAnomaliesFlagsBruteForce(t *testing.T) {
	store := &fakeAuditStore{ipStats: []interfaces.IPFailureStat{
		{IP: "203.0.113.5", Failures: 50, DistinctUsers: 1},
		{IP: "198.51.100.2", Failures: 3, DistinctUsers: 1},
	}}
	engine, threats, baselines, audit := newTestEngine(store)

	require.NoError(t, baselines.Insert(context.Background(), &interfaces.SecurityBaseline{
		ID:                    uuid.New(),
		AvgFailuresPerHour:    2,
		StdDevFailuresPerHour: 1,
		SampleSize:            168,
	}))

	flagged, err := engine.DetectAnomalies(context.Background())
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "203.0.113.5", flagged[0].IPAddress)
	assert.Equal(t, interfaces.ThreatBruteForce, flagged[0].Type)
	assert.Equal(t, 1, flagged[0].EvidenceCount)

	active, err := threats.ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, 1)

	detections := audit.byType(interfaces.EventThreatDetected)
	require.Len(t, detections, 1)
	assert.Equal(t, interfaces.SeverityCritical, detections[0].Severity)
	meta, ok := detections[0].Metadata.(interfaces.ThreatMetadata)
	require.True(t, ok)
	assert.Equal(t, 50, meta.FailureCount)
}

func TestDetectAnomaliesDeduplicatesActiveThreats(t *testing.T) {
	store := &fakeAuditStore{ipStats: []interfaces.IPFailureStat{
		{IP: "203.0.113.5", Failures: 50, DistinctUsers: 1},
	}}
	engine, threats, _, _ := newTestEngine(store)

	_, err := engine.DetectAnomalies(context.Background())
	require.NoError(t, err)
	_, err = engine.DetectAnomalies(context.Background())
	require.NoError(t, err)

	active, err := threats.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 2, active[0].EvidenceCount)
}

func TestDetectAnomaliesRespectsAbsoluteFloor(t *testing.T) {
	// Near-zero baseline: threshold alone would flag almost anything.
	store := &fakeAuditStore{ipStats: []interfaces.IPFailureStat{
		{IP: "198.51.100.2", Failures: 4, DistinctUsers: 1},
	}}
	engine, _, baselines, _ := newTestEngine(store)

	require.NoError(t, baselines.Insert(context.Background(), &interfaces.SecurityBaseline{
		ID: uuid.New(),
	}))

	flagged, err := engine.DetectAnomalies(context.Background())
	require.NoError(t, err)
	assert.Empty(t, flagged)
}

func TestDetectAnomaliesFlagsCredentialStuffing(t *testing.T) {
	store := &fakeAuditStore{ipStats: []interfaces.IPFailureStat{
		{IP: "203.0.113.9", Failures: 8, DistinctUsers: 6},
	}}
	engine, _, _, audit := newTestEngine(store)

	flagged, err := engine.DetectAnomalies(context.Background())
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, interfaces.ThreatCredentialStuffing, flagged[0].Type)
	assert.Len(t, audit.byType(interfaces.EventThreatDetected), 1)
}

func TestResolveIsTerminalAndAudited(t *testing.T) {
	store := &fakeAuditStore{ipStats: []interfaces.IPFailureStat{
		{IP: "203.0.113.5", Failures: 50, DistinctUsers: 1},
	}}
	engine, _, _, audit := newTestEngine(store)
	admin := interfaces.Actor{UserID: "admin-1", Role: interfaces.RoleAdmin}

	flagged, err := engine.DetectAnomalies(context.Background())
	require.NoError(t, err)
	require.Len(t, flagged, 1)

	resolved, err := engine.Resolve(context.Background(), admin, flagged[0].ID.String(), interfaces.AuditContext{})
	require.NoError(t, err)
	assert.Equal(t, interfaces.ThreatResolved, resolved.Status)
	assert.Equal(t, "admin-1", resolved.ResolvedBy)

	_, err = engine.Resolve(context.Background(), admin, flagged[0].ID.String(), interfaces.AuditContext{})
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	require.Len(t, audit.byType(interfaces.EventThreatResolved), 2)

	// A fresh detection for the same (ip, type) opens a new record.
	reflagged, err := engine.DetectAnomalies(context.Background())
	require.NoError(t, err)
	require.Len(t, reflagged, 1)
	assert.NotEqual(t, flagged[0].ID, reflagged[0].ID)
	assert.Equal(t, 1, reflagged[0].EvidenceCount)
}

func TestResolveRequiresCapability(t *testing.T) {
	engine, _, _, _ := newTestEngine(&fakeAuditStore{})
	member := interfaces.Actor{UserID: "member-1", Role: interfaces.RoleMember}

	_, err := engine.Resolve(context.Background(), member, uuid.New().String(), interfaces.AuditContext{})
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
}

func TestSweepContainsFailures(t *testing.T) {
	store := &fakeAuditStore{bucketsErr: errors.New("disk on fire")}
	engine, _, _, _ := newTestEngine(store)
	sweeper := NewSweeper(engine, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := sweeper.Sweep(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrAnomalyDetection)
}
