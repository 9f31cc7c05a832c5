package intel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/spacelock/membership-security-backend/interfaces"
)

// EngineConfig tunes the detection thresholds.
type EngineConfig struct {
	// BaselineWindow is the trailing window baselines are computed over.
	BaselineWindow time.Duration

	// DetectionWindow is the trailing window anomaly detection scans.
	DetectionWindow time.Duration

	// StdDevFactor is k in the avg + k*stddev brute-force threshold.
	StdDevFactor float64

	// BruteForceFloor is the absolute per-IP failure count a window must
	// exceed before BRUTE_FORCE fires, so a near-zero baseline cannot
	// flag ordinary typos.
	BruteForceFloor int

	// StuffingUserFloor is the distinct-user count from one IP that
	// flags CREDENTIAL_STUFFING.
	StuffingUserFloor int
}

// DefaultEngineConfig returns production thresholds.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BaselineWindow:    7 * 24 * time.Hour,
		DetectionWindow:   time.Hour,
		StdDevFactor:      3,
		BruteForceFloor:   10,
		StuffingUserFloor: 5,
	}
}

// Engine is the heuristic intelligence layer over the audit log. It
// computes versioned failure baselines and flags per-IP anomalies as
// threat records. It only ever reads the audit log; detection runs
// out-of-band and never sits on the audit write path.
type Engine struct {
	cfg       EngineConfig
	audit     interfaces.AuditStore
	threats   interfaces.ThreatStore
	baselines interfaces.BaselineStore
	logger    interfaces.AuditLogger
	log       *slog.Logger
}

// NewEngine creates the intelligence engine.
func NewEngine(cfg EngineConfig, audit interfaces.AuditStore, threats interfaces.ThreatStore, baselines interfaces.BaselineStore, logger interfaces.AuditLogger, log *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		audit:     audit,
		threats:   threats,
		baselines: baselines,
		logger:    logger,
		log:       log,
	}
}

// ComputeBaseline buckets FAILURE entries by hour over the trailing
// baseline window, computes the mean and population standard deviation
// of failures per hour, and persists the result as a new baseline
// version. Existing baselines are never mutated.
func (e *Engine) ComputeBaseline(ctx context.Context) (*interfaces.SecurityBaseline, error) {
	now := time.Now().UTC()
	from := now.Add(-e.cfg.BaselineWindow)

	buckets, err := e.audit.FailureBuckets(ctx, from, now)
	if err != nil {
		return nil, fmt.Errorf("failure buckets: %w", err)
	}

	avg, stddev := meanAndStdDev(buckets)

	baseline := &interfaces.SecurityBaseline{
		ID:                    uuid.New(),
		AvgFailuresPerHour:    avg,
		StdDevFailuresPerHour: stddev,
		SampleSize:            len(buckets),
		WindowStart:           from,
		WindowEnd:             now,
		CreatedAt:             now,
	}
	if err := e.baselines.Insert(ctx, baseline); err != nil {
		return nil, fmt.Errorf("persisting baseline: %w", err)
	}

	e.log.Info("Security baseline computed",
		slog.Float64("avg_failures_per_hour", avg),
		slog.Float64("stddev", stddev),
		slog.Int("sample_size", baseline.SampleSize))

	return baseline, nil
}

// meanAndStdDev returns the mean and population standard deviation of
// the bucket counts. Empty input yields (0, 0).
func meanAndStdDev(buckets []interfaces.HourBucket) (float64, float64) {
	if len(buckets) == 0 {
		return 0, 0
	}

	var sum float64
	for _, b := range buckets {
		sum += float64(b.Count)
	}
	mean := sum / float64(len(buckets))

	var sq float64
	for _, b := range buckets {
		d := float64(b.Count) - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(buckets)))
}

// DetectAnomalies scans per-IP FAILURE aggregates over the detection
// window against the latest baseline. BRUTE_FORCE fires when an IP's
// failure count exceeds avg + k*stddev and the absolute floor;
// CREDENTIAL_STUFFING fires when failures from one IP spread over at
// least the distinct-user floor. Detections are deduplicated per
// (ip, threatType): an existing ACTIVE record gains evidence instead of
// a duplicate. Each new or reinforced threat is audited.
func (e *Engine) DetectAnomalies(ctx context.Context) ([]*interfaces.ThreatRecord, error) {
	baseline, err := e.baselines.Latest(ctx)
	if errors.Is(err, interfaces.ErrNotFound) {
		// No baseline yet; the absolute floors still apply.
		baseline = &interfaces.SecurityBaseline{}
	} else if err != nil {
		return nil, fmt.Errorf("loading baseline: %w", err)
	}

	now := time.Now().UTC()
	stats, err := e.audit.FailuresByIP(ctx, now.Add(-e.cfg.DetectionWindow), now)
	if err != nil {
		return nil, fmt.Errorf("failures by ip: %w", err)
	}

	threshold := baseline.AvgFailuresPerHour + e.cfg.StdDevFactor*baseline.StdDevFailuresPerHour

	var flagged []*interfaces.ThreatRecord
	for _, stat := range stats {
		if stat.Failures > e.cfg.BruteForceFloor && float64(stat.Failures) > threshold {
			record, err := e.raise(ctx, stat, interfaces.ThreatBruteForce, threshold, now)
			if err != nil {
				return flagged, err
			}
			flagged = append(flagged, record)
		}

		if stat.DistinctUsers >= e.cfg.StuffingUserFloor {
			record, err := e.raise(ctx, stat, interfaces.ThreatCredentialStuffing, float64(e.cfg.StuffingUserFloor), now)
			if err != nil {
				return flagged, err
			}
			flagged = append(flagged, record)
		}
	}

	return flagged, nil
}

func (e *Engine) raise(ctx context.Context, stat interfaces.IPFailureStat, threatType interfaces.ThreatType, threshold float64, now time.Time) (*interfaces.ThreatRecord, error) {
	record, err := e.threats.Upsert(ctx, &interfaces.ThreatRecord{
		ID:            uuid.New(),
		IPAddress:     stat.IP,
		Type:          threatType,
		Severity:      interfaces.SeverityCritical,
		Status:        interfaces.ThreatActive,
		EvidenceCount: 1,
		FirstDetected: now,
		LastDetected:  now,
		Metadata: interfaces.GenericMetadata{
			"failures":      fmt.Sprintf("%d", stat.Failures),
			"distinctUsers": fmt.Sprintf("%d", stat.DistinctUsers),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("upserting threat for %s: %w", stat.IP, err)
	}

	e.log.Warn("Threat detected",
		slog.String("threat_id", record.ID.String()),
		slog.String("ip", stat.IP),
		slog.String("type", string(threatType)),
		slog.Int("failures", stat.Failures),
		slog.Int("evidence_count", record.EvidenceCount))

	_, err = e.logger.Record(ctx, &interfaces.AuditLogEntry{
		EventType: interfaces.EventThreatDetected,
		Severity:  interfaces.SeverityCritical,
		Action:    interfaces.AuditAction{Operation: "detect", Status: interfaces.ActionSuccess},
		Target:    interfaces.AuditTarget{ResourceType: "threat_record", ResourceID: record.ID.String()},
		Context:   interfaces.AuditContext{IP: stat.IP},
		Metadata: interfaces.ThreatMetadata{
			ThreatType:   threatType,
			IPAddress:    stat.IP,
			FailureCount: stat.Failures,
			Threshold:    threshold,
		},
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// Resolve transitions a threat to RESOLVED and audits the decision.
// Resolution is terminal: a later detection for the same (ip, type)
// opens a fresh ACTIVE record rather than reviving this one.
func (e *Engine) Resolve(ctx context.Context, actor interfaces.Actor, threatID string, reqCtx interfaces.AuditContext) (*interfaces.ThreatRecord, error) {
	record, err := e.resolve(ctx, actor, threatID)

	entry := &interfaces.AuditLogEntry{
		EventType: interfaces.EventThreatResolved,
		Actor:     actor,
		Action:    interfaces.AuditAction{Operation: "resolve", Status: interfaces.ActionSuccess},
		Target:    interfaces.AuditTarget{ResourceType: "threat_record", ResourceID: threatID},
		Context:   reqCtx,
	}
	if err != nil {
		entry.Action.Status = interfaces.ActionFailure
		entry.Action.FailureReason = err.Error()
		entry.Severity = interfaces.SeverityWarning
	} else {
		entry.Metadata = interfaces.ThreatMetadata{ThreatType: record.Type, IPAddress: record.IPAddress}
	}
	if recordErr := e.record(ctx, entry); recordErr != nil {
		return nil, recordErr
	}

	return record, err
}

func (e *Engine) resolve(ctx context.Context, actor interfaces.Actor, threatID string) (*interfaces.ThreatRecord, error) {
	if threatID == "" {
		return nil, fmt.Errorf("%w: threat id is required", interfaces.ErrValidation)
	}
	if !actor.CanReviewIdentity() {
		return nil, fmt.Errorf("%w: role %s may not resolve threats", interfaces.ErrUnauthorized, actor.Role)
	}

	return e.threats.Resolve(ctx, threatID, actor.UserID, time.Now().UTC())
}

// ActiveThreats lists the currently ACTIVE records.
func (e *Engine) ActiveThreats(ctx context.Context) ([]*interfaces.ThreatRecord, error) {
	return e.threats.ListActive(ctx)
}

func (e *Engine) record(ctx context.Context, entry *interfaces.AuditLogEntry) error {
	if _, err := e.logger.Record(ctx, entry); err != nil {
		e.log.Error("Intel audit entry failed", "err", err, slog.String("event_type", entry.EventType))
		return err
	}
	return nil
}
