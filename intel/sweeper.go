package intel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spacelock/membership-security-backend/interfaces"
	"github.com/spacelock/membership-security-backend/metrics"
)

// Sweeper runs baseline recomputation and anomaly detection on a fixed
// interval, off the request path. A failed sweep is contained: it is
// logged as ErrAnomalyDetection and the next tick runs normally, so a
// detection outage never surfaces to end users.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	log      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper over the engine.
func NewSweeper(engine *Engine, interval time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{
		engine:   engine,
		interval: interval,
		log:      log,
		done:     make(chan struct{}),
	}
}

// RunInBackground starts the sweep loop. The first sweep runs after one
// full interval so startup is not delayed by detection work.
func (s *Sweeper) RunInBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go func() {
		defer close(s.done)

		s.log.Info("Starting intelligence sweeper", slog.Duration("interval", s.interval))
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Shutdown() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.log.Info("Intelligence sweeper stopped")
}

// Sweep runs one baseline recomputation plus anomaly detection pass
// immediately. Exposed for the CLI and tests; the background loop calls
// it on every tick.
func (s *Sweeper) Sweep(ctx context.Context) error {
	if _, err := s.engine.ComputeBaseline(ctx); err != nil {
		metrics.RecordSweep("failure")
		return fmt.Errorf("%w: baseline: %v", interfaces.ErrAnomalyDetection, err)
	}

	flagged, err := s.engine.DetectAnomalies(ctx)
	if err != nil {
		metrics.RecordSweep("failure")
		return fmt.Errorf("%w: detection: %v", interfaces.ErrAnomalyDetection, err)
	}

	if active, err := s.engine.ActiveThreats(ctx); err == nil {
		metrics.SetActiveThreats(len(active))
	}

	metrics.RecordSweep("success")
	if len(flagged) > 0 {
		s.log.Warn("Sweep flagged threats", slog.Int("count", len(flagged)))
	}
	return nil
}

func (s *Sweeper) sweep(ctx context.Context) {
	if err := s.Sweep(ctx); err != nil {
		s.log.Error("Sweep failed", "err", err)
	}
}
