package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-mail-verifier/internal/domain"
	"github.com/go-mail-verifier/internal/metrics"
	"github.com/go-mail-verifier/internal/pkg/clock"
)

type sweepStore interface {
	ListPending(ctx context.Context, createdBefore time.Time) ([]domain.VerificationRecord, error)
	Resolve(ctx context.Context, address, recordID string, res domain.Resolution) (*domain.VerificationRecord, bool, error)
}

// Sweeper moves pending records older than the waiting window to timed_out.
// It uses the same compare-and-set as evidence, so a bounce that lands
// during a sweep wins or loses cleanly.
type Sweeper struct {
	store    sweepStore
	window   time.Duration
	interval time.Duration
	clock    clock.Clock
}

func NewSweeper(store sweepStore, window, interval time.Duration, clk clock.Clock) *Sweeper {
	if clk == nil {
		clk = clock.Real()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{store: store, window: window, interval: interval, clock: clk}
}

// SweepOnce times out every expired pending record and reports how many moved.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.clock.Now()
	expired, err := s.store.ListPending(ctx, now.Add(-s.window))
	if err != nil {
		return 0, fmt.Errorf("list pending records: %w", err)
	}
	moved := 0
	for _, rec := range expired {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		_, changed, err := s.store.Resolve(ctx, rec.Address, rec.ID, domain.Resolution{
			Stage:  domain.StageTimedOut,
			Source: domain.SourceSweep,
			Detail: fmt.Sprintf("no evidence within %s", s.window),
			At:     now,
		})
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				slog.Warn("failed to time out record", "address", rec.Address, "record_id", rec.ID, "err", err)
			}
			continue
		}
		if changed {
			moved++
			metrics.TimedOutTotal.Inc()
		}
	}
	if moved > 0 {
		slog.Info("timed out pending verifications", "count", moved)
	}
	return moved, nil
}

// Run sweeps every interval until ctx is cancelled. Failures are logged and
// the loop keeps going.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.interval):
		}
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Error("timeout sweep failed", "err", err)
		}
	}
}
