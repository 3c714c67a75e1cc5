// Package bounce turns deliverability signals into record resolutions.
// Signals arrive from the SNS webhook and from scans of the probe mailbox;
// both feed the same Correlator.
package bounce

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/go-mail-verifier/internal/domain"
	"github.com/go-mail-verifier/internal/metrics"
	"github.com/go-mail-verifier/internal/pkg/clock"
	"github.com/go-mail-verifier/internal/pkg/id"
)

const maxDetailLen = 512

// Correlation results.
const (
	ResultResolved = "resolved"
	ResultNoop     = "noop"
	ResultMismatch = "mismatch"
)

// Correlation reports what one piece of evidence did.
type Correlation struct {
	Result string
	Record *domain.VerificationRecord
	Reason error // set to a domain.ErrCorrelationMismatch wrap on mismatch
}

// EvidenceSink accepts BounceEvidence from any intake.
type EvidenceSink interface {
	Accept(ctx context.Context, ev domain.BounceEvidence) (*Correlation, error)
}

type correlatorStore interface {
	Get(ctx context.Context, address string) (*domain.VerificationRecord, error)
	GetByID(ctx context.Context, recordID string) (*domain.VerificationRecord, error)
	GetByProbeMessageID(ctx context.Context, messageID string) (*domain.VerificationRecord, error)
	Resolve(ctx context.Context, address, recordID string, res domain.Resolution) (*domain.VerificationRecord, bool, error)
}

// Correlator resolves pending records from evidence, at most once per record.
type Correlator struct {
	store correlatorStore
	clock clock.Clock
}

func NewCorrelator(store correlatorStore, clk clock.Clock) *Correlator {
	if clk == nil {
		clk = clock.Real()
	}
	return &Correlator{store: store, clock: clk}
}

// Accept finds the record the evidence belongs to (by address, then probe
// message id, then probe token) and resolves it. Evidence that matches no
// pending record is logged and counted; it is not an error. Only store
// failures are returned.
func (c *Correlator) Accept(ctx context.Context, ev domain.BounceEvidence) (*Correlation, error) {
	rec, err := c.find(ctx, ev)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return c.mismatch(ev, nil, "no record for evidence"), nil
	}
	if stale(ev, rec) {
		return c.mismatch(ev, rec, "evidence belongs to an earlier probe"), nil
	}
	if !rec.IsPending() {
		return c.noop(ev, rec), nil
	}

	stage := domain.StageConfirmedBouncing
	if ev.Kind == domain.EvidenceDelivery {
		stage = domain.StageConfirmedDeliverable
	}
	updated, changed, err := c.store.Resolve(ctx, rec.Address, rec.ID, domain.Resolution{
		Stage:  stage,
		Source: ev.Source,
		Detail: truncate(ev.RawSignal, maxDetailLen),
		At:     c.clock.Now(),
	})
	if errors.Is(err, domain.ErrNotFound) {
		return c.mismatch(ev, rec, "record superseded during correlation"), nil
	}
	if err != nil {
		return nil, err
	}
	if !changed {
		return c.noop(ev, updated), nil
	}

	metrics.EvidenceTotal.WithLabelValues(string(ev.Source), ResultResolved).Inc()
	slog.Info("verification resolved",
		"address", updated.Address,
		"record_id", updated.ID,
		"stage", updated.Stage,
		"source", ev.Source,
	)
	return &Correlation{Result: ResultResolved, Record: updated}, nil
}

func (c *Correlator) find(ctx context.Context, ev domain.BounceEvidence) (*domain.VerificationRecord, error) {
	lookups := []func() (*domain.VerificationRecord, error){}
	if ev.RecipientAddress != "" {
		addr := domain.NormalizeAddress(ev.RecipientAddress)
		lookups = append(lookups, func() (*domain.VerificationRecord, error) { return c.store.Get(ctx, addr) })
	}
	if ev.ProbeMessageID != "" {
		lookups = append(lookups, func() (*domain.VerificationRecord, error) { return c.store.GetByProbeMessageID(ctx, ev.ProbeMessageID) })
	}
	if id.Valid(ev.ProbeToken) {
		lookups = append(lookups, func() (*domain.VerificationRecord, error) { return c.store.GetByID(ctx, ev.ProbeToken) })
	}
	for _, lookup := range lookups {
		rec, err := lookup()
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// stale reports evidence that names a different probe than the record's
// current one, such as a late bounce for a superseded probe. A token is
// authoritative. Without one, message ids are compared only when the stored
// id came from the provider: the SMTP transport stores our own Message-ID
// (token@host), which no provider id can contradict.
func stale(ev domain.BounceEvidence, rec *domain.VerificationRecord) bool {
	if id.Valid(ev.ProbeToken) {
		return ev.ProbeToken != rec.ID
	}
	if ev.ProbeMessageID == "" || rec.ProbeMessageID == "" || ev.ProbeMessageID == rec.ProbeMessageID {
		return false
	}
	return !strings.HasPrefix(rec.ProbeMessageID, rec.ID+"@")
}

func (c *Correlator) mismatch(ev domain.BounceEvidence, rec *domain.VerificationRecord, why string) *Correlation {
	metrics.EvidenceTotal.WithLabelValues(string(ev.Source), ResultMismatch).Inc()
	attrs := []any{
		"recipient", ev.RecipientAddress,
		"message_id", ev.ProbeMessageID,
		"token", ev.ProbeToken,
		"source", ev.Source,
		"reason", why,
	}
	if rec != nil {
		attrs = append(attrs, "record_id", rec.ID)
	}
	slog.Warn("discarding uncorrelated evidence", attrs...)
	return &Correlation{Result: ResultMismatch, Record: rec, Reason: errors.Join(domain.ErrCorrelationMismatch, errors.New(why))}
}

func (c *Correlator) noop(ev domain.BounceEvidence, rec *domain.VerificationRecord) *Correlation {
	metrics.EvidenceTotal.WithLabelValues(string(ev.Source), ResultNoop).Inc()
	slog.Debug("evidence for already resolved record", "address", rec.Address, "record_id", rec.ID, "stage", rec.Stage)
	return &Correlation{Result: ResultNoop, Record: rec}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
