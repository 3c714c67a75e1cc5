package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-mail-verifier/internal/check"
	"github.com/go-mail-verifier/internal/domain"
	"github.com/go-mail-verifier/internal/metrics"
	"github.com/go-mail-verifier/internal/pkg/clock"
	"github.com/go-mail-verifier/internal/pkg/id"
)

const (
	msgDispatched = "probe dispatched, awaiting confirmation"
	msgPending    = "verification already pending"
	msgReused     = "address already verified"
)

// Submission is the synchronous answer to a submit.
type Submission struct {
	Record     *domain.VerificationRecord
	Dispatched bool
	Reused     bool
	Verdict    domain.Verdict
	Message    string
}

// RecordView is a record as read by operators.
type RecordView struct {
	Record  *domain.VerificationRecord
	Verdict domain.Verdict
}

type Config struct {
	TimeoutPolicy  domain.TimeoutPolicy
	ResubmitPolicy domain.ResubmitPolicy
}

type Service interface {
	Submit(ctx context.Context, address string) (*Submission, error)
	Lookup(ctx context.Context, address string) (*RecordView, error)
}

type recordStore interface {
	Reserve(ctx context.Context, rec *domain.VerificationRecord, supersede bool) (*domain.VerificationRecord, bool, error)
	AttachProbe(ctx context.Context, address, recordID, messageID string) error
	Release(ctx context.Context, address, recordID string) error
	Get(ctx context.Context, address string) (*domain.VerificationRecord, error)
}

type domainPolicy interface {
	Check(domain string) error
}

type mxResolver interface {
	Resolve(ctx context.Context, domain string) ([]string, error)
}

type probeSender interface {
	Send(ctx context.Context, address, token string) (string, error)
}

// scanTrigger asks the mailbox scanner for a delayed scan.
type scanTrigger interface {
	Trigger()
}

type service struct {
	cfg     Config
	store   recordStore
	policy  domainPolicy
	mx      mxResolver
	sender  probeSender
	trigger scanTrigger
	clock   clock.Clock
	newID   func() string
}

// NewService wires the pipeline. trigger may be nil when no mailbox is configured.
func NewService(cfg Config, store recordStore, policy domainPolicy, mx mxResolver, sender probeSender, trigger scanTrigger, clk clock.Clock) Service {
	if clk == nil {
		clk = clock.Real()
	}
	return &service{
		cfg:     cfg,
		store:   store,
		policy:  policy,
		mx:      mx,
		sender:  sender,
		trigger: trigger,
		clock:   clk,
		newID:   id.New,
	}
}

// Submit runs format, domain and MX checks in order, stopping at the first
// failure, then dispatches a probe unless the address already has a pending
// record. Rejections are returned as *domain.StageError and never stored.
func (s *service) Submit(ctx context.Context, raw string) (*Submission, error) {
	if err := check.ValidateFormat(raw); err != nil {
		return nil, s.reject(domain.StageFormatRejected, err)
	}
	address := domain.NormalizeAddress(raw)
	asciiDomain := check.ASCIIDomain(address)

	if err := s.policy.Check(asciiDomain); err != nil {
		return nil, s.reject(domain.StageDomainRejected, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("submit %s: %w", address, err)
	}
	start := time.Now()
	_, err := s.mx.Resolve(ctx, asciiDomain)
	metrics.MXLookupDuration.WithLabelValues(mxResult(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, s.reject(domain.StageMXRejected, err)
	}

	supersede := false
	existing, err := s.store.Get(ctx, address)
	switch {
	case err == nil && existing.IsPending():
		return s.pending(existing), nil
	case err == nil && s.cfg.ResubmitPolicy != domain.ResubmitReverify:
		return s.reused(existing), nil
	case err == nil:
		supersede = true
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("load record for %s: %w", address, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("submit %s: %w", address, err)
	}
	rec := domain.NewPendingRecord(s.newID(), address, s.clock.Now())
	stored, created, err := s.store.Reserve(ctx, rec, supersede)
	if err != nil {
		return nil, fmt.Errorf("reserve record for %s: %w", address, err)
	}
	if !created {
		if stored.IsPending() {
			return s.pending(stored), nil
		}
		return s.reused(stored), nil
	}

	// Past this point the probe may be in flight; bookkeeping must not be
	// abandoned because the caller went away.
	bg := context.WithoutCancel(ctx)
	messageID, err := s.sender.Send(ctx, address, rec.ID)
	if err != nil {
		if rErr := s.store.Release(bg, address, rec.ID); rErr != nil {
			slog.Error("failed to release reservation after send failure", "address", address, "record_id", rec.ID, "err", rErr)
		}
		return nil, s.reject(domain.StageProbeFailed, err)
	}
	rec.ProbeMessageID = messageID
	if err := s.store.AttachProbe(bg, address, rec.ID, messageID); err != nil {
		// The record stays pending and is still reachable by address or token.
		slog.Error("failed to attach probe message id", "address", address, "record_id", rec.ID, "message_id", messageID, "err", err)
	}
	if s.trigger != nil {
		s.trigger.Trigger()
	}

	metrics.SubmissionsTotal.WithLabelValues("dispatched").Inc()
	slog.Info("verification dispatched", "address", address, "record_id", rec.ID, "message_id", messageID)
	return &Submission{Record: rec, Dispatched: true, Verdict: domain.VerdictPending, Message: msgDispatched}, nil
}

func (s *service) Lookup(ctx context.Context, raw string) (*RecordView, error) {
	rec, err := s.store.Get(ctx, domain.NormalizeAddress(raw))
	if err != nil {
		return nil, err
	}
	return &RecordView{Record: rec, Verdict: domain.VerdictFor(rec, s.cfg.TimeoutPolicy)}, nil
}

func (s *service) reject(stage domain.Stage, err error) error {
	metrics.SubmissionsTotal.WithLabelValues(string(stage)).Inc()
	slog.Info("verification rejected", "stage", stage, "err", err)
	return domain.Reject(stage, err, err.Error())
}

func (s *service) pending(rec *domain.VerificationRecord) *Submission {
	metrics.SubmissionsTotal.WithLabelValues("pending").Inc()
	return &Submission{Record: rec, Verdict: domain.VerdictPending, Message: msgPending}
}

func (s *service) reused(rec *domain.VerificationRecord) *Submission {
	metrics.SubmissionsTotal.WithLabelValues("reused").Inc()
	return &Submission{Record: rec, Reused: true, Verdict: domain.VerdictFor(rec, s.cfg.TimeoutPolicy), Message: msgReused}
}

func mxResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrResolutionUnavailable):
		return "unavailable"
	default:
		return "no_mx"
	}
}
