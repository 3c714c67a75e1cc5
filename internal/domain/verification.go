package domain

import (
	"strings"
	"time"
)

// Stage is the position of an address in the verification state machine.
// Transitions only move forward; see CanTransition.
type Stage string

const (
	StageUnsubmitted          Stage = "unsubmitted"
	StageFormatRejected       Stage = "format_rejected"
	StageDomainRejected       Stage = "domain_rejected"
	StageMXRejected           Stage = "mx_rejected"
	StageProbeFailed          Stage = "probe_failed"
	StagePending              Stage = "pending"
	StageConfirmedDeliverable Stage = "confirmed_deliverable"
	StageConfirmedBouncing    Stage = "confirmed_bouncing"
	StageTimedOut             Stage = "timed_out"
)

// Outcome is the coarse result stored on a VerificationRecord.
type Outcome string

const (
	OutcomePending              Outcome = "pending"
	OutcomeConfirmedDeliverable Outcome = "confirmed_deliverable"
	OutcomeConfirmedBouncing    Outcome = "confirmed_bouncing"
	OutcomeTimedOut             Outcome = "timed_out"
	OutcomeRejected             Outcome = "rejected"
)

// Outcome maps a stage onto the record outcome it implies.
func (s Stage) Outcome() Outcome {
	switch s {
	case StagePending:
		return OutcomePending
	case StageConfirmedDeliverable:
		return OutcomeConfirmedDeliverable
	case StageConfirmedBouncing:
		return OutcomeConfirmedBouncing
	case StageTimedOut:
		return OutcomeTimedOut
	case StageFormatRejected, StageDomainRejected, StageMXRejected, StageProbeFailed:
		return OutcomeRejected
	}
	return ""
}

// Terminal reports whether no further transition can leave s.
func (s Stage) Terminal() bool {
	return s != StageUnsubmitted && s != StagePending
}

// CanTransition reports whether moving from s to next is a forward step.
func (s Stage) CanTransition(next Stage) bool {
	switch s {
	case StageUnsubmitted:
		return next != StageUnsubmitted
	case StagePending:
		return next == StageConfirmedDeliverable || next == StageConfirmedBouncing || next == StageTimedOut
	}
	return false
}

// EvidenceSource names the channel a BounceEvidence arrived through.
type EvidenceSource string

const (
	SourceWebhook     EvidenceSource = "webhook"
	SourceMailboxScan EvidenceSource = "mailbox_scan"
	SourceSweep       EvidenceSource = "timeout_sweep"
)

// EvidenceKind distinguishes failure signals from positive delivery receipts.
type EvidenceKind string

const (
	EvidenceBounce   EvidenceKind = "bounce"
	EvidenceDelivery EvidenceKind = "delivery"
)

// VerificationRecord tracks one outstanding probe.
// PK: address. GSIs: probe_message_id, record_id, outcome + created_at.
type VerificationRecord struct {
	ID             string         `json:"id" dynamodbav:"record_id"` // probe token
	Address        string         `json:"address" dynamodbav:"address"`
	Domain         string         `json:"domain" dynamodbav:"domain"`
	Stage          Stage          `json:"stage" dynamodbav:"stage"`
	Outcome        Outcome        `json:"outcome" dynamodbav:"outcome"`
	ProbeMessageID string         `json:"probe_message_id,omitempty" dynamodbav:"probe_message_id,omitempty"`
	EvidenceSource EvidenceSource `json:"evidence_source,omitempty" dynamodbav:"evidence_source,omitempty"`
	Detail         string         `json:"detail,omitempty" dynamodbav:"detail,omitempty"`
	CreatedAt      time.Time      `json:"created_at" dynamodbav:"created_at,unixtime"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty" dynamodbav:"resolved_at,unixtime,omitempty"`
	ExpiresAt      int64          `json:"-" dynamodbav:"expires_at,omitempty"` // TTL (Unix seconds)
}

// NewPendingRecord returns a fresh Pending record for address.
func NewPendingRecord(id, address string, now time.Time) *VerificationRecord {
	return &VerificationRecord{
		ID:        id,
		Address:   address,
		Domain:    DomainOf(address),
		Stage:     StagePending,
		Outcome:   OutcomePending,
		CreatedAt: now.UTC(),
	}
}

// IsPending reports whether the record still awaits evidence.
func (r *VerificationRecord) IsPending() bool { return r.Outcome == OutcomePending }

// Resolution describes a Pending → terminal transition.
type Resolution struct {
	Stage  Stage
	Source EvidenceSource
	Detail string
	At     time.Time
}

// Apply moves the record forward. It returns false and leaves the record
// untouched when the transition would not be forward.
func (r *VerificationRecord) Apply(res Resolution) bool {
	if !r.Stage.CanTransition(res.Stage) {
		return false
	}
	at := res.At.UTC()
	r.Stage = res.Stage
	r.Outcome = res.Stage.Outcome()
	r.EvidenceSource = res.Source
	r.Detail = res.Detail
	r.ResolvedAt = &at
	return true
}

// BounceEvidence is one deliverability signal for one recipient.
type BounceEvidence struct {
	RecipientAddress string
	RawSignal        string
	Source           EvidenceSource
	Kind             EvidenceKind
	ProbeMessageID   string
	ProbeToken       string
}

// NormalizeAddress lower-cases the domain part and trims surrounding space.
// The local part keeps its case because providers may treat it as significant.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return address
	}
	return address[:at+1] + strings.ToLower(address[at+1:])
}

// DomainOf returns the lower-cased part after the last '@', or "".
func DomainOf(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}
