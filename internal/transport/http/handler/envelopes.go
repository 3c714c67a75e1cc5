package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-mail-verifier/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// VerificationEnvelope answers a submission.
type VerificationEnvelope struct {
	Message    string         `json:"message,omitempty"`
	Error      string         `json:"error,omitempty"`
	Email      string         `json:"email"`
	Stage      domain.Stage   `json:"stage"`
	Verdict    domain.Verdict `json:"verdict,omitempty"`
	RecordID   string         `json:"record_id,omitempty"`
	Dispatched bool           `json:"dispatched"`
}

// RecordEnvelope is a stored record as shown to operators.
type RecordEnvelope struct {
	ID             string                `json:"id"`
	Email          string                `json:"email"`
	Domain         string                `json:"domain"`
	Stage          domain.Stage          `json:"stage"`
	Outcome        domain.Outcome        `json:"outcome"`
	Verdict        domain.Verdict        `json:"verdict"`
	ProbeMessageID string                `json:"probe_message_id,omitempty"`
	EvidenceSource domain.EvidenceSource `json:"evidence_source,omitempty"`
	Detail         string                `json:"detail,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	ResolvedAt     *time.Time            `json:"resolved_at,omitempty"`
}

// BounceEnvelope answers SNS.
type BounceEnvelope struct {
	Message  string `json:"message"`
	Type     string `json:"type"`
	Evidence int    `json:"evidence"`
	Resolved int    `json:"resolved"`
}

// SweepEnvelope answers a manual sweep.
type SweepEnvelope struct {
	TimedOut int `json:"timed_out"`
}

func toRecordEnvelope(r *domain.VerificationRecord, verdict domain.Verdict) RecordEnvelope {
	return RecordEnvelope{
		ID:             r.ID,
		Email:          r.Address,
		Domain:         r.Domain,
		Stage:          r.Stage,
		Outcome:        r.Outcome,
		Verdict:        verdict,
		ProbeMessageID: r.ProbeMessageID,
		EvidenceSource: r.EvidenceSource,
		Detail:         r.Detail,
		CreatedAt:      r.CreatedAt,
		ResolvedAt:     r.ResolvedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}
