package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-mail-verifier/internal/application/verification"
	"github.com/go-mail-verifier/internal/domain"
	"github.com/go-mail-verifier/internal/pkg/validate"
)

const maxSubmitBody = 4 << 10

// VerifyRequest is the body of a submission.
type VerifyRequest struct {
	Email string `json:"email" validate:"required,max=1024"`
}

// VerificationHandler handles submissions and operator lookups.
type VerificationHandler struct {
	svc verification.Service
}

func NewVerificationHandler(svc verification.Service) *VerificationHandler {
	return &VerificationHandler{svc: svc}
}

// Submit answers 202 when a probe was dispatched and 200 when an existing
// record answers the request.
func (h *VerificationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, err := h.svc.Submit(r.Context(), req.Email)
	if err != nil {
		var se *domain.StageError
		if errors.As(err, &se) {
			writeJSON(w, statusFor(se), VerificationEnvelope{
				Error: se.Error(),
				Email: req.Email,
				Stage: se.Stage,
			})
			return
		}
		httpError(w, r, err)
		return
	}

	status := http.StatusOK
	if sub.Dispatched {
		status = http.StatusAccepted
	}
	writeJSON(w, status, VerificationEnvelope{
		Message:    sub.Message,
		Email:      sub.Record.Address,
		Stage:      sub.Record.Stage,
		Verdict:    sub.Verdict,
		RecordID:   sub.Record.ID,
		Dispatched: sub.Dispatched,
	})
}

func (h *VerificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	address, err := url.PathUnescape(chi.URLParam(r, "address"))
	if err != nil || address == "" {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	view, err := h.svc.Lookup(r.Context(), address)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordEnvelope(view.Record, view.Verdict))
}
