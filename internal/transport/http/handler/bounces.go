package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-mail-verifier/internal/application/bounce"
	"github.com/go-mail-verifier/internal/domain"
	"github.com/go-mail-verifier/internal/infrastructure/sns"
)

const maxSNSBody = 256 << 10

// BounceIntake processes one SNS delivery. *bounce.WebhookIntake satisfies it.
type BounceIntake interface {
	Handle(ctx context.Context, env *domain.SNSEnvelope, raw []byte) (*bounce.WebhookResult, error)
}

// BounceHandler receives SES bounce and delivery notifications through SNS.
type BounceHandler struct {
	intake BounceIntake
}

func NewBounceHandler(intake BounceIntake) *BounceHandler { return &BounceHandler{intake: intake} }

// SNS acknowledges with 200 once the delivery is handled. Any 5xx makes SNS
// redeliver, so only store failures map there.
func (h *BounceHandler) SNS(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSNSBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	env, err := sns.ParseEnvelope(body, r.Header.Get("x-amz-sns-message-type"))
	if err != nil {
		httpError(w, r, err)
		return
	}
	res, err := h.intake.Handle(r.Context(), env, body)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BounceEnvelope{
		Message:  "ok",
		Type:     res.Type,
		Evidence: res.Evidence,
		Resolved: res.Resolved,
	})
}
