package handler

import (
	"context"
	"net/http"

	"github.com/go-mail-verifier/internal/application/bounce"
)

type Sweeper interface {
	SweepOnce(ctx context.Context) (int, error)
}

type Scanner interface {
	ScanOnce(ctx context.Context) (bounce.ScanReport, error)
}

// AdminHandler exposes manual triggers for the background jobs. scanner is
// nil when no bounce mailbox is configured.
type AdminHandler struct {
	sweeper Sweeper
	scanner Scanner
}

func NewAdminHandler(sweeper Sweeper, scanner Scanner) *AdminHandler {
	return &AdminHandler{sweeper: sweeper, scanner: scanner}
}

func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.sweeper.SweepOnce(r.Context())
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepEnvelope{TimedOut: n})
}

func (h *AdminHandler) Scan(w http.ResponseWriter, r *http.Request) {
	if h.scanner == nil {
		writeError(w, http.StatusNotFound, "mailbox scanning is not configured")
		return
	}
	report, err := h.scanner.ScanOnce(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}
