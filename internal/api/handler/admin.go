package handler

import (
	"net/http"

	"github.com/ayo6706/account-cqrs/internal/service"
	"go.uber.org/zap"
)

// AdminHandler exposes projection maintenance operations.
type AdminHandler struct {
	replay    *service.ReplayService
	reconcile *service.ReconciliationService
	logger    *zap.Logger
}

func NewAdminHandler(replay *service.ReplayService, reconcile *service.ReconciliationService, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &AdminHandler{replay: replay, reconcile: reconcile, logger: logger}
}

// Replay resets the read model. The rebuild runs after the response.
func (h *AdminHandler) Replay(w http.ResponseWriter, r *http.Request) {
	if err := h.replay.Replay(r.Context()); err != nil {
		RespondDomainError(w, r, h.logger, err)
		return
	}
	RespondJSON(w, http.StatusAccepted, map[string]string{"status": "replay started"})
}

func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconcile.Run(r.Context())
	if err != nil {
		RespondDomainError(w, r, h.logger, err)
		return
	}
	RespondJSON(w, http.StatusOK, report)
}
