package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/account-cqrs/internal/live"
	"github.com/ayo6706/account-cqrs/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const defaultHeartbeat = 15 * time.Second

// QueryHandler serves the read model and live updates.
type QueryHandler struct {
	queries   *service.QueryService
	logger    *zap.Logger
	heartbeat time.Duration
}

func NewQueryHandler(queries *service.QueryService, logger *zap.Logger) *QueryHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &QueryHandler{queries: queries, logger: logger, heartbeat: defaultHeartbeat}
}

func (h *QueryHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.queries.ListAccounts(r.Context())
	if err != nil {
		RespondDomainError(w, r, h.logger, err)
		return
	}
	RespondJSON(w, http.StatusOK, accounts)
}

func (h *QueryHandler) GetStatement(w http.ResponseWriter, r *http.Request) {
	statement, err := h.queries.GetAccountStatement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		RespondDomainError(w, r, h.logger, err)
		return
	}
	RespondJSON(w, http.StatusOK, statement)
}

// WatchAccount streams updates of one account as server-sent events.
func (h *QueryHandler) WatchAccount(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, live.ForAccount(chi.URLParam(r, "id")))
}

// WatchAll streams updates of every account.
func (h *QueryHandler) WatchAll(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, live.All())
}

func (h *QueryHandler) stream(w http.ResponseWriter, r *http.Request, filter live.Filter) {
	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	sub := h.queries.SubscribeToAccountEvents(r.Context(), filter)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": subscribed\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		h.logger.Warn("streaming unsupported", zap.Error(err))
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case u, ok := <-sub.Updates():
			if !ok {
				return
			}
			payload, err := json.Marshal(u)
			if err != nil {
				h.logger.Warn("encode live update", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", u.GlobalSeq, u.Type, payload); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
