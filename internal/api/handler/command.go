package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/account-cqrs/internal/account"
	"github.com/ayo6706/account-cqrs/internal/eventlog"
	"github.com/ayo6706/account-cqrs/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CommandHandler exposes the write side over HTTP.
type CommandHandler struct {
	dispatcher *service.Dispatcher
	logger     *zap.Logger
}

func NewCommandHandler(dispatcher *service.Dispatcher, logger *zap.Logger) *CommandHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &CommandHandler{dispatcher: dispatcher, logger: logger}
}

type createAccountRequest struct {
	ID             string          `json:"id"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	Currency       string          `json:"currency"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// CreateAccount opens an account. A blank id is replaced by a generated UUID.
func (h *CommandHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}

	res, err := h.dispatcher.CreateAccount(r.Context(), id, req.InitialBalance, req.Currency)
	if err != nil {
		RespondDomainError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Location", "/v1/accounts/"+res.AccountID+"/statement")
	RespondJSON(w, http.StatusCreated, res)
}

func (h *CommandHandler) Credit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	res, err := h.dispatcher.Credit(r.Context(), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		RespondDomainError(w, r, h.logger, err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

func (h *CommandHandler) Debit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	res, err := h.dispatcher.Debit(r.Context(), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		RespondDomainError(w, r, h.logger, err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

func (h *CommandHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeBody(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	status, err := account.ParseStatus(req.Status)
	if err != nil {
		RespondDomainError(w, r, h.logger, err)
		return
	}
	res, err := h.dispatcher.UpdateStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		RespondDomainError(w, r, h.logger, err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

type eventView struct {
	GlobalSeq  uint64        `json:"global_seq"`
	Version    uint64        `json:"version"`
	Type       string        `json:"type"`
	RecordedAt string        `json:"recorded_at"`
	Payload    account.Event `json:"payload"`
}

// Events returns the write-side history of an account.
func (h *CommandHandler) Events(w http.ResponseWriter, r *http.Request) {
	records, err := h.dispatcher.Events(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		RespondDomainError(w, r, h.logger, err)
		return
	}
	RespondJSON(w, http.StatusOK, eventViews(records))
}

func eventViews(records []eventlog.Record) []eventView {
	out := make([]eventView, 0, len(records))
	for _, rec := range records {
		out = append(out, eventView{
			GlobalSeq:  rec.GlobalSeq,
			Version:    rec.Version,
			Type:       rec.Event.EventType(),
			RecordedAt: rec.RecordedAt.Format("2006-01-02T15:04:05.000000Z07:00"),
			Payload:    rec.Event,
		})
	}
	return out
}
