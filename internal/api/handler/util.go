package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayo6706/account-cqrs/internal/api/problem"
	"github.com/ayo6706/account-cqrs/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

type errorMapping struct {
	target      error
	status      int
	problemType string
}

var domainErrors = []errorMapping{
	{domain.ErrNotFound, http.StatusNotFound, "account/not-found"},
	{domain.ErrAlreadyExists, http.StatusConflict, "account/already-exists"},
	{domain.ErrConcurrencyConflict, http.StatusConflict, "account/concurrency-conflict"},
	{domain.ErrInvalidTransition, http.StatusConflict, "account/invalid-transition"},
	{domain.ErrAccountNotActive, http.StatusConflict, "account/not-active"},
	{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity, "account/insufficient-funds"},
	{domain.ErrInvalidAmount, http.StatusBadRequest, "request/invalid-amount"},
	{domain.ErrInvalidCurrency, http.StatusBadRequest, "request/invalid-currency"},
	{domain.ErrInvalidAccountID, http.StatusBadRequest, "request/invalid-account-id"},
	{domain.ErrInvalidStatus, http.StatusBadRequest, "request/invalid-status"},
}

// RespondDomainError maps service errors onto problem responses. Unknown
// errors are logged and reported as 500 without detail.
func RespondDomainError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	for _, m := range domainErrors {
		if errors.Is(err, m.target) {
			RespondError(w, r, m.status, m.problemType, err.Error())
			return
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		RespondError(w, r, http.StatusServiceUnavailable, "request/cancelled", "request cancelled")
		return
	}
	if status, pType, msg, ok := mapDBError(err); ok {
		RespondError(w, r, status, pType, msg)
		return
	}
	logger.Error("request failed", zap.Error(err), zap.String("path", r.URL.Path), zap.String("method", r.Method))
	RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
