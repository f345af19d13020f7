package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ayo6706/account-cqrs/internal/api/problem"
	"github.com/ayo6706/account-cqrs/internal/idempotency"
	"github.com/ayo6706/account-cqrs/internal/observability"
	"go.uber.org/zap"
)

const maxKeyLength = 255

var idempotentMethods = map[string]struct{}{
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
}

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key. Requests without the header pass through.
func IdempotencyMiddleware(store *idempotency.Store, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := idempotentMethods[r.Method]; !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
			switch {
			case key == "":
				observability.IncrementIdempotencyEvent("missing_key")
				next.ServeHTTP(w, r)
				return
			case len(key) > maxKeyLength:
				writeProblem(w, r, http.StatusBadRequest, "idempotency/invalid-key", "Idempotency-Key is too long")
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeProblem(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))
			reqHash := hashRequest(r.Method, r.URL.Path, body)

			rec, err := store.Lookup(r.Context(), key, reqHash)
			switch {
			case err == nil:
				observability.IncrementIdempotencyEvent("replay")
				respondFromRecord(w, rec)
				return
			case errors.Is(err, idempotency.ErrHashMismatch):
				observability.IncrementIdempotencyEvent("hash_mismatch")
				writeProblem(w, r, http.StatusConflict, "idempotency/key-conflict", "conflicting idempotency key")
				return
			case errors.Is(err, idempotency.ErrInProgress):
				awaitAndReplay(w, r, store, logger, key, reqHash, "replay_after_wait")
				return
			case !errors.Is(err, idempotency.ErrNotFound):
				observability.IncrementIdempotencyEvent("lookup_error")
				logger.Warn("idempotency lookup failed", zap.Error(err))
			}

			reserved, err := store.Reserve(r.Context(), key, reqHash, r.Method, r.URL.Path)
			if err != nil {
				observability.IncrementIdempotencyEvent("reserve_error")
				logger.Error("idempotency reserve failed", zap.Error(err))
				writeProblem(w, r, http.StatusInternalServerError, "idempotency/unavailable", "idempotency unavailable")
				return
			}
			if !reserved {
				awaitAndReplay(w, r, store, logger, key, reqHash, "replay_after_reserve")
				return
			}
			observability.IncrementIdempotencyEvent("reserved")

			recorder := &bodyRecorder{ResponseWriter: w}
			next.ServeHTTP(recorder, r)
			finalize(r, store, logger, key, reqHash, recorder)
		})
	}
}

// awaitAndReplay serves the response of a concurrent request holding key.
func awaitAndReplay(w http.ResponseWriter, r *http.Request, store *idempotency.Store, logger *zap.Logger, key, reqHash, outcome string) {
	rec, err := store.WaitForCompletion(r.Context(), key, reqHash)
	if err == nil {
		observability.IncrementIdempotencyEvent(outcome)
		respondFromRecord(w, rec)
		return
	}
	observability.IncrementIdempotencyEvent("in_progress_conflict")
	logger.Warn("idempotency wait failed", zap.Error(err), zap.String("key", key))
	writeProblem(w, r, http.StatusConflict, "idempotency/in-progress", "idempotency processing")
}

func finalize(r *http.Request, store *idempotency.Store, logger *zap.Logger, key, reqHash string, recorder *bodyRecorder) {
	status := recorder.status
	if status == 0 {
		status = http.StatusOK
	}
	contentType := recorder.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	if _, err := store.Finalize(r.Context(), key, reqHash, status, recorder.body.Bytes(), contentType); err != nil {
		observability.IncrementIdempotencyEvent("finalize_error")
		logger.Warn("idempotency finalize failed", zap.Error(err), zap.String("key", key))
		return
	}
	observability.IncrementIdempotencyEvent("finalized")
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, slug, detail string) {
	problem.Write(w, r, status, problem.Type(slug), http.StatusText(status), detail)
}

func hashRequest(method, path string, body []byte) string {
	sum := sha256.Sum256(append([]byte(method+"|"+path+"|"), body...))
	return hex.EncodeToString(sum[:])
}

type bodyRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (br *bodyRecorder) WriteHeader(code int) {
	br.status = code
	br.ResponseWriter.WriteHeader(code)
}

func (br *bodyRecorder) Unwrap() http.ResponseWriter {
	return br.ResponseWriter
}

func (br *bodyRecorder) Write(b []byte) (int, error) {
	if br.status == 0 {
		br.status = http.StatusOK
	}
	br.body.Write(b)
	return br.ResponseWriter.Write(b)
}

func respondFromRecord(w http.ResponseWriter, rec *idempotency.Record) {
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("X-Idempotent-Replay", rec.ServedBy)
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}
