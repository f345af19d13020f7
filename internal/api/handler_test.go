package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ayo6706/account-cqrs/internal/account"
	"github.com/ayo6706/account-cqrs/internal/api"
	"github.com/ayo6706/account-cqrs/internal/api/middleware"
	"github.com/ayo6706/account-cqrs/internal/api/problem"
	"github.com/ayo6706/account-cqrs/internal/config"
	"github.com/ayo6706/account-cqrs/internal/eventlog"
	"github.com/ayo6706/account-cqrs/internal/idempotency"
	"github.com/ayo6706/account-cqrs/internal/live"
	"github.com/ayo6706/account-cqrs/internal/projection"
	"github.com/ayo6706/account-cqrs/internal/readmodel"
	"github.com/ayo6706/account-cqrs/internal/service"
	"github.com/ayo6706/account-cqrs/internal/worker"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "account-cqrs-test"
	testJWTAudience = "account-api-test"
)

type testAPI struct {
	router  *api.Router
	handler http.Handler
	queries *service.QueryService
}

func setupAPI(t *testing.T, opts ...func(*config.Config)) *testAPI {
	t.Helper()
	logger := zap.NewNop()
	cfg := &config.Config{
		HTTPPort:               "0",
		StoreBackend:           config.BackendMemory,
		JWTSecret:              testJWTSecret,
		JWTIssuer:              testJWTIssuer,
		JWTAudience:            testJWTAudience,
		InitialAccountStatus:   account.StatusActive,
		CommandMaxRetries:      3,
		ProjectionPollInterval: 10 * time.Millisecond,
		ProjectionBatchSize:    50,
		SubscriberBuffer:       16,
		PublicRateLimitRPS:     1000,
		AuthRateLimitRPS:       1000,
		IdempotencyTTL:         time.Hour,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	log := eventlog.NewMemory()
	store := readmodel.NewMemory()
	broker := live.NewBroker(cfg.SubscriberBuffer, logger)
	projector := projection.NewProjector(store, logger)
	projectionWorker := worker.NewProjectionWorker(log, store, projector, broker, logger).
		WithPollInterval(cfg.ProjectionPollInterval)
	dispatcher := service.NewDispatcher(log, cfg.Policy(), logger).WithNotifier(projectionWorker)
	queries := service.NewQueryService(store, broker)

	ctx, cancel := context.WithCancel(context.Background())
	stop := projectionWorker.Run(ctx)
	t.Cleanup(func() {
		stop()
		cancel()
	})

	idemStore := idempotency.NewStore(nil, idempotency.NewMemoryKeys(cfg.IdempotencyTTL), cfg.IdempotencyTTL, logger)
	router := api.NewRouter(cfg, logger, nil, nil, idemStore, api.Services{
		Dispatcher:     dispatcher,
		Queries:        queries,
		Replay:         service.NewReplayService(projectionWorker, store, projector, logger),
		Reconciliation: service.NewReconciliationService(projectionWorker, log, store, projector, logger),
		Projection:     projectionWorker,
	})
	return &testAPI{router: router, handler: router.Routes(), queries: queries}
}

func (a *testAPI) token(t *testing.T, role string) string {
	t.Helper()
	token, err := a.router.Authenticator().Issue("tester", role, time.Hour)
	require.NoError(t, err)
	return token
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

// awaitStatement polls until the statement satisfies ok.
func (a *testAPI) awaitStatement(t *testing.T, id string, ok func(service.AccountStatement) bool) service.AccountStatement {
	t.Helper()
	var statement service.AccountStatement
	require.Eventually(t, func() bool {
		var err error
		statement, err = a.queries.GetAccountStatement(context.Background(), id)
		return err == nil && ok(statement)
	}, 2*time.Second, 5*time.Millisecond)
	return statement
}

func decodeResult(t *testing.T, w *httptest.ResponseRecorder) service.Result {
	t.Helper()
	var res service.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func TestRFC7807ProblemDetails(t *testing.T) {
	a := setupAPI(t)

	w := a.do(t, http.MethodGet, "/v1/accounts/A1/statement", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["type"])
	assert.Equal(t, float64(http.StatusUnauthorized), body["status"])
	assert.NotEmpty(t, body["title"])
	assert.NotEmpty(t, body["detail"])
	assert.Equal(t, "/v1/accounts/A1/statement", body["instance"])
	assert.NotEmpty(t, body["request_id"])
}

func TestProblemTypeUsesConfiguredBaseURL(t *testing.T) {
	a := setupAPI(t, func(cfg *config.Config) { cfg.ProblemBaseURL = "https://docs.example.com/problems" })
	t.Cleanup(func() { problem.SetBaseURL("") })

	w := a.do(t, http.MethodGet, "/v1/accounts/nope/statement", a.token(t, "user"), nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "https://docs.example.com/problems/account/not-found", body["type"])
}

func TestAuthRejectsForeignTokens(t *testing.T) {
	a := setupAPI(t)
	other := middleware.NewAuthenticator(testJWTSecret, testJWTIssuer, "someone-else")
	foreign, err := other.Issue("tester", "user", time.Hour)
	require.NoError(t, err)
	expired, err := a.router.Authenticator().Issue("tester", "user", -time.Minute)
	require.NoError(t, err)

	for name, token := range map[string]string{"audience": foreign, "expired": expired, "garbage": "not-a-jwt"} {
		t.Run(name, func(t *testing.T) {
			w := a.do(t, http.MethodGet, "/v1/accounts", token, nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestAccountLifecycle(t *testing.T) {
	a := setupAPI(t)
	token := a.token(t, "user")

	w := a.do(t, http.MethodPost, "/v1/accounts", token, map[string]any{"id": "A1", "initial_balance": "100", "currency": "usd"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, service.Result{AccountID: "A1", Version: 1, GlobalSeq: 1}, decodeResult(t, w))
	assert.Equal(t, "/v1/accounts/A1/statement", w.Header().Get("Location"))

	w = a.do(t, http.MethodPost, "/v1/accounts/A1/debit", token, map[string]any{"amount": "30"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = a.do(t, http.MethodPost, "/v1/accounts/A1/credit", token, map[string]any{"amount": 0.5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, uint64(3), decodeResult(t, w).Version)

	a.awaitStatement(t, "A1", func(s service.AccountStatement) bool { return len(s.Operations) == 2 })

	w = a.do(t, http.MethodGet, "/v1/accounts/A1/statement", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var statement struct {
		Account struct {
			ID       string `json:"id"`
			Balance  string `json:"balance"`
			Currency string `json:"currency"`
			Status   string `json:"status"`
		} `json:"account"`
		Operations []struct {
			ID     uint64 `json:"id"`
			Amount string `json:"amount"`
			Type   string `json:"type"`
		} `json:"operations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &statement))
	assert.Equal(t, "70.5", statement.Account.Balance)
	assert.Equal(t, "USD", statement.Account.Currency)
	assert.Equal(t, "active", statement.Account.Status)
	require.Len(t, statement.Operations, 2)
	assert.Equal(t, "DEBIT", statement.Operations[0].Type)
	assert.Equal(t, "30", statement.Operations[0].Amount)
	assert.Equal(t, uint64(2), statement.Operations[0].ID)

	w = a.do(t, http.MethodGet, "/v1/accounts", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var accounts []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accounts))
	assert.Len(t, accounts, 1)

	w = a.do(t, http.MethodGet, "/v1/accounts/A1/events", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events []struct {
		GlobalSeq uint64         `json:"global_seq"`
		Version   uint64         `json:"version"`
		Type      string         `json:"type"`
		Payload   map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 3)
	assert.Equal(t, account.EventTypeCreated, events[0].Type)
	assert.Equal(t, account.EventTypeDebited, events[1].Type)
	assert.Equal(t, "A1", events[2].Payload["account_id"])
}

func TestCreateAccountGeneratesID(t *testing.T) {
	a := setupAPI(t)
	w := a.do(t, http.MethodPost, "/v1/accounts", a.token(t, "user"), map[string]any{"initial_balance": "0", "currency": "EUR"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	_, err := uuid.Parse(decodeResult(t, w).AccountID)
	assert.NoError(t, err)
}

func TestCommandErrors(t *testing.T) {
	a := setupAPI(t)
	token := a.token(t, "user")
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/v1/accounts", token, map[string]any{"id": "A1", "initial_balance": "70", "currency": "USD"}).Code)
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/v1/accounts", token, map[string]any{"id": "C1", "initial_balance": "10", "currency": "USD"}).Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPut, "/v1/accounts/C1/status", token, map[string]any{"status": "closed"}).Code)

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		status   int
		typeSlug string
	}{
		{"insufficient funds", http.MethodPost, "/v1/accounts/A1/debit", map[string]any{"amount": "1000"}, http.StatusUnprocessableEntity, "account/insufficient-funds"},
		{"negative amount", http.MethodPost, "/v1/accounts/A1/credit", map[string]any{"amount": "-1"}, http.StatusBadRequest, "request/invalid-amount"},
		{"amount above limit", http.MethodPost, "/v1/accounts/A1/credit", map[string]any{"amount": "10000000000000"}, http.StatusBadRequest, "request/invalid-amount"},
		{"too precise", http.MethodPost, "/v1/accounts/A1/credit", map[string]any{"amount": "0.0000001"}, http.StatusBadRequest, "request/invalid-amount"},
		{"unknown account", http.MethodPost, "/v1/accounts/Z9/credit", map[string]any{"amount": "1"}, http.StatusNotFound, "account/not-found"},
		{"duplicate create", http.MethodPost, "/v1/accounts", map[string]any{"id": "A1", "initial_balance": "1", "currency": "USD"}, http.StatusConflict, "account/already-exists"},
		{"bad currency", http.MethodPost, "/v1/accounts", map[string]any{"id": "B1", "initial_balance": "1", "currency": "dollars"}, http.StatusBadRequest, "request/invalid-currency"},
		{"closed account", http.MethodPost, "/v1/accounts/C1/credit", map[string]any{"amount": "1"}, http.StatusConflict, "account/not-active"},
		{"reopen closed", http.MethodPut, "/v1/accounts/C1/status", map[string]any{"status": "active"}, http.StatusConflict, "account/invalid-transition"},
		{"unknown status", http.MethodPut, "/v1/accounts/A1/status", map[string]any{"status": "frozen"}, http.StatusBadRequest, "request/invalid-status"},
		{"unknown field", http.MethodPost, "/v1/accounts/A1/credit", map[string]any{"amount": "1", "memo": "x"}, http.StatusBadRequest, "request/invalid-body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(t, tt.method, tt.path, token, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.True(t, strings.HasSuffix(body["type"].(string), tt.typeSlug), body["type"])
		})
	}
}

func TestStatementNotFound(t *testing.T) {
	a := setupAPI(t)
	w := a.do(t, http.MethodGet, "/v1/accounts/nope/statement", a.token(t, "user"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = a.do(t, http.MethodGet, "/v1/accounts/nope/events", a.token(t, "user"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreditIdempotency(t *testing.T) {
	a := setupAPI(t)
	token := a.token(t, "user")
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/v1/accounts", token, map[string]any{"id": "A1", "initial_balance": "0", "currency": "USD"}).Code)

	key := uuid.NewString()
	first := a.do(t, http.MethodPost, "/v1/accounts/A1/credit", token, map[string]any{"amount": "5"}, "Idempotency-Key", key)
	require.Equal(t, http.StatusOK, first.Code)

	second := a.do(t, http.MethodPost, "/v1/accounts/A1/credit", token, map[string]any{"amount": "5"}, "Idempotency-Key", key)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "memory", second.Header().Get("X-Idempotent-Replay"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	conflict := a.do(t, http.MethodPost, "/v1/accounts/A1/credit", token, map[string]any{"amount": "6"}, "Idempotency-Key", key)
	assert.Equal(t, http.StatusConflict, conflict.Code)

	tooLong := a.do(t, http.MethodPost, "/v1/accounts/A1/credit", token, map[string]any{"amount": "5"}, "Idempotency-Key", strings.Repeat("k", 256))
	assert.Equal(t, http.StatusBadRequest, tooLong.Code)

	w := a.do(t, http.MethodGet, "/v1/accounts/A1/events", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	assert.Len(t, events, 2)
}

func TestAdminRoutes(t *testing.T) {
	a := setupAPI(t)
	user := a.token(t, "user")
	admin := a.token(t, middleware.RoleAdmin)

	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/v1/accounts", user, map[string]any{"id": "A1", "initial_balance": "100", "currency": "USD"}).Code)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/v1/accounts/A1/debit", user, map[string]any{"amount": "30"}).Code)
	before := a.awaitStatement(t, "A1", func(s service.AccountStatement) bool { return len(s.Operations) == 1 })

	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodPost, "/v1/admin/replay", user, nil).Code)

	w := a.do(t, http.MethodPost, "/v1/admin/replay", admin, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	after := a.awaitStatement(t, "A1", func(s service.AccountStatement) bool { return len(s.Operations) == 1 })
	assert.True(t, before.Account.Balance.Equal(after.Account.Balance))
	assert.Equal(t, before.Operations, after.Operations)

	w = a.do(t, http.MethodPost, "/v1/admin/reconcile", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report service.ReconciliationReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Checked)
	assert.Empty(t, report.Mismatches)
}

func TestWatchAccountStreamsUpdates(t *testing.T) {
	a := setupAPI(t)
	server := httptest.NewServer(a.handler)
	defer server.Close()
	token := a.token(t, "user")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/v1/accounts/A1/watch", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": subscribed\n", line)

	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/v1/accounts", token, map[string]any{"id": "B1", "initial_balance": "1", "currency": "USD"}).Code)
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/v1/accounts", token, map[string]any{"id": "A1", "initial_balance": "100", "currency": "USD"}).Code)

	var update live.Update
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			require.NoError(t, json.Unmarshal([]byte(data), &update))
			break
		}
	}
	assert.Equal(t, "A1", update.AccountID)
	assert.Equal(t, account.EventTypeCreated, update.Type)
	assert.Equal(t, "100", update.Amount.String())
}

func TestHealthAndMetrics(t *testing.T) {
	a := setupAPI(t)

	cases := []struct {
		name string
		path string
	}{
		{name: "live", path: "/health/live"},
		{name: "ready", path: "/health/ready"},
		{name: "metrics", path: "/metrics"},
		{name: "openapi", path: "/openapi.yaml"},
		{name: "swagger", path: "/swagger/index.html"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := a.do(t, http.MethodGet, tc.path, "", nil)
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestUnknownRouteIsProblem(t *testing.T) {
	a := setupAPI(t)
	w := a.do(t, http.MethodGet, "/v2/nothing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
}
