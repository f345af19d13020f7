package config

import (
	"strings"
	"testing"
	"time"

	"github.com/ayo6706/account-cqrs/internal/account"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = strings.Repeat("s", 32)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, "account-updates", cfg.RedisUpdatesChannel)
	assert.False(t, cfg.AllowOverdraft)
	assert.Equal(t, account.StatusActive, cfg.InitialAccountStatus)
	assert.Equal(t, 3, cfg.CommandMaxRetries)
	assert.Equal(t, time.Second, cfg.ProjectionPollInterval)
	assert.Equal(t, 200, cfg.ProjectionBatchSize)
	assert.Equal(t, 64, cfg.SubscriberBuffer)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, "https://errors.account-cqrs.dev/", cfg.ProblemBaseURL)
	assert.Equal(t, account.Policy{InitialStatus: account.StatusActive}, cfg.Policy())
}

func TestLoad_PrefixedAliases(t *testing.T) {
	t.Setenv("ACCOUNTS_JWT_SECRET", testSecret)
	t.Setenv("ACCOUNTS_STORE_BACKEND", "Memory")
	t.Setenv("ACCOUNTS_ALLOW_OVERDRAFT", "true")
	t.Setenv("ACCOUNTS_INITIAL_ACCOUNT_STATUS", "suspended")
	t.Setenv("ACCOUNTS_PROBLEM_BASE_URL", "https://docs.example.com/problems")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.True(t, cfg.AllowOverdraft)
	assert.Equal(t, account.StatusSuspended, cfg.InitialAccountStatus)
	assert.Equal(t, "https://docs.example.com/problems", cfg.ProblemBaseURL)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing secret", map[string]string{"JWT_SECRET": ""}, "JWT_SECRET is required"},
		{"short secret", map[string]string{"JWT_SECRET": "short"}, "at least 32"},
		{"bad backend", map[string]string{"STORE_BACKEND": "sqlite"}, "STORE_BACKEND"},
		{"bad overdraft", map[string]string{"ALLOW_OVERDRAFT": "maybe"}, "ALLOW_OVERDRAFT"},
		{"bad status", map[string]string{"INITIAL_ACCOUNT_STATUS": "frozen"}, "INITIAL_ACCOUNT_STATUS"},
		{"closed status", map[string]string{"INITIAL_ACCOUNT_STATUS": "closed"}, "INITIAL_ACCOUNT_STATUS"},
		{"relative problem url", map[string]string{"PROBLEM_BASE_URL": "errors/"}, "PROBLEM_BASE_URL"},
		{"bad interval", map[string]string{"PROJECTION_POLL_INTERVAL": "soon"}, "PROJECTION_POLL_INTERVAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", testSecret)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
