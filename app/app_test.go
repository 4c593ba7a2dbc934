package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consy/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		DBDriver:          "sqlite3",
		DatabaseURL:       ":memory:",
		LogLevel:          "info",
		LogFormat:         "text",
		RateLimitRPS:      100,
		RateLimitBurst:    100,
		RedisChannel:      "consy-events",
		ReconcileSchedule: "@every 10m",
		HistoryLimit:      50,
		ShutdownTimeout:   time.Second,
	}
}

func TestAppServesAndCloses(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()

	a, err := New(ctx, testConfig(), logger)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))

	srv := httptest.NewServer(a.Router)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Post(srv.URL+"/api/users/alice", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/users/alice", strings.NewReader(`{"username":"alice"}`))
	require.NoError(t, err)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, a.Close(closeCtx))
}

func TestAppRejectsBadRedisURL(t *testing.T) {
	cfg := testConfig()
	cfg.RedisURL = "not a url"
	logger, _ := test.NewNullLogger()

	_, err := New(context.Background(), cfg, logger)
	assert.Error(t, err)
}

func TestAppRejectsBadSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.ReconcileSchedule = "sometimes"
	logger, _ := test.NewNullLogger()

	a, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer a.Close(context.Background())
	assert.Error(t, a.Start(context.Background()))
}
