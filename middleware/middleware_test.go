package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consy/metrics"
)

const secret = "test-secret"

func sign(t *testing.T, key, subject string, method jwt.SigningMethod, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetUserFromContext(r)))
	})
}

func TestIdentity(t *testing.T) {
	logger, _ := test.NewNullLogger()
	h := NewIdentity(secret, logger, "/healthz").Handler(echoUser())
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name   string
		path   string
		header string
		status int
		body   string
	}{
		{"valid bearer", "/api/x", "Bearer " + sign(t, secret, "alice", jwt.SigningMethodHS256, future), 200, "alice"},
		{"missing", "/api/x", "", 401, "Unauthorized"},
		{"basic scheme", "/api/x", "Basic abc", 401, "Unauthorized"},
		{"wrong key", "/api/x", "Bearer " + sign(t, "other", "alice", jwt.SigningMethodHS256, future), 401, "Invalid token"},
		{"expired", "/api/x", "Bearer " + sign(t, secret, "alice", jwt.SigningMethodHS256, time.Now().Add(-time.Hour)), 401, "Invalid token"},
		{"wrong alg", "/api/x", "Bearer " + sign(t, secret, "alice", jwt.SigningMethodHS512, future), 401, "Invalid token"},
		{"no subject", "/api/x", "Bearer " + sign(t, secret, "", jwt.SigningMethodHS256, future), 401, "Invalid token"},
		{"skipped path", "/healthz", "", 200, ""},
		{"query token", "/ws?token=" + sign(t, secret, "bob", jwt.SigningMethodHS256, future), "", 200, "bob"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tc.status, rr.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, tc.body, rr.Body.String())
				return
			}
			assert.JSONEq(t, `{"success":false,"message":"`+tc.body+`"}`, rr.Body.String())
		})
	}
}

func TestIdentityDisabled(t *testing.T) {
	logger, _ := test.NewNullLogger()
	m := NewIdentity("", logger)
	assert.False(t, m.Enabled())

	rr := httptest.NewRecorder()
	m.Handler(echoUser()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Body.String())
}

func TestRateLimiter(t *testing.T) {
	logger, hook := test.NewNullLogger()
	rl := NewRateLimiter(1, 2, logger)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	do := func(remote, user string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/x", nil)
		req.RemoteAddr = remote
		if user != "" {
			req = req.WithContext(WithUserID(req.Context(), user))
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, 200, do("10.0.0.1:1000", ""))
	assert.Equal(t, 200, do("10.0.0.1:1001", ""))
	assert.Equal(t, 429, do("10.0.0.1:1002", ""))
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	// Other callers have their own budget.
	assert.Equal(t, 200, do("10.0.0.2:1000", ""))
	assert.Equal(t, 200, do("10.0.0.1:1003", "alice"))
}

func TestRateLimiterCleanup(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rl := NewRateLimiter(1, 1, logger)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.getLimiter("old")
	now = now.Add(10 * time.Minute)
	rl.getLimiter("fresh")

	assert.Equal(t, 1, rl.Cleanup(5*time.Minute))
	assert.Len(t, rl.limiters, 1)
	assert.Contains(t, rl.limiters, "fresh")
}

func TestInstrumentRecordsRouteTemplate(t *testing.T) {
	logger, hook := test.NewNullLogger()
	m := metrics.New()

	r := mux.NewRouter()
	r.Use(Instrument(m, logger))
	r.HandleFunc("/api/posts/{id}/comments", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/posts/p1/comments", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "request", hook.LastEntry().Message)
	assert.Equal(t, 500, hook.LastEntry().Data["status"])

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() == "consy_store_errors_total" {
			found = true
			assert.Equal(t, "/api/posts/{id}/comments", f.GetMetric()[0].GetLabel()[0].GetValue())
		}
	}
	assert.True(t, found)
	n, err := testutil.GatherAndCount(m.Registry(), "consy_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
