package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testAdminSecret = "test-admin-secret-0123456789abcdef"

func testConfig() Config {
	return Config{
		Store:            StoreMemory,
		AdminJWTSecret:   testAdminSecret,
		AdminRoles:       []string{"service_role", "admin"},
		WSOriginRequired: true,
		WSAllowedOrigins: []string{"http://localhost"},
	}
}

func newTestApp(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()

	t.Setenv("BACKSTAGE_LOG_HMAC_KEY", "")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := New(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, bearer string, body any) *http.Response {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func TestApp_HealthAndReadiness(t *testing.T) {
	srv := newTestApp(t, testConfig())

	res := doJSON(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "nosniff", res.Header.Get("X-Content-Type-Options"))
	require.NotEmpty(t, res.Header.Get(requestIDHeader))

	res = doJSON(t, http.MethodGet, srv.URL+"/readyz", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestApp_ReadinessRequiresPersistentStore(t *testing.T) {
	cfg := testConfig()
	cfg.ReadinessRequireStore = true
	srv := newTestApp(t, cfg)

	res := doJSON(t, http.MethodGet, srv.URL+"/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestApp_CreateRedeemFlow(t *testing.T) {
	cfg := testConfig()
	srv := newTestApp(t, cfg)

	admin, err := IssueAdminToken(cfg, "ops@example.com", "admin", time.Minute)
	require.NoError(t, err)

	res := doJSON(t, http.MethodPost, srv.URL+"/invites", "", map[string]any{"max_uses": 2})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res = doJSON(t, http.MethodPost, srv.URL+"/invites", admin, map[string]any{"max_uses": 2, "owner_scope": "org_1"})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var created struct {
		ID      string `json:"id"`
		Code    string `json:"code"`
		MaxUses int    `json:"max_uses"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&created))
	require.Equal(t, 2, created.MaxUses)
	require.NotEmpty(t, created.Code)

	for want := 1; want >= 0; want-- {
		res = doJSON(t, http.MethodPost, srv.URL+"/invites/redeem", "", map[string]string{"code": strings.ToLower(created.Code)})
		require.Equal(t, http.StatusOK, res.StatusCode)
		var out struct {
			OK            bool   `json:"ok"`
			OwnerScope    string `json:"owner_scope"`
			RemainingUses int    `json:"remaining_uses"`
		}
		require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
		require.True(t, out.OK)
		require.Equal(t, "org_1", out.OwnerScope)
		require.Equal(t, want, out.RemainingUses)
	}

	res = doJSON(t, http.MethodPost, srv.URL+"/invites/redeem", "", map[string]string{"code": created.Code})
	require.Equal(t, http.StatusConflict, res.StatusCode)

	res = doJSON(t, http.MethodGet, srv.URL+"/metrics", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `backstage_invite_redemptions_total{result="ok"} 2`)
	require.Contains(t, string(body), `backstage_invite_redemptions_total{result="exhausted"} 1`)
	require.Contains(t, string(body), "backstage_invites_created_total 1")
}

func TestApp_AdminDisabledWithoutSecret(t *testing.T) {
	cfg := testConfig()
	cfg.AdminJWTSecret = ""
	srv := newTestApp(t, cfg)

	res := doJSON(t, http.MethodGet, srv.URL+"/invites", "whatever", nil)
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestNew_UnknownStore(t *testing.T) {
	t.Setenv("BACKSTAGE_LOG_HMAC_KEY", "")
	cfg := testConfig()
	cfg.Store = "etcd"

	_, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.ErrorContains(t, err, "unknown store")
}

func TestNew_PostgresWithoutURL(t *testing.T) {
	t.Setenv("BACKSTAGE_LOG_HMAC_KEY", "")
	cfg := testConfig()
	cfg.Store = StorePostgres

	_, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.ErrorContains(t, err, "BACKSTAGE_DATABASE_URL")
}

func TestIssueAdminToken(t *testing.T) {
	t.Parallel()

	cfg := testConfig()

	_, err := IssueAdminToken(cfg, "", "admin", time.Minute)
	require.Error(t, err)

	_, err = IssueAdminToken(cfg, "ops", "viewer", time.Minute)
	require.ErrorContains(t, err, "not in BACKSTAGE_ADMIN_ROLES")

	cfg.AdminJWTSecret = ""
	_, err = IssueAdminToken(cfg, "ops", "admin", time.Minute)
	require.ErrorContains(t, err, "BACKSTAGE_ADMIN_JWT_SECRET")
}
