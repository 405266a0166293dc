package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"automation-engine/internal/common/logging"
	"automation-engine/internal/config"
	"automation-engine/internal/modules"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	logging.SetGlobalLogger(logging.NewNopLogger())
	t.Setenv("DATABASE_PATH", filepath.Join(t.TempDir(), "engine.db"))
	t.Setenv("ADMIN_TOKEN", "admin-token")
	t.Setenv("INBOUND_WEBHOOK_SECRET", "inbound-secret")
	t.Setenv("SCHEDULER_POLL_INTERVAL", "50ms")
	t.Setenv("WEBHOOK_POLL_INTERVAL", "50ms")
	for k, v := range env {
		t.Setenv(k, v)
	}
	cfg := config.Load()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestAppWiresRedisAndRoutes(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, map[string]string{
		"REDIS_ADDRESS":     mr.Addr(),
		"EVENT_BROKER_TYPE": "redis",
	})

	a, err := New(context.Background(), cfg, "test")
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Redis)
	assert.NotNil(t, a.Broker)
	assert.NotNil(t, a.Limiter)
	assert.True(t, a.Modules.Has(modules.WebhookSendID))
	assert.True(t, a.Modules.Has(modules.BrokerPublishID))

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var health struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, map[string]string{"database": "ok", "redis": "ok", "broker": "ok"}, health.Checks)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(srv.URL + "/api/modules")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/modules", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var mods struct {
		Modules []string `json:"modules"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&mods))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, mods.Modules, modules.LogID)
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Limit"))
}

func TestAppLocalFallbacks(t *testing.T) {
	cfg := testConfig(t, map[string]string{"RATE_LIMIT_ENABLED": "false"})

	a, err := New(context.Background(), cfg, "test")
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Redis)
	assert.Nil(t, a.Broker)
	assert.Nil(t, a.Limiter)
	assert.NotNil(t, a.Locks)
	assert.False(t, a.Modules.Has(modules.BrokerPublishID))
}

func TestBrokerNeedsRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	cfg := testConfig(t, map[string]string{
		"REDIS_ADDRESS":     mr.Addr(),
		"EVENT_BROKER_TYPE": "redis",
	})
	mr.Close()

	_, err = New(context.Background(), cfg, "test")
	assert.Error(t, err)
}

func TestInboundWebhookQueuesEvent(t *testing.T) {
	cfg := testConfig(t, nil)
	a, err := New(context.Background(), cfg, "test")
	require.NoError(t, err)
	defer a.Close()

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	deliver := func(token string) int {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/inbound/github", strings.NewReader(`{"action":"opened"}`))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Delivery-ID", "delivery-1")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusAccepted, deliver("inbound-secret"))
	assert.Equal(t, http.StatusOK, deliver("inbound-secret"), "redelivery is dropped")
	assert.Equal(t, 1, a.Events.Pending())
	assert.Equal(t, http.StatusUnauthorized, deliver("admin-token"))
}

func TestStartAndShutdown(t *testing.T) {
	cfg := testConfig(t, nil)
	a, err := New(context.Background(), cfg, "test")
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))
	require.NoError(t, a.Shutdown(ctx))
}
