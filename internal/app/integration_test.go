//go:build integration

package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anonchat/edgeworker/internal/config"
	"github.com/anonchat/edgeworker/internal/fetch"
	"github.com/anonchat/edgeworker/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const specPath = "../../api/openapi/openapi.yaml"

func postgresConfig(t *testing.T, upstreamURL string) *config.Config {
	t.Helper()
	ctx := context.Background()

	pg, err := testutil.NewPostgresContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	cfg := testConfig(upstreamURL)
	cfg.Storage.Driver = config.DriverPostgres
	cfg.Database.URL = pg.ConnectionString
	cfg.Database.AutoMigrate = true
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) (*App, *testutil.Client) {
	t.Helper()
	ctx := context.Background()

	a, err := New(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))

	srv := httptest.NewServer(a.Router())
	stop := func() {
		srv.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(shutdownCtx)
	}
	t.Cleanup(stop)

	return a, testutil.NewClientWithValidation(t, srv.URL, specPath)
}

func TestIntegration_QueueSurvivesRestart(t *testing.T) {
	upstream := newFakeApp(t)
	cfg := postgresConfig(t, upstream.server.URL)

	first, client := startApp(t, cfg)

	resp, err := client.GET("/readyz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	upstream.offline.Store(true)

	resp, err = client.POST("/api/messages/send", map[string]string{"content": "hello", "sessionId": "s-1"})
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var queued fetch.QueuedResponse
	testutil.DecodeJSON(t, resp, &queued)
	assert.True(t, queued.Queued)

	resp, err = client.GET("/sw/queue")
	require.NoError(t, err)
	var status struct {
		Data QueueStatus `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &status)
	require.Equal(t, 1, status.Data.Pending)
	assert.Equal(t, "s-1", status.Data.Messages[0].SessionID)

	// The durable record outlives the process.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	require.NoError(t, first.Shutdown(shutdownCtx))
	cancel()

	stored, err := ListQueued(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, queued.MessageID, stored[0].ID)

	upstream.offline.Store(false)
	second, _ := startApp(t, cfg)

	assert.Eventually(t, func() bool { return second.Queue().Len() == 0 }, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, int32(1), upstream.sends.Load())

	stored, err = ListQueued(context.Background(), cfg)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestIntegration_WorkerEndpointsMatchOpenAPI(t *testing.T) {
	upstream := newFakeApp(t)
	_, client := startApp(t, postgresConfig(t, upstream.server.URL))

	resp, err := client.GET("/version")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = client.POST("/sw/push", []byte(`{"title":"Hi","data":{"sessionId":"s-9"}}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = client.POST("/sw/notifications/click", map[string]any{
		"action":       "reply",
		"notification": map[string]any{"data": map[string]string{"sessionId": "s-9"}},
	})
	require.NoError(t, err)
	var click struct {
		Data struct {
			URL        string `json:"url"`
			OpenWindow bool   `json:"openWindow"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &click)
	assert.True(t, click.Data.OpenWindow)
	assert.Contains(t, click.Data.URL, "session=s-9&focus=input")

	resp, err = client.POST("/sw/messages", map[string]any{"type": "NOPE"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	_ = resp.Body.Close()
}
