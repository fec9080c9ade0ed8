package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/controllers"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/webhook"
)

type stubIngress struct{ calls int }

func (s *stubIngress) Handle(ctx context.Context, req webhook.Request) (*webhook.Ack, error) {
	s.calls++
	return &webhook.Ack{Status: "queued", Type: req.SyncType, Message: "Sync job accepted"}, nil
}

type stubRefresher struct{}

func (stubRefresher) RefreshScheduler(ctx context.Context) (int, error) { return 0, nil }

func newTestApp(ingress *stubIngress) *fiber.App {
	app := fiber.New()
	InstallRouter(app, Dependencies{
		Webhook:      controllers.NewSyncWebhookController(ingress, ""),
		Admin:        controllers.NewAdminSyncController(stubRefresher{}, nil, nil, nil, nil, nil),
		AdminAPIKey:  "secret",
		WebhookLimit: 100,
	})
	return app
}

func TestRoutes(t *testing.T) {
	ingress := &stubIngress{}
	app := newTestApp(ingress)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/sync/member/c1", strings.NewReader(`{"id":"u1"}`))
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, ingress.calls)

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/admin/sync/refresh", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/admin/sync/refresh", nil)
	req.Header.Set("X-API-Key", "secret")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
