package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/controllers"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/constants"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/middleware"
)

type WebhookRouter struct {
	controller *controllers.SyncWebhookController
	storage    fiber.Storage
	limit      int
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	webhooks := app.Group(constants.WebhookRoute, middleware.WebhookLimiter(h.storage, h.limit))
	webhooks.Post(constants.WebhookSyncRoute, h.controller.HandleWebhook)
}

func NewWebhookRouter(deps Dependencies) *WebhookRouter {
	return &WebhookRouter{controller: deps.Webhook, storage: deps.LimiterStorage, limit: deps.WebhookLimit}
}
