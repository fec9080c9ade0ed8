package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/controllers"
)

// Router installs one group of routes
type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the handlers and middleware the routers mount
type Dependencies struct {
	Webhook        *controllers.SyncWebhookController
	Admin          *controllers.AdminSyncController
	AdminAPIKey    string
	LimiterStorage fiber.Storage
	WebhookLimit   int
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewHealthRouter(), NewWebhookRouter(deps), NewAdminRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
