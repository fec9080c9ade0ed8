package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/controllers"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/constants"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/middleware"
)

type AdminRouter struct {
	controller *controllers.AdminSyncController
	apiKey     string
}

func (h AdminRouter) InstallRouter(app *fiber.App) {
	admin := app.Group(constants.AdminSyncRoute, middleware.AdminAPIKey(h.apiKey))

	admin.Post("/refresh", h.controller.HandleRefresh)
	admin.Get("/schedules", h.controller.HandleSchedules)
	admin.Get("/stats", h.controller.HandleStats)

	// dead letters
	admin.Get("/dead-letters", h.controller.HandleDeadLetters)
	admin.Post("/dead-letters/:id/retry", h.controller.HandleRetryDeadLetter)
	admin.Delete("/dead-letters/:id", h.controller.HandleDeleteDeadLetter)

	admin.Get("/jobs/:id", h.controller.HandleJob)
	admin.Post("/companies/:companyId/trigger/:type", h.controller.HandleTrigger)
	admin.Put("/companies/:companyId/integration", h.controller.HandleUpdateIntegration)
	admin.Post("/master-trigger", h.controller.HandleMasterTrigger)
	admin.Put("/settings/cron", h.controller.HandleUpdateCron)
}

func NewAdminRouter(deps Dependencies) *AdminRouter {
	return &AdminRouter{controller: deps.Admin, apiKey: deps.AdminAPIKey}
}
