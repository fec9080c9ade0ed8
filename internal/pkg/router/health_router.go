package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/constants"
)

type HealthRouter struct {
}

func (h HealthRouter) InstallRouter(app *fiber.App) {
	app.Get(constants.HealthRoute, func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	})
}

func NewHealthRouter() *HealthRouter {
	return &HealthRouter{}
}
