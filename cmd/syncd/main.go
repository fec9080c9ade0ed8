package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/controllers"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/cache"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/constants"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/database"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/engine"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/env"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/middleware"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/router"
)

const shutdownTimeout = 30 * time.Second

func main() {
	env.SetupEnvFile()

	db, err := database.SetupDatabase()
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}
	rdb := cache.SetupCache()

	eng := engine.New(db, rdb, engine.ConfigFromEnv())
	app := NewApplication(eng)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Manager.Start(ctx); err != nil {
		log.Fatalf("Could not start sync engine: %v", err)
	}

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Printf("Server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	// stop accepting webhooks before the workers drain
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	eng.Manager.Stop()

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = rdb.Close()
}

func NewApplication(eng *engine.Engine) *fiber.App {
	// Define possible base paths
	basePaths := []string{
		"./",     // Current directory
		"../../", // From cmd/syncd to project root
	}

	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + constants.OpenAPISpecPath); err == nil {
			basePath = path
			break
		}
	}

	app := fiber.New(fiber.Config{
		AppName:   "syncd",
		BodyLimit: 4 * 1024 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	if password := env.GetEnv("METRICS_PASSWORD", ""); password != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{
				env.GetEnv("METRICS_USER", "admin"): password,
			},
		}), monitor.New())
	}

	// SWAGGER / OPENAPI
	if basePath != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: constants.DocsBasePath,
			FilePath: basePath + constants.OpenAPISpecPath,
			Path:     constants.OpenAPIDocVersion,
		}))
	} else {
		log.Println("OpenAPI document not found, serving without docs")
	}

	proxyHeader := env.GetEnv("APP_PROXY_HEADER", "")

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Webhook: controllers.NewSyncWebhookController(eng.Ingress, proxyHeader),
		Admin: controllers.NewAdminSyncController(
			eng.Manager,
			eng.Queue,
			eng.Scheduler,
			eng.Counters,
			eng.Repositories.Company,
			eng.Repositories.Setting,
		),
		AdminAPIKey:    env.GetEnv("ADMIN_API_KEY", ""),
		LimiterStorage: middleware.NewLimiterStorage(cache.Options()),
		WebhookLimit:   env.GetEnvInt("WEBHOOK_RATE_LIMIT", middleware.DefaultWebhookLimit),
	})

	return app
}
