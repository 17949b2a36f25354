package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"panel-sync-service/internal/config"
	"panel-sync-service/internal/notify"
	"panel-sync-service/internal/orchestrator"
	"panel-sync-service/internal/panel"
	"panel-sync-service/internal/scheduler"
	"panel-sync-service/internal/settings"
	"panel-sync-service/internal/store"
	"panel-sync-service/internal/synclog"
	httptransport "panel-sync-service/internal/transport/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

var startTime time.Time

func main() {
	startTime = time.Now()
	cfg := config.Load()

	db, err := store.Open(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to connect to DB: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		log.Fatalf("❌ Failed to migrate: %v", err)
	}
	if err := store.SeedDefaultSettings(db); err != nil {
		log.Fatalf("❌ Failed to seed default settings: %v", err)
	}
	log.Println("✅ [DB] connected, migrated & defaults seeded")

	settingsStore := settings.NewStore(db)
	logStore := synclog.NewStore(db)
	notifier := notify.NewNotifier(cfg, settingsStore)

	panels := []panel.Client{
		panel.NewPterodactyl(settingsStore),
		panel.NewVirtFusion(settingsStore),
	}
	orch := orchestrator.New(db, settingsStore, logStore, panels, notifier)
	log.Printf("🔄 [SYNC] orchestrator initialized (%d panel adapters)", len(panels))

	sched := scheduler.New(settingsStore, logStore, orch)
	sched.Start()

	app := fiber.New(fiber.Config{
		AppName:      "panel-sync-service",
		ErrorHandler: customErrorHandler,
	})

	app.Use(recover.New())

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Service-Token",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Use(logger.New(logger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))

	syncHandler := httptransport.NewSyncHandler(db, settingsStore, logStore, orch)

	adminRoutes := app.Group("/api/admin", serviceAuth(cfg))
	adminRoutes.Get("/sync", syncHandler.GetStatus)
	adminRoutes.Post("/sync", syncHandler.Trigger)
	adminRoutes.Post("/sync/cancel", syncHandler.Cancel)
	adminRoutes.Get("/sync/logs", syncHandler.Logs)
	adminRoutes.Get("/sync/settings", syncHandler.GetSettings)
	adminRoutes.Post("/sync/settings", syncHandler.UpdateSettings)
	log.Println("✅ [ROUTES] Registered admin routes: /api/admin/sync*")

	app.Get("/health", func(c *fiber.Ctx) error {
		uptime := time.Since(startTime).Round(time.Second)
		status, _ := logStore.Status(c.Context())
		return c.JSON(fiber.Map{
			"status":     "ok",
			"service":    "panel-sync-service",
			"uptime":     uptime.String(),
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"is_syncing": status.LastRunning != nil,
		})
	})
	log.Println("✅ [ROUTES] Registered /health")

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("🛑 [SHUTDOWN] Graceful shutdown initiated...")
		sched.Stop()
		if orch.Cancel() {
			log.Println("🛑 [SHUTDOWN] Requested cancellation of active sync run")
		}
		settingsStore.Close()
		if err := app.Shutdown(); err != nil {
			log.Printf("❌ [SHUTDOWN] Error: %v", err)
		}
	}()

	log.Printf("🚀 panel-sync-service starting...")
	log.Printf("   🔗 Listening on port: %s", cfg.ServerPort)
	log.Printf("   🛡️  Service token prefix: %s******", cfg.ServiceExpectedToken[:6])
	log.Println("✅ Server ready.")

	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		log.Fatalf("❌ [STARTUP] Server failed to start: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var errMsg string
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		errMsg = e.Message
	} else {
		errMsg = err.Error()
	}
	log.Printf("🔥 [ERROR] [%d] %s %s → %v | IP=%s", code, c.Method(), c.Path(), errMsg, c.IP())
	return c.Status(code).JSON(fiber.Map{
		"error": "something went wrong",
	})
}

func serviceAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Get("X-Service-Token")
		if token == "" {
			authHeader := c.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}
		if token != cfg.ServiceExpectedToken {
			log.Printf("[SERVICE-AUTH] ❌ REJECTED | IP=%s | Path=%s", c.IP(), c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized: invalid or missing service token",
			})
		}
		return c.Next()
	}
}
