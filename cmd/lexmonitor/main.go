package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/lexmonitor/LexMonitor/app/controllers"
	"github.com/lexmonitor/LexMonitor/internal/pkg/cache"
	"github.com/lexmonitor/LexMonitor/internal/pkg/database"
	"github.com/lexmonitor/LexMonitor/internal/pkg/env"
	"github.com/lexmonitor/LexMonitor/internal/pkg/jobqueue"
	"github.com/lexmonitor/LexMonitor/internal/pkg/payments"
	"github.com/lexmonitor/LexMonitor/internal/pkg/router"
)

func main() {
	app := NewApplication()

	// Shut the job queue down before the HTTP listener so in-flight webhook
	// jobs finish against a live DB connection.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("[App] Shutdown signal received")
		jobqueue.GetManager().Stop()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Fatal(err)
	}
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	gateway := payments.NewNetopiaClientFromEnv()
	if err := gateway.Validate(); err != nil {
		log.Fatalf("[App] Netopia configuration invalid: %v", err)
	}

	service := payments.NewServiceFromDB(database.GetDB(), gateway)
	controllers.InitializePaymentController(service)

	// Webhook jobs claimed by the controller are processed asynchronously.
	jobqueue.SetWebhookProcessor(service)
	jobqueue.GetManager().Start()

	app := fiber.New(fiber.Config{
		AppName: "LexMonitor Payments",
	})

	app.Use(recover.New(), logger.New())

	router.InstallRouter(app)

	return app
}
