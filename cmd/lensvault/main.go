package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/LensVaultHQ/LensVault/app/controllers"
	"github.com/LensVaultHQ/LensVault/internal/pkg/billing"
	"github.com/LensVaultHQ/LensVault/internal/pkg/cache"
	"github.com/LensVaultHQ/LensVault/internal/pkg/database"
	"github.com/LensVaultHQ/LensVault/internal/pkg/env"
	"github.com/LensVaultHQ/LensVault/internal/pkg/jobqueue"
	"github.com/LensVaultHQ/LensVault/internal/pkg/mail"
	"github.com/LensVaultHQ/LensVault/internal/pkg/notify"
	"github.com/LensVaultHQ/LensVault/internal/pkg/payments"
	"github.com/LensVaultHQ/LensVault/internal/pkg/quota"
	"github.com/LensVaultHQ/LensVault/internal/pkg/router"
)

func main() {
	app, manager := NewApplication()

	// Graceful shutdown: drain the queue before the listener dies.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Println("Shutting down...")
		manager.Stop()
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()

	registry, err := payments.NewRegistryFromEnv(cache.NewStore())
	if err != nil {
		log.Fatalf("payment providers: %v", err)
	}

	manager := jobqueue.GetManager()
	queue := manager.GetQueue()

	repo := billing.NewRepository(db)
	notifier := notify.NewBillingNotifier(repo, queue, db)
	quotaUpdater := quota.NewRedisUpdater()
	reconciler := billing.NewService(repo, notifier, quotaUpdater)
	ingestor := billing.NewIngestor(registry, reconciler, repo, jobqueue.NewEnqueuer(queue))
	downgrades := billing.NewDowngradeService(repo, registry, reconciler, notify.NewAdminMailer(queue))

	queue.SetWebhookReprocessor(ingestor)
	queue.SetEmailSender(mail.Sender{})
	manager.RegisterMaintenance("expire_downgrade_requests", func() error {
		_, err := downgrades.ExpireStaleRequests(context.Background())
		return err
	})
	manager.Start()

	controllers.SetupBillingServices(&controllers.BillingServices{
		Registry:   registry,
		Repo:       repo,
		Reconciler: reconciler,
		Ingestor:   ingestor,
		Downgrades: downgrades,
	})

	app := fiber.New(fiber.Config{
		AppName: "LensVault",
	})

	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	// Webhook endpoints get their own, looser limiter; the /api group
	// installs a stricter one in the router.
	app.Use("/webhooks", limiter.New(limiter.Config{Max: 300}))

	router.InstallRouter(app)

	return app, manager
}
