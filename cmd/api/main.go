package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/provex-go-api/internal/config"
	"github.com/noah-isme/provex-go-api/internal/database"
	"github.com/noah-isme/provex-go-api/internal/handler"
	"github.com/noah-isme/provex-go-api/internal/middleware"
	"github.com/noah-isme/provex-go-api/internal/models"
	"github.com/noah-isme/provex-go-api/internal/repository"
	"github.com/noah-isme/provex-go-api/internal/router"
	"github.com/noah-isme/provex-go-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Student{},
		&models.ExamSession{},
		&models.Violation{},
		&models.CompatibilitySnapshot{},
		&models.ActiveLease{},
		&models.ViolationRollup{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
	} else {
		logger.Warn().Msg("nats url not configured; contested-lease events stay node-local")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	studentRepo := repository.NewStudentRepository(db)
	violationRepo := repository.NewViolationRepository(db)
	sessionRepo := repository.NewExamSessionRepository(db)
	leaseRepo := repository.NewActiveLeaseRepository(db)
	snapshotRepo := repository.NewCompatibilitySnapshotRepository(db)
	rollupRepo := repository.NewViolationRollupRepository(db)

	streamService := service.NewLeaseStreamService(natsConn, cfg.EventChannelBase, logger)
	linkageService := service.NewLinkageService(db, violationRepo, studentRepo, validate, logger)
	leaseService := service.NewLeaseService(leaseRepo, redisClient, streamService, cfg.LeaseExpiry, validate, logger)
	reconciliationService := service.NewReconciliationService(violationRepo, sessionRepo, logger)
	rollupService := service.NewRollupService(violationRepo, rollupRepo, redisClient, cfg.RollupCacheTTL, logger)
	snapshotService := service.NewSnapshotService(snapshotRepo, sessionRepo, validate, logger)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	streamService.Start(rootCtx)

	violationHandler := handler.NewViolationHandler(linkageService, validate, logger)
	leaseHandler := handler.NewLeaseHandler(leaseService, streamService, validate, logger)
	snapshotHandler := handler.NewSnapshotHandler(snapshotService, validate, logger)
	rollupHandler := handler.NewRollupHandler(rollupService, logger)
	reconciliationHandler := handler.NewReconciliationHandler(reconciliationService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ViolationHandler:      violationHandler,
		LeaseHandler:          leaseHandler,
		SnapshotHandler:       snapshotHandler,
		RollupHandler:         rollupHandler,
		ReconciliationHandler: reconciliationHandler,
		JWTMiddleware:         middleware.JWTProtected(cfg.JWTSecret),
		OperatorOnly:          middleware.RequireRole("operator", "admin"),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
