package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/garyjia/staffops-approval/internal/audit"
	"github.com/garyjia/staffops-approval/internal/config"
	"github.com/garyjia/staffops-approval/internal/directory"
	"github.com/garyjia/staffops-approval/internal/engine"
	httpadapter "github.com/garyjia/staffops-approval/internal/interfaces/http"
	"github.com/garyjia/staffops-approval/internal/models"
	"github.com/garyjia/staffops-approval/internal/notify"
	"github.com/garyjia/staffops-approval/internal/registry"
	"github.com/garyjia/staffops-approval/internal/repository"
	"github.com/garyjia/staffops-approval/internal/resolver"
	"github.com/garyjia/staffops-approval/internal/scheduler"
	"github.com/garyjia/staffops-approval/internal/worker"
	"github.com/garyjia/staffops-approval/pkg/database"
	"github.com/garyjia/staffops-approval/pkg/utils"
)

func main() {
	// Local development overrides, ignored when missing
	_ = gotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Approval Workflow Engine",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	// Initialize database
	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Repositories
	flowRepo := repository.NewFlowRepository(db, logger)
	instanceRepo := repository.NewInstanceRepository(db.DB, logger)
	actionRepo := repository.NewActionRepository(db.DB, logger)
	overrideRepo := repository.NewOverrideRepository(db.DB, logger)
	notificationRepo := repository.NewNotificationRepository(db.DB, logger)

	// Core services
	flowRegistry := registry.NewService(flowRepo, logger)
	orgDirectory := directory.NewSQLDirectory(db.DB, logger)
	approverResolver := resolver.New(orgDirectory, logger)

	outbox := notify.NewOutbox(notificationRepo, logger)
	auditSink := audit.NewLogSink(logger)

	processor := engine.NewProcessor(
		db,
		instanceRepo,
		actionRepo,
		overrideRepo,
		flowRegistry,
		approverResolver,
		outbox,
		auditSink,
		&resolutionLogger{logger: logger},
		logger,
	)

	// Background workers
	workers := worker.NewManager(logger)
	if cfg.Scheduler.Enabled {
		workers.Register(scheduler.NewSweeper(
			db,
			instanceRepo,
			overrideRepo,
			flowRegistry,
			approverResolver,
			processor,
			outbox,
			cfg.Scheduler.SweepSchedule,
			logger,
		))
	}
	if cfg.Notifier.Enabled {
		workers.Register(notify.NewDispatcher(
			notificationRepo,
			notify.NewLogSender(logger),
			logger,
			cfg.Notifier.DrainInterval,
			cfg.Notifier.BatchSize,
		))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := workers.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start background workers", zap.Error(err))
	}

	server := httpadapter.NewServer(httpadapter.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, flowRegistry, processor, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(ctx)
	}()

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutting down...")
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	cancel()
	workers.StopAll()
	if err := server.Stop(); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}

// resolutionLogger records terminal instances in the service log. It is
// the hook point for downstream systems reacting to final outcomes.
type resolutionLogger struct {
	logger *zap.Logger
}

func (r *resolutionLogger) InstanceResolved(_ context.Context, instance *models.ApprovalInstance) {
	r.logger.Info("Instance resolved",
		zap.Int64("id", instance.ID),
		zap.String("code", instance.Code),
		zap.String("target_type", instance.TargetType),
		zap.String("target_id", instance.TargetID),
		zap.String("status", instance.Status))
}
