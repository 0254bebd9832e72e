// Package api wires application dependencies and the HTTP router.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ledgerlite/ledgerlite/internal/domain/categorization"
	categorizationhandler "github.com/ledgerlite/ledgerlite/internal/domain/categorization/handler"
	importhandler "github.com/ledgerlite/ledgerlite/internal/domain/imports/handler"
	importrepo "github.com/ledgerlite/ledgerlite/internal/domain/imports/repository"
	importservice "github.com/ledgerlite/ledgerlite/internal/domain/imports/service"
	"github.com/ledgerlite/ledgerlite/pkg/config"
	"github.com/ledgerlite/ledgerlite/pkg/cron"
	"github.com/ledgerlite/ledgerlite/pkg/db"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	// Repositories
	ImportRepo         importrepo.ImportRepository
	CategorizationRepo *categorization.Repository

	// Services
	ImportService         *importservice.ImportService
	CategorizationService *categorization.Service
	Scheduler             *cron.Scheduler

	// Handlers
	ImportHandler         *importhandler.ImportHandler
	CategorizationHandler *categorizationhandler.CategorizationHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	deps.initRepositories()

	if err := deps.initServices(ctx); err != nil {
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed")
	return nil
}

func (d *Dependencies) initRepositories() {
	d.ImportRepo = importrepo.NewPostgresImportRepository(d.DB.Pool)
	d.CategorizationRepo = categorization.NewRepository(d.DB.Pool)
}

func (d *Dependencies) initServices(ctx context.Context) error {
	d.ImportService = importservice.NewImportService(d.ImportRepo, d.Logger)

	// Without an API key the AI stage is disabled; rules still apply
	var classifier categorization.Classifier
	if d.Config.Gemini.APIKey != "" {
		gemini, err := categorization.NewGeminiClassifier(ctx, d.Config.Gemini)
		if err != nil {
			return fmt.Errorf("failed to init classifier: %w", err)
		}
		classifier = gemini
	} else {
		d.Logger.Warn("no Gemini API key configured, AI categorization disabled")
	}

	d.CategorizationService = categorization.NewService(
		d.CategorizationRepo, classifier, d.Config.Categorizer, d.Logger)

	d.Scheduler = cron.NewScheduler(d.CategorizationService, d.Logger)
	return nil
}

func (d *Dependencies) initHandlers() {
	d.ImportHandler = importhandler.NewImportHandler(d.ImportService, d.Logger)
	d.CategorizationHandler = categorizationhandler.NewCategorizationHandler(d.CategorizationService, d.Logger)
}

// Cleanup releases held resources
func (d *Dependencies) Cleanup() {
	if d.Scheduler != nil {
		<-d.Scheduler.Stop().Done()
	}
	if d.DB != nil {
		d.DB.Close()
	}
}
