package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/stridelab/coach-backend/internal/db"
	"github.com/stridelab/coach-backend/internal/handlers"
	"github.com/stridelab/coach-backend/internal/middleware"
	"github.com/stridelab/coach-backend/internal/pkg/envutil"
	"github.com/stridelab/coach-backend/internal/pkg/logger"
	"github.com/stridelab/coach-backend/internal/server"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Services Services
	cancel   context.CancelFunc
}

func New() (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	reposet := wireRepos(theDB, log)
	serviceset, err := wireServices(theDB, log, cfg, reposet)
	if err != nil {
		log.Sync()
		return nil, err
	}

	onboardingHandler := handlers.NewOnboardingHandler(log, serviceset.Jobs, reposet.Runs, reposet.Messages, reposet.JobRuns)
	authMiddleware := middleware.NewAuthMiddleware(log, cfg.ServiceTokenSecret, cfg.ServiceTokenAudience)
	router := server.NewRouter(server.RouterConfig{
		ServiceName:       cfg.ServiceName,
		AllowOrigins:      cfg.AllowOrigins,
		OnboardingHandler: onboardingHandler,
		AuthMiddleware:    authMiddleware,
	})

	return &App{
		Log:      log,
		DB:       theDB,
		Router:   router,
		Cfg:      cfg,
		Repos:    reposet,
		Services: serviceset,
	}, nil
}

// Start launches the background worker. The HTTP server is run by the caller
// so it can own shutdown ordering.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	if a.Services.JobWorker != nil {
		a.Services.JobWorker.Start(ctx)
	}
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.Redis != nil {
		_ = a.Services.Redis.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
