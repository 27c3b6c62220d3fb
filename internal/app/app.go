package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/verdant-edge/internal/config"
	"github.com/yungbote/verdant-edge/internal/observability"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
	"github.com/yungbote/verdant-edge/internal/server"
)

const serviceName = "verdant-edge"

// workerStartAttempts bounds how often the offline cache worker retries its
// install when the origin is not up yet.
const workerStartAttempts = 5

type App struct {
	Log      *logger.Logger
	Cfg      *config.Config
	Router   *gin.Engine
	Storage  *Storage
	Services Services

	server           *server.Server
	shutdownTracing  func(context.Context) error
	workerRetryDelay time.Duration
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracing := observability.InitTracing(ctx, log, observability.TracingConfigFromEnv(serviceName, cfg.Env))

	st, err := resolveStorage(ctx, log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}

	serviceset, err := wireServices(log, cfg, st)
	if err != nil {
		_ = st.Close()
		log.Sync()
		return nil, err
	}

	if ran, err := serviceset.Migration.MigrateBookmarks(ctx); err != nil {
		log.Warn("Bookmark migration failed", "error", err)
	} else if ran {
		log.Info("Bookmark migration applied")
	}

	handlerset := wireHandlers(log, cfg, serviceset, st)
	middleware := wireMiddleware(log, cfg)
	router := wireRouter(log, cfg, handlerset, middleware, serviceset)

	return &App{
		Log:              log,
		Cfg:              cfg,
		Router:           router,
		Storage:          st,
		Services:         serviceset,
		server:           server.New(cfg.HTTP, log, router),
		shutdownTracing:  shutdownTracing,
		workerRetryDelay: 2 * time.Second,
	}, nil
}

// Run serves until ctx is cancelled, then shuts the server down gracefully.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.server == nil {
		return errors.New("app not initialized")
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go a.startWorker(workerCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Cfg.HTTP.ShutdownTimeout.Duration)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.Log.Warn("HTTP shutdown incomplete", "error", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// startWorker precaches the shell and activates the offline cache worker,
// retrying with a linear delay while the origin is unreachable.
func (a *App) startWorker(ctx context.Context) {
	w := a.Services.Worker
	for attempt := 1; attempt <= workerStartAttempts; attempt++ {
		err := w.Start(ctx)
		if err == nil {
			a.Log.Info("Offline cache worker activated", "precache", w.PrecacheName(), "runtime", w.RuntimeName())
			return
		}
		if ctx.Err() != nil {
			return
		}
		a.Log.Warn("Offline cache worker start failed", "attempt", attempt, "error", err)
		t := time.NewTimer(a.workerRetryDelay * time.Duration(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
	a.Log.Error("Offline cache worker gave up; requests pass through to the origin", "state", w.State())
}

func (a *App) Close() {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.Log.Warn("Tracing shutdown failed", "error", err)
		}
	}
	if a.Services.API != nil {
		a.Services.API.CancelAllRequests()
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Log.Warn("Storage close failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
