package app

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/yungbote/verdant-edge/internal/apiclient"
	"github.com/yungbote/verdant-edge/internal/config"
	"github.com/yungbote/verdant-edge/internal/http/handlers"
	"github.com/yungbote/verdant-edge/internal/mockapi"
	"github.com/yungbote/verdant-edge/internal/offlinecache"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
	"github.com/yungbote/verdant-edge/internal/platform/sendgrid"
	"github.com/yungbote/verdant-edge/internal/services"
)

type Services struct {
	API       *apiclient.Client
	Bookmarks services.BookmarkService
	Lessons   services.LessonService
	Media     services.MediaService
	Email     services.EmailService
	Migration services.MigrationService

	Worker   *offlinecache.Worker
	Registry *offlinecache.ClientRegistry
}

func wireServices(log *logger.Logger, cfg *config.Config, st *Storage) (Services, error) {
	log.Info("Wiring services...")

	var transport http.RoundTripper
	if cfg.DevMode {
		log.Warn("Dev mode: platform API answered by the mock backend", "base_url", cfg.API.BaseURL)
		backend := mockapi.NewBackend(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Duration)
		transport = mockapi.NewTransport(backend.Router(), apiBasePath(cfg.API.BaseURL), cfg.API.MockLatency.Duration, log)
	}
	api, err := apiclient.NewFromConfig(cfg.API, st.KV, transport, log)
	if err != nil {
		return Services{}, fmt.Errorf("init api client: %w", err)
	}

	var mailer services.Mailer
	if strings.TrimSpace(cfg.Email.SendGridAPIKey) != "" {
		sg, err := sendgrid.New(log, sendgrid.Config{
			APIKey:           cfg.Email.SendGridAPIKey,
			DefaultFromEmail: cfg.Email.FromEmail,
			DefaultFromName:  cfg.Email.FromName,
		})
		if err != nil {
			return Services{}, fmt.Errorf("init sendgrid: %w", err)
		}
		mailer = sg
	} else {
		log.Warn("SENDGRID_API_KEY not set; emails are only recorded in the email log")
	}

	var notifier offlinecache.Notifier
	if st.Redis != nil {
		notifier = offlinecache.NewRedisNotifier(st.Redis, cfg.Redis.Channel)
	} else {
		notifier = offlinecache.NewMemoryNotifier(0)
	}
	registry := offlinecache.NewClientRegistry()
	worker, err := offlinecache.New(offlinecache.Options{
		Origin:        cfg.Origin.URL,
		Storage:       st.Cache,
		PrecacheName:  cfg.Cache.PrecacheName,
		RuntimeName:   cfg.Cache.RuntimeName,
		ShellURLs:     cfg.Cache.ShellURLs,
		ShellEntry:    cfg.Cache.ShellEntry,
		APIPrefix:     cfg.Cache.APIPrefix,
		MaxEntryBytes: cfg.Cache.MaxEntryBytes,
		Clients:       registry,
		Notifier:      notifier,
		Logger:        log,
	})
	if err != nil {
		return Services{}, fmt.Errorf("init offline cache worker: %w", err)
	}

	bookmarks := services.NewBookmarkService(st.KV, log)
	return Services{
		API:       api,
		Bookmarks: bookmarks,
		Lessons:   services.NewLessonService(api, bookmarks, cfg.API.Retries, cfg.API.RetryDelay.Duration, log),
		Media:     services.NewMediaService(st.KV, cfg.Media, cfg.HTTP.PublicBaseURL, log),
		Email:     services.NewEmailService(st.KV, mailer, cfg.Email.SupportEmail, cfg.Email.LogLimit, log),
		Migration: services.NewMigrationService(st.KV, log),
		Worker:    worker,
		Registry:  registry,
	}, nil
}

// apiBasePath is the path component of the API base URL ("/api").
func apiBasePath(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

// readinessChecks probes the stores the edge depends on.
func readinessChecks(st *Storage) map[string]handlers.ReadinessCheck {
	checks := map[string]handlers.ReadinessCheck{}
	if st.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return st.Redis.Ping(ctx).Err() }
	}
	checks["cache"] = func(ctx context.Context) error {
		_, err := st.Cache.Names(ctx)
		return err
	}
	return checks
}
