package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/verdant-edge/internal/platform/envutil"
)

var DefaultShellURLs = []string{"/", "/dashboard", "/courses", "/index.html", "/manifest.json"}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	s := strings.TrimSpace(value.Value)
	if s == "" || s == "null" || s == "~" {
		d.Duration = 0
		return nil
	}
	if dd, err := time.ParseDuration(s); err == nil {
		d.Duration = dd
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("duration must be a string like \"5s\" or an int nanoseconds: %q", s)
	}
	d.Duration = time.Duration(n)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

func Default() *Config {
	return &Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: Duration{Duration: 5 * time.Second},
			IdleTimeout:       Duration{Duration: 2 * time.Minute},
			ShutdownTimeout:   Duration{Duration: 15 * time.Second},
			MaxRequestBytes:   25 << 20,
			PublicBaseURL:     "http://localhost:8080",
			AllowOrigins: []string{
				"http://localhost:3000",
				"http://localhost:5173",
				"http://127.0.0.1:3000",
				"http://127.0.0.1:5173",
			},
		},
		API: APIConfig{
			BaseURL:     "http://localhost:8080/api",
			Timeout:     Duration{Duration: 30 * time.Second},
			Retries:     2,
			RetryDelay:  Duration{Duration: 300 * time.Millisecond},
			MockLatency: Duration{Duration: 300 * time.Millisecond},
		},
		Origin: OriginConfig{
			URL:     "http://localhost:5173",
			Timeout: Duration{Duration: 15 * time.Second},
		},
		Cache: CacheConfig{
			Backend:       "memory",
			Version:       "v1",
			ShellURLs:     append([]string(nil), DefaultShellURLs...),
			ShellEntry:    "/index.html",
			APIPrefix:     "/api/",
			MaxEntryBytes: 5 << 20,
		},
		Storage: StorageConfig{Driver: "memory"},
		Redis: RedisConfig{
			Prefix:  "verdant:",
			Channel: "verdant:notifications",
		},
		Auth: AuthConfig{
			JWTSecret: "defaultsecret",
			TokenTTL:  Duration{Duration: time.Hour},
		},
		Email: EmailConfig{
			FromEmail:    "hello@verdant.earth",
			FromName:     "Verdant",
			SupportEmail: "support@verdant.earth",
			LogLimit:     50,
		},
		Media: MediaConfig{
			MaxBytes:         10 << 20,
			AllowedTypes:     []string{"image/jpeg", "image/png", "image/gif", "image/webp", "video/mp4", "application/pdf"},
			MaxWidth:         1920,
			MaxHeight:        1080,
			Quality:          0.8,
			ProgressInterval: Duration{Duration: 100 * time.Millisecond},
		},
	}
}

// Load layers defaults, an optional YAML file, .env and the environment, then
// validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	cfgPath := strings.TrimSpace(os.Getenv("VERDANT_CONFIG_PATH"))
	if cfgPath == "" {
		if wd, err := os.Getwd(); err == nil {
			p := filepath.Join(wd, "config", "config.yaml")
			if _, err := os.Stat(p); err == nil {
				cfgPath = p
			}
		}
	}
	if cfgPath != "" {
		b, err := os.ReadFile(cfgPath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", cfgPath, err)
		}
	}

	applyEnv(cfg)

	if err := normalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Env = envutil.String("LOG_MODE", cfg.Env)
	cfg.DevMode = envutil.Bool("VERDANT_DEV_MODE", cfg.DevMode)
	cfg.HTTP.Addr = envutil.String("VERDANT_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.PublicBaseURL = envutil.String("VERDANT_PUBLIC_BASE_URL", cfg.HTTP.PublicBaseURL)
	cfg.API.BaseURL = envutil.String("VERDANT_API_BASE_URL", cfg.API.BaseURL)
	cfg.API.Timeout.Duration = envutil.Duration("VERDANT_API_TIMEOUT", cfg.API.Timeout.Duration)
	cfg.Origin.URL = envutil.String("VERDANT_ORIGIN_URL", cfg.Origin.URL)
	cfg.Cache.Backend = envutil.String("VERDANT_CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.Version = envutil.String("VERDANT_CACHE_VERSION", cfg.Cache.Version)
	cfg.Storage.Driver = envutil.String("VERDANT_STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.DSN = envutil.String("VERDANT_STORAGE_DSN", cfg.Storage.DSN)
	cfg.Redis.Addr = envutil.String("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = envutil.String("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.Channel = envutil.String("REDIS_CHANNEL", cfg.Redis.Channel)
	cfg.Auth.JWTSecret = envutil.String("JWT_SECRET_KEY", cfg.Auth.JWTSecret)
	cfg.Email.SendGridAPIKey = envutil.String("SENDGRID_API_KEY", cfg.Email.SendGridAPIKey)
	cfg.Email.FromEmail = envutil.String("SENDGRID_FROM_EMAIL", cfg.Email.FromEmail)
	cfg.Email.FromName = envutil.String("SENDGRID_FROM_NAME", cfg.Email.FromName)
}

func normalize(cfg *Config) error {
	cfg.Env = strings.TrimSpace(cfg.Env)
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.MaxRequestBytes <= 0 {
		cfg.HTTP.MaxRequestBytes = 25 << 20
	}
	cfg.HTTP.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.HTTP.PublicBaseURL), "/")

	cfg.API.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.API.BaseURL), "/")
	if _, err := url.ParseRequestURI(cfg.API.BaseURL); err != nil {
		return fmt.Errorf("invalid api.base_url %q: %w", cfg.API.BaseURL, err)
	}
	if cfg.API.Retries < 0 {
		return errors.New("api.retries must be >= 0")
	}

	cfg.Origin.URL = strings.TrimRight(strings.TrimSpace(cfg.Origin.URL), "/")
	u, err := url.Parse(cfg.Origin.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid origin.url %q", cfg.Origin.URL)
	}

	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	switch cfg.Cache.Backend {
	case "", "memory":
		cfg.Cache.Backend = "memory"
	case "redis":
	default:
		return fmt.Errorf("invalid cache.backend=%q", cfg.Cache.Backend)
	}
	if strings.TrimSpace(cfg.Cache.Version) == "" {
		cfg.Cache.Version = "v1"
	}
	if strings.TrimSpace(cfg.Cache.PrecacheName) == "" {
		cfg.Cache.PrecacheName = "verdant-precache-" + cfg.Cache.Version
	}
	if strings.TrimSpace(cfg.Cache.RuntimeName) == "" {
		cfg.Cache.RuntimeName = "verdant-runtime-" + cfg.Cache.Version
	}
	if cfg.Cache.PrecacheName == cfg.Cache.RuntimeName {
		return errors.New("cache.precache_name and cache.runtime_name must differ")
	}
	if len(cfg.Cache.ShellURLs) == 0 {
		cfg.Cache.ShellURLs = append([]string(nil), DefaultShellURLs...)
	}
	if strings.TrimSpace(cfg.Cache.ShellEntry) == "" {
		cfg.Cache.ShellEntry = "/index.html"
	}
	if strings.TrimSpace(cfg.Cache.APIPrefix) == "" {
		cfg.Cache.APIPrefix = "/api/"
	}
	if cfg.Cache.MaxEntryBytes <= 0 {
		cfg.Cache.MaxEntryBytes = 5 << 20
	}

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	switch cfg.Storage.Driver {
	case "", "memory":
		cfg.Storage.Driver = "memory"
	case "sqlite":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			cfg.Storage.DSN = "verdant.db"
		}
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return errors.New("storage.dsn is required for postgres")
		}
	case "redis":
	default:
		return fmt.Errorf("invalid storage.driver=%q", cfg.Storage.Driver)
	}

	if (cfg.Storage.Driver == "redis" || cfg.Cache.Backend == "redis") && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis.addr (REDIS_ADDR) is required when a redis backend is selected")
	}

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if cfg.Auth.TokenTTL.Duration <= 0 {
		cfg.Auth.TokenTTL = Duration{Duration: time.Hour}
	}

	if cfg.Email.LogLimit <= 0 {
		cfg.Email.LogLimit = 50
	}

	if cfg.Media.MaxBytes <= 0 {
		cfg.Media.MaxBytes = 10 << 20
	}
	if cfg.Media.Quality <= 0 || cfg.Media.Quality > 1 {
		cfg.Media.Quality = 0.8
	}
	if cfg.Media.MaxWidth <= 0 {
		cfg.Media.MaxWidth = 1920
	}
	if cfg.Media.MaxHeight <= 0 {
		cfg.Media.MaxHeight = 1080
	}
	return nil
}
