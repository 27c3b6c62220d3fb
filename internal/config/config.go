package config

import "time"

type Duration struct {
	Duration time.Duration
}

type HTTPConfig struct {
	Addr              string   `yaml:"addr"`
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
	IdleTimeout       Duration `yaml:"idle_timeout"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`
	MaxRequestBytes   int64    `yaml:"max_request_bytes"`
	// PublicBaseURL prefixes URLs handed back to the browser (media uploads).
	PublicBaseURL string   `yaml:"public_base_url"`
	AllowOrigins  []string `yaml:"allow_origins"`
}

type APIConfig struct {
	// BaseURL is where the REST map lives. VERDANT_API_BASE_URL overrides it.
	BaseURL    string   `yaml:"base_url"`
	Timeout    Duration `yaml:"timeout"`
	Retries    int      `yaml:"retries"`
	RetryDelay Duration `yaml:"retry_delay"`
	// MockLatency is the simulated round trip of the development backend.
	MockLatency Duration `yaml:"mock_latency"`
}

type OriginConfig struct {
	// URL of the front-end origin the offline cache worker sits in front of.
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"`
}

type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend      string   `yaml:"backend"`
	Version      string   `yaml:"version"`
	PrecacheName string   `yaml:"precache_name"`
	RuntimeName  string   `yaml:"runtime_name"`
	ShellURLs    []string `yaml:"shell_urls"`
	ShellEntry   string   `yaml:"shell_entry"`
	APIPrefix    string   `yaml:"api_prefix"`
	// MaxEntryBytes caps a single runtime cache entry; larger responses
	// stream through uncached.
	MaxEntryBytes int64 `yaml:"max_entry_bytes"`
}

type StorageConfig struct {
	// Driver is one of memory, sqlite, postgres, redis.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	Channel  string `yaml:"channel"`
}

type AuthConfig struct {
	JWTSecret string   `yaml:"jwt_secret"`
	TokenTTL  Duration `yaml:"token_ttl"`
}

type EmailConfig struct {
	SendGridAPIKey string `yaml:"sendgrid_api_key"`
	FromEmail      string `yaml:"from_email"`
	FromName       string `yaml:"from_name"`
	SupportEmail   string `yaml:"support_email"`
	LogLimit       int    `yaml:"log_limit"`
}

type MediaConfig struct {
	MaxBytes     int64    `yaml:"max_bytes"`
	AllowedTypes []string `yaml:"allowed_types"`
	MaxWidth     int      `yaml:"max_width"`
	MaxHeight    int      `yaml:"max_height"`
	Quality      float64  `yaml:"quality"`
	// ProgressInterval paces the synthetic upload progress events.
	ProgressInterval Duration `yaml:"progress_interval"`
}

type Config struct {
	Env     string        `yaml:"env"`
	DevMode bool          `yaml:"dev_mode"`
	HTTP    HTTPConfig    `yaml:"http"`
	API     APIConfig     `yaml:"api"`
	Origin  OriginConfig  `yaml:"origin"`
	Cache   CacheConfig   `yaml:"cache"`
	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`
	Auth    AuthConfig    `yaml:"auth"`
	Email   EmailConfig   `yaml:"email"`
	Media   MediaConfig   `yaml:"media"`
}
