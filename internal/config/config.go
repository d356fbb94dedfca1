package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Storage  StorageConfig
	Realtime RealtimeConfig
	Store    StoreConfig
	Mail     MailConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	PublicBaseURL         string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	TokenTTLMinutes       int
	BcryptCost            int
	ResetRedirectURL      string
	VerifyRedirectURL     string
}

// StorageConfig configures the attachment object store.
type StorageConfig struct {
	RootDir        string
	Bucket         string
	MaxUploadBytes int64
}

// RealtimeConfig configures the channel bus and typing presence.
type RealtimeConfig struct {
	Driver         string
	TypingTTL      time.Duration
	TypingDebounce time.Duration
	PreviewLength  int
}

// StoreConfig controls read retry and degraded-mode fallback.
type StoreConfig struct {
	ReadRetryAttempts int
	ReadRetryInitial  time.Duration
	FallbackCacheSize int
	SeedFallback      bool
}

// MailConfig holds outbound SMTP settings. An empty host disables delivery.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// MinTypingDebounce is the lowest accepted typing broadcast interval.
const MinTypingDebounce = 300 * time.Millisecond

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-chat-system"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			PublicBaseURL:         getEnv("APP_PUBLIC_BASE_URL", "http://localhost:5173"),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			TokenTTLMinutes:       getEnvAsInt("AUTH_TOKEN_TTL_MINUTES", 30),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Storage: StorageConfig{
			RootDir:        getEnv("STORAGE_ROOT_DIR", "data/objects"),
			Bucket:         getEnv("STORAGE_BUCKET", "attachments"),
			MaxUploadBytes: int64(getEnvAsInt("STORAGE_MAX_UPLOAD_BYTES", 20<<20)),
		},
		Realtime: RealtimeConfig{
			Driver:         getEnv("REALTIME_DRIVER", "redis"),
			TypingTTL:      getEnvAsDuration("REALTIME_TYPING_TTL", 3*time.Second),
			TypingDebounce: getEnvAsDuration("REALTIME_TYPING_DEBOUNCE", MinTypingDebounce),
			PreviewLength:  getEnvAsInt("REALTIME_PREVIEW_LENGTH", 100),
		},
		Store: StoreConfig{
			ReadRetryAttempts: getEnvAsInt("STORE_READ_RETRY_ATTEMPTS", 3),
			ReadRetryInitial:  getEnvAsDuration("STORE_READ_RETRY_INITIAL", 100*time.Millisecond),
			FallbackCacheSize: getEnvAsInt("STORE_FALLBACK_CACHE_SIZE", 256),
			SeedFallback:      getEnvAsBool("STORE_SEED_FALLBACK", true),
		},
		Mail: MailConfig{
			Host:     os.Getenv("MAIL_SMTP_HOST"),
			Port:     getEnvAsInt("MAIL_SMTP_PORT", 587),
			Username: os.Getenv("MAIL_SMTP_USERNAME"),
			Password: os.Getenv("MAIL_SMTP_PASSWORD"),
			From:     getEnv("MAIL_FROM", "support@example.com"),
		},
	}
	cfg.Auth.ResetRedirectURL = getEnv("AUTH_RESET_REDIRECT_URL", cfg.App.PublicBaseURL+"/reset-password")
	cfg.Auth.VerifyRedirectURL = getEnv("AUTH_VERIFY_REDIRECT_URL", cfg.App.PublicBaseURL+"/login")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no safe fallback.
func (c *Config) Validate() error {
	if c.Realtime.TypingDebounce < MinTypingDebounce {
		return fmt.Errorf("REALTIME_TYPING_DEBOUNCE must be at least %s", MinTypingDebounce)
	}
	if c.Realtime.TypingTTL <= 0 {
		return errors.New("REALTIME_TYPING_TTL must be positive")
	}
	switch c.Realtime.Driver {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown REALTIME_DRIVER %q", c.Realtime.Driver)
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// AccessTokenTTL returns the session token lifetime.
func (a AuthConfig) AccessTokenTTL() time.Duration {
	return time.Duration(a.AccessTokenTTLMinutes) * time.Minute
}

// TokenTTL returns the lifetime of reset and verification tokens.
func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLMinutes) * time.Minute
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
