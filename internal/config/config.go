package config

import (
	"os"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Gateway drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	Port        string
	Environment string
	CORSOrigins string
	TablePrefix string

	// Persistence
	GatewayDriver string // postgres | sqlite | memory
	DatabaseURL   string
	SQLitePath    string

	// Tree sessions
	GatewayTimeout     time.Duration
	RefreshOnConfirm   bool
	SessionIdleTimeout time.Duration

	// Logging
	LogDir      string // empty = stdout only
	LogMaxFiles int

	// Debug flags
	Debug bool // Enables DEBUG features like SSE event IDs
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")

	return &Config{
		Port:               getEnv("PORT", "8080"),
		Environment:        env,
		CORSOrigins:        getEnv("CORS_ORIGINS", "http://localhost:3000"),
		TablePrefix:        getTablePrefix(env),
		GatewayDriver:      getEnv("GATEWAY_DRIVER", getDefaultDriver(env)),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		SQLitePath:         getEnv("SQLITE_PATH", "studydesk.db"),
		GatewayTimeout:     getDuration("GATEWAY_TIMEOUT", DefaultGatewayTimeout),
		RefreshOnConfirm:   getEnv("REFRESH_ON_CONFIRM", "false") == "true",
		SessionIdleTimeout: getDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		LogDir:             getEnv("LOG_DIR", ""),
		LogMaxFiles:        getInt("LOG_MAX_FILES", 10),
		// Debug flags - default to true in dev/test, false in production
		Debug: getEnv("DEBUG", getDefaultDebug(env)) == "true",
	}
}

// Validate checks the combination of settings a server needs to start
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required),
		validation.Field(&c.GatewayDriver,
			validation.Required,
			validation.In(DriverPostgres, DriverSQLite, DriverMemory).Error("must be postgres, sqlite or memory"),
		),
		validation.Field(&c.DatabaseURL,
			validation.When(c.GatewayDriver == DriverPostgres, validation.Required.Error("is required for the postgres driver")),
		),
		validation.Field(&c.SQLitePath,
			validation.When(c.GatewayDriver == DriverSQLite, validation.Required),
		),
		validation.Field(&c.GatewayTimeout, validation.Min(time.Millisecond)),
		validation.Field(&c.LogMaxFiles, validation.Min(1)),
	)
}

// getDefaultDebug returns the default debug setting based on environment
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true" // Enable DEBUG in dev/test by default
}

// getDefaultDriver keeps dev runnable without a database
func getDefaultDriver(env string) string {
	if env == "dev" {
		return DriverMemory
	}
	return DriverPostgres
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}
