// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Overlap policies for the scheduler.
const (
	OverlapAllow     = "allow"
	OverlapSerialize = "serialize"
)

// MinIntervalSeconds is the lowest accepted polling interval.
const MinIntervalSeconds = 10

// Config holds all runtime settings.
type Config struct {
	BotToken       string
	AdminUserID    int64
	TelegramAPIURL string

	SourceBaseURL     string
	SourcePostsPath   string
	SourceStoriesPath string

	IntervalSeconds int
	EnablePosts     bool
	EnableStories   bool
	Overlap         string

	DBDriver      string
	DBPath        string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	HTTPAddr      string
	OperatorToken string

	MediaMaxBytes int64
	HTTPTimeout   time.Duration

	LogLevel  string
	LogFormat string
}

// Interval returns the scheduler interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// LoadEnvFiles loads .env files into the process environment if present.
// It returns the names of the files that were loaded.
func LoadEnvFiles(files ...string) []string {
	if len(files) == 0 {
		files = []string{".env", ".env.local"}
	}
	loaded := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			continue
		}
		loaded = append(loaded, file)
	}
	return loaded
}

// Load reads the configuration from the environment and validates it.
// A *Error is returned when required settings are missing or invalid.
func Load() (*Config, error) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads the configuration without validating it.
func FromEnv() *Config {
	return &Config{
		BotToken:       strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		AdminUserID:    int64(GetEnvInt("TELEGRAM_ADMIN_USER_ID", 0)),
		TelegramAPIURL: GetEnv("TELEGRAM_API_ENDPOINT", ""),

		SourceBaseURL:     strings.TrimRight(GetEnv("SOURCE_BASE_URL", ""), "/"),
		SourcePostsPath:   GetEnv("SOURCE_POSTS_PATH", "/instagram/user/{username}"),
		SourceStoriesPath: GetEnv("SOURCE_STORIES_PATH", "/instagram/stories/{username}"),

		IntervalSeconds: GetEnvInt("MONITOR_INTERVAL_SECONDS", 300),
		EnablePosts:     GetEnvBool("MONITOR_POSTS", true),
		EnableStories:   GetEnvBool("MONITOR_STORIES", true),
		Overlap:         strings.ToLower(GetEnv("MONITOR_OVERLAP", OverlapAllow)),

		DBDriver:      strings.ToLower(GetEnv("DB_DRIVER", DriverSQLite)),
		DBPath:        GetEnv("DB_PATH", "data/instarelay.db"),
		DatabaseURL:   GetEnv("DATABASE_URL", ""),
		RedisAddr:     GetEnv("REDIS_ADDR", ""),
		RedisPassword: GetEnv("REDIS_PASSWORD", ""),
		RedisDB:       GetEnvInt("REDIS_DB", 0),

		HTTPAddr:      os.Getenv("HTTP_ADDR"),
		OperatorToken: GetEnv("OPERATOR_TOKEN", ""),

		MediaMaxBytes: int64(GetEnvInt("MEDIA_MAX_BYTES", 50<<20)),
		HTTPTimeout:   time.Duration(GetEnvInt("HTTP_TIMEOUT_SECONDS", 30)) * time.Second,

		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),
	}
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	var errs Error

	if c.BotToken == "" {
		errs.add("TELEGRAM_BOT_TOKEN", "is required")
	}
	if c.SourceBaseURL == "" {
		errs.add("SOURCE_BASE_URL", "is required")
	}
	if c.IntervalSeconds < MinIntervalSeconds {
		errs.add("MONITOR_INTERVAL_SECONDS", fmt.Sprintf("must be at least %d", MinIntervalSeconds))
	}
	if c.Overlap != OverlapAllow && c.Overlap != OverlapSerialize {
		errs.add("MONITOR_OVERLAP", fmt.Sprintf("must be %q or %q", OverlapAllow, OverlapSerialize))
	}
	errs.Fields = append(errs.Fields, c.validateStorage()...)
	if c.HTTPAddr != "" && c.OperatorToken == "" {
		errs.add("OPERATOR_TOKEN", "is required when HTTP_ADDR is set")
	}
	if c.MediaMaxBytes <= 0 {
		errs.add("MEDIA_MAX_BYTES", "must be positive")
	}

	if len(errs.Fields) > 0 {
		return &errs
	}
	return nil
}

// ValidateStorage checks only the database settings. Used by CLI commands
// that touch the store without running the relay.
func (c *Config) ValidateStorage() error {
	if fields := c.validateStorage(); len(fields) > 0 {
		return &Error{Fields: fields}
	}
	return nil
}

func (c *Config) validateStorage() []FieldError {
	var fields []FieldError
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			fields = append(fields, FieldError{Field: "DB_PATH", Message: "is required for sqlite"})
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			fields = append(fields, FieldError{Field: "DATABASE_URL", Message: "is required for postgres"})
		}
	case DriverRedis:
		if c.RedisAddr == "" {
			fields = append(fields, FieldError{Field: "REDIS_ADDR", Message: "is required for redis"})
		}
	default:
		fields = append(fields, FieldError{Field: "DB_DRIVER", Message: fmt.Sprintf("unknown driver %q", c.DBDriver)})
	}
	return fields
}

// GetEnv gets an environment variable with a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt gets an integer environment variable with a default value
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvBool gets a boolean environment variable with a default value
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
