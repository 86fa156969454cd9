package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// EnvServiceURL names the hosted auth/data service endpoint variable
	EnvServiceURL = "SUPABASE_URL"
	// EnvAnonKey names the public API key variable
	EnvAnonKey = "SUPABASE_ANON_KEY"
)

// MissingValueError is returned when a required variable is absent or empty
type MissingValueError struct {
	Name string
}

// Error implements the error interface
func (e *MissingValueError) Error() string {
	return fmt.Sprintf("%s is not defined", e.Name)
}

// IsMissingValue reports whether err is caused by a missing required variable
func IsMissingValue(err error) bool {
	var missing *MissingValueError
	return errors.As(err, &missing)
}

// Config represents the complete application configuration
type Config struct {
	Service       ServiceConfig
	RoleLookup    RoleLookupConfig
	Database      *DatabaseConfig // Optional: direct users table access. When nil, roles are read over REST.
	Session       SessionConfig
	Server        ServerConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServiceConfig holds the two values the provider client is built from
type ServiceConfig struct {
	URL     string
	AnonKey string
}

// RoleLookupConfig controls the privileged role lookup tier
type RoleLookupConfig struct {
	Privileged     bool
	ServiceRoleKey string
}

// DatabaseConfig holds PostgreSQL configuration for the users table
type DatabaseConfig struct {
	ConnectionString string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// SessionConfig selects where the provider client persists the session
type SessionConfig struct {
	Store string // file or memory
	File  string
}

// ServerConfig holds the local form server configuration
type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Service: ServiceConfig{
			URL:     strings.TrimSpace(os.Getenv(EnvServiceURL)),
			AnonKey: strings.TrimSpace(os.Getenv(EnvAnonKey)),
		},
		RoleLookup: RoleLookupConfig{
			Privileged:     getEnvAsBool("ROLE_LOOKUP_PRIVILEGED", false),
			ServiceRoleKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		},
		Database: loadDatabaseConfig(),
		Session: SessionConfig{
			Store: getEnv("SESSION_STORE", "file"),
			File:  getEnv("SESSION_FILE", ".authflow/session.json"),
		},
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "127.0.0.1"),
			Port:               getEnvAsInt("SERVER_PORT", 5173),
			ReadTimeout:        getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:       getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout:    getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "http://127.0.0.1:*"}),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Service.URL == "" {
		return &MissingValueError{Name: EnvServiceURL}
	}
	if c.Service.AnonKey == "" {
		return &MissingValueError{Name: EnvAnonKey}
	}
	u, err := url.Parse(c.Service.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", EnvServiceURL, c.Service.URL)
	}

	if c.RoleLookup.Privileged && c.RoleLookup.ServiceRoleKey == "" {
		return fmt.Errorf("ROLE_LOOKUP_PRIVILEGED requires SUPABASE_SERVICE_ROLE_KEY")
	}
	if c.Environment == "browser" && c.RoleLookup.ServiceRoleKey != "" {
		return fmt.Errorf("SUPABASE_SERVICE_ROLE_KEY must not be set in a browser build")
	}

	switch c.Session.Store {
	case "memory":
	case "file":
		if c.Session.File == "" {
			return fmt.Errorf("SESSION_FILE is required when SESSION_STORE=file")
		}
	default:
		return fmt.Errorf("unknown SESSION_STORE %q: want file or memory", c.Session.Store)
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// PrivilegedLookupEnabled reports whether the admin role lookup tier is wired
func (c *Config) PrivilegedLookupEnabled() bool {
	return c.RoleLookup.Privileged && c.RoleLookup.ServiceRoleKey != ""
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return c.ConnectionString
}

// LogString returns a safe string for logging (no password)
func (c *DatabaseConfig) LogString() string {
	u, err := url.Parse(c.ConnectionString)
	if err != nil || u.Host == "" {
		return "host=<from DATABASE_URL>"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	db := strings.TrimPrefix(u.Path, "/")
	return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, db)
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// loadDatabaseConfig returns nil when DATABASE_URL is not set
func loadDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 5),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
