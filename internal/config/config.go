// Package config loads and validates the gateway's configuration from environment
// variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Version is the application version, set at build time via -ldflags.
var Version = "dev"

// Backend selects which QueryBuilder/executor pair serves requests.
type Backend string

const (
	BackendCatalogue  Backend = "catalogue"
	BackendRelational Backend = "relational"
)

// Config holds every configuration parameter of the ICAT gateway.
type Config struct {
	// --- Server ---

	// Host is the address the HTTP server listens on.
	Host string
	// Port is the HTTP server's listening port.
	Port int
	// Extension is the URL prefix the DataGateway/Search API routes mount
	// under (empty means no prefix).
	Extension string
	// LogLevel is the logging level (debug, info, warn, error).
	LogLevel slog.Level
	// LogFormat is the log encoding (json, text).
	LogFormat string
	// LogLocation is the log file path; empty means stdout.
	LogLocation string

	// --- Backend ---

	// Backend selects the QueryBuilder/executor pair: catalogue (ICAT) or relational.
	Backend Backend
	// DBURL is the relational shadow schema's connection string (backend=relational only).
	DBURL string

	// --- Catalogue ---

	// CatalogueURL is the ICAT catalogue's base address.
	CatalogueURL string
	// CatalogueCheckCert controls whether the catalogue's TLS certificate is verified.
	CatalogueCheckCert bool
	// CatalogueCACertPath is a custom CA bundle for the catalogue, an alternative to
	// disabling certificate verification outright.
	CatalogueCACertPath string

	// --- Session pool (C3) ---

	// ClientCacheSize is the size of the authenticator cache keyed by (mechanism, username).
	ClientCacheSize int
	// ClientCacheTTL is the authenticator cache entry TTL.
	ClientCacheTTL time.Duration
	// ClientPoolInitSize is the number of sessions authenticated at startup.
	ClientPoolInitSize int
	// ClientPoolMaxSize is the session pool's maximum size.
	ClientPoolMaxSize int
	// PoolBorrowTimeout bounds how long Borrow waits for a free session.
	PoolBorrowTimeout time.Duration
	// SessionRefreshThreshold is the remaining-lifetime threshold below which a
	// borrowed session is proactively refreshed.
	SessionRefreshThreshold time.Duration
	// SessionMaintenanceTick is the period of the background idle-session refresh loop.
	SessionMaintenanceTick time.Duration

	// --- Test identity (the anonymous/test session backing DataGateway/Search API) ---

	// TestMechanism is the authentication mechanism used for the gateway's own session.
	TestMechanism string
	// TestUserCredentials are the credentials presented under TestMechanism
	// ("key=value,key=value" in the environment).
	TestUserCredentials map[string]string

	// --- HTTP server timeouts ---

	// HTTPReadTimeout bounds request read time (default 30s).
	HTTPReadTimeout time.Duration
	// HTTPWriteTimeout bounds response write time (default 60s).
	HTTPWriteTimeout time.Duration
	// HTTPIdleTimeout bounds keep-alive idle time (default 120s).
	HTTPIdleTimeout time.Duration
	// RequestTimeout is the per-request wall-clock deadline applied by middleware.
	RequestTimeout time.Duration

	// --- Graceful shutdown ---

	// ShutdownTimeout bounds graceful shutdown (default 5s).
	ShutdownTimeout time.Duration

	// --- Dependency health monitor (C9) ---

	// DephealthGroup is the dependency health graph's group label.
	DephealthGroup string
	// DephealthCheckInterval is the period between dependency checks.
	DephealthCheckInterval time.Duration
	// DephealthIsEntry marks the gateway as an entry point of the dependency graph.
	DephealthIsEntry bool
}

// Load reads configuration from environment variables. It returns an error if a
// required variable is missing or a value fails to parse.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Server ---

	cfg.Host = getEnvDefault("GW_HOST", "0.0.0.0")

	cfg.Port, err = getEnvInt("GW_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("GW_PORT: %w", err)
	}

	cfg.Extension = getEnvDefault("GW_EXTENSION", "")

	logLevel := getEnvDefault("GW_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("GW_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("GW_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("GW_LOG_FORMAT: invalid format %q, want json or text", cfg.LogFormat)
	}

	cfg.LogLocation = getEnvDefault("GW_LOG_LOCATION", "")

	// --- Backend ---

	backend := getEnvDefault("GW_BACKEND", string(BackendCatalogue))
	switch Backend(backend) {
	case BackendCatalogue, BackendRelational:
		cfg.Backend = Backend(backend)
	default:
		return nil, fmt.Errorf("GW_BACKEND: invalid value %q, want catalogue or relational", backend)
	}
	cfg.DBURL = getEnvDefault("GW_DB_URL", "")
	if cfg.Backend == BackendRelational && cfg.DBURL == "" {
		return nil, fmt.Errorf("GW_DB_URL: required when GW_BACKEND=relational")
	}

	// --- Catalogue ---

	cfg.CatalogueURL = getEnvDefault("GW_CATALOGUE_URL", "")
	if cfg.CatalogueURL == "" {
		return nil, fmt.Errorf("GW_CATALOGUE_URL: required environment variable is not set")
	}
	cfg.CatalogueCheckCert, err = getEnvBool("GW_CATALOGUE_CHECK_CERT", true)
	if err != nil {
		return nil, fmt.Errorf("GW_CATALOGUE_CHECK_CERT: %w", err)
	}
	cfg.CatalogueCACertPath = getEnvDefault("GW_CATALOGUE_CA_CERT_PATH", "")

	// --- Session pool ---

	cfg.ClientCacheSize, err = getEnvInt("GW_CLIENT_CACHE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("GW_CLIENT_CACHE_SIZE: %w", err)
	}
	cfg.ClientCacheTTL, err = getEnvDuration("GW_CLIENT_CACHE_TTL", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("GW_CLIENT_CACHE_TTL: %w", err)
	}
	cfg.ClientPoolInitSize, err = getEnvInt("GW_CLIENT_POOL_INIT_SIZE", 2)
	if err != nil {
		return nil, fmt.Errorf("GW_CLIENT_POOL_INIT_SIZE: %w", err)
	}
	cfg.ClientPoolMaxSize, err = getEnvInt("GW_CLIENT_POOL_MAX_SIZE", 10)
	if err != nil {
		return nil, fmt.Errorf("GW_CLIENT_POOL_MAX_SIZE: %w", err)
	}
	cfg.PoolBorrowTimeout, err = getEnvDuration("GW_POOL_BORROW_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("GW_POOL_BORROW_TIMEOUT: %w", err)
	}
	refreshMinutes, err := getEnvInt("GW_SESSION_REFRESH_THRESHOLD_MINUTES", 5)
	if err != nil {
		return nil, fmt.Errorf("GW_SESSION_REFRESH_THRESHOLD_MINUTES: %w", err)
	}
	cfg.SessionRefreshThreshold = time.Duration(refreshMinutes) * time.Minute
	cfg.SessionMaintenanceTick, err = getEnvDuration("GW_SESSION_MAINTENANCE_TICK", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("GW_SESSION_MAINTENANCE_TICK: %w", err)
	}

	// --- Test identity ---

	cfg.TestMechanism = getEnvDefault("GW_TEST_MECHANISM", "anon")
	cfg.TestUserCredentials = parseCredentials(getEnvDefault("GW_TEST_USER_CREDENTIALS", ""))

	// --- HTTP server timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("GW_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("GW_HTTP_READ_TIMEOUT: %w", err)
	}

	cfg.HTTPWriteTimeout, err = getEnvDuration("GW_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("GW_HTTP_WRITE_TIMEOUT: %w", err)
	}

	cfg.HTTPIdleTimeout, err = getEnvDuration("GW_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("GW_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("GW_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("GW_SHUTDOWN_TIMEOUT: %w", err)
	}

	cfg.RequestTimeout, err = getEnvDuration("GW_REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("GW_REQUEST_TIMEOUT: %w", err)
	}

	// --- Dependency health monitor ---

	cfg.DephealthGroup = getEnvDefault("DEPHEALTH_GROUP", "icat-gateway")
	cfg.DephealthCheckInterval, err = getEnvDuration("DEPHEALTH_CHECK_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", true)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	return cfg, nil
}

// parseCredentials decodes the "key=value,key=value" shape of GW_TEST_USER_CREDENTIALS
// into the map icatclient.Login expects. An empty input yields an empty, non-nil map.
func parseCredentials(raw string) map[string]string {
	creds := map[string]string{}
	if raw == "" {
		return creds
	}
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		creds[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return creds
}

// SetupLogger configures the process-wide slog logger from cfg. Output goes to the
// file at cfg.LogLocation (appended to), or to stdout when that is empty or the file
// cannot be opened.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	out := io.Writer(os.Stdout)
	if cfg.LogLocation != "" {
		if f, err := os.OpenFile(cfg.LogLocation, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			out = f
		}
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- helpers ---

func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %q", val)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q (use Go duration syntax: 30s, 1h, 15m)", val)
	}
	return d, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid boolean: %q (want true, false, 1, or 0)", val)
	}
	return b, nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid level %q, want debug, info, warn, or error", level)
	}
}
