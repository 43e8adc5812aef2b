// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	ShutdownTimeout     time.Duration
	MaxRequestBodyBytes int64
	Env                 string // "development" exposes internal error detail in responses.

	// Database settings. An empty DatabaseURL runs on the in-memory store.
	DatabaseURL      string
	DatabaseMaxConns int

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// Admin bootstrap.
	AdminEmail    string
	AdminPassword string

	// Push side channel. Each channel is enabled when its target is set.
	PushWebhookURL     string
	PushWebhookToken   string
	PushWebhookTimeout time.Duration
	RedisURL           string
	PushStream         string
	PushStreamMaxLen   int

	// Real-time channel.
	WSAllowedOrigins []string
	WSAuthTimeout    time.Duration
	SessionBuffer    int

	// Incident rules.
	MinResolutionLen int

	// Fan-out.
	EventHandlerTimeout  time.Duration
	NotifyConcurrency    int
	NotifyRetryDelay     time.Duration
	InvitationExpiration time.Duration

	// Rate limiting for unauthenticated and citizen-facing endpoints.
	RateLimitRPS   float64
	RateLimitBurst int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	LogLevel string
}

// IsDevelopment reports whether the server runs in development mode.
func (c Config) IsDevelopment() bool { return c.Env == "development" }

// Load reads configuration from environment variables with defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	intVar := func(key string, def int) int {
		v, err := envInt(key, def)
		collect(err)
		return v
	}
	durVar := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		collect(err)
		return v
	}
	boolVar := func(key string, def bool) bool {
		v, err := envBool(key, def)
		collect(err)
		return v
	}
	floatVar := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		collect(err)
		return v
	}

	cfg := Config{
		Port:                 intVar("BEACON_PORT", 8080),
		ReadTimeout:          durVar("BEACON_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:         durVar("BEACON_WRITE_TIMEOUT", 30*time.Second),
		ShutdownTimeout:      durVar("BEACON_SHUTDOWN_TIMEOUT", 15*time.Second),
		MaxRequestBodyBytes:  int64(intVar("BEACON_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
		Env:                  envStr("BEACON_ENV", "production"),
		DatabaseURL:          envStr("DATABASE_URL", ""),
		DatabaseMaxConns:     intVar("BEACON_DATABASE_MAX_CONNS", 0),
		JWTPrivateKeyPath:    envStr("BEACON_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:     envStr("BEACON_JWT_PUBLIC_KEY", ""),
		JWTExpiration:        durVar("BEACON_JWT_EXPIRATION", 12*time.Hour),
		AdminEmail:           envStr("BEACON_ADMIN_EMAIL", ""),
		AdminPassword:        envStr("BEACON_ADMIN_PASSWORD", ""),
		PushWebhookURL:       envStr("BEACON_PUSH_WEBHOOK_URL", ""),
		PushWebhookToken:     envStr("BEACON_PUSH_WEBHOOK_TOKEN", ""),
		PushWebhookTimeout:   durVar("BEACON_PUSH_WEBHOOK_TIMEOUT", 5*time.Second),
		RedisURL:             envStr("REDIS_URL", ""),
		PushStream:           envStr("BEACON_PUSH_STREAM", "beacon:push"),
		PushStreamMaxLen:     intVar("BEACON_PUSH_STREAM_MAXLEN", 100000),
		WSAllowedOrigins:     envList("BEACON_WS_ALLOWED_ORIGINS"),
		WSAuthTimeout:        durVar("BEACON_WS_AUTH_TIMEOUT", 10*time.Second),
		SessionBuffer:        intVar("BEACON_SESSION_BUFFER", 64),
		MinResolutionLen:     intVar("BEACON_MIN_RESOLUTION_LEN", 10),
		EventHandlerTimeout:  durVar("BEACON_EVENT_HANDLER_TIMEOUT", 10*time.Second),
		NotifyConcurrency:    intVar("BEACON_NOTIFY_CONCURRENCY", 8),
		NotifyRetryDelay:     durVar("BEACON_NOTIFY_RETRY_DELAY", 500*time.Millisecond),
		InvitationExpiration: durVar("BEACON_INVITATION_EXPIRATION", 7*24*time.Hour),
		RateLimitRPS:         floatVar("BEACON_RATE_LIMIT_RPS", 5),
		RateLimitBurst:       intVar("BEACON_RATE_LIMIT_BURST", 20),
		OTELEndpoint:         envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:         boolVar("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:          envStr("OTEL_SERVICE_NAME", "beacon"),
		LogLevel:             envStr("BEACON_LOG_LEVEL", "info"),
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and paired settings.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("BEACON_PORT must be between 1 and 65535"))
	}
	if c.MaxRequestBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("BEACON_MAX_REQUEST_BODY_BYTES must be positive"))
	}
	if (c.JWTPrivateKeyPath == "") != (c.JWTPublicKeyPath == "") {
		errs = append(errs, fmt.Errorf("BEACON_JWT_PRIVATE_KEY and BEACON_JWT_PUBLIC_KEY must be set together"))
	}
	if c.JWTExpiration <= 0 {
		errs = append(errs, fmt.Errorf("BEACON_JWT_EXPIRATION must be positive"))
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		errs = append(errs, fmt.Errorf("BEACON_ADMIN_EMAIL and BEACON_ADMIN_PASSWORD must be set together"))
	}
	if c.MinResolutionLen < 1 {
		errs = append(errs, fmt.Errorf("BEACON_MIN_RESOLUTION_LEN must be at least 1"))
	}
	if c.SessionBuffer < 1 {
		errs = append(errs, fmt.Errorf("BEACON_SESSION_BUFFER must be at least 1"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("BEACON_RATE_LIMIT_RPS and BEACON_RATE_LIMIT_BURST must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
