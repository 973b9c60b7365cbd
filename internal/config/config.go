package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv string
	Port   string

	// VposEnv selects the vendor environment the widget script is fetched
	// from: "staging" or "production".
	VposEnv string
	// BackendBaseURL is the storefront backend fronting the vPOS provider.
	BackendBaseURL string

	RedisURL string

	// CORSAllowedOrigins bounds browser access to the relay endpoints.
	CORSAllowedOrigins []string
	// MessageAllowedOrigins is the advisory origin list for widget messages;
	// mismatches are logged, not rejected.
	MessageAllowedOrigins []string

	// Widget retry tunables.
	ScriptLoadAttempts int
	ScriptPollInterval time.Duration
	MountRetryDelay    time.Duration

	// Backend transport tunables.
	HTTPTimeout     time.Duration
	HTTPMaxAttempts int

	// Relay rate limiting (requests per window per client). RateLimit covers
	// the message route, CheckoutRateLimit the token-payment and card routes.
	RateLimit         int
	CheckoutRateLimit int
	RateLimitWindow   time.Duration

	LogFormat string
	LogLevel  string

	TracingEnabled    bool
	TracingEndpoint   string
	TracingSampleRate float64

	MetricsNamespace string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:                valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                  valueOrDefault(k.String("PORT"), "8080"),
		VposEnv:               valueOrDefault(k.String("VPOS_ENV"), "staging"),
		BackendBaseURL:        strings.TrimSpace(k.String("BACKEND_BASE_URL")),
		RedisURL:              strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins:    splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MessageAllowedOrigins: splitAndTrim(k.String("MESSAGE_ALLOWED_ORIGINS")),
		ScriptLoadAttempts:    parseInt(k.String("SCRIPT_LOAD_ATTEMPTS"), 3),
		ScriptPollInterval:    parseDuration(k.String("SCRIPT_POLL_INTERVAL"), "150ms"),
		MountRetryDelay:       parseDuration(k.String("MOUNT_RETRY_DELAY"), "300ms"),
		HTTPTimeout:           parseDuration(k.String("HTTP_TIMEOUT"), "15s"),
		HTTPMaxAttempts:       parseInt(k.String("HTTP_MAX_ATTEMPTS"), 3),
		RateLimit:             parseInt(k.String("RATE_LIMIT"), 60),
		CheckoutRateLimit:     parseInt(k.String("CHECKOUT_RATE_LIMIT"), 20),
		RateLimitWindow:       parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		LogFormat:             valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:              valueOrDefault(k.String("LOG_LEVEL"), "info"),
		TracingEnabled:        parseBool(k.String("TRACING_ENABLED")),
		TracingEndpoint:       valueOrDefault(k.String("TRACING_ENDPOINT"), "localhost:4318"),
		TracingSampleRate:     parseFloat(k.String("TRACING_SAMPLE_RATE"), 0.1),
		MetricsNamespace:      valueOrDefault(k.String("METRICS_NAMESPACE"), "vpos_checkout"),
	}

	if cfg.BackendBaseURL == "" {
		return nil, errors.New("BACKEND_BASE_URL is required")
	}
	switch cfg.VposEnv {
	case "staging", "production":
	default:
		return nil, fmt.Errorf("VPOS_ENV must be staging or production, got %q", cfg.VposEnv)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(trimmed, "%d", &n); err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var f float64
	if _, err := fmt.Sscanf(trimmed, "%g", &f); err != nil || f < 0 || f > 1 {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
