package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the booking concierge service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	PortalBaseURL   string
	PortalOpTimeout time.Duration

	AutomationMode string
	ChromeHost     string
	ChromePort     int

	ExtractorMode  string
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	OpenAIModel    string
	ExtractTimeout time.Duration

	ResultFreshness    time.Duration
	DriverRetryBackoff time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "concierge"),
		AllowAnyOrigin:   false,
		PortalBaseURL:    envOrDefault("PORTAL_BASE_URL", "http://localhost:3000"),
		AutomationMode:   envOrDefault("AUTOMATION_MODE", "auto"),
		ChromeHost:       envOrDefault("CHROME_DEBUG_HOST", "127.0.0.1"),
		ChromePort:       9222,
		ExtractorMode:    envOrDefault("EXTRACTOR_MODE", "auto"),
		OpenAIAPIKey:     stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:    stringsTrimSpace("OPENAI_BASE_URL"),
		OpenAIModel:      envOrDefault("OPENAI_EXTRACT_MODEL", ""),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		PortalOpTimeout:          30 * time.Second,
		ExtractTimeout:           15 * time.Second,
		ResultFreshness:          2 * time.Minute,
		DriverRetryBackoff:       500 * time.Millisecond,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.PortalOpTimeout, err = durationFromEnv("PORTAL_OP_TIMEOUT", cfg.PortalOpTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ChromePort, err = intFromEnv("CHROME_DEBUG_PORT", cfg.ChromePort)
	if err != nil {
		return Config{}, err
	}
	cfg.ExtractTimeout, err = durationFromEnv("EXTRACT_TIMEOUT", cfg.ExtractTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ResultFreshness, err = durationFromEnv("RESULT_FRESHNESS", cfg.ResultFreshness)
	if err != nil {
		return Config{}, err
	}
	cfg.DriverRetryBackoff, err = durationFromEnv("DRIVER_RETRY_BACKOFF", cfg.DriverRetryBackoff)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if strings.TrimSpace(cfg.PortalBaseURL) == "" {
		return Config{}, fmt.Errorf("PORTAL_BASE_URL must not be empty")
	}
	if cfg.PortalOpTimeout <= 0 {
		return Config{}, fmt.Errorf("PORTAL_OP_TIMEOUT must be positive")
	}
	if cfg.ChromePort <= 0 || cfg.ChromePort > 65535 {
		return Config{}, fmt.Errorf("CHROME_DEBUG_PORT must be a valid port")
	}
	if cfg.ResultFreshness <= 0 {
		return Config{}, fmt.Errorf("RESULT_FRESHNESS must be positive")
	}
	switch cfg.AutomationMode {
	case "auto", "cdp", "script":
	default:
		return Config{}, fmt.Errorf("AUTOMATION_MODE must be one of auto, cdp, script")
	}
	switch cfg.ExtractorMode {
	case "auto", "openai", "rules":
	default:
		return Config{}, fmt.Errorf("EXTRACTOR_MODE must be one of auto, openai, rules")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
