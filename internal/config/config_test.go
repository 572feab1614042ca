package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.AutomationMode != "auto" {
		t.Fatalf("AutomationMode = %q, want %q", cfg.AutomationMode, "auto")
	}
	if cfg.ExtractorMode != "auto" {
		t.Fatalf("ExtractorMode = %q, want %q", cfg.ExtractorMode, "auto")
	}
	if cfg.OpenAIAPIKey != "" {
		t.Fatalf("OpenAIAPIKey = %q, want empty default", cfg.OpenAIAPIKey)
	}
	if cfg.SessionInactivityTimeout != 10*time.Minute {
		t.Fatalf("SessionInactivityTimeout = %v, want %v", cfg.SessionInactivityTimeout, 10*time.Minute)
	}
	if cfg.ResultFreshness != 2*time.Minute {
		t.Fatalf("ResultFreshness = %v, want %v", cfg.ResultFreshness, 2*time.Minute)
	}
	if cfg.ChromePort != 9222 {
		t.Fatalf("ChromePort = %d, want 9222", cfg.ChromePort)
	}
}

func TestLoadUsesExplicitPortalSettings(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("PORTAL_BASE_URL", "http://rooms.internal:3000")
	t.Setenv("PORTAL_OP_TIMEOUT", "45s")
	t.Setenv("RESULT_FRESHNESS", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PortalBaseURL != "http://rooms.internal:3000" {
		t.Fatalf("PortalBaseURL = %q, want explicit value", cfg.PortalBaseURL)
	}
	if cfg.PortalOpTimeout != 45*time.Second {
		t.Fatalf("PortalOpTimeout = %v, want %v", cfg.PortalOpTimeout, 45*time.Second)
	}
	if cfg.ResultFreshness != 90*time.Second {
		t.Fatalf("ResultFreshness = %v, want %v", cfg.ResultFreshness, 90*time.Second)
	}
}

func TestLoadRejectsBadMode(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("AUTOMATION_MODE", "selenium")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected error for bad automation mode")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_SESSION_INACTIVITY_TIMEOUT", "2s")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected error for too-short inactivity timeout")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"PORTAL_BASE_URL",
		"PORTAL_OP_TIMEOUT",
		"AUTOMATION_MODE",
		"CHROME_DEBUG_HOST",
		"CHROME_DEBUG_PORT",
		"EXTRACTOR_MODE",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"OPENAI_EXTRACT_MODEL",
		"EXTRACT_TIMEOUT",
		"RESULT_FRESHNESS",
		"DRIVER_RETRY_BACKOFF",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
