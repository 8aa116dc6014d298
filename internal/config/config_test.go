package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected port 8080, got %q", cfg.Port)
	}
	if cfg.Bulk.DeleteDelay != 100*time.Millisecond {
		t.Errorf("Expected delete delay 100ms, got %v", cfg.Bulk.DeleteDelay)
	}
	if cfg.Bulk.CreateDelay != 200*time.Millisecond {
		t.Errorf("Expected create delay 200ms, got %v", cfg.Bulk.CreateDelay)
	}
	if cfg.LLM.Addr != "" {
		t.Errorf("Expected provider disabled by default, got %q", cfg.LLM.Addr)
	}
	if !cfg.IsDevelopment() {
		t.Error("Expected development mode without FRONTEND_URL")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("FRONTEND_URL", "https://planner.example.com")
	t.Setenv("BULK_DELETE_DELAY", "5ms")
	t.Setenv("RATE_LIMIT_REQUESTS", "3")
	t.Setenv("SSE_KEEPALIVE", "not-a-duration")
	t.Setenv("CONVERSATION_LOG_ENABLED", "off")
	t.Setenv("TIMEZONE", "UTC")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Expected port 9090, got %q", cfg.Port)
	}
	if cfg.Bulk.DeleteDelay != 5*time.Millisecond {
		t.Errorf("Expected 5ms, got %v", cfg.Bulk.DeleteDelay)
	}
	if cfg.RateLimit.RequestsPerWindow != 3 {
		t.Errorf("Expected 3 requests, got %d", cfg.RateLimit.RequestsPerWindow)
	}
	if cfg.SSE.KeepaliveInterval != 10*time.Second {
		t.Errorf("Expected fallback keepalive, got %v", cfg.SSE.KeepaliveInterval)
	}
	if cfg.ConversationLog.Enabled {
		t.Error("Expected conversation log disabled")
	}
	if cfg.IsDevelopment() {
		t.Error("Expected production mode")
	}
	if cfg.Location() != time.UTC {
		t.Errorf("Expected UTC location, got %v", cfg.Location())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		errSub string
	}{
		{"bad timezone", map[string]string{"TIMEZONE": "Mars/Olympus"}, "TIMEZONE"},
		{"bad cron", map[string]string{"SWEEP_CRON": "every minute"}, "SWEEP_CRON"},
		{"zero rate limit", map[string]string{"RATE_LIMIT_REQUESTS": "0"}, "RATE_LIMIT"},
		{"negative delay", map[string]string{"BULK_CREATE_DELAY": "-1s"}, "BULK"},
		{"empty db", map[string]string{"DB_PATH": ""}, "DB_PATH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.errSub) {
				t.Errorf("Expected error mentioning %s, got %v", tt.errSub, err)
			}
		})
	}
}
