package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level        string
		debugEnabled bool
		infoEnabled  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"error", false, false},
		{"", false, true},
		{"verbose", false, true},
	}

	for _, tt := range tests {
		logger := New(tt.level, "text")
		if logger == nil {
			t.Fatalf("New(%q) returned nil", tt.level)
		}
		if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tt.debugEnabled {
			t.Errorf("level %q: debug enabled = %v, want %v", tt.level, got, tt.debugEnabled)
		}
		if got := logger.Enabled(context.Background(), slog.LevelInfo); got != tt.infoEnabled {
			t.Errorf("level %q: info enabled = %v, want %v", tt.level, got, tt.infoEnabled)
		}
	}
}

func TestNewJSONFormat(t *testing.T) {
	if New("info", "json") == nil {
		t.Fatal("Expected non-nil logger for JSON format")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()

	if id := RequestID(ctx); id != "" {
		t.Errorf("Expected empty request ID, got %q", id)
	}

	ctx = WithRequestID(ctx, "req_a1b2c3")
	if id := RequestID(ctx); id != "req_a1b2c3" {
		t.Errorf("Expected req_a1b2c3, got %q", id)
	}

	ctx = WithRequestID(ctx, "req_d4e5f6")
	if id := RequestID(ctx); id != "req_d4e5f6" {
		t.Errorf("Expected the later ID to win, got %q", id)
	}
}

func TestTenantRoundTrip(t *testing.T) {
	ctx := context.Background()

	if tenant := Tenant(ctx); tenant != "" {
		t.Errorf("Expected empty tenant, got %q", tenant)
	}

	ctx = WithTenant(ctx, "ten_acme")
	if tenant := Tenant(ctx); tenant != "ten_acme" {
		t.Errorf("Expected ten_acme, got %q", tenant)
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("Expected default logger when none set")
	}

	custom := New("debug", "json")
	ctx := WithLogger(context.Background(), custom)
	if FromContext(ctx) != custom {
		t.Error("Expected custom logger from context")
	}
}

func TestL(t *testing.T) {
	ctx := WithLogger(context.Background(), New("info", "text"))
	ctx = WithRequestID(ctx, "req_123")
	ctx = WithTenant(ctx, "ten_acme")

	if L(ctx) == nil {
		t.Fatal("Expected non-nil logger from L()")
	}
	if L(context.Background()) == nil {
		t.Fatal("Expected default logger from L() on a bare context")
	}
}
