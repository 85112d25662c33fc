package auth

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestManager() *Manager {
	return NewManager(NewMemoryStore())
}

func TestGenerateKeyFormat(t *testing.T) {
	mgr := newTestManager()

	rawKey, key, err := mgr.GenerateKey(context.Background(), "ten_acme", "Production key")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	if !strings.HasPrefix(rawKey, "sk_") || len(rawKey) != len("sk_")+64 {
		t.Errorf("raw key should be sk_ plus 64 hex chars, got %q", rawKey)
	}
	if !strings.HasPrefix(key.ID, "ak_") {
		t.Errorf("key ID should start with ak_, got %s", key.ID)
	}
	if key.TenantID != "ten_acme" || key.Name != "Production key" {
		t.Errorf("metadata mismatch: %+v", key)
	}
	if key.Hash == "" || key.Hash == rawKey {
		t.Error("stored hash must be set and must not be the raw key")
	}
	if key.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestValidateKeyRoundTrip(t *testing.T) {
	mgr := newTestManager()
	ctx := context.Background()

	rawKey, _, err := mgr.GenerateKey(ctx, "ten_acme", "Primary")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	for _, presented := range []string{rawKey, "Bearer " + rawKey, "  " + rawKey + "  "} {
		key, err := mgr.ValidateKey(ctx, presented)
		if err != nil {
			t.Errorf("ValidateKey(%q) failed: %v", presented, err)
			continue
		}
		if key.TenantID != "ten_acme" {
			t.Errorf("resolved tenant = %s, want ten_acme", key.TenantID)
		}
	}
}

func TestValidateKeyRejections(t *testing.T) {
	mgr := newTestManager()
	ctx := context.Background()

	tests := []struct {
		name    string
		rawKey  string
		wantErr error
	}{
		{"empty", "", ErrNoAPIKey},
		{"wrong prefix", "pk_0123456789abcdef", ErrInvalidAPIKey},
		{"unknown key", "sk_" + strings.Repeat("ab", 32), ErrInvalidAPIKey},
		{"garbage", "not a key at all", ErrInvalidAPIKey},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := mgr.ValidateKey(ctx, tc.rawKey); err != tc.wantErr {
				t.Errorf("ValidateKey(%q) error = %v, want %v", tc.rawKey, err, tc.wantErr)
			}
		})
	}
}

func TestValidateKeyExpired(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	rawKey, key, err := mgr.GenerateKey(ctx, "ten_acme", "Short lived")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	past := time.Now().Add(-time.Hour)
	key.ExpiresAt = &past
	if err := store.Update(ctx, key); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if _, err := mgr.ValidateKey(ctx, rawKey); err != ErrInvalidAPIKey {
		t.Errorf("expected ErrInvalidAPIKey for expired key, got %v", err)
	}
}

func TestListKeysScopedToTenant(t *testing.T) {
	mgr := newTestManager()
	ctx := context.Background()

	mgr.GenerateKey(ctx, "ten_acme", "Key 1")
	mgr.GenerateKey(ctx, "ten_acme", "Key 2")
	mgr.GenerateKey(ctx, "ten_globex", "Key 3")

	acme, err := mgr.ListKeys(ctx, "ten_acme")
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	if len(acme) != 2 {
		t.Errorf("ten_acme keys = %d, want 2", len(acme))
	}

	globex, err := mgr.ListKeys(ctx, "ten_globex")
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	if len(globex) != 1 {
		t.Errorf("ten_globex keys = %d, want 1", len(globex))
	}
}

func TestRevokeKey(t *testing.T) {
	mgr := newTestManager()
	ctx := context.Background()

	rawKey, key, _ := mgr.GenerateKey(ctx, "ten_acme", "To revoke")

	if _, err := mgr.ValidateKey(ctx, rawKey); err != nil {
		t.Fatalf("key should validate before revocation: %v", err)
	}

	if err := mgr.RevokeKey(ctx, key.ID, "ten_acme"); err != nil {
		t.Fatalf("RevokeKey failed: %v", err)
	}

	if _, err := mgr.ValidateKey(ctx, rawKey); err != ErrInvalidAPIKey {
		t.Errorf("expected ErrInvalidAPIKey after revoke, got %v", err)
	}
}

func TestRevokeKeyWrongTenant(t *testing.T) {
	mgr := newTestManager()
	ctx := context.Background()

	rawKey, key, _ := mgr.GenerateKey(ctx, "ten_acme", "Theirs")

	// A different tenant cannot revoke someone else's key
	if err := mgr.RevokeKey(ctx, key.ID, "ten_globex"); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if _, err := mgr.ValidateKey(ctx, rawKey); err != nil {
		t.Errorf("key should still be valid: %v", err)
	}
}
