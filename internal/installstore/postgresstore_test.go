package installstore

import (
	"context"
	"os"
	"testing"
	"time"
)

func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("SANDBOXJS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SANDBOXJS_TEST_POSTGRES_DSN not set, skipping")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available, skipping: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresStoreSetAndGet(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetInstalledHash(ctx, "no-such-session"); err != nil || ok {
		t.Fatalf("expected no entry, got ok=%v err=%v", ok, err)
	}

	if err := s.SetInstalledHash(ctx, "session-x", "abc123"); err != nil {
		t.Fatalf("SetInstalledHash: %v", err)
	}
	digest, ok, err := s.GetInstalledHash(ctx, "session-x")
	if err != nil || !ok || digest != "abc123" {
		t.Fatalf("expected abc123/true, got %q/%v/%v", digest, ok, err)
	}

	if err := s.SetInstalledHash(ctx, "session-x", "def456"); err != nil {
		t.Fatalf("SetInstalledHash (update): %v", err)
	}
	digest, ok, err = s.GetInstalledHash(ctx, "session-x")
	if err != nil || !ok || digest != "def456" {
		t.Fatalf("expected def456/true after update, got %q/%v/%v", digest, ok, err)
	}
}
