package installstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStoreSetAndGet(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	if _, ok, err := s.GetInstalledHash(ctx, "session-a"); err != nil || ok {
		t.Fatalf("expected no entry for fresh store, got ok=%v err=%v", ok, err)
	}

	if err := s.SetInstalledHash(ctx, "session-a", "deadbeef"); err != nil {
		t.Fatalf("SetInstalledHash: %v", err)
	}
	digest, ok, err := s.GetInstalledHash(ctx, "session-a")
	if err != nil || !ok || digest != "deadbeef" {
		t.Fatalf("expected deadbeef/true, got %q/%v/%v", digest, ok, err)
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s1.SetInstalledHash(ctx, "k", "h1"); err != nil {
		t.Fatalf("SetInstalledHash: %v", err)
	}

	s2, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen NewFileStore: %v", err)
	}
	digest, ok, err := s2.GetInstalledHash(ctx, "k")
	if err != nil || !ok || digest != "h1" {
		t.Fatalf("expected persisted h1/true, got %q/%v/%v", digest, ok, err)
	}
}

func TestFileStoreWritesUnderSandboxStateDir(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s.SetInstalledHash(context.Background(), "k", "v"); err != nil {
		t.Fatalf("SetInstalledHash: %v", err)
	}

	wantDir := filepath.Join(dir, ".sandbox-state")
	if s.dir != wantDir {
		t.Fatalf("expected dir %q, got %q", wantDir, s.dir)
	}

	wantFile := filepath.Join(wantDir, "k.json")
	raw, err := os.ReadFile(wantFile)
	if err != nil {
		t.Fatalf("expected one file per session key at %s: %v", wantFile, err)
	}

	var rec struct {
		BundleHash string `json:"bundleHash"`
		UpdatedAt  string `json:"updatedAt"`
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("decode state file: %v", err)
	}
	if rec.BundleHash != "v" {
		t.Fatalf("expected bundleHash %q, got %q", "v", rec.BundleHash)
	}
	if _, err := time.Parse(time.RFC3339, rec.UpdatedAt); err != nil {
		t.Fatalf("expected updatedAt to be an RFC3339 timestamp, got %q: %v", rec.UpdatedAt, err)
	}
}

func TestFileStoreEscapesUnsafeKeyCharacters(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	key := "tenant/42 session"
	if err := s.SetInstalledHash(context.Background(), key, "h"); err != nil {
		t.Fatalf("SetInstalledHash: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, ".sandbox-state"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one state file, got %d", len(entries))
	}
	// The raw key contains '/', which cannot appear verbatim in a single
	// path component; the filename must be an escaped form of it.
	if name := entries[0].Name(); name == key+".json" {
		t.Fatalf("expected key to be escaped in filename, got unescaped %q", name)
	}

	s2, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen NewFileStore: %v", err)
	}
	digest, ok, err := s2.GetInstalledHash(context.Background(), key)
	if err != nil || !ok || digest != "h" {
		t.Fatalf("expected round-tripped key to resolve to h/true, got %q/%v/%v", digest, ok, err)
	}
}
