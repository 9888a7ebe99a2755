package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigSaneValues(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Bundler.EsbuildBin != "esbuild" {
		t.Fatalf("expected default esbuild binary name, got %q", cfg.Bundler.EsbuildBin)
	}
	if cfg.Sandbox.MemoryMB <= 0 || cfg.Sandbox.TimeoutS <= 0 {
		t.Fatalf("expected positive sandbox sizing defaults, got %+v", cfg.Sandbox)
	}
	if !cfg.Observability.Metrics.Enabled {
		t.Fatalf("expected metrics enabled by default")
	}
}

func TestLoadFromFileMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"bundler":{"esbuild_bin":"/usr/local/bin/esbuild"}}`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Bundler.EsbuildBin != "/usr/local/bin/esbuild" {
		t.Fatalf("expected file override to apply, got %q", cfg.Bundler.EsbuildBin)
	}
	if cfg.Sandbox.MemoryMB != DefaultConfig().Sandbox.MemoryMB {
		t.Fatalf("expected omitted fields to keep defaults, got %+v", cfg.Sandbox)
	}
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("SANDBOXJS_ESBUILD_BIN", "custom-esbuild")
	t.Setenv("SANDBOXJS_DEVELOPMENT", "true")
	t.Setenv("SANDBOXJS_SANDBOX_MEMORY_MB", "512")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Bundler.EsbuildBin != "custom-esbuild" {
		t.Fatalf("expected env override for esbuild bin, got %q", cfg.Bundler.EsbuildBin)
	}
	if !cfg.Development {
		t.Fatalf("expected development mode enabled by env override")
	}
	if cfg.Sandbox.MemoryMB != 512 {
		t.Fatalf("expected memory override 512, got %d", cfg.Sandbox.MemoryMB)
	}
}

func TestMasterKeyEnvOverrideEnablesSecrets(t *testing.T) {
	t.Setenv("SANDBOXJS_MASTER_KEY", "deadbeef")
	cfg := DefaultConfig()
	LoadFromEnv(cfg)
	if !cfg.Secrets.Enabled || cfg.Secrets.MasterKey != "deadbeef" {
		t.Fatalf("expected master key override to enable secrets, got %+v", cfg.Secrets)
	}
}
