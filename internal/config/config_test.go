package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.URL != "https://ftp.cptec.inpe.br" {
		t.Errorf("server url default = %q", cfg.Server.URL)
	}
	if cfg.Server.Retries != 5 {
		t.Errorf("retries default = %d, want 5", cfg.Server.Retries)
	}
	if cfg.Staleness.RetryBackoffMin != 30 || cfg.Staleness.RefreshAgeHours != 48 {
		t.Errorf("staleness defaults = %+v", cfg.Staleness)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MERGEFETCH_SERVER_MODE", "force")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Mode != "force" {
		t.Errorf("env override not applied: mode = %q", cfg.Server.Mode)
	}
}

func TestSaveAndLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg, _ := Load()
	cfg.Storage.Folder = filepath.Join(dir, "data")
	cfg.Logging.Level = "debug"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	back, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if back.Storage.Folder != cfg.Storage.Folder {
		t.Errorf("folder = %q, want %q", back.Storage.Folder, cfg.Storage.Folder)
	}
	if back.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", back.Logging.Level)
	}
}
