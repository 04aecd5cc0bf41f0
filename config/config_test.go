package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load returned error for missing file: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9200 {
		t.Errorf("unexpected server defaults: %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Pool.Size != 4 || cfg.Pool.InactivityTimeoutS != 300 || cfg.Pool.MaxQueueDepth != 10 {
		t.Errorf("unexpected pool defaults: %+v", cfg.Pool)
	}
	if cfg.Browser.ResponseTimeoutMs != 2_400_000 {
		t.Errorf("unexpected response timeout default: %d", cfg.Browser.ResponseTimeoutMs)
	}
	if cfg.Browser.PreferredModel != "Pro" {
		t.Errorf("unexpected preferred model default: %q", cfg.Browser.PreferredModel)
	}
	if cfg.Browser.MaxFilesPerTurn != 9 {
		t.Errorf("unexpected max files default: %d", cfg.Browser.MaxFilesPerTurn)
	}
	if cfg.Health.CheckIntervalS != 60 || cfg.Health.InactivityCheckIntervalS != 30 {
		t.Errorf("unexpected health defaults: %+v", cfg.Health)
	}
}

func TestLoad_PartialFileOverridesOnlyNamedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "pool:\n  size: 2\nbrowser:\n  headless: true\n  preferred_model: Flash\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Pool.Size != 2 {
		t.Errorf("pool size not overridden: %d", cfg.Pool.Size)
	}
	if !cfg.Browser.Headless {
		t.Error("headless not overridden")
	}
	if cfg.Browser.PreferredModel != "Flash" {
		t.Errorf("preferred model not overridden: %q", cfg.Browser.PreferredModel)
	}
	// Untouched keys keep their defaults.
	if cfg.Pool.InactivityTimeoutS != 300 {
		t.Errorf("inactivity timeout changed unexpectedly: %d", cfg.Pool.InactivityTimeoutS)
	}
	if cfg.Server.Port != 9200 {
		t.Errorf("server port changed unexpectedly: %d", cfg.Server.Port)
	}
}

func TestLoad_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("pool: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestPath_EnvOverride(t *testing.T) {
	t.Setenv(EnvConfigPath, "/tmp/alt.yaml")
	if got := Path(); got != "/tmp/alt.yaml" {
		t.Errorf("Path() = %q, want env override", got)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	if cfg.Browser.NavigationTimeout() != 30*time.Second {
		t.Errorf("NavigationTimeout = %v", cfg.Browser.NavigationTimeout())
	}
	if cfg.Browser.ResponseTimeout() != 40*time.Minute {
		t.Errorf("ResponseTimeout = %v", cfg.Browser.ResponseTimeout())
	}
	if cfg.Pool.InactivityTimeout() != 5*time.Minute {
		t.Errorf("InactivityTimeout = %v", cfg.Pool.InactivityTimeout())
	}
}
