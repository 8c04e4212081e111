package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "buildcore.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

func TestLoadParsesPlatformAndCacheSettings(t *testing.T) {
	path := writeConfig(t, `
platform:
  os: linux
  architecture: amd64
cache:
  maxSize: 512MiB
  gcInterval: 30s
  indexPath: /var/lib/buildcore/index.msgpack
  cacheKeyVersion: v1
scheduler:
  concurrency: 4
  failFast: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Platform.OS != "linux" || cfg.Platform.Architecture != "amd64" {
		t.Errorf("unexpected platform: %+v", cfg.Platform)
	}
	expectedMaxSize := byteSize(512 << 20)
	if cfg.Cache.MaxSize != expectedMaxSize {
		t.Errorf("expected 512MiB to parse to %d bytes, got %d", expectedMaxSize, cfg.Cache.MaxSize)
	}
	if cfg.Cache.GCInterval != 30*time.Second {
		t.Errorf("unexpected gcInterval: %v", cfg.Cache.GCInterval)
	}
	if !cfg.Scheduler.FailFast || cfg.Scheduler.Concurrency != 4 {
		t.Errorf("unexpected scheduler settings: %+v", cfg.Scheduler)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
platform:
  os: linux
  architecture: amd64
bogusTopLevelField: true
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected strict decoding to reject an unknown top-level field")
	}
}

func TestLoadPassesThroughNotExist(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !os.IsNotExist(err) {
		t.Fatalf("expected a not-exist error, got: %v", err)
	}
}

func TestCacheSettingsDefaultsAppliedOnConversion(t *testing.T) {
	var s CacheSettings
	converted := s.ToCacheConfiguration()
	if converted.GCInterval <= 0 {
		t.Error("expected a default gcInterval to be applied")
	}
	if converted.CacheKeyVersion == "" {
		t.Error("expected a default cacheKeyVersion to be applied")
	}
}

func TestByteSizeAcceptsBareInteger(t *testing.T) {
	path := writeConfig(t, `
platform:
  os: linux
  architecture: amd64
cache:
  maxSize: 1048576
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Cache.MaxSize != 1048576 {
		t.Errorf("expected bare integer byte size to parse literally, got %d", cfg.Cache.MaxSize)
	}
}
