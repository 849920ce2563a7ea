package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "wppmon.toml")

	cfg := Default()
	cfg.DataDir = "/var/lib/wppmon"
	cfg.HTTP.Port = 8080
	cfg.Client.InitDelay = Duration{500 * time.Millisecond}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DataDir != "/var/lib/wppmon" || loaded.HTTP.Port != 8080 {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.Client.InitDelay.Duration != 500*time.Millisecond {
		t.Errorf("InitDelay = %v, want 500ms", loaded.Client.InitDelay)
	}
}

func TestLoadMissingUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Port != 3000 || cfg.DataDir != "./data" || !cfg.Client.Enabled {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
	if cfg.Client.InitDelay.Duration != 2*time.Second {
		t.Errorf("InitDelay = %v, want 2s", cfg.Client.InitDelay)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wppmon.toml")
	content := "data_dir = \"/srv/data\"\n\n[client]\nreinit_delay = \"1m\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DataDir != "/srv/data" || cfg.Client.ReinitDelay.Duration != time.Minute {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.HTTP.Port != 3000 || cfg.Client.DeviceName == "" {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wppmon.toml")
	if err := os.WriteFile(path, []byte("[client]\ninit_delay = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid duration")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"PORT":              "4000",
		"HOST":              "127.0.0.1",
		"DATA_DIR":          "/tmp/wpp",
		"WHATSAPP_DISABLED": "true",
		"REDIS_ADDR":        "localhost:6379",
		"REDIS_DB":          "2",
		"NODE_ENV":          "production",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.Addr() != "127.0.0.1:4000" {
		t.Errorf("Addr() = %q, want 127.0.0.1:4000", cfg.Addr())
	}
	if cfg.DataDir != "/tmp/wpp" || cfg.LogFile() != filepath.Join("/tmp/wpp", "wppmond.log") {
		t.Errorf("DataDir = %q, LogFile = %q", cfg.DataDir, cfg.LogFile())
	}
	if cfg.Client.Enabled {
		t.Error("client should be disabled")
	}
	if !cfg.RedisEnabled() || cfg.Redis.DB != 2 {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if !cfg.Production() || cfg.Heartbeat() != 30*time.Second {
		t.Errorf("production = %v, heartbeat = %v", cfg.Production(), cfg.Heartbeat())
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	tests := map[string]string{
		"PORT":              "eighty",
		"REDIS_DB":          "x",
		"WHATSAPP_DISABLED": "maybe",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			if err := Default().ApplyEnv(envMap(map[string]string{key: val})); err == nil {
				t.Errorf("ApplyEnv(%s=%q) expected error", key, val)
			}
		})
	}
}

func TestHeartbeatDisabledOutsideProduction(t *testing.T) {
	cfg := Default()
	if cfg.Heartbeat() != 0 {
		t.Errorf("Heartbeat() = %v, want 0", cfg.Heartbeat())
	}
	cfg.HeartbeatInterval = Duration{time.Minute}
	if cfg.Heartbeat() != time.Minute {
		t.Errorf("Heartbeat() = %v, want 1m", cfg.Heartbeat())
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wppmon.toml")
	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
