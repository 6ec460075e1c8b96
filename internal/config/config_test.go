package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SyncStaleness != 10*time.Minute {
		t.Errorf("SyncStaleness = %v, want 10m", cfg.SyncStaleness)
	}
	if cfg.PushUnregisterTimeout != 3*time.Second {
		t.Errorf("PushUnregisterTimeout = %v, want 3s", cfg.PushUnregisterTimeout)
	}
	if cfg.IsDevelopment() {
		t.Error("IsDevelopment() = true by default")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sealbox.toml")
	content := `
listen_addr = "127.0.0.1:9000"
data_dir = "/var/lib/sealbox"
log_level = "debug"
sync_staleness = "30m"
max_attachment_size = 1024
allowed_origins = ["http://ui.local"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DATA_DIR", "/tmp/override")
	t.Setenv("APP_ENV", "development")
	t.Setenv("ALLOWED_ORIGINS", "http://a.local, http://b.local")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.DataDir != "/tmp/override" {
		t.Errorf("DataDir = %q, want env override", cfg.DataDir)
	}
	if cfg.SyncStaleness != 30*time.Minute {
		t.Errorf("SyncStaleness = %v, want 30m", cfg.SyncStaleness)
	}
	if cfg.MaxAttachmentSize != 1024 {
		t.Errorf("MaxAttachmentSize = %d, want 1024", cfg.MaxAttachmentSize)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("Level() = %v, want debug", cfg.Level())
	}
	if !cfg.IsDevelopment() {
		t.Error("IsDevelopment() = false with APP_ENV=development")
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.local" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadConfigFileFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sealbox.toml")
	os.WriteFile(path, []byte(`listen_addr = "0.0.0.0:1"`), 0o600)
	t.Setenv(ConfigFileEnv, path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:1" {
		t.Errorf("ListenAddr = %q, want value from %s", cfg.ListenAddr, ConfigFileEnv)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"SYNC_STALENESS":      "soon",
		"MAX_ATTACHMENT_SIZE": "-1",
		"LOG_LEVEL":           "loud",
		"LISTEN_ADDR":         "",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(""); err == nil {
				t.Errorf("Load() with %s=%q succeeded", key, value)
			}
		})
	}
}
