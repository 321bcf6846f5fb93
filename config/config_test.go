package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
imap:
  address: 0.0.0.0
  port: 1993
  poll_timeout: 250ms
smtp:
  enabled: true
  max_message_bytes: 1024
log:
  level: debug
storages:
  - name: main
    type: directory
    path: /var/mail/main
  - type: sqlite
    path: /var/mail/db.sqlite
    kind: temp
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.IMAP.Address != "0.0.0.0" || cfg.IMAP.Port != 1993 {
		t.Errorf("imap = %+v", cfg.IMAP)
	}
	if cfg.IMAP.PollTimeout != 250*time.Millisecond {
		t.Errorf("poll_timeout = %v", cfg.IMAP.PollTimeout)
	}
	if cfg.IMAP.LoopInterval != 10*time.Millisecond {
		t.Errorf("loop_interval default = %v", cfg.IMAP.LoopInterval)
	}
	if !cfg.SMTP.Enabled || cfg.SMTP.MaxMessageBytes != 1024 || cfg.SMTP.Port != 2525 {
		t.Errorf("smtp = %+v", cfg.SMTP)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if len(cfg.Storages) != 2 {
		t.Fatalf("storages = %+v", cfg.Storages)
	}
	if cfg.Storages[0].Name != "main" || cfg.Storages[1].Kind != "temp" {
		t.Errorf("storages = %+v", cfg.Storages)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfigInvalidStorage(t *testing.T) {
	path := writeConfig(t, `
storages:
  - type: directory
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for storage without path")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.IMAP.Port != 1143 || cfg.IMAP.PollTimeout != 100*time.Millisecond {
		t.Errorf("imap = %+v", cfg.IMAP)
	}
	if cfg.SMTP.Enabled {
		t.Error("smtp enabled by default")
	}
	if len(cfg.Storages) != 0 {
		t.Errorf("storages = %+v", cfg.Storages)
	}
}
