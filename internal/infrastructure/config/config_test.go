package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
instance:
  id: "test-instance"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: true
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8123
auth:
  secret: "test-secret-key-at-least-32-chars!"
integrations:
  ddwrt:
    - host: "192.168.1.1"
      username: "admin"
      password: "hunter2"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Instance.ID != "test-instance" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-instance")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if len(cfg.Integrations.DDWRT) != 1 || cfg.Integrations.DDWRT[0].Host != "192.168.1.1" {
		t.Errorf("Integrations.DDWRT = %+v, want one entry for 192.168.1.1", cfg.Integrations.DDWRT)
	}
	// Defaults applied for sections not in the file
	if cfg.WebSocket.Path != "/api/websocket" {
		t.Errorf("WebSocket.Path = %q, want default", cfg.WebSocket.Path)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_MissingAuthSecret(t *testing.T) {
	content := `
instance:
  id: "test-instance"
database:
  path: "/tmp/test.db"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected error for missing auth secret, got nil")
	}
	if !strings.Contains(err.Error(), "auth.secret") {
		t.Errorf("error = %v, want mention of auth.secret", err)
	}
}

func TestLoad_ShortAuthSecret(t *testing.T) {
	content := `
instance:
  id: "test-instance"
auth:
  secret: "too-short"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected error for short auth secret, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	content := `
instance:
  id: "test-instance"
auth:
  secret: "test-secret-key-at-least-32-chars!"
`
	t.Setenv("EMBER_DATABASE_PATH", "/tmp/override.db")
	t.Setenv("EMBER_API_PORT", "9123")

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
	if cfg.API.Port != 9123 {
		t.Errorf("API.Port = %d, want 9123", cfg.API.Port)
	}
}

func TestValidate_InvalidQoS(t *testing.T) {
	cfg := defaultConfig()
	cfg.Auth.Secret = "test-secret-key-at-least-32-chars!"
	cfg.MQTT.QoS = 3

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for QoS 3, got nil")
	}
}

func TestValidate_IncompleteCover(t *testing.T) {
	cfg := defaultConfig()
	cfg.Auth.Secret = "test-secret-key-at-least-32-chars!"
	cfg.Integrations.MQTTCover = []MQTTCoverConfig{{Name: "blind"}}

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for cover without command_topic, got nil")
	}
}
