package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
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
	configPath := writeConfig(t, `
device:
  name_prefix: "CLONER"
  service_uuid: "0x00FF"
  scan_timeout: 5s
storage:
  path: "/tmp/test.db"
  key: "codes"
mqtt:
  enabled: true
  broker:
    host: "broker.local"
    port: 1883
  qos: 1
api:
  port: 9090
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.NamePrefix != "CLONER" {
		t.Errorf("Device.NamePrefix = %q, want %q", cfg.Device.NamePrefix, "CLONER")
	}
	if cfg.Device.ScanTimeout != 5*time.Second {
		t.Errorf("Device.ScanTimeout = %v, want 5s", cfg.Device.ScanTimeout)
	}
	if cfg.Storage.Path != "/tmp/test.db" {
		t.Errorf("Storage.Path = %q, want %q", cfg.Storage.Path, "/tmp/test.db")
	}
	if cfg.Storage.Key != "codes" {
		t.Errorf("Storage.Key = %q, want %q", cfg.Storage.Key, "codes")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}

	// Untouched sections keep their defaults
	if cfg.WebSocket.Path != "/ws" {
		t.Errorf("WebSocket.Path = %q, want default /ws", cfg.WebSocket.Path)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `
storage:
  key: ""
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for empty storage.key, got nil")
	}
	if !strings.Contains(err.Error(), "storage.key") {
		t.Errorf("error = %v, want mention of storage.key", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	configPath := writeConfig(t, `
storage:
  path: "/tmp/file.db"
`)

	t.Setenv("BADGELINK_STORAGE_PATH", "/tmp/env.db")
	t.Setenv("BADGELINK_API_PORT", "7070")
	t.Setenv("BADGELINK_DEVICE_ADDRESS", "AA:BB:CC:DD:EE:FF")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.Path != "/tmp/env.db" {
		t.Errorf("Storage.Path = %q, want env override", cfg.Storage.Path)
	}
	if cfg.API.Port != 7070 {
		t.Errorf("API.Port = %d, want 7070", cfg.API.Port)
	}
	if cfg.Device.Address != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Device.Address = %q, want env override", cfg.Device.Address)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing service uuid",
			mutate:  func(c *Config) { c.Device.ServiceUUID = "" },
			wantErr: true,
		},
		{
			name:    "zero scan timeout",
			mutate:  func(c *Config) { c.Device.ScanTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "missing storage path",
			mutate:  func(c *Config) { c.Storage.Path = "" },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name: "rate limit enabled without budget",
			mutate: func(c *Config) {
				c.API.RateLimit.Enabled = true
				c.API.RateLimit.RequestsPerMinute = 0
			},
			wantErr: true,
		},
		{
			name:    "influxdb enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.Bucket = "b" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Timeouts(t *testing.T) {
	cfg := Default()

	if got := cfg.API.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.API.GetWriteTimeout(); got != 30*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 30s", got)
	}
	if got := cfg.API.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
}
