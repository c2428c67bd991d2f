package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.StopTimeout() != 30*time.Second {
		t.Fatalf("unexpected stop timeout: %v", cfg.StopTimeout())
	}
	if cfg.BackupTimeout() != 30*time.Second {
		t.Fatalf("unexpected backup timeout: %v", cfg.BackupTimeout())
	}
	if cfg.BackupMaxTimeout() != 5*time.Minute {
		t.Fatalf("unexpected max backup timeout: %v", cfg.BackupMaxTimeout())
	}
	if cfg.BackupPollInterval() != 2*time.Second {
		t.Fatalf("unexpected poll interval: %v", cfg.BackupPollInterval())
	}
	if cfg.ServerDir() != "server" {
		t.Fatalf("unexpected server dir: %s", cfg.ServerDir())
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
bedrock:
  executable: /srv/bedrock/bedrock_server
  stop_timeout: 45s
backup:
  timeout: 1m
  schedule: "0 */6 * * *"
  retention_count: 4
  destinations:
    - type: local
      path: /mnt/offsite
`)
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DATABASE_PATH", "/tmp/test.db")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.ServerDir() != "/srv/bedrock" {
		t.Fatalf("unexpected server dir: %s", cfg.ServerDir())
	}
	if cfg.StopTimeout() != 45*time.Second {
		t.Fatalf("unexpected stop timeout: %v", cfg.StopTimeout())
	}
	if cfg.BackupTimeout() != time.Minute {
		t.Fatalf("unexpected backup timeout: %v", cfg.BackupTimeout())
	}
	if cfg.Backup.RetentionCount != 4 || len(cfg.Backup.Destinations) != 1 {
		t.Fatalf("backup section not loaded: %+v", cfg.Backup)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Fatalf("DATABASE_PATH not applied: %s", cfg.Database.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("LOG_LEVEL not applied: %s", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"stop_timeout": func(c *Config) { c.Bedrock.StopTimeout = "soon" },
		"timeout":      func(c *Config) { c.Backup.Timeout = "-1s" },
		"schedule":     func(c *Config) { c.Backup.Schedule = "every tuesday" },
		"retention":    func(c *Config) { c.Backup.RetentionCount = -1 },
		"destination":  func(c *Config) { c.Backup.Destinations = []DestinationConfig{{Type: "ftp"}} },
		"JWT_SECRET":   func(c *Config) { c.Auth.JWTSecret = "change-me-in-production" },
		"TLS":          func(c *Config) { c.API.TLS.Enabled = true },
		"executable":   func(c *Config) { c.Bedrock.Executable = " " },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), name) {
				t.Fatalf("expected error to mention %s, got %v", name, err)
			}
		})
	}
}

func TestResolveConfigPathUsesLocalConfigs(t *testing.T) {
	root := t.TempDir()
	configsDir := filepath.Join(root, "configs")
	if err := os.MkdirAll(configsDir, 0755); err != nil {
		t.Fatalf("failed to create configs dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configsDir, "config.yaml"), []byte("api:\n  port: 9000\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get cwd: %v", err)
	}
	defer func() {
		_ = os.Chdir(cwd)
	}()

	if err := os.Chdir(root); err != nil {
		t.Fatalf("failed to chdir: %v", err)
	}

	if resolved := resolveConfigPath(); resolved != "./configs/config.yaml" {
		t.Fatalf("expected ./configs/config.yaml, got %s", resolved)
	}
}
