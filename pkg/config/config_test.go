package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/mediarelay/internal/bytesize"
	"github.com/marmos91/mediarelay/pkg/store"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
// On Windows, backslashes in double-quoted YAML strings are interpreted as
// escape sequences (e.g. \U -> Unicode escape), causing parse errors.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_MinimalConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, `
logging:
  level: "debug"

database:
  type: sqlite
  sqlite:
    path: "`+yamlSafePath(dir)+`/relay.db"

transfer:
  max_concurrent: 4
  small_file_limit: 20MiB
  download_timeout: 2m

session:
  endpoint: "wss://session.example.com/ws"
  keepalive: 15m
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Transfer.MaxConcurrent != 4 {
		t.Errorf("Expected max_concurrent 4, got %d", cfg.Transfer.MaxConcurrent)
	}
	if cfg.Transfer.SmallFileLimit != 20*bytesize.MiB {
		t.Errorf("Expected small_file_limit 20MiB, got %v", cfg.Transfer.SmallFileLimit)
	}
	if cfg.Transfer.DownloadTimeout != 2*time.Minute {
		t.Errorf("Expected download_timeout 2m, got %v", cfg.Transfer.DownloadTimeout)
	}
	if cfg.Transfer.UploadTimeout != 600*time.Second {
		t.Errorf("Expected default upload_timeout 600s, got %v", cfg.Transfer.UploadTimeout)
	}
	if cfg.Session.KeepAlive != 15*time.Minute {
		t.Errorf("Expected keepalive 15m, got %v", cfg.Session.KeepAlive)
	}
	if yamlSafePath(cfg.Database.SQLite.Path) != yamlSafePath(dir)+"/relay.db" {
		t.Errorf("Unexpected sqlite path %q", cfg.Database.SQLite.Path)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Defaults are returned so one-shot commands work without a file.
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}

	if cfg.Transfer.SmallFileLimit != 48*bytesize.MiB {
		t.Errorf("Expected default small_file_limit 48MiB, got %v", cfg.Transfer.SmallFileLimit)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Expected default max_attempts 3, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Database.Type != store.DatabaseTypeSQLite {
		t.Errorf("Expected sqlite database, got %q", cfg.Database.Type)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("MEDIARELAY_BOTAPI_TOKEN", "123:abc")
	t.Setenv("MEDIARELAY_TRANSFER_MAX_CONCURRENT", "7")
	t.Setenv("MEDIARELAY_LOGGING_FORMAT", "json")

	configPath := writeConfig(t, `
logging:
  format: text
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.BotAPI.Token != "123:abc" {
		t.Errorf("Expected token from env, got %q", cfg.BotAPI.Token)
	}
	if cfg.Session.Token != "123:abc" {
		t.Errorf("Expected session token to default to bot token, got %q", cfg.Session.Token)
	}
	if cfg.Transfer.MaxConcurrent != 7 {
		t.Errorf("Expected max_concurrent 7 from env, got %d", cfg.Transfer.MaxConcurrent)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected env to win over file, got %q", cfg.Logging.Format)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad level", "logging:\n  level: chatty\n", "oneof"},
		{"bad size", "transfer:\n  small_file_limit: lots\n", "invalid byte size"},
		{"bad duration", "transfer:\n  upload_timeout: soon\n", "unmarshal"},
		{"keepalive too short", "session:\n  keepalive: 1m\n", "keepalive"},
		{"interval too fast", "progress:\n  min_interval: 100ms\n", "min_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestMustLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")

	_, err := MustLoad(path)
	if err == nil {
		t.Fatal("Expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "mediarelay init --config") {
		t.Errorf("Expected init hint in error, got: %v", err)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Transfer.SmallFileLimit = 10 * bytesize.MiB
	cfg.Session.Endpoint = "wss://session.example.com/ws"

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Config file not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600 permissions, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to reload saved config: %v", err)
	}
	if loaded.Transfer.SmallFileLimit != 10*bytesize.MiB {
		t.Errorf("Expected 10MiB after round trip, got %v", loaded.Transfer.SmallFileLimit)
	}
	if loaded.Session.Endpoint != cfg.Session.Endpoint {
		t.Errorf("Expected endpoint %q, got %q", cfg.Session.Endpoint, loaded.Session.Endpoint)
	}
}

func TestConversions(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Session.Endpoint = "wss://session.example.com/ws"
	cfg.Session.Token = "tok"

	d := cfg.Session.Dialer()
	if d.Endpoint != cfg.Session.Endpoint || d.Token != "tok" {
		t.Errorf("Dialer not built from session config: %+v", d)
	}

	up := cfg.Session.UploadConfig()
	if up.MediaPartSize != 512*1024 || up.ThumbnailPartSize != 128*1024 {
		t.Errorf("Unexpected part sizes: %+v", up)
	}

	pol := cfg.Retry.Policy()
	if pol.MaxAttempts != 3 || pol.BaseDelay != time.Second || pol.MaxDelay != 30*time.Second {
		t.Errorf("Unexpected retry policy: %+v", pol)
	}

	if cfg.Progress.BarOptions().MinInterval != time.Second {
		t.Errorf("Expected 1s progress interval")
	}
	if cfg.Logging.LoggerConfig().Level != "INFO" {
		t.Errorf("Expected INFO logger level")
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg *Config) {
			select {
			case changes <- cfg:
			default:
			}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0644); err != nil {
		t.Fatalf("Failed to rewrite config: %v", err)
	}

	select {
	case cfg := <-changes:
		if cfg.Logging.Level != "DEBUG" {
			t.Errorf("Expected reloaded level DEBUG, got %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for config reload")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned error: %v", err)
	}
}
