package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every variable LoadFromEnv reads for the duration of t.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"EXPORT_DIR", "FRESH_SERVICE_DOMAIN", "FRESH_SERVICE_API_KEY",
		"START_TICKET_ID", "END_TICKET_ID", "NUMBER_PARTITIONS",
		"LOG_LEVEL", "LOG_PRETTY", "REDIS_URL", "METRICS_ADDR", "HTTP_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func validConfig() Config {
	cfg := Default()
	cfg.ExportDir = "/tmp/export"
	cfg.Domain = "acme.freshservice.com"
	cfg.APIKey = "secret"
	cfg.EndTicketID = 100
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.StartTicketID != 1 {
		t.Errorf("expected default start id 1, got %d", cfg.StartTicketID)
	}
	if cfg.Partitions != 4 {
		t.Errorf("expected default partitions 4, got %d", cfg.Partitions)
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", cfg.HTTPTimeout)
	}
	if !reflect.DeepEqual(cfg.Include, []string{"stats", "conversations"}) {
		t.Errorf("expected default include stats,conversations, got %v", cfg.Include)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
export_dir: /data/tickets
domain: acme.freshservice.com
api_key: abc123
start_ticket_id: 1000
end_ticket_id: 2000
partitions: 8
include: [stats]
http_timeout: 10s
log_level: debug
log_pretty: true
redis_url: redis://localhost:6379/2
metrics_addr: ":9090"
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	want := Config{
		ExportDir:     "/data/tickets",
		Domain:        "acme.freshservice.com",
		APIKey:        "abc123",
		StartTicketID: 1000,
		EndTicketID:   2000,
		Partitions:    8,
		Include:       []string{"stats"},
		UserAgent:     Default().UserAgent,
		HTTPTimeout:   10 * time.Second,
		LogLevel:      "debug",
		LogPretty:     true,
		RedisURL:      "redis://localhost:6379/2",
		MetricsAddr:   ":9090",
	}
	if !reflect.DeepEqual(cfg, want) {
		t.Errorf("LoadFromFile() =\n%+v\nwant\n%+v", cfg, want)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	if _, err := LoadFromFile(writeConfig(t, "partitions: [1, 2")); err == nil {
		t.Error("expected error for invalid YAML")
	}

	if _, err := LoadFromFile(writeConfig(t, "http_timeout: soon")); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("EXPORT_DIR", "/env/export")
	t.Setenv("FRESH_SERVICE_DOMAIN", "env.freshservice.com")
	t.Setenv("FRESH_SERVICE_API_KEY", "envkey")
	t.Setenv("START_TICKET_ID", "5")
	t.Setenv("END_TICKET_ID", "50")
	t.Setenv("NUMBER_PARTITIONS", "3")
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("LOG_PRETTY", "1")
	t.Setenv("REDIS_URL", "localhost:6379")
	t.Setenv("METRICS_ADDR", ":2112")
	t.Setenv("HTTP_TIMEOUT", "1m")

	cfg := Default()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.ExportDir != "/env/export" || cfg.Domain != "env.freshservice.com" || cfg.APIKey != "envkey" {
		t.Errorf("unexpected account settings: %+v", cfg)
	}
	if cfg.StartTicketID != 5 || cfg.EndTicketID != 50 || cfg.Partitions != 3 {
		t.Errorf("unexpected range settings: start=%d end=%d partitions=%d", cfg.StartTicketID, cfg.EndTicketID, cfg.Partitions)
	}
	if cfg.LogLevel != "WARN" || !cfg.LogPretty {
		t.Errorf("unexpected log settings: level=%q pretty=%v", cfg.LogLevel, cfg.LogPretty)
	}
	if cfg.RedisURL != "localhost:6379" || cfg.MetricsAddr != ":2112" {
		t.Errorf("unexpected service settings: redis=%q metrics=%q", cfg.RedisURL, cfg.MetricsAddr)
	}
	if cfg.HTTPTimeout != time.Minute {
		t.Errorf("expected timeout 1m, got %v", cfg.HTTPTimeout)
	}
}

func TestLoadFromEnv_InvalidNumbers(t *testing.T) {
	for _, key := range []string{"START_TICKET_ID", "END_TICKET_ID", "NUMBER_PARTITIONS", "HTTP_TIMEOUT"} {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, "abc")

			cfg := Default()
			err := cfg.LoadFromEnv()
			if err == nil {
				t.Fatalf("expected error for %s=abc", key)
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("error %q should name %s", err, key)
			}
		})
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "export_dir: /from/file\npartitions: 8\n")
	t.Setenv("NUMBER_PARTITIONS", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ExportDir != "/from/file" {
		t.Errorf("expected export dir from file, got %q", cfg.ExportDir)
	}
	if cfg.Partitions != 2 {
		t.Errorf("expected env partitions 2, got %d", cfg.Partitions)
	}
}

func TestLoad_NoFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("Load(\"\") = %+v, want defaults", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid", modify: func(c *Config) {}},
		{name: "empty range is valid", modify: func(c *Config) { c.StartTicketID, c.EndTicketID = 10, 5 }},
		{name: "missing export dir", modify: func(c *Config) { c.ExportDir = "" }, wantErr: "export_dir"},
		{name: "missing domain", modify: func(c *Config) { c.Domain = "" }, wantErr: "domain"},
		{name: "missing api key", modify: func(c *Config) { c.APIKey = "" }, wantErr: "api_key"},
		{name: "zero start id", modify: func(c *Config) { c.StartTicketID = 0 }, wantErr: "start_ticket_id"},
		{name: "zero partitions", modify: func(c *Config) { c.Partitions = 0 }, wantErr: "partitions"},
		{name: "negative timeout", modify: func(c *Config) { c.HTTPTimeout = -time.Second }, wantErr: "http_timeout"},
		{name: "unknown log level", modify: func(c *Config) { c.LogLevel = "loud" }, wantErr: "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConversions(t *testing.T) {
	cfg := validConfig()
	cfg.HTTPTimeout = 5 * time.Second
	cfg.Include = []string{"stats"}
	cfg.LogLevel = "DEBUG"
	cfg.LogPretty = true

	cc := cfg.ClientConfig()
	if cc.Domain != cfg.Domain || cc.APIKey != cfg.APIKey {
		t.Errorf("ClientConfig() account = %q/%q", cc.Domain, cc.APIKey)
	}
	if cc.Timeout != 5*time.Second {
		t.Errorf("ClientConfig().Timeout = %v, want 5s", cc.Timeout)
	}
	if !reflect.DeepEqual(cc.Include, []string{"stats"}) {
		t.Errorf("ClientConfig().Include = %v", cc.Include)
	}

	ec := cfg.ExportConfig()
	if ec.Root != cfg.ExportDir || ec.StartID != 1 || ec.EndID != 100 || ec.Partitions != 4 {
		t.Errorf("ExportConfig() = %+v", ec)
	}

	lc := cfg.LoggingConfig()
	if lc.Level != "debug" || !lc.Pretty {
		t.Errorf("LoggingConfig() = %+v", lc)
	}
}

func TestRedisOptions(t *testing.T) {
	cfg := validConfig()

	opts, err := cfg.RedisOptions()
	if err != nil || opts != nil {
		t.Errorf("RedisOptions() without URL = %v, %v; want nil, nil", opts, err)
	}

	cfg.RedisURL = "localhost:6380"
	opts, err = cfg.RedisOptions()
	if err != nil {
		t.Fatalf("RedisOptions() error = %v", err)
	}
	if opts.Addr != "localhost:6380" {
		t.Errorf("Addr = %q, want localhost:6380", opts.Addr)
	}

	cfg.RedisURL = "redis://cache:6379/3"
	opts, err = cfg.RedisOptions()
	if err != nil {
		t.Fatalf("RedisOptions() error = %v", err)
	}
	if opts.Addr != "cache:6379" || opts.DB != 3 {
		t.Errorf("RedisOptions() = addr %q db %d, want cache:6379 db 3", opts.Addr, opts.DB)
	}

	cfg.RedisURL = "ftp://nope"
	if _, err := cfg.RedisOptions(); err == nil {
		t.Error("expected error for non-redis URL scheme")
	}
}
