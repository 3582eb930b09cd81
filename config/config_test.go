package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() Config {
	return Config{
		Server:   ServerConfig{Port: 8080},
		Store:    StoreConfig{Role: "master"},
		Local:    LocalConfig{Path: "data/calendar.db"},
		Auth:     AuthConfig{JWTSecret: "0123456789abcdef"},
		Sync:     SyncConfig{BatchSize: 100},
		Calendar: CalendarConfig{Timezone: "UTC"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid master", func(c *Config) {}, false},
		{"valid replica", func(c *Config) {
			c.Store.Role = "replica"
			c.Sync.MasterURL = "http://master:8080"
			c.Sync.UserID = "u1"
		}, false},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, true},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, true},
		{"unknown role", func(c *Config) { c.Store.Role = "primary" }, true},
		{"replica without user", func(c *Config) {
			c.Store.Role = "replica"
			c.Sync.MasterURL = "http://master:8080"
		}, true},
		{"zero batch", func(c *Config) { c.Sync.BatchSize = 0 }, true},
		{"bad timezone", func(c *Config) { c.Calendar.Timezone = "Mars/Olympus" }, true},
	}
	for _, tt := range tests {
		c := validConfig()
		tt.mutate(&c)
		if err := c.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("%s: wantErr=%v, 实际 %v", tt.name, tt.wantErr, err)
		}
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("auth:\n  jwt_secret: from-file-0123456789\nserver:\n  port: 9090\ncalendar:\n  timezone: UTC\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	t.Setenv("PORTAL_SERVER_PORT", "9191")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("环境变量应覆盖配置文件, 实际端口 %d", cfg.Server.Port)
	}
	if cfg.Sync.Schedule != "@every 30s" || cfg.Store.Role != "master" {
		t.Errorf("默认值未生效: %+v", cfg.Sync)
	}
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("PORTAL_AUTH_JWT_SECRET", "from-env-0123456789")
	t.Setenv("PORTAL_STORE_ROLE", "replica")
	t.Setenv("PORTAL_CALENDAR_TIMEZONE", "UTC")
	t.Setenv("PORTAL_SERVER_MAX_BODY_BYTES", "1024")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load 失败: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env-0123456789" {
		t.Errorf("jwt_secret 未从环境变量读取: %q", cfg.Auth.JWTSecret)
	}
	if cfg.Store.Role != "replica" || cfg.Local.Path == "" {
		t.Errorf("副本配置异常: %+v %+v", cfg.Store, cfg.Local)
	}
	if cfg.Server.MaxBodyBytes != 1024 {
		t.Errorf("max_body_bytes 未覆盖: %d", cfg.Server.MaxBodyBytes)
	}
}
