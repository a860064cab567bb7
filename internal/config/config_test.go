package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"port": 9090, "log_level": "debug"},
		"dispatch": {"attempt_timeout_ms": 5000, "pool_size": 3}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.LogLevel != "debug" {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Dispatch.AttemptTimeoutMS != 5000 || cfg.Dispatch.PoolSize != 3 {
		t.Errorf("unexpected dispatch config %+v", cfg.Dispatch)
	}
}

func TestLoadEnvSubstitution(t *testing.T) {
	t.Setenv("HIVEMIND_TEST_DSN", "postgres://env-wins")

	path := writeConfig(t, `{
		"server": {"log_level": "${HIVEMIND_TEST_LEVEL:warn}"},
		"database": {
			"postgres": {"dsn": "${HIVEMIND_TEST_DSN:postgres://fallback}"},
			"redis": {"url": "${HIVEMIND_TEST_REDIS:}"}
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.Postgres.DSN != "postgres://env-wins" {
		t.Errorf("expected env value, got %q", cfg.Database.Postgres.DSN)
	}
	if cfg.Server.LogLevel != "warn" {
		t.Errorf("expected default for unset var, got %q", cfg.Server.LogLevel)
	}
	if cfg.Database.Redis.URL != "" {
		t.Errorf("expected empty default, got %q", cfg.Database.Redis.URL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed config")
	}
}
