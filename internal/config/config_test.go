package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journey.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := load("", noEnv)
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, "loam", cfg.Format)
	assert.NotEmpty(t, cfg.Cache.Dir)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
definitions: ./playbooks
format: file
store:
  driver: postgres
  dsn: postgres://journey@localhost/journey
cache:
  dir: /var/lib/journey
lock:
  redis: localhost:6379
  ttl: 1m
timeout: 2s
redact: [password, "^ssn$"]
webhook:
  url: https://hooks.example.com/done
  headers:
    Authorization: Bearer abc
`)

	cfg, err := load(path, noEnv)
	require.NoError(t, err)
	assert.Equal(t, "./playbooks", cfg.Definitions)
	assert.Equal(t, "file", cfg.Format)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "/var/lib/journey", cfg.Cache.Dir)
	assert.Equal(t, time.Minute, cfg.Lock.TTL)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"password", "^ssn$"}, cfg.Redact)
	assert.Equal(t, "Bearer abc", cfg.Webhook.Headers["Authorization"])
	assert.Equal(t, ":8080", cfg.HTTP.Addr, "unset keys keep their default")
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "store:\n  driver: sqlite\n  dsn: file.db\n")

	cfg, err := load(path, env(map[string]string{
		"JOURNEY_STORE_DRIVER": "redis",
		"JOURNEY_STORE_DSN":    "localhost:6379",
		"JOURNEY_TIMEOUT":      "750ms",
		"JOURNEY_HTTP_METRICS": "false",
		"JOURNEY_REDACT":       "token,secret",
	}))
	require.NoError(t, err)
	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "localhost:6379", cfg.Store.DSN)
	assert.Equal(t, 750*time.Millisecond, cfg.Timeout)
	assert.False(t, cfg.HTTP.Metrics)
	assert.Equal(t, []string{"token", "secret"}, cfg.Redact)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "malformed yaml", body: "store: [unterminated"},
		{name: "unknown key", body: "stroe:\n  driver: memory\n"},
		{name: "bad duration", body: "timeout: soon\n"},
		{name: "unknown driver", body: "store:\n  driver: cassandra\n  dsn: x\n"},
		{name: "missing dsn", body: "store:\n  driver: mongo\n  dsn: \"\"\n"},
		{name: "unknown format", body: "format: xml\n"},
		{name: "bad env duration", body: "{}\n", env: map[string]string{"JOURNEY_TIMEOUT": "forever"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(writeFile(t, tt.body), env(tt.env))
			assert.Error(t, err)
		})
	}

	_, err := load(filepath.Join(t.TempDir(), "missing.yaml"), noEnv)
	assert.Error(t, err, "an explicit file must exist")
}
