package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, ".", cfg.Root)
	assert.Equal(t, ".monogrid", cfg.OutDir)
	assert.Equal(t, 16, cfg.Concurrency)
	assert.Equal(t, BackendFS, cfg.Cache.Backend)
	assert.False(t, cfg.Cache.FailOnWriteError)

	_, err := NewConfig(cfg)
	require.NoError(t, err, "defaults must be valid")
}

func TestLoadConfig_MissingFilesUseDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), DefaultConfigFile), envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *cfg)
}

func TestLoadConfig_Layering(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	yamlPath := writeFile(t, dir, DefaultConfigFile, `
root: repo
concurrency: 4
task_timeout: 90s
log:
  level: debug
cache:
  backend: redis
  salt: from-yaml
  redis:
    addr: localhost:6379
    ttl: 1h
  s3:
    bucket: yaml-bucket
env:
  CI: "true"
`)
	writeFile(t, dir, ".env", "MONOGRID_CONCURRENCY=8\nMONOGRID_CACHE_SALT=from-dotenv\nMONOGRID_LOG_FORMAT=json\n")
	env := envMap(map[string]string{
		"MONOGRID_CONCURRENCY": "2",
		"MONOGRID_REDIS_DB":    "3",
	})

	// --- Act ---
	cfg, err := LoadConfig(yamlPath, env)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, "repo", cfg.Root, "yaml overrides defaults")
	assert.Equal(t, 90*time.Second, cfg.TaskTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format, ".env overrides defaults")
	assert.Equal(t, "from-dotenv", cfg.Cache.Salt, ".env overrides yaml")
	assert.Equal(t, 2, cfg.Concurrency, "environment overrides .env")
	assert.Equal(t, 3, cfg.Cache.Redis.DB)
	assert.Equal(t, time.Hour, cfg.Cache.Redis.TTL)
	assert.Equal(t, "yaml-bucket", cfg.Cache.S3.Bucket)
	assert.Equal(t, map[string]string{"CI": "true"}, cfg.Env)
	assert.Equal(t, ".monogrid", cfg.OutDir, "unset fields keep defaults")
}

func TestLoadConfig_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "malformed yaml",
			yaml:    "concurrency: [",
			wantErr: "config yaml",
		},
		{
			name:    "malformed env value",
			env:     map[string]string{"MONOGRID_CONCURRENCY": "many"},
			wantErr: "MONOGRID_CONCURRENCY",
		},
		{
			name:    "malformed env bool",
			env:     map[string]string{"MONOGRID_PUBLISH_LOGS": "sometimes"},
			wantErr: "MONOGRID_PUBLISH_LOGS",
		},
		{
			name:    "validation runs last",
			yaml:    "concurrency: 0",
			wantErr: "concurrency must be >= 1",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			yamlPath := filepath.Join(dir, DefaultConfigFile)
			if tc.yaml != "" {
				writeFile(t, dir, DefaultConfigFile, tc.yaml)
			}
			_, err := LoadConfig(yamlPath, envMap(tc.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNewConfig_Validation(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "empty root", mutate: func(c *Config) { c.Root = "" }, wantErr: "root is a required"},
		{name: "empty out dir", mutate: func(c *Config) { c.OutDir = "" }, wantErr: "out_dir is a required"},
		{name: "bad level", mutate: func(c *Config) { c.Log.Level = "verbose" }, wantErr: "log.level"},
		{name: "bad format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "log.format"},
		{name: "bad port", mutate: func(c *Config) { c.HealthcheckPort = 70000 }, wantErr: "healthcheck_port"},
		{name: "negative timeout", mutate: func(c *Config) { c.TaskTimeout = -time.Second }, wantErr: "task_timeout"},
		{name: "unknown backend", mutate: func(c *Config) { c.Cache.Backend = "tape" }, wantErr: "unknown cache.backend"},
		{name: "s3 without endpoint", mutate: func(c *Config) { c.Cache.Backend = BackendS3 }, wantErr: "cache.s3.endpoint"},
		{name: "redis without addr", mutate: func(c *Config) { c.Cache.Backend = BackendRedis }, wantErr: "cache.redis.addr"},
		{name: "negative size", mutate: func(c *Config) { c.Cache.MemoryTierBytes = -1 }, wantErr: "must not be negative"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			_, err := NewConfig(cfg)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}
