package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/midbel/xquery/config"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "xqc.yaml")
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))
	return file
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	require.NotNil(t, cfg)
	assert.Equal(t, 128, cfg.Cache.Size)
	assert.Equal(t, 4, cfg.Cache.MaxIdle)
	assert.Equal(t, 256, cfg.Cache.MaxActive)
	assert.Equal(t, 30*time.Second, cfg.Eval.Timeout)
	assert.Equal(t, 8, cfg.Eval.Workers)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFile(t *testing.T) {
	file := writeFile(t, `
cache:
  size: 16
  max_idle: 2
eval:
  timeout: 5s
store:
  driver: sqlite
  path: /tmp/docs.db
`)
	cfg, err := config.Load(file)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Cache.Size)
	assert.Equal(t, 2, cfg.Cache.MaxIdle)
	assert.Equal(t, 256, cfg.Cache.MaxActive)
	assert.Equal(t, 5*time.Second, cfg.Eval.Timeout)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/docs.db", cfg.Store.Path)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("XQUERY_CACHE_MAX_IDLE", "9")
	t.Setenv("XQUERY_EVAL_WORKERS", "3")
	t.Setenv("XQUERY_LOG_LEVEL", "debug")

	file := writeFile(t, "cache:\n  max_idle: 2\n")
	cfg, err := config.Load(file)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Cache.MaxIdle)
	assert.Equal(t, 3, cfg.Eval.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadInvalid(t *testing.T) {
	tests := []string{
		"store:\n  driver: mongo\n",
		"store:\n  driver: sqlite\n",
		"cache:\n  max_idle: 10\n  max_active: 2\n",
		"eval:\n  timeout: -1s\n",
	}
	for _, c := range tests {
		_, err := config.Load(writeFile(t, c))
		assert.Error(t, err, c)
	}
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestYAML(t *testing.T) {
	cfg := config.Default()
	cfg.Eval.Timeout = 90 * time.Second

	str, err := cfg.YAML()
	require.NoError(t, err)

	var doc map[string]map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(str), &doc))
	assert.Equal(t, "1m30s", doc["eval"]["timeout"])
	assert.Equal(t, 128, doc["cache"]["size"])
	assert.NotContains(t, doc["store"], "path")

	again, err := config.Load(writeFile(t, str))
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLogger(t *testing.T) {
	file := filepath.Join(t.TempDir(), "xqc.log")
	cfg := config.LogConfig{
		Level:   "debug",
		File:    file,
		MaxSize: 1,
	}
	logger, err := cfg.Logger()
	require.NoError(t, err)
	logger.Debug("query compiled")
	require.NoError(t, logger.Sync())

	content, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"query compiled"`)

	cfg.Level = "verbose"
	_, err = cfg.Logger()
	assert.Error(t, err)
}
