package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.Org)
	assert.Equal(t, "sqlite", cfg.Local.Driver)
	assert.Equal(t, "none", cfg.Remote.Driver)
	assert.False(t, cfg.RemoteEnabled())
	assert.Equal(t, 10*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, []string{"platinum", "gold", "silver", "bronze"}, cfg.Groups)
	assert.Equal(t, []string{"pin", "culture", "challenges", "coaches"}, cfg.ConfigNames)
	assert.Equal(t, 250*time.Millisecond, cfg.Import.Debounce)
	assert.Equal(t, os.Stderr, cfg.LogWriter())
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "roster.yaml"), []byte(`
org: acme
remote:
  driver: http
  url: http://docs.internal:8420
  timeout: 3s
groups: [gold, silver]
log:
  file: roster.log
  max_size_mb: 5
`), 0644))

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.Org)
	assert.True(t, cfg.RemoteEnabled())
	assert.Equal(t, "http://docs.internal:8420", cfg.Remote.URL)
	assert.Equal(t, 3*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, []string{"gold", "silver"}, cfg.Groups)

	w, ok := cfg.LogWriter().(*lumberjack.Logger)
	require.True(t, ok)
	assert.Equal(t, "roster.log", w.Filename)
	assert.Equal(t, 5, w.MaxSize)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("org: acme\n"), 0644))
	t.Setenv("ROSTER_ORG", "globex")
	t.Setenv("ROSTER_REMOTE_DRIVER", "redis")
	t.Setenv("ROSTER_REDIS_ADDR", "cache:6379")
	t.Setenv("ROSTER_GROUPS", "red,blue")

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "globex", cfg.Org)
	assert.Equal(t, "redis", cfg.Remote.Driver)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"red", "blue"}, cfg.Groups)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Org:    "acme",
			Local:  LocalConfig{Driver: "sqlite", Path: "local.db"},
			Remote: RemoteConfig{Driver: "none", Timeout: time.Second},
			Server: ServerConfig{Store: "memory"},
			Groups: []string{"gold"},
			Import: ImportConfig{Debounce: time.Millisecond},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty org", func(c *Config) { c.Org = "" }},
		{"org with slash", func(c *Config) { c.Org = "a/b" }},
		{"unknown local driver", func(c *Config) { c.Local.Driver = "bolt" }},
		{"sqlite without path", func(c *Config) { c.Local.Path = "" }},
		{"unknown remote driver", func(c *Config) { c.Remote.Driver = "grpc" }},
		{"http without url", func(c *Config) { c.Remote.Driver = "http"; c.Remote.URL = "" }},
		{"redis without addr", func(c *Config) { c.Remote.Driver = "redis" }},
		{"zero timeout", func(c *Config) { c.Remote.Timeout = 0 }},
		{"unknown server store", func(c *Config) { c.Server.Store = "s3" }},
		{"no groups", func(c *Config) { c.Groups = nil }},
		{"bad group", func(c *Config) { c.Groups = []string{"a/b"} }},
		{"zero debounce", func(c *Config) { c.Import.Debounce = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
