// Package config loads rostersync settings from flags, environment and an
// optional roster.yaml file.
//
// Precedence (highest first): bound command-line flags, ROSTER_* environment
// variables, the config file, defaults. Nested keys map to environment
// variables with dots replaced by underscores:
//
//	remote.url      ROSTER_REMOTE_URL
//	import.dir      ROSTER_IMPORT_DIR
//	groups          ROSTER_GROUPS=gold,silver
package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "ROSTER"

// Config is the resolved configuration.
type Config struct {
	Org         string       `mapstructure:"org"`
	Local       LocalConfig  `mapstructure:"local"`
	Remote      RemoteConfig `mapstructure:"remote"`
	Redis       RedisConfig  `mapstructure:"redis"`
	Server      ServerConfig `mapstructure:"server"`
	Groups      []string     `mapstructure:"groups"`
	ConfigNames []string     `mapstructure:"config_names"`
	Import      ImportConfig `mapstructure:"import"`
	Log         LogConfig    `mapstructure:"log"`
}

// LocalConfig selects the device-local store.
type LocalConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, memory
	Path   string `mapstructure:"path"`
}

// RemoteConfig selects the shared document store a device talks to.
type RemoteConfig struct {
	Driver  string        `mapstructure:"driver"` // none, http, redis
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RedisConfig is used by the redis remote driver and the redis server store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// ServerConfig configures the document server.
type ServerConfig struct {
	Addr  string `mapstructure:"addr"`
	Store string `mapstructure:"store"` // memory, sqlite, redis
	Path  string `mapstructure:"path"`
}

// ImportConfig configures the roster drop folder.
type ImportConfig struct {
	Dir      string        `mapstructure:"dir"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// LogConfig routes logs to a rotating file when File is set.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// SetDefaults registers every key with its default value. Keys must be
// registered for environment overrides to apply.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("org", "default")
	v.SetDefault("local.driver", "sqlite")
	v.SetDefault("local.path", ".roster/local.db")
	v.SetDefault("remote.driver", "none")
	v.SetDefault("remote.url", "http://localhost:8420")
	v.SetDefault("remote.timeout", 10*time.Second)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "rostersync:")
	v.SetDefault("server.addr", ":8420")
	v.SetDefault("server.store", "sqlite")
	v.SetDefault("server.path", ".roster/documents.db")
	v.SetDefault("groups", []string{"platinum", "gold", "silver", "bronze"})
	v.SetDefault("config_names", []string{"pin", "culture", "challenges", "coaches"})
	v.SetDefault("import.dir", "rosters")
	v.SetDefault("import.debounce", 250*time.Millisecond)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
}

// New returns a viper instance with defaults and environment overrides set
// up. Flags can be bound to it before Load.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file and resolves the configuration. An explicit
// file must exist; without one, roster.yaml is looked up in the working
// directory and in $HOME/.config/roster, and its absence is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("roster")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.config/roster")
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks if the Config has valid field values.
func (c *Config) Validate() error {
	if c.Org == "" || strings.ContainsAny(c.Org, "/\\") {
		return fmt.Errorf("org %q must be a non-empty name without slashes", c.Org)
	}
	switch c.Local.Driver {
	case "memory":
	case "sqlite":
		if c.Local.Path == "" {
			return fmt.Errorf("local.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("local.driver must be sqlite or memory (got %q)", c.Local.Driver)
	}
	switch c.Remote.Driver {
	case "none":
	case "http":
		if c.Remote.URL == "" {
			return fmt.Errorf("remote.url is required for the http driver")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("remote.driver must be none, http or redis (got %q)", c.Remote.Driver)
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be positive (got %v)", c.Remote.Timeout)
	}
	switch c.Server.Store {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("server.store must be memory, sqlite or redis (got %q)", c.Server.Store)
	}
	if len(c.Groups) == 0 {
		return fmt.Errorf("at least one group is required")
	}
	for _, g := range c.Groups {
		if g == "" || strings.ContainsAny(g, "/\\") {
			return fmt.Errorf("group %q must be a non-empty name without slashes", g)
		}
	}
	if c.Import.Debounce <= 0 {
		return fmt.Errorf("import.debounce must be positive (got %v)", c.Import.Debounce)
	}
	return nil
}

// RemoteEnabled reports whether a remote driver is configured.
func (c *Config) RemoteEnabled() bool {
	return c.Remote.Driver != "none"
}

// LogWriter returns where logs go: a rotating file when log.file is set,
// stderr otherwise.
func (c *Config) LogWriter() io.Writer {
	if c.Log.File == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   c.Log.File,
		MaxSize:    c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
	}
}

// Logger returns a component logger writing to w with the given prefix,
// e.g. "[sync] ".
func Logger(w io.Writer, prefix string) *log.Logger {
	return log.New(w, prefix, log.LstdFlags)
}
