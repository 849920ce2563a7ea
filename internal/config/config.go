package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as a string ("2s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the daemon configuration file (wppmon.toml).
type Config struct {
	DataDir           string   `toml:"data_dir"`
	SessionDB         string   `toml:"session_db"`
	LogPath           string   `toml:"log_path"`
	Env               string   `toml:"env"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`

	HTTP   HTTPConfig   `toml:"http"`
	Client ClientConfig `toml:"client"`
	Redis  RedisConfig  `toml:"redis"`
}

type HTTPConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
}

type ClientConfig struct {
	Enabled       bool     `toml:"enabled"`
	DeviceName    string   `toml:"device_name"`
	InitDelay     Duration `toml:"init_delay"`
	ReinitDelay   Duration `toml:"reinit_delay"`
	LogoutTimeout Duration `toml:"logout_timeout"`
}

// RedisConfig enables the seen-message cache when Addr is set.
type RedisConfig struct {
	Addr     string   `toml:"addr"`
	Password string   `toml:"password"`
	DB       int      `toml:"db"`
	TTL      Duration `toml:"ttl"`
}

const defaultHeartbeat = 30 * time.Second

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DataDir:   "./data",
		SessionDB: "./whatsapp-session/session.db",
		Env:       "development",
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Client: ClientConfig{
			Enabled:       true,
			DeviceName:    "WPP-Monitor",
			InitDelay:     Duration{2 * time.Second},
			ReinitDelay:   Duration{5 * time.Second},
			LogoutTimeout: Duration{10 * time.Second},
		},
		Redis: RedisConfig{
			TTL: Duration{24 * time.Hour},
		},
	}
}

// Load reads config from the given path on top of the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		i, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid int for env %s: %q", key, v)
		}
		*dst = i
		return nil
	}

	str("HOST", &c.HTTP.Host)
	str("DATA_DIR", &c.DataDir)
	str("SESSION_DB", &c.SessionDB)
	str("LOG_PATH", &c.LogPath)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("NODE_ENV", &c.Env)
	str("APP_ENV", &c.Env)
	if err := integer("PORT", &c.HTTP.Port); err != nil {
		return err
	}
	if err := integer("REDIS_DB", &c.Redis.DB); err != nil {
		return err
	}
	if v, ok := lookup("WHATSAPP_DISABLED"); ok && v != "" {
		disabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid bool for env WHATSAPP_DISABLED: %q", v)
		}
		c.Client.Enabled = !disabled
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.HTTP.Host, strconv.Itoa(c.HTTP.Port))
}

// LogFile is the log path, defaulting to wppmond.log in the data directory.
func (c *Config) LogFile() string {
	if c.LogPath != "" {
		return c.LogPath
	}
	return filepath.Join(c.DataDir, "wppmond.log")
}

// Production reports whether the daemon runs in a production environment.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// Heartbeat is the status report interval, zero when disabled. Production
// deployments report every 30s unless configured otherwise.
func (c *Config) Heartbeat() time.Duration {
	if c.HeartbeatInterval.Duration > 0 {
		return c.HeartbeatInterval.Duration
	}
	if c.Production() {
		return defaultHeartbeat
	}
	return 0
}

// RedisEnabled reports whether a cache address is configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
