// Package config loads the xloopd daemon configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/trickstertwo/xloop/adapter/dedicated"
	"github.com/trickstertwo/xloop/adapter/redispub"
	"github.com/trickstertwo/xloop/adapter/shared"
	"github.com/trickstertwo/xloop/stat"
)

// Config is the daemon configuration. Durations are Go duration strings.
type Config struct {
	Log       LogConfig     `yaml:"log"`
	Bus       BusConfig     `yaml:"bus"`
	Stat      StatConfig    `yaml:"stat"`
	Redis     RedisConfig   `yaml:"redis"`
	Metrics   MetricsConfig `yaml:"metrics"`
	Heartbeat string        `yaml:"heartbeat"` // REVT_TIME EVERY_MINUTE period; empty disables.
}

type LogConfig struct {
	Console bool `yaml:"console"`
	Caller  bool `yaml:"caller"`
}

type BusConfig struct {
	Mode         string `yaml:"mode"` // "dedicated" or "shared"
	QueueSize    int    `yaml:"queue_size"`
	WorkerName   string `yaml:"worker_name"`
	LockOSThread bool   `yaml:"lock_os_thread"`
	MaxHandlers  int    `yaml:"max_handlers"`
	RetrySlice   string `yaml:"retry_slice"`
	RetryPause   string `yaml:"retry_pause"`
	SlowHandler  string `yaml:"slow_handler"`
}

type StatConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Topic      string `yaml:"topic"`
	Local      bool   `yaml:"local"`
	QoS        byte   `yaml:"qos"`
	Retained   bool   `yaml:"retained"`
	TimeFormat string `yaml:"time_format"`
	Interval   string `yaml:"interval"`
}

type EndpointConfig struct {
	Addr          string `yaml:"addr"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"` //nolint:gosec // configuration field, expanded from the environment
	DB            int    `yaml:"db"`
	TLS           bool   `yaml:"tls"`
	TLSServerName string `yaml:"tls_server_name"`
	Prefix        string `yaml:"prefix"`
	Local         bool   `yaml:"local"`
}

type RedisConfig struct {
	Enabled      bool           `yaml:"enabled"`
	Primary      EndpointConfig `yaml:"primary"`
	Reserved     EndpointConfig `yaml:"reserved"`
	LocalPrefix  string         `yaml:"local_prefix"`
	MaxLenApprox int64          `yaml:"max_len_approx"`
	PingInterval string         `yaml:"ping_interval"`
	DialTimeout  string         `yaml:"dial_timeout"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the /metrics listener
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Bus: BusConfig{
			Mode:       dedicated.LoopName,
			QueueSize:  32,
			WorkerName: "re_events",
			RetrySlice: "100ms",
			RetryPause: "10ms",
		},
		Stat: StatConfig{
			Enabled:    true,
			Topic:      "system/events",
			TimeFormat: "02.01.2006 15:04:05",
			Interval:   "1m",
		},
		Redis: RedisConfig{
			Primary:      EndpointConfig{Addr: "127.0.0.1:6379"},
			LocalPrefix:  "local",
			MaxLenApprox: 1000,
			PingInterval: "10s",
			DialTimeout:  "2s",
		},
		Metrics:   MetricsConfig{Addr: ":9108"},
		Heartbeat: "1m",
	}
}

// LoadDotEnv loads path into the environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Load reads a YAML file over Default, expanding ${VAR} references first.
// Secrets such as Redis passwords are expected to come from the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-provided configuration
	if err != nil {
		return Config{}, fmt.Errorf("config: load: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	switch c.Bus.Mode {
	case dedicated.LoopName, shared.LoopName:
	default:
		return fmt.Errorf("config: bus: unknown mode %q", c.Bus.Mode)
	}
	if c.Bus.QueueSize < 1 {
		return fmt.Errorf("config: bus: queue_size must be >= 1, got %d", c.Bus.QueueSize)
	}
	for name, v := range map[string]string{
		"bus.retry_slice":     c.Bus.RetrySlice,
		"bus.retry_pause":     c.Bus.RetryPause,
		"bus.slow_handler":    c.Bus.SlowHandler,
		"stat.interval":       c.Stat.Interval,
		"redis.ping_interval": c.Redis.PingInterval,
		"redis.dial_timeout":  c.Redis.DialTimeout,
		"heartbeat":           c.Heartbeat,
	} {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	if c.Stat.Enabled {
		if err := c.StatConfig().Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if c.Redis.Enabled {
		if err := c.RedisConfig().Validate(); err != nil {
			return fmt.Errorf("config: redis: %w", err)
		}
	}
	return nil
}

// LoopConfig is the factory map for the selected loop mode.
func (c Config) LoopConfig() map[string]any {
	return map[string]any{
		"queue_size":     c.Bus.QueueSize,
		"worker_name":    c.Bus.WorkerName,
		"lock_os_thread": c.Bus.LockOSThread,
		"max_handlers":   c.Bus.MaxHandlers,
	}
}

func (c Config) RetrySlice() time.Duration  { return duration(c.Bus.RetrySlice) }
func (c Config) RetryPause() time.Duration  { return duration(c.Bus.RetryPause) }
func (c Config) SlowHandler() time.Duration { return duration(c.Bus.SlowHandler) }
func (c Config) HeartbeatEvery() time.Duration { return duration(c.Heartbeat) }

func (c Config) StatConfig() stat.Config {
	return stat.Config{
		Topic:      c.Stat.Topic,
		Local:      c.Stat.Local,
		QoS:        c.Stat.QoS,
		Retained:   c.Stat.Retained,
		TimeFormat: c.Stat.TimeFormat,
		Interval:   duration(c.Stat.Interval),
	}
}

func (c Config) RedisConfig() redispub.Config {
	return redispub.Config{
		Primary:      c.Redis.Primary.endpoint(),
		Reserved:     c.Redis.Reserved.endpoint(),
		LocalPrefix:  c.Redis.LocalPrefix,
		MaxLenApprox: c.Redis.MaxLenApprox,
		PingInterval: duration(c.Redis.PingInterval),
		DialTimeout:  duration(c.Redis.DialTimeout),
	}
}

func (e EndpointConfig) endpoint() redispub.Endpoint {
	return redispub.Endpoint{
		Addr:          e.Addr,
		Username:      e.Username,
		Password:      e.Password,
		DB:            e.DB,
		TLS:           e.TLS,
		TLSServerName: e.TLSServerName,
		Prefix:        e.Prefix,
		Local:         e.Local,
	}
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

// duration reads a validated value; invalid input reads as zero.
func duration(s string) time.Duration {
	d, _ := parseDuration(s)
	return d
}
