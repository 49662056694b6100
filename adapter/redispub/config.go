package redispub

import (
	"errors"
	"fmt"
	"time"
)

// Endpoint is one Redis server the publisher may use.
type Endpoint struct {
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string
	// Prefix is prepended to non-local topics built for this endpoint.
	Prefix string
	// Local marks a server on the device's own network.
	Local bool
}

func (e Endpoint) enabled() bool { return e.Addr != "" }

// Config for the Redis publisher with primary and reserved endpoints.
type Config struct {
	Primary  Endpoint
	Reserved Endpoint

	// LocalPrefix replaces the endpoint prefix for topics built with local=true.
	LocalPrefix string
	// MaxLenApprox trims each topic stream with MAXLEN ~ (0 disables).
	MaxLenApprox int64
	// PingInterval is the connectivity check period of Run.
	PingInterval time.Duration
	// DialTimeout bounds the ping made while connecting.
	DialTimeout time.Duration
}

// Defaults returns a Config with a single local primary.
func Defaults() Config {
	return Config{
		Primary:      Endpoint{Addr: "127.0.0.1:6379"},
		LocalPrefix:  "local",
		MaxLenApprox: 1000,
		PingInterval: 10 * time.Second,
		DialTimeout:  2 * time.Second,
	}
}

// Validate checks the endpoints and timings.
func (c Config) Validate() error {
	if !c.Primary.enabled() {
		return errors.New("config: primary addr required")
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("config: ping_interval must be > 0, got %v", c.PingInterval)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("config: dial_timeout must be > 0, got %v", c.DialTimeout)
	}
	if c.MaxLenApprox < 0 {
		return fmt.Errorf("config: max_len_approx must be >= 0, got %d", c.MaxLenApprox)
	}
	return nil
}

// ConfigFromMap converts a generic map to Config with defaults. Endpoints are
// read from the nested "primary" and "reserved" maps.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	if v, ok := m["primary"].(map[string]any); ok {
		c.Primary = endpointFromMap(v, c.Primary)
	}
	if v, ok := m["reserved"].(map[string]any); ok {
		c.Reserved = endpointFromMap(v, c.Reserved)
	}
	if v, ok := m["local_prefix"].(string); ok {
		c.LocalPrefix = v
	}
	switch v := m["max_len_approx"].(type) {
	case int64:
		c.MaxLenApprox = v
	case int:
		c.MaxLenApprox = int64(v)
	}
	if v, ok := m["ping_interval"].(time.Duration); ok && v > 0 {
		c.PingInterval = v
	}
	if v, ok := m["dial_timeout"].(time.Duration); ok && v > 0 {
		c.DialTimeout = v
	}
	return c
}

func endpointFromMap(m map[string]any, e Endpoint) Endpoint {
	if v, ok := m["addr"].(string); ok && v != "" {
		e.Addr = v
	}
	if v, ok := m["username"].(string); ok {
		e.Username = v
	}
	if v, ok := m["password"].(string); ok {
		e.Password = v
	}
	if v, ok := m["db"].(int); ok {
		e.DB = v
	}
	if v, ok := m["tls"].(bool); ok {
		e.TLS = v
	}
	if v, ok := m["tls_server_name"].(string); ok {
		e.TLSServerName = v
	}
	if v, ok := m["prefix"].(string); ok {
		e.Prefix = v
	}
	if v, ok := m["local"].(bool); ok {
		e.Local = v
	}
	return e
}
