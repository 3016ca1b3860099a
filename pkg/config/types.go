package config

import "fmt"

// Config is the main configuration struct.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Sync    SyncConfig    `yaml:"sync"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the daemon's HTTP settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// StoreConfig selects and configures the remote store backend.
type StoreConfig struct {
	// Backend is "pebble" (embedded) or "gateway" (hosted document store).
	Backend string        `yaml:"backend"`
	DBPath  string        `yaml:"db_path"`
	Gateway GatewayConfig `yaml:"gateway"`
}

// GatewayConfig holds hosted-gateway connection settings.
type GatewayConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// SyncConfig holds engine settings.
type SyncConfig struct {
	// User is the session user id the engine synchronizes for.
	User    string        `yaml:"user"`
	Refresh RefreshConfig `yaml:"refresh"`
}

// RefreshConfig schedules periodic full reconciliation.
type RefreshConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Addr returns the listen address in host:port form.
func (c Config) Addr() string {
	host := c.Server.Address
	if host == "" {
		host = "127.0.0.1"
	}
	port := c.Server.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// RefreshCron returns the effective cron expression, empty when the
// scheduler is disabled. An enabled refresh without an expression defaults
// to every five minutes.
func (c Config) RefreshCron() string {
	if !c.Sync.Refresh.Enabled {
		return ""
	}
	if c.Sync.Refresh.Cron == "" {
		return "*/5 * * * *"
	}
	return c.Sync.Refresh.Cron
}
