package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	BackendPebble  = "pebble"
	BackendGateway = "gateway"
)

// ParseCommandFlags parses the daemon's command-line flags and reports which
// were explicitly set, so callers can let flags win over file and env.
func ParseCommandFlags() (addr, db, cfg, user string, setFlags map[string]bool) {
	addrFlag := flag.String("addr", "", "listen address (host:port)")
	dbFlag := flag.String("db", "", "pebble database path")
	cfgFlag := flag.String("config", "", "path to YAML config file")
	userFlag := flag.String("user", "", "session user id to synchronize")
	flag.Parse()

	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrFlag, *dbFlag, *cfgFlag, *userFlag, setFlags
}

// ResolveConfigPath picks the config file path: explicit flag wins, then the
// CONVSYNC_CONFIG env var, then ./convsync.yaml when it exists.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet && flagVal != "" {
		return flagVal
	}
	if p := os.Getenv("CONVSYNC_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("convsync.yaml"); err == nil {
		return "convsync.yaml"
	}
	return ""
}

// Load reads the YAML config file (optional) and overlays CONVSYNC_* env
// vars. Env wins over file.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CONVSYNC_ADDR"); v != "" {
		host, port, ok := SplitHostPort(v)
		if ok {
			cfg.Server.Address = host
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CONVSYNC_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("CONVSYNC_DB_PATH"); v != "" {
		cfg.Store.DBPath = v
	}
	if v := os.Getenv("CONVSYNC_GATEWAY_URL"); v != "" {
		cfg.Store.Gateway.URL = v
	}
	if v := os.Getenv("CONVSYNC_GATEWAY_API_KEY"); v != "" {
		cfg.Store.Gateway.APIKey = v
	}
	if v := os.Getenv("CONVSYNC_USER"); v != "" {
		cfg.Sync.User = v
	}
	if v := os.Getenv("CONVSYNC_REFRESH_CRON"); v != "" {
		cfg.Sync.Refresh.Enabled = true
		cfg.Sync.Refresh.Cron = v
	}
	if v := os.Getenv("CONVSYNC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// SplitHostPort splits "host:port" into its parts, defaulting an empty host
// to the loopback address. The bool reports whether the input was usable.
func SplitHostPort(s string) (string, int, bool) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", 0, false
	}
	port, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return "", 0, false
	}
	host := s[:idx]
	if host == "" {
		host = "127.0.0.1"
	}
	return host, port, true
}

// Validate checks the effective config for the daemon's needs.
func (c Config) Validate() error {
	if c.Sync.User == "" {
		return fmt.Errorf("sync.user is required")
	}
	switch c.Store.Backend {
	case "", BackendPebble:
		// db_path defaults under the working directory
	case BackendGateway:
		if c.Store.Gateway.URL == "" {
			return fmt.Errorf("store.gateway.url is required for the gateway backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

// EffectiveDBPath returns the pebble path, defaulting to ./convsync-data.
func (c Config) EffectiveDBPath() string {
	if c.Store.DBPath != "" {
		return c.Store.DBPath
	}
	return "./convsync-data"
}
