// Package config loads the service configuration from a YAML file with
// environment and flag overrides. Precedence: flags > env > file > defaults.
package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
	Hub      HubConfig      `yaml:"hub"`
	Sync     SyncConfig     `yaml:"sync"`
}

// ServerConfig holds http, tls and storage settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	DBPath  string    `yaml:"db_path"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SecurityConfig holds CORS and rate-limit settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// HubConfig tunes the room broadcast hub.
type HubConfig struct {
	// SendBuffer is the per-member outbound buffer; a member that falls
	// this far behind is dropped.
	SendBuffer int `yaml:"send_buffer"`
}

// SyncConfig tunes the durable local queue and reconciliation engine.
type SyncConfig struct {
	Dir         string `yaml:"dir"`
	MaxAttempts int    `yaml:"max_attempts"`
	BaseBackoff string `yaml:"base_backoff"`
	MaxBackoff  string `yaml:"max_backoff"`
}

// BaseBackoffDuration parses the configured base backoff, falling back to
// 500ms.
func (s SyncConfig) BaseBackoffDuration() time.Duration {
	return parseDuration(s.BaseBackoff, 500*time.Millisecond)
}

// MaxBackoffDuration parses the configured max backoff, falling back to 30s.
func (s SyncConfig) MaxBackoffDuration() time.Duration {
	return parseDuration(s.MaxBackoff, 30*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Addr returns the host:port listen address.
func (c Config) Addr() string {
	host := c.Server.Address
	port := c.Server.Port
	if port == 0 {
		port = 8080
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Load reads the YAML file at path (when non-empty), applies environment
// overrides and defaults, and returns the effective configuration.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BIOCOLLAB_ADDR"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("BIOCOLLAB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("BIOCOLLAB_DB_PATH"); v != "" {
		cfg.Server.DBPath = v
	}
	if v := os.Getenv("BIOCOLLAB_SYNC_DIR"); v != "" {
		cfg.Sync.Dir = v
	}
	if v := os.Getenv("BIOCOLLAB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.DBPath == "" {
		cfg.Server.DBPath = "./data/biocollab"
	}
	if cfg.Sync.Dir == "" {
		cfg.Sync.Dir = "./data/syncqueue"
	}
	if cfg.Hub.SendBuffer == 0 {
		cfg.Hub.SendBuffer = 64
	}
	if cfg.Security.RateLimit.RPS == 0 {
		cfg.Security.RateLimit.RPS = 20
	}
	if cfg.Security.RateLimit.Burst == 0 {
		cfg.Security.RateLimit.Burst = 40
	}
	if cfg.Sync.MaxAttempts == 0 {
		cfg.Sync.MaxAttempts = 8
	}
}

// ParseCommandFlags registers and parses the standard command-line flags,
// returning their values and which were explicitly set.
func ParseCommandFlags() (addr, db, cfgPath string, set map[string]bool) {
	addrFlag := flag.String("addr", "", "listen address (host:port)")
	dbFlag := flag.String("db", "", "pebble database path")
	cfgFlag := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	set = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return *addrFlag, *dbFlag, *cfgFlag, set
}

// ResolveConfigPath prefers an explicit flag, then the environment, then
// the conventional local file when present.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet && flagVal != "" {
		return flagVal
	}
	if v := os.Getenv("BIOCOLLAB_CONFIG"); v != "" {
		return v
	}
	if _, err := os.Stat("biocollab.yaml"); err == nil {
		return "biocollab.yaml"
	}
	return ""
}
