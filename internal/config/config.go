// Package config loads the optional runtime configuration file that
// overrides the proxy's otherwise-hardcoded constants.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the proxy exposes. Every field is
// optional; a missing or unreadable file leaves every value at its
// Default.
type Config struct {
	ProxyListen        string        `yaml:"proxy_listen"`
	AdminListen        string        `yaml:"admin_listen"`
	WorkerCount        int           `yaml:"worker_count"`
	WindowSeconds      int           `yaml:"window_seconds"`
	TopK               int           `yaml:"top_k"`
	ReadTimeoutSeconds int           `yaml:"read_timeout_seconds"`
	BlacklistPath      string        `yaml:"blacklist_path"`
	AuditLogPath       string        `yaml:"audit_log_path"`
	AppLogPath         string        `yaml:"app_log_path"`
	ResolutionCacheTTL time.Duration `yaml:"resolution_cache_ttl"`
}

// Default returns the spec's hardcoded constants.
func Default() Config {
	return Config{
		ProxyListen:        ":8888",
		AdminListen:        "127.0.0.1:8889",
		WorkerCount:        20,
		WindowSeconds:      60,
		TopK:               5,
		ReadTimeoutSeconds: 10,
		BlacklistPath:      "blocked_domains.txt",
		AuditLogPath:       "proxy.log",
		AppLogPath:         "app.log",
		ResolutionCacheTTL: 60 * time.Second,
	}
}

// Load reads an optional YAML file at path, overlaying any non-zero
// field onto the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return cfg, err
	}

	applyOverrides(&cfg, &override)
	return cfg, nil
}

func applyOverrides(cfg, override *Config) {
	if override.ProxyListen != "" {
		cfg.ProxyListen = override.ProxyListen
	}
	if override.AdminListen != "" {
		cfg.AdminListen = override.AdminListen
	}
	if override.WorkerCount != 0 {
		cfg.WorkerCount = override.WorkerCount
	}
	if override.WindowSeconds != 0 {
		cfg.WindowSeconds = override.WindowSeconds
	}
	if override.TopK != 0 {
		cfg.TopK = override.TopK
	}
	if override.ReadTimeoutSeconds != 0 {
		cfg.ReadTimeoutSeconds = override.ReadTimeoutSeconds
	}
	if override.BlacklistPath != "" {
		cfg.BlacklistPath = override.BlacklistPath
	}
	if override.AuditLogPath != "" {
		cfg.AuditLogPath = override.AuditLogPath
	}
	if override.AppLogPath != "" {
		cfg.AppLogPath = override.AppLogPath
	}
	if override.ResolutionCacheTTL != 0 {
		cfg.ResolutionCacheTTL = override.ResolutionCacheTTL
	}
}
