// Package config provides configuration loading and validation for netmgr.
//
// Configuration is loaded with the following priority (highest to lowest):
//  1. Command-line flags (not handled here, see cmd/netmgrd/main.go)
//  2. Environment variables (NETMGR_* prefix)
//  3. YAML config file (if specified with --config)
//  4. Hardcoded defaults
//
// Environment variables are mapped from NETMGR_CATEGORY_SETTING format,
// e.g., NETMGR_SERVER_LISTEN maps to server.listen in YAML.
//
// All configuration is validated during Load() to ensure correctness early.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// initConfig sets up the config loader with defaults, env binding, and config file.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Environment variable binding
	// Uses NETMGR_ prefix: NETMGR_SERVER_LISTEN -> server.listen
	v.SetEnvPrefix("NETMGR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

// setDefaults configures all default values, matching netmgr.DefaultConfig's values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.listen", "0.0.0.0:853")
	v.SetDefault("server.workers", "auto")
	v.SetDefault("server.queue_capacity", 256)
	v.SetDefault("server.quota_limit", 10000)
	v.SetDefault("server.max_udp_payload", 4096)
	v.SetDefault("server.recv_buffer_size", 65536)
	v.SetDefault("server.send_buffer_size", 65536)
	v.SetDefault("server.sequential", false)
	v.SetDefault("server.keepalive", true)

	// Timeout defaults
	v.SetDefault("timeout.initial", "30s")
	v.SetDefault("timeout.idle", "5m")
	v.SetDefault("timeout.keepalive", "30s")
	v.SetDefault("timeout.advertised", "30s")

	// TLS defaults
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.client_ca", "")
	v.SetDefault("tls.min_version", "1.2")

	// Logging defaults
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.structured_format", "json")
	v.SetDefault("logging.include_pid", false)
	v.SetDefault("logging.extra_fields", map[string]string{})

	// Diagnostics API defaults
	// Default to disabled and bound to localhost for safety.
	v.SetDefault("diag.enabled", false)
	v.SetDefault("diag.host", "127.0.0.1")
	v.SetDefault("diag.port", 8080)
	v.SetDefault("diag.api_key", "")
}

// loadFromSource loads configuration from file and environment.
func loadFromSource(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	loadServerConfig(v, cfg)
	loadTimeoutConfig(v, cfg)
	loadTLSConfig(v, cfg)
	loadLoggingConfig(v, cfg)
	loadDiagConfig(v, cfg)

	// Normalize and validate
	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadServerConfig(v *viper.Viper, cfg *Config) {
	cfg.Server.Listen = v.GetString("server.listen")
	cfg.Server.QueueCapacity = v.GetInt("server.queue_capacity")
	cfg.Server.QuotaLimit = v.GetInt64("server.quota_limit")
	cfg.Server.MaxUDPPayload = v.GetInt("server.max_udp_payload")
	cfg.Server.RecvBufferSize = v.GetInt("server.recv_buffer_size")
	cfg.Server.SendBufferSize = v.GetInt("server.send_buffer_size")
	cfg.Server.Sequential = v.GetBool("server.sequential")
	cfg.Server.Keepalive = v.GetBool("server.keepalive")
	cfg.Server.WorkersRaw = v.GetString("server.workers")
	cfg.Server.Workers = parseWorkers(cfg.Server.WorkersRaw)
}

func loadTimeoutConfig(v *viper.Viper, cfg *Config) {
	cfg.Timeout.Initial = v.GetString("timeout.initial")
	cfg.Timeout.Idle = v.GetString("timeout.idle")
	cfg.Timeout.Keepalive = v.GetString("timeout.keepalive")
	cfg.Timeout.Advertised = v.GetString("timeout.advertised")
}

func loadTLSConfig(v *viper.Viper, cfg *Config) {
	cfg.TLS.CertFile = v.GetString("tls.cert_file")
	cfg.TLS.KeyFile = v.GetString("tls.key_file")
	cfg.TLS.ClientCA = v.GetString("tls.client_ca")
	cfg.TLS.MinVersion = v.GetString("tls.min_version")
}

func loadLoggingConfig(v *viper.Viper, cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(v.GetString("logging.level"))
	cfg.Logging.Structured = v.GetBool("logging.structured")
	cfg.Logging.StructuredFormat = v.GetString("logging.structured_format")
	cfg.Logging.IncludePID = v.GetBool("logging.include_pid")
	cfg.Logging.ExtraFields = v.GetStringMapString("logging.extra_fields")
}

func loadDiagConfig(v *viper.Viper, cfg *Config) {
	cfg.Diag.Enabled = v.GetBool("diag.enabled")
	cfg.Diag.Host = v.GetString("diag.host")
	cfg.Diag.Port = v.GetInt("diag.port")
	cfg.Diag.APIKey = v.GetString("diag.api_key")
}

// parseWorkers converts the workers string to WorkerSetting.
func parseWorkers(raw string) WorkerSetting {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" || raw == "auto" {
		return WorkerSetting{Mode: WorkersAuto}
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return WorkerSetting{Mode: WorkersFixed, Value: n}
	}
	return WorkerSetting{Mode: WorkersAuto}
}

// normalizeConfig validates and normalizes the configuration.
func normalizeConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.Server.Listen) == "" {
		return errors.New("server.listen must not be empty")
	}

	if cfg.Server.QueueCapacity <= 0 {
		cfg.Server.QueueCapacity = 256
	}
	if cfg.Server.QuotaLimit <= 0 {
		cfg.Server.QuotaLimit = 10000
	}

	// Normalize logging
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.StructuredFormat == "" {
		cfg.Logging.StructuredFormat = "json"
	}
	if cfg.Logging.ExtraFields == nil {
		cfg.Logging.ExtraFields = map[string]string{}
	}

	// Normalize TLS
	switch cfg.TLS.MinVersion {
	case "", "1.2":
		cfg.TLS.MinVersion = "1.2"
	case "1.3":
	default:
		return fmt.Errorf("tls.min_version must be \"1.2\" or \"1.3\", got %q", cfg.TLS.MinVersion)
	}

	// Normalize diagnostics API
	if cfg.Diag.Host == "" {
		cfg.Diag.Host = "127.0.0.1"
	}
	if cfg.Diag.Enabled {
		if cfg.Diag.Port <= 0 || cfg.Diag.Port > 65535 {
			return errors.New("diag.port must be 1..65535")
		}
	}

	return nil
}
