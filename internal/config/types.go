// Package config provides configuration loading for netmgr using Viper.
// Configuration is loaded from YAML files with automatic environment variable binding.
//
// Environment variables use the NETMGR_ prefix and underscore-separated keys:
//   - NETMGR_SERVER_LISTEN -> server.listen
//   - NETMGR_SERVER_WORKERS -> server.workers
//   - NETMGR_TLS_CERT_FILE -> tls.cert_file
//   - NETMGR_DIAG_ENABLED -> diag.enabled
package config

import (
	"os"
	"strconv"
	"strings"
)

// WorkersMode specifies how worker count is determined.
type WorkersMode int

const (
	// WorkersAuto leaves the worker count to netmgr.DefaultConfig (4 workers).
	WorkersAuto WorkersMode = iota
	// WorkersFixed uses a specific worker count.
	WorkersFixed
)

// WorkerSetting represents the workers configuration.
type WorkerSetting struct {
	Mode  WorkersMode
	Value int
}

// String returns the string representation of the worker setting.
func (w WorkerSetting) String() string {
	if w.Mode == WorkersAuto {
		return "auto"
	}
	return strconv.Itoa(w.Value)
}

// ServerConfig contains netmgr manager settings (spec.md §3's Config).
type ServerConfig struct {
	Listen        string        `yaml:"listen"          mapstructure:"listen"`
	Workers       WorkerSetting `yaml:"-"               mapstructure:"-"`
	WorkersRaw    string        `yaml:"workers"         mapstructure:"workers"`
	QueueCapacity int           `yaml:"queue_capacity"  mapstructure:"queue_capacity"`
	QuotaLimit    int64         `yaml:"quota_limit"     mapstructure:"quota_limit"`
	MaxUDPPayload int           `yaml:"max_udp_payload" mapstructure:"max_udp_payload"`
	RecvBufferSize int          `yaml:"recv_buffer_size" mapstructure:"recv_buffer_size"`
	SendBufferSize int          `yaml:"send_buffer_size" mapstructure:"send_buffer_size"`
	Sequential    bool          `yaml:"sequential"      mapstructure:"sequential"`
	Keepalive     bool          `yaml:"keepalive"       mapstructure:"keepalive"`
}

// TimeoutConfig holds the TCP/TLS timeout quartet of spec.md §3.
type TimeoutConfig struct {
	Initial    string `yaml:"initial"    mapstructure:"initial"`
	Idle       string `yaml:"idle"       mapstructure:"idle"`
	Keepalive  string `yaml:"keepalive"  mapstructure:"keepalive"`
	Advertised string `yaml:"advertised" mapstructure:"advertised"`
}

// TLSConfig locates the server certificate/key and optional client CA bundle.
type TLSConfig struct {
	CertFile   string `yaml:"cert_file"   mapstructure:"cert_file"`
	KeyFile    string `yaml:"key_file"    mapstructure:"key_file"`
	ClientCA   string `yaml:"client_ca"   mapstructure:"client_ca"`
	MinVersion string `yaml:"min_version" mapstructure:"min_version"` // "1.2" or "1.3"
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string            `yaml:"level"             mapstructure:"level"             json:"level"`
	Structured       bool              `yaml:"structured"        mapstructure:"structured"        json:"structured"`
	StructuredFormat string            `yaml:"structured_format" mapstructure:"structured_format" json:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"       mapstructure:"include_pid"       json:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields"      mapstructure:"extra_fields"      json:"extra_fields,omitempty"`
}

// DiagConfig controls the optional diagnostics HTTP server (internal/diag).
//
// Note: APIKey is intentionally treated as a secret and should not be returned by API endpoints.
type DiagConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Host    string `yaml:"host"    mapstructure:"host"`
	Port    int    `yaml:"port"    mapstructure:"port"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
}

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig  `yaml:"server"  mapstructure:"server"`
	Timeout TimeoutConfig `yaml:"timeout" mapstructure:"timeout"`
	TLS     TLSConfig     `yaml:"tls"     mapstructure:"tls"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Diag    DiagConfig    `yaml:"diag"    mapstructure:"diag"`
}

// ResolveConfigPath determines the config file path from flag or environment.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("NETMGR_CONFIG")); v != "" {
		return v
	}
	return ""
}

// Load loads configuration from a YAML file with environment variable overrides.
// This is the main entry point for loading configuration.
//
// Configuration priority (highest to lowest):
//  1. Environment variables (NETMGR_*)
//  2. Config file values
//  3. Default values
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
