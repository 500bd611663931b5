// Package config handles configuration loading, validation, and persistence
// for flexlink.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir   = "config"
	DefaultConfigFile  = "config.json"
	DefaultAPIPort     = 5050
	DefaultCommandPort = 4992
	DefaultStreamPort  = 4991
	DefaultUDPBasePort = 4991
	DefaultUDPScan     = 20
)

// Config is the root configuration structure for flexlink.
type Config struct {
	mu   sync.RWMutex
	path string

	Radio       RadioConfig       `json:"radio"`
	Application ApplicationConfig `json:"application"`
}

// RadioConfig describes the radio to connect to and how the session behaves.
type RadioConfig struct {
	Host        string `json:"host"`
	CommandPort int    `json:"command_port"`
	StreamPort  int    `json:"stream_port"`

	// Local stream port scan
	UDPBasePort  int `json:"udp_base_port"`
	UDPScanCount int `json:"udp_scan_count"`

	// Client identity
	ClientProgram string `json:"client_program"`
	Station       string `json:"station"`
	GUI           bool   `json:"gui"`

	// Timers
	ConnectTimeoutSec       int  `json:"connect_timeout_sec"`
	KeepAliveEnabled        bool `json:"keepalive_enabled"`
	KeepAliveIntervalSec    int  `json:"keepalive_interval_sec"`
	KeepAliveTimeoutSec     int  `json:"keepalive_timeout_sec"`
	StreamActivityTimeoutMs int  `json:"stream_activity_timeout_ms"`

	// Startup batches
	LowBandwidth      bool `json:"low_bandwidth"`
	SendPrimary       bool `json:"send_primary"`
	SendSubscriptions bool `json:"send_subscriptions"`
	SendSecondary     bool `json:"send_secondary"`

	AutoConnect bool `json:"auto_connect"`
}

// ApplicationConfig contains the outer surfaces and ambient settings.
type ApplicationConfig struct {
	API      APIConfig      `json:"api"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Metrics  MetricsConfig  `json:"metrics"`
	Logging  LoggingConfig  `json:"logging"`
	Database DatabaseConfig `json:"database"`
	Timers   TimerConfig    `json:"timers"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// DatabaseConfig holds the SQLite store location.
type DatabaseConfig struct {
	Path         string `json:"path"`
	JournalLimit int    `json:"journal_limit"`
	SeedPresets  bool   `json:"seed_presets"`
}

// TimerConfig holds health check and task interval settings.
type TimerConfig struct {
	HeartbeatInterval    int `json:"heartbeat_interval_sec"`
	SystemCheckInterval  int `json:"system_check_interval_sec"`
	JournalPruneInterval int `json:"journal_prune_interval_sec"`
	ReconnectDelaySec    int `json:"reconnect_delay_sec"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Radio: RadioConfig{
			CommandPort:             DefaultCommandPort,
			StreamPort:              DefaultStreamPort,
			UDPBasePort:             DefaultUDPBasePort,
			UDPScanCount:            DefaultUDPScan,
			ClientProgram:           "flexlink",
			Station:                 "flexlink",
			ConnectTimeoutSec:       5,
			KeepAliveEnabled:        true,
			KeepAliveIntervalSec:    5,
			KeepAliveTimeoutSec:     15,
			StreamActivityTimeoutMs: 1000,
			SendPrimary:             true,
			SendSubscriptions:       true,
			SendSecondary:           true,
			AutoConnect:             true,
		},
		Application: ApplicationConfig{
			API: APIConfig{
				Enabled:      true,
				Port:         DefaultAPIPort,
				RateLimitRPS: 100,
			},
			MQTT: MQTTConfig{
				Enabled:     false,
				BrokerURL:   "localhost",
				Port:        1883,
				TopicPrefix: "flexlink",
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "flexlink",
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
				MaxAgeDays: 30,
			},
			Database: DatabaseConfig{
				Path:         "data/flexlink.db",
				JournalLimit: 10000,
				SeedPresets:  true,
			},
			Timers: TimerConfig{
				HeartbeatInterval:    60,
				SystemCheckInterval:  300,
				JournalPruneInterval: 3600,
				ReconnectDelaySec:    10,
			},
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so config.json always lists every option the code knows about.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetRadio returns a copy of the radio configuration.
func (c *Config) GetRadio() RadioConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Radio
}

// SetRadio updates the radio configuration.
func (c *Config) SetRadio(data RadioConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Radio = data
}

// GetApplication returns a copy of the application configuration.
func (c *Config) GetApplication() ApplicationConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Application
}

// SetApplication updates the application configuration.
func (c *Config) SetApplication(data ApplicationConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Application = data
}

// UpdateRadioField updates a single radio field by its JSON name.
func (c *Config) UpdateRadioField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _ := json.Marshal(c.Radio)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown radio field %s", key)
	}
	m[key] = value

	updated, _ := json.Marshal(m)
	var next RadioConfig
	if err := json.Unmarshal(updated, &next); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	c.Radio = next
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun returns true if the configuration needs initial setup.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Radio.Host == ""
}

// ConnectTimeout returns the TCP connect timeout.
func (r RadioConfig) ConnectTimeout() time.Duration {
	return time.Duration(r.ConnectTimeoutSec) * time.Second
}

// KeepAliveInterval returns the ping interval.
func (r RadioConfig) KeepAliveInterval() time.Duration {
	return time.Duration(r.KeepAliveIntervalSec) * time.Second
}

// KeepAliveTimeout returns how long a ping may go unanswered.
func (r RadioConfig) KeepAliveTimeout() time.Duration {
	return time.Duration(r.KeepAliveTimeoutSec) * time.Second
}

// StreamActivityTimeout returns the idle period after which the stream
// transport is reported inactive.
func (r RadioConfig) StreamActivityTimeout() time.Duration {
	return time.Duration(r.StreamActivityTimeoutMs) * time.Millisecond
}
