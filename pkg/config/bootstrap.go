package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Reconnect backoff defaults applied when the bootstrap file leaves the
// stream section partially empty.
const (
	DefaultBaseReconnectDelayMs = 1000
	DefaultMaxReconnectDelayMs  = 30000
	DefaultMaxReconnectAttempts = 5
	DefaultHandshakeTimeoutMs   = 5000
)

// BootstrapConfig holds the initial configuration loaded from overlay_config.yaml
type BootstrapConfig struct {
	Logging LoggingConfig         `yaml:"logging"`
	Server  BootstrapServerConfig `yaml:"server"`
	Stream  StreamConfig          `yaml:"stream"`
	Video   VideoConfig           `yaml:"video"`
	Data    DataConfig            `yaml:"data"`
}

// LoggingConfig holds logging settings from bootstrap
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogPath string `yaml:"log_path,omitempty"`
}

// BootstrapServerConfig holds bootstrap server settings
type BootstrapServerConfig struct {
	HTTPPort       int      `yaml:"http_port"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// StreamConfig holds the landmark stream connection settings from bootstrap
type StreamConfig struct {
	Endpoint             string `yaml:"endpoint"`
	BaseReconnectDelayMs int    `yaml:"base_reconnect_delay_ms"`
	MaxReconnectDelayMs  int    `yaml:"max_reconnect_delay_ms"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
	HandshakeTimeoutMs   int    `yaml:"handshake_timeout_ms"`
}

// VideoConfig holds the expected video source dimensions. Zero values mean
// the source size is unknown until a renderer reports it.
type VideoConfig struct {
	Width  int `yaml:"width,omitempty"`
	Height int `yaml:"height,omitempty"`
}

// DataConfig holds data directory settings from bootstrap
type DataConfig struct {
	Directory           string `yaml:"directory"`
	CatalogConfigFile   string `yaml:"catalog_file"`
	AssetDirectory      string `yaml:"asset_directory,omitempty"`
	PersistCatalogEdits bool   `yaml:"persist_catalog_edits,omitempty"`
}

// LoadBootstrapConfig loads the bootstrap configuration from overlay_config.yaml
func LoadBootstrapConfig(configDir string) (*BootstrapConfig, error) {
	bootstrapConfigPath := filepath.Join(configDir, "overlay_config.yaml")

	data, err := ioutil.ReadFile(bootstrapConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	var bootstrapCfg BootstrapConfig
	if err := yaml.Unmarshal(data, &bootstrapCfg); err != nil {
		return nil, fmt.Errorf("error parsing bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	if bootstrapCfg.Stream.Endpoint == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: stream.endpoint")
	}
	if bootstrapCfg.Data.Directory == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: data.directory")
	}
	if bootstrapCfg.Data.CatalogConfigFile == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: data.catalog_file")
	}

	bootstrapCfg.applyStreamDefaults()

	return &bootstrapCfg, nil
}

// applyStreamDefaults fills unset reconnect settings with the standard
// backoff window.
func (c *BootstrapConfig) applyStreamDefaults() {
	if c.Stream.BaseReconnectDelayMs <= 0 {
		c.Stream.BaseReconnectDelayMs = DefaultBaseReconnectDelayMs
	}
	if c.Stream.MaxReconnectDelayMs <= 0 {
		c.Stream.MaxReconnectDelayMs = DefaultMaxReconnectDelayMs
	}
	if c.Stream.MaxReconnectAttempts <= 0 {
		c.Stream.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Stream.HandshakeTimeoutMs <= 0 {
		c.Stream.HandshakeTimeoutMs = DefaultHandshakeTimeoutMs
	}
	if c.Server.HTTPPort <= 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// ApplyEnvOverrides lets deployment environments adjust the bootstrap config
// without editing the file. PORT, OVERLAY_STREAM_ENDPOINT and
// OVERLAY_LOG_LEVEL are honored when set.
func (c *BootstrapConfig) ApplyEnvOverrides() {
	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			c.Server.HTTPPort = port
		}
	}
	if endpoint := os.Getenv("OVERLAY_STREAM_ENDPOINT"); endpoint != "" {
		c.Stream.Endpoint = endpoint
	}
	if level := os.Getenv("OVERLAY_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}
