package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Binding modes for multi-channel actuators.
const (
	// BindingFanOut exposes one endpoint per channel of a single accessory.
	BindingFanOut = "fanout"

	// BindingSingle exposes one accessory per listed channel index.
	BindingSingle = "single"
)

// Config is the root configuration structure for the HomematicIP bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge      BridgeConfig      `yaml:"bridge"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	API         APIConfig         `yaml:"api"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
	Security    SecurityConfig    `yaml:"security"`
	HomematicIP HomematicIPConfig `yaml:"homematicip"`
	Devices     []DeviceBinding   `yaml:"devices"`
}

// BridgeConfig identifies this bridge instance.
type BridgeConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings for the HTTP API.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// HomematicIPConfig contains HomematicIP cloud connection settings.
type HomematicIPConfig struct {
	// AccessPointID is the SGTIN printed on the access point (dashes optional).
	AccessPointID string `yaml:"access_point_id"`

	// AuthToken is the client auth token obtained during pairing.
	AuthToken string `yaml:"auth_token"`

	// LookupURL resolves the REST and WebSocket hosts for an access point.
	LookupURL string `yaml:"lookup_url"`

	// RestURL and WebSocketURL skip the lookup when both are set.
	RestURL      string `yaml:"rest_url"`
	WebSocketURL string `yaml:"websocket_url"`

	// ClientVersion is reported in clientCharacteristics.
	ClientVersion string `yaml:"client_version"`

	// RequestTimeout is the HTTP timeout per request (seconds).
	RequestTimeout int `yaml:"request_timeout"`

	// ReconnectDelay is the wait between event stream reconnects (seconds).
	ReconnectDelay int `yaml:"reconnect_delay"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig configures retries of control calls on transient failures.
type RetryConfig struct {
	MaxRetries       int     `yaml:"max_retries"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier"`
}

// DeviceBinding overrides how a device's channels are exposed.
//
// Devices without a binding use the model default (fan-out for the
// 3-channel dimmer, single per channel for the switch bank).
type DeviceBinding struct {
	ID       string `yaml:"id"`
	Mode     string `yaml:"mode"`
	Channels []int  `yaml:"channels"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HMIPBRIDGE_SECTION_KEY
// For example: HMIPBRIDGE_DATABASE_PATH, HMIPBRIDGE_HMIP_AUTH_TOKEN
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:   "hmip",
			Name: "HomematicIP Bridge",
		},
		Database: DatabaseConfig{
			Path:        "./data/hmip-bridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "hmip-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			TopicPrefix: "hmip",
		},
		API: APIConfig{
			Enabled: false,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 1440,
			},
		},
		HomematicIP: HomematicIPConfig{
			LookupURL:      "https://lookup.homematic.com:48335/getHost",
			ClientVersion:  "1.0.0",
			RequestTimeout: 10,
			ReconnectDelay: 5,
			Retry: RetryConfig{
				MaxRetries:       2,
				InitialBackoffMs: 200,
				MaxBackoffMs:     2000,
				Multiplier:       2.0,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HMIPBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("HMIPBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("HMIPBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HMIPBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HMIPBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("HMIPBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("HMIPBRIDGE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	// HomematicIP credentials
	if v := os.Getenv("HMIPBRIDGE_HMIP_ACCESS_POINT"); v != "" {
		cfg.HomematicIP.AccessPointID = v
	}
	if v := os.Getenv("HMIPBRIDGE_HMIP_AUTH_TOKEN"); v != "" {
		cfg.HomematicIP.AuthToken = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}

	if c.HomematicIP.AccessPointID == "" {
		errs = append(errs, "homematicip.access_point_id is required (or set HMIPBRIDGE_HMIP_ACCESS_POINT)")
	}
	if c.HomematicIP.AuthToken == "" {
		errs = append(errs, "homematicip.auth_token is required (or set HMIPBRIDGE_HMIP_AUTH_TOKEN)")
	}
	if c.HomematicIP.RestURL == "" && c.HomematicIP.LookupURL == "" {
		errs = append(errs, "homematicip.lookup_url is required when rest_url is not set")
	}
	if c.HomematicIP.Retry.MaxRetries < 0 {
		errs = append(errs, "homematicip.retry.max_retries cannot be negative")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}

		// The API can switch physical loads, so it is never exposed without auth.
		const minJWTSecretLength = 32
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when the API is enabled (set HMIPBRIDGE_JWT_SECRET)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
	}

	errs = append(errs, validateBindings(c.Devices)...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateBindings checks per-device binding overrides.
func validateBindings(bindings []DeviceBinding) []string {
	var errs []string
	seen := make(map[string]int, len(bindings))

	for i, b := range bindings {
		if b.ID == "" {
			errs = append(errs, fmt.Sprintf("devices[%d]: id is required", i))
		} else if j, ok := seen[b.ID]; ok {
			errs = append(errs, fmt.Sprintf("devices[%d]: duplicate id %q (also at devices[%d])", i, b.ID, j))
		} else {
			seen[b.ID] = i
		}

		switch strings.ToLower(b.Mode) {
		case BindingFanOut:
			if len(b.Channels) > 0 {
				errs = append(errs, fmt.Sprintf("devices[%d/%s]: channels are only valid for mode=single", i, b.ID))
			}
		case BindingSingle:
			used := make(map[int]struct{}, len(b.Channels))
			for _, ch := range b.Channels {
				if ch < 0 {
					errs = append(errs, fmt.Sprintf("devices[%d/%s]: channel index %d must be >= 0", i, b.ID, ch))
				}
				if _, dup := used[ch]; dup {
					errs = append(errs, fmt.Sprintf("devices[%d/%s]: duplicate channel index %d", i, b.ID, ch))
				}
				used[ch] = struct{}{}
			}
		default:
			errs = append(errs, fmt.Sprintf("devices[%d/%s]: mode must be %q or %q", i, b.ID, BindingFanOut, BindingSingle))
		}
	}

	return errs
}

// Binding returns the binding override for a device, if any.
func (c *Config) Binding(deviceID string) (DeviceBinding, bool) {
	for _, b := range c.Devices {
		if b.ID == deviceID {
			b.Mode = strings.ToLower(b.Mode)
			return b, true
		}
	}
	return DeviceBinding{}, false
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetRequestTimeout returns the HomematicIP HTTP request timeout.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.HomematicIP.RequestTimeout) * time.Second
}

// GetReconnectDelay returns the delay between event stream reconnects.
func (c *Config) GetReconnectDelay() time.Duration {
	return time.Duration(c.HomematicIP.ReconnectDelay) * time.Second
}
