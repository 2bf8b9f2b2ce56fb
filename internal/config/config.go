// Package config loads SmartMove runtime configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// SMARTMOVE_* environment variables. A .env file, if present, is loaded
// into the environment first without overriding variables already set.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/smartmove/internal/fleet"
)

// DotenvFile is the .env file consulted by Load.
const DotenvFile = ".env"

// Environment variable names.
const (
	EnvHTTPAddr         = "SMARTMOVE_HTTP_ADDR"
	EnvDBPath           = "SMARTMOVE_DB_PATH"
	EnvAuditPath        = "SMARTMOVE_AUDIT_PATH"
	EnvZonesPath        = "SMARTMOVE_ZONES_PATH"
	EnvMQTTBroker       = "SMARTMOVE_MQTT_BROKER"
	EnvMQTTTopic        = "SMARTMOVE_MQTT_TOPIC"
	EnvMQTTClientID     = "SMARTMOVE_MQTT_CLIENT_ID"
	EnvLogLevel         = "SMARTMOVE_LOG_LEVEL"
	EnvLogFormat        = "SMARTMOVE_LOG_FORMAT"
	EnvBaseFare         = "SMARTMOVE_BASE_FARE"
	EnvCongestionCharge = "SMARTMOVE_CONGESTION_CHARGE"
	EnvGeofenceAudit    = "SMARTMOVE_GEOFENCE_AUDIT"
)

// Config is the complete runtime configuration.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	Zones   ZonesConfig   `yaml:"zones"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Fares   FaresConfig   `yaml:"fares"`
	Rules   RulesConfig   `yaml:"rules"`
	Log     LogConfig     `yaml:"log"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type StorageConfig struct {
	DBPath    string `yaml:"db_path"`
	AuditPath string `yaml:"audit_path"`
}

type ZonesConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig configures telemetry ingress. An empty Broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// Enabled reports whether a broker is configured.
func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

type FaresConfig struct {
	BaseFare         float64 `yaml:"base_fare"`
	CongestionCharge float64 `yaml:"congestion_charge"`
}

type RulesConfig struct {
	// AuditGeofence writes ZONE_VIOLATION entries for geofence locks.
	AuditGeofence bool `yaml:"audit_geofence"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SlogLevel maps Level to a slog level. Unknown values map to Info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{Addr: ":8080"},
		Storage: StorageConfig{
			DBPath:    "data/smartmove.db",
			AuditPath: "data/audit-log.jsonl",
		},
		Zones: ZonesConfig{Path: "data/restricted-zones.cue"},
		MQTT: MQTTConfig{
			Topic:    "smartmove/vehicles/+/telemetry",
			ClientID: "smartmove-controller",
			QoS:      1,
		},
		Fares: FaresConfig{
			BaseFare:         fleet.DefaultBaseFare,
			CongestionCharge: fleet.DefaultCongestionCharge,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// FleetOptions returns the controller tunables.
func (c *Config) FleetOptions() fleet.Options {
	return fleet.Options{
		BaseFare:         c.Fares.BaseFare,
		CongestionCharge: c.Fares.CongestionCharge,
		AuditGeofence:    c.Rules.AuditGeofence,
	}
}

// Load reads DotenvFile, the YAML file at path (skipped when path is
// empty) and the environment, then validates the result.
func Load(path string) (*Config, error) {
	return LoadWithDotenv(path, DotenvFile)
}

// LoadWithDotenv is Load with an explicit .env location. A missing .env
// file is not an error; a missing YAML file is.
func LoadWithDotenv(path, dotenv string) (*Config, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decode unmarshals YAML over cfg, so keys absent from the file keep
// their defaults. Unknown keys are rejected.
func decode(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str(EnvHTTPAddr, &c.HTTP.Addr)
	str(EnvDBPath, &c.Storage.DBPath)
	str(EnvAuditPath, &c.Storage.AuditPath)
	str(EnvZonesPath, &c.Zones.Path)
	str(EnvMQTTBroker, &c.MQTT.Broker)
	str(EnvMQTTTopic, &c.MQTT.Topic)
	str(EnvMQTTClientID, &c.MQTT.ClientID)
	str(EnvLogLevel, &c.Log.Level)
	str(EnvLogFormat, &c.Log.Format)

	for key, dst := range map[string]*float64{
		EnvBaseFare:         &c.Fares.BaseFare,
		EnvCongestionCharge: &c.Fares.CongestionCharge,
	} {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = f
		}
	}

	if v, ok := lookup(EnvGeofenceAudit); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvGeofenceAudit, err)
		}
		c.Rules.AuditGeofence = b
	}
	return nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.AuditPath == "" {
		return fmt.Errorf("storage.audit_path is required")
	}
	if c.Fares.BaseFare < 0 || c.Fares.CongestionCharge < 0 {
		return fmt.Errorf("fares must be non-negative")
	}
	if c.MQTT.Enabled() {
		if c.MQTT.Topic == "" {
			return fmt.Errorf("mqtt.topic is required when mqtt.broker is set")
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
