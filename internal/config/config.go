// Package config handles hub configuration loading.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BusKind selects the message bus implementation.
type BusKind string

const (
	BusInMem BusKind = "inmem"
	BusMQTT  BusKind = "mqtt"
)

// StorageKind selects the registry and state history backend.
type StorageKind string

const (
	StorageInMem    StorageKind = "inmem"
	StoragePostgres StorageKind = "postgres"
)

// AutomationStoreKind selects where automation definitions live.
type AutomationStoreKind string

const (
	AutomationStoreInMem  AutomationStoreKind = "inmem"
	AutomationStoreSQLite AutomationStoreKind = "sqlite"
)

// Config holds all hub configuration.
type Config struct {
	Bind        string            `yaml:"bind"`
	Bus         BusConfig         `yaml:"bus"`
	Storage     StorageConfig     `yaml:"storage"`
	Automations AutomationsConfig `yaml:"automations"`
	Auth        AuthConfig        `yaml:"auth"`
	Heartbeat   HeartbeatConfig   `yaml:"heartbeat"`
	Log         LogConfig         `yaml:"log"`
}

// BusConfig selects and parameterizes the bus.
type BusConfig struct {
	Kind BusKind    `yaml:"kind"`
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig defines the broker connection for the MQTT bus.
type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// StorageConfig selects and parameterizes persistence.
type StorageConfig struct {
	Kind     StorageKind    `yaml:"kind"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig defines the postgres connection.
type PostgresConfig struct {
	URL string `yaml:"url"`
}

// AutomationsConfig selects where automation definitions are stored.
type AutomationsConfig struct {
	Store      AutomationStoreKind `yaml:"store"`
	SQLitePath string              `yaml:"sqlite_path"`
}

// AuthConfig lists the accepted API tokens. An empty list leaves the
// API open.
type AuthConfig struct {
	Tokens []string `yaml:"tokens"`
}

// HeartbeatConfig sets the liveness tick period.
type HeartbeatConfig struct {
	Interval Duration `yaml:"interval"`
}

// LogConfig sets the slog level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "1m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Bind: "127.0.0.1:8080",
		Bus:  BusConfig{Kind: BusInMem, MQTT: MQTTConfig{Host: "localhost", Port: 1883, ClientID: "krypin-hub"}},
		Storage: StorageConfig{
			Kind: StorageInMem,
		},
		Automations: AutomationsConfig{
			Store:      AutomationStoreInMem,
			SQLitePath: "krypin-automations.db",
		},
		Heartbeat: HeartbeatConfig{Interval: Duration(30 * time.Second)},
		Log:       LogConfig{Level: "info"},
	}
}

// DefaultSearchPaths lists where FindConfig looks when neither --config
// nor $KRYPIN_CONFIG names a file: ./krypin.yaml, then
// ~/.config/krypin/config.yaml, then /etc/krypin/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"krypin.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "krypin", "config.yaml"))
	}

	paths = append(paths, "/etc/krypin/config.yaml")
	return paths
}

// FindConfig locates a config file. An explicit path, or the one named
// by $KRYPIN_CONFIG, must exist. Otherwise the search paths are tried
// in order and the first hit wins; no file anywhere returns "" with no
// error, which means run on defaults.
func FindConfig(explicit string) (string, error) {
	if explicit == "" {
		explicit = os.Getenv("KRYPIN_CONFIG")
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// Load reads configuration from a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// ${VAR} references in the file resolve before parsing.
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve locates, loads, normalizes, and validates the effective
// configuration: file (if any) under environment overrides.
func Resolve(explicit string) (*Config, error) {
	path, err := FindConfig(explicit)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the KRYPIN_* environment variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv("KRYPIN_BIND"); v != "" {
		c.Bind = v
	}
	if v := os.Getenv("KRYPIN_BUS"); v != "" {
		c.Bus.Kind = BusKind(v)
	}
	if v := os.Getenv("KRYPIN_MQTT_HOST"); v != "" {
		c.Bus.MQTT.Host = v
	}
	if v := os.Getenv("KRYPIN_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("KRYPIN_MQTT_PORT: %w", err)
		}
		c.Bus.MQTT.Port = port
	}
	if v := os.Getenv("KRYPIN_MQTT_CLIENT_ID"); v != "" {
		c.Bus.MQTT.ClientID = v
	}
	if v := os.Getenv("KRYPIN_STORAGE"); v != "" {
		c.Storage.Kind = StorageKind(v)
	}
	if v := os.Getenv("KRYPIN_DATABASE_URL"); v != "" {
		c.Storage.Postgres.URL = v
	}
	if v := os.Getenv("KRYPIN_AUTH_TOKENS"); v != "" {
		var tokens []string
		for _, tok := range strings.Split(v, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				tokens = append(tokens, tok)
			}
		}
		c.Auth.Tokens = tokens
	}
	if v := os.Getenv("KRYPIN_HEARTBEAT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("KRYPIN_HEARTBEAT_INTERVAL: %w", err)
		}
		c.Heartbeat.Interval = Duration(d)
	}
	if v := os.Getenv("KRYPIN_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// normalize lowercases the kind discriminators so env and file values
// compare case-insensitively, like the original parsers did.
func (c *Config) normalize() {
	c.Bus.Kind = BusKind(strings.ToLower(strings.TrimSpace(string(c.Bus.Kind))))
	c.Storage.Kind = StorageKind(strings.ToLower(strings.TrimSpace(string(c.Storage.Kind))))
	c.Automations.Store = AutomationStoreKind(strings.ToLower(strings.TrimSpace(string(c.Automations.Store))))
}

// Validate rejects unknown kinds and missing kind-specific settings.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Bind); err != nil {
		return fmt.Errorf("bind %q: %w", c.Bind, err)
	}

	switch c.Bus.Kind {
	case BusInMem:
	case BusMQTT:
		if c.Bus.MQTT.Host == "" {
			return fmt.Errorf("bus kind mqtt requires bus.mqtt.host")
		}
	default:
		return fmt.Errorf("unknown bus kind %q (valid: inmem, mqtt)", c.Bus.Kind)
	}

	switch c.Storage.Kind {
	case StorageInMem:
	case StoragePostgres:
		if c.Storage.Postgres.URL == "" {
			return fmt.Errorf("storage kind postgres requires storage.postgres.url or KRYPIN_DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown storage kind %q (valid: inmem, postgres)", c.Storage.Kind)
	}

	switch c.Automations.Store {
	case AutomationStoreInMem:
	case AutomationStoreSQLite:
		if c.Automations.SQLitePath == "" {
			return fmt.Errorf("automations store sqlite requires automations.sqlite_path")
		}
	default:
		return fmt.Errorf("unknown automations store %q (valid: inmem, sqlite)", c.Automations.Store)
	}

	if c.Heartbeat.Interval < 0 {
		return fmt.Errorf("heartbeat interval must not be negative")
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}
