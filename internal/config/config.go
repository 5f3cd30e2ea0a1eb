package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"wisefido-iotcore/owl-common/config"

	"gopkg.in/yaml.v3"
)

// Config iotcore service configuration
type Config struct {
	Database  config.DatabaseConfig `yaml:"database"`
	DBEnabled bool                  `yaml:"db_enabled"`

	Redis        config.RedisConfig `yaml:"redis"`
	RedisEnabled bool               `yaml:"redis_enabled"`

	MQTT config.MQTTConfig `yaml:"mqtt"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Monitor MonitorConfig `yaml:"monitor"`

	Notification struct {
		DedupeWindow time.Duration `yaml:"dedupe_window"`
	} `yaml:"notification"`

	Session struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"session"`

	Claim struct {
		TokenTTL time.Duration `yaml:"token_ttl"`
	} `yaml:"claim"`

	Provision ProvisionConfig `yaml:"provision"`

	Events struct {
		StreamEnabled bool   `yaml:"stream_enabled"`
		StreamName    string `yaml:"stream_name"`
		StreamMaxLen  int64  `yaml:"stream_maxlen"`
	} `yaml:"events"`

	DeviceCache struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"device_cache"`
}

// MonitorConfig thresholds (After) and tick intervals (Check) of the three sweepers
type MonitorConfig struct {
	DeviceOfflineAfter    time.Duration `yaml:"device_offline_after"`
	DeviceOfflineCheck    time.Duration `yaml:"device_offline_check"`
	ComponentOfflineAfter time.Duration `yaml:"component_offline_after"`
	ComponentOfflineCheck time.Duration `yaml:"component_offline_check"`
	ComponentHideAfter    time.Duration `yaml:"component_hide_after"`
	ComponentHideCheck    time.Duration `yaml:"component_hide_check"`
}

// ProvisionConfig broker credential provisioning
type ProvisionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Mode    string `yaml:"mode"` // script | http
	Script  string `yaml:"script"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
}

// Load builds the config: defaults, then the optional YAML file at path, then env.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in defaults
func Default() *Config {
	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "iot"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 10
	cfg.DBEnabled = true

	cfg.Redis.Addr = "localhost:6379"
	cfg.RedisEnabled = true

	cfg.MQTT.Broker = "tcp://127.0.0.1:1883"
	cfg.MQTT.ClientID = "wisefido-iotcore"
	cfg.MQTT.QoS = 0
	cfg.MQTT.KeepAlive = 30 * time.Second
	cfg.MQTT.ConnectTimeout = 10 * time.Second
	cfg.MQTT.ReconnectPeriod = 2 * time.Second

	cfg.HTTP.Addr = ":4000"
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	cfg.Monitor = MonitorConfig{
		DeviceOfflineAfter:    20 * time.Second,
		DeviceOfflineCheck:    5 * time.Second,
		ComponentOfflineAfter: 20 * time.Second,
		ComponentOfflineCheck: 5 * time.Second,
		ComponentHideAfter:    120 * time.Second,
		ComponentHideCheck:    15 * time.Second,
	}

	cfg.Notification.DedupeWindow = 60 * time.Second
	cfg.Session.TTL = 7 * 24 * time.Hour
	cfg.Claim.TokenTTL = 10 * time.Minute

	cfg.Provision.Mode = "script"
	cfg.Provision.Script = "/usr/local/bin/iot-mqtt-provision"

	cfg.Events.StreamName = "iotcore:events:stream"
	cfg.Events.StreamMaxLen = 10000

	cfg.DeviceCache.TTL = 30 * time.Second

	return cfg
}

func (c *Config) applyEnv() {
	c.Database.LoadFromEnv("DB")
	c.DBEnabled = getEnvBool("DB_ENABLED", c.DBEnabled)
	c.Redis.LoadFromEnv("REDIS")
	c.RedisEnabled = getEnvBool("REDIS_ENABLED", c.RedisEnabled)
	c.MQTT.LoadFromEnv("MQTT")

	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Monitor.DeviceOfflineAfter = getEnvDuration("DEVICE_OFFLINE_AFTER_SEC", time.Second, c.Monitor.DeviceOfflineAfter)
	c.Monitor.DeviceOfflineCheck = getEnvDuration("DEVICE_OFFLINE_CHECK_MS", time.Millisecond, c.Monitor.DeviceOfflineCheck)
	c.Monitor.ComponentOfflineAfter = getEnvDuration("COMPONENT_OFFLINE_AFTER_SEC", time.Second, c.Monitor.ComponentOfflineAfter)
	c.Monitor.ComponentOfflineCheck = getEnvDuration("COMPONENT_OFFLINE_CHECK_MS", time.Millisecond, c.Monitor.ComponentOfflineCheck)
	c.Monitor.ComponentHideAfter = getEnvDuration("COMPONENT_HIDE_AFTER_SEC", time.Second, c.Monitor.ComponentHideAfter)
	c.Monitor.ComponentHideCheck = getEnvDuration("COMPONENT_HIDE_CHECK_MS", time.Millisecond, c.Monitor.ComponentHideCheck)

	c.Notification.DedupeWindow = getEnvDuration("NOTIFICATION_DEDUPE_SEC", time.Second, c.Notification.DedupeWindow)
	c.Session.TTL = getEnvDuration("SESSION_TTL_DAYS", 24*time.Hour, c.Session.TTL)
	c.Claim.TokenTTL = getEnvDuration("CLAIM_TOKEN_TTL_MIN", time.Minute, c.Claim.TokenTTL)

	c.Provision.Enabled = getEnvBool("MQTT_PROVISION_ENABLED", c.Provision.Enabled)
	c.Provision.Mode = strings.ToLower(getEnv("MQTT_PROVISION_MODE", c.Provision.Mode))
	c.Provision.Script = getEnv("MQTT_PROVISION_SCRIPT", c.Provision.Script)
	c.Provision.URL = getEnv("MQTT_PROVISION_URL", c.Provision.URL)
	c.Provision.Token = getEnv("MQTT_PROVISION_TOKEN", c.Provision.Token)

	c.Events.StreamEnabled = getEnvBool("EVENT_STREAM_ENABLED", c.Events.StreamEnabled)
	c.Events.StreamName = getEnv("EVENT_STREAM_NAME", c.Events.StreamName)
	if v := os.Getenv("EVENT_STREAM_MAXLEN"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			c.Events.StreamMaxLen = n
		}
	}

	c.DeviceCache.TTL = getEnvDuration("DEVICE_CACHE_TTL_SEC", time.Second, c.DeviceCache.TTL)
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	checks := map[string]time.Duration{
		"monitor.device_offline_check":    c.Monitor.DeviceOfflineCheck,
		"monitor.component_offline_check": c.Monitor.ComponentOfflineCheck,
		"monitor.component_hide_check":    c.Monitor.ComponentHideCheck,
		"session.ttl":                     c.Session.TTL,
		"claim.token_ttl":                 c.Claim.TokenTTL,
	}
	for name, d := range checks {
		if d <= 0 {
			return fmt.Errorf("invalid config: %s must be positive", name)
		}
	}
	if c.Provision.Enabled && c.Provision.Mode != "script" && c.Provision.Mode != "http" {
		return fmt.Errorf("invalid config: unknown provision mode %q", c.Provision.Mode)
	}
	if c.Provision.Enabled && c.Provision.Mode == "http" && c.Provision.URL == "" {
		return fmt.Errorf("invalid config: provision.url is required in http mode")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

// getEnvDuration reads an integer count of unit
func getEnvDuration(key string, unit time.Duration, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return defaultValue
	}
	return time.Duration(n) * unit
}
