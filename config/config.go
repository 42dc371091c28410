package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvTestEnvironment selects the environment file when none is given explicitly
const EnvTestEnvironment = "TEST_ENV"

const defaultEnvironment = "dev"

type Config struct {
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Logging LogConfig     `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`

	// Environment is the name of the environment file this config came from, if any
	Environment string `yaml:"-"`
}

type MQTTConfig struct {
	BrokerHost string `yaml:"broker_host"`
	BrokerPort int    `yaml:"broker_port"`
	ClientID   string `yaml:"client_id"`

	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`

	Keepalive    Seconds `yaml:"keepalive"`
	CleanSession *bool   `yaml:"clean_session"`

	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	PublishTimeout   time.Duration `yaml:"publish_timeout"`
	SubscribeTimeout time.Duration `yaml:"subscribe_timeout"`
	WaitTimeout      time.Duration `yaml:"wait_timeout"`
	WaitRetries      int           `yaml:"wait_retries"`
}

// Seconds is a duration that may be written either as a duration string
// ("90s", "1m") or as a bare integer number of seconds (90).
type Seconds time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (s *Seconds) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*s = Seconds(time.Duration(n) * time.Second)
		return nil
	}

	var d time.Duration
	if err := value.Decode(&d); err != nil {
		return fmt.Errorf("line %d: %q is neither seconds nor a duration", value.Line, value.Value)
	}
	*s = Seconds(d)
	return nil
}

// Duration returns s as a time.Duration
func (s Seconds) Duration() time.Duration {
	return time.Duration(s)
}

type LogConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	OutputPath string `yaml:"output_path"` // file path or "stdout"
	Encoding   string `yaml:"encoding"`    // json or console
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// Load reads and parses the configuration file. Relative certificate paths
// are resolved against the directory containing the file.
func Load(path string) (*Config, error) {
	return load(path, filepath.Dir(path))
}

// LoadEnvironment reads root/config/environments/<env>.yaml. An empty env falls
// back to $TEST_ENV and then to "dev". Relative certificate paths are resolved
// against root, the project directory.
func LoadEnvironment(root, env string) (*Config, error) {
	if env == "" {
		env = os.Getenv(EnvTestEnvironment)
	}
	if env == "" {
		env = defaultEnvironment
	}

	path := filepath.Join(root, "config", "environments", env+".yaml")
	cfg, err := load(path, root)
	if err != nil {
		return nil, err
	}
	cfg.Environment = env
	return cfg, nil
}

func load(path, baseDir string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	config.applyEnvOverrides()
	config.MQTT.resolvePaths(baseDir)

	// Validate the configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	// Set defaults for mqtt
	if c.MQTT.BrokerPort == 0 {
		c.MQTT.BrokerPort = 8883
	}
	if c.MQTT.Keepalive == 0 {
		c.MQTT.Keepalive = Seconds(60 * time.Second)
	}
	if c.MQTT.CleanSession == nil {
		clean := true
		c.MQTT.CleanSession = &clean
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = 10 * time.Second
	}
	if c.MQTT.PublishTimeout == 0 {
		c.MQTT.PublishTimeout = 5 * time.Second
	}
	if c.MQTT.SubscribeTimeout == 0 {
		c.MQTT.SubscribeTimeout = 5 * time.Second
	}
	if c.MQTT.WaitTimeout == 0 {
		c.MQTT.WaitTimeout = 10 * time.Second
	}

	// Set defaults for logging
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.OutputPath == "" {
		c.Logging.OutputPath = "stdout"
	}
	if c.Logging.Encoding == "" {
		c.Logging.Encoding = "json"
	}

	// Set defaults for metrics
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":2112"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// applyEnvOverrides lets CI jobs point an environment file at another broker
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HARNESS_MQTT_HOST"); v != "" {
		c.MQTT.BrokerHost = v
	}
	if v := os.Getenv("HARNESS_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.MQTT.BrokerPort = port
		}
	}
	if v := os.Getenv("HARNESS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (m *MQTTConfig) resolvePaths(baseDir string) {
	m.CACert = resolvePath(baseDir, m.CACert)
	m.ClientCert = resolvePath(baseDir, m.ClientCert)
	m.ClientKey = resolvePath(baseDir, m.ClientKey)
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Validate performs validation of all configuration values
func (c *Config) Validate() error {
	// Validate MQTT config
	if c.MQTT.BrokerHost == "" {
		return fmt.Errorf("mqtt broker host is required")
	}
	if c.MQTT.BrokerPort < 1 || c.MQTT.BrokerPort > 65535 {
		return fmt.Errorf("invalid mqtt broker port: %d", c.MQTT.BrokerPort)
	}

	// mTLS is the only supported authentication
	if c.MQTT.CACert == "" {
		return fmt.Errorf("tls ca file is required")
	}
	if c.MQTT.ClientCert == "" {
		return fmt.Errorf("tls cert file is required")
	}
	if c.MQTT.ClientKey == "" {
		return fmt.Errorf("tls key file is required")
	}

	if c.MQTT.Keepalive.Duration() < time.Second {
		return fmt.Errorf("keepalive must be at least 1s")
	}
	if c.MQTT.ConnectTimeout < 0 || c.MQTT.PublishTimeout < 0 ||
		c.MQTT.SubscribeTimeout < 0 || c.MQTT.WaitTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.MQTT.WaitRetries < 0 {
		return fmt.Errorf("wait retries must not be negative")
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log encoding: %s", c.Logging.Encoding)
	}

	return nil
}

// ApplyOverrides applies command line flag overrides to the configuration
func (c *Config) ApplyOverrides(host string, port int, logLevel, metricsAddr string) {
	if host != "" {
		c.MQTT.BrokerHost = host
	}
	if port > 0 {
		c.MQTT.BrokerPort = port
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	if metricsAddr != "" {
		c.Metrics.Enabled = true
		c.Metrics.Address = metricsAddr
	}
}
