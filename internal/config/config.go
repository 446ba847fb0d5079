package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// RPCConfig points discovery at an rpcd ubus endpoint instead of the local filesystem.
type RPCConfig struct {
	URL     string   `yaml:"url"`
	Session string   `yaml:"session,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty"`
}

// DiscoveryConfig configures serial device discovery.
type DiscoveryConfig struct {
	Dirs []string   `yaml:"dirs,omitempty"`
	RPC  *RPCConfig `yaml:"rpc,omitempty"`
}

// HTTPConfig configures the editing API.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki"`
}

// TelemetryConfig configures runtime telemetry exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider,omitempty"`
}

// ApplyConfig configures the command executed after a successful save.
type ApplyConfig struct {
	Command []string `yaml:"command,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty"`
	Disable bool     `yaml:"disable,omitempty"`
}

// MQTTAuth holds broker credentials.
type MQTTAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NotifyConfig configures MQTT change notifications.
type NotifyConfig struct {
	Enabled  bool      `yaml:"enabled"`
	Broker   string    `yaml:"broker"`
	ClientID string    `yaml:"client_id,omitempty"`
	Topic    string    `yaml:"topic"`
	QoS      byte      `yaml:"qos,omitempty"`
	Retain   bool      `yaml:"retain,omitempty"`
	Auth     *MQTTAuth `yaml:"auth,omitempty"`
	Timeout  Duration  `yaml:"timeout,omitempty"`
}

// PolicyConfig is an additional site rule for a single field.
type PolicyConfig struct {
	Field      string `yaml:"field"`
	Expression string `yaml:"expression"`
	Message    string `yaml:"message,omitempty"`
}

// ProbeConfig configures the reachability probes of the status command.
type ProbeConfig struct {
	Workers int      `yaml:"workers,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty"`
	Serial  bool     `yaml:"serial,omitempty"`
}

// Config is the root configuration structure of the tool.
type Config struct {
	Store     string          `yaml:"store"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Apply     ApplyConfig     `yaml:"apply"`
	Notify    NotifyConfig    `yaml:"notify"`
	Policies  []PolicyConfig  `yaml:"policies,omitempty"`
	Probe     ProbeConfig     `yaml:"probe"`
	HotReload bool            `yaml:"hot_reload,omitempty"`
}

// Default returns the settings used when no settings file exists.
func Default() *Config {
	return &Config{
		Store: "/etc/config/mbusd",
		HTTP:  HTTPConfig{Listen: "127.0.0.1:18502"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Apply: ApplyConfig{
			Command: []string{"/etc/init.d/mbusd", "reload"},
		},
	}
}

// Load reads and decodes the settings file from disk. Unset fields keep the
// values of Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Store) == "" {
		return fmt.Errorf("store path must not be empty")
	}
	if c.Discovery.RPC != nil && strings.TrimSpace(c.Discovery.RPC.URL) == "" {
		return fmt.Errorf("discovery.rpc.url is required when rpc discovery is configured")
	}
	if c.Notify.Enabled {
		if c.Notify.Broker == "" {
			return fmt.Errorf("notify.broker is required")
		}
		if c.Notify.Topic == "" {
			return fmt.Errorf("notify.topic is required")
		}
		if c.Notify.QoS > 2 {
			return fmt.Errorf("notify.qos must be 0, 1 or 2")
		}
	}
	for i, policy := range c.Policies {
		if policy.Field == "" || policy.Expression == "" {
			return fmt.Errorf("policies[%d]: field and expression are required", i)
		}
	}
	if c.Probe.Workers < 0 {
		return fmt.Errorf("probe.workers must not be negative")
	}
	return nil
}

// ProbeTimeout returns the configured probe timeout.
func (c *Config) ProbeTimeout() time.Duration {
	if c == nil || c.Probe.Timeout.Duration <= 0 {
		return 2 * time.Second
	}
	return c.Probe.Timeout.Duration
}

// ApplyTimeout returns the time allowed for the apply command.
func (c *Config) ApplyTimeout() time.Duration {
	if c == nil || c.Apply.Timeout.Duration <= 0 {
		return 30 * time.Second
	}
	return c.Apply.Timeout.Duration
}
