package config

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	env "github.com/Netflix/go-env"
)

const (
	defaultBindAddress = "0.0.0.0"
	defaultWebPort     = 8081
	defaultMQTTPort    = 1883
)

// Config holds all environment-driven configuration.
type Config struct {
	// Web listener configuration
	WebAddr        string `env:"ENERGYGUARD_WEB_ADDR"`
	WebBindAddress string `env:"ENERGYGUARD_WEB_BIND_ADDRESS,default=0.0.0.0"`
	WebPort        int    `env:"ENERGYGUARD_WEB_PORT,default=8081"`

	// Embedded MQTT listener configuration
	MQTTAddr        string `env:"ENERGYGUARD_MQTT_ADDR"`
	MQTTBindAddress string `env:"ENERGYGUARD_MQTT_BIND_ADDRESS,default=0.0.0.0"`
	MQTTPort        int    `env:"ENERGYGUARD_MQTT_PORT,default=1883"`

	// Tailscale configuration
	TailscaleHostname string `env:"ENERGYGUARD_TS_HOSTNAME"`
	TailscaleAuthKey  string `env:"ENERGYGUARD_TS_AUTHKEY"`
	TailscaleStateDir string `env:"ENERGYGUARD_TS_STATE_DIR,default=./data/tailscale"`

	// Announcement options
	AnnounceMinIntervalSeconds int `env:"ENERGYGUARD_ANNOUNCE_MIN_INTERVAL,default=3"`

	// Logging options
	LogLevel  string `env:"ENERGYGUARD_LOG_LEVEL,default=info"`
	LogFormat string `env:"ENERGYGUARD_LOG_FORMAT,default=json"`

	// Home layout configuration file and persistent data directory
	HomeConfigPath string `env:"ENERGYGUARD_HOME_CONFIG,default=./home.hujson"`
	DataDir        string `env:"ENERGYGUARD_DATA_DIR,default=./data"`

	webAddr  netip.AddrPort
	mqttAddr netip.AddrPort
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate ensures basic correctness of the configuration.
func (c *Config) Validate() error {
	if err := c.parseListenerAddrs(); err != nil {
		return err
	}
	if c.HomeConfigPath == "" {
		return fmt.Errorf("HomeConfigPath cannot be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("DataDir cannot be empty")
	}
	if err := validateLogLevel(c.LogLevel); err != nil {
		return err
	}
	if err := validateLogFormat(c.LogFormat); err != nil {
		return err
	}
	if c.AnnounceMinIntervalSeconds < 1 {
		return fmt.Errorf("announce min interval must be at least 1 second, got %d", c.AnnounceMinIntervalSeconds)
	}
	if c.TailscaleHostname != "" && c.TailscaleStateDir == "" {
		return fmt.Errorf("TailscaleStateDir cannot be empty when Tailscale is enabled")
	}
	return nil
}

func (c *Config) parseListenerAddrs() error {
	if c.WebBindAddress == "" {
		c.WebBindAddress = defaultBindAddress
	}
	if c.WebPort == 0 && !envVarSet("ENERGYGUARD_WEB_PORT") {
		c.WebPort = defaultWebPort
	}
	if err := validatePortRange("web", c.WebPort); err != nil {
		return err
	}
	webAddr := c.WebAddr
	if webAddr == "" {
		webAddr = fmt.Sprintf("%s:%d", c.WebBindAddress, c.WebPort)
	}
	parsedWeb, err := netip.ParseAddrPort(webAddr)
	if err != nil {
		return fmt.Errorf("invalid web addr %q: %w", webAddr, err)
	}
	c.webAddr = parsedWeb

	if c.MQTTBindAddress == "" {
		c.MQTTBindAddress = defaultBindAddress
	}
	if c.MQTTPort == 0 && !envVarSet("ENERGYGUARD_MQTT_PORT") {
		c.MQTTPort = defaultMQTTPort
	}
	if err := validatePortRange("MQTT", c.MQTTPort); err != nil {
		return err
	}
	mqttAddr := c.MQTTAddr
	if mqttAddr == "" {
		mqttAddr = fmt.Sprintf("%s:%d", c.MQTTBindAddress, c.MQTTPort)
	}
	parsedMQTT, err := netip.ParseAddrPort(mqttAddr)
	if err != nil {
		return fmt.Errorf("invalid MQTT addr %q: %w", mqttAddr, err)
	}
	c.mqttAddr = parsedMQTT

	return nil
}

// AnnounceMinInterval returns the minimum gap between announcements on
// one player.
func (c *Config) AnnounceMinInterval() time.Duration {
	return time.Duration(c.AnnounceMinIntervalSeconds) * time.Second
}

// WebAddrPort returns the parsed web listener address.
func (c *Config) WebAddrPort() netip.AddrPort {
	c.ensureParsed()
	return c.webAddr
}

// MQTTAddrPort returns the parsed MQTT listener address.
func (c *Config) MQTTAddrPort() netip.AddrPort {
	c.ensureParsed()
	return c.mqttAddr
}

func (c *Config) ensureParsed() {
	if !c.webAddr.IsValid() || !c.mqttAddr.IsValid() {
		if err := c.parseListenerAddrs(); err != nil {
			panic(fmt.Sprintf("failed to parse listener addresses: %v", err))
		}
	}
}

// SetListenerAddrsForTesting overrides listener addresses in tests.
func (c *Config) SetListenerAddrsForTesting(web, mqtt string) {
	c.webAddr = netip.MustParseAddrPort(web)
	c.mqttAddr = netip.MustParseAddrPort(mqtt)
}

func validatePortRange(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s port must be between 1 and 65535, got %d", name, port)
	}
	return nil
}

func validateLogLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", level)
	}
}

func validateLogFormat(format string) error {
	switch format {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("invalid log format %q, must be 'json' or 'console'", format)
	}
}

func envVarSet(key string) bool {
	if key == "" {
		return false
	}
	_, ok := os.LookupEnv(key)
	return ok
}
