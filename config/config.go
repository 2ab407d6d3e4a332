// Package config loads the host driver configuration from defaults, an optional file and
// TESSEL_* environment variables, in increasing order of precedence.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"gotessel/host/channel"
	"gotessel/host/led"
)

// EnvPrefix prefixes every environment override, e.g. TESSEL_PORT_A_ENDPOINT.
const EnvPrefix = "TESSEL"

// Config is the full driver configuration.
type Config struct {
	PortA    channel.Config `mapstructure:"port_a"`
	PortB    channel.Config `mapstructure:"port_b"`
	LEDRoot  string         `mapstructure:"led_root"`
	LogLevel string         `mapstructure:"log_level"`
}

// Default returns the configuration of a stock board.
func Default() *Config {
	return &Config{
		PortA:    *channel.DefaultConfig(channel.PortAPath),
		PortB:    *channel.DefaultConfig(channel.PortBPath),
		LEDRoot:  led.DefaultRoot,
		LogLevel: "info",
	}
}

// Load reads path (any format viper understands; empty means no file) on top of the defaults
// and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields a board cannot start without.
func (c *Config) Validate() error {
	for name, p := range map[string]channel.Config{"port_a": c.PortA, "port_b": c.PortB} {
		if p.Endpoint == "" {
			return errors.Errorf("%s.endpoint is required", name)
		}
		switch p.Network {
		case channel.NetworkUnix, channel.NetworkSerial:
		default:
			return errors.Errorf("%s.network: unsupported network %q", name, p.Network)
		}
		if p.Network == channel.NetworkSerial && p.Baud <= 0 {
			return errors.Errorf("%s.baud must be positive", name)
		}
	}
	if c.LEDRoot == "" {
		return errors.New("led_root is required")
	}
	return nil
}

// Every key needs a default so AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	for prefix, p := range map[string]channel.Config{"port_a": d.PortA, "port_b": d.PortB} {
		v.SetDefault(prefix+".network", p.Network)
		v.SetDefault(prefix+".endpoint", p.Endpoint)
		v.SetDefault(prefix+".baud", p.Baud)
		v.SetDefault(prefix+".read_timeout", p.ReadTimeout)
	}
	v.SetDefault("led_root", d.LEDRoot)
	v.SetDefault("log_level", d.LogLevel)
}
