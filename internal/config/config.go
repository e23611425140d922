// Package config provides configuration types, defaults and persistence for
// collabctl.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/collabkit/channels"
	"github.com/collabkit/channels/pkg/protocol"
	"github.com/collabkit/channels/pkg/relay"
	"github.com/collabkit/channels/pkg/tracing"
)

// EnvPrefix prefixes environment overrides, e.g. COLLAB_RELAY_ADDR.
const EnvPrefix = "COLLAB"

type Config struct {
	// Codec is the wire encoding shared by the relay and its clients:
	// "cbor" or "json".
	Codec   string         `mapstructure:"codec" yaml:"codec"`
	Log     LogConfig      `mapstructure:"log" yaml:"log"`
	Relay   RelayConfig    `mapstructure:"relay" yaml:"relay"`
	Client  ClientConfig   `mapstructure:"client" yaml:"client"`
	Tracing tracing.Config `mapstructure:"tracing" yaml:"tracing"`
}

type LogConfig struct {
	// Level is a zerolog level name: debug, info, warn or error.
	Level string `mapstructure:"level" yaml:"level"`
	// File appends logs to a file instead of stdout when set.
	File string `mapstructure:"file" yaml:"file"`
}

type RelayConfig struct {
	Addr             string `mapstructure:"addr" yaml:"addr"`
	CompactThreshold int    `mapstructure:"compact_threshold" yaml:"compact_threshold"`
	// Tokens lists the join tokens accepted by the relay. Empty accepts any join.
	Tokens []string `mapstructure:"tokens" yaml:"tokens,omitempty"`
}

type ClientConfig struct {
	URL              string        `mapstructure:"url" yaml:"url"`
	Token            string        `mapstructure:"token" yaml:"token"`
	SettleTimeout    time.Duration `mapstructure:"settle_timeout" yaml:"settle_timeout"`
	DrainGracePeriod time.Duration `mapstructure:"drain_grace_period" yaml:"drain_grace_period"`
	// Interval is the pause between migrations in the follow command.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

func Defaults() Config {
	return Config{
		Codec: "cbor",
		Log:   LogConfig{Level: "info"},
		Relay: RelayConfig{
			Addr:             "127.0.0.1:8765",
			CompactThreshold: relay.DefaultCompactThreshold,
		},
		Client: ClientConfig{
			URL:              "ws://127.0.0.1:8765/ws",
			SettleTimeout:    channels.DefaultSettleTimeout,
			DrainGracePeriod: channels.DefaultDrainGracePeriod,
			Interval:         5 * time.Second,
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// SetDefaults registers every key with its default so that environment
// variables can override keys missing from the config file.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("codec", d.Codec)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("relay.addr", d.Relay.Addr)
	v.SetDefault("relay.compact_threshold", d.Relay.CompactThreshold)
	v.SetDefault("client.url", d.Client.URL)
	v.SetDefault("client.token", d.Client.Token)
	v.SetDefault("client.settle_timeout", d.Client.SettleTimeout)
	v.SetDefault("client.drain_grace_period", d.Client.DrainGracePeriod)
	v.SetDefault("client.interval", d.Client.Interval)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Load reads configuration into v from path, or from the default lookup
// locations when path is empty, applies environment overrides and decodes
// the result. A missing config file is not an error.
func Load(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		// Config lookup order:
		// 1. ./collabctl.yaml
		// 2. ~/.config/collabctl/config.yaml
		if _, err := os.Stat("collabctl.yaml"); err == nil {
			v.SetConfigFile("collabctl.yaml")
		} else {
			home, _ := os.UserHomeDir()
			v.AddConfigPath(filepath.Join(home, ".config", "collabctl"))
			v.SetConfigName("config")
			v.SetConfigType("yaml")
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := c.ProtocolCodec(); err != nil {
		return err
	}
	if c.Client.SettleTimeout <= 0 {
		return fmt.Errorf("client.settle_timeout must be positive, got %s", c.Client.SettleTimeout)
	}
	if c.Client.DrainGracePeriod <= 0 {
		return fmt.Errorf("client.drain_grace_period must be positive, got %s", c.Client.DrainGracePeriod)
	}
	if c.Client.Interval <= 0 {
		return fmt.Errorf("client.interval must be positive, got %s", c.Client.Interval)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1], got %v", c.Tracing.SampleRate)
	}
	return nil
}

// ProtocolCodec maps Codec to a protocol codec.
func (c Config) ProtocolCodec() (protocol.Codec, error) {
	switch strings.ToLower(c.Codec) {
	case "", "cbor":
		return protocol.Default, nil
	case "json":
		return protocol.JSON, nil
	default:
		return protocol.Codec{}, fmt.Errorf("codec must be cbor or json, got %q", c.Codec)
	}
}

// WriteDefault writes the default configuration to path as YAML, creating
// parent directories as needed.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(Defaults())
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
