package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	BrokerMemory = "memory"
	BrokerAMQP   = "amqp"
)

type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // text | json
	} `mapstructure:"log"`

	Auth struct {
		JWTSecret     string `mapstructure:"jwt_secret"`
		IngressSecret string `mapstructure:"ingress_secret"`
	} `mapstructure:"auth"`

	Session struct {
		// IdleTimeout is the window without any inbound traffic (pings
		// included) after which a session is forcibly disconnected.
		IdleTimeout time.Duration `mapstructure:"idle_timeout"`
		SendBuffer  int           `mapstructure:"send_buffer"`
		SendTimeout time.Duration `mapstructure:"send_timeout"`
	} `mapstructure:"session"`

	LongPoll struct {
		Window     time.Duration `mapstructure:"window"`
		BatchLimit int           `mapstructure:"batch_limit"`
	} `mapstructure:"long_poll"`

	Broker struct {
		Backend        string `mapstructure:"backend"` // memory | amqp
		AMQPURL        string `mapstructure:"amqp_url"`
		PublishRetries int    `mapstructure:"publish_retries"`
	} `mapstructure:"broker"`

	Ingress struct {
		// AMQPEnabled turns on the per-node bus listeners that feed
		// externally-originated events into the core. Only valid with the
		// memory broker backend; with the amqp backend the bus already
		// reaches every node and the listeners would double-deliver.
		AMQPEnabled bool   `mapstructure:"amqp_enabled"`
		AMQPURL     string `mapstructure:"amqp_url"`
	} `mapstructure:"ingress"`

	Store struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"store"`

	Unread struct {
		CacheSize int `mapstructure:"cache_size"`
	} `mapstructure:"unread"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8085")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("session.idle_timeout", time.Minute)
	v.SetDefault("session.send_buffer", 256)
	v.SetDefault("session.send_timeout", 500*time.Millisecond)
	v.SetDefault("long_poll.window", 30*time.Second)
	v.SetDefault("long_poll.batch_limit", 16)
	v.SetDefault("broker.backend", BrokerMemory)
	v.SetDefault("broker.publish_retries", 5)
	v.SetDefault("store.dsn", "./delivery.db")
	v.SetDefault("unread.cache_size", 10000)
}

// LoadConfig reads the optional config file (path may be empty), layers
// MDS_-prefixed environment variables on top, and validates the result.
// File changes are watched and logged; applying them requires a restart.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MDS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		v.OnConfigChange(func(e fsnotify.Event) {
			slog.Info("config file changed", "file", e.Name, "op", e.Op.String())
		})
		v.WatchConfig()
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("config: auth.jwt_secret is required")
	}
	switch c.Broker.Backend {
	case BrokerMemory:
	case BrokerAMQP:
		if c.Broker.AMQPURL == "" {
			return errors.New("config: broker.amqp_url is required for the amqp backend")
		}
		if c.Ingress.AMQPEnabled {
			return errors.New("config: ingress.amqp_enabled cannot be combined with the amqp broker backend (events would be delivered twice)")
		}
	default:
		return fmt.Errorf("config: unknown broker.backend %q", c.Broker.Backend)
	}
	if c.Ingress.AMQPEnabled && c.Ingress.AMQPURL == "" {
		return errors.New("config: ingress.amqp_url is required when ingress.amqp_enabled is set")
	}
	if c.Session.IdleTimeout <= 0 {
		return errors.New("config: session.idle_timeout must be positive")
	}
	if c.Session.SendBuffer <= 0 {
		return errors.New("config: session.send_buffer must be positive")
	}
	if c.LongPoll.Window <= 0 {
		return errors.New("config: long_poll.window must be positive")
	}
	if c.LongPoll.BatchLimit <= 0 {
		return errors.New("config: long_poll.batch_limit must be positive")
	}
	if c.Unread.CacheSize <= 0 {
		return errors.New("config: unread.cache_size must be positive")
	}
	return nil
}
