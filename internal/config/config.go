package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppConfig struct {
	Name            string `mapstructure:"name"`
	Env             string `mapstructure:"env"`
	Port            int    `mapstructure:"port"`
	ShutdownSeconds int    `mapstructure:"shutdown_seconds"`
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min"`
}

func (a AppConfig) PortString() string { return fmt.Sprintf("%d", a.Port) }

func (a AppConfig) Development() bool { return a.Env == "development" }

type StoreConfig struct {
	// Driver is mongo, pebble or memory.
	Driver string `mapstructure:"driver"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type PebbleConfig struct {
	Path string `mapstructure:"path"`
}

type OrdersConfig struct {
	// Source is mongo (orders collection) or http (order service).
	Source         string `mapstructure:"source"`
	Collection     string `mapstructure:"collection"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Brokers       []string `mapstructure:"brokers"`
	TopicEvents   string   `mapstructure:"topic_events"`
	TopicCommands string   `mapstructure:"topic_commands"`
	GroupID       string   `mapstructure:"group_id"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type RealtimeConfig struct {
	// Bus is redis, nats or none.
	Bus                string `mapstructure:"bus"`
	Channel            string `mapstructure:"channel"`
	LoadTimeoutSeconds int    `mapstructure:"load_timeout_seconds"`
}

type WSConfig struct {
	PingIntervalSeconds  int   `mapstructure:"ping_interval_seconds"`
	WriteDeadlineSeconds int   `mapstructure:"write_deadline_seconds"`
	MaxMessageSizeBytes  int64 `mapstructure:"max_message_size_bytes"`
	FramesPerSecond      int   `mapstructure:"frames_per_second"`
}

type AttachmentsConfig struct {
	MaxBytes           int64    `mapstructure:"max_bytes"`
	AllowedTypes       []string `mapstructure:"allowed_types"`
	ThumbnailWidth     int      `mapstructure:"thumbnail_width"`
	MaxThumbnailPixels int64    `mapstructure:"max_thumbnail_pixels"`
}

type AWSConfig struct {
	Region        string `mapstructure:"region"`
	Bucket        string `mapstructure:"bucket"`
	Endpoint      string `mapstructure:"endpoint"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type JWTConfig struct {
	Alg           string `mapstructure:"alg"`
	PublicKeyPath string `mapstructure:"public_key_path"`
	HSSecret      string `mapstructure:"hs_secret"`
}

type ProfilesConfig struct {
	BaseURL                string `mapstructure:"base_url"`
	TimeoutSeconds         int    `mapstructure:"timeout_seconds"`
	RetryMaxElapsedSeconds int    `mapstructure:"retry_max_elapsed_seconds"`
	CacheTTLSeconds        int    `mapstructure:"cache_ttl_seconds"`
}

type ConsulConfig struct {
	Addr           string `mapstructure:"addr"`
	ServiceAddress string `mapstructure:"service_address"`
}

type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Store       StoreConfig       `mapstructure:"store"`
	Mongo       MongoConfig       `mapstructure:"mongo"`
	Pebble      PebbleConfig      `mapstructure:"pebble"`
	Orders      OrdersConfig      `mapstructure:"orders"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Realtime    RealtimeConfig    `mapstructure:"realtime"`
	WS          WSConfig          `mapstructure:"ws"`
	Attachments AttachmentsConfig `mapstructure:"attachments"`
	AWS         AWSConfig         `mapstructure:"aws"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	Profiles    ProfilesConfig    `mapstructure:"profiles"`
	Consul      ConsulConfig      `mapstructure:"consul"`

	// derived
	ShutdownTimeout  time.Duration
	OrdersTimeout    time.Duration
	SnapshotTimeout  time.Duration
	PingInterval     time.Duration
	WriteDeadline    time.Duration
	ProfilesTimeout  time.Duration
	ProfilesRetryMax time.Duration
	ProfilesCacheTTL time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "order-messaging")
	v.SetDefault("app.env", "production")
	v.SetDefault("app.port", 8085)
	v.SetDefault("app.shutdown_seconds", 15)
	v.SetDefault("app.rate_limit_per_min", 120)

	v.SetDefault("store.driver", "mongo")
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "order_messaging")
	v.SetDefault("pebble.path", "data/messages")

	v.SetDefault("orders.source", "mongo")
	v.SetDefault("orders.collection", "orders")
	v.SetDefault("orders.base_url", "")
	v.SetDefault("orders.timeout_seconds", 3)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_events", "order-messaging.events")
	v.SetDefault("kafka.topic_commands", "order-messaging.commands")
	v.SetDefault("kafka.group_id", "order-messaging")

	v.SetDefault("nats.url", "")

	v.SetDefault("realtime.bus", "none")
	v.SetDefault("realtime.channel", "order-messaging.conversations")
	v.SetDefault("realtime.load_timeout_seconds", 5)

	v.SetDefault("ws.ping_interval_seconds", 25)
	v.SetDefault("ws.write_deadline_seconds", 10)
	v.SetDefault("ws.max_message_size_bytes", 4096)
	v.SetDefault("ws.frames_per_second", 5)

	v.SetDefault("attachments.max_bytes", 10<<20)
	v.SetDefault("attachments.allowed_types", []string{})
	v.SetDefault("attachments.thumbnail_width", 320)
	v.SetDefault("attachments.max_thumbnail_pixels", 50_000_000)

	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.bucket", "")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.public_base_url", "")

	v.SetDefault("jwt.alg", "RS256")
	v.SetDefault("jwt.public_key_path", "")
	v.SetDefault("jwt.hs_secret", "")

	v.SetDefault("profiles.base_url", "")
	v.SetDefault("profiles.timeout_seconds", 2)
	v.SetDefault("profiles.retry_max_elapsed_seconds", 3)
	v.SetDefault("profiles.cache_ttl_seconds", 300)

	v.SetDefault("consul.addr", "")
	v.SetDefault("consul.service_address", "")
}

// Load reads .env, then the YAML file at path when it exists, then env vars.
// Env names are the keys upper-cased with dots turned into underscores
// (MONGO_URI, KAFKA_BROKERS, AWS_BUCKET, ...).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.derive()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (c *Config) derive() {
	c.Store.Driver = strings.ToLower(c.Store.Driver)
	c.Orders.Source = strings.ToLower(c.Orders.Source)
	c.Realtime.Bus = strings.ToLower(c.Realtime.Bus)
	c.JWT.Alg = strings.ToUpper(c.JWT.Alg)

	c.ShutdownTimeout = seconds(c.App.ShutdownSeconds)
	c.OrdersTimeout = seconds(c.Orders.TimeoutSeconds)
	c.SnapshotTimeout = seconds(c.Realtime.LoadTimeoutSeconds)
	c.PingInterval = seconds(c.WS.PingIntervalSeconds)
	c.WriteDeadline = seconds(c.WS.WriteDeadlineSeconds)
	c.ProfilesTimeout = seconds(c.Profiles.TimeoutSeconds)
	c.ProfilesRetryMax = seconds(c.Profiles.RetryMaxElapsedSeconds)
	c.ProfilesCacheTTL = seconds(c.Profiles.CacheTTLSeconds)
}

func (c *Config) validate() error {
	if c.App.Port <= 0 {
		return errors.New("app.port missing or invalid")
	}

	switch c.Store.Driver {
	case "mongo":
		if c.Mongo.URI == "" {
			return errors.New("mongo.uri required for store.driver mongo")
		}
	case "pebble":
		if c.Pebble.Path == "" {
			return errors.New("pebble.path required for store.driver pebble")
		}
	case "memory":
	default:
		return errors.New("invalid store.driver (use mongo, pebble or memory)")
	}

	switch c.Orders.Source {
	case "mongo":
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			return errors.New("mongo.uri and mongo.database required for orders.source mongo")
		}
	case "http":
		if c.Orders.BaseURL == "" {
			return errors.New("orders.base_url required for orders.source http")
		}
	default:
		return errors.New("invalid orders.source (use mongo or http)")
	}

	switch c.Realtime.Bus {
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis.addr required for realtime.bus redis")
		}
	case "nats":
		if c.NATS.URL == "" {
			return errors.New("nats.url required for realtime.bus nats")
		}
	case "none":
	default:
		return errors.New("invalid realtime.bus (use redis, nats or none)")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers missing")
		}
		if c.Kafka.TopicEvents == "" || c.Kafka.TopicCommands == "" {
			return errors.New("kafka topics missing")
		}
	}

	if c.AWS.Bucket == "" {
		return errors.New("aws.bucket missing")
	}
	if c.Attachments.MaxBytes <= 0 {
		return errors.New("attachments.max_bytes must be positive")
	}

	switch c.JWT.Alg {
	case "RS256":
		if c.JWT.PublicKeyPath == "" {
			return errors.New("jwt.public_key_path required for RS256")
		}
	case "HS256":
		if c.JWT.HSSecret == "" {
			return errors.New("jwt.hs_secret required for HS256")
		}
	default:
		return errors.New("invalid jwt.alg (use RS256 or HS256)")
	}
	return nil
}
