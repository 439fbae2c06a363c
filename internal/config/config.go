package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Services ServicesConfig `mapstructure:"services"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Channels ChannelsConfig `mapstructure:"channels"`
}

type ServerConfig struct {
	Port    string        `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RabbitMQConfig struct {
	URL         string `mapstructure:"url"`
	Exchange    string `mapstructure:"exchange"`
	EventsQueue string `mapstructure:"events_queue"`
	FailedQueue string `mapstructure:"failed_queue"`
	// routing keys bound to EventsQueue
	EventKeys []string `mapstructure:"event_keys"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ServicesConfig struct {
	UserServiceURL string `mapstructure:"user_service_url"`
	MockServices   bool   `mapstructure:"mock_services"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DeliveryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Concurrency  int           `mapstructure:"concurrency"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
}

// BatchPolicy paces bulk sends so providers' rate limits are respected.
type BatchPolicy struct {
	Size  int           `mapstructure:"batch_size"`
	Delay time.Duration `mapstructure:"batch_delay"`
}

type ChannelsConfig struct {
	Email    EmailConfig    `mapstructure:"email"`
	SMS      SMSConfig      `mapstructure:"sms"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	Push     PushConfig     `mapstructure:"push"`
	InApp    InAppConfig    `mapstructure:"in_app"`
}

type EmailConfig struct {
	Provider     string `mapstructure:"provider"`
	APIKey       string `mapstructure:"api_key"`
	AccountToken string `mapstructure:"account_token"`
	From         string `mapstructure:"from"`

	BatchPolicy `mapstructure:",squash"`
}

type SMSConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	SenderID string `mapstructure:"sender_id"`

	BatchPolicy `mapstructure:",squash"`
}

type WhatsAppConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	Token         string `mapstructure:"token"`
	PhoneNumberID string `mapstructure:"phone_number_id"`

	BatchPolicy `mapstructure:",squash"`
}

type PushConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	ServerKey string `mapstructure:"server_key"`

	BatchPolicy `mapstructure:",squash"`
}

type InAppConfig struct {
	Enabled      bool  `mapstructure:"enabled"`
	HistoryLimit int64 `mapstructure:"history_limit"`

	BatchPolicy `mapstructure:",squash"`
}

// LoadConfig reads path when given, otherwise config.yaml from . or ./config.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	// Read from environment, e.g. NOTIFYHUB_REDIS_ADDR
	v.SetEnvPrefix("notifyhub")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Config file not found, use environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "notifications.direct")
	v.SetDefault("rabbitmq.events_queue", "notifications.events")
	v.SetDefault("rabbitmq.failed_queue", "notifications.failed")
	v.SetDefault("rabbitmq.event_keys", []string{"document", "billing", "security"})

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "domain-events")
	v.SetDefault("kafka.group_id", "notifyhub")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("services.user_service_url", "http://localhost:8081")
	v.SetDefault("services.mock_services", false)
	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("delivery.max_attempts", 3)
	v.SetDefault("delivery.backoff_base", "60s")
	v.SetDefault("delivery.poll_interval", "1s")
	v.SetDefault("delivery.concurrency", 4)
	v.SetDefault("delivery.lock_ttl", "5m")

	v.SetDefault("channels.email.provider", "resend")
	v.SetDefault("channels.email.api_key", "")
	v.SetDefault("channels.email.account_token", "")
	v.SetDefault("channels.email.from", "")
	v.SetDefault("channels.email.batch_size", 10)
	v.SetDefault("channels.email.batch_delay", "0s")

	v.SetDefault("channels.sms.base_url", "")
	v.SetDefault("channels.sms.api_key", "")
	v.SetDefault("channels.sms.sender_id", "")
	v.SetDefault("channels.sms.batch_size", 5)
	v.SetDefault("channels.sms.batch_delay", "100ms")

	v.SetDefault("channels.whatsapp.base_url", "https://graph.facebook.com/v19.0")
	v.SetDefault("channels.whatsapp.token", "")
	v.SetDefault("channels.whatsapp.phone_number_id", "")
	v.SetDefault("channels.whatsapp.batch_size", 3)
	v.SetDefault("channels.whatsapp.batch_delay", "200ms")

	v.SetDefault("channels.push.base_url", "")
	v.SetDefault("channels.push.server_key", "")
	v.SetDefault("channels.push.batch_size", 10)
	v.SetDefault("channels.push.batch_delay", "0s")

	v.SetDefault("channels.in_app.enabled", true)
	v.SetDefault("channels.in_app.history_limit", 200)
	v.SetDefault("channels.in_app.batch_size", 50)
	v.SetDefault("channels.in_app.batch_delay", "0s")
}
