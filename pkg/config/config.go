package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort      string `env:"SERVER_PORT" envDefault:"8080"`
	FirebaseProject string `env:"FIREBASE_PROJECT_ID"`
	Environment     string `env:"ENVIRONMENT" envDefault:"development"`

	ServiceAccountJSON string `env:"FIREBASE_SERVICE_ACCOUNT_JSON"`
	ServiceAccountPath string `env:"FIREBASE_SERVICE_ACCOUNT_PATH" envDefault:"./firebase-adminsdk.json"`

	// "firestore" or "memory"
	StoreBackend string `env:"STORE_BACKEND" envDefault:"firestore"`

	Chat  ChatConfig  `envPrefix:"CHAT_"`
	Email EmailConfig `envPrefix:"EMAIL_"`
}

type ChatConfig struct {
	ResolveTimeout     time.Duration `env:"RESOLVE_TIMEOUT" envDefault:"8s"`
	DeliveredDelay     time.Duration `env:"DELIVERED_DELAY" envDefault:"500ms"`
	OrderSearchLimit   int           `env:"ORDER_SEARCH_LIMIT" envDefault:"10"`
	PartnerSearchLimit int           `env:"PARTNER_SEARCH_LIMIT" envDefault:"5"`
	SendRatePerMinute  int           `env:"SEND_RATE_PER_MINUTE" envDefault:"30"`
	SendBurst          int           `env:"SEND_BURST" envDefault:"10"`
	DefaultLocale      string        `env:"DEFAULT_LOCALE" envDefault:"en"`
}

type EmailConfig struct {
	RedisAddr string `env:"REDIS_ADDR"`
	Channel   string `env:"CHANNEL" envDefault:"order-status-emails"`
	QueueSize int    `env:"QUEUE_SIZE" envDefault:"256"`
}

func Load() (*Config, error) {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
