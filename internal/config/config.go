package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN         string `env:"DATABASE_DSN,required=true"`
	RedisURL            string `env:"REDIS_URL,required=true"`
	RabbitMQURL         string `env:"RABBITMQ_URL,required=true"`
	WhatsAppAPIURL      string `env:"WHATSAPP_API_URL,required=true"`
	WhatsAppAPIToken    string `env:"WHATSAPP_API_TOKEN"`
	VolunteerWebhookURL string `env:"VOLUNTEER_WEBHOOK_URL,required=true"`
	ClassifierURL       string `env:"CLASSIFIER_URL"`
	PollIntervalSec     int    `env:"FOLLOWUP_POLL_INTERVAL_SEC,default=30"`
	RateLimitPerSec     int    `env:"RATE_LIMIT_PER_SEC,default=20"`
	WorkerConcurrency   int    `env:"WORKER_CONCURRENCY,default=8"`
	APIPort             int    `env:"API_PORT,default=8080"`
	LogLevel            string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// PollInterval returns the followup poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	if c == nil || c.PollIntervalSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.PollIntervalSec) * time.Second
}
