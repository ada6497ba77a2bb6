package config

import (
	"fmt"
	"time"
)

type Observer struct {
	RabbitMQURL     string
	ShutdownTimeout time.Duration
}

func LoadObserver() (Observer, error) {
	cfg := Observer{
		RabbitMQURL:     getEnv("RABBITMQ_URL", ""),
		ShutdownTimeout: defaultShutdownTimeout,
	}

	if cfg.RabbitMQURL == "" {
		return Observer{}, fmt.Errorf("RABBITMQ_URL is required")
	}

	return cfg, nil
}
