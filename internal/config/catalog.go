package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	defaultHTTPAddr        = ":8080"
	defaultMongoDatabase   = "catalog"
	defaultImagesPath      = "uploads/images"
	defaultShutdownTimeout = 10 * time.Second

	defaultStreamDelay     = time.Second
	defaultStreamChunkSize = 2
	defaultStreamRepeat    = 5000

	defaultReadHeaderTimeout = 5 * time.Second
)

type Catalog struct {
	MongoURI      string
	MongoDatabase string
	RabbitMQURL   string
	HTTPAddr      string
	ImagesPath    string
	SeedDemo      bool

	StreamDelay     time.Duration
	StreamChunkSize int
	StreamRepeat    int

	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
}

func LoadCatalog() (Catalog, error) {
	cfg := Catalog{
		MongoURI:      getEnv("MONGO_URI", ""),
		MongoDatabase: getEnv("MONGO_DATABASE", defaultMongoDatabase),
		RabbitMQURL:   getEnv("RABBITMQ_URL", ""),
		HTTPAddr:      getEnv("HTTP_ADDR", defaultHTTPAddr),
		ImagesPath:    getEnv("IMAGES_PATH", defaultImagesPath),
		SeedDemo:      getEnvBool("SEED_DEMO", false),

		StreamDelay:     time.Duration(getEnvInt("STREAM_DELAY_MS", int(defaultStreamDelay/time.Millisecond))) * time.Millisecond,
		StreamChunkSize: getEnvInt("STREAM_CHUNK_SIZE", defaultStreamChunkSize),
		StreamRepeat:    getEnvInt("STREAM_REPEAT", defaultStreamRepeat),

		ShutdownTimeout:   defaultShutdownTimeout,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}

	if cfg.MongoURI == "" {
		return Catalog{}, fmt.Errorf("MONGO_URI is required")
	}
	if cfg.RabbitMQURL == "" {
		return Catalog{}, fmt.Errorf("RABBITMQ_URL is required")
	}
	if cfg.StreamChunkSize < 1 {
		return Catalog{}, fmt.Errorf("STREAM_CHUNK_SIZE must be positive")
	}
	if cfg.StreamRepeat < 1 {
		return Catalog{}, fmt.Errorf("STREAM_REPEAT must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
