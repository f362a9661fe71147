package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the board service.
type Config struct {
	LogLevel         string
	HTTPPort         string
	MetricsAddr      string
	RedisAddr        string
	PostgresDSN      string
	KafkaBrokers     string
	OTelEndpoint     string
	RenumberSchedule string
	RateLimit        int
	RateWindow       time.Duration
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:         v.GetString("log_level"),
		HTTPPort:         v.GetString("http_port"),
		MetricsAddr:      v.GetString("metrics_addr"),
		RedisAddr:        v.GetString("redis_addr"),
		PostgresDSN:      v.GetString("postgres_dsn"),
		KafkaBrokers:     v.GetString("kafka_brokers"),
		OTelEndpoint:     v.GetString("otel_endpoint"),
		RenumberSchedule: v.GetString("renumber_schedule"),
		RateLimit:        v.GetInt("rate_limit"),
		RateWindow:       v.GetDuration("rate_window"),
	}
}
