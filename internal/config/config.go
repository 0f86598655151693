/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payment-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	SettlementEventQueue string `mapstructure:"SETTLEMENT_EVENT_QUEUE"`
	InternalAPIKey       string `mapstructure:"INTERNAL_API_KEY"`

	MaxSplitRecipients         int `mapstructure:"MAX_SPLIT_RECIPIENTS"`
	PaymentMaxRetries          int `mapstructure:"PAYMENT_MAX_RETRIES"`
	RetryIntervalSeconds       int `mapstructure:"RETRY_INTERVAL_SECONDS"`
	InitiateRateLimitPerMinute int `mapstructure:"INITIATE_RATE_LIMIT_PER_MINUTE"`

	ExpirySweepSchedule       string `mapstructure:"EXPIRY_SWEEP_SCHEDULE"`
	RecurringDispatchSchedule string `mapstructure:"RECURRING_DISPATCH_SCHEDULE"`
	RetrySweepSchedule        string `mapstructure:"RETRY_SWEEP_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "payments:rate_limit")
	viper.SetDefault("SETTLEMENT_EVENT_QUEUE", "payment_service.settlement_updates")
	viper.SetDefault("MAX_SPLIT_RECIPIENTS", 10)
	viper.SetDefault("PAYMENT_MAX_RETRIES", 3)
	viper.SetDefault("RETRY_INTERVAL_SECONDS", 300)
	viper.SetDefault("INITIATE_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("EXPIRY_SWEEP_SCHEDULE", "@every 1m")
	viper.SetDefault("RECURRING_DISPATCH_SCHEDULE", "@every 5m")
	viper.SetDefault("RETRY_SWEEP_SCHEDULE", "@every 1m")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PAYMENT_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("SETTLEMENT_EVENT_QUEUE")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "PAYMENT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("MAX_SPLIT_RECIPIENTS")
	_ = viper.BindEnv("PAYMENT_MAX_RETRIES")
	_ = viper.BindEnv("RETRY_INTERVAL_SECONDS")
	_ = viper.BindEnv("INITIATE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("EXPIRY_SWEEP_SCHEDULE")
	_ = viper.BindEnv("RECURRING_DISPATCH_SCHEDULE")
	_ = viper.BindEnv("RETRY_SWEEP_SCHEDULE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("PAYMENT_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "payments:rate_limit"
	}

	if config.MaxSplitRecipients <= 0 {
		config.MaxSplitRecipients = 10
	}
	if config.PaymentMaxRetries < 0 {
		log.Printf("level=warn component=config msg=\"negative max retries configured; coercing to zero\" max_retries=%d", config.PaymentMaxRetries)
		config.PaymentMaxRetries = 0
	}
	if config.RetryIntervalSeconds <= 0 {
		config.RetryIntervalSeconds = 300
	}
	if config.InitiateRateLimitPerMinute <= 0 {
		config.InitiateRateLimitPerMinute = 30
	}
	if strings.TrimSpace(config.ExpirySweepSchedule) == "" {
		config.ExpirySweepSchedule = "@every 1m"
	}
	if strings.TrimSpace(config.RecurringDispatchSchedule) == "" {
		config.RecurringDispatchSchedule = "@every 5m"
	}
	if strings.TrimSpace(config.RetrySweepSchedule) == "" {
		config.RetrySweepSchedule = "@every 1m"
	}

	return
}
