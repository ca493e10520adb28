/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables and an optional
 * .env file, providing a single Config struct to every entry point.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 * - time/tzdata: Embedded zone database so TIMEZONE resolves in minimal images.
 */

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all the configuration variables for the certification service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                string        `mapstructure:"SERVER_PORT"`
	DatabaseURL               string        `mapstructure:"DATABASE_URL"`
	StoreDriver               string        `mapstructure:"STORE_DRIVER"`
	RedisURL                  string        `mapstructure:"REDIS_URL"`
	RedisKeyPrefix            string        `mapstructure:"REDIS_KEY_PREFIX"`
	RabbitMQURL               string        `mapstructure:"RABBITMQ_URL"`
	JWTSecret                 string        `mapstructure:"JWT_SECRET"`
	TrustUserIDHeader         bool          `mapstructure:"TRUST_USER_ID_HEADER"`
	InternalAPIKey            string        `mapstructure:"INTERNAL_API_KEY"`
	Timezone                  string        `mapstructure:"TIMEZONE"`
	PenaltyJobSchedule        string        `mapstructure:"PENALTY_JOB_SCHEDULE"`
	SweepCommunityTimeout     time.Duration `mapstructure:"SWEEP_COMMUNITY_TIMEOUT"`
	SweepConcurrency          int           `mapstructure:"SWEEP_CONCURRENCY"`
	SweepLockTTL              time.Duration `mapstructure:"SWEEP_LOCK_TTL"`
	CertifyRateLimitPerMinute int           `mapstructure:"CERTIFY_RATE_LIMIT_PER_MINUTE"`
	CORSAllowedOrigins        []string      `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel                  string        `mapstructure:"LOG_LEVEL"`

	// Location is Timezone resolved by LoadConfig.
	Location *time.Location `mapstructure:"-"`
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
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
	viper.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	viper.SetDefault("REDIS_KEY_PREFIX", "certd")
	viper.SetDefault("TRUST_USER_ID_HEADER", false)
	viper.SetDefault("TIMEZONE", "Asia/Seoul")
	viper.SetDefault("PENALTY_JOB_SCHEDULE", "1 0 * * *")
	viper.SetDefault("SWEEP_COMMUNITY_TIMEOUT", "30s")
	viper.SetDefault("SWEEP_CONCURRENCY", 4)
	viper.SetDefault("SWEEP_LOCK_TTL", "10m")
	viper.SetDefault("CERTIFY_RATE_LIMIT_PER_MINUTE", 20)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", []string{"*"})
	viper.SetDefault("LOG_LEVEL", "info")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("STORE_DRIVER")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_KEY_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWT_SECRET", "JWT_SECRET", "DJANGO_SECRET_KEY")
	_ = viper.BindEnv("TRUST_USER_ID_HEADER")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("TIMEZONE", "TIMEZONE", "TZ")
	_ = viper.BindEnv("PENALTY_JOB_SCHEDULE")
	_ = viper.BindEnv("SWEEP_COMMUNITY_TIMEOUT")
	_ = viper.BindEnv("SWEEP_CONCURRENCY")
	_ = viper.BindEnv("SWEEP_LOCK_TTL")
	_ = viper.BindEnv("CERTIFY_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("LOG_LEVEL")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			err = fmt.Errorf("read config file: %w", err)
			return
		}
		err = nil
	}

	// Unmarshal the configuration into the Config struct.
	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.JWTSecret = strings.TrimSpace(config.JWTSecret)
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	config.RedisKeyPrefix = strings.TrimSpace(config.RedisKeyPrefix)
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = "certd"
	}
	config.CORSAllowedOrigins = splitList(config.CORSAllowedOrigins)

	if config.SweepConcurrency <= 0 {
		config.SweepConcurrency = 4
	}
	if config.SweepCommunityTimeout <= 0 {
		config.SweepCommunityTimeout = 30 * time.Second
	}
	if config.SweepLockTTL <= 0 {
		config.SweepLockTTL = 10 * time.Minute
	}
	if config.CertifyRateLimitPerMinute < 0 {
		config.CertifyRateLimitPerMinute = 0
	}

	config.Location, err = time.LoadLocation(strings.TrimSpace(config.Timezone))
	if err != nil {
		err = fmt.Errorf("%w: TIMEZONE %q: %v", ErrInvalidConfig, config.Timezone, err)
		return
	}

	switch config.StoreDriver {
	case StoreDriverPostgres:
		if config.DatabaseURL == "" {
			err = fmt.Errorf("%w: DATABASE_URL is required for the postgres store", ErrInvalidConfig)
			return
		}
	case StoreDriverMemory:
	default:
		err = fmt.Errorf("%w: unknown STORE_DRIVER %q", ErrInvalidConfig, config.StoreDriver)
		return
	}

	return
}

// ValidateForServe checks the settings only the HTTP server needs.
func (c Config) ValidateForServe() error {
	if c.JWTSecret == "" && !c.TrustUserIDHeader {
		return fmt.Errorf("%w: JWT_SECRET is required unless TRUST_USER_ID_HEADER is enabled", ErrInvalidConfig)
	}
	return nil
}

// splitList flattens comma separated entries and drops blanks.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
