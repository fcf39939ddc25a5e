package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Booking   BookingConfig   `mapstructure:"booking"`
	OTP       OTPConfig       `mapstructure:"otp"`
	Session   SessionConfig   `mapstructure:"session"`
	Email     EmailConfig     `mapstructure:"email"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
	Security  SecurityConfig  `mapstructure:"security"`
}

type SecurityConfig struct {
	// EncryptionKey protects patient contact identities at rest.
	// Must decode to 16, 24, or 32 bytes.
	EncryptionKey string `mapstructure:"encryption_key"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL          string `mapstructure:"url"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type BookingConfig struct {
	// LockTTL bounds how long an abandoned reservation can hold a slot.
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
	DraftTTL time.Duration `mapstructure:"draft_ttl"`
	// SlotDuration is the default slot length for availability queries.
	SlotDuration time.Duration `mapstructure:"slot_duration"`
}

type OTPConfig struct {
	CodeLength      int           `mapstructure:"code_length"`
	CodeTTL         time.Duration `mapstructure:"code_ttl"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RateLimitMax    int           `mapstructure:"rate_limit_max"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
	Pepper          string        `mapstructure:"pepper"`
}

type SessionConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type DirectoryConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	Retention     time.Duration `mapstructure:"retention"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.OTP.CodeTTL > config.Booking.DraftTTL {
		return nil, fmt.Errorf("otp.code_ttl must not exceed booking.draft_ttl")
	}

	if config.Security.EncryptionKey == "" {
		return nil, fmt.Errorf("security.encryption_key is required")
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.request_timeout", 30*time.Second)
	viper.SetDefault("server.rate_limit_rps", 50)
	viper.SetDefault("server.rate_limit_burst", 100)

	viper.SetDefault("booking.lock_ttl", 10*time.Minute)
	viper.SetDefault("booking.draft_ttl", 10*time.Minute)
	viper.SetDefault("booking.slot_duration", 15*time.Minute)

	viper.SetDefault("otp.code_length", 6)
	viper.SetDefault("otp.code_ttl", 5*time.Minute)
	viper.SetDefault("otp.max_attempts", 3)
	viper.SetDefault("otp.rate_limit_max", 5)
	viper.SetDefault("otp.rate_limit_window", time.Hour)

	viper.SetDefault("session.ttl", 30*time.Minute)

	viper.SetDefault("directory.cache_ttl", 5*time.Minute)

	viper.SetDefault("outbox.batch_size", 100)
	viper.SetDefault("outbox.poll_interval", 5*time.Second)
	viper.SetDefault("outbox.retry_attempts", 3)
	viper.SetDefault("outbox.retry_delay", time.Second)
	viper.SetDefault("outbox.retention", 30*24*time.Hour)
}
