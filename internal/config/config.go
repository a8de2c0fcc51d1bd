/**
 * @description
 * This package handles the configuration management for the identity-service.
 * It uses the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings across deployments.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the identity-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`

	JWTAccessSecret   string `mapstructure:"JWT_SECRET"`
	JWTRefreshSecret  string `mapstructure:"JWT_REFRESH_SECRET"`
	AccessTokenTTLMin int    `mapstructure:"JWT_EXPIRES_IN_MINUTES"`
	RefreshTokenTTLD  int    `mapstructure:"JWT_REFRESH_EXPIRES_IN_DAYS"`

	BcryptCost             int    `mapstructure:"BCRYPT_COST"`
	MinPasswordLength      int    `mapstructure:"MIN_PASSWORD_LENGTH"`
	LockoutMaxAttempts     int    `mapstructure:"LOCKOUT_MAX_ATTEMPTS"`
	LockoutDurationMinutes int    `mapstructure:"LOCKOUT_DURATION_MINUTES"`
	OtpTTLMinutes          int    `mapstructure:"OTP_TTL_MINUTES"`
	SessionTTLDays         int    `mapstructure:"SESSION_TTL_DAYS"`
	MfaIssuer              string `mapstructure:"MFA_ISSUER"`
	MfaEnrollTTLMinutes    int    `mapstructure:"MFA_ENROLL_TTL_MINUTES"`

	LoginRateLimitPerMinute int `mapstructure:"LOGIN_RATE_LIMIT_PER_MINUTE"`
	OtpRateLimitPerMinute   int `mapstructure:"OTP_RATE_LIMIT_PER_MINUTE"`
}

// AccessTokenTTL returns the access token lifetime as a duration.
func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMin) * time.Minute
}

// RefreshTokenTTL returns the refresh token lifetime.
func (c Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLD) * 24 * time.Hour
}

// SessionTTL returns how long a session row stays live before it expires
// regardless of activity.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLDays) * 24 * time.Hour
}

// OtpTTL returns the one-time code lifetime.
func (c Config) OtpTTL() time.Duration {
	return time.Duration(c.OtpTTLMinutes) * time.Minute
}

// LockoutDuration returns how long an account stays locked.
func (c Config) LockoutDuration() time.Duration {
	return time.Duration(c.LockoutDurationMinutes) * time.Minute
}

// MfaEnrollTTL returns how long a pending MFA secret stays claimable.
func (c Config) MfaEnrollTTL() time.Duration {
	return time.Duration(c.MfaEnrollTTLMinutes) * time.Minute
}

// LoadConfig reads configuration from environment variables.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig() (config Config, err error) {
	viper.AddConfigPath(".")
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "voyago:rate_limit")
	viper.SetDefault("JWT_EXPIRES_IN_MINUTES", 15)
	viper.SetDefault("JWT_REFRESH_EXPIRES_IN_DAYS", 7)
	viper.SetDefault("BCRYPT_COST", 12)
	viper.SetDefault("MIN_PASSWORD_LENGTH", 12)
	viper.SetDefault("LOCKOUT_MAX_ATTEMPTS", 5)
	viper.SetDefault("LOCKOUT_DURATION_MINUTES", 30)
	viper.SetDefault("OTP_TTL_MINUTES", 10)
	viper.SetDefault("SESSION_TTL_DAYS", 7)
	viper.SetDefault("MFA_ISSUER", "Voyago")
	viper.SetDefault("MFA_ENROLL_TTL_MINUTES", 10)
	viper.SetDefault("LOGIN_RATE_LIMIT_PER_MINUTE", 20)
	viper.SetDefault("OTP_RATE_LIMIT_PER_MINUTE", 5)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("JWT_REFRESH_SECRET")
	_ = viper.BindEnv("JWT_EXPIRES_IN_MINUTES")
	_ = viper.BindEnv("JWT_REFRESH_EXPIRES_IN_DAYS")
	_ = viper.BindEnv("BCRYPT_COST")
	_ = viper.BindEnv("MIN_PASSWORD_LENGTH")
	_ = viper.BindEnv("LOCKOUT_MAX_ATTEMPTS")
	_ = viper.BindEnv("LOCKOUT_DURATION_MINUTES")
	_ = viper.BindEnv("OTP_TTL_MINUTES")
	_ = viper.BindEnv("SESSION_TTL_DAYS")
	_ = viper.BindEnv("MFA_ISSUER")
	_ = viper.BindEnv("MFA_ENROLL_TTL_MINUTES")
	_ = viper.BindEnv("LOGIN_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("OTP_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	// Platform-provided PORT (Railway/Render style) wins over SERVER_PORT.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	if strings.TrimSpace(config.JWTAccessSecret) == "" {
		return config, errors.New("JWT_SECRET is required")
	}
	if strings.TrimSpace(config.JWTRefreshSecret) == "" {
		return config, errors.New("JWT_REFRESH_SECRET is required")
	}
	if config.JWTAccessSecret == config.JWTRefreshSecret {
		return config, errors.New("JWT_SECRET and JWT_REFRESH_SECRET must differ")
	}

	if config.BcryptCost < 10 || config.BcryptCost > 16 {
		log.Printf("level=warn component=config msg=\"bcrypt cost out of range; using 12\" cost=%d", config.BcryptCost)
		config.BcryptCost = 12
	}
	if config.MinPasswordLength < 8 {
		config.MinPasswordLength = 8
	}
	if config.LockoutMaxAttempts <= 0 {
		config.LockoutMaxAttempts = 5
	}
	if config.LockoutDurationMinutes <= 0 {
		config.LockoutDurationMinutes = 30
	}
	if config.OtpTTLMinutes < 5 || config.OtpTTLMinutes > 10 {
		log.Printf("level=warn component=config msg=\"otp ttl outside 5-10 minute window; using 10\" minutes=%d", config.OtpTTLMinutes)
		config.OtpTTLMinutes = 10
	}
	if config.SessionTTLDays <= 0 {
		config.SessionTTLDays = 7
	}
	if config.AccessTokenTTLMin <= 0 {
		config.AccessTokenTTLMin = 15
	}
	if config.RefreshTokenTTLD <= 0 {
		config.RefreshTokenTTLD = 7
	}
	if config.MfaEnrollTTLMinutes <= 0 {
		config.MfaEnrollTTLMinutes = 10
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "voyago:rate_limit"
	}

	return
}
