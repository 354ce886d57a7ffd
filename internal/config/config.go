package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// Development fallbacks, matching the defaults the service shipped with.
	// Running with either of these is a security smell; Load logs a warning
	// whenever one of them is in effect.
	fallbackAccessSecret  = "fallback-access-secret-do-not-use-in-prod"
	fallbackRefreshSecret = "fallback-refresh-secret-do-not-use-in-prod"
)

type Config struct {
	Server   ServerConfig
	DynamoDB DynamoDBConfig
	Redis    RedisConfig
	JWT      JWTConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// UserStore selects the user repository backend: "dynamodb" or "memory".
	UserStore string
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

type JWTConfig struct {
	// AccessSecret and RefreshSecret are distinct on purpose: a leaked
	// access-signing key must not be usable to forge refresh tokens.
	AccessSecret  string
	RefreshSecret string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

func Load(logger *logrus.Logger) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "3001"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			UserStore:    getEnv("USER_STORE", "dynamodb"),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "AuthUsers"),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			AccessSecret:  getEnv("JWT_ACCESS_SECRET", fallbackAccessSecret),
			RefreshSecret: getEnv("JWT_REFRESH_SECRET", fallbackRefreshSecret),
			AccessExpiry:  getEnvAsDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
			RefreshExpiry: getEnvAsDuration("JWT_REFRESH_EXPIRY", 7*24*time.Hour),
		},
	}

	if cfg.JWT.AccessSecret == fallbackAccessSecret {
		logger.Warn("JWT_ACCESS_SECRET not set, using insecure fallback secret")
	}
	if cfg.JWT.RefreshSecret == fallbackRefreshSecret {
		logger.Warn("JWT_REFRESH_SECRET not set, using insecure fallback secret")
	}
	if cfg.JWT.AccessSecret == cfg.JWT.RefreshSecret {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	if cfg.Server.UserStore != "dynamodb" && cfg.Server.UserStore != "memory" {
		return nil, fmt.Errorf("unsupported USER_STORE %q", cfg.Server.UserStore)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
