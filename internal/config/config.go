package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	API      APIConfig
	DynamoDB DynamoDBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	OTP      OTPConfig
	Metrics  MetricsConfig
	Device   DeviceConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// APIConfig points at the remote backend that issues and verifies codes.
type APIConfig struct {
	BaseURL string
	Timeout time.Duration
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
	SecretKey string
}

type OTPConfig struct {
	Length          int
	ResendCooldown  time.Duration
	Expiry          time.Duration
	AutoSubmitDelay time.Duration
	TickInterval    time.Duration
}

type MetricsConfig struct {
	CatalogPath  string
	ChartWidth   float64
	ChartHeight  float64
	HistoryLimit int
}

type DeviceConfig struct {
	ID string
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		},
		API: APIConfig{
			BaseURL: strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:3000/api"), "/"),
			Timeout: getEnvAsDuration("API_TIMEOUT", 15*time.Second),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "HealthTrackTable"),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", ""),
		},
		OTP: OTPConfig{
			Length:          getEnvAsInt("OTP_LENGTH", 6),
			ResendCooldown:  getEnvAsDuration("OTP_RESEND_COOLDOWN", 60*time.Second),
			Expiry:          getEnvAsDuration("OTP_EXPIRY", 180*time.Second),
			AutoSubmitDelay: getEnvAsDuration("OTP_AUTO_SUBMIT_DELAY", 250*time.Millisecond),
			TickInterval:    getEnvAsDuration("OTP_TICK_INTERVAL", time.Second),
		},
		Metrics: MetricsConfig{
			CatalogPath:  getEnv("METRICS_CATALOG_PATH", ""),
			ChartWidth:   getEnvAsFloat("CHART_WIDTH", 340),
			ChartHeight:  getEnvAsFloat("CHART_HEIGHT", 200),
			HistoryLimit: getEnvAsInt("HISTORY_LIMIT", 500),
		},
		Device: DeviceConfig{
			ID: getEnv("DEVICE_ID", "default"),
		},
	}

	if cfg.OTP.Length != 6 {
		return nil, fmt.Errorf("OTP_LENGTH must be 6, got %d", cfg.OTP.Length)
	}

	if cfg.OTP.TickInterval <= 0 {
		return nil, fmt.Errorf("OTP_TICK_INTERVAL must be positive")
	}

	return cfg, nil
}

// RequireServerSecret checks the settings only the metrics server needs.
func (c *Config) RequireServerSecret() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	return nil
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil && f > 0 {
			return f
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
