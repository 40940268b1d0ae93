package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm/logger"
)

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// GetDSN returns the PostgreSQL connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	Env             string
	FrontendURL     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    float64
	RateLimitBurst  int
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret    string
	ExpiresIn time.Duration
}

// AuthConfig holds password and reset-token settings
type AuthConfig struct {
	BcryptCost         int
	ResetTokenTTL      time.Duration
	ResetSweepSchedule string
}

// StoreConfig selects the persistence backends
type StoreConfig struct {
	Driver     string // memory | postgres
	TokenCache string // "" | redis
	RedisURL   string
}

// SMTPConfig holds outbound mail configuration
type SMTPConfig struct {
	Host        string
	Port        int
	Secure      bool
	User        string
	Pass        string
	FromName    string
	FromAddress string
	Timeout     time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// Config holds all configuration
type Config struct {
	ServiceName string
	DB          DBConfig
	Server      ServerConfig
	JWT         JWTConfig
	Auth        AuthConfig
	Store       StoreConfig
	SMTP        SMTPConfig
	Log         LogConfig
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	CacheRedis     = "redis"

	DefaultPort = "3001"
)

// placeholderCredentials are values shipped in sample .env files.
var placeholderCredentials = []string{
	"your-email@gmail.com",
	"your-email@example.com",
	"your-app-password",
	"your-smtp-password",
	"changeme",
	"placeholder",
}

// Load loads configuration from an optional .env file and environment variables
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	jwtExpiry, err := parseDuration(getEnv("JWT_EXPIRES_IN", "7d"))
	if err != nil {
		return nil, fmt.Errorf("JWT_EXPIRES_IN: %w", err)
	}

	config := &Config{
		ServiceName: "crm-auth-service",
		DB: DBConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "password"),
			DBName:          getEnv("DB_NAME", "crm"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 1*time.Hour),
			LogLevel:        getEnvAsLogLevel("DB_LOG_LEVEL", logger.Warn),
		},
		Server: ServerConfig{
			Port:            getEnv("PORT", DefaultPort),
			Env:             getEnv("APP_ENV", "development"),
			FrontendURL:     strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:5173"), "/"),
			ReadTimeout:     getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			RateLimitRPS:    getEnvAsFloat("RATE_LIMIT_RPS", 5),
			RateLimitBurst:  getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		JWT: JWTConfig{
			Secret:    getEnv("JWT_SECRET", "crm-dev-secret"),
			ExpiresIn: jwtExpiry,
		},
		Auth: AuthConfig{
			BcryptCost:         clampCost(getEnvAsInt("BCRYPT_COST", bcrypt.DefaultCost)),
			ResetTokenTTL:      getEnvAsDuration("RESET_TOKEN_TTL", time.Hour),
			ResetSweepSchedule: getEnv("RESET_TOKEN_SWEEP_SCHEDULE", "@every 10m"),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(getEnv("STORE_DRIVER", DriverMemory)),
			TokenCache: strings.ToLower(getEnv("TOKEN_CACHE", "")),
			RedisURL:   getEnv("REDIS_URL", "redis://localhost:6379/0"),
		},
		SMTP: SMTPConfig{
			Host:        getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:        getEnvAsInt("SMTP_PORT", 587),
			Secure:      getEnvAsBool("SMTP_SECURE", false),
			User:        getEnv("SMTP_USER", ""),
			Pass:        getEnv("SMTP_PASS", ""),
			FromName:    getEnv("EMAIL_FROM_NAME", "CRM"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
			Timeout:     getEnvAsDuration("MAIL_TIMEOUT", 15*time.Second),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if config.Store.Driver != DriverMemory && config.Store.Driver != DriverPostgres {
		return nil, fmt.Errorf("STORE_DRIVER: unsupported driver %q", config.Store.Driver)
	}
	if config.SMTP.FromAddress == "" {
		config.SMTP.FromAddress = config.SMTP.User
	}

	return config, nil
}

// EmailConfigured reports whether SMTP credentials look like real values.
func (c *SMTPConfig) EmailConfigured() bool {
	if c.Host == "" || c.User == "" || c.Pass == "" {
		return false
	}
	for _, p := range placeholderCredentials {
		if strings.EqualFold(c.User, p) || strings.EqualFold(c.Pass, p) {
			return false
		}
	}
	return true
}

// LogConfig returns the configuration as a zap logger-friendly format
func (c *Config) LogConfig() []zap.Field {
	fields := []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Server.Env),
		zap.String("server_port", c.Server.Port),
		zap.String("frontend_url", c.Server.FrontendURL),
		zap.String("store_driver", c.Store.Driver),
		zap.String("token_cache", c.Store.TokenCache),
		zap.Duration("jwt_expires_in", c.JWT.ExpiresIn),
		zap.Duration("reset_token_ttl", c.Auth.ResetTokenTTL),
		zap.Int("bcrypt_cost", c.Auth.BcryptCost),
		zap.Bool("email_configured", c.SMTP.EmailConfigured()),
	}
	if c.Store.Driver == DriverPostgres {
		fields = append(fields,
			zap.String("db_host", c.DB.Host),
			zap.String("db_port", c.DB.Port),
			zap.String("db_user", c.DB.User),
			zap.String("db_name", c.DB.DBName),
		)
	}
	return fields
}

// parseDuration accepts Go durations plus a day suffix ("7d").
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid day duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %q", s)
	}
	return d, nil
}

func clampCost(cost int) int {
	if cost < bcrypt.MinCost {
		return bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		return bcrypt.MaxCost
	}
	return cost
}

// Helper function to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as integers
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as durations
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := parseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as log levels
func getEnvAsLogLevel(key string, defaultValue logger.LogLevel) logger.LogLevel {
	valueStr := getEnv(key, "")
	switch valueStr {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return defaultValue
	}
}
