package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	Auth       AuthConfig
	Encryption EncryptionConfig
	OTP        OTPConfig
	Session    SessionConfig
	SMS        SMSConfig
	Redis      RedisConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type AuthConfig struct {
	AccessTokenSecret   string
	RefreshTokenSecret  string
	AccessTokenExpiry   time.Duration
	RefreshTokenExpiry  time.Duration
	Issuer              string
	Audience            string
	EncryptTokenPayload bool
	LockoutThreshold    int
	LockoutWindow       time.Duration
	CleanupInterval     time.Duration
	AdminPhones         []string // E.164 numbers granted the admin role
}

type EncryptionConfig struct {
	PrimaryKey   string // base64, 32 bytes
	SecondaryKey string // base64, 32 bytes; optional
}

type OTPConfig struct {
	CodeLength  int
	Expiry      time.Duration
	MaxAttempts int
}

type SessionConfig struct {
	MaxPerAccount int
	Expiry        time.Duration
}

type SMSConfig struct {
	AWSRegion string
	SenderID  string
}

type RedisConfig struct {
	Addr     string // empty means in-process rate-limit counters
	Password string
	DB       int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	accessSecret := getEnv("ACCESS_TOKEN_SECRET", "")
	refreshSecret := getEnv("REFRESH_TOKEN_SECRET", "")
	if accessSecret == "" || refreshSecret == "" {
		return nil, fmt.Errorf("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET are required")
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "aegis"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			Env:      env,
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			AccessTokenSecret:   accessSecret,
			RefreshTokenSecret:  refreshSecret,
			AccessTokenExpiry:   getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry:  getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 30*24*time.Hour),
			Issuer:              getEnv("TOKEN_ISSUER", "aegis"),
			Audience:            getEnv("TOKEN_AUDIENCE", "aegis-api"),
			EncryptTokenPayload: getEnvAsBool("ENCRYPT_TOKEN_PAYLOAD", false),
			LockoutThreshold:    getEnvAsInt("LOCKOUT_THRESHOLD", 5),
			LockoutWindow:       getEnvAsDuration("LOCKOUT_WINDOW", 15*time.Minute),
			CleanupInterval:     getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			AdminPhones:         getEnvAsList("ADMIN_PHONES"),
		},
		Encryption: EncryptionConfig{
			PrimaryKey:   getEnv("ENCRYPTION_KEY_PRIMARY", ""),
			SecondaryKey: getEnv("ENCRYPTION_KEY_SECONDARY", ""),
		},
		OTP: OTPConfig{
			CodeLength:  getEnvAsInt("OTP_CODE_LENGTH", 6),
			Expiry:      getEnvAsDuration("OTP_EXPIRY", 5*time.Minute),
			MaxAttempts: getEnvAsInt("OTP_MAX_ATTEMPTS", 5),
		},
		Session: SessionConfig{
			MaxPerAccount: getEnvAsInt("MAX_SESSIONS_PER_ACCOUNT", 5),
			Expiry:        getEnvAsDuration("SESSION_EXPIRY", 30*24*time.Hour),
		},
		SMS: SMSConfig{
			AWSRegion: getEnv("AWS_REGION", "us-east-1"),
			SenderID:  getEnv("SMS_SENDER_ID", "aegis"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateTokenSecrets(accessSecret, refreshSecret, env); err != nil {
		return nil, err
	}

	if err := validateEncryptionKeys(&cfg.Encryption); err != nil {
		return nil, err
	}

	if cfg.OTP.CodeLength < 4 || cfg.OTP.CodeLength > 10 {
		return nil, fmt.Errorf("OTP_CODE_LENGTH must be between 4 and 10 (got %d)", cfg.OTP.CodeLength)
	}

	return cfg, nil
}

// validateTokenSecrets enforces minimum security standards for the
// signing secrets. The two secrets must differ: distinguishing token
// kinds by secret is part of the refresh-replay defense.
func validateTokenSecrets(accessSecret, refreshSecret, env string) error {
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secrets (256 bits)
	}

	for name, secret := range map[string]string{
		"ACCESS_TOKEN_SECRET":  accessSecret,
		"REFRESH_TOKEN_SECRET": refreshSecret,
	} {
		if len(secret) < minLength {
			return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
				name, minLength, env, len(secret))
		}

		weakSecrets := []string{
			"secret", "test", "password", "12345", "changeme",
			"admin", "root", "default", "example",
		}
		lowered := strings.ToLower(secret)
		for _, weak := range weakSecrets {
			if lowered == weak {
				return fmt.Errorf("%s cannot be a common weak value", name)
			}
		}
	}

	if accessSecret == refreshSecret {
		return fmt.Errorf("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must be different")
	}

	return nil
}

func validateEncryptionKeys(c *EncryptionConfig) error {
	if c.PrimaryKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY_PRIMARY is required")
	}

	for name, key := range map[string]string{
		"ENCRYPTION_KEY_PRIMARY":   c.PrimaryKey,
		"ENCRYPTION_KEY_SECONDARY": c.SecondaryKey,
	} {
		if key == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return fmt.Errorf("%s must be base64-encoded: %w", name, err)
		}
		if len(decoded) != 32 {
			return fmt.Errorf("%s must decode to 32 bytes (got %d)", name, len(decoded))
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
