package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Backend   BackendConfig
	Messaging MessagingConfig
	API       APIConfig
	CORS      CORSConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type StoreConfig struct {
	Driver string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret       string
	ExpiryHours  int
	AuthRequired bool
}

// BackendConfig points at the marketplace REST API that owns users and properties
type BackendConfig struct {
	URL     string
	Timeout time.Duration
}

type MessagingConfig struct {
	DemoMode bool
}

type APIConfig struct {
	RateLimitMessagesPerSec int
}

type CORSConfig struct {
	AllowedOrigins []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	backendTimeout := getEnvInt("BACKEND_TIMEOUT_SECONDS", 10)

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENV", "development"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STORE_DRIVER", StoreMemory)),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "onlyif"),
			Password: getEnv("DB_PASSWORD", "onlyif_password"),
			DBName:   getEnv("DB_NAME", "onlyif_messaging"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:       getEnv("JWT_SECRET", ""),
			ExpiryHours:  getEnvInt("JWT_EXPIRY_HOURS", 168),
			AuthRequired: getEnvBool("AUTH_REQUIRED", false),
		},
		Backend: BackendConfig{
			URL:     strings.TrimRight(getEnv("BACKEND_API_URL", ""), "/"),
			Timeout: time.Duration(backendTimeout) * time.Second,
		},
		Messaging: MessagingConfig{
			DemoMode: getEnvBool("MESSAGING_DEMO_MODE", false),
		},
		API: APIConfig{
			RateLimitMessagesPerSec: getEnvInt("RATE_LIMIT_MESSAGES_PER_SECOND", 10),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreMemory, StorePostgres, c.Store.Driver)
	}

	if c.JWT.AuthRequired && c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET must be set when AUTH_REQUIRED is true")
	}

	if c.IsProduction() {
		if c.Messaging.DemoMode {
			return fmt.Errorf("MESSAGING_DEMO_MODE cannot be enabled in production")
		}
		if c.Store.Driver == StoreMemory && c.Backend.URL == "" {
			return fmt.Errorf("production needs STORE_DRIVER=postgres or a BACKEND_API_URL")
		}
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// GetDSN returns the database connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
