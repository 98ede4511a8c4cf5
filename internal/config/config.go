package config

import (
	"os"      // For environment variables
	"strconv" // For string to int conversion
	"time"    // For durations

	"github.com/joho/godotenv" // For loading .env files
)

// Config holds the application configuration
type Config struct {
	AppPort    string // Application port
	DBDriver   string // mysql, postgres or memory
	DBUser     string // Database user
	DBPassword string // Database password
	DBHost     string // Database host
	DBPort     string // Database port
	DBName     string // Database name
	DBSSLMode  string // PostgreSQL sslmode
	JWTSecret  string // JWT secret key
	RedisAddr  string // Redis server address, empty disables caching
	RedisPass  string // Redis password
	RedisDB    int    // Redis database number
	CacheTTL   time.Duration
	IsProd     bool // Is production environment

	GatewayBaseURL     string        // Payment gateway API root
	GatewaySecretKey   string        // Payment gateway secret key (also signs webhooks)
	GatewayTimeout     time.Duration // Bound on a single gateway call
	GatewayCallbackURL string        // Where the gateway redirects payers
	PaymentRedirectURL string        // Where the callback sends payers after settling
	VerifyAttempts     int           // Transient verify retries done by the caller
	VerifyBackoff      time.Duration // Base backoff between verify attempts

	MaxCASRetries   int    // Optimistic write attempts per step
	DefaultCurrency string // Currency for wallets and campaigns when none is given
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	_ = godotenv.Load() // Load .env file if present
	return &Config{
		AppPort:    getEnv("APP_PORT", "8080"),
		DBDriver:   getEnv("DB_DRIVER", "mysql"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBName:     os.Getenv("DB_NAME"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
		JWTSecret:  os.Getenv("JWT_SECRET"),
		RedisAddr:  os.Getenv("REDIS_ADDR"),
		RedisPass:  os.Getenv("REDIS_PASS"),
		RedisDB:    getInt("REDIS_DB", 0),
		CacheTTL:   getDuration("CACHE_TTL", 60*time.Second),
		IsProd:     os.Getenv("IS_PROD") == "true",

		GatewayBaseURL:     getEnv("GATEWAY_BASE_URL", "https://api.paystack.co"),
		GatewaySecretKey:   os.Getenv("GATEWAY_SECRET_KEY"),
		GatewayTimeout:     getDuration("GATEWAY_TIMEOUT", 15*time.Second),
		GatewayCallbackURL: os.Getenv("GATEWAY_CALLBACK_URL"),
		PaymentRedirectURL: os.Getenv("PAYMENT_REDIRECT_URL"),
		VerifyAttempts:     getInt("VERIFY_ATTEMPTS", 3),
		VerifyBackoff:      getDuration("VERIFY_BACKOFF", 500*time.Millisecond),

		MaxCASRetries:   getInt("MAX_CAS_RETRIES", 5),
		DefaultCurrency: getEnv("DEFAULT_CURRENCY", "NGN"),
	}
}

// getEnv returns the variable or a fallback when unset
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getInt parses an integer variable, falling back on absence or garbage
func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

// getDuration parses a Go duration string such as "15s"
func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
