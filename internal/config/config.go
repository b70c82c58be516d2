package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Env      string
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Ledger   LedgerConfig
	Stake    StakeConfig
	Feed     FeedConfig
	App      AppConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// RedisConfig holds the consumed-token cache settings
type RedisConfig struct {
	Addr string
}

// LedgerConfig holds token-ledger collaborator settings
type LedgerConfig struct {
	NodeURL       string
	EscrowAccount string
	BurnAccount   string
	RewardAccount string
	TokenSymbol   string
	SigningKey    string
	BlockInterval time.Duration
}

// StakeConfig holds stake token and settlement fee settings
type StakeConfig struct {
	TokenSecret string
	TokenTTL    time.Duration
	FeePercent  float64 // platform cut of the pool, e.g. 0.10
	BurnShare   float64 // share of the fee that is burned, rest goes to the reward pool
}

// FeedConfig holds match-result feed settings
type FeedConfig struct {
	BaseURL string
	APIKey  string
}

// AppConfig holds application-wide settings
type AppConfig struct {
	JWTSecret string
}

// DevStakeTokenSecret is the fallback signing secret outside production.
const DevStakeTokenSecret = "dev-stake-token-secret"

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Env: getEnv("ENV", "development"),
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "prediction_engine"),
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Ledger: LedgerConfig{
			NodeURL:       getEnv("LEDGER_NODE_URL", "http://localhost:8888"),
			EscrowAccount: getEnv("LEDGER_ESCROW_ACCOUNT", "predict.escrow"),
			BurnAccount:   getEnv("LEDGER_BURN_ACCOUNT", "predict.burn"),
			RewardAccount: getEnv("LEDGER_REWARD_ACCOUNT", "predict.pool"),
			TokenSymbol:   getEnv("LEDGER_TOKEN_SYMBOL", "PRD"),
			SigningKey:    getEnv("LEDGER_SIGNING_KEY", ""),
			BlockInterval: getDurationEnv("LEDGER_BLOCK_INTERVAL", 3*time.Second),
		},
		Stake: StakeConfig{
			TokenSecret: getEnv("STAKE_TOKEN_SECRET", ""),
			TokenTTL:    getDurationEnv("STAKE_TOKEN_TTL", 5*time.Minute),
			FeePercent:  getFloatEnv("PLATFORM_FEE_PERCENT", 0.10),
			BurnShare:   getFloatEnv("FEE_BURN_SHARE", 0.50),
		},
		Feed: FeedConfig{
			BaseURL: getEnv("RESULT_FEED_URL", ""),
			APIKey:  getEnv("RESULT_FEED_API_KEY", ""),
		},
		App: AppConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
	}

	if cfg.IsProduction() {
		if cfg.Stake.TokenSecret == "" {
			return nil, fmt.Errorf("STAKE_TOKEN_SECRET is required in production")
		}
		if cfg.App.JWTSecret == "" {
			return nil, fmt.Errorf("JWT_SECRET is required in production")
		}
		if cfg.Ledger.SigningKey == "" {
			return nil, fmt.Errorf("LEDGER_SIGNING_KEY is required in production")
		}
	}

	if cfg.Stake.FeePercent < 0 || cfg.Stake.FeePercent >= 1 {
		return nil, fmt.Errorf("PLATFORM_FEE_PERCENT must be in [0, 1), got %v", cfg.Stake.FeePercent)
	}
	if cfg.Stake.BurnShare < 0 || cfg.Stake.BurnShare > 1 {
		return nil, fmt.Errorf("FEE_BURN_SHARE must be in [0, 1], got %v", cfg.Stake.BurnShare)
	}

	return cfg, nil
}

// IsProduction reports whether the service runs with production requirements
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// GetDSN returns the PostgreSQL connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func getFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}
