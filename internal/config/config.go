package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// TierConfig describes one AI cost/capability tier.
type TierConfig struct {
	Model          string
	FallbackModel  string
	CostPer1KCents float64
	MaxTokens      int
}

// Config is loaded once at startup and passed by reference. Nothing in the
// core reads environment variables after this point.
type Config struct {
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	ServerPort  string

	AIBaseURL string
	AIAPIKey  string

	FastTier     TierConfig
	BalancedTier TierConfig
	PowerfulTier TierConfig

	// Budget governor defaults. Water marks are ordered: critical < low.
	DefaultDailyBudgetCents int
	BudgetLowWaterCents     int
	BudgetCriticalCents     int

	WorkerPollInterval time.Duration
	WorkerMetricsPort  string
}

func Load() (*Config, error) {
	godotenv.Load()

	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:   getEnv("JWT_SECRET", "secret"),
		ServerPort:  getEnv("SERVER_PORT", "8080"),

		AIBaseURL: getEnv("AI_BASE_URL", "https://api.openai.com"),
		AIAPIKey:  getEnv("AI_API_KEY", ""),

		FastTier: TierConfig{
			Model:          getEnv("AI_MODEL_FAST", "gemini-2.5-flash-lite"),
			FallbackModel:  getEnv("AI_MODEL_FAST_FALLBACK", "gpt-5-nano"),
			CostPer1KCents: 0.01,
			MaxTokens:      4000,
		},
		BalancedTier: TierConfig{
			Model:          getEnv("AI_MODEL_BALANCED", "gemini-2.5-flash"),
			FallbackModel:  getEnv("AI_MODEL_BALANCED_FALLBACK", "gpt-5-mini"),
			CostPer1KCents: 0.05,
			MaxTokens:      8000,
		},
		PowerfulTier: TierConfig{
			Model:          getEnv("AI_MODEL_POWERFUL", "gemini-2.5-pro"),
			FallbackModel:  getEnv("AI_MODEL_POWERFUL_FALLBACK", "gpt-5"),
			CostPer1KCents: 0.20,
			MaxTokens:      32000,
		},

		DefaultDailyBudgetCents: getEnvInt("AI_DEFAULT_DAILY_BUDGET_CENTS", 1000),
		BudgetLowWaterCents:     getEnvInt("AI_BUDGET_LOW_WATER_CENTS", 50),
		BudgetCriticalCents:     getEnvInt("AI_BUDGET_CRITICAL_CENTS", 20),

		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL", 15*time.Second),
		WorkerMetricsPort:  getEnv("WORKER_METRICS_PORT", "9091"),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}
