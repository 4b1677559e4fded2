// Package config provides configuration for the orchestrator.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the orchestrator configuration. It is loaded once at startup
// and treated as immutable afterwards.
type Config struct {
	// Server settings
	HTTPPort int
	Env      string // "development" or "production"

	// Database
	DatabaseURL string

	// Authenticated callers present this key alongside their user id.
	APIKey string

	// Device fingerprint signing secret
	FingerprintSecret string

	// Remote browser provider
	BrowserAPIURL    string
	BrowserAPIKey    string
	BrowserProjectID string
	BrowserTier      string // "local" or "cloud" pricing tier

	// LLM provider credentials
	OpenAIAPIKey string

	// Delegate automation backends (name -> base URL)
	BrowserUseURL string
	SkyvernURL    string

	// Limits
	MaxAgentsPerRequest  int
	DemoMaxQueries       int
	MaxInstructionLength int

	// Timeouts
	AgentTimeout   time.Duration
	BrowserTimeout time.Duration
}

// Load loads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := &Config{
		HTTPPort:             getEnvInt("HTTP_PORT", 8080),
		Env:                  getEnv("APP_ENV", "development"),
		DatabaseURL:          getEnv("DATABASE_URL", "file:orchestrator.db?cache=shared&mode=rwc"),
		APIKey:               getEnv("ORCHESTRATOR_API_KEY", ""),
		FingerprintSecret:    getEnv("FINGERPRINT_SECRET", "dev-fingerprint-secret"),
		BrowserAPIURL:        getEnv("BROWSER_API_URL", "https://api.browserbase.com"),
		BrowserAPIKey:        getEnv("BROWSER_API_KEY", ""),
		BrowserProjectID:     getEnv("BROWSER_PROJECT_ID", ""),
		BrowserTier:          getEnv("BROWSER_TIER", "cloud"),
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		BrowserUseURL:        getEnv("BROWSER_USE_URL", ""),
		SkyvernURL:           getEnv("SKYVERN_URL", ""),
		MaxAgentsPerRequest:  getEnvInt("MAX_AGENTS_PER_REQUEST", 4),
		DemoMaxQueries:       getEnvInt("DEMO_MAX_QUERIES", 1),
		MaxInstructionLength: getEnvInt("MAX_INSTRUCTION_LENGTH", 5000),
		AgentTimeout:         time.Duration(getEnvInt("AGENT_TIMEOUT_MS", 600000)) * time.Millisecond,
		BrowserTimeout:       time.Duration(getEnvInt("BROWSER_TIMEOUT_MS", 30000)) * time.Millisecond,
	}
	return cfg
}

// IsProduction reports whether the server runs with production settings
// (secure cookies, strict CORS).
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
