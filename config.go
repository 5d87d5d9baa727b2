package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration. It is built once in main and
// passed explicitly to every component that needs it - there are no
// package-level configuration globals.
type Config struct {
	// OpenRouter upstream
	OpenRouterAPIKey  string
	OpenRouterBaseURL string

	// Council roster
	CouncilModels []ModelDescriptor
	ChairmanModel ModelDescriptor
	TitleModel    string

	// Server
	Port               string
	CORSAllowedOrigins []string
	APIKey             string // optional X-API-Key protection
	MaxRequestBodySize int64

	// Client timeout budget
	ConnectTimeout   time.Duration
	ChatTimeout      time.Duration // generous: LLM responses are slow
	MetadataTimeout  time.Duration // shorter pool for metadata-only calls
	RetryBaseDelay   time.Duration
	MaxRetryAttempts int

	// Circuit breaker
	BreakerFailMax  int
	BreakerCooldown time.Duration

	// Cache
	RedisURL      string // empty disables the Redis tier
	ModelsListTTL time.Duration
	FetchedURLTTL time.Duration

	// Rate limiting (requests per window; <=0 disables)
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Storage
	DataDir string
}

// DefaultCouncilModels is the default council roster. Different providers
// are used deliberately to avoid correlated upstream limits.
var DefaultCouncilModels = []ModelDescriptor{
	{ID: "openai/gpt-5.1", Name: "GPT 5.1", Provider: "openrouter"},
	{ID: "google/gemini-3-pro-preview", Name: "Gemini 3 Pro", Provider: "openrouter"},
	{ID: "anthropic/claude-sonnet-4.5", Name: "Claude Sonnet 4.5", Provider: "openrouter"},
	{ID: "x-ai/grok-4", Name: "Grok 4", Provider: "openrouter"},
}

// DefaultChairmanModel synthesizes the final answer.
var DefaultChairmanModel = ModelDescriptor{
	ID: "google/gemini-3-pro-preview", Name: "Gemini 3 Pro", Provider: "openrouter",
}

// LoadConfig loads configuration from environment variables, trying .env
// files in the usual locations first. It fails when the OpenRouter key is
// missing since nothing useful can run without it.
func LoadConfig() (*Config, error) {
	envLocations := []string{
		".env",    // Current directory
		"../.env", // Parent directory
	}

	// Try to find and load .env file
	envLoaded := false
	for _, envPath := range envLocations {
		absPath, err := filepath.Abs(envPath)
		if err != nil {
			continue
		}
		if _, err := os.Stat(absPath); err == nil {
			if err := godotenv.Load(absPath); err == nil {
				log.Printf("Loaded .env from: %s", absPath)
				envLoaded = true
				break
			}
		}
	}
	if !envLoaded {
		log.Printf("Warning: .env file not found in any expected location")
	}

	cfg := &Config{
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterBaseURL: envOr("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),

		CouncilModels: DefaultCouncilModels,
		ChairmanModel: DefaultChairmanModel,
		TitleModel:    envOr("TITLE_MODEL", "google/gemini-2.5-flash"),

		Port:               envOr("PORT", "8001"),
		APIKey:             os.Getenv("API_KEY"),
		MaxRequestBodySize: 1 << 20, // 1MB

		ConnectTimeout:   10 * time.Second,
		ChatTimeout:      120 * time.Second,
		MetadataTimeout:  30 * time.Second,
		RetryBaseDelay:   1 * time.Second,
		MaxRetryAttempts: 3,

		BreakerFailMax:  envOrInt("CIRCUIT_BREAKER_FAIL_MAX", 5),
		BreakerCooldown: time.Duration(envOrInt("CIRCUIT_BREAKER_TIMEOUT", 60)) * time.Second,

		RedisURL:      os.Getenv("REDIS_URL"),
		ModelsListTTL: 5 * time.Minute,
		FetchedURLTTL: 10 * time.Minute,

		RateLimitRequests: envOrInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envOrInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		DataDir: envOr("DATA_DIR", "data/sessions"),
	}

	if cfg.OpenRouterAPIKey == "" {
		return nil, fmt.Errorf("OPENROUTER_API_KEY environment variable is required")
	}

	// Load CORS origins from environment if provided
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		for _, origin := range strings.Split(corsOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
			}
		}
	}

	log.Println("Configuration loaded successfully")
	return cfg, nil
}

// envOr returns the environment variable value or a default when unset.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envOrInt returns the environment variable parsed as an int, or the
// default when unset or malformed.
func envOrInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: invalid value for %s: %q, using default %d", key, v, def)
		return def
	}
	return n
}
