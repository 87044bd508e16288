package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		Env:         getEnvOrDefault("ENV", "development"),
		DatabaseURL: mustGetEnv("DATABASE_URL"),
		RedisURL:    mustGetEnv("REDIS_URL"),
		JWTSecret:   mustGetEnv("JWT_SECRET"),
		FrontendURL: getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

// ClientConfig configures a collaboration client connecting to the backend
// (the collabclient command; Go services embedding the collab package use
// the same keys).
type ClientConfig struct {
	CollabWSURL       string
	APIBaseURL        string
	Token             string
	UserID            string
	DashboardID       string
	ConflictStrategy  string
	TestMode          bool
	HeartbeatInterval int
}

func LoadClient() *ClientConfig {
	godotenv.Load()

	return &ClientConfig{
		CollabWSURL:       getEnvOrDefault("COLLAB_WS_URL", "ws://localhost:8080/api/v1/ws"),
		APIBaseURL:        getEnvOrDefault("API_BASE_URL", "http://localhost:8080"),
		Token:             mustGetEnv("COLLAB_TOKEN"),
		UserID:            mustGetEnv("COLLAB_USER_ID"),
		DashboardID:       getEnvOrDefault("COLLAB_DASHBOARD_ID", ""),
		ConflictStrategy:  getEnvOrDefault("CONFLICT_STRATEGY", "server"),
		TestMode:          getEnvAsBoolOrDefault("TEST_MODE", false),
		HeartbeatInterval: getEnvAsIntOrDefault("HEARTBEAT_INTERVAL_MS", 30000),
	}
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}
