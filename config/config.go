/*
Package config loads server configuration from the environment.

A .env file in the working directory is read first when present
(godotenv); real environment variables win over file values. Flags in
cmd/server override both.

VARIABLES:
  PORT        HTTP server port (default 8080)
  DB_PATH     SQLite database path (default pharmacy.db)
  JWT_SECRET  HMAC secret for API tokens (required outside dev)
  LOG_LEVEL   logrus level: debug, info, warn, error (default info)
*/
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds everything cmd/server needs to start.
type Config struct {
	Port      int
	DBPath    string
	JWTSecret string
	LogLevel  string
}

// Load reads .env (if present) and the environment.
func Load() Config {
	// Missing .env is fine; env vars may come from the deployment.
	_ = godotenv.Load()

	return Config{
		Port:      envInt("PORT", 8080),
		DBPath:    envStr("DB_PATH", "pharmacy.db"),
		JWTSecret: envStr("JWT_SECRET", "dev-secret-change-me"),
		LogLevel:  envStr("LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
