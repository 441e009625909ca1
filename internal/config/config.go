// Package config reads the drinks server settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTPAddr is the listen address, default ":8080".
	HTTPAddr string
	// GRPCAddr enables the gRPC health endpoint when set.
	GRPCAddr string
	// DatabaseURL selects the PostgreSQL store; empty means in-memory.
	DatabaseURL string
	LogLevel    string
	LogFormat   string
	// AuthConfigFile is an optional JSON, YAML or Lua auth config. When
	// empty the auth settings come from the environment.
	AuthConfigFile string
	// SeedSampleDrink inserts the sample drink at startup.
	SeedSampleDrink bool
	ShutdownTimeout time.Duration
}

// Load reads a .env file if one exists and then the process environment.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	cfg := Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:       os.Getenv("GRPC_ADDR"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		AuthConfigFile: os.Getenv("AUTH_CONFIG"),
	}

	var err error
	if cfg.SeedSampleDrink, err = getBool("SEED_SAMPLE_DRINK", false); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
