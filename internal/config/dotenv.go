package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Env returns APP_ENV, defaulting to local
func Env() string {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env
	}
	return "local"
}

// Path returns the config file for env
func Path(env string) string {
	return fmt.Sprintf("configs/config.%s.yaml", env)
}

// LoadDotEnv loads .env files with priority: .env.<APP_ENV> > .env.local > .env
// godotenv.Load does NOT overwrite already-set env vars,
// so OS env vars always win and earlier files win over later ones.
// Returns list of files actually loaded.
func LoadDotEnv() []string {
	candidates := []string{".env." + Env(), ".env.local", ".env"}
	var loaded []string
	for _, f := range candidates {
		if _, err := os.Stat(f); err == nil {
			loaded = append(loaded, f)
		}
	}
	if len(loaded) > 0 {
		_ = godotenv.Load(loaded...)
	}
	return loaded
}
