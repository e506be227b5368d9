package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

const envPrefix = "DEMAND_"

// Config of the command, loaded from the environment and optional .env files.
type Config struct {
	UserAgent string
	BaseURL   string
	HTTP2     bool
	Verbose   bool
}

// LoadConfig reads .env files, if present, and populates Config from environment variables.
// Variables already set in the environment take precedence over the files.
func LoadConfig(envFiles ...string) (Config, error) {
	var existing []string
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return Config{}, fmt.Errorf("cannot load env files: %w", err)
		}
	}

	cfg := Config{
		UserAgent: env("USER_AGENT", ""),
		BaseURL:   env("BASE_URL", ""),
	}

	var err error
	if cfg.HTTP2, err = envBool("HTTP2"); err != nil {
		return Config{}, err
	}
	if cfg.Verbose, err = envBool("VERBOSE"); err != nil {
		return Config{}, err
	}
	if cfg.BaseURL != "" {
		if _, err := url.Parse(cfg.BaseURL); err != nil {
			return Config{}, fmt.Errorf(`invalid %sBASE_URL "%s": %w`, envPrefix, cfg.BaseURL, err)
		}
	}
	return cfg, nil
}

func env(key, fallback string) string {
	if v, found := os.LookupEnv(envPrefix + key); found {
		return v
	}
	return fallback
}

func envBool(key string) (bool, error) {
	v := strings.TrimSpace(env(key, ""))
	if v == "" {
		return false, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, fmt.Errorf(`invalid %s%s "%s": %w`, envPrefix, key, v, err)
	}
	return b, nil
}
