// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	DBURL           string        `mapstructure:"DB_URL"`
	GithubToken     string        `mapstructure:"GITHUB_TOKEN"`
	HTTPAddr        string        `mapstructure:"HTTP_ADDR"`
	CloneScratchDir string        `mapstructure:"CLONE_SCRATCH_DIR"`
	ScoreThreshold  float64       `mapstructure:"SCORE_THRESHOLD"`
	FetchTimeout    time.Duration `mapstructure:"FETCH_TIMEOUT"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("CLONE_SCRATCH_DIR", "/tmp/registry-clones")
	viper.SetDefault("SCORE_THRESHOLD", 0.0)
	viper.SetDefault("FETCH_TIMEOUT", "90s")

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.GithubToken == "" {
		return nil, errors.New("GITHUB_TOKEN is a required configuration field")
	}
	if cfg.ScoreThreshold < 0 || cfg.ScoreThreshold > 1 {
		return nil, errors.New("SCORE_THRESHOLD must be between 0 and 1")
	}

	return &cfg, nil
}
