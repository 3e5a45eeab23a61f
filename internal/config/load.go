package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "CUTOUT"

var defaults = map[string]interface{}{
	"server.port":              8080,
	"server.log_level":         "info",
	"server.mode":              "all",
	"server.shutdown_timeout":  10 * time.Second,
	"database.url":             "",
	"database.max_open_conns":  10,
	"task_store.backend":       "postgres",
	"queue.backend":            "postgres",
	"queue.size":               100,
	"queue.poll_interval":      500 * time.Millisecond,
	"queue.visibility_timeout": 6 * time.Minute,
	"worker.count":             2,
	"worker.hard_time_limit":   300 * time.Second,
	"worker.soft_time_limit":   240 * time.Second,
	"retry.max_retries":        3,
	"retry.delay":              60 * time.Second,
	"retry.backoff":            "fixed",
	"retry.max_delay":          10 * time.Minute,
	"artifacts.backend":        "filesystem",
	"artifacts.dir":            "./media",
	"artifacts.s3.bucket":      "",
	"artifacts.s3.region":      "",
	"artifacts.s3.endpoint":    "",
	"artifacts.s3.prefix":      "",
	"transform.backend":        "local",
	"transform.tolerance":      48,
	"gemini.api_key":           "",
	"gemini.model":             "gemini-2.0-flash-exp",
	"upload.max_bytes":         10 << 20,
	"sweeper.enabled":          true,
	"sweeper.interval":         15 * time.Minute,
	"sweeper.max_age":          time.Hour,
	"auth.jwt_secret":          "",
}

// Load configuration from defaults, an optional YAML file and environment
// variables, in increasing order of precedence. Environment variables use the
// CUTOUT_ prefix with dots replaced by underscores, e.g. CUTOUT_SERVER_PORT.
//
// When path is empty, ./config.yaml is read if present. Returns a populated
// Config or an error if loading or validation fails.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Every key needs a default so that Unmarshal sees env-only values.
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks field constraints and the rules that span sections.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	var problems []string
	usesPostgres := cfg.TaskStore.Backend == "postgres" || cfg.Queue.Backend == "postgres"
	if usesPostgres && cfg.Database.URL == "" {
		problems = append(problems, "database.url is required for the postgres backend")
	}
	if cfg.Queue.Backend == "postgres" && cfg.Queue.VisibilityTimeout <= cfg.Worker.HardTimeLimit {
		problems = append(problems, "queue.visibility_timeout must exceed worker.hard_time_limit")
	}
	if cfg.Queue.Backend == "postgres" && cfg.TaskStore.Backend == "memory" {
		problems = append(problems, "a postgres queue requires the postgres task store")
	}
	if cfg.Artifacts.Backend == "s3" && cfg.Artifacts.S3.Bucket == "" {
		problems = append(problems, "artifacts.s3.bucket is required for the s3 backend")
	}
	if cfg.Transform.Backend == "gemini" && cfg.Gemini.APIKey == "" {
		problems = append(problems, "gemini.api_key is required for the gemini transformer")
	}
	if cfg.Transform.Backend == "gemini" && cfg.Gemini.Model == "" {
		problems = append(problems, "gemini.model is required for the gemini transformer")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}
