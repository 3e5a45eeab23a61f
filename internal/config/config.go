package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	TaskStore TaskStoreConfig `mapstructure:"task_store" validate:"required"`
	Queue     QueueConfig     `mapstructure:"queue" validate:"required"`
	Worker    WorkerConfig    `mapstructure:"worker" validate:"required"`
	Retry     RetryConfig     `mapstructure:"retry" validate:"required"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts" validate:"required"`
	Transform TransformConfig `mapstructure:"transform" validate:"required"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Upload    UploadConfig    `mapstructure:"upload" validate:"required"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	Mode            string        `mapstructure:"mode" validate:"required,oneof=all api worker"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"omitempty,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gt=0"`
}

// TaskStoreConfig selects where task records live.
type TaskStoreConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=postgres memory"`
}

// QueueConfig selects and tunes the work queue.
type QueueConfig struct {
	Backend           string        `mapstructure:"backend" validate:"required,oneof=postgres memory"`
	Size              int           `mapstructure:"size" validate:"gt=0"`
	PollInterval      time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" validate:"gt=0"`
}

// WorkerConfig controls executor concurrency and per-attempt time limits.
type WorkerConfig struct {
	Count         int           `mapstructure:"count" validate:"gt=0"`
	HardTimeLimit time.Duration `mapstructure:"hard_time_limit" validate:"gt=0"`
	SoftTimeLimit time.Duration `mapstructure:"soft_time_limit" validate:"gte=0,ltefield=HardTimeLimit"`
}

// RetryConfig configures redelivery after a failed attempt.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0"`
	Delay      time.Duration `mapstructure:"delay" validate:"gte=0"`
	Backoff    string        `mapstructure:"backoff" validate:"required,oneof=fixed exponential"`
	MaxDelay   time.Duration `mapstructure:"max_delay" validate:"gte=0"`
}

// ArtifactsConfig selects the artifact backend.
type ArtifactsConfig struct {
	Backend string   `mapstructure:"backend" validate:"required,oneof=filesystem s3 memory"`
	Dir     string   `mapstructure:"dir" validate:"required_if=Backend filesystem"`
	S3      S3Config `mapstructure:"s3"`
}

// S3Config holds settings for the S3 artifact backend. Endpoint is only
// needed for S3-compatible services.
type S3Config struct {
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url"`
	Prefix   string `mapstructure:"prefix"`
}

// TransformConfig selects the image transformer.
type TransformConfig struct {
	Backend   string `mapstructure:"backend" validate:"required,oneof=local gemini"`
	Tolerance int    `mapstructure:"tolerance" validate:"gte=0,lte=255"`
}

// GeminiConfig contains settings for the Gemini transformer.
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// UploadConfig bounds accepted submissions.
type UploadConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes" validate:"gt=0"`
}

// SweeperConfig controls the periodic retention sweep inside the server.
type SweeperConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
	MaxAge   time.Duration `mapstructure:"max_age" validate:"gt=0"`
}

// AuthConfig contains authentication settings. An empty JWTSecret disables
// authentication on the API routes.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
}

// AuthEnabled reports whether API routes require a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.Auth.JWTSecret != ""
}
