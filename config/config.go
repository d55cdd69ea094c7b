// Package config loads orchestrator settings from defaults, an optional
// YAML file, a .env file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/feichai0017/prp-orchestrator/pkg/logger"
	"github.com/feichai0017/prp-orchestrator/pkg/storage/minio"
	"github.com/feichai0017/prp-orchestrator/pkg/storage/s3"
)

// DefaultEnvFile is read when no --env-file is given.
const DefaultEnvFile = ".env"

// State backends.
const (
	StateBackendFile  = "file"
	StateBackendRedis = "redis"
)

type Config struct {
	Environment string `yaml:"environment"`
	// QueueRoot holds pending/, drafted/, ready/, terminal/, quarantined/ and work/.
	QueueRoot string `yaml:"queue_root"`

	API       APIConfig       `yaml:"api"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Queue     QueueConfig     `yaml:"queue"`
	Batch     BatchConfig     `yaml:"batch"`
	State     StateConfig     `yaml:"state"`
	Agents    AgentsConfig    `yaml:"agents"`
	Context   ContextConfig   `yaml:"context"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Server    ServerConfig    `yaml:"server"`
	Log       logger.Config   `yaml:"log"`

	// Warnings collected while loading, logged once a logger exists.
	Warnings []string `yaml:"-"`
}

type APIConfig struct {
	BaseURL            string `yaml:"base_url"`
	APIKey             string `yaml:"-"`
	Version            string `yaml:"version"`
	HTTPTimeoutSeconds int    `yaml:"http_timeout_seconds"`
}

type RateLimitConfig struct {
	MaxBatchesPerHour       int `yaml:"max_batches_per_hour"`
	MinBatchIntervalMinutes int `yaml:"min_batch_interval_minutes"`
}

type QueueConfig struct {
	CheckIntervalSeconds int `yaml:"check_interval_seconds"`
}

type BatchConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	TimeoutHours        int `yaml:"timeout_hours"`
}

type StateConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

type AgentsConfig struct {
	Dir              string   `yaml:"dir"`
	Draft            []string `yaml:"draft"`
	Model            string   `yaml:"model"`
	MaxTokens        int      `yaml:"max_tokens"`
	Temperature      float64  `yaml:"temperature"`
	DraftTemplate    string   `yaml:"draft_template"`
	GenerateTemplate string   `yaml:"generate_template"`
}

type ContextConfig struct {
	// Root anchors include globs and the source names in context bundles.
	Root            string   `yaml:"root"`
	Includes        []string `yaml:"includes"`
	MaxSnippetBytes int      `yaml:"max_snippet_bytes"`
	MaxTotalBytes   int      `yaml:"max_total_bytes"`
}

// ExecutorConfig names the execution tool. An empty command leaves ready
// artifacts in place for external pickup.
type ExecutorConfig struct {
	Command        []string `yaml:"command"`
	TimeoutMinutes int      `yaml:"timeout_minutes"`
}

type ArchiveConfig struct {
	Type  string       `yaml:"type"`
	S3    s3.Config    `yaml:"s3"`
	Minio minio.Config `yaml:"minio"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in settings.
func Default() *Config {
	log := logger.DefaultConfig()
	log.OutputPaths = nil
	return &Config{
		Environment: "dev",
		QueueRoot:   "prp",
		API: APIConfig{
			BaseURL:            "https://api.anthropic.com",
			Version:            "2023-06-01",
			HTTPTimeoutSeconds: 60,
		},
		RateLimit: RateLimitConfig{
			MaxBatchesPerHour:       1,
			MinBatchIntervalMinutes: 60,
		},
		Queue: QueueConfig{CheckIntervalSeconds: 300},
		Batch: BatchConfig{
			PollIntervalSeconds: 60,
			TimeoutHours:        3,
		},
		State: StateConfig{
			Backend: StateBackendFile,
			Path:    filepath.Join("logs", "prp-orchestrator-state.json"),
			Redis:   RedisConfig{Addr: "localhost:6379"},
		},
		Agents: AgentsConfig{
			Dir:         "agents",
			Draft:       []string{"architect"},
			Model:       "claude-sonnet-4-5",
			MaxTokens:   2048,
			Temperature: 0.2,
		},
		Context: ContextConfig{
			Root:            ".",
			MaxSnippetBytes: 16 << 10,
			MaxTotalBytes:   256 << 10,
		},
		Executor: ExecutorConfig{TimeoutMinutes: 30},
		Server:   ServerConfig{Addr: ":8080"},
		Log:      log,
	}
}

// Load builds the configuration. path may be empty; envFile defaults to
// DefaultEnvFile and a missing env file only produces a warning.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
		cfg.Warnings = append(cfg.Warnings,
			fmt.Sprintf(".env file not found at %s, falling back to environment variables", envFile))
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if len(cfg.Log.OutputPaths) == 0 {
		cfg.Log.OutputPaths = []string{"stdout", cfg.LogFile()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.API.APIKey, "ANTHROPIC_API_KEY")
	setString(&c.API.BaseURL, "ANTHROPIC_BASE_URL")
	setString(&c.Environment, "ENVIRONMENT")
	setString(&c.QueueRoot, "PRP_QUEUE_ROOT")
	setString(&c.State.Backend, "STATE_BACKEND")
	setString(&c.State.Path, "STATE_FILE")
	setString(&c.State.Redis.Addr, "REDIS_ADDR")
	setString(&c.State.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Agents.Dir, "AGENTS_DIR")
	setString(&c.Server.Addr, "SERVER_ADDR")
	setString(&c.Log.Level, "LOG_LEVEL")
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Log.OutputPaths = []string{"stdout", v}
	}
	if v := os.Getenv("DRAFT_AGENTS"); v != "" {
		c.Agents.Draft = splitList(v)
	}
	if v := os.Getenv("EXECUTOR_COMMAND"); v != "" {
		c.Executor.Command = strings.Fields(v)
	}
	c.applyArchiveEnv()

	ints := []struct {
		key string
		dst *int
	}{
		{"MAX_BATCHES_PER_HOUR", &c.RateLimit.MaxBatchesPerHour},
		{"MIN_BATCH_INTERVAL_MINUTES", &c.RateLimit.MinBatchIntervalMinutes},
		{"QUEUE_CHECK_INTERVAL_SECONDS", &c.Queue.CheckIntervalSeconds},
		{"BATCH_POLL_INTERVAL_SECONDS", &c.Batch.PollIntervalSeconds},
		{"BATCH_TIMEOUT_HOURS", &c.Batch.TimeoutHours},
		{"REDIS_DB", &c.State.Redis.DB},
	}
	for _, e := range ints {
		if err := setInt(e.dst, e.key); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects settings the orchestrator cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.RateLimit.MaxBatchesPerHour <= 0 {
		errs = append(errs, fmt.Errorf("MAX_BATCHES_PER_HOUR must be positive, got %d", c.RateLimit.MaxBatchesPerHour))
	}
	if c.RateLimit.MinBatchIntervalMinutes < 0 {
		errs = append(errs, fmt.Errorf("MIN_BATCH_INTERVAL_MINUTES must not be negative, got %d", c.RateLimit.MinBatchIntervalMinutes))
	}
	if c.Queue.CheckIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("QUEUE_CHECK_INTERVAL_SECONDS must be positive, got %d", c.Queue.CheckIntervalSeconds))
	}
	if c.Batch.PollIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("BATCH_POLL_INTERVAL_SECONDS must be positive, got %d", c.Batch.PollIntervalSeconds))
	}
	if c.Batch.TimeoutHours <= 0 {
		errs = append(errs, fmt.Errorf("BATCH_TIMEOUT_HOURS must be positive, got %d", c.Batch.TimeoutHours))
	}
	if c.QueueRoot == "" {
		errs = append(errs, errors.New("queue root must not be empty"))
	}
	switch c.State.Backend {
	case StateBackendFile, StateBackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown STATE_BACKEND %q", c.State.Backend))
	}
	return errors.Join(errs...)
}

// RequireAPIKey fails when no API key is configured. Only commands that
// submit batches call it.
func (c *Config) RequireAPIKey() error {
	if c.API.APIKey == "" {
		return errors.New("ANTHROPIC_API_KEY not set: create a .env file or export it")
	}
	return nil
}

func (c *Config) LogFile() string {
	return filepath.Join("logs", fmt.Sprintf("prp-orchestrator-%s.log", c.Environment))
}

func (c *Config) MinBatchInterval() time.Duration {
	return time.Duration(c.RateLimit.MinBatchIntervalMinutes) * time.Minute
}

func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Queue.CheckIntervalSeconds) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Batch.PollIntervalSeconds) * time.Second
}

func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.Batch.TimeoutHours) * time.Hour
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.API.HTTPTimeoutSeconds) * time.Second
}

func (c *Config) ExecutorTimeout() time.Duration {
	return time.Duration(c.Executor.TimeoutMinutes) * time.Minute
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
