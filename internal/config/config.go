// Package config loads the daemon's startup configuration from a JSON
// file plus environment overrides for secrets.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Config is everything privadexd needs to start.
type Config struct {
	Server      ServerConfig      `json:"server"`
	Worker      WorkerConfig      `json:"worker"`
	Coordinator CoordinatorConfig `json:"coordinator"`
	PlanStore   PlanStoreConfig   `json:"plan_store"`
	Queue       QueueConfig       `json:"queue"`
	Logging     LoggingConfig     `json:"logging"`
	Alerting    AlertingConfig    `json:"alerting"`
	Signer      SignerConfig      `json:"signer"`
	// RegistryPath points at the chains.yaml registry file.
	RegistryPath string `json:"registry_path"`
}

// ServerConfig controls the operator API listener.
type ServerConfig struct {
	Address string `json:"address"`
}

// WorkerConfig bounds the driver loop.
type WorkerConfig struct {
	ID                        string `json:"id"`
	PollIntervalSeconds       int    `json:"poll_interval_seconds"`
	IterationBudgetSeconds    int    `json:"iteration_budget_seconds"`
	MaxActionsPerIteration    int    `json:"max_actions_per_iteration"`
	RetryBudget               int    `json:"retry_budget"`
	LeaseSeconds              int    `json:"lease_seconds"`
	DestArrivalWarningSeconds int    `json:"dest_arrival_warning_seconds"`
}

// PollInterval returns the enumeration pacing.
func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalSeconds) * time.Second
}

// IterationBudget returns the per-plan wall budget.
func (w WorkerConfig) IterationBudget() time.Duration {
	return time.Duration(w.IterationBudgetSeconds) * time.Second
}

// Lease returns the plan lease duration.
func (w WorkerConfig) Lease() time.Duration {
	return time.Duration(w.LeaseSeconds) * time.Second
}

// DestArrivalWarning returns how long a bridge may sit unobserved before
// the operator is warned.
func (w WorkerConfig) DestArrivalWarning() time.Duration {
	return time.Duration(w.DestArrivalWarningSeconds) * time.Second
}

// CoordinatorConfig selects the coordinator store backend.
type CoordinatorConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig describes the Redis connection.
type RedisConfig struct {
	Address     string `json:"address"`
	PasswordEnv string `json:"password_env"`
	DB          int    `json:"db"`
	KeyPrefix   string `json:"key_prefix"`
}

// Password resolves the Redis password from the configured env var.
func (r RedisConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// PlanStoreConfig selects the plan repository backend.
type PlanStoreConfig struct {
	Driver                 string `json:"driver"`
	DSNEnv                 string `json:"dsn_env"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// DSN resolves the MySQL DSN from the configured env var.
func (p PlanStoreConfig) DSN() string {
	if p.DSNEnv == "" {
		return os.Getenv("PRIVADEX_MYSQL_DSN")
	}
	return os.Getenv(p.DSNEnv)
}

// QueueConfig selects the wake-up queue backend.
type QueueConfig struct {
	Driver   string         `json:"driver"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig describes the broker connection.
type RabbitMQConfig struct {
	URLEnv     string `json:"url_env"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// URL resolves the broker URL from the configured env var.
func (r RabbitMQConfig) URL() string {
	if r.URLEnv == "" {
		return os.Getenv("PRIVADEX_RABBITMQ_URL")
	}
	return os.Getenv(r.URLEnv)
}

// LoggingConfig mirrors pkg/logger.Config.
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	Audit       struct {
		Enabled    bool   `json:"enabled"`
		Path       string `json:"path"`
		MaxSizeMB  int    `json:"max_size_mb"`
		MaxBackups int    `json:"max_backups"`
	} `json:"audit"`
}

// AlertingConfig routes operator warnings.
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// SignerConfig names the env vars holding the signing material. The keys
// themselves never appear in the config file.
type SignerConfig struct {
	EVMKeyEnv          string `json:"evm_key_env"`
	SubstrateSecretEnv string `json:"substrate_secret_env"`
	SS58Prefix         uint16 `json:"ss58_prefix"`
}

// EVMKey resolves the EVM signer key.
func (s SignerConfig) EVMKey() string {
	env := s.EVMKeyEnv
	if env == "" {
		env = "PRIVADEX_EVM_KEY"
	}
	return os.Getenv(env)
}

// SubstrateSecret resolves the Substrate signer secret.
func (s SignerConfig) SubstrateSecret() string {
	env := s.SubstrateSecretEnv
	if env == "" {
		env = "PRIVADEX_SUBSTRATE_SECRET"
	}
	return os.Getenv(env)
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.RegistryPath == "" {
		return errors.New("registry_path is required")
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Worker.LeaseSeconds <= 0 {
		c.Worker.LeaseSeconds = 60
	}
	switch c.Coordinator.Driver {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("unknown coordinator driver %q", c.Coordinator.Driver)
	}
	switch c.PlanStore.Driver {
	case "", "memory", "mysql":
	default:
		return fmt.Errorf("unknown plan store driver %q", c.PlanStore.Driver)
	}
	switch c.Queue.Driver {
	case "", "memory", "rabbitmq":
	default:
		return fmt.Errorf("unknown queue driver %q", c.Queue.Driver)
	}
	return nil
}
