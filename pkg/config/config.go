// Package config loads orchestrator configuration from the environment and
// the worker spec from a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds orchestrator runtime configuration.
type Config struct {
	Slot             string
	StatePath        string
	WorkerSpec       string // path to the worker spec YAML
	QueueBackend     string // "redis" or "memory"
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	QueueName        string
	SecretsBackend   string // "aws" or "env"
	ArtifactsBackend string // "s3" or "memory"

	PollInterval      time.Duration
	ProvisionBackoff  time.Duration
	ProvisionCap      time.Duration
	ProvisionAttempts int
	ReadyInterval     time.Duration
	ReadyDeadline     time.Duration
	ConfigureAttempts int
	WorkRetryLimit    int
	IdleTimeout       time.Duration
	MaxLifetime       time.Duration
	StallThreshold    time.Duration
	DestroyBackoffCap time.Duration
}

// Load reads configuration from environment variables, applying defaults
// for everything unset.
func Load() *Config {
	return &Config{
		Slot:             envStr("STOKER_SLOT", "default"),
		StatePath:        envStr("STOKER_STATE_PATH", "stoker.db"),
		WorkerSpec:       envStr("STOKER_WORKER_SPEC", "worker.yaml"),
		QueueBackend:     envStr("STOKER_QUEUE", "redis"),
		RedisAddr:        envStr("STOKER_REDIS_ADDR", "localhost:6379"),
		RedisPassword:    os.Getenv("STOKER_REDIS_PASSWORD"),
		RedisDB:          envInt("STOKER_REDIS_DB", 0),
		QueueName:        envStr("STOKER_QUEUE_NAME", "stoker:work"),
		SecretsBackend:   envStr("STOKER_SECRETS", "aws"),
		ArtifactsBackend: envStr("STOKER_ARTIFACTS", "s3"),

		PollInterval:      envDur("STOKER_POLL_INTERVAL", 15*time.Second),
		ProvisionBackoff:  envDur("STOKER_PROVISION_BACKOFF", 5*time.Second),
		ProvisionCap:      envDur("STOKER_PROVISION_BACKOFF_CAP", 60*time.Second),
		ProvisionAttempts: envInt("STOKER_PROVISION_ATTEMPTS", 5),
		ReadyInterval:     envDur("STOKER_READY_INTERVAL", 10*time.Second),
		ReadyDeadline:     envDur("STOKER_READY_DEADLINE", 5*time.Minute),
		ConfigureAttempts: envInt("STOKER_CONFIGURE_ATTEMPTS", 3),
		WorkRetryLimit:    envInt("STOKER_WORK_RETRY_LIMIT", 3),
		IdleTimeout:       envDur("STOKER_IDLE_TIMEOUT", 10*time.Minute),
		MaxLifetime:       envDur("STOKER_MAX_LIFETIME", 4*time.Hour),
		StallThreshold:    envDur("STOKER_STALL_THRESHOLD", time.Hour),
		DestroyBackoffCap: envDur("STOKER_DESTROY_BACKOFF_CAP", time.Minute),
	}
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.Slot == "" {
		return fmt.Errorf("slot name is required")
	}
	if c.QueueBackend != "redis" && c.QueueBackend != "memory" {
		return fmt.Errorf("unknown queue backend %q", c.QueueBackend)
	}
	if c.SecretsBackend != "aws" && c.SecretsBackend != "env" {
		return fmt.Errorf("unknown secrets backend %q", c.SecretsBackend)
	}
	if c.ArtifactsBackend != "s3" && c.ArtifactsBackend != "memory" {
		return fmt.Errorf("unknown artifacts backend %q", c.ArtifactsBackend)
	}
	if c.PollInterval <= 0 || c.IdleTimeout <= 0 || c.MaxLifetime <= 0 {
		return fmt.Errorf("poll interval, idle timeout, and max lifetime must be positive")
	}
	if c.ProvisionAttempts < 1 || c.ConfigureAttempts < 1 || c.WorkRetryLimit < 1 {
		return fmt.Errorf("retry budgets must be at least 1")
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
