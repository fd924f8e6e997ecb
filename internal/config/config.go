// Package config loads brokerd's configuration from an optional YAML
// file plus environment variable overrides, adapted from the platform's
// godotenv + envdecode + yaml.v3 loader.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP transport.
type ServerConfig struct {
	Host string `json:"host" env:"SERVER_HOST"`
	Port int    `json:"port" env:"SERVER_PORT"`
}

// LoggingConfig controls the application/access/audit loggers.
type LoggingConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL"`
	Format string `json:"format" env:"LOG_FORMAT"`
}

// QuotaConfig holds entity-count ceilings as loaded configuration. The
// entity store does not read it: it enforces its own fixed ceilings.
type QuotaConfig struct {
	MaxQueues                int `json:"max_queues" env:"QUOTA_MAX_QUEUES"`
	MaxTopics                int `json:"max_topics" env:"QUOTA_MAX_TOPICS"`
	MaxSubscriptionsPerTopic int `json:"max_subscriptions_per_topic" env:"QUOTA_MAX_SUBSCRIPTIONS_PER_TOPIC"`
	MaxRulesPerSubscription  int `json:"max_rules_per_subscription" env:"QUOTA_MAX_RULES_PER_SUBSCRIPTION"`
}

// RateLimitConfig holds C7's token-bucket settings. Only IngressRate and
// IngressBurst are read (by the broker's ingress limiter); the per-entity
// limiter uses the ratelimit package's default rates, not QueueRate,
// TopicRate or SubscriptionRate.
type RateLimitConfig struct {
	QueueRate        float64 `json:"queue_rate" env:"RATELIMIT_QUEUE_RATE"`
	TopicRate        float64 `json:"topic_rate" env:"RATELIMIT_TOPIC_RATE"`
	SubscriptionRate float64 `json:"subscription_rate" env:"RATELIMIT_SUBSCRIPTION_RATE"`
	IngressRate      float64 `json:"ingress_rate" env:"RATELIMIT_INGRESS_RATE"`
	IngressBurst     int     `json:"ingress_burst" env:"RATELIMIT_INGRESS_BURST"`
}

// JanitorConfig controls the background sweep cadence (spec A6).
type JanitorConfig struct {
	SweepIntervalSeconds int `json:"sweep_interval_seconds" env:"JANITOR_SWEEP_INTERVAL_SECONDS"`
}

// DeadlineConfig controls the per-operation-kind default deadlines (spec
// §5: "Send 30s, Receive 60s, Admin 30s, Lock 10s, Session 60s").
type DeadlineConfig struct {
	SendSeconds    int `json:"send_seconds" env:"DEADLINE_SEND_SECONDS"`
	ReceiveSeconds int `json:"receive_seconds" env:"DEADLINE_RECEIVE_SECONDS"`
	AdminSeconds   int `json:"admin_seconds" env:"DEADLINE_ADMIN_SECONDS"`
	LockSeconds    int `json:"lock_seconds" env:"DEADLINE_LOCK_SECONDS"`
	SessionSeconds int `json:"session_seconds" env:"DEADLINE_SESSION_SECONDS"`
}

// Send returns the configured Send deadline as a Duration.
func (d DeadlineConfig) Send() time.Duration { return time.Duration(d.SendSeconds) * time.Second }

// Receive returns the configured Receive deadline as a Duration.
func (d DeadlineConfig) Receive() time.Duration { return time.Duration(d.ReceiveSeconds) * time.Second }

// Admin returns the configured Admin deadline as a Duration.
func (d DeadlineConfig) Admin() time.Duration { return time.Duration(d.AdminSeconds) * time.Second }

// Lock returns the configured Lock deadline as a Duration.
func (d DeadlineConfig) Lock() time.Duration { return time.Duration(d.LockSeconds) * time.Second }

// Session returns the configured Session deadline as a Duration.
func (d DeadlineConfig) Session() time.Duration { return time.Duration(d.SessionSeconds) * time.Second }

// Config is brokerd's top-level configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Quota     QuotaConfig     `json:"quota"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Janitor   JanitorConfig   `json:"janitor"`
	Deadlines DeadlineConfig  `json:"deadlines"`
}

// New returns a Config populated with the broker's defaults.
func New() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Quota: QuotaConfig{
			MaxQueues:                100,
			MaxTopics:                100,
			MaxSubscriptionsPerTopic: 2000,
			MaxRulesPerSubscription:  100,
		},
		RateLimit: RateLimitConfig{
			QueueRate:        100,
			TopicRate:        1000,
			SubscriptionRate: 100,
			IngressRate:      500,
			IngressBurst:     1000,
		},
		Janitor: JanitorConfig{SweepIntervalSeconds: 5},
		Deadlines: DeadlineConfig{
			SendSeconds:    30,
			ReceiveSeconds: 60,
			AdminSeconds:   30,
			LockSeconds:    10,
			SessionSeconds: 60,
		},
	}
}

// Load reads an optional .env file, an optional YAML config file
// (CONFIG_FILE, defaulting to configs/brokerd.yaml), then applies
// environment-variable overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/brokerd.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
