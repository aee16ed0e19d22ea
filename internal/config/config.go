package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the yaml-backed tuning surface. Connection endpoints (DB, redis,
// NATS) come from the environment in main; this file carries behavior knobs.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Presence struct {
		OnlineThresholdSeconds   int `yaml:"online_threshold_seconds"`
		TypingTTLSeconds         int `yaml:"typing_ttl_seconds"`
		HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`
	} `yaml:"presence"`

	Sweeper struct {
		IntervalSeconds int `yaml:"interval_seconds"`
		WorkerPoolSize  int `yaml:"worker_pool_size"`
	} `yaml:"sweeper"`

	Dispatch struct {
		NatsSubjectPrefix  string `yaml:"nats_subject_prefix"`
		SirenSubjectPrefix string `yaml:"siren_subject_prefix"`
		PublishRetryMax    int    `yaml:"publish_retry_max"`
		DedupTTLSeconds    int    `yaml:"dedup_ttl_seconds"`
		DedupMaxKeys       int    `yaml:"dedup_max_keys"`
		FeedPollMs         int    `yaml:"feed_poll_ms"`
	} `yaml:"dispatch"`

	Chat struct {
		MaxBodyBytes int `yaml:"max_body_bytes"`
	} `yaml:"chat"`

	RateLimit struct {
		Create struct {
			Rate          int `yaml:"rate"`
			WindowSeconds int `yaml:"window_seconds"`
		} `yaml:"create"`
	} `yaml:"rate_limit"`
}

func defaults() *Config {
	var c Config
	c.Server.Addr = ":8090"
	c.Presence.OnlineThresholdSeconds = 20
	c.Presence.TypingTTLSeconds = 3
	c.Presence.HeartbeatIntervalSeconds = 10
	c.Sweeper.IntervalSeconds = 20
	c.Sweeper.WorkerPoolSize = 4
	c.Dispatch.NatsSubjectPrefix = "guardian.alert"
	c.Dispatch.SirenSubjectPrefix = "guardian.siren"
	c.Dispatch.PublishRetryMax = 3
	c.Dispatch.DedupTTLSeconds = 300
	c.Dispatch.DedupMaxKeys = 4096
	c.Dispatch.FeedPollMs = 500
	c.Chat.MaxBodyBytes = 4096
	c.RateLimit.Create.Rate = 5
	c.RateLimit.Create.WindowSeconds = 60
	return &c
}

// Load reads the yaml file over the defaults. A missing file is not an
// error: the defaults stand.
func Load(path string) (*Config, error) {
	c := defaults()

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) OnlineThreshold() time.Duration {
	return time.Duration(c.Presence.OnlineThresholdSeconds) * time.Second
}

func (c *Config) TypingTTL() time.Duration {
	return time.Duration(c.Presence.TypingTTLSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweeper.IntervalSeconds) * time.Second
}

func (c *Config) DedupTTL() time.Duration {
	return time.Duration(c.Dispatch.DedupTTLSeconds) * time.Second
}

func (c *Config) FeedPollInterval() time.Duration {
	return time.Duration(c.Dispatch.FeedPollMs) * time.Millisecond
}

func (c *Config) CreateWindow() time.Duration {
	return time.Duration(c.RateLimit.Create.WindowSeconds) * time.Second
}
