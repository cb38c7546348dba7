// Package config provides the configuration structure for the emotion-tts service.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Cache backends.
const (
	CacheBackendNATS     = "nats"
	CacheBackendMemory   = "memory"
	CacheBackendPostgres = "postgres"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultRequestSubject      = "audio.requested"
	DefaultAudioBucket         = "EMOTION_TTS_AUDIO"
	DefaultCacheBucket         = "EMOTION_TTS_CACHE"
	DefaultUsersBucket         = "JOURNAL_USERS"
	DefaultRecordsBucket       = "JOURNAL_RECORDS"
	DefaultProviderTimeoutSecs = 30
	DefaultAudioFormat         = "mp3"
	DefaultRetentionDays       = 30
	DefaultWorkerConcurrency   = 8
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL               string `toml:"url"`
	RequestSubject    string `toml:"request_subject"`
	AudioBucket       string `toml:"audio_object_store_bucket"`
	CacheBucket       string `toml:"cache_kv_bucket"`
	UsersBucket       string `toml:"users_kv_bucket"`
	RecordsBucket     string `toml:"records_kv_bucket"`
	WorkerConcurrency int    `toml:"worker_concurrency"`
}

// ProviderConfig holds the speech synthesis provider endpoint and defaults.
type ProviderConfig struct {
	Endpoint       string `toml:"endpoint"`
	ClientID       string `toml:"client_id"`
	ClientSecret   string `toml:"client_secret"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	DefaultVoice   string `toml:"default_voice"`
	AudioFormat    string `toml:"audio_format"`
}

// Timeout returns the per-call provider timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// CacheConfig selects and configures the cache store.
type CacheConfig struct {
	Backend       string `toml:"backend"`
	PostgresDSN   string `toml:"postgres_dsn"`
	RetentionDays int    `toml:"retention_days"`
}

// Retention is how long an unused entry is kept before it counts as stale.
func (c CacheConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// BlobConfig holds the settings of the audio blob store.
type BlobConfig struct {
	PublicBaseURL string `toml:"public_base_url"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS     NATSConfig     `toml:"nats"`
	Provider ProviderConfig `toml:"provider"`
	Cache    CacheConfig    `toml:"cache"`
	Blob     BlobConfig     `toml:"blob"`
	Paths    PathsConfig    `toml:"paths"`
}

// Load loads, defaults and validates the configuration for the emotion-tts service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills optional fields left empty.
func (c *Config) ApplyDefaults() {
	if c.NATS.RequestSubject == "" {
		c.NATS.RequestSubject = DefaultRequestSubject
	}

	if c.NATS.AudioBucket == "" {
		c.NATS.AudioBucket = DefaultAudioBucket
	}

	if c.NATS.CacheBucket == "" {
		c.NATS.CacheBucket = DefaultCacheBucket
	}

	if c.NATS.UsersBucket == "" {
		c.NATS.UsersBucket = DefaultUsersBucket
	}

	if c.NATS.RecordsBucket == "" {
		c.NATS.RecordsBucket = DefaultRecordsBucket
	}

	if c.NATS.WorkerConcurrency <= 0 {
		c.NATS.WorkerConcurrency = DefaultWorkerConcurrency
	}

	if c.Provider.TimeoutSeconds <= 0 {
		c.Provider.TimeoutSeconds = DefaultProviderTimeoutSecs
	}

	if c.Provider.AudioFormat == "" {
		c.Provider.AudioFormat = DefaultAudioFormat
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheBackendNATS
	}

	if c.Cache.RetentionDays <= 0 {
		c.Cache.RetentionDays = DefaultRetentionDays
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var problems []error

	if c.NATS.URL == "" {
		problems = append(problems, errors.New("nats.url is required"))
	}

	if c.Provider.Endpoint == "" {
		problems = append(problems, errors.New("provider.endpoint is required"))
	}

	if c.Provider.ClientID == "" || c.Provider.ClientSecret == "" {
		problems = append(problems, errors.New("provider.client_id and provider.client_secret are required"))
	}

	if c.Provider.DefaultVoice == "" {
		problems = append(problems, errors.New("provider.default_voice is required"))
	}

	if c.Blob.PublicBaseURL == "" {
		problems = append(problems, errors.New("blob.public_base_url is required"))
	}

	if c.Paths.BaseLogsDir == "" {
		problems = append(problems, errors.New("paths.base_logs_dir is required"))
	}

	switch c.Cache.Backend {
	case CacheBackendNATS, CacheBackendMemory:
	case CacheBackendPostgres:
		if c.Cache.PostgresDSN == "" {
			problems = append(problems, errors.New("cache.postgres_dsn is required for the postgres backend"))
		}
	default:
		problems = append(problems, fmt.Errorf("cache.backend %q is not one of nats, memory, postgres", c.Cache.Backend))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(problems...))
	}

	return nil
}
