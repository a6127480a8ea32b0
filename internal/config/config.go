package config

import (
	"fmt"
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"
	"github.com/joho/godotenv"

	"github.com/educlopez/airlume/pkg/logger"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Logger     logger.Config    `yaml:"logger"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Retry      RetryConfig      `yaml:"retry"`
	Security   SecurityConfig   `yaml:"security"`
	Publisher  PublisherConfig  `yaml:"publisher"`
	Media      MediaConfig      `yaml:"media"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type ServerConfig struct {
	Port        int      `yaml:"port"`
	Host        string   `yaml:"host"`
	Mode        string   `yaml:"mode"`
	CertFile    string   `yaml:"cert_file"`
	KeyFile     string   `yaml:"key_file"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"` // "postgres" or "sqlite"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
	Path     string `yaml:"path"` // sqlite only
}

type SchedulerConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Interval     string `yaml:"interval"`
	Workers      int    `yaml:"workers"`
	ClaimTimeout string `yaml:"claim_timeout"`
	MaxClaims    int    `yaml:"max_claims"`
}

type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseBackoff string `yaml:"base_backoff"`
	MaxBackoff  string `yaml:"max_backoff"`
}

type SecurityConfig struct {
	// TriggerSecret authenticates the dispatch trigger and the internal API.
	TriggerSecret string `yaml:"trigger_secret"`
	// EncryptionKey is the 32-byte credential key, hex or base64 encoded.
	EncryptionKey string `yaml:"encryption_key"`
	Cipher        string `yaml:"cipher"`
}

type PublisherConfig struct {
	Twitter  TwitterConfig  `yaml:"twitter"`
	Bluesky  BlueskyConfig  `yaml:"bluesky"`
	LinkedIn LinkedInConfig `yaml:"linkedin"`
	Timeout  string         `yaml:"timeout"`
}

type TwitterConfig struct {
	Enabled        bool   `yaml:"enabled"`
	BaseURL        string `yaml:"base_url"`
	UploadURL      string `yaml:"upload_url"`
	MediaEnabled   bool   `yaml:"media_enabled"`
	ConsumerKey    string `yaml:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret"`
}

type BlueskyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ServiceURL string `yaml:"service_url"`
}

type LinkedInConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

type MediaConfig struct {
	Type    string `yaml:"type"` // "http" or "s3"
	Timeout string `yaml:"timeout"`
	MaxSize int64  `yaml:"max_size"`
	// AllowedHosts limits image URLs to these hosts and their subdomains.
	// Internal addresses are refused either way.
	AllowedHosts []string `yaml:"allowed_hosts"`
	S3           S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

type MonitoringConfig struct {
	StatsInterval string `yaml:"stats_interval"`
	RetentionDays int    `yaml:"retention_days"`
}

func LoadConfig(configPath string) (*Config, error) {
	// A missing .env file is fine, the environment may already be populated
	_ = godotenv.Load()

	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyDefaults fills zero values the same way LoadConfig does.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5334
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "airlume.db"
	}
	if cfg.Scheduler.Interval == "" {
		cfg.Scheduler.Interval = "5m"
	}
	if cfg.Scheduler.Workers == 0 {
		cfg.Scheduler.Workers = 4
	}
	if cfg.Scheduler.ClaimTimeout == "" {
		cfg.Scheduler.ClaimTimeout = "10m"
	}
	if cfg.Scheduler.MaxClaims == 0 {
		cfg.Scheduler.MaxClaims = 3
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseBackoff == "" {
		cfg.Retry.BaseBackoff = "2s"
	}
	if cfg.Retry.MaxBackoff == "" {
		cfg.Retry.MaxBackoff = "30s"
	}
	if cfg.Security.Cipher == "" {
		cfg.Security.Cipher = "aes-256-gcm"
	}
	if cfg.Publisher.Timeout == "" {
		cfg.Publisher.Timeout = "60s"
	}
	if cfg.Publisher.Twitter.BaseURL == "" {
		cfg.Publisher.Twitter.BaseURL = "https://api.twitter.com"
	}
	if cfg.Publisher.Twitter.UploadURL == "" {
		cfg.Publisher.Twitter.UploadURL = "https://upload.twitter.com"
	}
	if cfg.Publisher.Bluesky.ServiceURL == "" {
		cfg.Publisher.Bluesky.ServiceURL = "https://bsky.social"
	}
	if cfg.Publisher.LinkedIn.BaseURL == "" {
		cfg.Publisher.LinkedIn.BaseURL = "https://api.linkedin.com"
	}
	if cfg.Media.Type == "" {
		cfg.Media.Type = "http"
	}
	if cfg.Media.Timeout == "" {
		cfg.Media.Timeout = "30s"
	}
	if cfg.Media.MaxSize == 0 {
		cfg.Media.MaxSize = 5 << 20
	}
	if cfg.Media.S3.Region == "" {
		cfg.Media.S3.Region = "auto"
	}
	if cfg.Monitoring.StatsInterval == "" {
		cfg.Monitoring.StatsInterval = "15m"
	}
	if cfg.Monitoring.RetentionDays == 0 {
		cfg.Monitoring.RetentionDays = 90
	}
}

// Validate checks the settings that have no sensible default.
func (c *Config) Validate() error {
	durations := map[string]string{
		"scheduler.interval":        c.Scheduler.Interval,
		"scheduler.claim_timeout":   c.Scheduler.ClaimTimeout,
		"retry.base_backoff":        c.Retry.BaseBackoff,
		"retry.max_backoff":         c.Retry.MaxBackoff,
		"publisher.timeout":         c.Publisher.Timeout,
		"media.timeout":             c.Media.Timeout,
		"monitoring.stats_interval": c.Monitoring.StatsInterval,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
	}

	if err := c.validateClaimTimeout(); err != nil {
		return err
	}

	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("security.encryption_key is required")
	}
	if c.Security.TriggerSecret == "" {
		return fmt.Errorf("security.trigger_secret is required")
	}

	return nil
}

// validateClaimTimeout rejects claim timeouts that a live worker could
// outlast. A row reclaimed while its first publish is still running would be
// posted twice.
func (c *Config) validateClaimTimeout() error {
	claimTimeout := Duration(c.Scheduler.ClaimTimeout)
	if claimTimeout <= 0 {
		return fmt.Errorf("scheduler.claim_timeout must be positive, got %q", c.Scheduler.ClaimTimeout)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if worst := c.WorstCaseClaim(); claimTimeout <= worst {
		return fmt.Errorf("scheduler.claim_timeout %s must exceed the longest a claim can be held (%s)", claimTimeout, worst)
	}
	return nil
}

// WorstCaseClaim is the longest one worker can hold a claimed row: the media
// fetch, every publish attempt timing out, and the backoff between them.
func (c *Config) WorstCaseClaim() time.Duration {
	attempts := c.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	base, maxBackoff := Duration(c.Retry.BaseBackoff), Duration(c.Retry.MaxBackoff)

	total := Duration(c.Media.Timeout) + time.Duration(attempts)*Duration(c.Publisher.Timeout)
	wait := base
	for i := 1; i < attempts; i++ {
		if maxBackoff > 0 && wait > maxBackoff {
			wait = maxBackoff
		}
		total += wait
		wait *= 2
	}
	return total
}

// Duration parses a duration that Validate has already checked.
func Duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}
