package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
security:
  trigger_secret: cron-secret
  encryption_key: 000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f
database:
  type: sqlite
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 5334, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "airlume.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Minute, Duration(cfg.Scheduler.Interval))
	assert.Equal(t, 10*time.Minute, Duration(cfg.Scheduler.ClaimTimeout))
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, "aes-256-gcm", cfg.Security.Cipher)
	assert.Equal(t, "https://bsky.social", cfg.Publisher.Bluesky.ServiceURL)
	assert.Equal(t, "http", cfg.Media.Type)
}

func TestLoadConfig_RequiresSecrets(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encryption_key")
}

func TestValidate_RejectsBadDuration(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Security.EncryptionKey = "k"
	cfg.Security.TriggerSecret = "s"
	cfg.Scheduler.Interval = "every five minutes"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler.interval")
}

func validConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Security.EncryptionKey = "k"
	cfg.Security.TriggerSecret = "s"
	return cfg
}

func TestWorstCaseClaim_Defaults(t *testing.T) {
	cfg := validConfig()

	// 30s media + 3*60s publish + 2s + 4s backoff
	assert.Equal(t, 216*time.Second, cfg.WorstCaseClaim())
	assert.NoError(t, cfg.Validate())
}

func TestWorstCaseClaim_CapsBackoff(t *testing.T) {
	cfg := validConfig()
	cfg.Retry.MaxAttempts = 5
	cfg.Retry.BaseBackoff = "10s"
	cfg.Retry.MaxBackoff = "15s"

	// 30s + 5*60s + 10s + 15s + 15s + 15s
	assert.Equal(t, 385*time.Second, cfg.WorstCaseClaim())
}

func TestValidate_RejectsUnsafeClaimTimeout(t *testing.T) {
	tests := []struct {
		name    string
		timeout string
		want    string
	}{
		{name: "zero", timeout: "0s", want: "must be positive"},
		{name: "negative", timeout: "-5m", want: "must be positive"},
		{name: "shorter than a publish", timeout: "90s", want: "must exceed"},
		{name: "equal to the worst case", timeout: "216s", want: "must exceed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Scheduler.ClaimTimeout = tt.timeout

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "scheduler.claim_timeout")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_AcceptsClaimTimeoutAboveWorstCase(t *testing.T) {
	cfg := validConfig()
	cfg.Scheduler.ClaimTimeout = "217s"

	assert.NoError(t, cfg.Validate())
}
