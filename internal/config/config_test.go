package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "127.0.0.1"

pipeline:
  enrich_workers: 8
  draft_workers: 3
  dispatch_workers: 4
  stage_timeout_seconds: 45
  max_stage_attempts: 5

scoring:
  neutral_score: 0.4
  weights:
    stage: 2.0
    sector: 1.5

drafting:
  model_id: "anthropic.claude-3-haiku-20240307-v1:0"
  max_corrective_attempts: 1

follow_up:
  default_reply_sla_hours: 48
  default_max_follow_ups: 3

rate_limits:
  dispatch:
    per_second: 1
    per_minute: 30
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	// Test server config
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr())

	// Test pipeline config
	assert.Equal(t, 8, cfg.Pipeline.EnrichWorkers)
	assert.Equal(t, 3, cfg.Pipeline.DraftWorkers)
	assert.Equal(t, 4, cfg.Pipeline.DispatchWorkers)
	assert.Equal(t, 45, cfg.Pipeline.StageTimeoutSeconds)
	assert.Equal(t, 5, cfg.Pipeline.MaxStageAttempts)

	// Test scoring config
	assert.Equal(t, 0.4, cfg.Scoring.NeutralScore)
	assert.Equal(t, 2.0, cfg.Scoring.Weights.Stage)
	assert.Equal(t, 1.5, cfg.Scoring.Weights.Sector)

	// Test drafting config
	assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", cfg.Drafting.ModelID)
	assert.Equal(t, 1, cfg.Drafting.MaxCorrectiveAttempts)

	// Test follow-up config
	assert.Equal(t, 48, cfg.FollowUp.DefaultReplySLAHours)
	assert.Equal(t, 3, cfg.FollowUp.DefaultMaxFollowUps)

	// Test rate limit config
	assert.Equal(t, 1, cfg.RateLimits["dispatch"].PerSecond)
	assert.Equal(t, 30, cfg.RateLimits["dispatch"].PerMinute)
}

func TestLoadDefaults(t *testing.T) {
	// Create a minimal config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9000
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	// Verify defaults are applied
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 4, cfg.Pipeline.EnrichWorkers)
	assert.Equal(t, 3, cfg.Pipeline.MaxStageAttempts)
	assert.Equal(t, 0.5, cfg.Scoring.NeutralScore)
	assert.Equal(t, 1.0, cfg.Scoring.Weights.PortfolioSynergy)
	assert.Equal(t, 72, cfg.FollowUp.DefaultReplySLAHours)
	assert.Equal(t, "bedrock", cfg.Drafting.Provider)
	assert.Equal(t, "local", cfg.Reports.StorageType)
	assert.Equal(t, 60, cfg.RateLimits["dispatch"].PerMinute)
}

func TestLoadFromEnv(t *testing.T) {
	// Create a minimal config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
dispatch:
  access_key: "file-key"
  region: "us-west-2"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	// Set environment variables
	os.Setenv("AWS_SES_ACCESS_KEY", "env-key")
	os.Setenv("DATABASE_URL", "postgres://env-host/outreach")
	defer func() {
		os.Unsetenv("AWS_SES_ACCESS_KEY")
		os.Unsetenv("DATABASE_URL")
	}()

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	// Environment variables should override file values
	assert.Equal(t, "env-key", cfg.Dispatch.AccessKey)
	assert.Equal(t, "postgres://env-host/outreach", cfg.Database.URL)
	// Untouched file values survive
	assert.Equal(t, "us-west-2", cfg.Dispatch.Region)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestTimeout(t *testing.T) {
	cfg := DraftingConfig{TimeoutSeconds: 45}
	assert.Equal(t, 45*1000000000, int(cfg.Timeout().Nanoseconds()))
}

func TestReplySLA(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("follow_up:\n  tick_seconds: 10\n"), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 10*1000000000, int(cfg.FollowUp.Tick().Nanoseconds()))
}
