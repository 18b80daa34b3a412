package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig               `yaml:"server"`
	Database   DatabaseConfig             `yaml:"database"`
	Redis      RedisConfig                `yaml:"redis"`
	Auth       AuthConfig                 `yaml:"auth"`
	Pipeline   PipelineConfig             `yaml:"pipeline"`
	Scoring    ScoringConfig              `yaml:"scoring"`
	Enrichment EnrichmentConfig           `yaml:"enrichment"`
	Drafting   DraftingConfig             `yaml:"drafting"`
	Dispatch   DispatchConfig             `yaml:"dispatch"`
	FollowUp   FollowUpConfig             `yaml:"follow_up"`
	RateLimits map[string]RateLimitConfig `yaml:"rate_limits"`
	Reports    ReportConfig               `yaml:"reports"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"base_url"`
	DevMode bool   `yaml:"dev_mode"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the connection lifetime as a duration.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig holds Redis settings. When disabled, rate limiting and
// locking fall back to in-process implementations.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// AuthConfig holds Google OAuth authentication configuration
type AuthConfig struct {
	Enabled            bool   `yaml:"enabled"`
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	AllowedDomain      string `yaml:"allowed_domain"`
	SessionSecret      string `yaml:"session_secret"`
	CookieName         string `yaml:"cookie_name"`
	CookieMaxAge       int    `yaml:"cookie_max_age"`
}

// PipelineConfig holds orchestrator worker pool and retry settings
type PipelineConfig struct {
	EnrichWorkers       int `yaml:"enrich_workers"`
	DraftWorkers        int `yaml:"draft_workers"`
	DispatchWorkers     int `yaml:"dispatch_workers"`
	QueueSize           int `yaml:"queue_size"`
	StageTimeoutSeconds int `yaml:"stage_timeout_seconds"`
	DraftTimeoutSeconds int `yaml:"draft_timeout_seconds"`
	MaxStageAttempts    int `yaml:"max_stage_attempts"`
	BackoffBaseMS       int `yaml:"backoff_base_ms"`
	BackoffMaxMS        int `yaml:"backoff_max_ms"`
}

// StageTimeout returns the per-call timeout for external stages.
func (c PipelineConfig) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSeconds) * time.Second
}

// DraftTimeout returns the timeout for the draft stage, which runs a
// corrective generation loop and needs more room than a single call.
// Falls back to the generic stage timeout when unset.
func (c PipelineConfig) DraftTimeout() time.Duration {
	if c.DraftTimeoutSeconds <= 0 {
		return c.StageTimeout()
	}
	return time.Duration(c.DraftTimeoutSeconds) * time.Second
}

// BackoffBase returns the initial retry delay.
func (c PipelineConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

// BackoffMax returns the retry delay ceiling.
func (c PipelineConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMS) * time.Millisecond
}

// ScoringConfig holds match scoring weights and the neutral sub-score
// used when an investor criterion is absent.
type ScoringConfig struct {
	Weights      WeightsConfig `yaml:"weights"`
	NeutralScore float64       `yaml:"neutral_score"`
}

// WeightsConfig holds the relative weight of each scoring criterion.
type WeightsConfig struct {
	Stage            float64 `yaml:"stage"`
	Sector           float64 `yaml:"sector"`
	Geography        float64 `yaml:"geography"`
	CheckSize        float64 `yaml:"check_size"`
	PortfolioSynergy float64 `yaml:"portfolio_synergy"`
}

// EnrichmentConfig holds enrichment source settings
type EnrichmentConfig struct {
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	UserAgent        string `yaml:"user_agent"`
	MaxActivityItems int    `yaml:"max_activity_items"`
	DirectoryPath    string `yaml:"directory_path"`
}

// Timeout returns the per-source call timeout.
func (c EnrichmentConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DraftingConfig holds LLM draft generation settings
type DraftingConfig struct {
	Provider              string  `yaml:"provider"` // "bedrock"
	ModelID               string  `yaml:"model_id"`
	Region                string  `yaml:"region"`
	AWSProfile            string  `yaml:"aws_profile"`
	MaxTokens             int     `yaml:"max_tokens"`
	Temperature           float64 `yaml:"temperature"`
	TimeoutSeconds        int     `yaml:"timeout_seconds"`
	MaxCorrectiveAttempts int     `yaml:"max_corrective_attempts"`
}

// Timeout returns the per-generation call timeout.
func (c DraftingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DispatchConfig holds SES email delivery settings
type DispatchConfig struct {
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	FromName       string `yaml:"from_name"`
	FromEmail      string `yaml:"from_email"`
	ReplyTo        string `yaml:"reply_to"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-send call timeout.
func (c DispatchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// FollowUpConfig holds follow-up scheduler settings and the campaign
// defaults applied when a campaign omits them.
type FollowUpConfig struct {
	TickSeconds          int `yaml:"tick_seconds"`
	DefaultReplySLAHours int `yaml:"default_reply_sla_hours"`
	DefaultMaxFollowUps  int `yaml:"default_max_follow_ups"`
}

// Tick returns the scheduler sweep interval.
func (c FollowUpConfig) Tick() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

// RateLimitConfig holds per-collaborator request budgets. Zero windows
// are not enforced.
type RateLimitConfig struct {
	PerSecond int `yaml:"per_second"`
	PerMinute int `yaml:"per_minute"`
	PerHour   int `yaml:"per_hour"`
}

// ReportConfig holds campaign report persistence settings
type ReportConfig struct {
	StorageType   string `yaml:"storage_type"` // "local", "s3" or "dynamodb"
	LocalPath     string `yaml:"local_path"`
	S3Bucket      string `yaml:"s3_bucket"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	Region        string `yaml:"region"`
	AWSProfile    string `yaml:"aws_profile"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			BaseURL: "http://localhost:8080",
		},
		Database: DatabaseConfig{
			MaxOpenConns:           25,
			MaxIdleConns:           5,
			ConnMaxLifetimeMinutes: 15,
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		Auth: AuthConfig{
			CookieName:   "outreach_session",
			CookieMaxAge: 86400,
		},
		Pipeline: PipelineConfig{
			EnrichWorkers:       4,
			DraftWorkers:        2,
			DispatchWorkers:     2,
			QueueSize:           256,
			StageTimeoutSeconds: 30,
			DraftTimeoutSeconds: 180,
			MaxStageAttempts:    3,
			BackoffBaseMS:       500,
			BackoffMaxMS:        30000,
		},
		Scoring: ScoringConfig{
			Weights: WeightsConfig{
				Stage:            1.0,
				Sector:           1.0,
				Geography:        1.0,
				CheckSize:        1.0,
				PortfolioSynergy: 1.0,
			},
			NeutralScore: 0.5,
		},
		Enrichment: EnrichmentConfig{
			TimeoutSeconds:   20,
			UserAgent:        "outreach-enricher/1.0",
			MaxActivityItems: 20,
		},
		Drafting: DraftingConfig{
			Provider:              "bedrock",
			ModelID:               "anthropic.claude-3-5-sonnet-20241022-v2:0",
			Region:                "us-east-1",
			MaxTokens:             2048,
			TimeoutSeconds:        60,
			MaxCorrectiveAttempts: 2,
		},
		Dispatch: DispatchConfig{
			Region:         "us-east-1",
			FromName:       "Founder Outreach",
			TimeoutSeconds: 30,
		},
		FollowUp: FollowUpConfig{
			TickSeconds:          30,
			DefaultReplySLAHours: 72,
			DefaultMaxFollowUps:  2,
		},
		RateLimits: map[string]RateLimitConfig{
			"enrichment": {PerSecond: 5, PerMinute: 120},
			"generation": {PerMinute: 30, PerHour: 500},
			"dispatch":   {PerSecond: 2, PerMinute: 60},
		},
		Reports: ReportConfig{
			StorageType: "local",
			LocalPath:   "./reports",
			Region:      "us-east-1",
		},
	}
}

// Load reads configuration from a YAML file, filling in defaults for
// anything the file omits.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyFloor(&cfg.Pipeline.EnrichWorkers, 1)
	applyFloor(&cfg.Pipeline.DraftWorkers, 1)
	applyFloor(&cfg.Pipeline.DispatchWorkers, 1)
	applyFloor(&cfg.Pipeline.QueueSize, 16)
	applyFloor(&cfg.Pipeline.StageTimeoutSeconds, 1)
	applyFloor(&cfg.Pipeline.MaxStageAttempts, 1)
	applyFloor(&cfg.FollowUp.TickSeconds, 1)

	return cfg, nil
}

func applyFloor(v *int, floor int) {
	if *v < floor {
		*v = floor
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("DEV_MODE"); v == "true" || v == "1" {
		cfg.Server.DevMode = true
	}

	// Database override (deployment envs inject the real URL)
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
		cfg.Redis.Enabled = true
	}

	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.Dispatch.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.Dispatch.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.Dispatch.Region = region
	}
	if v := os.Getenv("DISPATCH_FROM_EMAIL"); v != "" {
		cfg.Dispatch.FromEmail = v
	}

	if v := os.Getenv("BEDROCK_MODEL_ID"); v != "" {
		cfg.Drafting.ModelID = v
	}
	if v := os.Getenv("BEDROCK_REGION"); v != "" {
		cfg.Drafting.Region = v
	}

	// Auth overrides
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Auth.GoogleClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Auth.GoogleClientSecret = v
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		cfg.Auth.SessionSecret = v
	}
	if v := os.Getenv("AUTH_ALLOWED_DOMAIN"); v != "" {
		cfg.Auth.AllowedDomain = v
		cfg.Auth.Enabled = true
	}

	if v := os.Getenv("REPORTS_S3_BUCKET"); v != "" {
		cfg.Reports.S3Bucket = v
		cfg.Reports.StorageType = "s3"
	}

	return cfg, nil
}
