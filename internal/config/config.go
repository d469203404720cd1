// Package config loads ingest settings from defaults, an optional YAML file
// and DOTA_INGEST_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"dota-ingest/internal/ingest"
	"dota-ingest/internal/opendota"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "DOTA_INGEST_"

// Cursor backends
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendLibSQL   = "libsql"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type APIConfig struct {
	BaseURL           string        `yaml:"base_url" env:"BASE_URL"`
	APIKey            string        `yaml:"api_key" env:"API_KEY"`
	Timeout           time.Duration `yaml:"timeout" env:"TIMEOUT"`
	RequestsPerMinute int           `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE"` // 0 disables pacing
	UserAgent         string        `yaml:"user_agent" env:"USER_AGENT"`
}

type BracketConfig struct {
	MinRank int `yaml:"min_rank" env:"MIN_RANK"`
	MaxRank int `yaml:"max_rank" env:"MAX_RANK"`
}

type PolicyConfig struct {
	Mode              string        `yaml:"mode" env:"MODE"` // backfill | catchup
	MaxPages          int           `yaml:"max_pages" env:"MAX_PAGES"`
	TimeBudget        time.Duration `yaml:"time_budget" env:"TIME_BUDGET"`
	OnExhausted       string        `yaml:"on_exhausted" env:"ON_EXHAUSTED"` // stop | wait
	ExhaustedWait     time.Duration `yaml:"exhausted_wait" env:"EXHAUSTED_WAIT"`
	MaxExhaustedWaits int           `yaml:"max_exhausted_waits" env:"MAX_EXHAUSTED_WAITS"`
	FetchDetails      bool          `yaml:"fetch_details" env:"FETCH_DETAILS"`
	DetailsPerPage    int           `yaml:"details_per_page" env:"DETAILS_PER_PAGE"`
	DownloadReplays   bool          `yaml:"download_replays" env:"DOWNLOAD_REPLAYS"`
	Concurrency       int           `yaml:"concurrency" env:"CONCURRENCY"`
	AbortOnItemError  bool          `yaml:"abort_on_item_error" env:"ABORT_ON_ITEM_ERROR"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
}

type ReplayConfig struct {
	Dir string `yaml:"dir" env:"DIR"`
	// Timeout bounds a whole replay download, body included
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type CursorConfig struct {
	Backend       string `yaml:"backend" env:"BACKEND"`
	Path          string `yaml:"path" env:"PATH"`             // file and sqlite backends
	DSN           string `yaml:"dsn" env:"DSN"`               // libsql and postgres backends
	AuthToken     string `yaml:"auth_token" env:"AUTH_TOKEN"` // libsql
	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB"`
	KeyPrefix     string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

type OutputConfig struct {
	// Dir receives rotating JSONL files; empty disables the file sink
	Dir          string        `yaml:"dir" env:"DIR"`
	MaxRecords   int           `yaml:"max_records" env:"MAX_RECORDS"`
	MaxFileAge   time.Duration `yaml:"max_file_age" env:"MAX_FILE_AGE"`
	Archive      bool          `yaml:"archive" env:"ARCHIVE"`
	PostgresURL  string        `yaml:"postgres_url" env:"POSTGRES_URL"`
	WebSocketURL string        `yaml:"websocket_url" env:"WEBSOCKET_URL"`
}

type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url" env:"WEBHOOK_URL"`
}

// Config is the full ingest configuration
type Config struct {
	API     APIConfig     `yaml:"api" envPrefix:"API_"`
	Bracket BracketConfig `yaml:"bracket" envPrefix:"BRACKET_"`
	Policy  PolicyConfig  `yaml:"policy" envPrefix:"POLICY_"`
	Retry   RetryConfig   `yaml:"retry" envPrefix:"RETRY_"`
	Replay  ReplayConfig  `yaml:"replay" envPrefix:"REPLAY_"`
	Cursor  CursorConfig  `yaml:"cursor" envPrefix:"CURSOR_"`
	Output  OutputConfig  `yaml:"output" envPrefix:"OUTPUT_"`
	Notify  NotifyConfig  `yaml:"notify" envPrefix:"NOTIFY_"`
}

// Default returns the built-in configuration
func Default() Config {
	p := ingest.DefaultPolicy()
	return Config{
		API: APIConfig{
			BaseURL:           opendota.DefaultBaseURL,
			Timeout:           opendota.DefaultTimeout,
			RequestsPerMinute: opendota.DefaultRequestsPerMinute,
			UserAgent:         opendota.DefaultUserAgent,
		},
		Bracket: BracketConfig{MinRank: p.Bracket.MinRank, MaxRank: p.Bracket.MaxRank},
		Policy: PolicyConfig{
			Mode:              string(p.Mode),
			MaxPages:          p.MaxPages,
			OnExhausted:       string(p.OnExhausted),
			ExhaustedWait:     p.ExhaustedWait,
			MaxExhaustedWaits: p.MaxExhaustedWaits,
			Concurrency:       p.Concurrency,
		},
		Retry: RetryConfig{
			MaxAttempts:    p.Retry.MaxAttempts,
			InitialBackoff: p.Retry.InitialBackoff,
			MaxBackoff:     p.Retry.MaxBackoff,
		},
		Replay: ReplayConfig{Dir: "./replays", Timeout: 10 * time.Minute},
		Cursor: CursorConfig{
			Backend:   BackendFile,
			Path:      "./data/cursor.json",
			KeyPrefix: "dota-ingest",
		},
		Output: OutputConfig{
			MaxRecords: 1000,
			MaxFileAge: time.Hour,
		},
	}
}

// Load builds a Config from Default, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the ingest cannot run with
func (c Config) Validate() error {
	var errs []error

	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if c.API.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("api.requests_per_minute must not be negative"))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api.timeout must be positive"))
	}
	if err := c.IngestPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Policy.DownloadReplays && c.Replay.Dir == "" {
		errs = append(errs, errors.New("replay.dir is required to download replays"))
	}
	if c.Replay.Timeout <= 0 {
		errs = append(errs, errors.New("replay.timeout must be positive"))
	}

	switch c.Cursor.Backend {
	case BackendMemory:
	case BackendFile, BackendSQLite:
		if c.Cursor.Path == "" {
			errs = append(errs, fmt.Errorf("cursor.path is required for the %s backend", c.Cursor.Backend))
		}
	case BackendLibSQL, BackendPostgres:
		if c.Cursor.DSN == "" {
			errs = append(errs, fmt.Errorf("cursor.dsn is required for the %s backend", c.Cursor.Backend))
		}
	case BackendRedis:
		if c.Cursor.RedisAddr == "" {
			errs = append(errs, errors.New("cursor.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cursor backend %q", c.Cursor.Backend))
	}

	if c.Output.MaxRecords < 0 || c.Output.MaxFileAge < 0 {
		errs = append(errs, errors.New("output rotation limits must not be negative"))
	}

	return errors.Join(errs...)
}

// IngestPolicy converts the policy, bracket and retry sections into an ingest.Policy
func (c Config) IngestPolicy() ingest.Policy {
	return ingest.Policy{
		Bracket:           opendota.Bracket{MinRank: c.Bracket.MinRank, MaxRank: c.Bracket.MaxRank},
		Mode:              ingest.Mode(c.Policy.Mode),
		MaxPages:          c.Policy.MaxPages,
		TimeBudget:        c.Policy.TimeBudget,
		OnExhausted:       ingest.ExhaustedAction(c.Policy.OnExhausted),
		ExhaustedWait:     c.Policy.ExhaustedWait,
		MaxExhaustedWaits: c.Policy.MaxExhaustedWaits,
		FetchDetails:      c.Policy.FetchDetails,
		DetailsPerPage:    c.Policy.DetailsPerPage,
		DownloadReplays:   c.Policy.DownloadReplays,
		Concurrency:       c.Policy.Concurrency,
		AbortOnItemError:  c.Policy.AbortOnItemError,
		Retry: ingest.RetryPolicy{
			MaxAttempts:    c.Retry.MaxAttempts,
			InitialBackoff: c.Retry.InitialBackoff,
			MaxBackoff:     c.Retry.MaxBackoff,
		},
	}
}

// ClientOptions returns the opendota.Client options for the api section
func (c Config) ClientOptions() []opendota.Option {
	opts := []opendota.Option{
		opendota.WithBaseURL(c.API.BaseURL),
		opendota.WithTimeout(c.API.Timeout),
		opendota.WithRequestsPerMinute(c.API.RequestsPerMinute),
	}
	if c.API.APIKey != "" {
		opts = append(opts, opendota.WithAPIKey(c.API.APIKey))
	}
	if c.API.UserAgent != "" {
		opts = append(opts, opendota.WithUserAgent(c.API.UserAgent))
	}
	return opts
}

// ReplayClientOptions returns options for the client that downloads replays.
// Replays are served by a CDN, not the API, so they skip the API rate limit
// and the API key, and get their own timeout.
func (c Config) ReplayClientOptions() []opendota.Option {
	opts := []opendota.Option{
		opendota.WithTimeout(c.Replay.Timeout),
		opendota.WithRequestsPerMinute(0),
	}
	if c.API.UserAgent != "" {
		opts = append(opts, opendota.WithUserAgent(c.API.UserAgent))
	}
	return opts
}
