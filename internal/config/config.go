package config

import "time"

// Config holds the full runtime configuration for the gateway.
// Values are resolved in order: defaults, optional YAML file, environment.
type Config struct {
	// Server settings
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port"`
	Debug   bool   `yaml:"debug" json:"debug"`
	LogFile string `yaml:"log_file" json:"log_file"`

	// Client auth settings
	ValidAPIKey    string   `yaml:"valid_api_key" json:"valid_api_key"`
	AllowAnyAPIKey bool     `yaml:"allow_any_api_key" json:"allow_any_api_key"`
	CORSOrigins    []string `yaml:"cors_origins" json:"cors_origins"`

	// Management surface (admin routes)
	ManagementKey     string `yaml:"management_key" json:"management_key"`
	ManagementKeyHash string `yaml:"management_key_hash" json:"management_key_hash"`

	// Upstream settings
	UpstreamURL       string `yaml:"upstream_url" json:"upstream_url"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec" json:"request_timeout_sec"`

	// Token pool settings
	TokensFile       string `yaml:"tokens_file" json:"tokens_file"`
	MaxTokenFailures int    `yaml:"max_token_failures" json:"max_token_failures"`
	StorageBackend   string `yaml:"storage_backend" json:"storage_backend"`
	WatchTokensFile  bool   `yaml:"watch_tokens_file" json:"watch_tokens_file"`

	// Redis token store (when storage_backend == "redis")
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password" json:"redis_password"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix" json:"redis_prefix"`

	// Token auto-update settings
	AutoUpdateEnabled bool   `yaml:"auto_update_enabled" json:"auto_update_enabled"`
	UpdateIntervalSec int    `yaml:"update_interval_sec" json:"update_interval_sec"`
	MintScript        string `yaml:"mint_script" json:"mint_script"`
	AccountsFile      string `yaml:"accounts_file" json:"accounts_file"`
	MintTimeoutSec    int    `yaml:"mint_timeout_sec" json:"mint_timeout_sec"`

	// Retry behavior
	MaxRetries   int `yaml:"max_retries" json:"max_retries"`
	RetryDelayMs int `yaml:"retry_delay_ms" json:"retry_delay_ms"`

	// Escalation thresholds
	ConsecutiveFailureThreshold int `yaml:"consecutive_failure_threshold" json:"consecutive_failure_threshold"`
	UpstreamErrorThreshold      int `yaml:"upstream_error_threshold" json:"upstream_error_threshold"`

	// Feature toggles
	ToolSupport bool `yaml:"tool_support" json:"tool_support"`

	// Simulated streaming
	StreamChunkSize int `yaml:"stream_chunk_size" json:"stream_chunk_size"`
	StreamDelayMs   int `yaml:"stream_delay_ms" json:"stream_delay_ms"`

	// Rate limiting
	RateLimitEnabled bool `yaml:"rate_limit_enabled" json:"rate_limit_enabled"`
	RateLimitRPS     int  `yaml:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst   int  `yaml:"rate_limit_burst" json:"rate_limit_burst"`
}

// Default returns the configuration with built-in defaults applied.
func Default() *Config {
	return &Config{
		Host:                        "0.0.0.0",
		Port:                        8001,
		AllowAnyAPIKey:              true,
		CORSOrigins:                 []string{"*"},
		UpstreamURL:                 "https://www.k2think.ai/api/chat/completions",
		RequestTimeoutSec:           60,
		TokensFile:                  "tokens.txt",
		MaxTokenFailures:            3,
		StorageBackend:              "file",
		RedisPrefix:                 "k2api",
		UpdateIntervalSec:           86400,
		MintScript:                  "get_tokens.py",
		AccountsFile:                "accounts.txt",
		MintTimeoutSec:              300,
		MaxRetries:                  3,
		RetryDelayMs:                500,
		ConsecutiveFailureThreshold: 2,
		UpstreamErrorThreshold:      2,
		ToolSupport:                 true,
		StreamChunkSize:             50,
		StreamDelayMs:               50,
		RateLimitRPS:                20,
		RateLimitBurst:              40,
	}
}

// RequestTimeout returns the upstream request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// UpdateInterval returns the auto-update interval as a duration.
func (c *Config) UpdateInterval() time.Duration {
	return time.Duration(c.UpdateIntervalSec) * time.Second
}

// MintTimeout returns the minting subprocess timeout as a duration.
func (c *Config) MintTimeout() time.Duration {
	return time.Duration(c.MintTimeoutSec) * time.Second
}

// RetryDelay returns the pause between retry attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// StreamDelay returns the pause between simulated stream chunks.
func (c *Config) StreamDelay() time.Duration {
	return time.Duration(c.StreamDelayMs) * time.Millisecond
}
