package config

import (
	"os"
	"strconv"
	"strings"
)

// mergeEnv overlays environment variables onto the configuration. The names
// mirror the gateway's historical env surface, so deployments carry over.
func (c *Config) mergeEnv() {
	if v := os.Getenv("HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv("DEBUG"); v != "" {
		c.Debug = isTrue(v)
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("VALID_API_KEY"); v != "" {
		c.ValidAPIKey = v
		c.AllowAnyAPIKey = false
	}
	if v := os.Getenv("ALLOW_ANY_API_KEY"); v != "" {
		c.AllowAnyAPIKey = isTrue(v)
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" && v != "*" {
		c.CORSOrigins = splitCSV(v)
	}
	if v := os.Getenv("MANAGEMENT_KEY"); v != "" {
		c.ManagementKey = v
	}
	if v := os.Getenv("MANAGEMENT_KEY_HASH"); v != "" {
		c.ManagementKeyHash = v
	}
	if v := os.Getenv("K2THINK_API_URL"); v != "" {
		c.UpstreamURL = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RequestTimeoutSec = n
		}
	}
	if v := os.Getenv("TOKENS_FILE"); v != "" {
		c.TokensFile = v
	}
	if v := os.Getenv("MAX_TOKEN_FAILURES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxTokenFailures = n
		}
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		c.StorageBackend = strings.ToLower(v)
	}
	if v := os.Getenv("WATCH_TOKENS_FILE"); v != "" {
		c.WatchTokensFile = isTrue(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RedisDB = n
		}
	}
	if v := os.Getenv("REDIS_PREFIX"); v != "" {
		c.RedisPrefix = v
	}
	if v := os.Getenv("ENABLE_TOKEN_AUTO_UPDATE"); v != "" {
		c.AutoUpdateEnabled = isTrue(v)
	}
	if v := os.Getenv("TOKEN_UPDATE_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.UpdateIntervalSec = n
		}
	}
	if v := os.Getenv("GET_TOKENS_SCRIPT"); v != "" {
		c.MintScript = v
	}
	if v := os.Getenv("ACCOUNTS_FILE"); v != "" {
		c.AccountsFile = v
	}
	if v := os.Getenv("MINT_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MintTimeoutSec = n
		}
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxRetries = n
		}
	}
	if v := os.Getenv("TOOL_SUPPORT"); v != "" {
		c.ToolSupport = isTrue(v)
	}
	if v := os.Getenv("STREAM_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.StreamChunkSize = n
		}
	}
	if v := os.Getenv("STREAM_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.StreamDelayMs = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_ENABLED"); v != "" {
		c.RateLimitEnabled = isTrue(v)
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RateLimitRPS = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RateLimitBurst = n
		}
	}
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
