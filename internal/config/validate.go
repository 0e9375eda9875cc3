package config

import (
	"fmt"
	"os"
)

// Validate checks fatal misconfigurations before the gateway starts.
//
// The tokens file is the source of truth for the pool. When auto-update is
// disabled it must exist up front; when enabled, the minting script and the
// accounts file must exist instead, and a missing tokens file is created empty
// so the update service can fill it.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.RequestTimeoutSec <= 0 {
		return fmt.Errorf("request_timeout_sec must be positive")
	}
	if c.MaxTokenFailures < 1 {
		return fmt.Errorf("max_token_failures must be at least 1")
	}
	if c.StorageBackend != "file" && c.StorageBackend != "redis" {
		return fmt.Errorf("unsupported storage_backend %q", c.StorageBackend)
	}
	if c.StorageBackend == "redis" && c.RedisAddr == "" {
		return fmt.Errorf("storage_backend=redis requires redis_addr")
	}

	if c.StorageBackend != "file" {
		return nil
	}

	if _, err := os.Stat(c.TokensFile); os.IsNotExist(err) {
		if !c.AutoUpdateEnabled {
			return fmt.Errorf("tokens file %s does not exist; provide it or enable auto-update", c.TokensFile)
		}
		if _, err := os.Stat(c.AccountsFile); os.IsNotExist(err) {
			return fmt.Errorf("auto-update enabled but accounts file %s does not exist", c.AccountsFile)
		}
		if _, err := os.Stat(c.MintScript); os.IsNotExist(err) {
			return fmt.Errorf("auto-update enabled but mint script %s does not exist", c.MintScript)
		}
		placeholder := []byte("# tokens are generated by the auto-update service\n")
		if err := os.WriteFile(c.TokensFile, placeholder, 0o600); err != nil {
			return fmt.Errorf("create empty tokens file %s: %w", c.TokensFile, err)
		}
	}
	return nil
}
