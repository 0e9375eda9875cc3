package config

import "golang.org/x/crypto/bcrypt"

// CheckManagementKey verifies whether the provided key matches the configured
// management credential, either as plaintext or as a bcrypt hash.
func CheckManagementKey(cfg *Config, candidate string) bool {
	if cfg == nil || candidate == "" {
		return false
	}
	if cfg.ManagementKey != "" && candidate == cfg.ManagementKey {
		return true
	}
	if cfg.ManagementKeyHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(cfg.ManagementKeyHash), []byte(candidate)); err == nil {
			return true
		}
	}
	return false
}
