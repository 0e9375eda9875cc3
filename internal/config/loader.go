package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Load resolves the configuration from defaults, an optional YAML file and
// environment variables, in that order. A missing config file is not an
// error; a malformed one is.
func Load(path string) (*Config, error) {
	// .env is a convenience for local runs; absence is expected in containers.
	if err := godotenv.Load(); err == nil {
		log.Debug("loaded environment from .env")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
			log.WithField("path", path).Info("configuration file loaded")
		case os.IsNotExist(err):
			log.WithField("path", path).Debug("no configuration file, using defaults + env")
		default:
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg.mergeEnv()
	return cfg, nil
}
