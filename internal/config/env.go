package config

import (
	"errors"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// envFiles are tried in order; values already present in the process environment win.
var envFiles = []string{".env", ".env.local"}

// loadEnvFiles loads .env style files that exist. A missing file is not an error.
func loadEnvFiles() error {
	for _, path := range envFiles {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// applyEnvOverrides copies MCG_* environment variables onto cfg. Unset variables leave the YAML or
// default value in place.
func applyEnvOverrides(cfg *Config) error {
	return env.Parse(cfg)
}
