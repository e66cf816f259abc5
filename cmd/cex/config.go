package main

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config is cex's layered configuration: built-in defaults, overridden by an
// optional TOML file, overridden in turn by command-line flags.
type Config struct {
	Grammar        string `toml:"grammar"`
	TraceConflicts bool   `toml:"trace_conflicts"`
}

// DefaultConfig returns cex's built-in defaults.
func DefaultConfig() Config {
	return Config{}
}

// LoadConfigFile merges the TOML file at path onto cfg and returns the
// result. An empty path or a missing file is not an error: cex runs fine on
// defaults and flags alone.
func LoadConfigFile(path string, cfg Config) (Config, error) {
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
