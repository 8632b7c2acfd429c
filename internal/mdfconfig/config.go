// Package mdfconfig loads optional CLI flag defaults from a YAML file.
package mdfconfig

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds defaults for cmd/mdf4's subcommands. Any field left zero
// is overridden by its flag's own default.
type Config struct {
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"` // "text", "json", or "pretty"
	BufferPages int    `yaml:"buffer_pages"`
	HTTPRate   float64 `yaml:"http_rate"` // requests per second for HTTP range sources
}

// Load reads path and parses it as YAML. A missing file is not an
// error: it yields a zero-value Config so callers fall back to flag
// defaults.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
