package main

import (
	"os"
	"path/filepath"

	"github.com/go-mdf4/mdf4/internal/mdfconfig"
	"github.com/urfave/cli/v3"
)

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "mdf4", "config.yaml")
}

// loadConfig reads the config file, falling back to a zero-value Config
// when it doesn't exist.
func loadConfig() mdfconfig.Config {
	path := configPath()
	if path == "" {
		return mdfconfig.Config{}
	}
	cfg, err := mdfconfig.Load(path)
	if err != nil {
		return mdfconfig.Config{}
	}
	return cfg
}

// applyCommonConfig applies config file defaults to flags the caller
// didn't explicitly set.
func applyCommonConfig(c *cli.Command, cfg mdfconfig.Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}
