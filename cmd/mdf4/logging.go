package main

import (
	"os"

	"github.com/go-mdf4/mdf4/internal/logger"
)

// newLogger builds a Logger from the resolved --log-level/--log-format
// flags, writing to stderr.
func newLogger(levelStr, format string) logger.Logger {
	level := logger.ParseLevel(levelStr)
	switch format {
	case "json":
		return logger.JSON(os.Stderr, level)
	case "text":
		return logger.Default()
	default:
		return logger.Pretty(os.Stderr, level)
	}
}
