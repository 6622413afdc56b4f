// Package config builds the runtime configuration shared by the
// simulator tools.
package config

import (
	"github.com/retroenv/retrogolib/log"
)

// CreateLogger builds the tool logger. debug lowers the level to debug
// output, quiet raises it to errors only.
func CreateLogger(debug, quiet bool) *log.Logger {
	cfg := log.DefaultConfig()
	switch {
	case debug:
		cfg.Level = log.DebugLevel
	case quiet:
		cfg.Level = log.ErrorLevel
	}
	return log.NewWithConfig(cfg)
}
