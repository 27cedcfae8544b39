// Package logging builds the zap loggers used by the relay binaries.
//
// The panel server speaks JSON-RPC on stdout, so loggers never write there:
// output goes to a file when one is configured and to stderr otherwise.
package logging

import (
	"os"
	"path/filepath"

	"github.com/m4xw311/panelrelay/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON logger at level ("debug", "info", "warn", "error").
// An empty level means info. When file is set, its directory is created.
func New(level, file string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, errors.Wrapf(err, "invalid log level '%s'", level)
		}
	}

	sink := "stderr"
	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
			return nil, errors.Wrapf(err, "could not create log directory")
		}
		sink = file
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Sampling = nil
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{sink}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrapf(err, "could not build logger")
	}
	return logger, nil
}
