// Package logging builds the process-wide zap logger.
package logging

import (
	"os"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// New returns a sugared logger at level ("debug", "info", ...). JSON uses the
// production config; console writes human-readable lines to stderr.
func New(level, format string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}

	switch format {
	case FormatJSON, "":
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(lvl)
		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}
		logger, err := config.Build()
		if err != nil {
			return nil, errors.Wrap(err, "build logger")
		}
		return logger.Sugar(), nil
	case FormatConsole:
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(os.Stderr), lvl)
		return zap.New(core).Sugar(), nil
	default:
		return nil, errors.Newf("log format must be %q or %q, got %q", FormatJSON, FormatConsole, format)
	}
}
