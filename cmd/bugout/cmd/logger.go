package cmd

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// setupLogger builds a production logger at the level the flags ask for.
// --debug and --verbose both lower it to debug; --debug also switches on
// development mode, which panics on DPanic and adds stack traces to warnings.
func setupLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	if debug || verbose {
		level = zapcore.DebugLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	if debug {
		config.Development = true
		config.Encoding = "console"
		config.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	return config.Build()
}
