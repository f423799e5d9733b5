// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns the CLI logger. Output goes to stderr so it never mixes
// with command output. Without verbose only warnings and errors are shown.
func NewLogger(verbose bool) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true
	cfg.Sampling = nil
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// VerboseFromEnv reports whether BIDCTL_VERBOSE enables debug logging.
func VerboseFromEnv() bool {
	switch os.Getenv("BIDCTL_VERBOSE") {
	case "1", "true", "TRUE", "yes":
		return true
	default:
		return false
	}
}

// ProfileFields returns key/value pairs for SugaredLogger.With. Region is
// only included when set.
func ProfileFields(profile, region string) []interface{} {
	if region == "" {
		return []interface{}{"profile", profile}
	}
	return []interface{}{"profile", profile, "region", region}
}
