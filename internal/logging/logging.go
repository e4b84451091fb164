// Package logging constructs the single zap.Logger every component shares,
// matching the teacher's structured-logging idiom rather than the standard
// library's log package.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production JSON logger unless dev is true, in which case it
// builds a human-readable console logger for local runs.
func New(dev bool, nodeID string) (*zap.Logger, error) {
	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("node_id", nodeID)), nil
}
