package logger

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/creepdata/creep-engine/pkg/config"
)

// New builds a zap-backed logr.Logger from logging configuration.
func New(cfg config.Logging) (logr.Logger, error) {
	zl, err := NewZap(cfg)
	if err != nil {
		return logr.Logger{}, err
	}

	return zapr.NewLogger(zl), nil
}

// NewZap constructs the underlying zap logger used by every process.
func NewZap(cfg config.Logging) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	if cfg.Encoder != "" {
		switch strings.ToLower(cfg.Encoder) {
		case "console", "json":
			zc.Encoding = strings.ToLower(cfg.Encoder)
		default:
			return nil, fmt.Errorf("%q is an invalid encoder", cfg.Encoder)
		}
	}

	if cfg.LogLevel != "" {
		lvl := zap.NewAtomicLevel()
		if err := lvl.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return nil, fmt.Errorf("invalid log config: %w", err)
		}
		zc.Level = lvl
	}

	opts := []zap.Option{}
	if cfg.StacktraceLevel != "" {
		lvl := zap.NewAtomicLevel()
		if err := lvl.UnmarshalText([]byte(cfg.StacktraceLevel)); err != nil {
			return nil, fmt.Errorf("invalid stacktrace log config: %w", err)
		}
		opts = append(opts, zap.AddStacktrace(lvl))
	}

	return zc.Build(opts...)
}
