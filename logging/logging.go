/*
logging.go - zap logger construction

PURPOSE:
  Builds the process logger from config.LogConfig. Every component takes a
  *zap.Logger; tests pass zap.NewNop().

OUTPUT:
  - Format "json" (default) or "console"
  - Stderr, or a file rotated by lumberjack when File is set

SEE ALSO:
  - ../config/config.go: LogConfig
  - ../api/server.go: request logging middleware
*/
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fitmarket/custody-ledger/config"
)

// New builds a logger and returns it with its adjustable level.
func New(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	case "console":
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	default:
		return nil, zap.AtomicLevel{}, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	core := zapcore.NewCore(encoder, writer(cfg), level)
	return zap.New(core, zap.AddCaller()), level, nil
}

// ParseLevel accepts zap level names; empty means info.
func ParseLevel(s string) (zap.AtomicLevel, error) {
	if strings.TrimSpace(s) == "" {
		return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
	}
	var parsed zapcore.Level
	if err := parsed.Set(s); err != nil {
		return zap.AtomicLevel{}, fmt.Errorf("invalid level %q: %w", s, err)
	}
	return zap.NewAtomicLevelAt(parsed), nil
}

func writer(cfg config.LogConfig) zapcore.WriteSyncer {
	if cfg.File == "" {
		return zapcore.Lock(os.Stderr)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	})
}
