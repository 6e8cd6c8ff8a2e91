// Package log is the process-wide logging facade: leveled, key-value
// structured messages backed by zap.
package log

import (
	stdlog "log"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

var (
	sugar      *zap.SugaredLogger
	level      zap.AtomicLevel
	loggerOnce sync.Once
)

// initLogger builds the zap logger once: console encoding to stderr with
// ISO8601 timestamps, defaulting to INFO.
func initLogger() {
	loggerOnce.Do(func() {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)

		encoderConfig := zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			MessageKey:     "msg",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		}

		cfg := zap.Config{
			Level:            level,
			Encoding:         "console",
			EncoderConfig:    encoderConfig,
			OutputPaths:      []string{"stderr"},
			ErrorOutputPaths: []string{"stderr"},
		}

		logger, err := cfg.Build()
		if err != nil {
			stdlog.Fatalf("log: failed to initialize zap logger: %v", err)
		}
		sugar = logger.Sugar()
	})
}

// SetLevel adjusts the minimum emitted level at runtime.
func SetLevel(l Level) {
	initLogger()
	switch l {
	case LevelDebug:
		level.SetLevel(zap.DebugLevel)
	case LevelInfo:
		level.SetLevel(zap.InfoLevel)
	case LevelError:
		level.SetLevel(zap.ErrorLevel)
	}
}

func Debug(msg string, kv ...any) {
	initLogger()
	sugar.Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	initLogger()
	sugar.Infow(msg, kv...)
}

// Error logs msg with err prepended to the key-value pairs.
func Error(msg string, err error, kv ...any) {
	initLogger()
	sugar.Errorw(msg, append([]any{"err", err}, kv...)...)
}
