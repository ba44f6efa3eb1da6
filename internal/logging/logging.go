// Package logging builds the zap logger shared by the server, the CLI and
// background workers.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mrlokans/authview/internal/config"
)

const defaultLevel = "info"

// NewLogger returns a logger writing JSON (or console text) to stdout at the
// configured level. Unknown levels fall back to info.
func NewLogger(cfg config.Logging) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(cfg.Level)))); err != nil {
		_ = level.UnmarshalText([]byte(defaultLevel))
	}

	encoderCfg := zapcore.EncoderConfig{
		MessageKey:    "message",
		TimeKey:       "timestamp",
		LevelKey:      "severity",
		NameKey:       "logger",
		CallerKey:     "caller",
		StacktraceKey: "stacktrace",
		EncodeTime:    zapcore.RFC3339NanoTimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
		EncodeLevel: func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(level.String()))
		},
	}

	encoding := "json"
	if strings.EqualFold(cfg.Format, "console") {
		encoding = "console"
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zc := zap.Config{
		Level:             level,
		Encoding:          encoding,
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return zc.Build()
}

// TaskLogger adapts zap to the key/value logger backlite expects.
type TaskLogger struct {
	logger *zap.SugaredLogger
}

func NewTaskLogger(logger *zap.Logger) *TaskLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskLogger{logger: logger.Named("tasks").Sugar()}
}

func (l *TaskLogger) Info(message string, params ...any) {
	l.logger.Infow(message, params...)
}

func (l *TaskLogger) Error(message string, params ...any) {
	l.logger.Errorw(message, params...)
}
