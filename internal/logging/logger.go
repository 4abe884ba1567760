// Package logging provides structured logging built on zap, bridged to
// OpenTelemetry so log records also flow through the telemetry pipeline.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging surface used by every component of the engine.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	With(fields ...interface{}) Logger
}

// ZapLogger implements Logger using zap.Logger.
type ZapLogger struct {
	logger *zap.Logger
}

// New builds a ZapLogger at the given level, tee'd into the OTel log
// pipeline under serviceName.
func New(levelStr, serviceName string) (*ZapLogger, error) {
	level, err := ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level.zapLevel(),
	)

	otelCore := otelzap.NewCore(serviceName, otelzap.WithLoggerProvider(global.GetLoggerProvider()))
	combined := zapcore.NewTee(consoleCore, otelCore)

	return &ZapLogger{
		logger: zap.New(combined, zap.AddCaller(), zap.AddCallerSkip(1)),
	}, nil
}

// Level is a logging verbosity.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zap.DebugLevel
	case WarnLevel:
		return zap.WarnLevel
	case ErrorLevel:
		return zap.ErrorLevel
	case FatalLevel:
		return zap.FatalLevel
	default:
		return zap.InfoLevel
	}
}

// ParseLevel parses a log level string.
func ParseLevel(level string) (Level, error) {
	switch strings.ToUpper(level) {
	case "", "INFO":
		return InfoLevel, nil
	case "DEBUG":
		return DebugLevel, nil
	case "WARN":
		return WarnLevel, nil
	case "ERROR":
		return ErrorLevel, nil
	case "FATAL":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

func toZapFields(fields []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		if i+1 >= len(fields) {
			break
		}
		key, ok := fields[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", fields[i])
		}
		out = append(out, zap.Any(key, fields[i+1]))
	}
	return out
}

func (l *ZapLogger) Debug(msg string, fields ...interface{}) { l.logger.Debug(msg, toZapFields(fields)...) }
func (l *ZapLogger) Info(msg string, fields ...interface{})  { l.logger.Info(msg, toZapFields(fields)...) }
func (l *ZapLogger) Warn(msg string, fields ...interface{})  { l.logger.Warn(msg, toZapFields(fields)...) }
func (l *ZapLogger) Error(msg string, fields ...interface{}) { l.logger.Error(msg, toZapFields(fields)...) }
func (l *ZapLogger) Fatal(msg string, fields ...interface{}) { l.logger.Fatal(msg, toZapFields(fields)...) }

func (l *ZapLogger) With(fields ...interface{}) Logger {
	return &ZapLogger{logger: l.logger.With(toZapFields(fields)...)}
}

// Sync flushes buffered log entries; call before process exit.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

type noop struct{}

// NewNoop returns a Logger that discards everything, for tests.
func NewNoop() Logger { return noop{} }

func (noop) Debug(string, ...interface{}) {}
func (noop) Info(string, ...interface{})  {}
func (noop) Warn(string, ...interface{})  {}
func (noop) Error(string, ...interface{}) {}
func (noop) Fatal(string, ...interface{}) {}
func (n noop) With(...interface{}) Logger { return n }
