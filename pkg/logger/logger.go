// Package logger provides a leveled, structured logging interface for the
// validator, backed by zap.
package logger

import (
	"io"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the logging level.
type Level int

// Log levels.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelNone
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return ""
	}
}

// ParseLevel maps "debug", "info", "warn", "error" and "none" to a Level.
// Unknown names map to LevelInfo.
func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug
	case "warn", "WARN", "warning":
		return LevelWarn
	case "error", "ERROR":
		return LevelError
	case "none", "off", "NONE":
		return LevelNone
	default:
		return LevelInfo
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelNone:
		return zapcore.FatalLevel + 1
	default:
		return zapcore.InfoLevel
	}
}

// Logger provides structured logging with key/value pairs.
type Logger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(New(os.Stderr, LevelInfo))
}

// Default returns the default logger.
func Default() *Logger {
	return defaultLogger.Load()
}

// SetDefault sets the default logger.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger.Store(l)
	}
}

// New creates a console logger writing to output at the given level.
func New(output io.Writer, level Level) *Logger {
	return newLogger(output, level, zapcore.NewConsoleEncoder(encoderConfig()))
}

// NewJSON creates a logger emitting one JSON object per line.
func NewJSON(output io.Writer, level Level) *Logger {
	return newLogger(output, level, zapcore.NewJSONEncoder(encoderConfig()))
}

// FromZap wraps an existing zap logger. Filtering is left to z's core, so
// SetLevel has no effect on the returned logger.
func FromZap(z *zap.Logger) *Logger {
	return &Logger{
		sugar: z.Sugar(),
		level: zap.NewAtomicLevelAt(zapcore.DebugLevel),
	}
}

func newLogger(output io.Writer, level Level, enc zapcore.Encoder) *Logger {
	lvl := zap.NewAtomicLevelAt(level.zapLevel())
	core := zapcore.NewCore(enc, zapcore.AddSync(output), lvl)
	return &Logger{
		sugar: zap.New(core).Named("bundle-validator").Sugar(),
		level: lvl,
	}
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// SetLevel sets the logging level.
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zapLevel())
}

// With returns a child logger that adds keysAndValues to every entry.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{
		sugar: l.sugar.With(keysAndValues...),
		level: l.level,
	}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, keysAndValues ...any) {
	l.sugar.Infow(msg, keysAndValues...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, keysAndValues ...any) {
	l.sugar.Warnw(msg, keysAndValues...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, keysAndValues...)
}

// Package-level convenience functions.

// Debug logs a debug message using the default logger.
func Debug(msg string, keysAndValues ...any) {
	Default().Debug(msg, keysAndValues...)
}

// Info logs an info message using the default logger.
func Info(msg string, keysAndValues ...any) {
	Default().Info(msg, keysAndValues...)
}

// Warn logs a warning message using the default logger.
func Warn(msg string, keysAndValues ...any) {
	Default().Warn(msg, keysAndValues...)
}

// Error logs an error message using the default logger.
func Error(msg string, keysAndValues ...any) {
	Default().Error(msg, keysAndValues...)
}

// SetLevel sets the level of the default logger.
func SetLevel(level Level) {
	Default().SetLevel(level)
}

// Disable disables all logging.
func Disable() {
	Default().SetLevel(LevelNone)
}
