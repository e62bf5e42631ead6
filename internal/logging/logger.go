// Package logging provides structured logging for the ObaDB storage core.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents the logging level.
type Level int

const (
	// LevelDebug is the most verbose level.
	LevelDebug Level = iota
	// LevelInfo is for informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel parses a string into a Level.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
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
	default:
		return zapcore.InfoLevel
	}
}

// Format represents the log output format.
type Format int

const (
	// FormatText outputs logs in human-readable text format.
	FormatText Format = iota
	// FormatJSON outputs logs in JSON format.
	FormatJSON
)

// ParseFormat parses a string into a Format.
func ParseFormat(s string) Format {
	switch s {
	case "json":
		return FormatJSON
	default:
		return FormatText
	}
}

// Logger is the interface for structured logging.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, keysAndValues ...interface{})
	// Info logs an info message with optional key-value pairs.
	Info(msg string, keysAndValues ...interface{})
	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, keysAndValues ...interface{})
	// Error logs an error message with optional key-value pairs.
	Error(msg string, keysAndValues ...interface{})
	// WithFields returns a new logger with the given fields.
	WithFields(keysAndValues ...interface{}) Logger
	// Sync flushes any buffered log entries.
	Sync() error
}

// Config holds the logger configuration.
type Config struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	// Output is "stdout", "stderr" or a file path. Files are rotated.
	Output string `toml:"output"`
	// MaxSizeMB is the size at which a log file is rotated. Zero means 100MB.
	MaxSizeMB int `toml:"max-size-mb"`
	// MaxBackups is the number of rotated files to keep. Zero keeps all.
	MaxBackups int `toml:"max-backups"`
}

// logger adapts a zap.SugaredLogger to the Logger interface.
type logger struct {
	sugar *zap.SugaredLogger
}

// New creates a new Logger with the given configuration.
func New(cfg Config) Logger {
	var ws zapcore.WriteSyncer
	switch cfg.Output {
	case "", "stdout":
		ws = zapcore.Lock(os.Stdout)
	case "stderr":
		ws = zapcore.Lock(os.Stderr)
	default:
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		})
	}
	return newLogger(ParseLevel(cfg.Level), ParseFormat(cfg.Format), ws)
}

// NewWithWriter creates a Logger writing to w. Useful for capturing output.
func NewWithWriter(cfg Config, w io.Writer) Logger {
	return newLogger(ParseLevel(cfg.Level), ParseFormat(cfg.Format), zapcore.AddSync(w))
}

// NewDefault creates a new Logger with default settings.
func NewDefault() Logger {
	return New(Config{Level: "info", Format: "text", Output: "stdout"})
}

// NewNop creates a no-op logger that discards all output.
func NewNop() Logger {
	return &logger{sugar: zap.NewNop().Sugar()}
}

func newLogger(level Level, format Format, ws zapcore.WriteSyncer) Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder

	var enc zapcore.Encoder
	if format == FormatJSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, ws, zap.NewAtomicLevelAt(level.zapLevel()))
	return &logger{sugar: zap.New(core).Sugar()}
}

// Debug logs a debug message.
func (l *logger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

// Info logs an info message.
func (l *logger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

// Warn logs a warning message.
func (l *logger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

// Error logs an error message.
func (l *logger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

// WithFields returns a new logger with the given fields.
func (l *logger) WithFields(keysAndValues ...interface{}) Logger {
	return &logger{sugar: l.sugar.With(keysAndValues...)}
}

// Sync flushes buffered entries.
func (l *logger) Sync() error {
	return l.sugar.Sync()
}
