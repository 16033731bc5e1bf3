/*
Copyright © 2025 Ratekit Authors.

Released under MIT license.
*/

// Package log provides structured logging for the rate limiting engine.
// It is a thin adapter around github.com/ssgreg/logf.
package log

import (
	"io"
	"os"

	"github.com/ssgreg/logf"
	"github.com/ssgreg/logftext"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Field holds data of a specific field.
type Field = logf.Field

// CloseFunc allows to flush and close the logger's channel writer.
type CloseFunc logf.ChannelWriterCloseFunc

// Field constructors.
var (
	// Error returns a new Field with the given error. Key is 'error'.
	Error = logf.Error

	// NamedError returns a new Field with the given key and error.
	NamedError = logf.NamedError

	// String returns a new Field with the given key and string.
	String = logf.String

	// Int returns a new Field with the given key and int.
	Int = logf.Int

	// Int64 returns a new Field with the given key and int64.
	Int64 = logf.Int64

	// Float64 returns a new Field with the given key and float64.
	Float64 = logf.Float64

	// Bool returns a new Field with the given key and bool.
	Bool = logf.Bool

	// Duration returns a new Field with the given key and time.Duration.
	Duration = logf.Duration

	// Any returns a new Field with the given key and value of any type.
	Any = logf.Any
)

// Level defines possible values for log levels.
type Level string

// Log levels.
const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

// Format defines possible values for log formats.
type Format string

// Log formats.
const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Output defines possible values for log outputs.
type Output string

// Log outputs.
const (
	OutputStdout Output = "stdout"
	OutputStderr Output = "stderr"
	OutputFile   Output = "file"
)

// FileRotationConfig is a configuration for log file rotation.
type FileRotationConfig struct {
	MaxSizeMB  int  `mapstructure:"maxSizeMb" yaml:"maxSizeMb" json:"maxSizeMb"`
	MaxBackups int  `mapstructure:"maxBackups" yaml:"maxBackups" json:"maxBackups"`
	MaxAgeDays int  `mapstructure:"maxAgeDays" yaml:"maxAgeDays" json:"maxAgeDays"`
	Compress   bool `mapstructure:"compress" yaml:"compress" json:"compress"`
}

// FileOutputConfig is a configuration for file log output.
type FileOutputConfig struct {
	Path     string             `mapstructure:"path" yaml:"path" json:"path"`
	Rotation FileRotationConfig `mapstructure:"rotation" yaml:"rotation" json:"rotation"`
}

// Config is a configuration for the logger.
type Config struct {
	Level  Level            `mapstructure:"level" yaml:"level" json:"level"`
	Format Format           `mapstructure:"format" yaml:"format" json:"format"`
	Output Output           `mapstructure:"output" yaml:"output" json:"output"`
	File   FileOutputConfig `mapstructure:"file" yaml:"file" json:"file"`
}

// FieldLogger is an interface for loggers that write logs in a structured
// format.
type FieldLogger interface {
	With(...Field) FieldLogger

	Debug(string, ...Field)
	Info(string, ...Field)
	Warn(string, ...Field)
	Error(string, ...Field)
}

// LogfAdapter adapts logf.Logger to the FieldLogger interface.
type LogfAdapter struct {
	Logger *logf.Logger
}

// NewDisabledLogger returns a new logger that logs nothing.
func NewDisabledLogger() FieldLogger {
	return &LogfAdapter{logf.NewDisabledLogger()}
}

// NewLogger returns a new logger built from the configuration.
// The returned CloseFunc must be called before the process exits to flush
// buffered entries.
func NewLogger(cfg *Config) (FieldLogger, CloseFunc) {
	channel, closeFunc := logf.NewChannelWriter(logf.ChannelWriterConfig{
		Appender:          makeAppender(cfg),
		EnableSyncOnError: true,
	})
	logger := logf.NewLogger(convertLevel(cfg.Level), channel).With(logf.Int("pid", os.Getpid()))
	return &LogfAdapter{logger}, CloseFunc(closeFunc)
}

// With returns a new logger with the given additional fields.
func (l *LogfAdapter) With(fs ...Field) FieldLogger {
	return &LogfAdapter{l.Logger.With(fs...)}
}

// Debug logs message at "debug" level.
func (l *LogfAdapter) Debug(s string, fields ...Field) {
	l.Logger.Debug(s, fields...)
}

// Info logs message at "info" level.
func (l *LogfAdapter) Info(s string, fields ...Field) {
	l.Logger.Info(s, fields...)
}

// Warn logs message at "warn" level.
func (l *LogfAdapter) Warn(s string, fields ...Field) {
	l.Logger.Warn(s, fields...)
}

// Error logs message at "error" level.
func (l *LogfAdapter) Error(s string, fields ...Field) {
	l.Logger.Error(s, fields...)
}

func convertLevel(level Level) logf.Level {
	switch level {
	case LevelError:
		return logf.LevelError
	case LevelWarn:
		return logf.LevelWarn
	case LevelInfo:
		return logf.LevelInfo
	case LevelDebug:
		return logf.LevelDebug
	}
	return logf.LevelInfo
}

func makeAppender(cfg *Config) logf.Appender {
	var w io.Writer
	switch cfg.Output {
	case OutputFile:
		w = &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.Rotation.MaxSizeMB,
			MaxBackups: cfg.File.Rotation.MaxBackups,
			MaxAge:     cfg.File.Rotation.MaxAgeDays,
			Compress:   cfg.File.Rotation.Compress,
		}
	case OutputStderr:
		w = os.Stderr
	default:
		w = os.Stdout
	}

	if cfg.Format == FormatText {
		return logftext.NewAppender(w, logftext.EncoderConfig{
			EncodeTime: logf.RFC3339NanoTimeEncoder,
		})
	}
	return logf.NewWriteAppender(w, logf.NewJSONEncoder(logf.JSONEncoderConfig{
		EncodeTime:   logf.RFC3339NanoTimeEncoder,
		FieldKeyTime: "time",
	}))
}
