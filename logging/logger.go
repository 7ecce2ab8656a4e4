package logging

import (
	"context"
	"io"
	"os"
	"time"

	"rbridge/errors"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the severity level of a log entry
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelFatal
)

// String returns the string representation of a log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) logrusLevel() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarning:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	case LevelFatal:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLevel maps a config string to a LogLevel, defaulting to info
func ParseLevel(levelStr string) LogLevel {
	switch levelStr {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warning", "warn":
		return LevelWarning
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// LogField represents a key-value pair for structured logging
type LogField struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// Logger defines the interface for structured logging
type Logger interface {
	// Debug logs a debug message
	Debug(msg string, fields ...LogField)

	// Info logs an info message
	Info(msg string, fields ...LogField)

	// Warn logs a warning message
	Warn(msg string, fields ...LogField)

	// Error logs an error message
	Error(msg string, fields ...LogField)

	// ErrorExecution logs an execution error with its classification
	ErrorExecution(err error, fields ...LogField)

	// Fatal logs a fatal message and exits the program
	Fatal(msg string, fields ...LogField)

	// WithFields returns a new logger with the specified fields
	WithFields(fields ...LogField) Logger

	// WithError returns a new logger with the specified error
	WithError(err error) Logger

	// WithContext returns a new logger carrying values from ctx
	WithContext(ctx context.Context) Logger

	// WithComponent returns a new logger with the specified component
	WithComponent(component string) Logger

	// WithLanguage returns a new logger with the specified language
	WithLanguage(language string) Logger

	// WithRequest returns a new logger with the specified request ID
	WithRequest(requestID string) Logger

	// SetLevel sets the minimum log level
	SetLevel(level LogLevel)

	// GetLevel returns the current minimum log level
	GetLevel() LogLevel
}

// LoggerConfig contains configuration for the logger
type LoggerConfig struct {
	Level  LogLevel
	Format string
	Output io.Writer
}

// DefaultLogger is the logrus-backed implementation of Logger
type DefaultLogger struct {
	base  *logrus.Logger
	entry *logrus.Entry
}

// NewDefaultLoggerWithConfig creates a new default logger with configuration
func NewDefaultLoggerWithConfig(config LoggerConfig) *DefaultLogger {
	base := logrus.New()
	base.SetFormatter(NewFormatter(config.Format))
	if config.Output != nil {
		base.SetOutput(config.Output)
	} else {
		base.SetOutput(os.Stderr)
	}
	base.SetLevel(config.Level.logrusLevel())

	return &DefaultLogger{base: base, entry: logrus.NewEntry(base)}
}

// NewNopLogger discards everything. Used by tests and library callers
// that do not care about logs.
func NewNopLogger() *DefaultLogger {
	return NewDefaultLoggerWithConfig(LoggerConfig{Level: LevelFatal, Output: io.Discard})
}

// Debug logs a debug message
func (l *DefaultLogger) Debug(msg string, fields ...LogField) {
	l.with(fields).Debug(msg)
}

// Info logs an info message
func (l *DefaultLogger) Info(msg string, fields ...LogField) {
	l.with(fields).Info(msg)
}

// Warn logs a warning message
func (l *DefaultLogger) Warn(msg string, fields ...LogField) {
	l.with(fields).Warn(msg)
}

// Error logs an error message
func (l *DefaultLogger) Error(msg string, fields ...LogField) {
	l.with(fields).Error(msg)
}

// ErrorExecution logs an execution error with its code and kind
func (l *DefaultLogger) ErrorExecution(err error, fields ...LogField) {
	if execErr, ok := errors.AsExecutionError(err); ok {
		fields = append(fields,
			StringField("error_code", execErr.Code),
			StringField("error_type", string(execErr.Type)))
		if execErr.Kind != "" {
			fields = append(fields, StringField("error_kind", string(execErr.Kind)))
		}
		if execErr.Language != "" {
			fields = append(fields, StringField("language", execErr.Language))
		}
		l.with(fields).Error(execErr.Message)
		return
	}
	l.with(append(fields, ErrorField("error", err))).Error(err.Error())
}

// Fatal logs a fatal message and exits the program
func (l *DefaultLogger) Fatal(msg string, fields ...LogField) {
	l.with(fields).Fatal(msg)
}

// WithFields returns a new logger with the specified fields
func (l *DefaultLogger) WithFields(fields ...LogField) Logger {
	return &DefaultLogger{base: l.base, entry: l.with(fields)}
}

// WithError returns a new logger with the specified error
func (l *DefaultLogger) WithError(err error) Logger {
	return &DefaultLogger{base: l.base, entry: l.entry.WithError(err)}
}

// WithContext returns a new logger carrying the request id from ctx
func (l *DefaultLogger) WithContext(ctx context.Context) Logger {
	entry := l.entry.WithContext(ctx)
	if ctx != nil {
		if requestID := ctx.Value(errors.RequestIDKey); requestID != nil {
			entry = entry.WithField("request_id", requestID)
		}
	}
	return &DefaultLogger{base: l.base, entry: entry}
}

// WithComponent returns a new logger with the specified component
func (l *DefaultLogger) WithComponent(component string) Logger {
	return &DefaultLogger{base: l.base, entry: l.entry.WithField("component", component)}
}

// WithLanguage returns a new logger with the specified language
func (l *DefaultLogger) WithLanguage(language string) Logger {
	return &DefaultLogger{base: l.base, entry: l.entry.WithField("language", language)}
}

// WithRequest returns a new logger with the specified request ID
func (l *DefaultLogger) WithRequest(requestID string) Logger {
	return &DefaultLogger{base: l.base, entry: l.entry.WithField("request_id", requestID)}
}

// SetLevel sets the minimum log level. The level is shared by all loggers
// derived from the same root.
func (l *DefaultLogger) SetLevel(level LogLevel) {
	l.base.SetLevel(level.logrusLevel())
}

// GetLevel returns the current minimum log level
func (l *DefaultLogger) GetLevel() LogLevel {
	switch l.base.GetLevel() {
	case logrus.DebugLevel, logrus.TraceLevel:
		return LevelDebug
	case logrus.WarnLevel:
		return LevelWarning
	case logrus.ErrorLevel:
		return LevelError
	case logrus.FatalLevel, logrus.PanicLevel:
		return LevelFatal
	default:
		return LevelInfo
	}
}

func (l *DefaultLogger) with(fields []LogField) *logrus.Entry {
	if len(fields) == 0 {
		return l.entry
	}
	data := make(logrus.Fields, len(fields))
	for _, field := range fields {
		data[field.Key] = field.Value
	}
	return l.entry.WithFields(data)
}

// Field creates a new field
func Field(key string, value interface{}) LogField {
	return LogField{Key: key, Value: value}
}

// StringField creates a new string field
func StringField(key, value string) LogField {
	return LogField{Key: key, Value: value}
}

// IntField creates a new int field
func IntField(key string, value int) LogField {
	return LogField{Key: key, Value: value}
}

// BoolField creates a new bool field
func BoolField(key string, value bool) LogField {
	return LogField{Key: key, Value: value}
}

// ErrorField creates a new error field
func ErrorField(key string, value error) LogField {
	if value == nil {
		return LogField{Key: key, Value: nil}
	}
	return LogField{Key: key, Value: value.Error()}
}

// DurationField creates a new duration field
func DurationField(key string, value time.Duration) LogField {
	return LogField{Key: key, Value: value.String()}
}
