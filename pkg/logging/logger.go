// Package logging provides structured logging for the protocol runtime.
// It supports leveled output, key-value fields, and text or JSON formats.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	mcperrors "github.com/mcpwire/mcpwire/pkg/errors"
)

// Level represents the severity of a log message
type Level int

const (
	// DebugLevel is for detailed information useful for debugging
	DebugLevel Level = iota - 1
	// InfoLevel is for general informational messages
	InfoLevel
	// WarnLevel is for warning messages
	WarnLevel
	// ErrorLevel is for error messages
	ErrorLevel
)

// String returns the string representation of a log level
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// ErrorField creates an error field
func ErrorField(err error) Field {
	return Field{Key: "error", Value: err}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Any creates a field with any value
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Logger is the interface for structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// WithFields returns a new logger with additional fields
	WithFields(fields ...Field) Logger
	// WithError returns a new logger with error context
	WithError(err error) Logger

	SetLevel(level Level)
	GetLevel() Level
}

// Entry represents a log entry
type Entry struct {
	Level     Level
	Message   string
	Fields    map[string]interface{}
	Timestamp time.Time
}

// Formatter formats log entries
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// baseLogger is the base implementation of Logger
type baseLogger struct {
	mu        sync.RWMutex
	level     Level
	output    io.Writer
	formatter Formatter
	fields    map[string]interface{}
}

// New creates a new structured logger
func New(output io.Writer, formatter Formatter) Logger {
	if output == nil {
		output = os.Stderr
	}
	if formatter == nil {
		formatter = NewTextFormatter()
	}

	return &baseLogger{
		level:     InfoLevel,
		output:    output,
		formatter: formatter,
		fields:    make(map[string]interface{}),
	}
}

func (l *baseLogger) Debug(msg string, fields ...Field) {
	l.log(DebugLevel, msg, fields...)
}

func (l *baseLogger) Info(msg string, fields ...Field) {
	l.log(InfoLevel, msg, fields...)
}

func (l *baseLogger) Warn(msg string, fields ...Field) {
	l.log(WarnLevel, msg, fields...)
}

func (l *baseLogger) Error(msg string, fields ...Field) {
	l.log(ErrorLevel, msg, fields...)
}

// WithFields returns a new logger with additional fields
func (l *baseLogger) WithFields(fields ...Field) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	newFields := make(map[string]interface{})
	for k, v := range l.fields {
		newFields[k] = v
	}
	for _, field := range fields {
		newFields[field.Key] = field.Value
	}

	return &baseLogger{
		level:     l.level,
		output:    l.output,
		formatter: l.formatter,
		fields:    newFields,
	}
}

// WithError returns a new logger with error context
func (l *baseLogger) WithError(err error) Logger {
	fields := []Field{ErrorField(err)}

	if mcpErr, ok := mcperrors.As(err); ok {
		fields = append(fields,
			Int("error_code", mcpErr.Code()),
			String("error_category", string(mcpErr.Category())),
			String("error_severity", string(mcpErr.Severity())),
		)
	}

	return l.WithFields(fields...)
}

// SetLevel sets the minimum log level
func (l *baseLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current log level
func (l *baseLogger) GetLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func (l *baseLogger) log(level Level, msg string, fields ...Field) {
	l.mu.RLock()
	if level < l.level {
		l.mu.RUnlock()
		return
	}
	l.mu.RUnlock()

	entry := &Entry{
		Level:     level,
		Message:   msg,
		Fields:    make(map[string]interface{}),
		Timestamp: time.Now(),
	}

	l.mu.RLock()
	for k, v := range l.fields {
		entry.Fields[k] = v
	}
	l.mu.RUnlock()

	for _, field := range fields {
		entry.Fields[field.Key] = field.Value
	}

	data, err := l.formatter.Format(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to format log entry: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.output.Write(data); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write log entry: %v\n", err)
	}
}

// nopLogger discards all log output
type nopLogger struct{}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...Field)       {}
func (nopLogger) Info(string, ...Field)        {}
func (nopLogger) Warn(string, ...Field)        {}
func (nopLogger) Error(string, ...Field)       {}
func (n nopLogger) WithFields(...Field) Logger { return n }
func (n nopLogger) WithError(error) Logger     { return n }
func (nopLogger) SetLevel(Level)               {}
func (nopLogger) GetLevel() Level              { return ErrorLevel }
