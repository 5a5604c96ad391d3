// Package observability provides the logging capability shared by every
// component in the cache and search engine. It intentionally stays narrow:
// metric shipping and tracing belong to the host process, not here.
package observability

import (
	"fmt"
	"log"
	"os"
	"time"
)

// LogLevel orders log severities from most to least verbose.
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
	LogLevelFatal LogLevel = "FATAL"
)

var levelRank = map[LogLevel]int{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
	LogLevelFatal: 4,
}

// Logger is the capability every component accepts at construction time.
// There is no process-wide singleton; callers that don't care pass
// NewNoopLogger().
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Fatal(msg string, fields map[string]interface{})

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})

	WithPrefix(prefix string) Logger
	With(fields map[string]interface{}) Logger
}

// StandardLogger writes leveled, timestamped lines to stderr.
type StandardLogger struct {
	prefix string
	level  LogLevel
	fields map[string]interface{}
	logger *log.Logger
}

// NewStandardLogger creates a StandardLogger at the given prefix, defaulting
// to INFO level.
func NewStandardLogger(prefix string) Logger {
	return &StandardLogger{
		prefix: prefix,
		level:  LogLevelInfo,
		logger: log.New(os.Stderr, "", 0),
	}
}

// WithLevel returns a copy of the logger at a different minimum level.
func (l *StandardLogger) WithLevel(level LogLevel) *StandardLogger {
	return &StandardLogger{prefix: l.prefix, level: level, fields: l.fields, logger: l.logger}
}

func (l *StandardLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(LogLevelDebug, msg, fields)
}

func (l *StandardLogger) Info(msg string, fields map[string]interface{}) {
	l.log(LogLevelInfo, msg, fields)
}

func (l *StandardLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(LogLevelWarn, msg, fields)
}

func (l *StandardLogger) Error(msg string, fields map[string]interface{}) {
	l.log(LogLevelError, msg, fields)
}

func (l *StandardLogger) Fatal(msg string, fields map[string]interface{}) {
	l.log(LogLevelFatal, msg, fields)
	os.Exit(1)
}

func (l *StandardLogger) WithPrefix(prefix string) Logger {
	return &StandardLogger{prefix: prefix, level: l.level, fields: l.fields, logger: l.logger}
}

func (l *StandardLogger) With(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &StandardLogger{prefix: l.prefix, level: l.level, fields: merged, logger: l.logger}
}

func (l *StandardLogger) levelEnabled(level LogLevel) bool {
	return levelRank[level] >= levelRank[l.level]
}

func (l *StandardLogger) log(level LogLevel, msg string, fields map[string]interface{}) {
	if !l.levelEnabled(level) && level != LogLevelFatal {
		return
	}
	timestamp := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	prefix := fmt.Sprintf("%s [%s] [%s]", timestamp, level, l.prefix)
	l.logger.Printf("%s %s%s", prefix, msg, formatFields(mergeFields(l.fields, fields)))
}

func mergeFields(base, extra map[string]interface{}) map[string]interface{} {
	if len(base) == 0 {
		return extra
	}
	merged := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	out := ""
	for k, v := range fields {
		out += fmt.Sprintf(" %s=%v", k, v)
	}
	return out
}

func (l *StandardLogger) Debugf(format string, args ...interface{}) {
	l.log(LogLevelDebug, fmt.Sprintf(format, args...), nil)
}

func (l *StandardLogger) Infof(format string, args ...interface{}) {
	l.log(LogLevelInfo, fmt.Sprintf(format, args...), nil)
}

func (l *StandardLogger) Warnf(format string, args ...interface{}) {
	l.log(LogLevelWarn, fmt.Sprintf(format, args...), nil)
}

func (l *StandardLogger) Errorf(format string, args ...interface{}) {
	l.log(LogLevelError, fmt.Sprintf(format, args...), nil)
}

func (l *StandardLogger) Fatalf(format string, args ...interface{}) {
	l.log(LogLevelFatal, fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}

// NoopLogger discards everything. It is the default for tests and for
// callers that don't want logging.
type NoopLogger struct{}

func NewNoopLogger() Logger { return &NoopLogger{} }

func (l *NoopLogger) Debug(string, map[string]interface{}) {}
func (l *NoopLogger) Info(string, map[string]interface{})  {}
func (l *NoopLogger) Warn(string, map[string]interface{})  {}
func (l *NoopLogger) Error(string, map[string]interface{}) {}
func (l *NoopLogger) Fatal(string, map[string]interface{}) {}
func (l *NoopLogger) Debugf(string, ...interface{})        {}
func (l *NoopLogger) Infof(string, ...interface{})         {}
func (l *NoopLogger) Warnf(string, ...interface{})         {}
func (l *NoopLogger) Errorf(string, ...interface{})        {}
func (l *NoopLogger) Fatalf(string, ...interface{})        {}
func (l *NoopLogger) WithPrefix(string) Logger             { return l }
func (l *NoopLogger) With(map[string]interface{}) Logger   { return l }

// NewLogger is the primary factory used throughout the module; an empty
// prefix falls back to "standards-cache".
func NewLogger(prefix string) Logger {
	if prefix == "" {
		prefix = "standards-cache"
	}
	return NewStandardLogger(prefix)
}
