package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/austindbirch/harbor_fanout/internal/tracing"
)

// LogLevel represents the severity of the log entry
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

func init() {
	zerolog.MessageFieldName = "msg"
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// LogEntry collects the fields of one log line until a level method emits it
type LogEntry struct {
	logger    *Logger
	Level     LogLevel
	Message   string
	TraceID   string
	SpanID    string
	RequestID string
	Target    string
	Priority  string
	Fields    map[string]any
}

// Logger provides structured logging with trace correlation
type Logger struct {
	service string
	zl      zerolog.Logger
}

// New creates a logger for the given service writing to stdout, or to a
// console writer on stderr when LOG_FORMAT=console. LOG_LEVEL sets the minimum
// level (default info).
func New(service string) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	l := NewWithWriter(service, w)
	if lvl, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL"))); err == nil && lvl != zerolog.NoLevel {
		l.zl = l.zl.Level(lvl)
	} else {
		l.zl = l.zl.Level(zerolog.InfoLevel)
	}
	return l
}

// NewWithWriter creates a logger that writes JSON lines to w at every level
func NewWithWriter(service string, w io.Writer) *Logger {
	zctx := zerolog.New(w).With().Timestamp()
	if service != "" {
		zctx = zctx.Str("service", service)
	}
	return &Logger{
		service: service,
		zl:      zctx.Logger(),
	}
}

// Service returns the service name stamped on every line
func (l *Logger) Service() string {
	return l.service
}

// WithContext creates a log entry with trace correlation from context
func (l *Logger) WithContext(ctx context.Context) *LogEntry {
	entry := l.Plain()
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		entry.TraceID = traceID
	}
	if sc := oteltrace.SpanContextFromContext(ctx); sc.HasSpanID() {
		entry.SpanID = sc.SpanID().String()
	}
	return entry
}

// WithFields creates a log entry with arbitrary key-value pairs
func (l *Logger) WithFields(fields map[string]any) *LogEntry {
	return &LogEntry{logger: l, Fields: fields}
}

// Plain creates a basic log entry without context
func (l *Logger) Plain() *LogEntry {
	return &LogEntry{logger: l, Fields: make(map[string]any)}
}

// WithRequest sets the inbound request ID
func (e *LogEntry) WithRequest(requestID string) *LogEntry {
	e.RequestID = requestID
	return e
}

// WithTarget sets the delivery target
func (e *LogEntry) WithTarget(target string) *LogEntry {
	e.Target = target
	return e
}

// WithPriority sets the queue priority
func (e *LogEntry) WithPriority(priority string) *LogEntry {
	e.Priority = priority
	return e
}

// WithField adds a single field to the log entry
func (e *LogEntry) WithField(key string, value any) *LogEntry {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// WithFields adds multiple fields to the log entry
func (e *LogEntry) WithFields(fields map[string]any) *LogEntry {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	for k, v := range fields {
		e.Fields[k] = v
	}
	return e
}

// WithError adds an error field to the log entry
func (e *LogEntry) WithError(err error) *LogEntry {
	if err != nil {
		if e.Fields == nil {
			e.Fields = make(map[string]any)
		}
		e.Fields["error"] = err.Error()
	}
	return e
}

// Debug logs at debug level
func (e *LogEntry) Debug(message string) {
	e.emit(LevelDebug, message)
}

// Info logs at info level
func (e *LogEntry) Info(message string) {
	e.emit(LevelInfo, message)
}

// Warn logs at warn level
func (e *LogEntry) Warn(message string) {
	e.emit(LevelWarn, message)
}

// Error logs at error level
func (e *LogEntry) Error(message string) {
	e.emit(LevelError, message)
}

// Fatal logs at fatal level and exits
func (e *LogEntry) Fatal(message string) {
	e.emit(LevelFatal, message)
	os.Exit(1)
}

func (e *LogEntry) emit(level LogLevel, message string) {
	e.Level = level
	e.Message = message
	e.output()
}

// output writes the entry through the logger's zerolog sink
func (e *LogEntry) output() {
	l := e.logger
	if l == nil {
		l = defaultLogger
	}
	ev := l.zl.WithLevel(zerologLevel(e.Level))
	if ev == nil {
		return
	}
	if e.TraceID != "" {
		ev = ev.Str("trace_id", e.TraceID)
	}
	if e.SpanID != "" {
		ev = ev.Str("span_id", e.SpanID)
	}
	if e.RequestID != "" {
		ev = ev.Str("request_id", e.RequestID)
	}
	if e.Target != "" {
		ev = ev.Str("target", e.Target)
	}
	if e.Priority != "" {
		ev = ev.Str("priority", e.Priority)
	}
	if len(e.Fields) > 0 {
		ev = ev.Interface("fields", e.Fields)
	}
	ev.Msg(e.Message)
}

func zerologLevel(l LogLevel) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Global convenience functions

var defaultLogger = New("harborfanout")

// WithFields creates a log entry with fields using the default logger
func WithFields(fields map[string]any) *LogEntry {
	return defaultLogger.WithFields(fields)
}

// Plain creates a basic log entry using the default logger
func Plain() *LogEntry {
	return defaultLogger.Plain()
}

// SetDefaultService sets the service name for the default logger
func SetDefaultService(service string) {
	defaultLogger = New(service)
}
