package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents a log level
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levelNames = map[Level]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
	FatalLevel: "FATAL",
}

// String returns the string representation of the log level
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel parses a string into a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	}
	return InfoLevel, fmt.Errorf("invalid log level: %s", s)
}

// Fields is a map of log fields
type Fields map[string]interface{}

// Entry is a single serialized log line
type Entry struct {
	Timestamp     string                 `json:"timestamp"`
	Level         string                 `json:"level"`
	Component     string                 `json:"component,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	UserID        string                 `json:"user_id,omitempty"`
	Message       string                 `json:"message"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
}

// Logger writes structured entries to an output
type Logger struct {
	mu               sync.RWMutex
	level            Level
	format           string // json or text
	output           io.Writer
	componentLevels  map[string]Level
	sanitizePatterns []*regexp.Regexp
	now              func() time.Time
}

var (
	globalLogger *Logger
	loggerMu     sync.RWMutex
)

// New creates a new logger instance
func New(level Level, format string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{
		level:           level,
		format:          format,
		output:          output,
		componentLevels: make(map[string]Level),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Init initializes the global logger
func Init(level Level, format string, output io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	globalLogger = New(level, format, output)
}

// Get returns the global logger. Before Init it returns a logger that
// discards everything below WarnLevel to stderr.
func Get() *Logger {
	loggerMu.RLock()
	l := globalLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if globalLogger == nil {
		globalLogger = New(WarnLevel, "json", os.Stderr)
	}
	return globalLogger
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetComponentLevel sets the log level for a specific component
func (l *Logger) SetComponentLevel(component string, level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.componentLevels[component] = level
}

// SetSanitizePatterns sets the regex patterns of field keys whose values are redacted
func (l *Logger) SetSanitizePatterns(patterns []string) error {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid sanitize pattern %s: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sanitizePatterns = compiled
	return nil
}

func (l *Logger) enabled(level Level, component string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if componentLevel, ok := l.componentLevels[component]; ok {
		return level >= componentLevel
	}
	return level >= l.level
}

func (l *Logger) sanitize(fields Fields) Fields {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.sanitizePatterns) == 0 || len(fields) == 0 {
		return fields
	}

	out := make(Fields, len(fields))
	for k, v := range fields {
		out[k] = v
		for _, pattern := range l.sanitizePatterns {
			if !pattern.MatchString(k) {
				continue
			}
			if str, ok := v.(string); ok && len(str) > 4 {
				out[k] = "***" + str[len(str)-4:]
			} else {
				out[k] = "***"
			}
			break
		}
	}
	return out
}

func (l *Logger) write(level Level, s scope, message string, fields Fields) {
	if !l.enabled(level, s.component) {
		return
	}

	entry := Entry{
		Timestamp:     l.now().Format(time.RFC3339Nano),
		Level:         level.String(),
		Component:     s.component,
		CorrelationID: s.correlationID,
		UserID:        s.userID,
		Message:       message,
		Fields:        l.sanitize(fields),
	}

	var line []byte
	if l.format == "json" {
		data, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to marshal log entry: %v\n", err)
			return
		}
		line = append(data, '\n')
	} else {
		line = []byte(formatText(entry))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.output.Write(line)
}

func formatText(entry Entry) string {
	var b strings.Builder
	b.WriteString(entry.Timestamp)
	b.WriteByte(' ')
	b.WriteString(entry.Level)

	if entry.Component != "" {
		fmt.Fprintf(&b, " [%s]", entry.Component)
	}
	if entry.CorrelationID != "" {
		fmt.Fprintf(&b, " [%s]", entry.CorrelationID)
	}
	if entry.UserID != "" {
		fmt.Fprintf(&b, " user=%s", entry.UserID)
	}

	b.WriteByte(' ')
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Fields[k])
	}

	b.WriteByte('\n')
	return b.String()
}

// scope is the context attached to a ComponentLogger
type scope struct {
	component     string
	correlationID string
	userID        string
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...Fields) {
	l.write(DebugLevel, scope{}, message, mergeFields(fields...))
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...Fields) {
	l.write(InfoLevel, scope{}, message, mergeFields(fields...))
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...Fields) {
	l.write(WarnLevel, scope{}, message, mergeFields(fields...))
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...Fields) {
	l.write(ErrorLevel, scope{}, message, mergeFields(fields...))
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, fields ...Fields) {
	l.write(FatalLevel, scope{}, message, mergeFields(fields...))
	os.Exit(1)
}

// WithComponent creates a component logger
func (l *Logger) WithComponent(component string) *ComponentLogger {
	return &ComponentLogger{logger: l, scope: scope{component: component}}
}

// ComponentLogger logs on behalf of a component, optionally bound to a
// request's correlation ID and user.
type ComponentLogger struct {
	logger *Logger
	scope  scope
}

// WithCorrelationID returns a copy bound to correlationID
func (cl *ComponentLogger) WithCorrelationID(correlationID string) *ComponentLogger {
	s := cl.scope
	s.correlationID = correlationID
	return &ComponentLogger{logger: cl.logger, scope: s}
}

// WithUser returns a copy bound to userID
func (cl *ComponentLogger) WithUser(userID string) *ComponentLogger {
	s := cl.scope
	s.userID = userID
	return &ComponentLogger{logger: cl.logger, scope: s}
}

// Debug logs a debug message for the component
func (cl *ComponentLogger) Debug(message string, fields ...Fields) {
	cl.logger.write(DebugLevel, cl.scope, message, mergeFields(fields...))
}

// Info logs an info message for the component
func (cl *ComponentLogger) Info(message string, fields ...Fields) {
	cl.logger.write(InfoLevel, cl.scope, message, mergeFields(fields...))
}

// Warn logs a warning message for the component
func (cl *ComponentLogger) Warn(message string, fields ...Fields) {
	cl.logger.write(WarnLevel, cl.scope, message, mergeFields(fields...))
}

// Error logs an error message for the component
func (cl *ComponentLogger) Error(message string, fields ...Fields) {
	cl.logger.write(ErrorLevel, cl.scope, message, mergeFields(fields...))
}

// Fatal logs a fatal message for the component and exits
func (cl *ComponentLogger) Fatal(message string, fields ...Fields) {
	cl.logger.write(FatalLevel, cl.scope, message, mergeFields(fields...))
	os.Exit(1)
}

func mergeFields(fields ...Fields) Fields {
	switch len(fields) {
	case 0:
		return nil
	case 1:
		return fields[0]
	}

	result := make(Fields)
	for _, f := range fields {
		for k, v := range f {
			result[k] = v
		}
	}
	return result
}

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	userIDKey        contextKey = "user_id"
)

// WithCorrelationID adds a correlation ID to the context
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// GetCorrelationID retrieves the correlation ID from the context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithUserID adds the authenticated user ID to the context for log entries
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID retrieves the user ID recorded by WithUserID
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext creates a component logger bound to the request in ctx
func FromContext(ctx context.Context, component string) *ComponentLogger {
	return &ComponentLogger{
		logger: Get(),
		scope: scope{
			component:     component,
			correlationID: GetCorrelationID(ctx),
			userID:        GetUserID(ctx),
		},
	}
}

// Info logs through the global logger
func Info(message string, fields ...Fields) {
	Get().Info(message, fields...)
}

// Warn logs through the global logger
func Warn(message string, fields ...Fields) {
	Get().Warn(message, fields...)
}

// Error logs through the global logger
func Error(message string, fields ...Fields) {
	Get().Error(message, fields...)
}

// Fatal logs through the global logger and exits
func Fatal(message string, fields ...Fields) {
	Get().Fatal(message, fields...)
}
