// Structured logging for the axiscope panel
//
// Leveled, prefixed loggers with key-value fields, written as text
// (optionally colorized) or JSON. Component loggers are derived from a
// process-wide default with GetLogger.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a LogLevel. Unknown names map to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// OutputFormat specifies the output format for log messages
type OutputFormat int

const (
	FormatText OutputFormat = iota
	FormatJSON
)

// ParseFormat maps "json" to FormatJSON and anything else to FormatText.
func ParseFormat(s string) OutputFormat {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

// Fields is a map of structured logging fields
type Fields map[string]interface{}

// options is shared between a logger and all loggers derived from it,
// so a level change on the root reaches every component.
type options struct {
	mu         sync.Mutex
	writer     io.Writer
	level      LogLevel
	timeFormat string
	colorize   bool
	outFormat  OutputFormat
	caller     bool
}

// Logger writes leveled messages under a component prefix.
type Logger struct {
	prefix string
	opts   *options
}

// Entry is a pending log line carrying fields.
type Entry struct {
	logger *Logger
	fields Fields
}

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger

	ansiColors = map[LogLevel]string{
		DEBUG: "\x1b[36m",
		INFO:  "\x1b[32m",
		WARN:  "\x1b[33m",
		ERROR: "\x1b[31m",
	}
	ansiReset = "\x1b[0m"
)

// New creates a new logger with the given prefix
func New(prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		opts: &options{
			writer:     os.Stderr,
			level:      INFO,
			timeFormat: "2006-01-02 15:04:05.000",
			colorize:   os.Getenv("NO_COLOR") == "",
			outFormat:  FormatText,
		},
	}
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level LogLevel) {
	l.opts.mu.Lock()
	defer l.opts.mu.Unlock()
	l.opts.level = level
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.opts.mu.Lock()
	defer l.opts.mu.Unlock()
	return l.opts.level
}

// SetWriter sets the output writer (e.g., for testing)
func (l *Logger) SetWriter(w io.Writer) {
	l.opts.mu.Lock()
	defer l.opts.mu.Unlock()
	l.opts.writer = w
}

// SetColorize enables or disables colorized output
func (l *Logger) SetColorize(enable bool) {
	l.opts.mu.Lock()
	defer l.opts.mu.Unlock()
	l.opts.colorize = enable
}

// SetFormat sets the output format (FormatText or FormatJSON)
func (l *Logger) SetFormat(format OutputFormat) {
	l.opts.mu.Lock()
	defer l.opts.mu.Unlock()
	l.opts.outFormat = format
}

// SetCaller enables or disables caller info in log output
func (l *Logger) SetCaller(enable bool) {
	l.opts.mu.Lock()
	defer l.opts.mu.Unlock()
	l.opts.caller = enable
}

// Prefix returns the component prefix.
func (l *Logger) Prefix() string {
	return l.prefix
}

// WithPrefix returns a logger for another component sharing this
// logger's output settings.
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{prefix: prefix, opts: l.opts}
}

// WithField returns an Entry with the given field
func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{logger: l, fields: Fields{key: value}}
}

// WithFields returns an Entry with the given fields
func (l *Logger) WithFields(fields Fields) *Entry {
	return &Entry{logger: l, fields: fields}
}

// WithError returns an Entry with the error field set
func (l *Logger) WithError(err error) *Entry {
	return l.WithField("error", errString(err))
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.write(DEBUG, msg, args, nil) }
func (l *Logger) Info(msg string, args ...interface{})  { l.write(INFO, msg, args, nil) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.write(WARN, msg, args, nil) }
func (l *Logger) Error(msg string, args ...interface{}) { l.write(ERROR, msg, args, nil) }

// JSONLogEntry is the structure for JSON formatted log entries
type JSONLogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Logger    string                 `json:"logger"`
	Message   string                 `json:"message"`
	Caller    string                 `json:"caller,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// callerSkip counts frames from runtime.Caller inside write up to the
// user call site: write -> (Logger.X | Entry.X) -> caller.
const callerSkip = 3

func (l *Logger) write(level LogLevel, msg string, args []interface{}, fields Fields) {
	o := l.opts
	o.mu.Lock()
	defer o.mu.Unlock()

	if level < o.level {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}

	var caller string
	if o.caller {
		caller = getCaller(callerSkip)
	}

	var out string
	if o.outFormat == FormatJSON {
		out = l.formatJSON(level, msg, caller, fields)
	} else {
		out = l.formatText(level, msg, caller, fields)
	}
	fmt.Fprint(o.writer, out)
}

func (l *Logger) formatText(level LogLevel, msg, caller string, fields Fields) string {
	var sb strings.Builder

	sb.WriteString(time.Now().Format(l.opts.timeFormat))
	sb.WriteString(" [")
	sb.WriteString(fmt.Sprintf("%-5s", level.String()))
	sb.WriteString("] ")

	if l.opts.colorize {
		sb.WriteString(ansiColors[level])
	}
	sb.WriteString(l.prefix)
	if l.opts.colorize {
		sb.WriteString(ansiReset)
	}
	sb.WriteString(": ")
	sb.WriteString(msg)

	if caller != "" {
		sb.WriteString(" (")
		sb.WriteString(caller)
		sb.WriteString(")")
	}

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(fmt.Sprintf("%v", fields[k]))
		}
		sb.WriteString("}")
	}

	sb.WriteString("\n")
	return sb.String()
}

func (l *Logger) formatJSON(level LogLevel, msg, caller string, fields Fields) string {
	entry := JSONLogEntry{
		Timestamp: time.Now().Format(time.RFC3339Nano),
		Level:     level.String(),
		Logger:    l.prefix,
		Message:   msg,
		Caller:    caller,
	}
	if len(fields) > 0 {
		entry.Fields = make(map[string]interface{}, len(fields))
		for k, v := range fields {
			entry.Fields[k] = v
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal log entry: %v"}`+"\n", err)
	}
	return string(data) + "\n"
}

func getCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}

// WithField adds a field to the entry
func (e *Entry) WithField(key string, value interface{}) *Entry {
	return e.WithFields(Fields{key: value})
}

// WithFields adds multiple fields to the entry
func (e *Entry) WithFields(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Entry{logger: e.logger, fields: merged}
}

// WithError adds an error field to the entry
func (e *Entry) WithError(err error) *Entry {
	return e.WithField("error", errString(err))
}

func (e *Entry) Debug(msg string) { e.logger.write(DEBUG, msg, nil, e.fields) }
func (e *Entry) Info(msg string)  { e.logger.write(INFO, msg, nil, e.fields) }
func (e *Entry) Warn(msg string)  { e.logger.write(WARN, msg, nil, e.fields) }
func (e *Entry) Error(msg string) { e.logger.write(ERROR, msg, nil, e.fields) }

func (e *Entry) Infof(format string, args ...interface{}) {
	e.logger.write(INFO, format, args, e.fields)
}

func (e *Entry) Warnf(format string, args ...interface{}) {
	e.logger.write(WARN, format, args, e.fields)
}

func (e *Entry) Errorf(format string, args ...interface{}) {
	e.logger.write(ERROR, format, args, e.fields)
}

// SetDefaultLogger replaces the process-wide root logger.
func SetDefaultLogger(logger *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

// Default returns the process-wide root logger.
func Default() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New("axiscope")
		ConfigureFromEnv(defaultLogger)
	}
	return defaultLogger
}

// GetLogger returns a component logger derived from the root logger.
func GetLogger(prefix string) *Logger {
	return Default().WithPrefix(prefix)
}

// ConfigureFromEnv applies environment-based configuration to the logger.
// Environment variables:
//   - AXISCOPE_LOG_LEVEL: DEBUG, INFO, WARN, ERROR
//   - AXISCOPE_LOG_FORMAT: text, json
//   - AXISCOPE_LOG_CALLER: any non-empty value enables caller info
//   - NO_COLOR: any non-empty value disables colors
func ConfigureFromEnv(l *Logger) {
	if levelStr := os.Getenv("AXISCOPE_LOG_LEVEL"); levelStr != "" {
		l.SetLevel(ParseLevel(levelStr))
	}
	if formatStr := os.Getenv("AXISCOPE_LOG_FORMAT"); formatStr != "" {
		l.SetFormat(ParseFormat(formatStr))
	}
	if os.Getenv("AXISCOPE_LOG_CALLER") != "" {
		l.SetCaller(true)
	}
	if os.Getenv("NO_COLOR") != "" {
		l.SetColorize(false)
	}
}
