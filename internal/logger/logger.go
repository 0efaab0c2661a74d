package logger

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/saferun/safe-pkgs/internal/core"
)

// Level represents log level
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Logger provides JSON Lines logging
type Logger struct {
	writer io.Writer
	level  Level
}

// NewLogger creates a new Logger
func NewLogger(writer io.Writer, level Level) *Logger {
	if writer == nil {
		writer = os.Stdout
	}
	return &Logger{
		writer: writer,
		level:  level,
	}
}

// DecisionEvent represents one completed package evaluation for the log stream.
type DecisionEvent struct {
	Timestamp   string   `json:"ts"`
	Level       string   `json:"level"`
	Event       string   `json:"event"`
	Registry    string   `json:"registry"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Allow       bool     `json:"allow"`
	Risk        string   `json:"risk"`
	Reasons     []string `json:"reasons"`
	CacheHit    bool     `json:"cache_hit"`
	LatencyMS   int64    `json:"latency_ms"`
	RequestID   string   `json:"request_id,omitempty"`
}

// LogDecision logs a completed package evaluation.
func (l *Logger) LogDecision(ref core.PackageRef, decision core.Decision, cacheHit bool, latency time.Duration, requestID string) {
	if !l.shouldLog(LevelInfo) {
		return
	}
	event := DecisionEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     string(LevelInfo),
		Event:     "package_decision",
		Registry:  ref.Registry,
		Name:      ref.Name,
		Version:   ref.VersionOrLatest(),
		Allow:     decision.Allow,
		Risk:      string(decision.Risk),
		Reasons:   decision.Reasons,
		CacheHit:  cacheHit,
		LatencyMS: latency.Milliseconds(),
		RequestID: requestID,
	}
	if event.Reasons == nil {
		event.Reasons = []string{}
	}
	l.writeJSON(event)
}

// GenericEvent represents a generic log event
type GenericEvent struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Log logs a generic event
func (l *Logger) Log(level Level, event, message string, data map[string]interface{}) {
	e := GenericEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     string(level),
		Event:     event,
		Message:   message,
		Data:      data,
	}

	l.writeJSON(e)
}

// Debug logs a debug event
func (l *Logger) Debug(event, message string, data map[string]interface{}) {
	if l.shouldLog(LevelDebug) {
		l.Log(LevelDebug, event, message, data)
	}
}

// Info logs an info event
func (l *Logger) Info(event, message string, data map[string]interface{}) {
	if l.shouldLog(LevelInfo) {
		l.Log(LevelInfo, event, message, data)
	}
}

// Warn logs a warning event
func (l *Logger) Warn(event, message string, data map[string]interface{}) {
	if l.shouldLog(LevelWarn) {
		l.Log(LevelWarn, event, message, data)
	}
}

// Error logs an error event
func (l *Logger) Error(event, message string, data map[string]interface{}) {
	if l.shouldLog(LevelError) {
		l.Log(LevelError, event, message, data)
	}
}

// writeJSON writes a JSON line to the output
func (l *Logger) writeJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		os.Stderr.WriteString("failed to marshal log: " + err.Error() + "\n")
		return
	}

	l.writer.Write(data)
	l.writer.Write([]byte("\n"))
}

// shouldLog checks if a log level should be logged
func (l *Logger) shouldLog(level Level) bool {
	levels := map[Level]int{
		LevelDebug: 0,
		LevelInfo:  1,
		LevelWarn:  2,
		LevelError: 3,
	}

	return levels[level] >= levels[l.level]
}
