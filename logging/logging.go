// Package logging provides leveled, component-scoped console output for the
// supervision core. Lines are plain text so they can be grepped on the
// acquisition hosts:
//
//	WARN  2026-02-05T04:00:00.000Z [scanner] heartbeat_expired entity=P1 kind=PROCESS
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger provides structured logging to stdout.
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		mu:       &sync.Mutex{},
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := New()
	l.output = io.Discard
	return l
}

// ParseLevel converts a config string into a Level. Unknown or empty
// strings map to LevelInfo.
func ParseLevel(s string) Level {
	lvl := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelPriority[lvl]; ok {
		return lvl
	}
	return LevelInfo
}

// WithComponent returns a new logger with the given component name.
// The derived logger shares the parent's output lock.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry in traditional format: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Supervision logging helpers ---

// HeartbeatExpired logs an entity whose heartbeat expired during a scan.
func (l *Logger) HeartbeatExpired(entityID, kind string, silentFor time.Duration) {
	l.Warn("heartbeat_expired", map[string]interface{}{
		"entity":     entityID,
		"kind":       kind,
		"silent_for": silentFor.String(),
	})
}

// SupervisionTransition logs a supervision status change of an entity.
func (l *Logger) SupervisionTransition(entityID, kind, status string) {
	l.Info("supervision_transition", map[string]interface{}{
		"entity": entityID,
		"kind":   kind,
		"status": status,
	})
}

// ScanComplete logs the end of a heartbeat scan cycle.
func (l *Logger) ScanComplete(scanned, expired, downCount int, duration time.Duration) {
	l.Debug("scan_complete", map[string]interface{}{
		"scanned":  scanned,
		"expired":  expired,
		"down":     downCount,
		"duration": duration.String(),
	})
}

// ScanSkipped logs a scan tick dropped because the previous cycle is running.
func (l *Logger) ScanSkipped() {
	l.Warn("scan_skipped", map[string]interface{}{
		"reason": "previous cycle still running",
	})
}

// AlertRaised logs a down-count threshold crossing.
func (l *Logger) AlertRaised(downCount, threshold int) {
	l.Warn("alert_raised", map[string]interface{}{
		"down":      downCount,
		"threshold": threshold,
	})
}

// AlertCleared logs the end of a down-count alert.
func (l *Logger) AlertCleared(downCount, threshold int) {
	l.Info("alert_cleared", map[string]interface{}{
		"down":      downCount,
		"threshold": threshold,
	})
}

// CascadeFailed logs a supervision cascade that could not update a tag.
func (l *Logger) CascadeFailed(entityID, tagID string, err error) {
	l.Error("cascade_failed", map[string]interface{}{
		"entity": entityID,
		"tag":    tagID,
		"error":  err.Error(),
	})
}

// ListenerFailed logs a listener that returned an error or panicked.
func (l *Logger) ListenerFailed(handle, tagID string, err error) {
	l.Error("listener_failed", map[string]interface{}{
		"listener": handle,
		"tag":      tagID,
		"error":    err.Error(),
	})
}
