// Package logger provides structured, leveled, redacted logging for
// memu-sync, plus the plain append-only sync.log line format the ingest
// driver and watcher use for operator-facing status messages.
package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/memu-sync/memu-sync/pkg/redaction"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var logLevelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

var (
	currentLevel     = INFO
	state            = &Logger{}
	mu               sync.RWMutex
	redactionEnabled = true
)

// Logger holds the open file handles used for structured JSON logging and
// the plain sync.log append line.
type Logger struct {
	jsonFile *os.File
	syncLog  *os.File
}

type LogEntry struct {
	Level     string         `json:"level"`
	Timestamp string         `json:"timestamp"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// EnableFileLogging opens filePath for append and begins writing one JSON
// LogEntry per line to it, in addition to stderr.
func EnableFileLogging(filePath string) error {
	mu.Lock()
	defer mu.Unlock()

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if state.jsonFile != nil {
		state.jsonFile.Close()
	}
	state.jsonFile = file
	return nil
}

// EnableSyncLog opens path (normally sync.log under MEMU_DATA_DIR) for
// append and begins writing the plain "[YYYY-MM-DD HH:MM:SS] message"
// line for every message logged at or above the current level (Debug
// included when the level is DEBUG).
func EnableSyncLog(path string) error {
	mu.Lock()
	defer mu.Unlock()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open sync log: %w", err)
	}
	if state.syncLog != nil {
		state.syncLog.Close()
	}
	state.syncLog = file
	return nil
}

func DisableFileLogging() {
	mu.Lock()
	defer mu.Unlock()
	if state.jsonFile != nil {
		state.jsonFile.Close()
		state.jsonFile = nil
	}
	if state.syncLog != nil {
		state.syncLog.Close()
		state.syncLog = nil
	}
}

func logMessage(level LogLevel, component string, message string, fields map[string]any) {
	mu.RLock()
	active := level >= currentLevel
	mu.RUnlock()
	if !active {
		return
	}

	if redactionEnabled {
		message = redaction.Redact(message)
		if fields != nil {
			fields = redaction.RedactFields(fields)
		}
	}

	entry := LogEntry{
		Level:     logLevelNames[level],
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Component: component,
		Message:   message,
		Fields:    fields,
	}
	if pc, file, line, ok := runtime.Caller(2); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			entry.Caller = fmt.Sprintf("%s:%d (%s)", file, line, fn.Name())
		}
	}

	mu.RLock()
	jsonFile, syncFile := state.jsonFile, state.syncLog
	mu.RUnlock()

	if jsonFile != nil {
		if data, err := json.Marshal(entry); err == nil {
			jsonFile.Write(append(data, '\n'))
		}
	}
	if syncFile != nil {
		syncFile.WriteString(fmt.Sprintf("[%s] %s\n",
			time.Now().Format("2006-01-02 15:04:05"), message))
	}

	var fieldStr string
	if len(fields) > 0 {
		fieldStr = " " + formatFields(fields)
	}
	log.Println(fmt.Sprintf("[%s] [%s]%s %s%s",
		entry.Timestamp, logLevelNames[level], formatComponent(component), message, fieldStr))

	if level == FATAL {
		os.Exit(1)
	}
}

func formatComponent(component string) string {
	if component == "" {
		return ""
	}
	return fmt.Sprintf(" %s:", component)
}

func formatFields(fields map[string]any) string {
	parts := make([]string, 0, len(fields))
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return fmt.Sprintf("{%s}", strings.Join(parts, ", "))
}

func Debug(component, message string, fields map[string]any) {
	logMessage(DEBUG, component, message, fields)
}

func Info(component, message string, fields map[string]any) {
	logMessage(INFO, component, message, fields)
}

func Warn(component, message string, fields map[string]any) {
	logMessage(WARN, component, message, fields)
}

func Error(component, message string, fields map[string]any) {
	logMessage(ERROR, component, message, fields)
}

func Fatal(component, message string, fields map[string]any) {
	logMessage(FATAL, component, message, fields)
}

func SetRedactionEnabled(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	redactionEnabled = enabled
}

func IsRedactionEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return redactionEnabled
}
