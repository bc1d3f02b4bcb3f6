package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log message
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of a level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string to a Level, case-insensitive. Invalid
// values fall back to WARN.
func ParseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelWarn
	}
}

// Logger is the logging interface consumed by the other packages.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// FileLogger writes all log messages to a debug log under the given
// state directory (.testatlas by default).
type FileLogger struct {
	mu       sync.Mutex
	file     *os.File
	minLevel Level
}

// NewFileLogger creates a file-based logger rooted at stateDir. The log
// level is read from TESTATLAS_LOG_LEVEL.
func NewFileLogger(stateDir string) (*FileLogger, error) {
	if stateDir == "" {
		stateDir = ".testatlas"
	}
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	logPath := filepath.Join(stateDir, "debug.log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open debug log: %w", err)
	}

	header := fmt.Sprintf("\n=== testatlas debug log ===\n"+
		"Session started: %s\n"+
		"PID: %d\n"+
		"---\n\n",
		time.Now().Format(time.RFC3339),
		os.Getpid())
	if _, err := file.WriteString(header); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to write log header: %w", err)
	}

	return &FileLogger{
		file:     file,
		minLevel: ParseLevel(os.Getenv("TESTATLAS_LOG_LEVEL")),
	}, nil
}

// Debug writes a debug message to the log file
func (l *FileLogger) Debug(format string, args ...interface{}) {
	if l.minLevel <= LevelDebug {
		l.write(LevelDebug, format, args...)
	}
}

// Info writes an info message to the log file
func (l *FileLogger) Info(format string, args ...interface{}) {
	if l.minLevel <= LevelInfo {
		l.write(LevelInfo, format, args...)
	}
}

// Warn writes a warning message to the log file
func (l *FileLogger) Warn(format string, args ...interface{}) {
	if l.minLevel <= LevelWarn {
		l.write(LevelWarn, format, args...)
	}
}

// Error writes an error message to the log file and also to stderr so
// it is visible to the user.
func (l *FileLogger) Error(format string, args ...interface{}) {
	l.write(LevelError, format, args...)
	fmt.Fprintf(os.Stderr, "[ERROR] "+format+"\n", args...)
}

func (l *FileLogger) write(level Level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	message := fmt.Sprintf(format, args...)
	_, _ = fmt.Fprintf(l.file, "[%s] [%s] %s\n", timestamp, level, message)
	_ = l.file.Sync()
}

// Close writes a session footer and closes the log file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	footer := fmt.Sprintf("\n--- Session ended: %s ---\n\n",
		time.Now().Format(time.RFC3339))
	_, _ = l.file.WriteString(footer)

	err := l.file.Close()
	l.file = nil
	return err
}
