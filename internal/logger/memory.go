package logger

import (
	"fmt"
	"sync"
)

// Memory is a logger that stores messages in memory, for tests.
type Memory struct {
	mu       sync.Mutex
	messages map[Level][]string
}

// NewMemory creates a new in-memory logger
func NewMemory() *Memory {
	return &Memory{messages: make(map[Level][]string)}
}

// Debug records a debug message
func (m *Memory) Debug(format string, args ...interface{}) { m.record(LevelDebug, format, args...) }

// Info records an info message
func (m *Memory) Info(format string, args ...interface{}) { m.record(LevelInfo, format, args...) }

// Warn records a warning message
func (m *Memory) Warn(format string, args ...interface{}) { m.record(LevelWarn, format, args...) }

// Error records an error message
func (m *Memory) Error(format string, args ...interface{}) { m.record(LevelError, format, args...) }

func (m *Memory) record(level Level, format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[level] = append(m.messages[level], fmt.Sprintf(format, args...))
}

// Messages returns a copy of all messages recorded at the given level.
func (m *Memory) Messages(level Level) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.messages[level]))
	copy(out, m.messages[level])
	return out
}
