package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"testatlas/internal/logger"
)

// PathEnvVar is the environment variable through which the spawned
// runner process learns where to append its event stream.
const PathEnvVar = "TESTATLAS_IPC_PATH"

// Manager tails a JSONL event file written by the runner process and
// delivers typed events on its Events channel.
type Manager struct {
	Path   string
	Events chan Event

	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	stopped  chan struct{}

	closeOnce sync.Once
	log       logger.Logger

	file     *os.File
	reader   *bufio.Reader
	readerMu sync.Mutex
}

// NewManager creates a manager tailing the event file at path, creating
// the file and its directory if needed.
func NewManager(path string, log logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.NewMemory()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create event directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}

	return &Manager{
		Path:     path,
		Events:   make(chan Event, 4096),
		stopChan: make(chan struct{}),
		stopped:  make(chan struct{}),
		log:      log,
		file:     file,
		reader:   bufio.NewReader(file),
	}, nil
}

// Watch starts tailing the event file. Existing content is read first,
// then each write triggers another read.
func (m *Manager) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	m.watcher = watcher

	if err := watcher.Add(m.Path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch event file: %w", err)
	}

	go m.watchLoop()
	go m.readEvents()

	return nil
}

func (m *Manager) watchLoop() {
	defer close(m.stopped)

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write {
				m.readEvents()
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.Error("event file watcher error: %v", err)

		case <-m.stopChan:
			return
		}
	}
}

// readEvents drains complete lines from the current file position.
func (m *Manager) readEvents() {
	m.readerMu.Lock()
	defer m.readerMu.Unlock()

	for {
		line, err := m.reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				m.log.Error("error reading events: %v", err)
			}
			break
		}
		if len(line) > 0 {
			m.decodeAndSend(line)
		}
	}
}

func (m *Manager) decodeAndSend(line []byte) {
	var head struct {
		EventType EventType `json:"eventType"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		m.log.Debug("failed to decode event header: %v", err)
		return
	}

	var event Event
	switch head.EventType {
	case EventTypeRunBegin:
		var e RunBeginEvent
		if err := json.Unmarshal(line, &e); err != nil {
			m.log.Debug("failed to decode runBegin event: %v", err)
			return
		}
		event = e

	case EventTypeTestBegin:
		var e TestBeginEvent
		if err := json.Unmarshal(line, &e); err != nil {
			m.log.Debug("failed to decode testBegin event: %v", err)
			return
		}
		event = e

	case EventTypeTestEnd:
		var e TestEndEvent
		if err := json.Unmarshal(line, &e); err != nil {
			m.log.Debug("failed to decode testEnd event: %v", err)
			return
		}
		event = e

	case EventTypeRunError:
		var e RunErrorEvent
		if err := json.Unmarshal(line, &e); err != nil {
			m.log.Debug("failed to decode runError event: %v", err)
			return
		}
		event = e

	case EventTypeRunEnd:
		var e RunEndEvent
		if err := json.Unmarshal(line, &e); err != nil {
			m.log.Debug("failed to decode runEnd event: %v", err)
			return
		}
		event = e

	default:
		m.log.Error("unknown event type: %s", head.EventType)
		return
	}

	// Blocking send for natural backpressure
	m.Events <- event
}

// Close stops the tail and releases resources. The Events channel is
// closed once the watch loop has exited.
func (m *Manager) Close() error {
	select {
	case <-m.stopChan:
	default:
		close(m.stopChan)
	}

	if m.watcher != nil {
		<-m.stopped
		_ = m.watcher.Close()
		m.watcher = nil
	}

	if m.file != nil {
		_ = m.file.Close()
		m.file = nil
	}

	m.closeOnce.Do(func() {
		close(m.Events)
	})

	return nil
}

// Append writes one event as a JSON line to the event file at path. It
// is used by the runner side of the stream.
func Append(path string, event interface{}) error {
	if path == "" {
		return fmt.Errorf("%s not set", PathEnvVar)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create event directory: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}
