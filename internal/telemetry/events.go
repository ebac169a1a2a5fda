package telemetry

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one record in the append-only run event log.
type Event struct {
	Time   time.Time      `json:"ts"`
	Name   string         `json:"event"`
	Fields map[string]any `json:"fields,omitempty"`
}

// EventSink appends newline-delimited JSON events to a log file.
// Safe for concurrent use; emit failures are logged, never fatal.
type EventSink struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
	f  *os.File
}

// NewEventSink opens (creating if needed) the event log at path.
func NewEventSink(path string, logger *slog.Logger) (*EventSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &EventSink{path: path, logger: logger, f: f}, nil
}

// Path returns the log file location.
func (s *EventSink) Path() string { return s.path }

// Emit appends one event record.
func (s *EventSink) Emit(name string, fields map[string]any) {
	ev := Event{Time: time.Now().UTC(), Name: name, Fields: fields}
	b, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("event marshal failed", "event", name, "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return
	}
	if _, err := s.f.Write(append(b, '\n')); err != nil {
		s.logger.Error("event write failed", "event", name, "error", err)
	}
}

// Close flushes and closes the underlying file.
func (s *EventSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
