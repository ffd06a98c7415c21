// Package audit provides an append-only JSONL log of engine activity per
// session: generator calls, validation outcomes and state transitions,
// suitable for replay and debugging. The log is advisory; engine
// correctness never depends on it.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yarlson/forge/internal/validate"
)

// Event types written to the log.
const (
	EventGeneration = "generation"
	EventValidation = "validation"
	EventTransition = "transition"
)

// Event is one audit record.
type Event struct {
	// Time is when the event was recorded.
	Time time.Time `json:"time"`

	// SessionID keys the event to its session.
	SessionID string `json:"session_id"`

	// Type is one of the Event* constants.
	Type string `json:"type"`

	// Phase is the phase the event belongs to, when applicable.
	Phase string `json:"phase,omitempty"`

	// Detail carries type-specific fields.
	Detail map[string]any `json:"detail,omitempty"`
}

// Log appends events for one session to a JSONL file. A nil *Log is valid
// and drops all events, so wiring the log is optional.
type Log struct {
	sessionID string

	mu   sync.Mutex
	file *os.File
}

// Open creates (or appends to) the audit log for a session under dir.
func Open(dir, sessionID string) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	path := filepath.Join(dir, sessionID+".jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	return &Log{sessionID: sessionID, file: file}, nil
}

// Path returns the log file path, or empty for a nil log.
func (l *Log) Path() string {
	if l == nil {
		return ""
	}
	return l.file.Name()
}

// Close closes the underlying file.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// RecordGeneration logs one generator call.
func (l *Log) RecordGeneration(phase, nodeID string, duration time.Duration, err error) {
	detail := map[string]any{
		"duration_ms": duration.Milliseconds(),
		"ok":          err == nil,
	}
	if nodeID != "" {
		detail["node_id"] = nodeID
	}
	if err != nil {
		detail["error"] = err.Error()
	}
	l.append(Event{Type: EventGeneration, Phase: phase, Detail: detail})
}

// RecordValidation logs one candidate's validation outcome.
func (l *Log) RecordValidation(phase, nodeID string, result *validate.Result) {
	detail := map[string]any{
		"node_id": nodeID,
		"passed":  result.Passed,
		"score":   result.Score,
	}
	if result.FailedStage != "" {
		detail["failed_stage"] = result.FailedStage
	}
	l.append(Event{Type: EventValidation, Phase: phase, Detail: detail})
}

// RecordTransition logs a state machine transition.
func (l *Log) RecordTransition(from, to string) {
	l.append(Event{Type: EventTransition, Detail: map[string]any{
		"from": from,
		"to":   to,
	}})
}

func (l *Log) append(event Event) {
	if l == nil {
		return
	}

	event.Time = time.Now().UTC()
	event.SessionID = l.sessionID

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.file.Write(append(data, '\n'))
}
