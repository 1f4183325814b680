package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Type names a security-relevant event.
type Type string

const (
	TypeLoginSucceeded     Type = "login_succeeded"
	TypeLoginFailed        Type = "login_failed"
	TypeReplayDetected     Type = "replay_detected"
	TypeSessionRevoked     Type = "session_revoked"
	TypeCredentialEnrolled Type = "credential_enrolled"
	TypeAccountCreated     Type = "account_created"
)

// Event is one security event.
type Event struct {
	Type      Type              `json:"type"`
	SubjectID string            `json:"subject_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	At        time.Time         `json:"at"`
}

// Sink receives emitted events. Emit must not block the caller for long.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// LoggerSink writes events to a structured logger. Replays are logged at warn.
type LoggerSink struct {
	logger *slog.Logger
}

// NewLoggerSink returns a Sink backed by logger.
func NewLoggerSink(logger *slog.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

func (s *LoggerSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.logger == nil {
		return
	}
	attrs := []any{
		slog.String("security_event", string(event.Type)),
		slog.Time("at", event.At),
	}
	if event.SubjectID != "" {
		attrs = append(attrs, slog.String("subject_id", event.SubjectID))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	level := slog.LevelInfo
	if event.Type == TypeReplayDetected || event.Type == TypeLoginFailed {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "security event", attrs...)
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t Type) int {
	n := 0
	for _, e := range r.Events() {
		if e.Type == t {
			n++
		}
	}
	return n
}

// Emit is a helper that stamps the event time and tolerates a nil sink.
func Emit(ctx context.Context, sink Sink, t Type, subjectID string, metadata map[string]string) {
	if sink == nil {
		return
	}
	sink.Emit(ctx, Event{Type: t, SubjectID: subjectID, Metadata: metadata, At: time.Now().UTC()})
}
