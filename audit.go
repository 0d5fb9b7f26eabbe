package goAccess

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AuditEvent is one security-relevant decision made by the engine.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Actor     string            `json:"actor,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	ClientID  string            `json:"client_id,omitempty"`
	KeyID     string            `json:"key_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives audit events from the audit queue worker.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink forwards events to a buffered channel. Tests read from it.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON document per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// ZerologSink logs events through a zerolog logger at info level, or warn
// for failures.
type ZerologSink struct {
	logger zerolog.Logger
}

func NewZerologSink(logger zerolog.Logger) *ZerologSink {
	return &ZerologSink{logger: logger}
}

func (s *ZerologSink) Emit(_ context.Context, event AuditEvent) {
	if s == nil {
		return
	}
	ev := s.logger.Info()
	if !event.Success {
		ev = s.logger.Warn()
	}
	ev = ev.Time("at", event.Timestamp).
		Str("event_type", event.EventType).
		Bool("success", event.Success)
	if event.Actor != "" {
		ev = ev.Str("actor", event.Actor)
	}
	if event.Subject != "" {
		ev = ev.Str("subject", event.Subject)
	}
	if event.ClientID != "" {
		ev = ev.Str("client_id", event.ClientID)
	}
	if event.KeyID != "" {
		ev = ev.Str("key_id", event.KeyID)
	}
	if event.IP != "" {
		ev = ev.Str("ip", event.IP)
	}
	if event.Error != "" {
		ev = ev.Str("error", event.Error)
	}
	for k, v := range event.Metadata {
		ev = ev.Str("meta_"+k, v)
	}
	ev.Msg("audit")
}
