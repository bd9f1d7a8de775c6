// Package events carries the per-execution event stream to subscribers. The
// stream is decoupled from the final result: an interactive caller can render
// progress without waiting for completion.
package events

import (
	"context"
	"log"
	"time"
)

// Event types, in the order a well-behaved execution emits them.
const (
	TypeStart          = "start"
	TypeToken          = "token"
	TypeToolCall       = "tool_call"
	TypeComplete       = "complete"
	TypeError          = "error"
	TypeHeartbeat      = "heartbeat"
	TypeStreamComplete = "stream_complete"
)

// Event is one streamed execution event.
type Event struct {
	Type        string    `json:"type"`
	ExecutionID string    `json:"execution_id,omitempty"`
	WorkflowID  string    `json:"workflow_id,omitempty"`
	Invocation  string    `json:"invocation,omitempty"` // invocation var name, for capability events
	Data        any       `json:"data,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Sink receives execution events and structured log lines. Emit must not
// block the execution path; slow transports buffer or drop.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// Redactor scrubs secrets from event payloads before they leave the process.
type Redactor interface {
	Redact(string) string
}

// LogSink writes events to the process log, redacted.
type LogSink struct {
	Redactor Redactor
}

func (s *LogSink) Emit(_ context.Context, ev Event) {
	data := ""
	if str, ok := ev.Data.(string); ok {
		data = str
		if s.Redactor != nil {
			data = s.Redactor.Redact(data)
		}
	}
	log.Printf("event: %s execution=%s invocation=%s %s", ev.Type, ev.ExecutionID, ev.Invocation, data)
}

// Multi fans one event out to several sinks.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Emit(ctx, ev)
	}
}
