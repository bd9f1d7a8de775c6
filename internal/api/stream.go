package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/scriptflow/scriptflow/internal/events"
)

const heartbeatInterval = 15 * time.Second

// handleStream runs a workflow over a websocket and forwards execution
// events as they happen. The client sends one executeRequest frame; the
// server replies with a sequence of named JSON events, emits heartbeats
// while the script is idle, and always terminates the sequence with a
// stream_complete frame carrying the final result.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("api: websocket accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := r.Context()

	var req executeRequest
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = wsjson.Read(readCtx, conn, &req)
	cancel()
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "expected execute request")
		return
	}

	// The writer goroutine owns the connection. Execution events and
	// heartbeats funnel through one channel so frames never interleave.
	frames := make(chan events.Event, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-frames:
				if !ok {
					return
				}
				if err := wsjson.Write(ctx, conn, ev); err != nil {
					return
				}
				ticker.Reset(heartbeatInterval)
			case <-ticker.C:
				hb := events.Event{Type: events.TypeHeartbeat, Timestamp: time.Now().UTC()}
				if err := wsjson.Write(ctx, conn, hb); err != nil {
					return
				}
			}
		}
	}()

	opts := s.options(&req)
	opts.Stream = func(ev events.Event) {
		select {
		case frames <- ev:
		default:
			// Slow client; the event still reaches the configured sinks.
		}
	}

	res := s.exec.Execute(ctx, req.Code, req.Payload, opts)

	final := events.Event{
		Type:        events.TypeStreamComplete,
		ExecutionID: res.ExecutionID,
		Data:        res,
		Timestamp:   time.Now().UTC(),
	}
	select {
	case frames <- final:
	case <-writerDone: // client went away mid-execution
	}
	close(frames)
	<-writerDone

	conn.Close(websocket.StatusNormalClosure, "")
}
