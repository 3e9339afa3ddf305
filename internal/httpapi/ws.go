package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dvail/porterd/internal/stream"
)

// handleWS mirrors the job's event feed over a websocket for clients behind
// proxies that buffer SSE. Same payloads as the SSE endpoint, one JSON
// object per message.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	j, ok := s.jobFromRequest(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan stream.Event, 256)
	unsubscribe := s.streams.Subscribe(j.ID, func(e stream.Event) {
		select {
		case events <- e:
		default:
		}
	})
	defer unsubscribe()

	s.metrics.StreamSubscribers.Inc()
	defer s.metrics.StreamSubscribers.Dec()

	// Single writer goroutine; gorilla connections do not allow concurrent
	// writes.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		snapshot := stream.Event{
			Type:   stream.EventStatus,
			Status: string(j.Status),
			Phase:  string(j.CurrentPhase),
			At:     time.Now().UTC(),
		}
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(snapshot); err != nil {
			cancel()
			return
		}
		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}
			case e := <-events:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(e); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	// The feed is one-way; the read loop only detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	<-writerDone
}
