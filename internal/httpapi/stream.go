package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dvail/porterd/internal/stream"
)

const streamHeartbeatInterval = 15 * time.Second

// handleStream serves the job's event feed over SSE. The connection first
// receives a status snapshot, then the broadcaster's retained history, then
// live events until the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	j, ok := s.jobFromRequest(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, stream.Event{
		Type:   stream.EventStatus,
		Status: string(j.Status),
		Phase:  string(j.CurrentPhase),
		At:     time.Now().UTC(),
	})
	flusher.Flush()

	// Broadcaster callbacks run under its lock, so the callback only does a
	// non-blocking handoff to this connection's queue. History replay lands
	// in the queue before Subscribe returns.
	events := make(chan stream.Event, 256)
	unsubscribe := s.streams.Subscribe(j.ID, func(e stream.Event) {
		select {
		case events <- e:
		default:
			// Slow client; drop rather than stall every other subscriber.
		}
	})
	defer unsubscribe()

	s.metrics.StreamSubscribers.Inc()
	defer s.metrics.StreamSubscribers.Dec()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case e := <-events:
			writeSSE(w, e)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, e stream.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
