package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chyon8/AI-consultant-sub001/internal/jobs"
)

// handleJobStream upgrades to a websocket and pushes the job's chunk and
// status events as they happen. The client may pass ?after=N to replay the
// chunk log from that sequence first, so a dropped connection resumes
// without data loss. Subscription happens before the replay snapshot, so a
// chunk may arrive twice around the boundary; sequence numbers let the
// client drop duplicates.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job := s.registry.GetJob(id)
	if job == nil {
		httpError(w, http.StatusNotFound, "job not found")
		return
	}

	after := jobs.FullLog
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httpError(w, http.StatusBadRequest, "after must be an integer")
			return
		}
		after = n
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()

	events, cancel := s.registry.Broker().Subscribe(id)
	defer cancel()

	// Reader goroutine: we never expect client messages, but reading drives
	// close/ping-pong handling and tells us when the peer goes away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Replay the missed suffix, then the current status, in-band.
	for _, chunk := range s.registry.GetChunksAfter(id, after) {
		c := chunk
		if err := conn.WriteJSON(jobs.Event{Type: jobs.EventChunk, JobID: id, Chunk: &c}); err != nil {
			return
		}
	}
	if cur := s.registry.GetJob(id); cur != nil {
		ev := jobs.Event{
			Type:     jobs.EventStatus,
			JobID:    id,
			Status:   cur.Status,
			Progress: cur.Progress,
			Error:    cur.Error,
			Result:   cur.Result,
		}
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
		if cur.Status.Terminal() {
			writeClose(conn)
			return
		}
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Type == jobs.EventStatus && ev.Status.Terminal() {
				writeClose(conn)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeClose(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
