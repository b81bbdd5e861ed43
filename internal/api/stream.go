package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// stream pushes the job snapshot over a websocket whenever it changes and
// closes the connection normally once the job is terminal.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	job, ok := s.job(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.DebugContext(ctx, "websocket upgrade", "error", err)
		return
	}

	// the peer only ever sends close frames, reading surfaces them
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer func() {
		_ = conn.Close()
		<-gone
	}()

	var last []byte
	send := func() error {
		b, err := json.Marshal(job.Snapshot(false))
		if err != nil {
			return err
		}
		if bytes.Equal(b, last) {
			return nil
		}
		last = b
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, b)
	}

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		if err := send(); err != nil {
			slog.DebugContext(ctx, "websocket write", "job_id", job.ID(), "error", err)
			return
		}
		select {
		case <-ticker.C:
		case <-job.Done():
			if err := send(); err != nil {
				return
			}
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, job.Status().String())
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			select {
			case <-gone:
			case <-time.After(writeWait):
			}
			return
		case <-gone:
			return
		case <-s.ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}
