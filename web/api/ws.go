package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/domain"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// runSocketHandler streams a run's events over a WebSocket, one JSON
// message per event. It shares the single-subscriber slot with the SSE
// stream.
func (s *Server) runSocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := r.PathValue("runId")
		sub := s.events.Subscribe(runID)
		defer sub.Close()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warnw("websocket upgrade failed", "run_id", runID, "error", err)
			return
		}
		defer conn.Close()

		// Reading is the only way to notice the client going away.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						s.logger.Debugw("websocket read error", "run_id", runID, "error", err)
					}
					sub.Close()
					return
				}
			}
		}()

		for {
			ev, ok := sub.Next(s.ctx)
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Type == domain.EventEnd {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(wsWriteTimeout))
				return
			}
		}
	}
}
