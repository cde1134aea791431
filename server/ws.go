package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// httpLive streams every published cycle record to the client as JSON text
// messages, until the client goes away. If the client can't keep up, the
// pipeline's watcher channel drops records rather than stalling the pipeline.
func (s *Server) httpLive(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("httpLive websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Drain client messages so we notice the close handshake. We don't expect
	// the client to say anything.
	closed := make(chan bool)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(closed)
				return
			}
		}
	}()

	ch := s.Pipeline.AddWatcher()
	defer s.Pipeline.RemoveWatcher(ch)

	// Send the latest state immediately, so a fresh dashboard isn't blank
	// until the next cycle.
	if rec := s.Pipeline.LatestRecord(); rec != nil {
		if err := conn.WriteJSON(rec); err != nil {
			return
		}
	}

	for {
		select {
		case rec := <-ch:
			if err := conn.WriteJSON(rec); err != nil {
				return
			}
		case <-closed:
			return
		case <-s.recorderStop:
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}
