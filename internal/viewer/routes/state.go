package routes

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	// The viewer is bound to loopback by default; pages served from other
	// local ports (dev servers) need to connect too.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 5 * time.Second

func registerStateRoutes(mux *http.ServeMux, d Deps) {
	// GET /api/state: current snapshot
	handleGet(mux, "/api/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, newStateView(d.Coord.Snapshot()))
	})

	// GET /api/ws: one JSON snapshot per coordinator change
	handleGet(mux, "/api/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("VIEWER: WebSocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		snaps, cancel := d.Coord.Subscribe()
		defer cancel()

		// Drain incoming messages (ping/pong, close frames) without blocking.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-gone:
				return
			case s, ok := <-snaps:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(newStateView(s)); err != nil {
					return
				}
			}
		}
	})
}
