// Package server exposes HTTP handlers: the WebSocket upgrade, a health
// check, and hub statistics.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// handleWebSocket upgrades the request and hands the connection to the hub,
// which starts its read and write pumps. A failed upgrade leaves no trace in
// the registry.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := newClient(conn, s.hub, r.RemoteAddr)
	if err := s.hub.register(client); err != nil {
		s.logger.Warn("rejecting connection", "remote", r.RemoteAddr, "error", err)
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server unavailable")
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil && !isExpectedCloseError(err) {
			s.logger.Debug("error writing close message", "remote", r.RemoteAddr, "error", err)
		}
		client.cancel()
		client.closeConnection()
	}
}

// handleHealth responds with a plain text liveness message.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "wsmux server is running (%d clients)", s.hub.Count())
}

// handleStats responds with hub statistics as JSON.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.hub.Stats()); err != nil {
		s.logger.Warn("error writing stats response", "error", err)
	}
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "Method not allowed. Only GET requests are accepted.", http.StatusMethodNotAllowed)
}
