package server

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// routes configures the HTTP router for the WebSocket endpoint, the health
// check and the stats endpoint.
func (s *Server) routes() *httprouter.Router {
	router := httprouter.New()
	router.GET("/ws", s.handleWebSocket)
	router.GET("/healthz", s.handleHealth)
	router.GET("/stats", s.handleStats)
	router.HandleMethodNotAllowed = true
	router.MethodNotAllowed = http.HandlerFunc(methodNotAllowed)
	return router
}
