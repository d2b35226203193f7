package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes builds the control-plane router around the websocket endpoint.
func (s *Server) Routes(wsHandler http.HandlerFunc) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.Health)
	r.Post("/api/broadcast", s.Broadcast)
	r.Get("/ws", wsHandler)
	return r
}
