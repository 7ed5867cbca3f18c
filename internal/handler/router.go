// Package handler serves the chat HTTP and websocket endpoints.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/johndosdos/roomchat/internal"
	"github.com/johndosdos/roomchat/internal/chat"
	"github.com/johndosdos/roomchat/internal/logging"
	ratelimiter "github.com/johndosdos/roomchat/internal/rate_limiter"
	"github.com/johndosdos/roomchat/internal/room"
)

// Deps are the collaborators the router wires into its handlers.
type Deps struct {
	Registry *room.Registry
	Hub      *chat.Hub
	Logger   zerolog.Logger

	// IPLimiter throttles the plain HTTP room endpoints. Nil disables it.
	IPLimiter *ratelimiter.IPRateLimiter

	Ws WsOptions
	// SSEBuffer is the per-stream event buffer.
	SSEBuffer int
	// SSEHeartbeat is the idle comment interval on event streams.
	SSEHeartbeat time.Duration
}

// NewRouter returns the application's HTTP handler.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(logging.HTTPMiddleware(d.Logger))
	r.Use(middleware.Recoverer)

	limit := func(next http.Handler) http.Handler { return next }
	if d.IPLimiter != nil {
		limit = d.IPLimiter.Middleware
	}

	r.Get("/healthz", ServeHealth())
	r.Get("/rooms", ServeRooms(d.Registry))

	r.Route("/rooms/{room}", func(r chi.Router) {
		r.Use(internal.Middleware)
		r.With(limit).Get("/messages", ServeMessages(d.Hub))
		r.With(limit).Post("/messages", PostMessage(d.Hub, d.Ws.ReadLimit))
		r.Get("/events", StreamSSE(d.Registry, d.SSEBuffer, d.SSEHeartbeat))
	})

	r.With(internal.Middleware).Get("/ws/{room}", ServeWs(d.Registry, d.Hub, d.Ws))

	return r
}
