package handler

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/johndosdos/roomchat/internal"
	"github.com/johndosdos/roomchat/internal/logging"
	ws "github.com/johndosdos/roomchat/internal/websocket"
)

// WsOptions configures websocket upgrades.
type WsOptions struct {
	// OriginPatterns are the cross origin hosts allowed to connect. When
	// empty, only same-host origins are accepted.
	OriginPatterns []string
	// ReadLimit caps the size of a client frame in bytes.
	ReadLimit int64
	Session   ws.Options
}

// ServeWs upgrades the request to a websocket and runs a chat session in the
// room named by the URL until the client goes away.
func ServeWs(members ws.Membership, hub ws.Publisher, opts WsOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		roomID := chi.URLParam(r, "room")
		username := internal.UsernameFromContext(ctx)

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			// Accept has already written the error response.
			logging.Ctx(ctx).Warn().Err(err).Msg("failed to upgrade connection")
			return
		}
		if opts.ReadLimit > 0 {
			conn.SetReadLimit(opts.ReadLimit)
		}

		s := ws.NewSession(ws.NewConn(conn), roomID, username, members, hub, opts.Session)
		if err := s.Open(); err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("failed to open session")
			conn.Close(websocket.StatusInternalError, "session unavailable") //nolint:errcheck
			return
		}

		l := logging.Ctx(ctx).With().
			Str(logging.FieldRoomID, roomID).
			Str(logging.FieldConnID, s.ConnID().String()).
			Str(logging.FieldUsername, username).
			Logger()
		ctx = logging.WithLogger(ctx, l)
		l.Info().Msg("client connected")

		// Block here; the request context is canceled once the handler
		// returns.
		s.Run(ctx)

		l.Info().Msg("client disconnected")
	}
}
