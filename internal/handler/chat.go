package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/johndosdos/roomchat/internal"
	"github.com/johndosdos/roomchat/internal/logging"
	"github.com/johndosdos/roomchat/internal/model"
)

// Publisher accepts messages for a room.
type Publisher interface {
	Publish(ctx context.Context, roomID, username, text string) error
}

// PostMessage publishes a message to the room without a websocket. The body
// is an inbound frame; a missing username falls back to the request's
// resolved username.
func PostMessage(p Publisher, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		roomID := chi.URLParam(r, "room")

		if maxBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}

		var in model.Inbound
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, model.MalformedError("invalid JSON"))
			return
		}
		if in.Username == "" {
			in.Username = internal.UsernameFromContext(ctx)
		}
		if err := in.Validate(); err != nil {
			writeError(w, err)
			return
		}

		if err := p.Publish(ctx, roomID, in.Username, in.Message); err != nil {
			logging.Ctx(ctx).Warn().Err(err).
				Str(logging.FieldRoomID, roomID).
				Msg("failed to publish message")
			writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}
