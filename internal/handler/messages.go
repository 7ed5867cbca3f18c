package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/johndosdos/roomchat/internal/logging"
	"github.com/johndosdos/roomchat/internal/model"
)

// Historian returns the persisted messages of a room.
type Historian interface {
	History(ctx context.Context, roomID string) ([]model.ChatMessage, error)
}

// ServeMessages writes the room's chat history as a JSON array, oldest
// first. Clients load it before opening the websocket.
func ServeMessages(h Historian) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		roomID := chi.URLParam(r, "room")

		msgs, err := h.History(ctx, roomID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Ctx(ctx).Error().Err(err).
				Str(logging.FieldRoomID, roomID).
				Msg("failed to load messages")
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, msgs)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.L().Debug().Err(err).Msg("failed to write response")
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	frame := model.ErrorFrame{Error: err.Error(), Code: model.ErrorCode(err)}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrMalformedMessage):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrStorage):
		status = http.StatusServiceUnavailable
		frame.Error = model.ErrStorage.Error()
	default:
		frame.Error = http.StatusText(status)
	}

	writeJSON(w, status, frame)
}
