package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/johndosdos/roomchat/internal/logging"
	"github.com/johndosdos/roomchat/internal/model"
	"github.com/johndosdos/roomchat/internal/room"
)

// Membership is the registry as seen by a streaming subscriber.
type Membership interface {
	Join(roomID string, m room.Member)
	Leave(roomID string, connID uuid.UUID)
}

// sseMember is a read-only room member backed by an event stream.
type sseMember struct {
	id uuid.UUID
	ch chan model.Outbound
}

func (m *sseMember) ConnID() uuid.UUID { return m.id }

func (m *sseMember) Deliver(msg model.Outbound) error {
	select {
	case m.ch <- msg:
		return nil
	default:
		return fmt.Errorf("%w: event stream buffer full", model.ErrTransport)
	}
}

// StreamSSE streams the room's broadcasts as server-sent events for as long
// as the request lives.
func StreamSSE(members Membership, buffer int, heartbeat time.Duration) http.HandlerFunc {
	if buffer <= 0 {
		buffer = 64
	}
	if heartbeat <= 0 {
		heartbeat = 10 * time.Second
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		roomID := chi.URLParam(r, "room")

		w.Header().Set("X-Accel-Buffering", "no")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		rc := http.NewResponseController(w)
		if err := rc.Flush(); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("response does not support streaming")
			return
		}

		m := &sseMember{id: uuid.New(), ch: make(chan model.Outbound, buffer)}
		members.Join(roomID, m)
		defer members.Leave(roomID, m.id)

		l := logging.Ctx(ctx).With().
			Str(logging.FieldRoomID, roomID).
			Str(logging.FieldConnID, m.id.String()).
			Logger()
		l.Info().Msg("event stream opened")

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case msg := <-m.ch:
				data, err := json.Marshal(msg)
				if err != nil {
					l.Error().Err(err).Msg("failed to encode event")
					continue
				}

				fmt.Fprint(w, "event: message\n")    //nolint:errcheck
				fmt.Fprintf(w, "data: %s\n\n", data) //nolint:errcheck

				if err := rc.Flush(); err != nil {
					l.Debug().Err(err).Msg("could not flush event stream")
					return
				}

			case <-ticker.C:
				fmt.Fprint(w, ": \n\n") //nolint:errcheck
				if err := rc.Flush(); err != nil {
					l.Debug().Err(err).Msg("could not flush event stream")
					return
				}

			case <-ctx.Done():
				l.Info().Msg("event stream closed")
				return
			}
		}
	}
}
