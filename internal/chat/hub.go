// Package chat persists room messages and fans them out to room members.
package chat

import (
	"context"
	"errors"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/johndosdos/roomchat/internal/logging"
	"github.com/johndosdos/roomchat/internal/model"
	"github.com/johndosdos/roomchat/internal/room"
	"github.com/johndosdos/roomchat/internal/store"
)

// DefaultPersistTimeout bounds a single store call when no timeout is set.
const DefaultPersistTimeout = 5 * time.Second

type sanitizer interface {
	Sanitize(s string) string
}

// Directory lists the members of a room.
type Directory interface {
	MembersOf(roomID string) []room.Member
}

// Hub publishes messages to rooms: it persists first, then delivers the
// message to every current member of the room.
type Hub struct {
	store          store.Store
	members        Directory
	sanitizer      sanitizer
	persistTimeout time.Duration
}

// Option configures a Hub.
type Option func(*Hub)

// WithPersistTimeout bounds every store call made by the hub.
func WithPersistTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.persistTimeout = d
		}
	}
}

// NewHub returns a new instance of Hub.
func NewHub(s store.Store, members Directory, opts ...Option) *Hub {
	h := &Hub{
		store:          s,
		members:        members,
		sanitizer:      bluemonday.StrictPolicy(),
		persistTimeout: DefaultPersistTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish stores the message and then delivers it to every member of roomID.
// If the store fails, nothing is delivered and the error wraps
// model.ErrStorage. Failed deliveries to individual members are logged and
// skipped.
func (h *Hub) Publish(ctx context.Context, roomID, username, text string) error {
	if strings.TrimSpace(roomID) == "" {
		return model.MalformedError("room id is required")
	}

	username = model.NormalizeUsername(h.stripMarkup(username))
	if username == "" {
		return model.MalformedError("username is required")
	}

	text = h.stripMarkup(text)
	if strings.TrimSpace(text) == "" {
		return model.MalformedError("message is required")
	}

	persistCtx, cancel := context.WithTimeout(ctx, h.persistTimeout)
	msg, err := h.store.Append(persistCtx, roomID, username, text)
	cancel()
	if err != nil {
		if errors.Is(err, model.ErrMalformedMessage) {
			return err
		}
		return model.StorageError("publish", err)
	}

	h.fanOut(ctx, msg)
	return nil
}

// stripMarkup removes HTML from s. Entities escaped by the sanitizer are
// turned back into plain characters, since frames are JSON, not HTML.
func (h *Hub) stripMarkup(s string) string {
	return html.UnescapeString(h.sanitizer.Sanitize(s))
}

func (h *Hub) fanOut(ctx context.Context, msg model.ChatMessage) {
	out := model.Outbound{Username: msg.Username, Message: msg.Text}
	members := h.members.MembersOf(msg.RoomID)

	var failed int
	for _, m := range members {
		if err := m.Deliver(out); err != nil {
			failed++
			logging.Ctx(ctx).Warn().Err(err).
				Str(logging.FieldRoomID, msg.RoomID).
				Str(logging.FieldConnID, m.ConnID().String()).
				Msg("skipping delivery to member")
		}
	}

	logging.Ctx(ctx).Debug().
		Str(logging.FieldRoomID, msg.RoomID).
		Int64("message_id", msg.ID).
		Int("members", len(members)).
		Int("failed", failed).
		Msg("message published")
}

// History returns the persisted messages of roomID, oldest first.
func (h *Hub) History(ctx context.Context, roomID string) ([]model.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, h.persistTimeout)
	defer cancel()

	msgs, err := h.store.History(ctx, roomID)
	if err != nil {
		return nil, model.StorageError("history", err)
	}
	return msgs, nil
}
