package store

import (
	"context"
	"sync"
	"time"

	"github.com/johndosdos/roomchat/internal/model"
)

// Memory keeps messages in process memory. It backs STORE_DRIVER=memory and
// tests.
type Memory struct {
	mu     sync.Mutex
	rooms  map[string][]model.ChatMessage
	nextID int64
	last   time.Time
	now    func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		rooms: make(map[string][]model.ChatMessage),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Append stores a new message. Creation times never go backwards, even if the
// wall clock does.
func (m *Memory) Append(ctx context.Context, roomID, username, text string) (model.ChatMessage, error) {
	if err := validate(roomID, username); err != nil {
		return model.ChatMessage{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.ChatMessage{}, model.StorageError("append message", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Before(m.last) {
		now = m.last
	}
	m.last = now
	m.nextID++

	msg := model.ChatMessage{
		ID:        m.nextID,
		RoomID:    roomID,
		Username:  username,
		Text:      text,
		CreatedAt: now,
	}
	m.rooms[roomID] = append(m.rooms[roomID], msg)

	return msg, nil
}

// History returns a copy of the room's messages in insertion order.
func (m *Memory) History(ctx context.Context, roomID string) ([]model.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.StorageError("list messages", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.rooms[roomID]
	out := make([]model.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}
