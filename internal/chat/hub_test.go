package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/roomchat/internal/model"
	"github.com/johndosdos/roomchat/internal/room"
	"github.com/johndosdos/roomchat/internal/store"
)

// eventLog records the order in which the store and members are called.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type recordingStore struct {
	store.Store
	log *eventLog
	err error
}

func (s *recordingStore) Append(ctx context.Context, roomID, username, text string) (model.ChatMessage, error) {
	s.log.add("append:start")
	defer s.log.add("append:done")
	if s.err != nil {
		return model.ChatMessage{}, s.err
	}
	return s.Store.Append(ctx, roomID, username, text)
}

// blockingStore never answers until the caller gives up.
type blockingStore struct {
	store.Store
}

func (blockingStore) Append(ctx context.Context, _, _, _ string) (model.ChatMessage, error) {
	<-ctx.Done()
	return model.ChatMessage{}, ctx.Err()
}

type fakeMember struct {
	id  uuid.UUID
	log *eventLog
	err error

	mu       sync.Mutex
	received []model.Outbound
}

func newFakeMember(log *eventLog) *fakeMember {
	return &fakeMember{id: uuid.New(), log: log}
}

func (m *fakeMember) ConnID() uuid.UUID { return m.id }

func (m *fakeMember) Deliver(msg model.Outbound) error {
	if m.log != nil {
		m.log.add("deliver:" + m.id.String())
	}
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, msg)
	return nil
}

func (m *fakeMember) messages() []model.Outbound {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Outbound(nil), m.received...)
}

func TestPublishPersistsBeforeDelivering(t *testing.T) {
	log := &eventLog{}
	reg := room.NewRegistry()
	a, b := newFakeMember(log), newFakeMember(log)
	reg.Join("room1", a)
	reg.Join("room1", b)

	hub := NewHub(&recordingStore{Store: store.NewMemory(), log: log}, reg)
	require.NoError(t, hub.Publish(context.Background(), "room1", "alice", "hi"))

	events := log.snapshot()
	require.Len(t, events, 4)
	assert.Equal(t, []string{"append:start", "append:done"}, events[:2])
	assert.ElementsMatch(t, []string{"deliver:" + a.id.String(), "deliver:" + b.id.String()}, events[2:])
}

func TestPublishStorageFailureSkipsFanOut(t *testing.T) {
	log := &eventLog{}
	reg := room.NewRegistry()
	a := newFakeMember(log)
	reg.Join("room1", a)

	cause := errors.New("connection refused")
	hub := NewHub(&recordingStore{Store: store.NewMemory(), log: log, err: cause}, reg)

	err := hub.Publish(context.Background(), "room1", "alice", "hi")
	assert.ErrorIs(t, err, model.ErrStorage)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, []string{"append:start", "append:done"}, log.snapshot())
	assert.Empty(t, a.messages())
}

func TestPublishTimesOut(t *testing.T) {
	reg := room.NewRegistry()
	a := newFakeMember(nil)
	reg.Join("room1", a)

	hub := NewHub(blockingStore{Store: store.NewMemory()}, reg, WithPersistTimeout(20*time.Millisecond))

	start := time.Now()
	err := hub.Publish(context.Background(), "room1", "alice", "hi")
	assert.ErrorIs(t, err, model.ErrStorage)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Empty(t, a.messages())
}

func TestPublishDeliveryFailureIsIsolated(t *testing.T) {
	reg := room.NewRegistry()
	broken := newFakeMember(nil)
	broken.err = model.ErrTransport
	healthy := newFakeMember(nil)
	reg.Join("room1", broken)
	reg.Join("room1", healthy)

	hub := NewHub(store.NewMemory(), reg)

	require.NoError(t, hub.Publish(context.Background(), "room1", "alice", "hi"))
	assert.Equal(t, []model.Outbound{{Username: "alice", Message: "hi"}}, healthy.messages())
}

func TestPublishRejectsMalformed(t *testing.T) {
	tests := []struct {
		name     string
		roomID   string
		username string
		text     string
	}{
		{"empty_room", "", "alice", "hi"},
		{"empty_username", "room1", "", "hi"},
		{"empty_text", "room1", "alice", "   "},
		{"markup_only", "room1", "alice", "<script></script>"},
		{"markup_only_username", "room1", "<img src=x>", "hi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewMemory()
			reg := room.NewRegistry()
			a := newFakeMember(nil)
			reg.Join("room1", a)

			err := NewHub(mem, reg).Publish(context.Background(), tt.roomID, tt.username, tt.text)
			assert.ErrorIs(t, err, model.ErrMalformedMessage)

			msgs, err := mem.History(context.Background(), "room1")
			require.NoError(t, err)
			assert.Empty(t, msgs)
			assert.Empty(t, a.messages())
		})
	}
}

func TestPublishSanitizesText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"script_stripped", `hello<script>alert(1)</script>`, "hello"},
		{"comparison_kept", "if a < b && c > d", "if a < b && c > d"},
		{"ampersand_kept", "a & b", "a & b"},
		{"quotes_kept", `she said "hi" it's fine`, `she said "hi" it's fine`},
		{"bold_stripped", "<b>loud</b> words", "loud words"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewMemory()
			reg := room.NewRegistry()
			a := newFakeMember(nil)
			reg.Join("room1", a)

			hub := NewHub(mem, reg)
			require.NoError(t, hub.Publish(context.Background(), "room1", "mallory", tt.text))

			msgs, err := hub.History(context.Background(), "room1")
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, tt.want, msgs[0].Text)
			assert.Equal(t, []model.Outbound{{Username: "mallory", Message: tt.want}}, a.messages())
		})
	}
}

func TestPublishNormalizesUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		want     string
	}{
		{"trimmed", "  bob  ", "bob"},
		{"markup_stripped", "<b>carol</b>", "carol"},
		{"ampersand_kept", "tom & jerry", "tom & jerry"},
		{"truncated", "  <img src=x onerror=alert(1)>" + strings.Repeat("x", 100), strings.Repeat("x", model.MaxUsernameLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewMemory()
			reg := room.NewRegistry()
			a := newFakeMember(nil)
			reg.Join("room1", a)

			require.NoError(t, NewHub(mem, reg).Publish(context.Background(), "room1", tt.username, "hi"))

			msgs, err := mem.History(context.Background(), "room1")
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, tt.want, msgs[0].Username)
			assert.Equal(t, []model.Outbound{{Username: tt.want, Message: "hi"}}, a.messages())
		})
	}
}

func TestPublishOnlyReachesRoomMembers(t *testing.T) {
	reg := room.NewRegistry()
	inRoom, elsewhere := newFakeMember(nil), newFakeMember(nil)
	reg.Join("room1", inRoom)
	reg.Join("room2", elsewhere)

	hub := NewHub(store.NewMemory(), reg)
	require.NoError(t, hub.Publish(context.Background(), "room1", "alice", "hi"))

	assert.Len(t, inRoom.messages(), 1)
	assert.Empty(t, elsewhere.messages())
}

func TestRoomScenario(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	reg := room.NewRegistry()
	hub := NewHub(mem, reg)

	a, b := newFakeMember(nil), newFakeMember(nil)
	reg.Join("room1", a)
	reg.Join("room1", b)

	require.NoError(t, hub.Publish(ctx, "room1", "alice", "hi"))

	want := model.Outbound{Username: "alice", Message: "hi"}
	assert.Equal(t, []model.Outbound{want}, a.messages())
	assert.Equal(t, []model.Outbound{want}, b.messages())

	msgs, err := mem.History(ctx, "room1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "room1", msgs[0].RoomID)
	assert.Equal(t, "alice", msgs[0].Username)
	assert.Equal(t, "hi", msgs[0].Text)

	// A late joiner sees the message in history.
	c := newFakeMember(nil)
	reg.Join("room1", c)
	history, err := hub.History(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, msgs[len(msgs)-1], history[len(history)-1])
	assert.Empty(t, c.messages())

	// B leaves and misses the next broadcast; A still gets it.
	reg.Leave("room1", b.id)
	require.NoError(t, hub.Publish(ctx, "room1", "alice", "bye"))
	assert.Len(t, a.messages(), 2)
	assert.Len(t, b.messages(), 1)
	assert.Len(t, c.messages(), 1)
}

func TestHistoryStorageError(t *testing.T) {
	hub := NewHub(store.NewMemory(), room.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := hub.History(ctx, "room1")
	assert.ErrorIs(t, err, model.ErrStorage)
}
