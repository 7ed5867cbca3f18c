// Package websocket runs one chat session per client connection: it joins
// the session's room, forwards client frames to the hub and writes room
// broadcasts back to the client.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/johndosdos/roomchat/internal/logging"
	"github.com/johndosdos/roomchat/internal/model"
	"github.com/johndosdos/roomchat/internal/room"
)

// State is a session's lifecycle position.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrAlreadyOpened is returned by Open on a session that is not new.
	ErrAlreadyOpened = errors.New("session already opened")
	// ErrNotConnected is returned for client frames outside the connected state.
	ErrNotConnected = errors.New("session is not connected")
	// ErrSendQueueFull means a broadcast was dropped for a slow client.
	ErrSendQueueFull = fmt.Errorf("%w: send queue full", model.ErrTransport)

	errSessionClosed = fmt.Errorf("%w: session closed", model.ErrTransport)
)

// Publisher accepts messages for a room.
type Publisher interface {
	Publish(ctx context.Context, roomID, username, text string) error
}

// Membership is where a session registers itself while connected.
type Membership interface {
	Join(roomID string, m room.Member)
	Leave(roomID string, connID uuid.UUID)
}

// Options tunes a session. Zero values fall back to defaults.
type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration

	// MessageRequests per MessageWindow is the client's publish budget.
	// Zero disables rate limiting.
	MessageRequests int
	MessageWindow   time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	return o
}

// Session is one client's connection to one room.
type Session struct {
	id        uuid.UUID
	roomID    string
	username  string
	transport Transport
	members   Membership
	hub       Publisher
	opts      Options
	limiter   *rate.Limiter

	send chan []byte
	done chan struct{}

	mu    sync.Mutex
	state State
}

// NewSession returns a disconnected session for roomID. username is the
// display name the connection was opened with.
func NewSession(t Transport, roomID, username string, members Membership, hub Publisher, opts Options) *Session {
	opts = opts.withDefaults()

	s := &Session{
		id:        uuid.New(),
		roomID:    roomID,
		username:  username,
		transport: t,
		members:   members,
		hub:       hub,
		opts:      opts,
		send:      make(chan []byte, opts.SendBuffer),
		done:      make(chan struct{}),
	}

	if opts.MessageRequests > 0 && opts.MessageWindow > 0 {
		s.limiter = rate.NewLimiter(rate.Every(opts.MessageWindow/time.Duration(opts.MessageRequests)), opts.MessageRequests)
	}

	return s
}

// ConnID identifies the connection in the room registry.
func (s *Session) ConnID() uuid.UUID { return s.id }

// RoomID is the room the session was opened for.
func (s *Session) RoomID() string { return s.roomID }

// Username is the display name resolved when the connection was opened.
func (s *Session) Username() string { return s.username }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Open joins the session's room. It is only valid once, on a new session.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateDisconnected {
		return fmt.Errorf("%w: state %s", ErrAlreadyOpened, s.state)
	}

	s.state = StateConnected
	s.members.Join(s.roomID, s)
	return nil
}

// OnClientMessage publishes a client frame to the session's room. Frames
// missing username or message fail with model.ErrMalformedMessage and are
// dropped. The frame's room_name is not consulted.
func (s *Session) OnClientMessage(ctx context.Context, in model.Inbound) error {
	if s.State() != StateConnected {
		return ErrNotConnected
	}
	if err := in.Validate(); err != nil {
		return err
	}
	return s.hub.Publish(ctx, s.roomID, in.Username, in.Message)
}

// OnBroadcast serializes msg and queues it for the client. A full queue
// fails with ErrSendQueueFull instead of blocking the publisher.
func (s *Session) OnBroadcast(msg model.Outbound) error {
	p, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: encode broadcast: %w", model.ErrTransport, err)
	}
	return s.enqueue(p)
}

// Deliver implements room.Member.
func (s *Session) Deliver(msg model.Outbound) error {
	return s.OnBroadcast(msg)
}

func (s *Session) enqueue(p []byte) error {
	if s.State() != StateConnected {
		return fmt.Errorf("%w: %w", model.ErrTransport, ErrNotConnected)
	}

	select {
	case <-s.done:
		return errSessionClosed
	default:
	}

	select {
	case s.send <- p:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close leaves the room and closes the transport. Only the first call has
// any effect.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	wasConnected := s.state == StateConnected
	s.state = StateClosed
	s.mu.Unlock()

	if wasConnected {
		s.members.Leave(s.roomID, s.id)
	}
	close(s.done)

	if err := s.transport.Close(websocket.StatusNormalClosure, ""); err != nil && !isExpectedClose(err) {
		logging.L().Debug().Err(err).
			Str(logging.FieldConnID, s.id.String()).
			Msg("failed to close transport")
	}
}

// Run pumps frames in both directions until the client goes away, ctx is
// cancelled or Close is called. The session is closed when Run returns.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.WriteMessage(ctx)

	if p, ok := s.transport.(pinger); ok && s.opts.PingInterval > 0 {
		go s.keepalive(ctx, p, s.opts.PingInterval)
	}

	s.ReadMessage(ctx)
}

func (s *Session) sendError(err error, code string) {
	p, mErr := json.Marshal(model.ErrorFrame{Error: err.Error(), Code: code})
	if mErr != nil {
		return
	}
	_ = s.enqueue(p)
}

func (s *Session) logger(ctx context.Context) *zerolog.Logger {
	l := logging.Ctx(ctx).With().
		Str(logging.FieldConnID, s.id.String()).
		Str(logging.FieldRoomID, s.roomID).
		Logger()
	return &l
}
