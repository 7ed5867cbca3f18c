package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxUsernameLength caps display names, in runes.
const MaxUsernameLength = 64

// NormalizeUsername trims s and truncates it to MaxUsernameLength runes. An
// empty result means the name is missing.
func NormalizeUsername(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MaxUsernameLength {
		s = strings.TrimSpace(string([]rune(s)[:MaxUsernameLength]))
	}
	return s
}

// ChatMessage is a persisted chat message. It is created by the message store
// and never modified afterwards.
type ChatMessage struct {
	ID        int64     `json:"id"`
	RoomID    string    `json:"room_id"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Inbound is the frame a client sends over its connection. RoomName is
// accepted for compatibility but the session's own room always wins.
type Inbound struct {
	Username string `json:"username"`
	RoomName string `json:"room_name"`
	Message  string `json:"message"`
}

// Validate reports ErrMalformedMessage when username or message is missing.
func (in Inbound) Validate() error {
	if strings.TrimSpace(in.Username) == "" {
		return MalformedError("username is required")
	}
	if strings.TrimSpace(in.Message) == "" {
		return MalformedError("message is required")
	}
	return nil
}

// Outbound is the frame delivered to every member of a room.
type Outbound struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// Error frame codes.
const (
	CodeMalformed   = "malformed_message"
	CodeStorage     = "storage_unavailable"
	CodeRateLimited = "rate_limited"
)

// ErrorFrame tells a client that its last frame was not published.
type ErrorFrame struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
