// Package store persists chat messages and reads them back per room.
package store

import (
	"context"
	"strings"

	"github.com/johndosdos/roomchat/internal/model"
)

// Store is an append-only record of chat messages.
//
// Append assigns the id and creation time. History returns every message of
// a room ordered by creation time, ties broken by insertion order. Failures
// of the underlying storage wrap model.ErrStorage.
type Store interface {
	Append(ctx context.Context, roomID, username, text string) (model.ChatMessage, error)
	History(ctx context.Context, roomID string) ([]model.ChatMessage, error)
}

func validate(roomID, username string) error {
	if strings.TrimSpace(roomID) == "" {
		return model.MalformedError("room id is required")
	}
	if strings.TrimSpace(username) == "" {
		return model.MalformedError("username is required")
	}
	return nil
}
