// Package model defines the chat data types and their error taxonomy.
package model

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedMessage means a client frame lacked a required field. The
	// frame is dropped and the connection stays open.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrStorage means the message store could not persist or read messages.
	ErrStorage = errors.New("storage unavailable")

	// ErrTransport means a single member could not be handed a broadcast.
	ErrTransport = errors.New("transport error")
)

// MalformedError wraps ErrMalformedMessage with a reason.
func MalformedError(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, reason)
}

// StorageError wraps err so that errors.Is(err, ErrStorage) holds while the
// underlying cause stays reachable.
func StorageError(op string, err error) error {
	if errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// ErrorCode maps an error to the code sent in an ErrorFrame.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrMalformedMessage):
		return CodeMalformed
	case errors.Is(err, ErrStorage):
		return CodeStorage
	default:
		return ""
	}
}
