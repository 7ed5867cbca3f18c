// Package internal holds request middleware shared by the HTTP handlers.
package internal

import (
	"context"
	"net/http"

	"github.com/johndosdos/roomchat/internal/model"
)

// DefaultUsername is used when a client does not name itself.
const DefaultUsername = "Anonymous"

type usernameKey struct{}

// Middleware resolves the client's display username from the "username"
// query parameter and stores it in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username := ResolveUsername(r.URL.Query().Get("username"))
		r = r.WithContext(WithUsername(r.Context(), username))
		next.ServeHTTP(w, r)
	})
}

// ResolveUsername normalizes raw with model.NormalizeUsername and falls back
// to DefaultUsername when nothing is left.
func ResolveUsername(raw string) string {
	if username := model.NormalizeUsername(raw); username != "" {
		return username
	}
	return DefaultUsername
}

// WithUsername returns a copy of ctx carrying username.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey{}, username)
}

// UsernameFromContext returns the username set by Middleware, or
// DefaultUsername when none is set.
func UsernameFromContext(ctx context.Context) string {
	if username, ok := ctx.Value(usernameKey{}).(string); ok && username != "" {
		return username
	}
	return DefaultUsername
}
