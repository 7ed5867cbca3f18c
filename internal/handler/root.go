package handler

import (
	"net/http"
)

// RoomLister reports the rooms that currently have members.
type RoomLister interface {
	Rooms() []string
	Count(roomID string) int
}

// RoomInfo is one entry of the active room listing.
type RoomInfo struct {
	Room    string `json:"room"`
	Members int    `json:"members"`
}

// ServeRooms lists active rooms and their member counts, sorted by name.
func ServeRooms(rooms RoomLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := rooms.Rooms()
		list := make([]RoomInfo, 0, len(names))
		for _, name := range names {
			n := rooms.Count(name)
			if n == 0 {
				// Emptied between the two calls.
				continue
			}
			list = append(list, RoomInfo{Room: name, Members: n})
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// ServeHealth reports liveness.
func ServeHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok")) //nolint:errcheck
	}
}
