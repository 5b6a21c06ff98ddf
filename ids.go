package main

import "github.com/google/uuid"

// Rooms and players share the same opaque token mechanism; whether a token
// names a room or a player depends only on which map it keys. Generation is
// injectable so tests can pin ids.
type idGenerator func() string

func newID() string {
	return uuid.NewString()
}

// validID rejects tokens this registry could never have produced, so page
// handlers can 404 garbage ids without touching the room table.
func validID(id string) bool {
	_, err := uuid.Parse(id)

	return err == nil
}
