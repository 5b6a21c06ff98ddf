/*
Copyright © 2026 xeeen
*/

package main

import "errors"

// All of these are local, recoverable conditions. They surface as reject
// events to the offending client and never terminate the room or the process.
var (
	errRoomNotFound        = errors.New("room not found")
	errRoomSealed          = errors.New("room is sealed")
	errNotOwner            = errors.New("player is not the room owner")
	errGameRunning         = errors.New("game already running")
	errInsufficientPlayers = errors.New("not enough players to assign both roles")
)
