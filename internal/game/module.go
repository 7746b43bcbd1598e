// internal/game/module.go
package game

import (
	"encoding/json"

	"tableturn/internal/transport"
)

// PlayerID identifies a player across connections. It comes from a verified
// token claim and is never reused for a different person.
type PlayerID uint64

// Message is one outgoing frame produced by a game module. Broadcast
// messages go to every currently-connected player; targeted messages go to
// To, and are silently dropped if that player is not connected.
type Message struct {
	To        PlayerID
	Broadcast bool
	Text      string
}

// Module is the pluggable game logic hosted by an Instance. Implementations
// are not required to be goroutine-safe: the Instance serializes every call
// under its own mutex. Module callbacks must not block.
type Module interface {
	// Valid reports whether the construction data was acceptable. Invalid
	// modules are rejected at login without a reply to the client.
	Valid() bool

	// CreatorID returns the principal player the construction data belongs to.
	CreatorID() PlayerID

	// PlayerList returns every player expected to participate.
	PlayerList() []PlayerID

	// Connect and Disconnect are idempotent presence transitions.
	Connect(id PlayerID)
	Disconnect(id PlayerID)

	// PlayerUpdate processes one client move. Invalid moves are dropped.
	PlayerUpdate(id PlayerID, data map[string]any)

	// GameUpdate advances simulated time by deltaMS.
	GameUpdate(deltaMS int64)

	// Done reports whether the game has terminated.
	Done() bool

	// PopMessage removes and returns the next outgoing message, if any.
	PopMessage() (Message, bool)
}

// ModuleFactory constructs a module from the verified game_data claim of a
// login token.
type ModuleFactory func(gameData json.RawMessage) Module

// Sender is the outbound half of the transport as seen by game code. Both
// methods must be non-blocking; they may be called with game locks held.
type Sender interface {
	Send(h transport.Handle, text string) error
	CloseHandle(h transport.Handle, reason string)
}
