// internal/match/matchmaker.go
package match

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"tableturn/internal/game"
)

// SessionID identifies one queued matchmaking session. IDs are ULIDs, so
// lexicographic order is admission order.
type SessionID string

// NewSessionID returns a fresh time-ordered session identifier.
func NewSessionID() SessionID {
	return SessionID(ulid.Make().String())
}

// SessionData is the matchmaker's opaque view of one queued connection,
// built from the verified game_data claim of the login token.
type SessionData interface {
	// Valid reports whether the claim was acceptable; invalid sessions are
	// rejected at login without a reply.
	Valid() bool

	// PlayerID returns the player waiting on this session.
	PlayerID() game.PlayerID
}

// DataFactory constructs session data from a verified game_data claim.
type DataFactory func(raw json.RawMessage) SessionData

// Group is one match the matchmaker produced: the queued sessions it
// consumed, a fresh group id, and the game data every member's join token
// will carry.
type Group struct {
	Members []SessionID
	ID      uuid.UUID
	Data    json.RawMessage
}

// Notice is an out-of-band message for a still-waiting session.
type Notice struct {
	Session SessionID
	Text    string
}

// Matchmaker is the pluggable pairing policy driven by the matchmaking
// server's tick loop. Calls are serialized under the server's match mutex
// and must not block.
type Matchmaker interface {
	// CanMatch is a cheap check: true if Match would produce at least one
	// group from the given sessions.
	CanMatch(sessions map[SessionID]SessionData) bool

	// Match produces zero or more groups plus notices for sessions left
	// waiting. deltaMS is the time since the previous matching tick.
	Match(sessions map[SessionID]SessionData, deltaMS int64) ([]Group, []Notice)

	// CancelData is the payload sent to a session whose match fell through.
	CancelData() json.RawMessage
}

// JoinClaims is the game_data claim embedded in each member's join token.
// Creator is the member the token was issued to; Players lists the whole
// group; Match carries the matchmaker's group data verbatim.
type JoinClaims struct {
	Creator game.PlayerID   `json:"creator"`
	Players []game.PlayerID `json:"players"`
	Match   json.RawMessage `json:"match"`
}
