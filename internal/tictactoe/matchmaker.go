// internal/tictactoe/matchmaker.go
package tictactoe

import (
	"encoding/json"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tableturn/internal/game"
	"tableturn/internal/match"
)

// sessionData is the queued-player claim on the matchmaking server:
// {"player": <id>}.
type sessionData struct {
	player game.PlayerID
	valid  bool
}

func (d *sessionData) Valid() bool             { return d.valid }
func (d *sessionData) PlayerID() game.PlayerID { return d.player }

// NewSessionData parses a matchmaking login claim.
func NewSessionData(raw json.RawMessage) match.SessionData {
	var claim struct {
		Player *game.PlayerID `json:"player"`
	}
	if err := json.Unmarshal(raw, &claim); err != nil || claim.Player == nil {
		return &sessionData{}
	}
	return &sessionData{player: *claim.Player, valid: true}
}

// Matchmaker pairs queued players two at a time in admission order.
type Matchmaker struct {
	logger *logrus.Logger
}

func NewMatchmaker(logger *logrus.Logger) *Matchmaker {
	return &Matchmaker{logger: logger}
}

// CanMatch is true as soon as two sessions are waiting.
func (m *Matchmaker) CanMatch(sessions map[match.SessionID]match.SessionData) bool {
	return len(sessions) > 1
}

// Match pairs sessions in ULID order, so the longest-waiting players go
// first. An odd session stays queued for the next tick.
func (m *Matchmaker) Match(sessions map[match.SessionID]match.SessionData, deltaMS int64) ([]match.Group, []match.Notice) {
	ids := make([]match.SessionID, 0, len(sessions))
	for sid := range sessions {
		ids = append(ids, sid)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	var groups []match.Group
	for len(ids) > 1 {
		pair := []match.SessionID{ids[0], ids[1]}
		ids = ids[2:]
		groups = append(groups, match.Group{
			Members: pair,
			ID:      uuid.New(),
			Data:    json.RawMessage(`{"matched":true}`),
		})
		m.logger.Debugf("matched sessions %s and %s", pair[0], pair[1])
	}
	return groups, nil
}

// CancelData is the frame sent when a match falls through.
func (m *Matchmaker) CancelData() json.RawMessage {
	return json.RawMessage(`{"matched":false}`)
}
