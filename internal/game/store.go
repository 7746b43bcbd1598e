// internal/game/store.go
package game

import (
	"sync"

	"github.com/google/uuid"

	"tableturn/internal/transport"
)

// Store owns the set of live games and the reverse index from player to
// game. A player belongs to at most one game at any instant, and every
// indexed player points at a game still in the set.
type Store struct {
	mu       sync.Mutex
	games    map[uuid.UUID]*Instance
	byPlayer map[PlayerID]*Instance
}

func NewStore() *Store {
	return &Store{
		games:    make(map[uuid.UUID]*Instance),
		byPlayer: make(map[PlayerID]*Instance),
	}
}

// ByPlayer returns the game id currently belongs to.
func (s *Store) ByPlayer(id PlayerID) (*Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.byPlayer[id]
	return g, ok
}

// Len reports the number of live games.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.games)
}

// Connect attaches handle h for player creator under the store lock. If the
// creator has no game yet, create() supplies a fresh instance and every
// listed player is indexed to it. If the creator already appears connected,
// the previous handle is returned with evicted=true so the caller can close
// it: a reconnect supersedes the old connection.
func (s *Store) Connect(creator PlayerID, h transport.Handle, players []PlayerID, create func() *Instance) (prev transport.Handle, evicted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.byPlayer[creator]
	if !ok {
		g = create()
		s.games[g.ID] = g
		for _, id := range players {
			s.byPlayer[id] = g
		}
		g.Connect(creator, h)
		return 0, false
	}

	if g.IsConnected(creator) {
		if old, ok := g.Connection(creator); ok && old != h {
			prev = old
			evicted = true
		}
	}
	g.Connect(creator, h)
	return prev, evicted
}

// Disconnect tells id's game the player left and drops the reverse-index
// entry. The game itself stays in the set until the tick loop observes it
// finished, even with every player gone.
func (s *Store) Disconnect(id PlayerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.byPlayer[id]
	if !ok {
		return
	}
	g.Disconnect(id)
	delete(s.byPlayer, id)
}

// Sweep advances every game by deltaMS and removes the finished ones from
// both the set and the reverse index, returning them for teardown.
func (s *Store) Sweep(deltaMS int64) []*Instance {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finished []*Instance
	for gid, g := range s.games {
		if !g.GameUpdate(deltaMS) {
			continue
		}
		delete(s.games, gid)
		for _, id := range g.PlayerList() {
			if s.byPlayer[id] == g {
				delete(s.byPlayer, id)
			}
		}
		finished = append(finished, g)
	}
	return finished
}

// Drain removes and returns every live game. Used at shutdown.
func (s *Store) Drain() []*Instance {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Instance, 0, len(s.games))
	for gid, g := range s.games {
		out = append(out, g)
		delete(s.games, gid)
	}
	for id := range s.byPlayer {
		delete(s.byPlayer, id)
	}
	return out
}
