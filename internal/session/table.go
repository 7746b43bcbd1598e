// internal/session/table.go
package session

import (
	"sync"

	"tableturn/internal/game"
	"tableturn/internal/transport"
)

// Table maps live connection handles to the player bound to them, plus the
// reverse direction so a player's current connection can be found for
// eviction or cancel notices. Both maps live under one mutex.
type Table struct {
	mu       sync.Mutex
	byHandle map[transport.Handle]game.PlayerID
	byPlayer map[game.PlayerID]transport.Handle
}

func NewTable() *Table {
	return &Table{
		byHandle: make(map[transport.Handle]game.PlayerID),
		byPlayer: make(map[game.PlayerID]transport.Handle),
	}
}

// Bind associates h with id in both directions, overwriting h's previous
// player and id's previous handle. A handle that id was bound to before keeps
// its own entry (Lookup still returns id for it) until it is evicted.
func (t *Table) Bind(h transport.Handle, id game.PlayerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byHandle[h] = id
	t.byPlayer[id] = h
}

// Lookup returns the player bound to h.
func (t *Table) Lookup(h transport.Handle) (game.PlayerID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byHandle[h]
	return id, ok
}

// LookupPlayer returns the handle id is currently bound to.
func (t *Table) LookupPlayer(id game.PlayerID) (transport.Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byPlayer[id]
	return h, ok
}

// Evict removes the binding for h. The reverse entry is only dropped when
// it still points at h, so evicting a superseded handle cannot unbind the
// player's newer connection.
func (t *Table) Evict(h transport.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byHandle[h]
	if !ok {
		return
	}
	delete(t.byHandle, h)
	if t.byPlayer[id] == h {
		delete(t.byPlayer, id)
	}
}

// EvictPlayer removes id's binding in both directions and returns the
// handle it held.
func (t *Table) EvictPlayer(id game.PlayerID) (transport.Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byPlayer[id]
	if !ok {
		return 0, false
	}
	delete(t.byPlayer, id)
	if t.byHandle[h] == id {
		delete(t.byHandle, h)
	}
	return h, true
}

// Len reports the number of bound handles.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byHandle)
}
