// internal/session/table_test.go
package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tableturn/internal/game"
	"tableturn/internal/transport"
)

func TestBindLookupEvict(t *testing.T) {
	tbl := NewTable()
	tbl.Bind(1, game.PlayerID(42))

	id, ok := tbl.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, game.PlayerID(42), id)

	h, ok := tbl.LookupPlayer(42)
	require.True(t, ok)
	assert.Equal(t, transport.Handle(1), h)

	tbl.Evict(1)
	_, ok = tbl.Lookup(1)
	assert.False(t, ok)
	_, ok = tbl.LookupPlayer(42)
	assert.False(t, ok)
	assert.Equal(t, 0, tbl.Len())
}

// TestEvictSupersededHandle covers the reconnect flow: the new handle is
// bound first, then the stale one is evicted. The player's fresh binding
// must survive.
func TestEvictSupersededHandle(t *testing.T) {
	tbl := NewTable()
	tbl.Bind(1, game.PlayerID(42))
	tbl.Bind(2, game.PlayerID(42))

	tbl.Evict(1)

	id, ok := tbl.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, game.PlayerID(42), id)

	h, ok := tbl.LookupPlayer(42)
	require.True(t, ok)
	assert.Equal(t, transport.Handle(2), h)
}

func TestEvictPlayer(t *testing.T) {
	tbl := NewTable()
	tbl.Bind(5, game.PlayerID(9))

	h, ok := tbl.EvictPlayer(9)
	require.True(t, ok)
	assert.Equal(t, transport.Handle(5), h)

	_, ok = tbl.Lookup(5)
	assert.False(t, ok)

	_, ok = tbl.EvictPlayer(9)
	assert.False(t, ok)
}

func TestEvictUnknownHandleIsNoop(t *testing.T) {
	tbl := NewTable()
	tbl.Bind(1, game.PlayerID(1))
	tbl.Evict(99)
	assert.Equal(t, 1, tbl.Len())
}
