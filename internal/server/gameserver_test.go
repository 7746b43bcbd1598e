// internal/server/gameserver_test.go
package server

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tableturn/internal/auth"
	"tableturn/internal/dispatch"
	"tableturn/internal/game"
	"tableturn/internal/match"
	"tableturn/internal/tictactoe"
	"tableturn/internal/transport"
)

const testSecret = "secret"

func newTestGameServer(t *testing.T) (*GameServer, *fakeSender, *auth.Service) {
	t.Helper()
	logger := quietLogger()
	svc := auth.NewService(testSecret, []string{"tic_tac_toe_auth", "tic_tac_toe_matchmaker"}, "tic_tac_toe_matchmaker")
	sender := newFakeSender()
	gs := NewGameServer(logger, sender, svc, tictactoe.NewModuleFactory(logger), 0)
	return gs, sender, svc
}

// joinToken builds the per-member token the matchmaker would issue.
func joinToken(t *testing.T, svc *auth.Service, creator game.PlayerID, players []game.PlayerID) string {
	t.Helper()
	data := json.RawMessage(`{"matched":true}`)
	token, err := svc.SignJoin(uuid.NewString(), data, match.JoinClaims{
		Creator: creator,
		Players: players,
		Match:   data,
	})
	require.NoError(t, err)
	return token
}

func login(gs *GameServer, h transport.Handle, token string) {
	gs.handleAction(dispatch.Action{Kind: dispatch.Message, Handle: h, Payload: []byte(token)})
}

func TestLoginCreatesGameAndSecondPlayerJoins(t *testing.T) {
	gs, sender, svc := newTestGameServer(t)
	players := []game.PlayerID{1, 2}

	login(gs, 10, joinToken(t, svc, 1, players))
	id, ok := gs.Sessions().Lookup(10)
	require.True(t, ok)
	assert.Equal(t, game.PlayerID(1), id)
	assert.Equal(t, 1, gs.Store().Len())

	login(gs, 20, joinToken(t, svc, 2, players))
	assert.Equal(t, 1, gs.Store().Len(), "second player joins the existing game")

	// the game starts on the next tick and both players get a state frame
	gs.Tick(600)
	for _, h := range []transport.Handle{10, 20} {
		frames := sender.sentTo(h)
		require.NotEmpty(t, frames, "handle %d got no state frame", h)
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(frames[0]), &frame))
		assert.Equal(t, true, frame["started"])
	}
	assert.Equal(t, 1, gs.Store().Len())
}

func TestRejectedLoginsLeaveHandleUnbound(t *testing.T) {
	gs, sender, _ := newTestGameServer(t)

	// wrong secret
	other := auth.NewService("wrong", []string{"tic_tac_toe_matchmaker"}, "tic_tac_toe_matchmaker")
	login(gs, 10, joinToken(t, other, 1, []game.PlayerID{1, 2}))

	// valid signature, unacceptable game data
	svc := auth.NewService(testSecret, []string{"tic_tac_toe_matchmaker"}, "tic_tac_toe_matchmaker")
	badData, err := svc.SignJoin(uuid.NewString(), json.RawMessage(`{"matched":false}`), map[string]any{"matched": false})
	require.NoError(t, err)
	login(gs, 10, badData)

	// plain garbage
	login(gs, 10, "not-a-token")

	_, ok := gs.Sessions().Lookup(10)
	assert.False(t, ok)
	assert.Equal(t, 0, gs.Store().Len())
	// no reply of any kind goes back to the client
	assert.Empty(t, sender.forHandle(10))
}

func TestMoveRoutesToGame(t *testing.T) {
	gs, sender, svc := newTestGameServer(t)
	players := []game.PlayerID{1, 2}
	login(gs, 10, joinToken(t, svc, 1, players))
	login(gs, 20, joinToken(t, svc, 2, players))
	gs.Tick(600)

	before := len(sender.sentTo(20))
	gs.handleAction(dispatch.Action{Kind: dispatch.Message, Handle: 10, Payload: []byte(`{"move":[0,0]}`)})

	frames := sender.sentTo(20)
	require.Greater(t, len(frames), before, "opponent got no update after the move")
	var frame map[string]any
	require.NoError(t, json.Unmarshal([]byte(frames[len(frames)-1]), &frame))
	board := frame["board"].([]any)
	assert.Equal(t, float64(1), board[0])
}

func TestInvalidMoveChangesNothing(t *testing.T) {
	gs, sender, svc := newTestGameServer(t)
	players := []game.PlayerID{1, 2}
	login(gs, 10, joinToken(t, svc, 1, players))
	login(gs, 20, joinToken(t, svc, 2, players))
	gs.Tick(600)

	before10, before20 := len(sender.sentTo(10)), len(sender.sentTo(20))
	// player 2 moves out of turn
	gs.handleAction(dispatch.Action{Kind: dispatch.Message, Handle: 20, Payload: []byte(`{"move":[0,0]}`)})
	// and player 1 sends malformed json
	gs.handleAction(dispatch.Action{Kind: dispatch.Message, Handle: 10, Payload: []byte(`{broken`)})

	assert.Len(t, sender.sentTo(10), before10)
	assert.Len(t, sender.sentTo(20), before20)
}

func TestMessageForPlayerWithoutGameIsDiscarded(t *testing.T) {
	gs, _, _ := newTestGameServer(t)
	gs.Sessions().Bind(33, game.PlayerID(99))

	// must not panic, must not create anything
	gs.handleAction(dispatch.Action{Kind: dispatch.Message, Handle: 33, Payload: []byte(`{"move":[0,0]}`)})
	assert.Equal(t, 0, gs.Store().Len())
}

func TestReconnectSupersedesOldConnection(t *testing.T) {
	gs, sender, svc := newTestGameServer(t)
	players := []game.PlayerID{1, 2}
	token := joinToken(t, svc, 1, players)

	login(gs, 10, token)
	login(gs, 11, token)

	reason, closed := sender.closeReason(10)
	require.True(t, closed)
	assert.Equal(t, "player connected again", reason)

	_, ok := gs.Sessions().Lookup(10)
	assert.False(t, ok)
	id, ok := gs.Sessions().Lookup(11)
	require.True(t, ok)
	assert.Equal(t, game.PlayerID(1), id)

	g, ok := gs.Store().ByPlayer(1)
	require.True(t, ok)
	h, _ := g.Connection(1)
	assert.Equal(t, transport.Handle(11), h)

	// the old socket's CLOSE arrives afterwards and is ignored
	gs.handleAction(dispatch.Action{Kind: dispatch.Close, Handle: 10})
	_, ok = gs.Sessions().Lookup(11)
	assert.True(t, ok)
	assert.True(t, g.IsConnected(1))
}

func TestCloseDisconnectsButKeepsGame(t *testing.T) {
	gs, _, svc := newTestGameServer(t)
	players := []game.PlayerID{1, 2}
	login(gs, 10, joinToken(t, svc, 1, players))

	gs.handleAction(dispatch.Action{Kind: dispatch.Close, Handle: 10})

	_, ok := gs.Sessions().Lookup(10)
	assert.False(t, ok)
	_, ok = gs.Store().ByPlayer(1)
	assert.False(t, ok, "reverse index entry must be dropped")
	assert.Equal(t, 1, gs.Store().Len(), "the game object survives until the tick retires it")
}

// recordingRecorder captures retired-game records.
type recordingRecorder struct {
	records []ResultRecord
}

func (r *recordingRecorder) RecordResult(rec ResultRecord) {
	r.records = append(r.records, rec)
}

func TestTickRetiresFinishedGame(t *testing.T) {
	gs, sender, svc := newTestGameServer(t)
	rec := &recordingRecorder{}
	gs.AddRecorder(rec)

	players := []game.PlayerID{1, 2}
	login(gs, 10, joinToken(t, svc, 1, players))
	login(gs, 20, joinToken(t, svc, 2, players))
	gs.Tick(600)

	// run the clock out: player 1 (X) times out
	gs.Tick(200000)

	assert.Equal(t, 0, gs.Store().Len())
	for _, h := range []transport.Handle{10, 20} {
		events := sender.forHandle(h)
		require.NotEmpty(t, events)
		last := events[len(events)-1]
		require.True(t, last.closed, "handle %d must end with a close", h)
		assert.Equal(t, "game ended", last.reason)

		// the terminal state frame precedes the close
		prev := events[len(events)-2]
		require.False(t, prev.closed)
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(prev.text), &frame))
		assert.Equal(t, true, frame["done"])
	}

	require.Len(t, rec.records, 1)
	assert.ElementsMatch(t, players, rec.records[0].Players)
	assert.False(t, rec.records[0].EndedAt.Before(rec.records[0].StartedAt))
}

func TestShutdownClosesRemainingGames(t *testing.T) {
	gs, sender, svc := newTestGameServer(t)
	login(gs, 10, joinToken(t, svc, 1, []game.PlayerID{1, 2}))

	gs.Shutdown()

	reason, closed := sender.closeReason(10)
	require.True(t, closed)
	assert.Equal(t, "server shutting down", reason)
	assert.Equal(t, 0, gs.Store().Len())
}
