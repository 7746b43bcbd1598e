// internal/tictactoe/game.go
package tictactoe

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"tableturn/internal/game"
)

const (
	xVal     = 1
	oVal     = -1
	emptyVal = 0

	// Each player starts with 100 seconds on their clock.
	initialClockMS = 100000

	// Cadence of the "time" frames pushed to connected players.
	timeFrameEveryMS = 1000
)

// board is the 3x3 grid with move counting and win detection.
type board struct {
	cells [9]int
	moves int
	state int
}

func (b *board) value(i, j int) int   { return b.cells[i+3*j] }
func (b *board) setValue(i, j, s int) { b.cells[i+3*j] = s }
func (b *board) done() bool           { return b.moves == 9 || b.state != emptyVal }

// place puts s at (i, j) and updates the win state. Returns false for an
// out-of-range or occupied cell.
func (b *board) place(i, j, s int) bool {
	if i < 0 || i > 2 || j < 0 || j > 2 {
		return false
	}
	if b.value(i, j) != emptyVal {
		return false
	}
	b.setValue(i, j, s)
	b.moves++

	won := true
	for k := 0; k < 3; k++ {
		if b.value(i, k) != s {
			won = false
			break
		}
	}
	if !won {
		won = true
		for k := 0; k < 3; k++ {
			if b.value(k, j) != s {
				won = false
				break
			}
		}
	}
	if !won && i == j {
		won = true
		for k := 0; k < 3; k++ {
			if b.value(k, k) != s {
				won = false
				break
			}
		}
	}
	if !won && i+j == 2 {
		won = true
		for k := 0; k < 3; k++ {
			if b.value(k, 2-k) != s {
				won = false
				break
			}
		}
	}
	if won {
		b.state = s
	}
	return true
}

// gameData is the shape of the game_data claim a join token carries.
type gameData struct {
	Creator game.PlayerID   `json:"creator"`
	Players []game.PlayerID `json:"players"`
	Match   struct {
		Matched bool `json:"matched"`
	} `json:"match"`
}

// Game is the tic-tac-toe game module: a clocked two-player match. The
// first player to connect plays X. The hosting instance serializes all
// calls, so no internal locking is needed here.
type Game struct {
	logger *logrus.Logger

	valid   bool
	creator game.PlayerID
	players []game.PlayerID

	joined    []game.PlayerID
	connected map[game.PlayerID]bool

	started  bool
	gameOver bool
	xmove    bool
	state    int // clock-expiry result, added to the board's win state
	xtime    int64
	otime    int64
	elapsed  int64
	moveList [][2]int

	b      board
	outbox []game.Message
}

// NewGame parses the game_data claim into a module. The claim is valid when
// the matchmaker marked it matched and names exactly two players, the
// creator among them.
func NewGame(logger *logrus.Logger, raw json.RawMessage) game.Module {
	g := &Game{
		logger:    logger,
		connected: make(map[game.PlayerID]bool),
		xmove:     true,
		xtime:     initialClockMS,
		otime:     initialClockMS,
	}

	var data gameData
	if err := json.Unmarshal(raw, &data); err != nil {
		logger.Debugf("tic tac toe: game data is not valid json: %v", err)
		return g
	}
	if !data.Match.Matched || len(data.Players) != 2 {
		return g
	}
	creatorListed := false
	for _, id := range data.Players {
		if id == data.Creator {
			creatorListed = true
			break
		}
	}
	if !creatorListed {
		return g
	}

	g.valid = true
	g.creator = data.Creator
	g.players = data.Players
	return g
}

// NewModuleFactory adapts NewGame to the game.ModuleFactory contract.
func NewModuleFactory(logger *logrus.Logger) game.ModuleFactory {
	return func(raw json.RawMessage) game.Module {
		return NewGame(logger, raw)
	}
}

func (g *Game) Valid() bool                 { return g.valid }
func (g *Game) CreatorID() game.PlayerID    { return g.creator }
func (g *Game) PlayerList() []game.PlayerID { return g.players }

// Done reports termination by board (win or full) or by clock expiry.
func (g *Game) Done() bool {
	return g.b.done() || g.gameOver
}

// Connect marks id present. The first two distinct players to connect take
// X and O in that order. A player connecting after the game started gets
// the current state queued for them.
func (g *Game) Connect(id game.PlayerID) {
	g.logger.Tracef("tic tac toe: connect player %d", id)
	if !g.isPlayer(id) {
		return
	}
	if !g.hasJoined(id) {
		g.joined = append(g.joined, id)
	}
	g.connected[id] = true
	if g.started {
		g.push(id, g.gameState(id))
	}
}

func (g *Game) Disconnect(id game.PlayerID) {
	g.connected[id] = false
}

// PlayerUpdate applies one {"move":[col,row]} message. Moves before the
// game starts, after it ends, out of turn, or onto a bad cell are dropped.
func (g *Game) PlayerUpdate(id game.PlayerID, data map[string]any) {
	if !g.started || g.Done() {
		g.logger.Debugf("player %d sent move outside active play", id)
		return
	}
	i, j, ok := parseMove(data)
	if !ok {
		g.logger.Debugf("player %d sent malformed move", id)
		return
	}

	switch {
	case len(g.joined) > 0 && id == g.joined[0]:
		if !g.xmove {
			g.logger.Debugf("player %d sent move out of turn", id)
			return
		}
		if !g.b.place(i, j, xVal) {
			g.logger.Debugf("player %d sent invalid move [%d,%d]", id, i, j)
			return
		}
		g.xmove = false
	case len(g.joined) > 1 && id == g.joined[1]:
		if g.xmove {
			g.logger.Debugf("player %d sent move out of turn", id)
			return
		}
		if !g.b.place(i, j, oVal) {
			g.logger.Debugf("player %d sent invalid move [%d,%d]", id, i, j)
			return
		}
		g.xmove = true
	default:
		g.logger.Errorf("player %d sent a move but isn't seated in this game", id)
		return
	}

	g.moveList = append(g.moveList, [2]int{i, j})
	g.pushStates()
}

// GameUpdate runs the clocks. The game starts on the first update after
// both players have connected; once running, the mover's clock drains and
// expiry ends the game. Time frames go out every second of game time.
func (g *Game) GameUpdate(deltaMS int64) {
	if !g.started {
		if g.valid && len(g.joined) > 1 {
			g.started = true
			g.pushStates()
		}
		return
	}
	if g.Done() {
		return
	}

	if g.xmove {
		g.xtime -= deltaMS
	} else {
		g.otime -= deltaMS
	}
	if g.xtime <= 0 {
		g.xtime = 0
		g.state = oVal
		g.gameOver = true
	} else if g.otime <= 0 {
		g.otime = 0
		g.state = xVal
		g.gameOver = true
	}

	g.elapsed += deltaMS
	if g.elapsed >= timeFrameEveryMS && !g.Done() {
		g.pushTimes()
		g.elapsed = 0
	}

	if g.Done() {
		g.pushStates()
	}
}

// PopMessage removes and returns the next queued outgoing frame.
func (g *Game) PopMessage() (game.Message, bool) {
	if len(g.outbox) == 0 {
		return game.Message{}, false
	}
	msg := g.outbox[0]
	g.outbox = g.outbox[1:]
	return msg, true
}

func (g *Game) isPlayer(id game.PlayerID) bool {
	for _, p := range g.players {
		if p == id {
			return true
		}
	}
	return false
}

func (g *Game) hasJoined(id game.PlayerID) bool {
	for _, p := range g.joined {
		if p == id {
			return true
		}
	}
	return false
}

type stateFrame struct {
	Type         string   `json:"type"`
	Board        []int    `json:"board"`
	Moves        [][2]int `json:"moves"`
	Time         int64    `json:"time"`
	OpponentTime int64    `json:"opponent_time"`
	XMove        bool     `json:"xmove"`
	State        int      `json:"state"`
	Started      bool     `json:"started"`
	Done         bool     `json:"done"`
	YourTurn     bool     `json:"your_turn"`
}

type timeFrame struct {
	Type         string `json:"type"`
	Time         int64  `json:"time"`
	OpponentTime int64  `json:"opponent_time"`
}

// gameState renders the board from id's perspective.
func (g *Game) gameState(id game.PlayerID) string {
	isX := len(g.joined) > 0 && id == g.joined[0]
	frame := stateFrame{
		Type:         "game",
		Board:        g.b.cells[:],
		Moves:        g.moveList,
		XMove:        g.xmove,
		State:        g.b.state + g.state,
		Started:      g.started,
		Done:         g.Done(),
	}
	if frame.Moves == nil {
		frame.Moves = [][2]int{}
	}
	if isX {
		frame.Time, frame.OpponentTime = g.xtime, g.otime
		frame.YourTurn = g.xmove
	} else {
		frame.Time, frame.OpponentTime = g.otime, g.xtime
		frame.YourTurn = !g.xmove
	}
	out, _ := json.Marshal(frame)
	return string(out)
}

func (g *Game) timeState(id game.PlayerID) string {
	isX := len(g.joined) > 0 && id == g.joined[0]
	frame := timeFrame{Type: "time", Time: g.xtime, OpponentTime: g.otime}
	if !isX {
		frame.Time, frame.OpponentTime = g.otime, g.xtime
	}
	out, _ := json.Marshal(frame)
	return string(out)
}

// pushStates queues a per-player game frame for every connected player.
func (g *Game) pushStates() {
	for _, id := range g.joined {
		if g.connected[id] {
			g.push(id, g.gameState(id))
		}
	}
}

func (g *Game) pushTimes() {
	for _, id := range g.joined {
		if g.connected[id] {
			g.push(id, g.timeState(id))
		}
	}
}

func (g *Game) push(id game.PlayerID, text string) {
	g.outbox = append(g.outbox, game.Message{To: id, Text: text})
}

// parseMove extracts [col,row] from a move message. JSON numbers arrive as
// float64; anything fractional, negative, or missing is rejected.
func parseMove(data map[string]any) (int, int, bool) {
	raw, ok := data["move"].([]any)
	if !ok || len(raw) != 2 {
		return 0, 0, false
	}
	coords := [2]int{}
	for k, v := range raw {
		f, ok := v.(float64)
		if !ok || f != float64(int(f)) || f < 0 {
			return 0, 0, false
		}
		coords[k] = int(f)
	}
	return coords[0], coords[1], true
}
