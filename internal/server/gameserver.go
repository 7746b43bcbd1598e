// internal/server/gameserver.go
package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tableturn/internal/auth"
	"tableturn/internal/dispatch"
	"tableturn/internal/game"
	"tableturn/internal/session"
	"tableturn/internal/transport"
)

// DefaultGameTick is the minimum time between game updates.
const DefaultGameTick = 500 * time.Millisecond

// minTickSleep bounds the tick loop's wake-up latency without busy
// spinning.
const minTickSleep = time.Millisecond

// ResultRecord is the outcome summary handed to recorders when a game is
// retired.
type ResultRecord struct {
	GameID    uuid.UUID       `json:"game_id"`
	Players   []game.PlayerID `json:"players"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
}

// Recorder receives finished-game records. Implementations must not block
// the caller; the tick loop invokes them.
type Recorder interface {
	RecordResult(rec ResultRecord)
}

// GameServer hosts running game instances and relays moves between
// authenticated players. Transport events flow through the action queue
// into the single dispatcher goroutine; a fixed-rate tick goroutine drives
// game time and retires finished games.
type GameServer struct {
	logger  *logrus.Logger
	sender  game.Sender
	queue   *dispatch.Queue
	table   *session.Table
	store   *game.Store
	auth    *auth.Service
	factory game.ModuleFactory
	tick    time.Duration

	recorders []Recorder

	stop     chan struct{}
	stopOnce sync.Once
}

// NewGameServer wires a game server around the given outbound transport,
// verifier, and module factory. tick <= 0 selects DefaultGameTick.
func NewGameServer(logger *logrus.Logger, sender game.Sender, verifier *auth.Service, factory game.ModuleFactory, tick time.Duration) *GameServer {
	if tick <= 0 {
		tick = DefaultGameTick
	}
	return &GameServer{
		logger:  logger,
		sender:  sender,
		queue:   dispatch.NewQueue(),
		table:   session.NewTable(),
		store:   game.NewStore(),
		auth:    verifier,
		factory: factory,
		tick:    tick,
		stop:    make(chan struct{}),
	}
}

// AddRecorder registers a finished-game recorder. Call before starting
// UpdateGames.
func (s *GameServer) AddRecorder(r Recorder) {
	s.recorders = append(s.recorders, r)
}

// Store exposes the game store for inspection.
func (s *GameServer) Store() *game.Store { return s.store }

// Sessions exposes the session table for inspection.
func (s *GameServer) Sessions() *session.Table { return s.table }

// HandleOpen, HandleClose, and HandleMessage implement transport.Sink by
// queueing actions for the dispatcher. They run on transport I/O
// goroutines and only touch the action queue.
func (s *GameServer) HandleOpen(h transport.Handle) {
	s.queue.Push(dispatch.Action{Kind: dispatch.Open, Handle: h})
}

func (s *GameServer) HandleClose(h transport.Handle) {
	s.queue.Push(dispatch.Action{Kind: dispatch.Close, Handle: h})
}

func (s *GameServer) HandleMessage(h transport.Handle, payload []byte) {
	s.queue.Push(dispatch.Action{Kind: dispatch.Message, Handle: h, Payload: payload})
}

// ProcessActions is the dispatcher: it drains the action queue one action
// at a time until the queue is closed. Run it on its own goroutine.
func (s *GameServer) ProcessActions() {
	for {
		a, ok := s.queue.Pop()
		if !ok {
			return
		}
		s.handleAction(a)
	}
}

func (s *GameServer) handleAction(a dispatch.Action) {
	switch a.Kind {
	case dispatch.Open:
		s.logger.Tracef("processing OPEN for connection %d", a.Handle)
	case dispatch.Close:
		s.logger.Tracef("processing CLOSE for connection %d", a.Handle)
		if _, ok := s.table.Lookup(a.Handle); ok {
			s.playerDisconnect(a.Handle)
		} else {
			s.logger.Debugf("connection %d closed without logging in", a.Handle)
		}
	case dispatch.Message:
		s.logger.Tracef("processing MESSAGE for connection %d", a.Handle)
		id, ok := s.table.Lookup(a.Handle)
		if !ok {
			// not bound yet: this must be a login token
			s.setupPlayer(a.Handle, string(a.Payload))
			return
		}
		g, ok := s.store.ByPlayer(id)
		if !ok {
			s.logger.Errorf("player %d does not have a game", id)
			return
		}
		g.ProcessPlayerUpdate(id, a.Payload)
	}
}

// setupPlayer verifies a login token, builds the game data it carries, and
// binds the connection to the resulting player. Every failure is silent
// toward the client: the handle simply stays unbound.
func (s *GameServer) setupPlayer(h transport.Handle, token string) {
	raw, err := s.auth.VerifyLogin(token)
	if err != nil {
		s.logger.Debugf("rejecting login on connection %d: %v", h, err)
		return
	}
	mod := s.factory(raw)
	if !mod.Valid() {
		s.logger.Debugf("rejecting login on connection %d: unacceptable game data", h)
		return
	}

	id := mod.CreatorID()
	s.table.Bind(h, id)
	s.logger.Debugf("connection %d logged in as player %d", h, id)
	s.playerConnect(h, id, mod)
}

// playerConnect attaches the connection to the player's game, creating the
// game from mod when this is the party's first arrival. A duplicate
// connection for an already-connected player supersedes the old one.
func (s *GameServer) playerConnect(h transport.Handle, id game.PlayerID, mod game.Module) {
	prev, evicted := s.store.Connect(id, h, mod.PlayerList(), func() *game.Instance {
		return game.NewInstance(s.logger, s.sender, mod)
	})
	if evicted {
		s.table.Evict(prev)
		s.sender.CloseHandle(prev, "player connected again")
		s.logger.Debugf("superseded connection %d for player %d", prev, id)
	}
}

// playerDisconnect unbinds the connection and tells the player's game they
// left. The game object survives until the tick loop sees it finished.
func (s *GameServer) playerDisconnect(h transport.Handle) {
	id, ok := s.table.Lookup(h)
	if !ok {
		return
	}
	s.table.Evict(h)
	s.store.Disconnect(id)
	s.logger.Debugf("player %d disconnected", id)
}

// UpdateGames is the fixed-rate tick loop. Each tick advances every game;
// finished games get their players' connections closed and are handed to
// the recorders. Run it on its own goroutine; it exits after Shutdown.
func (s *GameServer) UpdateGames() {
	last := time.Now()
	for {
		delta := time.Since(last)
		if delta >= s.tick {
			last = time.Now()
			for _, g := range s.store.Sweep(delta.Milliseconds()) {
				s.retireGame(g)
			}
		}

		sleep := s.tick - delta
		if sleep > minTickSleep {
			sleep = minTickSleep
		}
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-s.stop:
			return
		case <-time.After(sleep):
		}
	}
}

func (s *GameServer) retireGame(g *game.Instance) {
	s.logger.Debugf("game %s ended", g.ID)
	players := g.PlayerList()
	for _, id := range players {
		if h, ok := g.Connection(id); ok {
			s.sender.CloseHandle(h, "game ended")
		}
	}
	if len(s.recorders) == 0 {
		return
	}
	rec := ResultRecord{
		GameID:    g.ID,
		Players:   players,
		StartedAt: g.CreatedAt,
		EndedAt:   time.Now(),
	}
	for _, r := range s.recorders {
		r.RecordResult(rec)
	}
}

// Tick performs one manual sweep with the given delta. Exposed for tests.
func (s *GameServer) Tick(deltaMS int64) {
	for _, g := range s.store.Sweep(deltaMS) {
		s.retireGame(g)
	}
}

// Shutdown stops the tick loop, closes the action queue (the dispatcher
// exits once it has drained), and tears down remaining games. Stop the
// transport before calling so no new actions are produced.
func (s *GameServer) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.queue.Close()
	for _, g := range s.store.Drain() {
		for _, id := range g.PlayerList() {
			if h, ok := g.Connection(id); ok {
				s.sender.CloseHandle(h, "server shutting down")
			}
		}
	}
}
