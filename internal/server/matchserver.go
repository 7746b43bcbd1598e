// internal/server/matchserver.go
package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tableturn/internal/auth"
	"tableturn/internal/dispatch"
	"tableturn/internal/game"
	"tableturn/internal/match"
	"tableturn/internal/session"
	"tableturn/internal/transport"
)

// DefaultMatchTick is the minimum time between matching attempts.
const DefaultMatchTick = 100 * time.Millisecond

// MatchRecord summarizes one issued match.
type MatchRecord struct {
	GroupID   uuid.UUID       `json:"group_id"`
	Players   []game.PlayerID `json:"players"`
	MatchedAt time.Time       `json:"matched_at"`
}

// MatchRecorder receives issued-match records. Implementations must not
// block the caller.
type MatchRecorder interface {
	RecordMatch(rec MatchRecord)
}

// pendingSession is one queued player awaiting a match.
type pendingSession struct {
	data   match.SessionData
	handle transport.Handle
	player game.PlayerID
}

// MatchServer accepts player sessions, pools them, and lets the matchmaker
// group them on a fixed-rate tick. Matched players receive a signed join
// token entitling them to the game server, then their connections close.
type MatchServer struct {
	logger  *logrus.Logger
	sender  game.Sender
	queue   *dispatch.Queue
	table   *session.Table
	auth    *auth.Service
	factory match.DataFactory
	maker   match.Matchmaker
	tick    time.Duration

	recorders []MatchRecorder

	// matchLock guards the pending-session pool shared by the dispatcher
	// and the matching tick.
	matchLock sync.Mutex
	pending   map[match.SessionID]match.SessionData
	sessions  map[match.SessionID]*pendingSession
	byPlayer  map[game.PlayerID]match.SessionID

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMatchServer wires a matchmaking server. tick <= 0 selects
// DefaultMatchTick.
func NewMatchServer(logger *logrus.Logger, sender game.Sender, signer *auth.Service, factory match.DataFactory, maker match.Matchmaker, tick time.Duration) *MatchServer {
	if tick <= 0 {
		tick = DefaultMatchTick
	}
	return &MatchServer{
		logger:   logger,
		sender:   sender,
		queue:    dispatch.NewQueue(),
		table:    session.NewTable(),
		auth:     signer,
		factory:  factory,
		maker:    maker,
		tick:     tick,
		pending:  make(map[match.SessionID]match.SessionData),
		sessions: make(map[match.SessionID]*pendingSession),
		byPlayer: make(map[game.PlayerID]match.SessionID),
		stop:     make(chan struct{}),
	}
}

// AddRecorder registers an issued-match recorder. Call before starting
// MatchPlayers.
func (s *MatchServer) AddRecorder(r MatchRecorder) {
	s.recorders = append(s.recorders, r)
}

// Sessions exposes the session table for inspection.
func (s *MatchServer) Sessions() *session.Table { return s.table }

// PendingCount reports the number of queued sessions.
func (s *MatchServer) PendingCount() int {
	s.matchLock.Lock()
	defer s.matchLock.Unlock()
	return len(s.pending)
}

// HandleOpen, HandleClose, and HandleMessage implement transport.Sink.
func (s *MatchServer) HandleOpen(h transport.Handle) {
	s.queue.Push(dispatch.Action{Kind: dispatch.Open, Handle: h})
}

func (s *MatchServer) HandleClose(h transport.Handle) {
	s.queue.Push(dispatch.Action{Kind: dispatch.Close, Handle: h})
}

func (s *MatchServer) HandleMessage(h transport.Handle, payload []byte) {
	s.queue.Push(dispatch.Action{Kind: dispatch.Message, Handle: h, Payload: payload})
}

// ProcessActions is the dispatcher loop. Run it on its own goroutine.
func (s *MatchServer) ProcessActions() {
	for {
		a, ok := s.queue.Pop()
		if !ok {
			return
		}
		s.handleAction(a)
	}
}

func (s *MatchServer) handleAction(a dispatch.Action) {
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
		if _, ok := s.table.Lookup(a.Handle); ok {
			// queued players have nothing further to say until matched
			s.logger.Debugf("ignoring message from queued connection %d", a.Handle)
			return
		}
		s.setupPlayer(a.Handle, string(a.Payload))
	}
}

// setupPlayer verifies a login token and queues the player for matching. A
// player already waiting on another connection is superseded by the new
// one, keeping at most one handle per player.
func (s *MatchServer) setupPlayer(h transport.Handle, token string) {
	raw, err := s.auth.VerifyLogin(token)
	if err != nil {
		s.logger.Debugf("rejecting login on connection %d: %v", h, err)
		return
	}
	data := s.factory(raw)
	if !data.Valid() {
		s.logger.Debugf("rejecting login on connection %d: unacceptable session data", h)
		return
	}
	id := data.PlayerID()

	if old, ok := s.table.LookupPlayer(id); ok && old != h {
		s.playerDisconnect(old)
		s.sender.CloseHandle(old, "player connected again")
		s.logger.Debugf("superseded connection %d for player %d", old, id)
	}

	s.table.Bind(h, id)
	sid := match.NewSessionID()

	s.matchLock.Lock()
	s.pending[sid] = data
	s.sessions[sid] = &pendingSession{data: data, handle: h, player: id}
	s.byPlayer[id] = sid
	s.matchLock.Unlock()

	s.logger.Debugf("player %d queued as session %s on connection %d", id, sid, h)
}

// playerDisconnect cancels the player's pending session.
func (s *MatchServer) playerDisconnect(h transport.Handle) {
	id, ok := s.table.Lookup(h)
	if !ok {
		return
	}
	s.table.Evict(h)

	s.matchLock.Lock()
	if sid, ok := s.byPlayer[id]; ok {
		delete(s.pending, sid)
		delete(s.sessions, sid)
		delete(s.byPlayer, id)
	}
	s.matchLock.Unlock()

	s.logger.Debugf("player %d left the matchmaking queue", id)
}

// MatchPlayers is the fixed-rate matching loop. Run it on its own
// goroutine; it exits after Shutdown.
func (s *MatchServer) MatchPlayers() {
	last := time.Now()
	for {
		delta := time.Since(last)
		if delta >= s.tick {
			last = time.Now()
			s.Tick(delta.Milliseconds())
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

// outFrame is a send decided under the match lock and performed after it
// is released.
type outFrame struct {
	handle transport.Handle
	text   string
	close  bool
	reason string
}

// Tick runs one matching attempt with the given delta. Exposed for tests;
// MatchPlayers calls it on cadence.
func (s *MatchServer) Tick(deltaMS int64) {
	var out []outFrame
	var records []MatchRecord

	s.matchLock.Lock()
	if !s.maker.CanMatch(s.pending) {
		s.matchLock.Unlock()
		return
	}
	groups, notices := s.maker.Match(s.pending, deltaMS)

	for _, grp := range groups {
		members := make([]*pendingSession, 0, len(grp.Members))
		ok := true
		for _, sid := range grp.Members {
			ps, exists := s.sessions[sid]
			if !exists {
				s.logger.Errorf("matchmaker emitted unknown session %s", sid)
				ok = false
				break
			}
			members = append(members, ps)
		}
		if !ok {
			continue
		}

		players := make([]game.PlayerID, len(members))
		for i, ps := range members {
			players[i] = ps.player
		}

		tokens := make([]string, len(members))
		for i, ps := range members {
			claims := match.JoinClaims{
				Creator: ps.player,
				Players: players,
				Match:   grp.Data,
			}
			token, err := s.auth.SignJoin(grp.ID.String(), grp.Data, claims)
			if err != nil {
				s.logger.Errorf("failed to sign join token for player %d: %v", ps.player, err)
				ok = false
				break
			}
			tokens[i] = token
		}

		// the group is consumed either way; members that cannot get a
		// token take the cancel payload instead
		for _, sid := range grp.Members {
			ps := s.sessions[sid]
			delete(s.pending, sid)
			delete(s.sessions, sid)
			delete(s.byPlayer, ps.player)
		}

		if !ok {
			cancel := string(s.maker.CancelData())
			for _, ps := range members {
				out = append(out, outFrame{handle: ps.handle, text: cancel})
				out = append(out, outFrame{handle: ps.handle, close: true, reason: "match cancelled"})
			}
			continue
		}

		for i, ps := range members {
			out = append(out, outFrame{handle: ps.handle, text: tokens[i]})
			out = append(out, outFrame{handle: ps.handle, close: true, reason: "matched"})
		}
		records = append(records, MatchRecord{GroupID: grp.ID, Players: players, MatchedAt: time.Now()})
	}

	for _, n := range notices {
		if ps, ok := s.sessions[n.Session]; ok {
			out = append(out, outFrame{handle: ps.handle, text: n.Text})
		}
	}
	s.matchLock.Unlock()

	for _, f := range out {
		if f.close {
			s.sender.CloseHandle(f.handle, f.reason)
			continue
		}
		if err := s.sender.Send(f.handle, f.text); err != nil {
			s.logger.Debugf("send to connection %d failed: %v", f.handle, err)
		}
	}
	for _, rec := range records {
		for _, r := range s.recorders {
			r.RecordMatch(rec)
		}
	}
}

// Shutdown stops the matching loop, closes the action queue, and closes
// every queued connection. Stop the transport first.
func (s *MatchServer) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.queue.Close()

	s.matchLock.Lock()
	sessions := make([]*pendingSession, 0, len(s.sessions))
	for sid, ps := range s.sessions {
		sessions = append(sessions, ps)
		delete(s.pending, sid)
		delete(s.sessions, sid)
		delete(s.byPlayer, ps.player)
	}
	s.matchLock.Unlock()

	for _, ps := range sessions {
		s.sender.CloseHandle(ps.handle, "server shutting down")
	}
}
