// internal/game/instance.go
package game

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tableturn/internal/transport"
)

// Instance wraps one game module with the per-game mutex, the connection
// set for its players, and the outgoing-frame fanout. All exported methods
// acquire the instance mutex for the duration of the call, so no two module
// callbacks ever run concurrently.
type Instance struct {
	ID        uuid.UUID
	CreatedAt time.Time

	logger *logrus.Logger
	sender Sender

	mu        sync.Mutex
	module    Module
	conns     map[PlayerID]transport.Handle
	connected map[PlayerID]bool
}

func NewInstance(logger *logrus.Logger, sender Sender, module Module) *Instance {
	return &Instance{
		ID:        uuid.New(),
		CreatedAt: time.Now(),
		logger:    logger,
		sender:    sender,
		module:    module,
		conns:     make(map[PlayerID]transport.Handle),
		connected: make(map[PlayerID]bool),
	}
}

// Connect records h as id's connection. The module only sees the transition
// if the player was not already marked connected, so repeated connects with
// the same player are idempotent.
func (g *Instance) Connect(id PlayerID, h transport.Handle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logger.Tracef("game %s: connect player %d on connection %d", g.ID, id, h)
	g.conns[id] = h
	if !g.connected[id] {
		g.connected[id] = true
		g.module.Connect(id)
	}
}

// Disconnect marks id as away and informs the module.
func (g *Instance) Disconnect(id PlayerID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logger.Tracef("game %s: disconnect player %d", g.ID, id)
	g.connected[id] = false
	g.module.Disconnect(id)
}

// IsConnected reports whether id is currently marked connected.
func (g *Instance) IsConnected(id PlayerID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected[id]
}

// Connection returns the last handle recorded for id.
func (g *Instance) Connection(id PlayerID) (transport.Handle, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.conns[id]
	return h, ok
}

// ProcessPlayerUpdate parses text as a JSON object and forwards it to the
// module, then emits whatever the module queued in response. A parse
// failure leaves module state untouched.
func (g *Instance) ProcessPlayerUpdate(id PlayerID, payload []byte) {
	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		g.logger.Debugf("update message from player %d was not valid json", id)
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.module.PlayerUpdate(id, data)
	g.drainMessages()
}

// GameUpdate advances the module by deltaMS, emits queued frames, and
// reports whether the game is finished. Only the tick loop calls this.
func (g *Instance) GameUpdate(deltaMS int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.module.GameUpdate(deltaMS)
	g.drainMessages()
	return g.module.Done()
}

// PlayerList returns the module's expected participants.
func (g *Instance) PlayerList() []PlayerID {
	g.mu.Lock()
	defer g.mu.Unlock()
	list := g.module.PlayerList()
	out := make([]PlayerID, len(list))
	copy(out, list)
	return out
}

// drainMessages pops queued module output and sends each frame. Callers
// hold the instance mutex; Sender.Send is non-blocking so this is safe.
func (g *Instance) drainMessages() {
	for {
		msg, ok := g.module.PopMessage()
		if !ok {
			return
		}
		if msg.Broadcast {
			for id, h := range g.conns {
				if !g.connected[id] {
					continue
				}
				if err := g.sender.Send(h, msg.Text); err != nil {
					g.logger.Debugf("broadcast to player %d failed: %v", id, err)
				}
			}
			continue
		}
		if !g.connected[msg.To] {
			continue
		}
		h, ok := g.conns[msg.To]
		if !ok {
			continue
		}
		if err := g.sender.Send(h, msg.Text); err != nil {
			g.logger.Debugf("send to player %d failed: %v", msg.To, err)
		}
	}
}
