// internal/transport/transport.go
package transport

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// Handle identifies one live WebSocket connection. A handle is valid from
// the OPEN event until the matching CLOSE event and is never reused.
type Handle uint64

// Sink receives connection lifecycle events from the transport. Callbacks
// run on per-connection I/O goroutines and must not block.
type Sink interface {
	HandleOpen(h Handle)
	HandleClose(h Handle)
	HandleMessage(h Handle, payload []byte)
}

const (
	// outboundBuffer bounds the per-connection send queue. A client that
	// stops reading loses frames rather than stalling the server.
	outboundBuffer = 64

	writeTimeout = 3 * time.Second
)

// outbound is one entry in a connection's write queue. close entries flush
// behind any frames queued before them, so a terminal game-state frame is
// delivered before the close handshake starts.
type outbound struct {
	data   []byte
	close  bool
	reason string
}

type conn struct {
	ws     *websocket.Conn
	out    chan outbound
	cancel context.CancelFunc

	closeOnce sync.Once
	closing   atomic.Bool
}

// closeWS performs the websocket close handshake at most once.
func (c *conn) closeWS(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.ws.Close(code, reason)
	})
}

// Server accepts WebSocket connections and bridges them to the core as
// OPEN/CLOSE/MESSAGE events keyed by opaque handles. Send and CloseHandle
// are safe to call from any goroutine and never block on the network.
type Server struct {
	logger      *logrus.Logger
	sink        Sink
	subprotocol string

	next atomic.Uint64

	mu     sync.Mutex
	conns  map[Handle]*conn
	closed bool
}

// NewServer returns a transport that reports events for subprotocol-speaking
// clients to sink. sink may be nil at construction and supplied with
// SetSink before the handler is mounted.
func NewServer(logger *logrus.Logger, subprotocol string, sink Sink) *Server {
	return &Server{
		logger:      logger,
		sink:        sink,
		subprotocol: subprotocol,
		conns:       make(map[Handle]*conn),
	}
}

// SetSink installs the event consumer. Must be called before serving.
func (s *Server) SetSink(sink Sink) {
	s.sink = sink
}

// Handler returns the HTTP handler that upgrades connections and runs their
// read loop until closure.
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{s.subprotocol},
			OriginPatterns: []string{"*"}, // Adjust for production security.
		})
		if err != nil {
			s.logger.Warnf("websocket accept error from %s: %v", r.RemoteAddr, err)
			return
		}
		if ws.Subprotocol() != s.subprotocol {
			s.logger.Warnf("client %s connected with invalid subprotocol: %q", r.RemoteAddr, ws.Subprotocol())
			ws.Close(websocket.StatusPolicyViolation, "client must use the "+s.subprotocol+" subprotocol")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		c := &conn{
			ws:     ws,
			out:    make(chan outbound, outboundBuffer),
			cancel: cancel,
		}
		h := Handle(s.next.Add(1))

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			cancel()
			ws.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
		s.conns[h] = c
		s.mu.Unlock()

		s.logger.Debugf("connection %d open from %s", h, r.RemoteAddr)
		s.sink.HandleOpen(h)

		go s.writePump(ctx, h, c)
		s.readPump(ctx, h, c)

		s.mu.Lock()
		delete(s.conns, h)
		s.mu.Unlock()
		cancel()
		c.closeWS(websocket.StatusInternalError, "connection torn down")

		s.logger.Debugf("connection %d closed", h)
		s.sink.HandleClose(h)
	}
}

// readPump delivers inbound text frames to the sink until the connection
// dies or is closed.
func (s *Server) readPump(ctx context.Context, h Handle, c *conn) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				s.logger.Debugf("connection %d closed by peer", h)
			} else {
				s.logger.Debugf("read on connection %d ended: %v", h, err)
			}
			return
		}
		if typ != websocket.MessageText {
			s.logger.Debugf("connection %d sent non-text frame, ignoring", h)
			continue
		}
		s.sink.HandleMessage(h, data)
	}
}

// writePump drains the outbound queue, applying a per-write timeout so a
// stalled client cannot pin the goroutine.
func (s *Server) writePump(ctx context.Context, h Handle, c *conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.out:
			if msg.close {
				c.closeWS(websocket.StatusNormalClosure, msg.reason)
				c.cancel()
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, msg.data)
			cancel()
			if err != nil {
				s.logger.Debugf("write to connection %d failed: %v", h, err)
				return
			}
		}
	}
}

// Send queues a text frame for h. It never blocks: if the client's queue is
// full or the handle is gone the frame is dropped with a debug log, and the
// dead connection surfaces later as a CLOSE event.
func (s *Server) Send(h Handle, text string) error {
	s.mu.Lock()
	c, ok := s.conns[h]
	s.mu.Unlock()
	if !ok {
		s.logger.Debugf("send to unknown connection %d dropped", h)
		return nil
	}
	if c.closing.Load() {
		return nil
	}
	select {
	case c.out <- outbound{data: []byte(text)}:
	default:
		s.logger.Debugf("outbound queue full for connection %d, dropping frame", h)
	}
	return nil
}

// CloseHandle requests an orderly close of h with the given reason. Frames
// already queued for h are flushed first, unless the queue is full, in which
// case they are abandoned and h is closed directly. Safe to call for unknown
// handles.
func (s *Server) CloseHandle(h Handle, reason string) {
	s.mu.Lock()
	c, ok := s.conns[h]
	s.mu.Unlock()
	if !ok {
		return
	}
	if c.closing.Swap(true) {
		return
	}
	select {
	case c.out <- outbound{close: true, reason: reason}:
	default:
		// queue full: abandon the queued frames and close directly
		go func() {
			c.closeWS(websocket.StatusNormalClosure, reason)
			c.cancel()
		}()
	}
}

// Shutdown stops accepting new connections and closes every live one.
func (s *Server) Shutdown(reason string) {
	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.closeWS(websocket.StatusGoingAway, reason)
		c.cancel()
	}
}
