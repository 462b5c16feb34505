package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jarto666/scriptforge/internal/events"
	"github.com/jarto666/scriptforge/internal/logger"
)

// Session is one connected client. Its outbound path is a single writer
// goroutine fed by a buffered channel; bus handlers only enqueue and never
// block, so a publish in flight is unaffected by a slow or dying session.
type Session struct {
	id      string
	conn    *websocket.Conn
	gateway *Gateway
	send    chan events.Envelope
	done    chan struct{}

	mu    sync.Mutex
	joins map[string][]func() // batch id -> unsubscribe funcs

	closeOnce sync.Once
}

func newSession(id string, conn *websocket.Conn, g *Gateway) *Session {
	return &Session{
		id:      id,
		conn:    conn,
		gateway: g,
		send:    make(chan events.Envelope, g.cfg.SendBufferSize),
		done:    make(chan struct{}),
		joins:   make(map[string][]func()),
	}
}

// readPump consumes client ops until the connection drops, then tears the
// session down. Runs on the connection's handler goroutine.
func (s *Session) readPump() {
	defer s.close()

	pongWait := s.gateway.cfg.Heartbeat + 10*time.Second
	s.conn.SetReadLimit(1024)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var op events.ClientOp
		if err := s.conn.ReadJSON(&op); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.gateway.logger.WithField(logger.FieldSessionID, s.id).WithError(err).Debug("session read error")
			}
			return
		}

		switch op.Op {
		case events.OpJoin:
			if op.BatchID != "" {
				s.join(op.BatchID)
			}
		case events.OpLeave:
			if op.BatchID != "" {
				s.leave(op.BatchID)
			}
		default:
			s.gateway.logger.WithField(logger.FieldSessionID, s.id).Warn("unknown client op: " + op.Op)
		}
	}
}

// writePump serializes all writes to the connection and keeps it alive with
// pings. Exactly one writePump runs per session.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.gateway.cfg.Heartbeat)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case env := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

// join subscribes the session to both event kinds of a batch. Joining a batch
// the session already follows is a no-op.
func (s *Session) join(batchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, joined := s.joins[batchID]; joined {
		return
	}

	unsubs := make([]func(), 0, 2)
	for _, topic := range []events.Topic{events.ProgressTopic(batchID), events.CompletedTopic(batchID)} {
		topic := topic
		unsub := s.gateway.bus.Subscribe(topic, func(event interface{}) {
			s.forward(topic, event)
		})
		unsubs = append(unsubs, unsub)
	}
	s.joins[batchID] = unsubs

	s.gateway.logger.WithFields(logger.Fields{
		logger.FieldSessionID: s.id,
		logger.FieldBatchID:   batchID,
	}).Debug("session joined batch")
}

// leave drops the session's subscriptions for a batch. Idempotent.
func (s *Session) leave(batchID string) {
	s.mu.Lock()
	unsubs := s.joins[batchID]
	delete(s.joins, batchID)
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// forward is the bus handler: encode and enqueue without blocking. A session
// whose queue is full is dropped; per-connection delivery is best-effort and
// the client reconciles through the REST snapshot.
func (s *Session) forward(topic events.Topic, event interface{}) {
	env, err := events.NewEnvelope(topic, event)
	if err != nil {
		s.gateway.logger.WithError(err).Error("failed to encode event envelope")
		return
	}

	select {
	case s.send <- env:
	case <-s.done:
	default:
		s.gateway.logger.WithField(logger.FieldSessionID, s.id).Warn("session send queue full, dropping connection")
		go s.close()
	}
}

// close tears the session down exactly once: every batch subscription is
// removed from the bus (no dangling subscriptions survive a disconnect), the
// writer is stopped, and the session leaves the gateway registry.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		joins := s.joins
		s.joins = make(map[string][]func())
		s.mu.Unlock()

		for _, unsubs := range joins {
			for _, unsub := range unsubs {
				unsub()
			}
		}

		close(s.done)
		s.conn.Close()
		s.gateway.removeSession(s.id)

		s.gateway.logger.WithField(logger.FieldSessionID, s.id).Info("client session disconnected")
	})
}
