package hub

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	ReasonOverflow = "send queue overflow"
	ReasonStale    = "liveness check failed"
	ReasonShutdown = "server shutting down"
)

type Config struct {
	QueueSize        int
	WriteTimeout     time.Duration
	LivenessInterval time.Duration
	InboundRate      float64 // frames per second, <= 0 disables limiting
	InboundBurst     int
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = 30 * time.Second
	}
	return c
}

// Hub tracks live sessions and fans messages out to them. Sends never
// block: a session whose queue is full gets disconnected.
type Hub struct {
	cfg    Config
	clock  clockwork.Clock
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	onEvict  func(*Session)
}

func New(cfg Config, clock clockwork.Clock, logger *zap.Logger) *Hub {
	return &Hub{
		cfg:      cfg.withDefaults(),
		clock:    clock,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// OnEvict sets the callback run once per session after it is removed.
// Set it before any session registers.
func (h *Hub) OnEvict(fn func(*Session)) { h.onEvict = fn }

func (h *Hub) Register(t Transport) *Session {
	s := newSession(t, h.cfg, h.clock)
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	h.logger.Debug("session registered", zap.String("session", s.ID))
	return s
}

// Serve is the session's write pump. It returns when the session is
// evicted, ctx ends or a write fails, and evicts the session on the way out.
func (h *Hub) Serve(ctx context.Context, s *Session) {
	defer h.Evict(s, "writer stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case msg := <-s.out:
			wctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
			err := s.t.Write(wctx, msg)
			cancel()
			if err != nil {
				h.logger.Debug("write failed", zap.String("session", s.ID), zap.Error(err))
				return
			}
		}
	}
}

// Evict removes a session and closes its transport. Only the first call
// for a session has any effect.
func (h *Hub) Evict(s *Session, reason string) {
	s.evictOnce.Do(func() {
		h.mu.Lock()
		delete(h.sessions, s.ID)
		close(s.done)
		h.mu.Unlock()

		if err := s.t.Close(reason); err != nil {
			h.logger.Debug("close transport", zap.String("session", s.ID), zap.Error(err))
		}
		h.logger.Info("session closed", zap.String("session", s.ID), zap.String("reason", reason))

		if h.onEvict != nil {
			h.onEvict(s)
		}
	})
}

// Unicast queues data for one session.
func (h *Hub) Unicast(s *Session, data []byte) {
	if !s.enqueue(data) {
		h.overflow(s)
	}
}

func (h *Hub) Broadcast(roomID string, data []byte) {
	h.BroadcastExcept(roomID, nil, data)
}

// BroadcastExcept queues data for every session bound to roomID other than
// except.
func (h *Hub) BroadcastExcept(roomID string, except *Session, data []byte) {
	h.mu.RLock()
	var slow []*Session
	for _, s := range h.sessions {
		if s == except {
			continue
		}
		if _, r := s.Binding(); r != roomID {
			continue
		}
		if !s.enqueue(data) {
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.overflow(s)
	}
}

// Bound reports whether any session other than except is bound to
// (userID, roomID).
func (h *Hub) Bound(userID, roomID string, except *Session) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		if s == except {
			continue
		}
		if u, r := s.Binding(); u == userID && r == roomID {
			return true
		}
	}
	return false
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Sweep evicts sessions that did not answer the previous ping and pings
// the rest.
func (h *Hub) Sweep(ctx context.Context) {
	for _, s := range h.snapshot() {
		if !s.alive.Swap(false) {
			// closing a dead peer can wait out the close handshake
			go h.Evict(s, ReasonStale)
			continue
		}
		go func() {
			pctx, cancel := context.WithTimeout(ctx, h.cfg.LivenessInterval)
			defer cancel()
			if err := s.t.Ping(pctx); err == nil {
				s.MarkAlive()
			}
		}()
	}
}

// Run sweeps on every liveness interval until ctx ends, then closes every
// session.
func (h *Hub) Run(ctx context.Context) error {
	ticker := h.clock.NewTicker(h.cfg.LivenessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			for _, s := range h.snapshot() {
				h.Evict(s, ReasonShutdown)
			}
			return nil
		case <-ticker.Chan():
			h.Sweep(ctx)
		}
	}
}

// overflow runs eviction on its own goroutine: callers may hold a room's
// emit lock, and eviction leaves that room.
func (h *Hub) overflow(s *Session) {
	h.logger.Warn("dropping slow session", zap.String("session", s.ID))
	go h.Evict(s, ReasonOverflow)
}

func (h *Hub) snapshot() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}
