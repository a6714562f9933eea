package hub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// Transport is the raw connection under a session.
type Transport interface {
	Write(ctx context.Context, data []byte) error
	// Ping returns once the peer answered or ctx expired.
	Ping(ctx context.Context) error
	Close(reason string) error
}

// Session is one live connection. It is bound to at most one (user, room)
// pair at a time.
type Session struct {
	ID string

	t         Transport
	out       chan []byte
	done      chan struct{}
	evictOnce sync.Once
	alive     atomic.Bool
	limiter   *rate.Limiter
	clock     clockwork.Clock

	mu     sync.Mutex
	userID string
	roomID string
}

func newSession(t Transport, cfg Config, clock clockwork.Clock) *Session {
	limit := rate.Inf
	if cfg.InboundRate > 0 {
		limit = rate.Limit(cfg.InboundRate)
	}
	s := &Session{
		ID:      uuid.NewString(),
		t:       t,
		out:     make(chan []byte, cfg.QueueSize),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(limit, max(cfg.InboundBurst, 1)),
		clock:   clock,
	}
	s.alive.Store(true)
	return s
}

// Bind records the session's current membership and returns the previous
// one.
func (s *Session) Bind(userID, roomID string) (prevUser, prevRoom string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prevUser, prevRoom = s.userID, s.roomID
	s.userID, s.roomID = userID, roomID
	return prevUser, prevRoom
}

func (s *Session) Unbind() (userID, roomID string) {
	return s.Bind("", "")
}

func (s *Session) Binding() (userID, roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.roomID
}

// Allow reports whether one more inbound frame fits the session's rate.
func (s *Session) Allow() bool {
	return s.limiter.AllowN(s.clock.Now(), 1)
}

func (s *Session) MarkAlive() { s.alive.Store(true) }

func (s *Session) Done() <-chan struct{} { return s.done }

// enqueue never blocks. It reports false when the queue is full.
func (s *Session) enqueue(data []byte) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.out <- data:
		return true
	default:
		return false
	}
}
