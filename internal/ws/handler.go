package ws

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/karaoke-battle-backend/internal/hub"
)

const DefaultReadLimit = 1 << 20

// FrameHandler consumes inbound frames. Text and binary frames are passed
// through alike.
type FrameHandler interface {
	HandleFrame(s *hub.Session, data []byte)
}

type Options struct {
	// OriginPatterns are host patterns accepted for cross-origin upgrades.
	// Empty accepts any origin.
	OriginPatterns []string
	ReadLimit      int64
}

type transport struct {
	conn *websocket.Conn
}

func (t *transport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *transport) Ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

func (t *transport) Close(reason string) error {
	return t.conn.Close(websocket.StatusNormalClosure, reason)
}

func Handler(h *hub.Hub, frames FrameHandler, opts Options, logger *zap.Logger) http.HandlerFunc {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = DefaultReadLimit
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns:     opts.OriginPatterns,
			InsecureSkipVerify: len(opts.OriginPatterns) == 0,
		})
		if err != nil {
			logger.Debug("websocket accept", zap.Error(err))
			return
		}
		conn.SetReadLimit(opts.ReadLimit)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		s := h.Register(&transport{conn: conn})
		defer h.Evict(s, "connection closed")

		// Writer goroutine
		go h.Serve(ctx, s)

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if !errors.Is(err, context.Canceled) {
						logger.Debug("read failed", zap.String("session", s.ID), zap.Error(err))
					}
				}
				return
			}
			frames.HandleFrame(s, data)
		}
	}
}
