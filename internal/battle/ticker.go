// Package battle drives the scoring tick: on a fixed cadence every room in
// battle has its audio buffers scored and is ended once the song plus grace
// has run out.
package battle

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/karaoke-battle-backend/internal/engine"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/lobby"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/scoring"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/types"
)

const DefaultInterval = 500 * time.Millisecond

type Broadcaster interface {
	Broadcast(roomID string, data []byte)
}

type Ticker struct {
	store    *lobby.Store
	out      Broadcaster
	score    scoring.Func
	clock    clockwork.Clock
	interval time.Duration
	logger   *zap.Logger
}

func NewTicker(store *lobby.Store, out Broadcaster, score scoring.Func, clock clockwork.Clock, interval time.Duration, logger *zap.Logger) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Ticker{
		store:    store,
		out:      out,
		score:    score,
		clock:    clock,
		interval: interval,
		logger:   logger,
	}
}

// Run ticks until ctx ends. Missed ticks are not replayed; the next tick
// scores whatever accumulated.
func (t *Ticker) Run(ctx context.Context) error {
	tk := t.clock.NewTicker(t.interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.Chan():
			t.Tick()
		}
	}
}

func (t *Ticker) Tick() {
	for _, roomID := range t.store.RoomIDs(engine.PhaseInBattle) {
		_, err := t.store.ScoreTick(roomID, t.score, t.publish)
		if err != nil && !errors.Is(err, lobby.ErrRoomNotFound) {
			t.logger.Error("score tick", zap.String("roomId", roomID), zap.Error(err))
		}
	}
}

func (t *Ticker) publish(c lobby.Change) {
	r := c.Room
	for _, err := range c.Tick.Errors {
		t.logger.Error("scorer failed", zap.String("roomId", r.ID), zap.Error(err))
	}
	for _, u := range c.Tick.Updates {
		t.send(r.ID, types.NewPlayerScoreUpdate(r.ID, u))
	}
	if c.Tick.Ended {
		t.logger.Info("battle ended", zap.String("roomId", r.ID), zap.Int("players", len(c.Tick.Standings)))
		t.send(r.ID, types.NewBattleResults(r.ID, c.Tick.Standings, c.Tick.EndedAt.UnixMilli()))
		t.send(r.ID, types.NewPhaseChange(r))
	}
}

func (t *Ticker) send(roomID string, v any) {
	data, err := types.Encode(v)
	if err != nil {
		t.logger.Error("encode frame", zap.Error(err))
		return
	}
	t.out.Broadcast(roomID, data)
}
