package engine

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/DoyleJ11/karaoke-battle-backend/internal/scoring"
)

type Standing struct {
	ID       string
	Name     string
	Score    int
	Accuracy float64
	Combo    int
	Position int
}

type ScoreUpdate struct {
	PlayerID string
	Score    int
	Accuracy float64
	Combo    int
}

type TickResult struct {
	Updates   []ScoreUpdate
	Ended     bool
	EndedAt   time.Time
	Standings []Standing
	Errors    []error
}

// Tick runs one scoring pass: every non-empty buffer is scored and drained,
// then the battle is ended if it ran past song duration plus grace.
func (r *Room) Tick(now time.Time, score scoring.Func) TickResult {
	var res TickResult
	if r.Phase != PhaseInBattle {
		return res
	}

	line := r.CurrentLine(now)
	for _, id := range r.Order {
		buf := r.Battle.Buffers[id]
		if buf == nil || len(buf.Chunks) == 0 {
			continue
		}
		batch := buf.Chunks
		buf.Chunks = nil
		buf.Calculated = true

		out, err := safeScore(score, batch, line, r)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("player %s: %w", id, err))
			continue
		}
		_ = r.ApplyScore(id, out)
		p := r.Players[id]
		res.Updates = append(res.Updates, ScoreUpdate{
			PlayerID: id,
			Score:    p.Score,
			Accuracy: p.Accuracy,
			Combo:    p.Combo,
		})
	}

	if r.Expired(now) {
		if err := r.EndBattle(); err != nil {
			res.Errors = append(res.Errors, err)
			return res
		}
		res.Ended = true
		res.EndedAt = now
		res.Standings = r.Standings()
	}
	return res
}

func safeScore(score scoring.Func, batch []scoring.Chunk, line int, r *Room) (out scoring.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("scorer panic: %v", rec)
		}
	}()
	return score(batch, line, r.Battle.Song), nil
}

// Standings ranks players by score, ties keep join order.
func (r *Room) Standings() []Standing {
	out := make([]Standing, 0, len(r.Order))
	for _, id := range r.Order {
		p := r.Players[id]
		out = append(out, Standing{ID: p.ID, Name: p.Name, Score: p.Score, Accuracy: p.Accuracy, Combo: p.Combo})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	for i := range out {
		out[i].Position = i + 1
	}
	return out
}

// OrderedPlayers returns the players in join order.
func (r *Room) OrderedPlayers() []*Player {
	out := make([]*Player, 0, len(r.Order))
	for _, id := range r.Order {
		out = append(out, r.Players[id])
	}
	return out
}

// Clone returns a deep copy safe to hand to readers outside the room lock.
// Songs are immutable and shared.
func (r *Room) Clone() *Room {
	c := *r
	c.Players = make(map[string]*Player, len(r.Players))
	for id, p := range r.Players {
		cp := *p
		c.Players[id] = &cp
	}
	c.Order = slices.Clone(r.Order)
	c.Battle.Buffers = make(map[string]*AudioBuffer, len(r.Battle.Buffers))
	for id, b := range r.Battle.Buffers {
		c.Battle.Buffers[id] = &AudioBuffer{Chunks: slices.Clone(b.Chunks), Calculated: b.Calculated}
	}
	return &c
}

// Validate checks the room-local invariants.
func (r *Room) Validate() error {
	var errs []error
	if len(r.Order) != len(r.Players) {
		errs = append(errs, fmt.Errorf("order has %d ids but %d players", len(r.Order), len(r.Players)))
	}
	for _, id := range r.Order {
		if _, ok := r.Players[id]; !ok {
			errs = append(errs, fmt.Errorf("order references missing player %s", id))
		}
	}
	if len(r.Players) > 0 {
		if _, ok := r.Players[r.HostID]; !ok {
			errs = append(errs, fmt.Errorf("host %q not in room", r.HostID))
		}
		hosts := 0
		for _, p := range r.Players {
			if p.IsHost {
				hosts++
				if p.ID != r.HostID {
					errs = append(errs, fmt.Errorf("player %s flagged host but host is %s", p.ID, r.HostID))
				}
			}
		}
		if hosts != 1 {
			errs = append(errs, fmt.Errorf("%d players flagged host", hosts))
		}
	}
	if r.Phase == PhaseInBattle {
		if r.Battle.StartAt.IsZero() {
			errs = append(errs, errors.New("in battle without a start time"))
		}
		if r.Battle.Song == nil {
			errs = append(errs, errors.New("in battle without a song"))
		}
	}
	if len(r.Players) > r.MaxPlayers {
		errs = append(errs, fmt.Errorf("%d players exceeds max %d", len(r.Players), r.MaxPlayers))
	}
	return errors.Join(errs...)
}
