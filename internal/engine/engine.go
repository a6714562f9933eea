package engine

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/DoyleJ11/karaoke-battle-backend/internal/scoring"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/songs"
)

var ErrRoomFull = errors.New("room full")
var ErrWrongPhase = errors.New("not allowed in current phase")
var ErrNotAllReady = errors.New("not all players are ready")
var ErrNoSong = errors.New("no song available")
var ErrPlayerNotFound = errors.New("player not in room")
var ErrNotHost = errors.New("only the host can do that")
var ErrLateChunk = errors.New("audio chunk outside accepted window")

const (
	DefaultMaxPlayers = 4

	// StartDelay is the countdown between the loading gate passing and
	// playback starting on every client.
	StartDelay = 3 * time.Second
	// BattleGrace is added to the song duration before the battle is
	// force-ended.
	BattleGrace = 5 * time.Second
	// ChunkSlack bounds how far outside [0, elapsed] a chunk timestamp may be.
	ChunkSlack = time.Second
)

type Player struct {
	ID          string
	Name        string
	Ready       bool
	IsHost      bool
	Connected   bool
	Loaded      bool
	Score       int
	Combo       int
	Accuracy    float64
	LastAudioAt time.Time // zero until the first chunk
}

type AudioBuffer struct {
	Chunks     []scoring.Chunk
	Calculated bool
}

type Battle struct {
	StartAt time.Time // zero until every connected player has loaded
	Song    *songs.Song
	Buffers map[string]*AudioBuffer
}

// Room is the aggregate the lobby store guards. Methods mutate in place and
// either fully apply or return an error without touching the room.
type Room struct {
	ID         string
	Code       string
	Name       string
	HostID     string
	MaxPlayers int
	CreatedAt  time.Time
	Phase      Phase
	Version    int // bumped on every commit that changes the room

	Players map[string]*Player
	Order   []string // join order, used for host succession and tiebreaks

	Battle Battle
}

func NewRoom(id, code, name string, maxPlayers int, hostID, hostName string, now time.Time) *Room {
	if maxPlayers <= 0 {
		maxPlayers = DefaultMaxPlayers
	}
	r := &Room{
		ID:         id,
		Code:       code,
		Name:       name,
		HostID:     hostID,
		MaxPlayers: maxPlayers,
		CreatedAt:  now,
		Phase:      PhaseLobby,
		Players:    make(map[string]*Player, maxPlayers),
		Battle:     Battle{Buffers: map[string]*AudioBuffer{}},
	}
	r.Players[hostID] = &Player{ID: hostID, Name: hostName, IsHost: true, Connected: true}
	r.Order = append(r.Order, hostID)
	return r
}

// Join adds a player. Joining twice is a no-op and reports joined=false.
func (r *Room) Join(id, name string) (bool, error) {
	if _, ok := r.Players[id]; ok {
		return false, nil
	}
	if len(r.Players) >= r.MaxPlayers {
		return false, ErrRoomFull
	}
	r.Players[id] = &Player{ID: id, Name: name, Connected: true}
	r.Order = append(r.Order, id)
	return true, nil
}

// Remove deletes a player and promotes the earliest remaining player when
// the host leaves.
func (r *Room) Remove(id string) (hostChanged bool, err error) {
	p, ok := r.Players[id]
	if !ok {
		return false, ErrPlayerNotFound
	}
	delete(r.Players, id)
	delete(r.Battle.Buffers, id)
	r.Order = slices.DeleteFunc(slices.Clone(r.Order), func(o string) bool { return o == id })

	if len(r.Order) == 0 {
		r.HostID = ""
		return false, nil
	}
	if p.IsHost || r.HostID == id {
		next := r.Players[r.Order[0]]
		next.IsHost = true
		r.HostID = next.ID
		return true, nil
	}
	return false, nil
}

func (r *Room) Empty() bool { return len(r.Players) == 0 }

func (r *Room) IsHost(id string) bool { return id != "" && r.HostID == id }

func (r *Room) SetReady(id string, ready bool) error {
	if r.Phase != PhaseLobby {
		return ErrWrongPhase
	}
	p, ok := r.Players[id]
	if !ok {
		return ErrPlayerNotFound
	}
	p.Ready = ready
	return nil
}

func (r *Room) SetSong(s *songs.Song) error {
	if r.Phase != PhaseLobby {
		return ErrWrongPhase
	}
	if s == nil {
		return ErrNoSong
	}
	r.Battle.Song = s
	return nil
}

// StartBattle moves LOBBY -> LOADING. The host's selection wins over
// fallback.
func (r *Room) StartBattle(fallback *songs.Song) error {
	if err := r.transition(PhaseLoading); err != nil {
		return err
	}
	song := r.Battle.Song
	if song == nil {
		song = fallback
	}
	if song == nil {
		return ErrNoSong
	}
	for _, p := range r.Players {
		if !p.Ready {
			return ErrNotAllReady
		}
	}

	r.Phase = PhaseLoading
	r.Battle = Battle{Song: song, Buffers: map[string]*AudioBuffer{}}
	for _, p := range r.Players {
		p.Score, p.Combo, p.Accuracy, p.Loaded = 0, 0, 0, false
		p.LastAudioAt = time.Time{}
	}
	return nil
}

// MarkLoaded records that a player finished preloading and reports whether
// this call moved the room into IN_BATTLE.
func (r *Room) MarkLoaded(id string, now time.Time) (bool, error) {
	if r.Phase != PhaseLoading {
		return false, ErrWrongPhase
	}
	p, ok := r.Players[id]
	if !ok {
		return false, ErrPlayerNotFound
	}
	p.Loaded = true
	return r.StartIfLoaded(now), nil
}

// AllLoaded is true iff every connected player has loaded.
func (r *Room) AllLoaded() bool {
	connected := 0
	for _, p := range r.Players {
		if !p.Connected {
			continue
		}
		connected++
		if !p.Loaded {
			return false
		}
	}
	return connected > 0
}

// StartIfLoaded schedules playback once the loading gate passes.
func (r *Room) StartIfLoaded(now time.Time) bool {
	if r.Phase != PhaseLoading || !r.AllLoaded() {
		return false
	}
	r.Phase = PhaseInBattle
	r.Battle.StartAt = now.Add(StartDelay)
	return true
}

// Elapsed is negative during the start countdown.
func (r *Room) Elapsed(now time.Time) time.Duration {
	if r.Battle.StartAt.IsZero() {
		return 0
	}
	return now.Sub(r.Battle.StartAt)
}

func (r *Room) AppendChunk(id string, ts int64, payload string, now time.Time) error {
	if r.Phase != PhaseInBattle {
		return ErrWrongPhase
	}
	p, ok := r.Players[id]
	if !ok {
		return ErrPlayerNotFound
	}
	elapsed := r.Elapsed(now).Milliseconds()
	slack := ChunkSlack.Milliseconds()
	if ts < -slack || ts > elapsed+slack {
		return fmt.Errorf("%w: ts=%d elapsed=%d", ErrLateChunk, ts, elapsed)
	}

	buf := r.Battle.Buffers[id]
	if buf == nil {
		buf = &AudioBuffer{}
		r.Battle.Buffers[id] = buf
	}
	buf.Chunks = append(buf.Chunks, scoring.Chunk{Timestamp: ts, Payload: payload})
	buf.Calculated = false
	p.LastAudioAt = now
	return nil
}

// ApplyScore folds one scored batch into the player's running totals.
func (r *Room) ApplyScore(id string, res scoring.Result) error {
	p, ok := r.Players[id]
	if !ok {
		return ErrPlayerNotFound
	}
	if res.Delta > 0 {
		p.Score += res.Delta
	}
	if res.Hits > 0 {
		p.Combo += res.Hits
	}
	if p.Accuracy == 0 {
		p.Accuracy = res.Accuracy
	} else {
		p.Accuracy = 0.9*p.Accuracy + 0.1*res.Accuracy
	}
	return nil
}

func (r *Room) CurrentLine(now time.Time) int {
	if r.Battle.Song == nil {
		return 0
	}
	return r.Battle.Song.LineAt(r.Elapsed(now).Milliseconds())
}

// Expired reports whether the battle ran past the song plus grace.
func (r *Room) Expired(now time.Time) bool {
	if r.Phase != PhaseInBattle || r.Battle.Song == nil {
		return false
	}
	return r.Elapsed(now) > r.Battle.Song.TotalDuration()+BattleGrace
}

func (r *Room) EndBattle() error {
	if err := r.transition(PhaseResults); err != nil {
		return err
	}
	r.Phase = PhaseResults
	return nil
}

// Reset returns the room to LOBBY, dropping the battle block, scores and
// ready flags.
func (r *Room) Reset() {
	r.Phase = PhaseLobby
	r.Battle = Battle{Buffers: map[string]*AudioBuffer{}}
	for _, p := range r.Players {
		p.Ready, p.Loaded = false, false
		p.Score, p.Combo, p.Accuracy = 0, 0, 0
		p.LastAudioAt = time.Time{}
	}
}

func (r *Room) transition(to Phase) error {
	if !CanTransition(r.Phase, to) {
		return fmt.Errorf("%w: %s -> %s", ErrWrongPhase, r.Phase, to)
	}
	return nil
}
