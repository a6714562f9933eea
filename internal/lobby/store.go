package lobby

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/DoyleJ11/karaoke-battle-backend/internal/engine"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/scoring"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/songs"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrCodeExhausted = errors.New("could not allocate a unique room code")
)

const DefaultMaxPlayersCap = 8

// Change describes one committed mutation. Room is a private copy of the
// room as committed.
type Change struct {
	Room        *engine.Room
	Joined      bool
	HostChanged bool
	Started     bool // LOADING -> IN_BATTLE happened in this commit
	Deleted     bool
	Tick        engine.TickResult
	// Left is the departure from the user's previous room when a create or
	// join moved them. Both rooms publish through the same Commit.
	Left *Change

	bump bool
}

// Commit receives every committed change for a room in commit order. It runs
// after the room's write lock is released, so it may do slow work, but the
// next change for the same room waits until it returns.
type Commit func(c Change)

// Guard is checked under the room's write lock before a mutation. Guards
// must not modify the room.
type Guard func(r *engine.Room) error

type entry struct {
	mu      sync.Mutex // write lock for room
	emit    sync.Mutex // held from commit until the Commit callback returns
	room    *engine.Room
	deleted bool
}

// Store owns every room and the three indices: room id -> room,
// room code -> room id, user id -> room id. Index changes happen under mu
// together with the room mutation they reflect. Lock order is
// mu -> entry.mu -> entry.emit.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]*entry
	codes map[string]string
	users map[string]string

	clock   clockwork.Clock
	maxCap  int
	genCode func() (string, error)
	genID   func() string
}

type Option func(*Store)

func WithClock(c clockwork.Clock) Option { return func(s *Store) { s.clock = c } }

func WithCodeGenerator(fn func() (string, error)) Option {
	return func(s *Store) { s.genCode = fn }
}

func WithIDGenerator(fn func() string) Option { return func(s *Store) { s.genID = fn } }

func WithMaxPlayersCap(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxCap = n
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		rooms:   make(map[string]*entry),
		codes:   make(map[string]string),
		users:   make(map[string]string),
		clock:   clockwork.NewRealClock(),
		maxCap:  DefaultMaxPlayersCap,
		genCode: GenerateCode,
		genID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRoom opens a room hosted by hostID. A host already seated elsewhere
// is moved out of that room in the same step; Change.Left carries the
// departure.
func (s *Store) CreateRoom(hostID, hostName, roomName string, maxPlayers int, commit Commit) (Change, error) {
	var e, prev *entry
	c, err := func() (Change, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		code, err := s.uniqueCode()
		if err != nil {
			return Change{}, err
		}
		now := s.clock.Now()
		var left *Change
		prev, left = s.detach(hostID, "", now)

		room := engine.NewRoom(s.genID(), code, roomName, s.clampPlayers(maxPlayers), hostID, hostName, now)
		e = &entry{room: room}
		s.rooms[room.ID] = e
		s.codes[code] = room.ID
		s.users[hostID] = room.ID

		return s.handoff(e, Change{Joined: true, Left: left, bump: true}), nil
	}()
	if err != nil {
		return Change{}, err
	}
	return s.publish(c, commit, e, prev), nil
}

// JoinByID adds a user to a room. A user already in the room gets the room
// back unchanged with Joined=false. A user seated in another room is moved
// only once the join is known to succeed.
func (s *Store) JoinByID(roomID, userID, name string, commit Commit) (Change, error) {
	var e, prev *entry
	c, err := func() (Change, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		var ok bool
		if e, ok = s.rooms[roomID]; !ok {
			return Change{}, ErrRoomNotFound
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		joined, err := e.room.Join(userID, name)
		if err != nil {
			return Change{}, err
		}
		var left *Change
		if joined {
			prev, left = s.detach(userID, roomID, s.clock.Now())
			s.users[userID] = roomID
		}
		return s.handoff(e, Change{Joined: joined, Left: left, bump: joined}), nil
	}()
	if err != nil {
		return Change{}, err
	}
	return s.publish(c, commit, e, prev), nil
}

func (s *Store) JoinByCode(code, userID, name string, commit Commit) (Change, error) {
	roomID, ok := s.RoomIDByCode(code)
	if !ok {
		return Change{}, ErrRoomNotFound
	}
	return s.JoinByID(roomID, userID, name, commit)
}

// Leave removes a user. The last player out deletes the room and its
// indices in the same step. A departure during LOADING re-checks the
// loading gate.
func (s *Store) Leave(roomID, userID string, commit Commit) (Change, error) {
	var e *entry
	c, err := func() (Change, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		var ok bool
		if e, ok = s.rooms[roomID]; !ok {
			return Change{}, ErrRoomNotFound
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		c, err := s.remove(e, userID, s.clock.Now())
		if err != nil {
			return Change{}, err
		}
		return s.handoff(e, c), nil
	}()
	if err != nil {
		return Change{}, err
	}
	return s.publish(c, commit, e), nil
}

func (s *Store) SetReady(roomID, userID string, ready bool, commit Commit) (Change, error) {
	return s.mutate(roomID, nil, commit, func(r *engine.Room, _ time.Time) (Change, error) {
		return Change{bump: true}, r.SetReady(userID, ready)
	})
}

func (s *Store) SetSong(roomID string, song *songs.Song, guard Guard, commit Commit) (Change, error) {
	return s.mutate(roomID, guard, commit, func(r *engine.Room, _ time.Time) (Change, error) {
		return Change{bump: true}, r.SetSong(song)
	})
}

// StartBattle plays the room's selected song, or fallback when none is
// selected.
func (s *Store) StartBattle(roomID string, fallback *songs.Song, guard Guard, commit Commit) (Change, error) {
	return s.mutate(roomID, guard, commit, func(r *engine.Room, _ time.Time) (Change, error) {
		return Change{bump: true}, r.StartBattle(fallback)
	})
}

func (s *Store) SetLoaded(roomID, userID string, commit Commit) (Change, error) {
	return s.mutate(roomID, nil, commit, func(r *engine.Room, now time.Time) (Change, error) {
		started, err := r.MarkLoaded(userID, now)
		return Change{Started: started, bump: true}, err
	})
}

// AppendChunk buffers audio for the next scoring tick. Nothing is
// published.
func (s *Store) AppendChunk(roomID, userID string, ts int64, payload string) error {
	_, err := s.mutate(roomID, nil, nil, func(r *engine.Room, now time.Time) (Change, error) {
		return Change{}, r.AppendChunk(userID, ts, payload, now)
	})
	return err
}

func (s *Store) Reset(roomID string, guard Guard, commit Commit) (Change, error) {
	return s.mutate(roomID, guard, commit, func(r *engine.Room, _ time.Time) (Change, error) {
		r.Reset()
		return Change{bump: true}, nil
	})
}

// ScoreTick runs one scoring pass over a room. Rooms not in battle commit an
// empty tick.
func (s *Store) ScoreTick(roomID string, score scoring.Func, commit Commit) (Change, error) {
	return s.mutate(roomID, nil, commit, func(r *engine.Room, now time.Time) (Change, error) {
		t := r.Tick(now, score)
		return Change{Tick: t, bump: len(t.Updates) > 0 || t.Ended}, nil
	})
}

func (s *Store) Room(roomID string) (*engine.Room, error) {
	s.mu.RLock()
	e, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, ErrRoomNotFound
	}
	return e.room.Clone(), nil
}

func (s *Store) RoomIDByCode(code string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[code]
	return id, ok
}

func (s *Store) RoomOf(userID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.users[userID]
	return id, ok
}

// RoomIDs lists live rooms currently in phase.
func (s *Store) RoomIDs(phase engine.Phase) []string {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.rooms))
	for _, e := range s.rooms {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var ids []string
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted && e.room.Phase == phase {
			ids = append(ids, e.room.ID)
		}
		e.mu.Unlock()
	}
	return ids
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// CheckInvariants verifies the indices against every room. It stops the
// world and is meant for tests and debugging.
func (s *Store) CheckInvariants() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if len(s.codes) != len(s.rooms) {
		errs = append(errs, fmt.Errorf("%d codes for %d rooms", len(s.codes), len(s.rooms)))
	}
	players := 0
	for id, e := range s.rooms {
		e.mu.Lock()
		r := e.room
		if r.ID != id {
			errs = append(errs, fmt.Errorf("room %s indexed under %s", r.ID, id))
		}
		if r.Empty() {
			errs = append(errs, fmt.Errorf("room %s is empty but indexed", id))
		}
		if s.codes[r.Code] != id {
			errs = append(errs, fmt.Errorf("code %s does not point at room %s", r.Code, id))
		}
		for pid := range r.Players {
			players++
			if s.users[pid] != id {
				errs = append(errs, fmt.Errorf("user %s in room %s but indexed to %q", pid, id, s.users[pid]))
			}
		}
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("room %s: %w", id, err))
		}
		e.mu.Unlock()
	}
	if players != len(s.users) {
		errs = append(errs, fmt.Errorf("%d indexed users but %d players", len(s.users), players))
	}
	return errors.Join(errs...)
}

func (s *Store) mutate(roomID string, guard Guard, commit Commit, fn func(r *engine.Room, now time.Time) (Change, error)) (Change, error) {
	s.mu.RLock()
	e, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok {
		return Change{}, ErrRoomNotFound
	}

	c, err := func() (Change, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.deleted {
			return Change{}, ErrRoomNotFound
		}
		if guard != nil {
			if err := guard(e.room); err != nil {
				return Change{}, err
			}
		}
		c, err := fn(e.room, s.clock.Now())
		if err != nil {
			return Change{}, err
		}
		return s.handoff(e, c), nil
	}()
	if err != nil {
		return Change{}, err
	}
	return s.publish(c, commit, e), nil
}

// remove takes userID out of e's room and drops the room once empty. It must
// be called with s.mu and e.mu held.
func (s *Store) remove(e *entry, userID string, now time.Time) (Change, error) {
	hostChanged, err := e.room.Remove(userID)
	if err != nil {
		return Change{}, err
	}
	if s.users[userID] == e.room.ID {
		delete(s.users, userID)
	}

	c := Change{HostChanged: hostChanged, bump: true}
	if e.room.Empty() {
		delete(s.rooms, e.room.ID)
		delete(s.codes, e.room.Code)
		e.deleted = true
		c.Deleted = true
	} else {
		c.Started = e.room.StartIfLoaded(now)
	}
	return c, nil
}

// detach moves userID out of the room it is indexed to unless that room is
// keep. It must be called with s.mu held. When a room was left, its entry is
// returned with the emit lock held.
func (s *Store) detach(userID, keep string, now time.Time) (*entry, *Change) {
	roomID, ok := s.users[userID]
	if !ok || roomID == keep {
		return nil, nil
	}
	e, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	c, err := s.remove(e, userID, now)
	if err != nil {
		return nil, nil
	}
	c = s.handoff(e, c)
	return e, &c
}

// handoff must be called with e.mu held. It bumps the version when the
// change touched the room, snapshots it and takes the emit lock before the
// caller releases the write lock.
func (s *Store) handoff(e *entry, c Change) Change {
	if c.bump {
		e.room.Version++
	}
	c.Room = e.room.Clone()
	e.emit.Lock()
	return c
}

// publish runs commit and then releases the emit lock of every held entry.
func (s *Store) publish(c Change, commit Commit, held ...*entry) Change {
	defer func() {
		for _, e := range held {
			if e != nil {
				e.emit.Unlock()
			}
		}
	}()
	if commit != nil {
		commit(c)
	}
	return c
}

func (s *Store) uniqueCode() (string, error) {
	for range maxCodeAttempts {
		code, err := s.genCode()
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		if _, taken := s.codes[code]; !taken {
			return code, nil
		}
	}
	return "", ErrCodeExhausted
}

func (s *Store) clampPlayers(n int) int {
	if n <= 0 {
		n = engine.DefaultMaxPlayers
	}
	return min(n, s.maxCap)
}
