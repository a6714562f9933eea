// Package dispatch turns decoded client frames into lobby store operations
// and publishes the resulting frames through the hub. Host authority is
// checked here, not in the store.
package dispatch

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/DoyleJ11/karaoke-battle-backend/internal/engine"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/hub"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/lobby"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/songs"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/types"
)

var errSongNotFound = errors.New("song not found")

type Dispatcher struct {
	store   *lobby.Store
	hub     *hub.Hub
	library *songs.Library
	logger  *zap.Logger
}

func New(store *lobby.Store, h *hub.Hub, library *songs.Library, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{store: store, hub: h, library: library, logger: logger}
}

// HandleFrame processes one inbound frame from s. It never panics and never
// returns an error: failures become ERROR frames for s.
func (d *Dispatcher) HandleFrame(s *hub.Session, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic",
				zap.String("session", s.ID), zap.Any("panic", r), zap.Stack("stack"))
			d.sendError(s, types.CodeServerError, "internal error")
		}
	}()

	if !s.Allow() {
		d.logger.Warn("inbound rate exceeded, frame dropped", zap.String("session", s.ID))
		return
	}

	msg, err := types.Decode(data)
	if err != nil {
		code := types.CodeInvalidMessage
		if errors.Is(err, types.ErrUnknownMessage) {
			code = types.CodeUnknownMessage
		}
		d.sendError(s, code, err.Error())
		return
	}

	switch m := msg.(type) {
	case types.CreateLobby:
		d.createLobby(s, m)
	case types.JoinLobby:
		d.join(s, m.UserID, func(commit lobby.Commit) (lobby.Change, error) {
			return d.store.JoinByID(m.RoomID, m.UserID, m.UserName, commit)
		})
	case types.JoinByCode:
		d.join(s, m.UserID, func(commit lobby.Commit) (lobby.Change, error) {
			return d.store.JoinByCode(m.RoomCode, m.UserID, m.UserName, commit)
		})
	case types.SetReady:
		d.setReady(s, m)
	case types.SelectSong:
		d.selectSong(s, m)
	case types.StartBattle:
		d.startBattle(s, m)
	case types.PlayerLoaded:
		d.playerLoaded(s, m)
	case types.AudioChunk:
		d.audioChunk(m)
	case types.FinishBattle:
		d.finishBattle(s, m)
	case types.LeaveLobby:
		d.leaveLobby(s, m)
	case types.ReturnToLobby:
		d.returnToLobby(s, m)
	default:
		d.sendError(s, types.CodeUnknownMessage, fmt.Sprintf("unhandled message %s", msg.Kind()))
	}
}

// Disconnect runs once a session is gone. The bound user leaves its room
// unless another open session still represents it there.
func (d *Dispatcher) Disconnect(s *hub.Session) {
	userID, roomID := s.Unbind()
	if roomID == "" || d.hub.Bound(userID, roomID, s) {
		return
	}
	if err := d.leave(roomID, userID, types.ReasonDisconnect); err != nil {
		d.logger.Debug("disconnect leave", zap.String("roomId", roomID), zap.String("userId", userID), zap.Error(err))
	}
}

// createLobby and join leave the caller's previous room inside the same
// store step, so a rejected request changes nothing.
func (d *Dispatcher) createLobby(s *hub.Session, m types.CreateLobby) {
	var prevUser, prevRoom string
	_, err := d.store.CreateRoom(m.UserID, m.UserName, m.RoomName, m.MaxPlayers, func(c lobby.Change) {
		prevUser, prevRoom = s.Bind(m.UserID, c.Room.ID)
		d.departed(c.Left, m.UserID, types.ReasonManual)
		d.unicast(s, d.snapshot(c.Room))
	})
	if errors.Is(err, lobby.ErrCodeExhausted) {
		d.logger.Error("create room", zap.Error(err))
		d.sendError(s, types.CodeServerError, err.Error())
		return
	}
	if err != nil {
		d.fail(s, types.CodeJoinFailed, err)
		return
	}
	d.release(s, prevUser, prevRoom, m.UserID)
	d.logger.Info("room created", zap.String("userId", m.UserID), zap.String("roomName", m.RoomName))
}

func (d *Dispatcher) join(s *hub.Session, userID string, op func(lobby.Commit) (lobby.Change, error)) {
	var prevUser, prevRoom string
	_, err := op(func(c lobby.Change) {
		roomID := c.Room.ID
		prevUser, prevRoom = s.Bind(userID, roomID)
		d.departed(c.Left, userID, types.ReasonManual)
		d.unicast(s, d.snapshot(c.Room))
		if c.Joined {
			d.broadcastExcept(roomID, s, types.NewPlayerJoined(roomID, c.Room.Players[userID]))
		}
	})
	if err != nil {
		d.fail(s, types.CodeJoinFailed, err)
		return
	}
	d.release(s, prevUser, prevRoom, userID)
}

func (d *Dispatcher) setReady(s *hub.Session, m types.SetReady) {
	_, err := d.store.SetReady(m.RoomID, m.UserID, m.IsReady, func(lobby.Change) {
		d.broadcast(m.RoomID, types.NewPlayerReadyUpdate(m.RoomID, m.UserID, m.IsReady))
	})
	if err != nil {
		d.fail(s, types.CodeSetReadyError, err)
	}
}

func (d *Dispatcher) selectSong(s *hub.Session, m types.SelectSong) {
	song, ok := d.library.Current().Get(m.SongID)
	if !ok {
		d.fail(s, types.CodeSelectSongError, fmt.Errorf("%w: %s", errSongNotFound, m.SongID))
		return
	}
	_, err := d.store.SetSong(m.RoomID, song, hostOnly(m.UserID), func(c lobby.Change) {
		d.broadcast(m.RoomID, d.snapshot(c.Room))
	})
	if err != nil {
		d.fail(s, types.CodeSelectSongError, err)
	}
}

func (d *Dispatcher) startBattle(s *hub.Session, m types.StartBattle) {
	fallback := d.library.Current().First()
	_, err := d.store.StartBattle(m.RoomID, fallback, hostOnly(m.UserID), func(c lobby.Change) {
		d.broadcast(m.RoomID, types.NewPhaseChange(c.Room))
	})
	if err != nil {
		d.fail(s, types.CodeStartBattleError, err)
		return
	}
	d.logger.Info("battle loading", zap.String("roomId", m.RoomID))
}

// playerLoaded ignores reports outside LOADING: clients resend them freely.
func (d *Dispatcher) playerLoaded(s *hub.Session, m types.PlayerLoaded) {
	_, err := d.store.SetLoaded(m.RoomID, m.UserID, func(c lobby.Change) {
		if c.Started {
			d.broadcast(m.RoomID, types.NewPhaseChange(c.Room))
		}
	})
	switch {
	case err == nil:
	case errors.Is(err, lobby.ErrRoomNotFound):
		d.fail(s, types.CodeRoomNotFound, err)
	default:
		d.logger.Debug("player loaded ignored", zap.String("roomId", m.RoomID), zap.Error(err))
	}
}

func (d *Dispatcher) audioChunk(m types.AudioChunk) {
	if err := d.store.AppendChunk(m.RoomID, m.UserID, m.Timestamp, m.AudioData); err != nil {
		d.logger.Debug("audio chunk dropped",
			zap.String("roomId", m.RoomID), zap.String("userId", m.UserID), zap.Error(err))
	}
}

func (d *Dispatcher) finishBattle(s *hub.Session, m types.FinishBattle) {
	r, err := d.store.Room(m.RoomID)
	if err != nil {
		d.fail(s, types.CodeRoomNotFound, err)
		return
	}
	d.unicast(s, d.snapshot(r))
}

func (d *Dispatcher) leaveLobby(s *hub.Session, m types.LeaveLobby) {
	if u, r := s.Binding(); u == m.UserID && r == m.RoomID {
		s.Unbind()
	}
	err := d.leave(m.RoomID, m.UserID, types.ReasonManual)
	switch {
	case err == nil:
	case errors.Is(err, lobby.ErrRoomNotFound):
		d.fail(s, types.CodeRoomNotFound, err)
	default:
		d.logger.Debug("leave ignored", zap.String("roomId", m.RoomID), zap.Error(err))
	}
}

func (d *Dispatcher) returnToLobby(s *hub.Session, m types.ReturnToLobby) {
	guard := all(hostOnly(m.UserID), inPhase(engine.PhaseResults))
	_, err := d.store.Reset(m.RoomID, guard, func(c lobby.Change) {
		d.broadcast(m.RoomID, types.NewPhaseChange(c.Room))
		d.broadcast(m.RoomID, d.snapshot(c.Room))
	})
	if err != nil {
		d.fail(s, types.CodeReturnToLobbyError, err)
	}
}

func (d *Dispatcher) leave(roomID, userID string, reason types.LeaveReason) error {
	_, err := d.store.Leave(roomID, userID, func(c lobby.Change) {
		d.departed(&c, userID, reason)
	})
	return err
}

// departed publishes the frames for userID leaving c.Room. A nil change is a
// no-op.
func (d *Dispatcher) departed(c *lobby.Change, userID string, reason types.LeaveReason) {
	if c == nil {
		return
	}
	roomID := c.Room.ID
	if c.Deleted {
		d.logger.Info("room deleted", zap.String("roomId", roomID))
		return
	}
	d.broadcast(roomID, types.NewPlayerLeft(roomID, userID, reason))
	if c.HostChanged {
		d.broadcast(roomID, d.snapshot(c.Room))
	}
	if c.Started {
		d.broadcast(roomID, types.NewPhaseChange(c.Room))
	}
}

// release runs after a session was rebound to newUser. The user it stood for
// before leaves its room unless it was newUser itself, whom the store already
// moved, or another session still holds that seat.
func (d *Dispatcher) release(s *hub.Session, prevUser, prevRoom, newUser string) {
	if prevRoom == "" || prevUser == newUser || d.hub.Bound(prevUser, prevRoom, s) {
		return
	}
	if err := d.leave(prevRoom, prevUser, types.ReasonManual); err != nil {
		d.logger.Debug("release previous seat",
			zap.String("roomId", prevRoom), zap.String("userId", prevUser), zap.Error(err))
	}
}

func (d *Dispatcher) snapshot(r *engine.Room) types.LobbySnapshot {
	return types.NewLobbySnapshot(r, d.library.Current().Summaries())
}
