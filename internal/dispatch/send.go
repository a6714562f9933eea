package dispatch

import (
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/karaoke-battle-backend/internal/engine"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/hub"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/lobby"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/types"
)

func hostOnly(userID string) lobby.Guard {
	return func(r *engine.Room) error {
		if !r.IsHost(userID) {
			return engine.ErrNotHost
		}
		return nil
	}
}

func inPhase(p engine.Phase) lobby.Guard {
	return func(r *engine.Room) error {
		if r.Phase != p {
			return engine.ErrWrongPhase
		}
		return nil
	}
}

func all(guards ...lobby.Guard) lobby.Guard {
	return func(r *engine.Room) error {
		for _, g := range guards {
			if err := g(r); err != nil {
				return err
			}
		}
		return nil
	}
}

// fail maps a store error to an ERROR frame. A missing room always reports
// ROOM_NOT_FOUND, whatever the operation.
func (d *Dispatcher) fail(s *hub.Session, code types.ErrorCode, err error) {
	if errors.Is(err, lobby.ErrRoomNotFound) {
		code = types.CodeRoomNotFound
	}
	d.sendError(s, code, err.Error())
}

func (d *Dispatcher) sendError(s *hub.Session, code types.ErrorCode, message string) {
	d.logger.Debug("request failed",
		zap.String("session", s.ID), zap.String("code", string(code)), zap.String("error", message))
	d.unicast(s, types.NewError(code, message))
}

func (d *Dispatcher) unicast(s *hub.Session, v any) {
	if data, ok := d.encode(v); ok {
		d.hub.Unicast(s, data)
	}
}

func (d *Dispatcher) broadcast(roomID string, v any) {
	if data, ok := d.encode(v); ok {
		d.hub.Broadcast(roomID, data)
	}
}

func (d *Dispatcher) broadcastExcept(roomID string, except *hub.Session, v any) {
	if data, ok := d.encode(v); ok {
		d.hub.BroadcastExcept(roomID, except, data)
	}
}

func (d *Dispatcher) encode(v any) ([]byte, bool) {
	data, err := types.Encode(v)
	if err != nil {
		d.logger.Error("encode frame", zap.Error(err))
		return nil, false
	}
	return data, true
}
