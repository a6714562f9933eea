package types

import (
	"github.com/DoyleJ11/karaoke-battle-backend/internal/engine"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/songs"
)

const (
	MsgLobbySnapshot     MessageType = "LOBBY_SNAPSHOT"
	MsgPlayerJoined      MessageType = "PLAYER_JOINED"
	MsgPlayerLeft        MessageType = "PLAYER_LEFT"
	MsgPlayerReadyUpdate MessageType = "PLAYER_READY_UPDATE"
	MsgPhaseChange       MessageType = "PHASE_CHANGE"
	MsgPlayerScoreUpdate MessageType = "PLAYER_SCORE_UPDATE"
	MsgBattleResults     MessageType = "BATTLE_RESULTS"
	MsgError             MessageType = "ERROR"
)

type ErrorCode string

const (
	CodeInvalidMessage     ErrorCode = "INVALID_MESSAGE"
	CodeUnknownMessage     ErrorCode = "UNKNOWN_MESSAGE"
	CodeRoomNotFound       ErrorCode = "ROOM_NOT_FOUND"
	CodeJoinFailed         ErrorCode = "JOIN_FAILED"
	CodeSetReadyError      ErrorCode = "SET_READY_ERROR"
	CodeSelectSongError    ErrorCode = "SELECT_SONG_ERROR"
	CodeStartBattleError   ErrorCode = "START_BATTLE_ERROR"
	CodeReturnToLobbyError ErrorCode = "RETURN_TO_LOBBY_ERROR"
	CodeServerError        ErrorCode = "SERVER_ERROR"
)

type LeaveReason string

const (
	ReasonDisconnect LeaveReason = "disconnect"
	ReasonManual     LeaveReason = "manual"
)

type PlayerView struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Ready     bool    `json:"ready"`
	Score     int     `json:"score"`
	Combo     int     `json:"combo"`
	Accuracy  float64 `json:"accuracy"`
	IsHost    bool    `json:"isHost"`
	Connected bool    `json:"connected"`
}

type LobbySnapshot struct {
	Type            MessageType     `json:"type"`
	RoomID          string          `json:"roomId"`
	RoomCode        string          `json:"roomCode"`
	RoomName        string          `json:"roomName"`
	Phase           engine.Phase    `json:"phase"`
	HostID          string          `json:"hostId"`
	MaxPlayers      int             `json:"maxPlayers"`
	Version         int             `json:"version"`
	Players         []PlayerView    `json:"players"`
	BattleStartTime *int64          `json:"battleStartTime,omitempty"`
	Song            *songs.Song     `json:"song,omitempty"`
	AvailableSongs  []songs.Summary `json:"availableSongs"`
}

type JoinedPlayer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
	Score int    `json:"score"`
}

type PlayerJoined struct {
	Type   MessageType  `json:"type"`
	RoomID string       `json:"roomId"`
	Player JoinedPlayer `json:"player"`
}

type PlayerLeft struct {
	Type     MessageType `json:"type"`
	RoomID   string      `json:"roomId"`
	PlayerID string      `json:"playerId"`
	Reason   LeaveReason `json:"reason"`
}

type PlayerReadyUpdate struct {
	Type     MessageType `json:"type"`
	RoomID   string      `json:"roomId"`
	PlayerID string      `json:"playerId"`
	IsReady  bool        `json:"isReady"`
}

type PhaseChange struct {
	Type            MessageType  `json:"type"`
	RoomID          string       `json:"roomId"`
	NewPhase        engine.Phase `json:"newPhase"`
	BattleStartTime *int64       `json:"battleStartTime,omitempty"`
	Song            *songs.Song  `json:"song,omitempty"`
}

type PlayerScoreUpdate struct {
	Type     MessageType `json:"type"`
	RoomID   string      `json:"roomId"`
	PlayerID string      `json:"playerId"`
	NewScore int         `json:"newScore"`
	Accuracy float64     `json:"accuracy"`
	Combo    int         `json:"combo"`
}

type ResultEntry struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Score    int     `json:"score"`
	Accuracy float64 `json:"accuracy"`
	Combo    int     `json:"combo"`
	Position int     `json:"position"`
}

type BattleResults struct {
	Type    MessageType   `json:"type"`
	RoomID  string        `json:"roomId"`
	Players []ResultEntry `json:"players"`
	EndedAt int64         `json:"endedAt"`
}

type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
}

func NewLobbySnapshot(r *engine.Room, available []songs.Summary) LobbySnapshot {
	players := make([]PlayerView, 0, len(r.Order))
	for _, p := range r.OrderedPlayers() {
		players = append(players, PlayerView{
			ID:        p.ID,
			Name:      p.Name,
			Ready:     p.Ready,
			Score:     p.Score,
			Combo:     p.Combo,
			Accuracy:  p.Accuracy,
			IsHost:    p.IsHost,
			Connected: p.Connected,
		})
	}
	if available == nil {
		available = []songs.Summary{}
	}
	return LobbySnapshot{
		Type:            MsgLobbySnapshot,
		RoomID:          r.ID,
		RoomCode:        r.Code,
		RoomName:        r.Name,
		Phase:           r.Phase,
		HostID:          r.HostID,
		MaxPlayers:      r.MaxPlayers,
		Version:         r.Version,
		Players:         players,
		BattleStartTime: startTime(r),
		Song:            r.Battle.Song,
		AvailableSongs:  available,
	}
}

func NewPlayerJoined(roomID string, p *engine.Player) PlayerJoined {
	return PlayerJoined{
		Type:   MsgPlayerJoined,
		RoomID: roomID,
		Player: JoinedPlayer{ID: p.ID, Name: p.Name, Ready: p.Ready, Score: p.Score},
	}
}

func NewPlayerLeft(roomID, playerID string, reason LeaveReason) PlayerLeft {
	return PlayerLeft{Type: MsgPlayerLeft, RoomID: roomID, PlayerID: playerID, Reason: reason}
}

func NewPlayerReadyUpdate(roomID, playerID string, ready bool) PlayerReadyUpdate {
	return PlayerReadyUpdate{Type: MsgPlayerReadyUpdate, RoomID: roomID, PlayerID: playerID, IsReady: ready}
}

// NewPhaseChange carries the song on every phase after LOBBY and the start
// time once it is scheduled.
func NewPhaseChange(r *engine.Room) PhaseChange {
	pc := PhaseChange{Type: MsgPhaseChange, RoomID: r.ID, NewPhase: r.Phase}
	if r.Phase != engine.PhaseLobby {
		pc.Song = r.Battle.Song
		pc.BattleStartTime = startTime(r)
	}
	return pc
}

func NewPlayerScoreUpdate(roomID string, u engine.ScoreUpdate) PlayerScoreUpdate {
	return PlayerScoreUpdate{
		Type:     MsgPlayerScoreUpdate,
		RoomID:   roomID,
		PlayerID: u.PlayerID,
		NewScore: u.Score,
		Accuracy: u.Accuracy,
		Combo:    u.Combo,
	}
}

func NewBattleResults(roomID string, standings []engine.Standing, endedAtMs int64) BattleResults {
	entries := make([]ResultEntry, 0, len(standings))
	for _, s := range standings {
		entries = append(entries, ResultEntry{
			ID:       s.ID,
			Name:     s.Name,
			Score:    s.Score,
			Accuracy: s.Accuracy,
			Combo:    s.Combo,
			Position: s.Position,
		})
	}
	return BattleResults{Type: MsgBattleResults, RoomID: roomID, Players: entries, EndedAt: endedAtMs}
}

func NewError(code ErrorCode, message string) ErrorMessage {
	return ErrorMessage{Type: MsgError, Code: code, Message: message}
}

func startTime(r *engine.Room) *int64 {
	if r.Battle.StartAt.IsZero() {
		return nil
	}
	ms := r.Battle.StartAt.UnixMilli()
	return &ms
}
