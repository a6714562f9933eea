package types

// Client -> Server
// CREATE_LOBBY:    roomName, userId, userName, maxPlayers?
// JOIN_LOBBY:      roomId, userId, userName
// JOIN_BY_CODE:    roomCode, userId, userName
// SET_READY:       roomId, userId, isReady
// SELECT_SONG:     roomId, userId, songId            (host only)
// START_BATTLE:    roomId, userId                    (host only)
// PLAYER_LOADED:   roomId, userId
// AUDIO_CHUNK:     roomId, userId, timestamp, audioData, sampleRate, channelCount
// FINISH_BATTLE:   roomId, userId
// LEAVE_LOBBY:     roomId, userId
// RETURN_TO_LOBBY: roomId, userId                    (host only, RESULTS)

type MessageType string

const (
	MsgCreateLobby   MessageType = "CREATE_LOBBY"
	MsgJoinLobby     MessageType = "JOIN_LOBBY"
	MsgJoinByCode    MessageType = "JOIN_BY_CODE"
	MsgSetReady      MessageType = "SET_READY"
	MsgSelectSong    MessageType = "SELECT_SONG"
	MsgStartBattle   MessageType = "START_BATTLE"
	MsgPlayerLoaded  MessageType = "PLAYER_LOADED"
	MsgAudioChunk    MessageType = "AUDIO_CHUNK"
	MsgFinishBattle  MessageType = "FINISH_BATTLE"
	MsgLeaveLobby    MessageType = "LEAVE_LOBBY"
	MsgReturnToLobby MessageType = "RETURN_TO_LOBBY"
)

// Inbound is the decoded form of a client frame.
type Inbound interface{ Kind() MessageType }

type CreateLobby struct {
	RoomName   string `json:"roomName"`
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	MaxPlayers int    `json:"maxPlayers,omitempty"`
}

type JoinLobby struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type JoinByCode struct {
	RoomCode string `json:"roomCode"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type SetReady struct {
	RoomID  string `json:"roomId"`
	UserID  string `json:"userId"`
	IsReady bool   `json:"isReady"`
}

type SelectSong struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	SongID string `json:"songId"`
}

// RoomRef is the payload shared by messages that only name a room and a user.
type RoomRef struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type StartBattle struct{ RoomRef }
type PlayerLoaded struct{ RoomRef }
type FinishBattle struct{ RoomRef }
type LeaveLobby struct{ RoomRef }
type ReturnToLobby struct{ RoomRef }

type AudioChunk struct {
	RoomID       string `json:"roomId"`
	UserID       string `json:"userId"`
	Timestamp    int64  `json:"timestamp"`
	AudioData    string `json:"audioData"`
	SampleRate   int    `json:"sampleRate"`
	ChannelCount int    `json:"channelCount"`
}

func (CreateLobby) Kind() MessageType   { return MsgCreateLobby }
func (JoinLobby) Kind() MessageType     { return MsgJoinLobby }
func (JoinByCode) Kind() MessageType    { return MsgJoinByCode }
func (SetReady) Kind() MessageType      { return MsgSetReady }
func (SelectSong) Kind() MessageType    { return MsgSelectSong }
func (StartBattle) Kind() MessageType   { return MsgStartBattle }
func (PlayerLoaded) Kind() MessageType  { return MsgPlayerLoaded }
func (AudioChunk) Kind() MessageType    { return MsgAudioChunk }
func (FinishBattle) Kind() MessageType  { return MsgFinishBattle }
func (LeaveLobby) Kind() MessageType    { return MsgLeaveLobby }
func (ReturnToLobby) Kind() MessageType { return MsgReturnToLobby }
