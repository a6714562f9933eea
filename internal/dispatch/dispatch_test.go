package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/karaoke-battle-backend/internal/battle"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/engine"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/hub"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/lobby"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/scoring"
	"github.com/DoyleJ11/karaoke-battle-backend/internal/songs"
)

type frame map[string]any

func (f frame) str(key string) string { s, _ := f[key].(string); return s }

type chanTransport struct {
	frames chan frame
	closed chan string
}

func (c *chanTransport) Write(_ context.Context, data []byte) error {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.frames <- f
	return nil
}

func (c *chanTransport) Ping(context.Context) error { return nil }

func (c *chanTransport) Close(reason string) error {
	select {
	case c.closed <- reason:
	default:
	}
	return nil
}

type harness struct {
	t      *testing.T
	clock  *clockwork.FakeClock
	store  *lobby.Store
	hub    *hub.Hub
	disp   *Dispatcher
	ticker *battle.Ticker
	ctx    context.Context
}

type client struct {
	h  *harness
	s  *hub.Session
	tr *chanTransport
}

func newHarness(t *testing.T, opts ...lobby.Option) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	logger := zap.NewNop()

	store := lobby.NewStore(append([]lobby.Option{lobby.WithClock(clock)}, opts...)...)
	h := hub.New(hub.Config{QueueSize: 64}, clock, logger)
	lib := songs.NewLibrary(songs.Builtin(clock.Now()))
	d := New(store, h, lib, logger)
	h.OnEvict(d.Disconnect)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &harness{
		t:      t,
		clock:  clock,
		store:  store,
		hub:    h,
		disp:   d,
		ticker: battle.NewTicker(store, h, scoring.Stub, clock, 0, logger),
		ctx:    ctx,
	}
}

func (h *harness) connect() *client {
	tr := &chanTransport{frames: make(chan frame, 64), closed: make(chan string, 1)}
	s := h.hub.Register(tr)
	go h.hub.Serve(h.ctx, s)
	return &client{h: h, s: s, tr: tr}
}

func (c *client) send(format string, args ...any) {
	c.h.disp.HandleFrame(c.s, []byte(fmt.Sprintf(format, args...)))
}

// expect receives the next frame and checks its type, so tests never hang.
func (c *client) expect(typ string) frame {
	c.h.t.Helper()
	select {
	case f := <-c.tr.frames:
		require.Equal(c.h.t, typ, f.str("type"), "frame: %v", f)
		return f
	case <-time.After(time.Second):
		c.h.t.Fatalf("timed out waiting for %s", typ)
		return nil
	}
}

func (c *client) expectNothing() {
	c.h.t.Helper()
	select {
	case f := <-c.tr.frames:
		c.h.t.Fatalf("expected no frame, got %v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func (c *client) expectError(code string) {
	c.h.t.Helper()
	f := c.expect("ERROR")
	assert.Equal(c.h.t, code, f.str("code"))
}

func players(f frame) []frame {
	raw, _ := f["players"].([]any)
	out := make([]frame, 0, len(raw))
	for _, p := range raw {
		out = append(out, frame(p.(map[string]any)))
	}
	return out
}

// lobbyOfTwo runs scenario 1 and returns A (host), B and the room id.
func lobbyOfTwo(t *testing.T, h *harness) (*client, *client, string) {
	t.Helper()
	a, b := h.connect(), h.connect()

	a.send(`{"type":"CREATE_LOBBY","roomName":"X","userId":"A","userName":"a"}`)
	snap := a.expect("LOBBY_SNAPSHOT")
	roomID, code := snap.str("roomId"), snap.str("roomCode")
	require.Len(t, players(snap), 1)
	assert.Equal(t, "A", snap.str("hostId"))
	assert.Equal(t, true, players(snap)[0]["isHost"])
	assert.Regexp(t, `^[A-Z0-9]{6}$`, code)

	b.send(`{"type":"JOIN_BY_CODE","roomCode":"%s","userId":"B","userName":"b"}`, code)
	snap = b.expect("LOBBY_SNAPSHOT")
	require.Len(t, players(snap), 2)
	joined := a.expect("PLAYER_JOINED")
	assert.Equal(t, "B", joined["player"].(map[string]any)["id"])
	return a, b, roomID
}

// inBattle runs scenarios 1-3: both players loaded, playback scheduled.
func inBattle(t *testing.T, h *harness) (*client, *client, string) {
	t.Helper()
	a, b, roomID := lobbyOfTwo(t, h)

	a.send(`{"type":"SET_READY","roomId":"%s","userId":"A","isReady":true}`, roomID)
	b.send(`{"type":"SET_READY","roomId":"%s","userId":"B","isReady":true}`, roomID)
	for _, c := range []*client{a, b} {
		c.expect("PLAYER_READY_UPDATE")
		c.expect("PLAYER_READY_UPDATE")
	}

	a.send(`{"type":"START_BATTLE","roomId":"%s","userId":"A"}`, roomID)
	for _, c := range []*client{a, b} {
		pc := c.expect("PHASE_CHANGE")
		assert.Equal(t, "LOADING", pc.str("newPhase"))
		assert.Equal(t, "twinkle-warmup", pc["song"].(map[string]any)["id"])
	}

	a.send(`{"type":"PLAYER_LOADED","roomId":"%s","userId":"A"}`, roomID)
	h.clock.Advance(200 * time.Millisecond)
	b.send(`{"type":"PLAYER_LOADED","roomId":"%s","userId":"B"}`, roomID)
	want := h.clock.Now().Add(engine.StartDelay).UnixMilli()
	for _, c := range []*client{a, b} {
		pc := c.expect("PHASE_CHANGE")
		assert.Equal(t, "IN_BATTLE", pc.str("newPhase"))
		assert.Equal(t, float64(want), pc["battleStartTime"])
	}
	return a, b, roomID
}

func TestScenario_CreateAndJoinByCode(t *testing.T) {
	h := newHarness(t)
	a, b, _ := lobbyOfTwo(t, h)
	a.expectNothing()
	b.expectNothing()
	require.NoError(t, h.store.CheckInvariants())
}

func TestScenario_BattleLifecycle(t *testing.T) {
	h := newHarness(t)
	a, b, roomID := inBattle(t, h)

	// scoring tick once playback has started
	h.clock.Advance(engine.StartDelay)
	for _, c := range []*client{a, b} {
		user := "A"
		if c == b {
			user = "B"
		}
		c.send(`{"type":"AUDIO_CHUNK","roomId":"%s","userId":"%s","timestamp":250,"audioData":"AAAA","sampleRate":44100,"channelCount":1}`, roomID, user)
	}
	h.ticker.Tick()

	var seenA, seenB []frame
	for range 2 {
		seenA = append(seenA, a.expect("PLAYER_SCORE_UPDATE"))
		seenB = append(seenB, b.expect("PLAYER_SCORE_UPDATE"))
	}
	assert.Equal(t, seenA, seenB)
	for _, u := range seenA {
		assert.GreaterOrEqual(t, u["newScore"].(float64), float64(0))
	}

	// battle timeout: the built-in fallback song is 10 s long
	h.clock.Advance(15*time.Second + time.Millisecond)
	h.ticker.Tick()
	for _, c := range []*client{a, b} {
		res := c.expect("BATTLE_RESULTS")
		ps := players(res)
		require.Len(t, ps, 2)
		assert.Equal(t, float64(1), ps[0]["position"])
		assert.Equal(t, float64(2), ps[1]["position"])
		assert.Equal(t, "RESULTS", c.expect("PHASE_CHANGE").str("newPhase"))
	}

	// only the host may return the room to the lobby
	b.send(`{"type":"RETURN_TO_LOBBY","roomId":"%s","userId":"B"}`, roomID)
	b.expectError("RETURN_TO_LOBBY_ERROR")
	a.send(`{"type":"RETURN_TO_LOBBY","roomId":"%s","userId":"A"}`, roomID)
	for _, c := range []*client{a, b} {
		assert.Equal(t, "LOBBY", c.expect("PHASE_CHANGE").str("newPhase"))
		snap := c.expect("LOBBY_SNAPSHOT")
		for _, p := range players(snap) {
			assert.Equal(t, false, p["ready"])
			assert.Equal(t, float64(0), p["score"])
		}
	}
	require.NoError(t, h.store.CheckInvariants())
}

func TestScenario_DisconnectMidBattle(t *testing.T) {
	h := newHarness(t)
	a, b, roomID := inBattle(t, h)

	h.hub.Evict(b.s, "transport closed")
	left := a.expect("PLAYER_LEFT")
	assert.Equal(t, "B", left.str("playerId"))
	assert.Equal(t, "disconnect", left.str("reason"))

	r, err := h.store.Room(roomID)
	require.NoError(t, err)
	assert.Equal(t, engine.PhaseInBattle, r.Phase)
	assert.Equal(t, "A", r.HostID)
	assert.Len(t, r.Players, 1)
}

func TestDisconnectDuringLoading_DeletesRoom(t *testing.T) {
	h := newHarness(t)
	a, b, roomID := lobbyOfTwo(t, h)
	a.send(`{"type":"SET_READY","roomId":"%s","userId":"A","isReady":true}`, roomID)
	b.send(`{"type":"SET_READY","roomId":"%s","userId":"B","isReady":true}`, roomID)
	a.send(`{"type":"START_BATTLE","roomId":"%s","userId":"A"}`, roomID)

	h.hub.Evict(a.s, "closed")
	h.hub.Evict(b.s, "closed")

	_, err := h.store.Room(roomID)
	require.ErrorIs(t, err, lobby.ErrRoomNotFound)
	assert.Equal(t, 0, h.store.Len())
	require.NoError(t, h.store.CheckInvariants())
}

func TestHostLeaves_SuccessionSnapshot(t *testing.T) {
	h := newHarness(t)
	a, b, roomID := lobbyOfTwo(t, h)

	a.send(`{"type":"LEAVE_LOBBY","roomId":"%s","userId":"A"}`, roomID)
	left := b.expect("PLAYER_LEFT")
	assert.Equal(t, "manual", left.str("reason"))
	snap := b.expect("LOBBY_SNAPSHOT")
	assert.Equal(t, "B", snap.str("hostId"))
	a.expectNothing()
}

func TestErrors(t *testing.T) {
	h := newHarness(t)
	a, b, roomID := lobbyOfTwo(t, h)
	c := h.connect()

	cases := []struct {
		name  string
		from  *client
		frame string
		code  string
	}{
		{"bad json", c, `{nope`, "INVALID_MESSAGE"},
		{"missing type", c, `{"roomId":"x"}`, "INVALID_MESSAGE"},
		{"unknown type", c, `{"type":"DANCE"}`, "UNKNOWN_MESSAGE"},
		{"unknown code", c, `{"type":"JOIN_BY_CODE","roomCode":"ZZZZZZ","userId":"C","userName":"c"}`, "ROOM_NOT_FOUND"},
		{"unknown room", c, `{"type":"JOIN_LOBBY","roomId":"nope","userId":"C","userName":"c"}`, "ROOM_NOT_FOUND"},
		{"non-host start", b, fmt.Sprintf(`{"type":"START_BATTLE","roomId":"%s","userId":"B"}`, roomID), "START_BATTLE_ERROR"},
		{"not all ready", a, fmt.Sprintf(`{"type":"START_BATTLE","roomId":"%s","userId":"A"}`, roomID), "START_BATTLE_ERROR"},
		{"non-host select", b, fmt.Sprintf(`{"type":"SELECT_SONG","roomId":"%s","userId":"B","songId":"row-your-boat"}`, roomID), "SELECT_SONG_ERROR"},
		{"unknown song", a, fmt.Sprintf(`{"type":"SELECT_SONG","roomId":"%s","userId":"A","songId":"nope"}`, roomID), "SELECT_SONG_ERROR"},
		{"ready for stranger", c, fmt.Sprintf(`{"type":"SET_READY","roomId":"%s","userId":"C","isReady":true}`, roomID), "SET_READY_ERROR"},
		{"finish unknown room", c, `{"type":"FINISH_BATTLE","roomId":"nope","userId":"C"}`, "ROOM_NOT_FOUND"},
	}
	// the helpers fail the parent test, so cases run inline
	for _, tc := range cases {
		t.Log(tc.name)
		tc.from.send("%s", tc.frame)
		tc.from.expectError(tc.code)
	}
	a.expectNothing()
	b.expectNothing()
}

func TestJoinFull(t *testing.T) {
	h := newHarness(t)
	a, b := h.connect(), h.connect()
	a.send(`{"type":"CREATE_LOBBY","roomName":"X","userId":"A","userName":"a","maxPlayers":1}`)
	roomID := a.expect("LOBBY_SNAPSHOT").str("roomId")

	b.send(`{"type":"JOIN_LOBBY","roomId":"%s","userId":"B","userName":"b"}`, roomID)
	b.expectError("JOIN_FAILED")
	a.expectNothing()
}

func TestIdempotentJoin(t *testing.T) {
	h := newHarness(t)
	a, b, roomID := lobbyOfTwo(t, h)

	b.send(`{"type":"JOIN_LOBBY","roomId":"%s","userId":"B","userName":"b"}`, roomID)
	assert.Len(t, players(b.expect("LOBBY_SNAPSHOT")), 2)
	a.expectNothing()
}

func TestSelectSongBroadcastsSnapshot(t *testing.T) {
	h := newHarness(t)
	a, b, roomID := lobbyOfTwo(t, h)

	a.send(`{"type":"SELECT_SONG","roomId":"%s","userId":"A","songId":"row-your-boat"}`, roomID)
	for _, c := range []*client{a, b} {
		snap := c.expect("LOBBY_SNAPSHOT")
		assert.Equal(t, "row-your-boat", snap["song"].(map[string]any)["id"])
		assert.Len(t, snap["availableSongs"], 2)
	}

	b.send(`{"type":"FINISH_BATTLE","roomId":"%s","userId":"B"}`, roomID)
	b.expect("LOBBY_SNAPSHOT")
	a.expectNothing()
}

func TestSecondSessionKeepsUserInRoom(t *testing.T) {
	h := newHarness(t)
	a, b, roomID := lobbyOfTwo(t, h)

	b2 := h.connect()
	b2.send(`{"type":"JOIN_LOBBY","roomId":"%s","userId":"B","userName":"b"}`, roomID)
	b2.expect("LOBBY_SNAPSHOT")

	h.hub.Evict(b.s, "closed")
	a.expectNothing()
	r, err := h.store.Room(roomID)
	require.NoError(t, err)
	assert.Contains(t, r.Players, "B")

	h.hub.Evict(b2.s, "closed")
	assert.Equal(t, "B", a.expect("PLAYER_LEFT").str("playerId"))
}

func TestSwitchingRoomsLeavesPrevious(t *testing.T) {
	h := newHarness(t)
	a, b, firstRoom := lobbyOfTwo(t, h)

	b.send(`{"type":"CREATE_LOBBY","roomName":"Y","userId":"B","userName":"b"}`)
	left := a.expect("PLAYER_LEFT")
	assert.Equal(t, "manual", left.str("reason"))
	second := b.expect("LOBBY_SNAPSHOT").str("roomId")
	assert.NotEqual(t, firstRoom, second)

	got, ok := h.store.RoomOf("B")
	require.True(t, ok)
	assert.Equal(t, second, got)
	require.NoError(t, h.store.CheckInvariants())
}

// seatedIn checks the store index, the session binding and the room version
// for a user who should not have moved.
func seatedIn(t *testing.T, h *harness, c *client, userID, roomID string, version int) {
	t.Helper()
	got, ok := h.store.RoomOf(userID)
	require.True(t, ok, "%s lost its seat", userID)
	assert.Equal(t, roomID, got)
	_, bound := c.s.Binding()
	assert.Equal(t, roomID, bound)
	r, err := h.store.Room(roomID)
	require.NoError(t, err)
	assert.Equal(t, version, r.Version)
	assert.Contains(t, r.Players, userID)
}

func TestFailedJoinKeepsCallerSeated(t *testing.T) {
	h := newHarness(t)
	a, b, roomID := lobbyOfTwo(t, h)
	before, err := h.store.Room(roomID)
	require.NoError(t, err)

	b.send(`{"type":"JOIN_LOBBY","roomId":"does-not-exist","userId":"B","userName":"b"}`)
	b.expectError("ROOM_NOT_FOUND")
	seatedIn(t, h, b, "B", roomID, before.Version)

	b.send(`{"type":"JOIN_BY_CODE","roomCode":"ZZZZZZ","userId":"B","userName":"b"}`)
	b.expectError("ROOM_NOT_FOUND")
	seatedIn(t, h, b, "B", roomID, before.Version)

	c := h.connect()
	c.send(`{"type":"CREATE_LOBBY","roomName":"Solo","userId":"C","userName":"c","maxPlayers":1}`)
	code := c.expect("LOBBY_SNAPSHOT").str("roomCode")
	b.send(`{"type":"JOIN_BY_CODE","roomCode":"%s","userId":"B","userName":"b"}`, code)
	b.expectError("JOIN_FAILED")
	seatedIn(t, h, b, "B", roomID, before.Version)

	a.expectNothing()
	c.expectNothing()

	// B still hears its room
	a.send(`{"type":"SET_READY","roomId":"%s","userId":"A","isReady":true}`, roomID)
	b.expect("PLAYER_READY_UPDATE")
	require.NoError(t, h.store.CheckInvariants())
}

func TestFailedCreateKeepsCallerSeated(t *testing.T) {
	h := newHarness(t, lobby.WithCodeGenerator(func() (string, error) { return "AAAAAA", nil }))
	a, b, roomID := lobbyOfTwo(t, h)
	before, err := h.store.Room(roomID)
	require.NoError(t, err)

	b.send(`{"type":"CREATE_LOBBY","roomName":"Y","userId":"B","userName":"b"}`)
	b.expectError("SERVER_ERROR")
	seatedIn(t, h, b, "B", roomID, before.Version)
	a.expectNothing()
	require.NoError(t, h.store.CheckInvariants())
}

func TestIdempotentJoinKeepsVersion(t *testing.T) {
	h := newHarness(t)
	_, b, roomID := lobbyOfTwo(t, h)
	before, err := h.store.Room(roomID)
	require.NoError(t, err)

	b.send(`{"type":"JOIN_LOBBY","roomId":"%s","userId":"B","userName":"b"}`, roomID)
	snap := b.expect("LOBBY_SNAPSHOT")
	assert.Equal(t, float64(before.Version), snap["version"])
}

func TestRebindingSessionReleasesPreviousUser(t *testing.T) {
	h := newHarness(t)
	a, b, firstRoom := lobbyOfTwo(t, h)
	c := h.connect()
	c.send(`{"type":"CREATE_LOBBY","roomName":"Y","userId":"C","userName":"c"}`)
	second := c.expect("LOBBY_SNAPSHOT").str("roomId")

	// b's connection now speaks for D; nothing else holds B's seat
	b.send(`{"type":"JOIN_LOBBY","roomId":"%s","userId":"D","userName":"d"}`, second)
	b.expect("LOBBY_SNAPSHOT")
	c.expect("PLAYER_JOINED")
	assert.Equal(t, "B", a.expect("PLAYER_LEFT").str("playerId"))

	_, ok := h.store.RoomOf("B")
	assert.False(t, ok)
	got, _ := h.store.RoomOf("D")
	assert.Equal(t, second, got)
	assert.NotEqual(t, firstRoom, second)
	require.NoError(t, h.store.CheckInvariants())
}

func TestLateChunkIgnored(t *testing.T) {
	h := newHarness(t)
	a, b, roomID := inBattle(t, h)

	// still in the countdown: elapsed is -3000 ms
	a.send(`{"type":"AUDIO_CHUNK","roomId":"%s","userId":"A","timestamp":0,"audioData":"AAAA","sampleRate":44100,"channelCount":1}`, roomID)
	h.ticker.Tick()
	a.expectNothing()
	b.expectNothing()
}

func TestRateLimitDropsFrames(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := lobby.NewStore(lobby.WithClock(clock))
	hb := hub.New(hub.Config{InboundRate: 1, InboundBurst: 1}, clock, zap.NewNop())
	d := New(store, hb, songs.NewLibrary(nil), zap.NewNop())

	tr := &chanTransport{frames: make(chan frame, 8), closed: make(chan string, 1)}
	s := hb.Register(tr)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hb.Serve(ctx, s)

	d.HandleFrame(s, []byte(`{"type":"DANCE"}`))
	d.HandleFrame(s, []byte(`{"type":"DANCE"}`))

	select {
	case f := <-tr.frames:
		assert.Equal(t, "UNKNOWN_MESSAGE", f.str("code"))
	case <-time.After(time.Second):
		t.Fatalf("no error frame")
	}
	select {
	case f := <-tr.frames:
		t.Fatalf("second frame should be dropped, got %v", f)
	case <-time.After(50 * time.Millisecond):
	}
}
