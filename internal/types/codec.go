package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"go.uber.org/multierr"
	"golang.org/x/text/unicode/norm"
)

var ErrInvalidMessage = errors.New("invalid message")
var ErrUnknownMessage = errors.New("unknown message type")

type fieldKind int

const (
	kindID   fieldKind = iota // non-empty string
	kindText                  // any string
	kindBool
	kindInt
)

type field struct {
	name     string
	kind     fieldKind
	optional bool
}

type schema struct {
	fields []field
	decode func([]byte) (Inbound, error)
}

var (
	roomID   = field{name: "roomId", kind: kindID}
	userID   = field{name: "userId", kind: kindID}
	userName = field{name: "userName", kind: kindID}
)

var schemas = map[MessageType]schema{
	MsgCreateLobby: {
		fields: []field{{name: "roomName", kind: kindID}, userID, userName, {name: "maxPlayers", kind: kindInt, optional: true}},
		decode: decodeAs[CreateLobby],
	},
	MsgJoinLobby:  {fields: []field{roomID, userID, userName}, decode: decodeAs[JoinLobby]},
	MsgJoinByCode: {fields: []field{{name: "roomCode", kind: kindID}, userID, userName}, decode: decodeAs[JoinByCode]},
	MsgSetReady:   {fields: []field{roomID, userID, {name: "isReady", kind: kindBool}}, decode: decodeAs[SetReady]},
	MsgSelectSong: {fields: []field{roomID, userID, {name: "songId", kind: kindID}}, decode: decodeAs[SelectSong]},
	MsgStartBattle: {
		fields: []field{roomID, userID}, decode: decodeAs[StartBattle],
	},
	MsgPlayerLoaded: {fields: []field{roomID, userID}, decode: decodeAs[PlayerLoaded]},
	MsgAudioChunk: {
		fields: []field{
			roomID, userID,
			{name: "timestamp", kind: kindInt},
			{name: "audioData", kind: kindText},
			{name: "sampleRate", kind: kindInt},
			{name: "channelCount", kind: kindInt},
		},
		decode: decodeAs[AudioChunk],
	},
	MsgFinishBattle:  {fields: []field{roomID, userID}, decode: decodeAs[FinishBattle]},
	MsgLeaveLobby:    {fields: []field{roomID, userID}, decode: decodeAs[LeaveLobby]},
	MsgReturnToLobby: {fields: []field{roomID, userID}, decode: decodeAs[ReturnToLobby]},
}

// Decode validates a client frame and returns its typed form. Text and
// binary frames are both treated as UTF-8 JSON. Errors wrap
// ErrInvalidMessage or ErrUnknownMessage.
func Decode(data []byte) (Inbound, error) {
	if !utf8.Valid(data) || !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: frame is not valid UTF-8 JSON", ErrInvalidMessage)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: frame is not a JSON object", ErrInvalidMessage)
	}
	if k := duplicateKey(root); k != "" {
		return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidMessage, k)
	}

	t := root.Get("type")
	if t.Type != gjson.String || t.Str == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	sc, ok := schemas[MessageType(t.Str)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, t.Str)
	}

	var errs error
	for _, f := range sc.fields {
		errs = multierr.Append(errs, f.check(root.Get(f.name)))
	}
	if errs != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, t.Str, errs)
	}

	msg, err := sc.decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, t.Str, err)
	}
	if err := sc.checkDecoded(msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, t.Str, err)
	}
	return normalize(msg), nil
}

// duplicateKey returns the first top-level key that repeats, compared the
// way encoding/json matches keys to fields (case-insensitively).
func duplicateKey(root gjson.Result) string {
	seen := make(map[string]struct{})
	var dup string
	root.ForEach(func(k, _ gjson.Result) bool {
		folded := strings.ToLower(k.Str)
		if _, ok := seen[folded]; ok {
			dup = k.Str
			return false
		}
		seen[folded] = struct{}{}
		return true
	})
	return dup
}

// checkDecoded re-checks required ids on the value that will actually be
// used.
func (sc schema) checkDecoded(msg Inbound) error {
	canon, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var errs error
	for _, f := range sc.fields {
		if f.kind != kindID {
			continue
		}
		if strings.TrimSpace(gjson.GetBytes(canon, f.name).Str) == "" {
			errs = multierr.Append(errs, fmt.Errorf("%s must not be empty", f.name))
		}
	}
	return errs
}

func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (f field) check(v gjson.Result) error {
	if !v.Exists() || v.Type == gjson.Null {
		if f.optional {
			return nil
		}
		return fmt.Errorf("%s is required", f.name)
	}

	switch f.kind {
	case kindID, kindText:
		if v.Type != gjson.String {
			return fmt.Errorf("%s must be a string", f.name)
		}
		if f.kind == kindID && strings.TrimSpace(v.Str) == "" {
			return fmt.Errorf("%s must not be empty", f.name)
		}
	case kindBool:
		if v.Type != gjson.True && v.Type != gjson.False {
			return fmt.Errorf("%s must be a boolean", f.name)
		}
	case kindInt:
		if v.Type != gjson.Number {
			return fmt.Errorf("%s must be a number", f.name)
		}
		if _, err := strconv.ParseInt(v.Raw, 10, 64); err != nil {
			return fmt.Errorf("%s must be an integer", f.name)
		}
	}
	return nil
}

func decodeAs[T Inbound](data []byte) (Inbound, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func normalize(msg Inbound) Inbound {
	switch m := msg.(type) {
	case CreateLobby:
		m.RoomName = cleanName(m.RoomName)
		m.UserName = cleanName(m.UserName)
		return m
	case JoinLobby:
		m.UserName = cleanName(m.UserName)
		return m
	case JoinByCode:
		m.UserName = cleanName(m.UserName)
		m.RoomCode = strings.ToUpper(strings.TrimSpace(m.RoomCode))
		return m
	}
	return msg
}

// cleanName trims and NFC-normalizes display strings so visually equal
// names compare equal.
func cleanName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
