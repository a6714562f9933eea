// Package scoring defines the contract between the battle tick and the
// audio scorer. A scorer must be deterministic, free of I/O and free of
// randomness; the tick calls it while holding the room's write lock.
package scoring

import "github.com/DoyleJ11/karaoke-battle-backend/internal/songs"

// Chunk is one buffered AUDIO_CHUNK: a timestamp relative to the battle
// start and the opaque payload the client sent.
type Chunk struct {
	Timestamp int64
	Payload   string
}

type Result struct {
	Delta    int     // non-negative score increment
	Accuracy float64 // 0-100
	Hits     int     // hits in the batch, added to the player's combo
}

type Func func(batch []Chunk, line int, song *songs.Song) Result
