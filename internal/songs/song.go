package songs

import (
	"errors"
	"fmt"
	"time"

	"github.com/gosimple/slug"
)

var ErrInvalidSong = errors.New("invalid song")

type Note struct {
	PitchHz    float64 `json:"pitch"`
	StartMs    int64   `json:"start"`
	DurationMs int64   `json:"duration"`
	Syllable   string  `json:"syllable,omitempty"`
}

// Song is immutable once it has been placed in a Catalog.
type Song struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Lyrics        []string `json:"lyrics"`
	LineDurations []int64  `json:"lineDurations"`
	LineTimings   []int64  `json:"lineTimings"`
	Duration      int64    `json:"duration"`
	AudioFile     string   `json:"audioFile,omitempty"`
	Notes         []Note   `json:"notes,omitempty"`
}

type Summary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Duration  int64  `json:"duration"`
	AudioFile string `json:"audioFile,omitempty"`
}

// Normalize fills in derived fields and rejects records the battle loop
// cannot play.
func (s *Song) Normalize() error {
	if s.Name == "" && s.ID == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidSong)
	}
	if s.ID == "" {
		s.ID = slug.Make(s.Name)
	}
	if s.Name == "" {
		s.Name = s.ID
	}
	if len(s.Lyrics) != len(s.LineDurations) {
		return fmt.Errorf("%w: %s has %d lyric lines but %d durations",
			ErrInvalidSong, s.ID, len(s.Lyrics), len(s.LineDurations))
	}

	var total int64
	for i, d := range s.LineDurations {
		if d < 0 {
			return fmt.Errorf("%w: %s line %d has negative duration", ErrInvalidSong, s.ID, i)
		}
		total += d
	}

	if len(s.LineTimings) != len(s.LineDurations) {
		s.LineTimings = make([]int64, len(s.LineDurations))
		var at int64
		for i, d := range s.LineDurations {
			s.LineTimings[i] = at
			at += d
		}
	}
	if s.Duration <= 0 {
		s.Duration = total
	}
	if s.Duration <= 0 {
		return fmt.Errorf("%w: %s has no duration", ErrInvalidSong, s.ID)
	}
	return nil
}

// LineAt walks the line durations until the running total exceeds elapsed.
// Past the last line the last index is returned.
func (s *Song) LineAt(elapsedMs int64) int {
	if len(s.LineDurations) == 0 || elapsedMs < 0 {
		return 0
	}
	var total int64
	for i, d := range s.LineDurations {
		total += d
		if total > elapsedMs {
			return i
		}
	}
	return len(s.LineDurations) - 1
}

// LineWindow returns the [start, end) offsets of a line in ms.
func (s *Song) LineWindow(line int) (int64, int64) {
	if line < 0 || line >= len(s.LineTimings) {
		return 0, s.Duration
	}
	start := s.LineTimings[line]
	return start, start + s.LineDurations[line]
}

// NoteAt returns the note sounding at offset ms, if any.
func (s *Song) NoteAt(offsetMs int64) (Note, bool) {
	for _, n := range s.Notes {
		if offsetMs >= n.StartMs && offsetMs < n.StartMs+n.DurationMs {
			return n, true
		}
	}
	return Note{}, false
}

func (s *Song) TotalDuration() time.Duration {
	return time.Duration(s.Duration) * time.Millisecond
}

func (s *Song) Summary() Summary {
	return Summary{ID: s.ID, Name: s.Name, Duration: s.Duration, AudioFile: s.AudioFile}
}
