package songs

import "time"

// Builtin is the catalog served when no songs directory is configured.
func Builtin(now time.Time) *Catalog {
	list := []*Song{
		{
			Name: "Twinkle Warmup",
			Lyrics: []string{
				"Twinkle twinkle little star",
				"How I wonder what you are",
				"Up above the world so high",
				"Like a diamond in the sky",
			},
			LineDurations: []int64{2500, 2500, 2500, 2500},
			Notes: []Note{
				{PitchHz: 261.63, StartMs: 0, DurationMs: 1250, Syllable: "Twin"},
				{PitchHz: 392.00, StartMs: 1250, DurationMs: 1250, Syllable: "kle"},
				{PitchHz: 440.00, StartMs: 2500, DurationMs: 1250, Syllable: "How"},
				{PitchHz: 392.00, StartMs: 3750, DurationMs: 1250, Syllable: "won"},
				{PitchHz: 349.23, StartMs: 5000, DurationMs: 1250, Syllable: "Up"},
				{PitchHz: 329.63, StartMs: 6250, DurationMs: 1250, Syllable: "bove"},
				{PitchHz: 293.66, StartMs: 7500, DurationMs: 1250, Syllable: "Like"},
				{PitchHz: 261.63, StartMs: 8750, DurationMs: 1250, Syllable: "sky"},
			},
		},
		{
			Name: "Row Your Boat",
			Lyrics: []string{
				"Row row row your boat",
				"Gently down the stream",
				"Merrily merrily merrily merrily",
				"Life is but a dream",
			},
			LineDurations: []int64{3000, 3000, 4000, 3000},
		},
	}
	for _, s := range list {
		// static records; Normalize only derives ids and timings here
		_ = s.Normalize()
	}
	return NewCatalog(list, now)
}
