package scoring

import (
	"math"

	"github.com/cespare/xxhash"

	"github.com/DoyleJ11/karaoke-battle-backend/internal/songs"
)

const (
	minFreq   = 80.0
	freqSpan  = 920
	baseFreq  = 220.0
	maxSNR    = 40.0
	hitCutoff = 60.0

	pitchWeight  = 0.5
	timingWeight = 0.3
	snrWeight    = 0.2
)

// Stub is the reference scorer. It does no signal processing: each payload
// is digested into a pseudo-frequency and a pseudo-SNR, which are compared
// against the reference pitch for the chunk's position in the song.
func Stub(batch []Chunk, line int, song *songs.Song) Result {
	if len(batch) == 0 || song == nil {
		return Result{}
	}

	var (
		sum  float64
		hits int
	)
	for _, c := range batch {
		acc := chunkAccuracy(c, line, song)
		sum += acc
		if acc >= hitCutoff {
			hits++
		}
	}

	avg := sum / float64(len(batch))
	return Result{
		Delta:    int(math.Round(sum/10)) + hits*5,
		Accuracy: math.Round(avg*100) / 100,
		Hits:     hits,
	}
}

func chunkAccuracy(c Chunk, line int, song *songs.Song) float64 {
	digest := xxhash.Sum64([]byte(c.Payload))
	freq := minFreq + float64(digest%freqSpan)
	snr := float64((digest>>32)%uint64(maxSNR)) / maxSNR

	pitch := pitchScore(freq, referenceFreq(c.Timestamp, line, song))
	timing := timingScore(c.Timestamp, line, song)

	acc := 100 * (pitchWeight*pitch + timingWeight*timing + snrWeight*snr)
	return math.Max(0, math.Min(100, acc))
}

func referenceFreq(ts int64, line int, song *songs.Song) float64 {
	if n, ok := song.NoteAt(ts); ok && n.PitchHz > 0 {
		return n.PitchHz
	}
	return baseFreq * math.Pow(2, float64(line%12)/12)
}

// pitchScore folds the interval into one octave so singing an octave off
// is not penalised, then scales linearly to zero at a tritone.
func pitchScore(freq, ref float64) float64 {
	cents := math.Abs(1200 * math.Log2(freq/ref))
	cents = math.Mod(cents, 1200)
	if cents > 600 {
		cents = 1200 - cents
	}
	return 1 - cents/600
}

func timingScore(ts int64, line int, song *songs.Song) float64 {
	start, end := song.LineWindow(line)
	var dist int64
	switch {
	case ts < start:
		dist = start - ts
	case ts >= end:
		dist = ts - end
	}
	return 1 - math.Min(1, float64(dist)/1000)
}
