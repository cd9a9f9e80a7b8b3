package synth

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cbegin/chordplay-go/internal/score"
	"github.com/cbegin/chordplay-go/internal/theory"
)

var (
	ErrUnknownChord = errors.New("chord cannot be voiced")
	ErrCancelled    = errors.New("voice cancelled")
)

// Voice turns chord triggers into tones on a Mixer. Each voice tags its
// tones, so cancelling one voice leaves tones from other voices sharing
// the mixer alone.
type Voice struct {
	mixer   *Mixer
	key     string
	voicing theory.Voicing
	owner   uint64

	mu        sync.Mutex
	cancelled bool
}

func NewVoice(m *Mixer, key string, voicing theory.Voicing) *Voice {
	return &Voice{mixer: m, key: key, voicing: voicing, owner: m.NewOwner()}
}

// Trigger sounds the chord from at for dur. The envelope decays to near
// silence before at+dur.
func (v *Voice) Trigger(c score.Chord, at time.Time, dur time.Duration) error {
	freqs, ok := theory.ChordFrequencies(v.key, c, v.voicing)
	if !ok {
		return fmt.Errorf("%w: %q in key %q", ErrUnknownChord, c.Label(), v.key)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancelled {
		return ErrCancelled
	}
	start := v.mixer.FrameAt(at)
	length := v.mixer.Frames(dur)
	gain := 1 / math.Sqrt(float64(len(freqs)))
	for _, f := range freqs {
		v.mixer.Schedule(Tone{Freq: f, Start: start, Length: length, Gain: gain, Owner: v.owner})
	}
	return nil
}

// Cancel drops this voice's tones that have not started sounding and
// refuses later triggers.
func (v *Voice) Cancel() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelled = true
	v.mixer.CancelOwner(v.owner)
}
