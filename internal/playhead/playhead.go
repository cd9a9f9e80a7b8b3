package playhead

import (
	"time"

	"github.com/cbegin/chordplay-go/internal/timeline"
	"github.com/cbegin/chordplay-go/internal/transport"
)

// PositionAt returns the fractional beat under the playhead. ok is false
// while the transport is stopped, where the position has no meaning.
func PositionAt(state transport.State, now time.Time) (beat float64, ok bool) {
	if state.Status != transport.Playing || state.Clock == nil {
		return 0, false
	}
	return state.Clock.CurrentBeat(now), true
}

// Cursor describes the playhead relative to the compiled timeline.
type Cursor struct {
	Beat     float64
	Event    timeline.Event
	Fraction float64 // progress through Event, 0..1
	Valid    bool    // false when the beat falls outside the timeline
}

// Interpolator clamps the transport position to a timeline so callers can
// map it to layout coordinates.
type Interpolator struct {
	tl *timeline.Timeline
}

func New(tl *timeline.Timeline) *Interpolator {
	return &Interpolator{tl: tl}
}

// Position returns the playhead beat clamped to [0, TotalBeats].
func (p *Interpolator) Position(state transport.State, now time.Time) (float64, bool) {
	beat, ok := PositionAt(state, now)
	if !ok {
		return 0, false
	}
	if beat < 0 {
		beat = 0
	}
	if total := p.tl.TotalBeats(); beat > total {
		beat = total
	}
	return beat, true
}

// Cursor resolves the playhead to the event it is inside.
func (p *Interpolator) Cursor(state transport.State, now time.Time) Cursor {
	beat, ok := p.Position(state, now)
	if !ok {
		return Cursor{}
	}
	ev, found := p.tl.Locate(beat)
	if !found {
		return Cursor{Beat: beat}
	}
	frac := (beat - ev.Beat()) / ev.DurationBeats()
	if frac < 0 {
		frac = 0
	} else if frac > 1 {
		frac = 1
	}
	return Cursor{Beat: beat, Event: ev, Fraction: frac, Valid: true}
}
