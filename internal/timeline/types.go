package timeline

import (
	"fmt"
	"sort"

	"github.com/cbegin/chordplay-go/internal/score"
)

// Resolution is the number of ticks per beat. Offsets are integral ticks so
// slot boundaries are exact for any slot count dividing 4*Resolution.
const Resolution = 960

type Ticks int64

// Beats converts ticks to a fractional beat count.
func (t Ticks) Beats() float64 {
	return float64(t) / Resolution
}

// TicksForBeat converts a fractional beat to the nearest tick.
func TicksForBeat(beat float64) Ticks {
	if beat < 0 {
		return Ticks(beat*Resolution - 0.5)
	}
	return Ticks(beat*Resolution + 0.5)
}

// SourceRef identifies the bar slot an event was compiled from.
type SourceRef struct {
	Section   int    `json:"section"`
	SectionID string `json:"sectionId"`
	Bar       int    `json:"bar"` // source bar index within the section
	BarID     string `json:"barId"`
	Slot      int    `json:"slot"`
	Pass      int    `json:"pass"`     // 0-based repeat pass of the enclosing region
	BarIndex  int    `json:"barIndex"` // performed bar index across the whole timeline
}

func (r SourceRef) String() string {
	return fmt.Sprintf("s%d/b%d/%d (bar %d, pass %d)", r.Section, r.Bar, r.Slot, r.BarIndex, r.Pass)
}

// Event is one slot occurrence on the performance timeline. A nil Chord is a
// scheduled rest.
type Event struct {
	Offset   Ticks        `json:"offset"`
	Duration Ticks        `json:"duration"`
	Chord    *score.Chord `json:"chord,omitempty"`
	Ref      SourceRef    `json:"ref"`
}

func (e Event) Beat() float64          { return e.Offset.Beats() }
func (e Event) DurationBeats() float64 { return e.Duration.Beats() }
func (e Event) End() Ticks             { return e.Offset + e.Duration }
func (e Event) IsRest() bool           { return e.Chord == nil }

type IssueKind int

const (
	IssueSlotCount IssueKind = iota + 1
	IssueRepeatCount
	IssueUnmatchedEnd
	IssueUnmatchedStart
	IssueNestedStart
)

func (k IssueKind) String() string {
	switch k {
	case IssueSlotCount:
		return "slot-count"
	case IssueRepeatCount:
		return "repeat-count"
	case IssueUnmatchedEnd:
		return "unmatched-repeat-end"
	case IssueUnmatchedStart:
		return "unmatched-repeat-start"
	case IssueNestedStart:
		return "nested-repeat-start"
	}
	return "unknown"
}

// Issue records malformed input the compiler repaired.
type Issue struct {
	Kind    IssueKind
	Section int
	Bar     int
	Detail  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s at section %d bar %d: %s", i.Kind, i.Section, i.Bar, i.Detail)
}

// Timeline is the flattened, repeat-expanded performance plan.
type Timeline struct {
	Events      []Event
	Issues      []Issue
	BeatsPerBar int
	bars        int
	total       Ticks
}

func (t *Timeline) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Events)
}

func (t *Timeline) Empty() bool { return t.Len() == 0 }

// Bars returns the number of performed bars.
func (t *Timeline) Bars() int {
	if t == nil {
		return 0
	}
	return t.bars
}

func (t *Timeline) TotalTicks() Ticks {
	if t == nil {
		return 0
	}
	return t.total
}

func (t *Timeline) TotalBeats() float64 { return t.TotalTicks().Beats() }

// ChordEvents returns the events that carry a chord.
func (t *Timeline) ChordEvents() []Event {
	if t == nil {
		return nil
	}
	out := make([]Event, 0, len(t.Events))
	for _, ev := range t.Events {
		if ev.Chord != nil {
			out = append(out, ev)
		}
	}
	return out
}

// Locate returns the event sounding at the given beat.
func (t *Timeline) Locate(beat float64) (Event, bool) {
	if t.Empty() || beat < 0 {
		return Event{}, false
	}
	tick := Ticks(beat * Resolution)
	if tick >= t.total {
		return Event{}, false
	}
	i := sort.Search(len(t.Events), func(i int) bool {
		return t.Events[i].End() > tick
	})
	if i >= len(t.Events) || t.Events[i].Offset > tick {
		return Event{}, false
	}
	return t.Events[i], true
}

// Equal reports whether two timelines describe the same performance.
func (t *Timeline) Equal(o *Timeline) bool {
	if t.Len() != o.Len() || t.TotalTicks() != o.TotalTicks() || t.Bars() != o.Bars() {
		return false
	}
	for i := range t.Events {
		a, b := t.Events[i], o.Events[i]
		if a.Offset != b.Offset || a.Duration != b.Duration || a.Ref != b.Ref {
			return false
		}
		if (a.Chord == nil) != (b.Chord == nil) {
			return false
		}
		if a.Chord != nil && *a.Chord != *b.Chord {
			return false
		}
	}
	return true
}
