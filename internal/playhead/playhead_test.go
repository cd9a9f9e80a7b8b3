package playhead

import (
	"math"
	"testing"
	"time"

	"github.com/cbegin/chordplay-go/internal/score"
	"github.com/cbegin/chordplay-go/internal/timeline"
	"github.com/cbegin/chordplay-go/internal/transport"
)

func testTimeline() *timeline.Timeline {
	s := &score.Score{Key: "C", BPM: 120, Sections: []score.Section{{
		ID: "s",
		Bars: []score.Bar{
			{ID: "b0", Slots: []*score.Chord{{Root: "I"}, nil, {Root: "V"}, nil}},
			{ID: "b1", Slots: []*score.Chord{{Root: "IV"}, nil, nil, nil}},
		},
	}}}
	return timeline.Compile(s, timeline.DefaultConfig())
}

func TestPositionAtStoppedIsUndefined(t *testing.T) {
	if _, ok := PositionAt(transport.State{}, time.Now()); ok {
		t.Fatalf("stopped transport should not report a position")
	}
}

func TestPositionAdvancesContinuously(t *testing.T) {
	start := time.Unix(100, 0)
	clock, _ := transport.New(120, start, 0)
	state := transport.State{Status: transport.Playing, Clock: clock}
	prev := -1.0
	for ms := 0; ms <= 4000; ms += 7 {
		beat, ok := PositionAt(state, start.Add(time.Duration(ms)*time.Millisecond))
		if !ok {
			t.Fatalf("expected a position at %dms", ms)
		}
		if beat <= prev {
			t.Fatalf("position not increasing at %dms: %v <= %v", ms, beat, prev)
		}
		prev = beat
	}
	if math.Abs(prev-7.994) > 1e-9 {
		t.Fatalf("beat after 3.997s = %v, want 7.994", prev)
	}
}

func TestInterpolatorClampsAndLocates(t *testing.T) {
	tl := testTimeline()
	start := time.Unix(0, 0)
	clock, _ := transport.New(120, start, 0)
	state := transport.State{Status: transport.Playing, Clock: clock}
	ip := New(tl)

	if beat, _ := ip.Position(state, start.Add(-time.Second)); beat != 0 {
		t.Fatalf("position before start = %v, want 0", beat)
	}
	if beat, _ := ip.Position(state, start.Add(time.Minute)); beat != 8 {
		t.Fatalf("position after end = %v, want clamp to 8", beat)
	}

	cur := ip.Cursor(state, start.Add(1250*time.Millisecond)) // beat 2.5
	if !cur.Valid || cur.Event.Ref.Slot != 2 || cur.Event.Chord == nil || cur.Event.Chord.Root != "V" {
		t.Fatalf("cursor = %+v, want slot 2 (V)", cur)
	}
	if math.Abs(cur.Fraction-0.5) > 1e-9 {
		t.Fatalf("fraction = %v, want 0.5", cur.Fraction)
	}
	if end := ip.Cursor(state, start.Add(time.Minute)); end.Valid || end.Beat != 8 {
		t.Fatalf("cursor past end = %+v", end)
	}
	if idle := ip.Cursor(transport.State{}, start); idle.Valid {
		t.Fatalf("idle cursor should be invalid")
	}
}
