package timeline

import (
	"fmt"

	"github.com/cbegin/chordplay-go/internal/score"
)

type Config struct {
	SlotsPerBar        int
	BeatsPerBar        int
	DefaultRepeatCount int // used when a repeat end carries no count
	MaxRepeatCount     int
}

func DefaultConfig() Config {
	return Config{
		SlotsPerBar:        4,
		BeatsPerBar:        4,
		DefaultRepeatCount: 2,
		MaxRepeatCount:     64,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.SlotsPerBar <= 0 {
		c.SlotsPerBar = def.SlotsPerBar
	}
	if c.BeatsPerBar <= 0 {
		c.BeatsPerBar = def.BeatsPerBar
	}
	if c.DefaultRepeatCount < 2 {
		c.DefaultRepeatCount = def.DefaultRepeatCount
	}
	if c.MaxRepeatCount < c.DefaultRepeatCount {
		c.MaxRepeatCount = c.DefaultRepeatCount
	}
	return c
}

// BarTicks is the length of one bar.
func (c Config) BarTicks() Ticks {
	return Ticks(c.normalized().BeatsPerBar) * Resolution
}

// Compile flattens the score into a repeat-expanded timeline. It never
// fails: malformed bars and repeat markers are repaired and reported in
// Timeline.Issues.
func Compile(s *score.Score, cfg Config) *Timeline {
	cfg = cfg.normalized()
	c := &compiler{
		cfg:     cfg,
		barLen:  Ticks(cfg.BeatsPerBar) * Resolution,
		out:     &Timeline{BeatsPerBar: cfg.BeatsPerBar},
		slotBuf: make([]*score.Chord, cfg.SlotsPerBar),
	}
	if s == nil {
		return c.out
	}
	for si := range s.Sections {
		c.section(si, &s.Sections[si])
	}
	c.out.total = c.cursor
	c.out.bars = c.barIndex
	return c.out
}

type compiler struct {
	cfg      Config
	barLen   Ticks
	out      *Timeline
	cursor   Ticks
	barIndex int
	slotBuf  []*score.Chord
	chords   map[*score.Chord]*score.Chord
}

// section emits the bars of one section, expanding at most one open repeat
// region at a time.
func (c *compiler) section(si int, sec *score.Section) {
	bars := sec.Bars
	open := -1 // index of the unmatched repeat start
	next := 0  // first source bar not yet emitted
	for i := range bars {
		bar := &bars[i]
		if bar.RepeatStart {
			if open >= 0 {
				c.issue(IssueNestedStart, si, i, fmt.Sprintf("repeat already open at bar %d; start ignored", open))
			} else {
				c.emitRange(si, sec, next, i, 1)
				open = i
				next = i
			}
		}
		if !bar.RepeatEnd {
			continue
		}
		start := open
		if start < 0 {
			// replay from the top of the section, closed regions included
			start = 0
			c.issue(IssueUnmatchedEnd, si, i, "no repeat start; replaying from section start")
		}
		c.emitRange(si, sec, start, i+1, c.repeatCount(si, i, bar.RepeatCount))
		open = -1
		next = i + 1
	}
	if open >= 0 {
		c.issue(IssueUnmatchedStart, si, open, "repeat start never closed; played once")
	}
	c.emitRange(si, sec, next, len(bars), 1)
}

func (c *compiler) repeatCount(si, bi, n int) int {
	switch {
	case n == 0:
		return c.cfg.DefaultRepeatCount
	case n < 2:
		c.issue(IssueRepeatCount, si, bi, fmt.Sprintf("repeat count %d raised to 2", n))
		return 2
	case n > c.cfg.MaxRepeatCount:
		c.issue(IssueRepeatCount, si, bi, fmt.Sprintf("repeat count %d capped at %d", n, c.cfg.MaxRepeatCount))
		return c.cfg.MaxRepeatCount
	}
	return n
}

// emitRange plays bars [from, to) count times in a row.
func (c *compiler) emitRange(si int, sec *score.Section, from, to, count int) {
	if from >= to {
		return
	}
	for pass := 0; pass < count; pass++ {
		for bi := from; bi < to; bi++ {
			c.emitBar(si, sec, bi, pass)
		}
	}
}

func (c *compiler) emitBar(si int, sec *score.Section, bi int, pass int) {
	bar := &sec.Bars[bi]
	slots := c.fitSlots(si, bi, bar.Slots)
	n := Ticks(len(slots))
	start := c.cursor
	for k, slot := range slots {
		// Boundaries are computed from the bar start so the bar length is
		// exact even when the slot count does not divide it.
		off := start + c.barLen*Ticks(k)/n
		end := start + c.barLen*Ticks(k+1)/n
		c.out.Events = append(c.out.Events, Event{
			Offset:   off,
			Duration: end - off,
			Chord:    c.chord(slot),
			Ref: SourceRef{
				Section:   si,
				SectionID: sec.ID,
				Bar:       bi,
				BarID:     bar.ID,
				Slot:      k,
				Pass:      pass,
				BarIndex:  c.barIndex,
			},
		})
	}
	c.cursor = start + c.barLen
	c.barIndex++
}

// fitSlots pads or truncates a bar to the configured slot count.
func (c *compiler) fitSlots(si, bi int, slots []*score.Chord) []*score.Chord {
	want := c.cfg.SlotsPerBar
	if len(slots) == want {
		return slots
	}
	if !c.reported(IssueSlotCount, si, bi) {
		c.issue(IssueSlotCount, si, bi, fmt.Sprintf("bar has %d slots, want %d", len(slots), want))
	}
	for i := range c.slotBuf {
		c.slotBuf[i] = nil
	}
	copy(c.slotBuf, slots)
	return c.slotBuf
}

// chord copies a source chord once so events never alias editor state.
func (c *compiler) chord(src *score.Chord) *score.Chord {
	if src == nil {
		return nil
	}
	if c.chords == nil {
		c.chords = make(map[*score.Chord]*score.Chord)
	}
	if cp, ok := c.chords[src]; ok {
		return cp
	}
	cp := *src
	c.chords[src] = &cp
	return &cp
}

func (c *compiler) issue(kind IssueKind, si, bi int, detail string) {
	c.out.Issues = append(c.out.Issues, Issue{Kind: kind, Section: si, Bar: bi, Detail: detail})
}

func (c *compiler) reported(kind IssueKind, si, bi int) bool {
	for _, is := range c.out.Issues {
		if is.Kind == kind && is.Section == si && is.Bar == bi {
			return true
		}
	}
	return false
}
