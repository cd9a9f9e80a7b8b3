package score

import "strings"

// Chord is one chord symbol expressed as scale degrees of the song key.
type Chord struct {
	Root      string `json:"root" yaml:"root"`
	Extension string `json:"ext,omitempty" yaml:"ext,omitempty"`
	Bass      string `json:"bass,omitempty" yaml:"bass,omitempty"` // slash/bass override degree
}

// Label renders the chord the way the grid displays it, e.g. "IVmaj7/V".
func (c Chord) Label() string {
	var b strings.Builder
	b.WriteString(c.Root)
	b.WriteString(c.Extension)
	if c.Bass != "" {
		b.WriteByte('/')
		b.WriteString(c.Bass)
	}
	return b.String()
}

// Bar holds a fixed number of slots. A nil slot is a rest.
type Bar struct {
	ID          string   `json:"id" yaml:"id"`
	Slots       []*Chord `json:"slots" yaml:"slots"`
	RepeatStart bool     `json:"repeatStart,omitempty" yaml:"repeatStart,omitempty"`
	RepeatEnd   bool     `json:"repeatEnd,omitempty" yaml:"repeatEnd,omitempty"`
	RepeatCount int      `json:"repeatCount,omitempty" yaml:"repeatCount,omitempty"`
}

// Populated returns the number of slots holding a chord.
func (b Bar) Populated() int {
	n := 0
	for _, s := range b.Slots {
		if s != nil {
			n++
		}
	}
	return n
}

type Section struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Bars []Bar  `json:"bars" yaml:"bars"`
}

type Score struct {
	Title    string    `json:"title,omitempty" yaml:"title,omitempty"`
	Artist   string    `json:"artist,omitempty" yaml:"artist,omitempty"`
	Key      string    `json:"key" yaml:"key"`
	BPM      float64   `json:"bpm" yaml:"bpm"`
	Sections []Section `json:"sections" yaml:"sections"`
}

const (
	DefaultKey = "C"
	DefaultBPM = 100
	MinBPM     = 30
	MaxBPM     = 300
)

// Clone deep-copies the score so a performance never aliases editor state.
func (s *Score) Clone() *Score {
	if s == nil {
		return nil
	}
	out := *s
	out.Sections = make([]Section, len(s.Sections))
	for i, sec := range s.Sections {
		cs := sec
		cs.Bars = make([]Bar, len(sec.Bars))
		for j, bar := range sec.Bars {
			cb := bar
			cb.Slots = make([]*Chord, len(bar.Slots))
			for k, slot := range bar.Slots {
				if slot != nil {
					c := *slot
					cb.Slots[k] = &c
				}
			}
			cs.Bars[j] = cb
		}
		out.Sections[i] = cs
	}
	return &out
}

// BarCount returns the number of source bars across all sections.
func (s *Score) BarCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, sec := range s.Sections {
		n += len(sec.Bars)
	}
	return n
}

// EmptyBar returns a bar with the given number of rest slots.
func EmptyBar(id string, slots int) Bar {
	return Bar{ID: id, Slots: make([]*Chord, slots)}
}
