// Package theory holds the pure pitch math used for voicing chord symbols.
package theory

import (
	"math"
	"strings"

	"github.com/cbegin/chordplay-go/internal/score"
)

// Reference octaves for voiced notes.
const (
	RootOctave = 4
	BassOctave = 3
)

type Voicing int

const (
	VoicingRoot Voicing = iota // single root (or bass override) note
	VoicingTriad               // bass plus chord tones
)

var keySemitones = map[string]int{
	"C": 0, "C#": 1, "Db": 1, "D": 2, "D#": 3, "Eb": 3, "E": 4, "F": 5,
	"F#": 6, "Gb": 6, "G": 7, "G#": 8, "Ab": 8, "A": 9, "A#": 10, "Bb": 10, "B": 11,
}

var degreeSemitones = map[string]int{
	"I": 0, "II": 2, "III": 4, "IV": 5, "V": 7, "VI": 9, "VII": 11,
}

// KeySemitone returns the key tonic as semitones above C.
func KeySemitone(key string) (int, bool) {
	v, ok := keySemitones[strings.TrimSpace(key)]
	return v, ok
}

// DegreeSemitone returns the major-scale offset of a roman numeral degree.
// Quality marks (°, o, +) are ignored.
func DegreeSemitone(degree string) (int, bool) {
	v, ok := degreeSemitones[strings.ToUpper(numeral(degree))]
	return v, ok
}

// IsMinorDegree reports whether the numeral is written lowercase.
func IsMinorDegree(degree string) bool {
	n := numeral(degree)
	return n != "" && n == strings.ToLower(n)
}

func isDiminishedDegree(degree string) bool {
	d := strings.TrimSpace(degree)
	return strings.HasSuffix(d, "°") || strings.HasSuffix(d, "o")
}

func numeral(degree string) string {
	d := strings.TrimSpace(degree)
	d = strings.TrimSuffix(d, "°")
	d = strings.TrimSuffix(d, "o")
	return strings.TrimSuffix(d, "+")
}

// ChordIntervals returns semitone offsets above the chord root.
func ChordIntervals(c score.Chord) []int {
	third, fifth := 4, 7
	if IsMinorDegree(c.Root) {
		third = 3
	}
	if isDiminishedDegree(c.Root) {
		third, fifth = 3, 6
	}
	out := []int{0, third, fifth}
	switch strings.TrimSpace(c.Extension) {
	case "maj7":
		out = append(out, 11)
	case "7":
		out = append(out, 10)
	case "m7":
		out = []int{0, 3, 7, 10}
	case "dim":
		out = []int{0, 3, 6}
	case "aug":
		out = []int{0, 4, 8}
	case "sus2":
		out = []int{0, 2, 7}
	case "sus4":
		out = []int{0, 5, 7}
	case "add9":
		out = append(out, 14)
	case "6":
		out = append(out, 9)
	case "9":
		out = append(out, 10, 14)
	case "11":
		out = append(out, 10, 14, 17)
	case "13":
		out = append(out, 10, 14, 21)
	}
	return out
}

// MIDINote maps a pitch class and octave to a MIDI note number (C4 = 60).
func MIDINote(semitoneFromC int, octave int) int {
	return (octave+1)*12 + semitoneFromC
}

// Frequency is the equal-tempered frequency of a MIDI note, A4 = 440 Hz.
func Frequency(note int) float64 {
	return 440 * math.Pow(2, float64(note-69)/12)
}

// RootNote returns the note that sounds for a root-only voicing: the bass
// override one octave down when it is a known degree, the root otherwise.
func RootNote(key string, c score.Chord) (int, bool) {
	tonic, ok := KeySemitone(key)
	if !ok {
		return 0, false
	}
	if c.Bass != "" {
		if b, ok := DegreeSemitone(c.Bass); ok {
			return MIDINote((tonic+b)%12, BassOctave), true
		}
	}
	r, ok := DegreeSemitone(c.Root)
	if !ok {
		return 0, false
	}
	return MIDINote((tonic+r)%12, RootOctave), true
}

// ChordNotes returns the MIDI notes sounded for a chord under the voicing.
func ChordNotes(key string, c score.Chord, v Voicing) ([]int, bool) {
	if v == VoicingRoot {
		n, ok := RootNote(key, c)
		if !ok {
			return nil, false
		}
		return []int{n}, true
	}
	tonic, ok := KeySemitone(key)
	if !ok {
		return nil, false
	}
	r, ok := DegreeSemitone(c.Root)
	if !ok {
		return nil, false
	}
	root := MIDINote((tonic+r)%12, RootOctave)
	var notes []int
	if c.Bass != "" {
		if b, ok := DegreeSemitone(c.Bass); ok {
			notes = append(notes, MIDINote((tonic+b)%12, BassOctave))
		}
	}
	for _, iv := range ChordIntervals(c) {
		notes = append(notes, root+iv)
	}
	return notes, true
}

// ChordFrequencies is ChordNotes mapped through Frequency.
func ChordFrequencies(key string, c score.Chord, v Voicing) ([]float64, bool) {
	notes, ok := ChordNotes(key, c, v)
	if !ok {
		return nil, false
	}
	out := make([]float64, len(notes))
	for i, n := range notes {
		out[i] = Frequency(n)
	}
	return out, true
}

// ParseVoicing accepts "root" or "triad".
func ParseVoicing(name string) (Voicing, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "root":
		return VoicingRoot, true
	case "triad", "chord":
		return VoicingTriad, true
	}
	return VoicingRoot, false
}

func (v Voicing) String() string {
	if v == VoicingTriad {
		return "triad"
	}
	return "root"
}
