package chordplay

import (
	"fmt"
	"io"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/chordplay-go/internal/theory"
	"github.com/cbegin/chordplay-go/internal/timeline"
)

const smfVelocity = 100

// ExportSMF writes the compiled timeline as a format 1 Standard MIDI File:
// a tempo track followed by one chord track. Ticks per quarter match the
// timeline resolution so offsets carry over exactly.
func ExportSMF(tl *Timeline, key string, bpm float64, voicing theory.Voicing) (*smf.SMF, error) {
	if bpm <= 0 {
		return nil, fmt.Errorf("invalid tempo %v", bpm)
	}
	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(timeline.Resolution)

	beatsPerBar := tl.BeatsPerBar
	if beatsPerBar <= 0 {
		beatsPerBar = 4
	}
	var tempo smf.Track
	tempo.Add(0, smf.MetaMeter(uint8(beatsPerBar), 4))
	tempo.Add(0, smf.MetaTempo(bpm))
	tempo.Close(0)
	if err := sm.Add(tempo); err != nil {
		return nil, fmt.Errorf("error adding tempo track: %w", err)
	}

	var chords smf.Track
	var pos timeline.Ticks
	for _, ev := range tl.ChordEvents() {
		notes, ok := theory.ChordNotes(key, *ev.Chord, voicing)
		if !ok || len(notes) == 0 {
			continue
		}
		delta := uint32(ev.Offset - pos)
		for _, n := range notes {
			chords.Add(delta, midi.NoteOn(0, uint8(n), smfVelocity))
			delta = 0
		}
		delta = uint32(ev.Duration)
		for _, n := range notes {
			chords.Add(delta, midi.NoteOff(0, uint8(n)))
			delta = 0
		}
		pos = ev.End()
	}
	chords.Close(uint32(tl.TotalTicks() - pos))
	if err := sm.Add(chords); err != nil {
		return nil, fmt.Errorf("error adding chord track: %w", err)
	}
	return sm, nil
}

func WriteSMF(w io.Writer, tl *Timeline, key string, bpm float64, voicing theory.Voicing) error {
	sm, err := ExportSMF(tl, key, bpm, voicing)
	if err != nil {
		return err
	}
	_, err = sm.WriteTo(w)
	return err
}

func WriteSMFFile(path string, tl *Timeline, key string, bpm float64, voicing theory.Voicing) error {
	sm, err := ExportSMF(tl, key, bpm, voicing)
	if err != nil {
		return err
	}
	return sm.WriteFile(path)
}
