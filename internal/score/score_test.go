package score

import (
	"os"
	"path/filepath"
	"testing"
)

const yamlDoc = `
title: Blue Room
key: Eb
bpm: 500
sections:
  - name: Verse
    bars:
      - slots: [{root: I, ext: maj7}, null, {root: vi}, ~]
        repeatStart: true
      - id: b2
        slots: [{root: IV, bass: V}, null, null, null]
        repeatEnd: true
        repeatCount: 3
`

func TestParseYAMLNormalizes(t *testing.T) {
	s, err := Parse([]byte(yamlDoc), FormatYAML)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if s.BPM != MaxBPM {
		t.Fatalf("bpm = %v, want clamp to %v", s.BPM, MaxBPM)
	}
	if s.Key != "Eb" {
		t.Fatalf("key = %q", s.Key)
	}
	if len(s.Sections) != 1 || len(s.Sections[0].Bars) != 2 {
		t.Fatalf("unexpected shape: %#v", s.Sections)
	}
	sec := s.Sections[0]
	if sec.ID == "" || sec.Bars[0].ID == "" {
		t.Fatalf("expected generated ids, got section=%q bar=%q", sec.ID, sec.Bars[0].ID)
	}
	if sec.Bars[1].ID != "b2" {
		t.Fatalf("explicit id overwritten: %q", sec.Bars[1].ID)
	}
	if got := sec.Bars[0].Populated(); got != 2 {
		t.Fatalf("populated = %d, want 2", got)
	}
	if sec.Bars[0].Slots[1] != nil || sec.Bars[0].Slots[3] != nil {
		t.Fatalf("null slots should decode as rests")
	}
	if got := sec.Bars[1].Slots[0].Label(); got != "IV/V" {
		t.Fatalf("label = %q, want IV/V", got)
	}
}

func TestParseJSONDefaults(t *testing.T) {
	s, err := Parse([]byte(`{"sections":[{"bars":[{"slots":[null,null,null,null]}]}]}`), FormatJSON)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if s.Key != DefaultKey || s.BPM != DefaultBPM {
		t.Fatalf("defaults not applied: key=%q bpm=%v", s.Key, s.BPM)
	}
}

// Shape written by the browser editor's JSON export.
const browserExport = `{
  "title": "Untitled Progression",
  "artist": "Artist Name",
  "key": "G",
  "bpm": 96,
  "sections": [{
    "id": "s_1",
    "name": "Section 1",
    "bars": [
      {"id": "b_1", "chords": [{"root": "I", "extension": "maj7"}, null, {"extension": "7"}, null],
       "repeatStart": true, "repeatEnd": false},
      {"id": "b_2", "beats": [{"roman": "V", "ext": "7", "slash": "vii"}, null, null, null],
       "repeatStart": false, "repeatEnd": true},
      {"id": "b_3", "slots": [{"root": "IV", "ext": "6", "extension": "9"}],
       "chords": [{"root": "ii"}]}
    ]
  }]
}`

func TestParseJSONAcceptsBrowserFieldNames(t *testing.T) {
	s, err := Parse([]byte(browserExport), FormatJSON)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	bars := s.Sections[0].Bars
	if len(bars) != 3 {
		t.Fatalf("bars = %d, want 3", len(bars))
	}
	cases := []struct {
		bar, slot int
		want      *Chord
	}{
		{0, 0, &Chord{Root: "I", Extension: "maj7"}},
		{0, 1, nil},
		{0, 2, nil}, // extension without a root
		{1, 0, &Chord{Root: "V", Extension: "7", Bass: "vii"}},
		{2, 0, &Chord{Root: "IV", Extension: "6"}},
	}
	for _, tc := range cases {
		slots := bars[tc.bar].Slots
		if tc.slot >= len(slots) {
			t.Fatalf("bar %d has %d slots", tc.bar, len(slots))
		}
		got := slots[tc.slot]
		switch {
		case tc.want == nil && got != nil:
			t.Fatalf("bar %d slot %d = %+v, want rest", tc.bar, tc.slot, *got)
		case tc.want != nil && (got == nil || *got != *tc.want):
			t.Fatalf("bar %d slot %d = %+v, want %+v", tc.bar, tc.slot, got, *tc.want)
		}
	}
	if len(bars[2].Slots) != 1 {
		t.Fatalf("canonical slots should win over chords, got %d slots", len(bars[2].Slots))
	}
	if !bars[0].RepeatStart || !bars[1].RepeatEnd {
		t.Fatalf("repeat flags lost: %+v %+v", bars[0], bars[1])
	}

	out, err := Encode(s, FormatJSON)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	again, err := Parse(out, FormatJSON)
	if err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	if *again.Sections[0].Bars[1].Slots[0] != *bars[1].Slots[0] {
		t.Fatalf("canonical re-encode changed the chord")
	}
}

func TestParseRejectsUnknownYAMLField(t *testing.T) {
	if _, err := Parse([]byte("tempo: 90\n"), FormatYAML); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "song.yml")
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, err := Load(filepath.Join(dir, "song.txt")); err == nil {
		t.Fatalf("expected extension error")
	}
}

func TestCloneIsDeep(t *testing.T) {
	s, err := Parse([]byte(yamlDoc), FormatYAML)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	c := s.Clone()
	c.Sections[0].Bars[0].Slots[0].Root = "V"
	c.Sections[0].Bars[0].RepeatStart = false
	if s.Sections[0].Bars[0].Slots[0].Root != "I" || !s.Sections[0].Bars[0].RepeatStart {
		t.Fatalf("clone aliases the original")
	}
	if s.BarCount() != 2 {
		t.Fatalf("bar count = %d", s.BarCount())
	}
}

func TestEncodeRoundTripYAML(t *testing.T) {
	s, err := Parse([]byte(yamlDoc), FormatYAML)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	out, err := Encode(s, FormatYAML)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	back, err := Parse(out, FormatYAML)
	if err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	if back.Sections[0].Bars[1].RepeatCount != 3 {
		t.Fatalf("repeat count lost: %d", back.Sections[0].Bars[1].RepeatCount)
	}
}
