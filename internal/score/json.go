package score

import "encoding/json"

// UnmarshalJSON also reads the field names used by earlier browser
// exports: "roman" for root, "extension" for ext and "slash" for bass.
// Canonical names win when both are present.
func (c *Chord) UnmarshalJSON(data []byte) error {
	type plain Chord
	var aux struct {
		plain
		Roman string `json:"roman"`
		Ext   string `json:"extension"`
		Slash string `json:"slash"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	out := Chord(aux.plain)
	if out.Root == "" {
		out.Root = aux.Roman
	}
	if out.Extension == "" {
		out.Extension = aux.Ext
	}
	if out.Bass == "" {
		out.Bass = aux.Slash
	}
	*c = out
	return nil
}

// UnmarshalJSON accepts "chords" and "beats" as names for the slot list.
func (b *Bar) UnmarshalJSON(data []byte) error {
	type plain Bar
	var aux struct {
		plain
		Chords []*Chord `json:"chords"`
		Beats  []*Chord `json:"beats"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	out := Bar(aux.plain)
	switch {
	case out.Slots != nil:
	case aux.Chords != nil:
		out.Slots = aux.Chords
	default:
		out.Slots = aux.Beats
	}
	*b = out
	return nil
}
