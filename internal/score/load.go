package score

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatForPath picks a document format from the file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", errors.Errorf("unsupported score file extension %q (expected .yaml, .yml or .json)", filepath.Ext(path))
	}
}

// Load reads a score document from disk.
func Load(path string) (*Score, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read score %s", path)
	}
	s, err := Parse(data, format)
	if err != nil {
		return nil, errors.Wrapf(err, "parse score %s", path)
	}
	return s, nil
}

// Parse decodes a score document and normalizes it: missing IDs are
// generated, key and tempo fall back to defaults and tempo is clamped.
// Slots without a root become rests.
func Parse(data []byte, format Format) (*Score, error) {
	var s Score
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil {
			return nil, errors.Wrap(err, "decode yaml")
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, errors.Wrap(err, "decode json")
		}
	default:
		return nil, errors.Errorf("unknown score format %q", format)
	}
	Normalize(&s)
	return &s, nil
}

// Normalize fills defaults in place.
func Normalize(s *Score) {
	if strings.TrimSpace(s.Key) == "" {
		s.Key = DefaultKey
	}
	if s.BPM <= 0 {
		s.BPM = DefaultBPM
	}
	s.BPM = ClampBPM(s.BPM)
	for i := range s.Sections {
		sec := &s.Sections[i]
		if sec.ID == "" {
			sec.ID = newID()
		}
		for j := range sec.Bars {
			bar := &sec.Bars[j]
			if bar.ID == "" {
				bar.ID = newID()
			}
			// a slot with no root is an unfinished edit, not a chord
			for k, slot := range bar.Slots {
				if slot != nil && strings.TrimSpace(slot.Root) == "" {
					bar.Slots[k] = nil
				}
			}
		}
	}
}

func ClampBPM(bpm float64) float64 {
	if bpm < MinBPM {
		return MinBPM
	}
	if bpm > MaxBPM {
		return MaxBPM
	}
	return bpm
}

// Encode writes the score in the requested format.
func Encode(s *Score, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		out, err := yaml.Marshal(s)
		return out, errors.Wrap(err, "encode yaml")
	case FormatJSON:
		out, err := json.MarshalIndent(s, "", "  ")
		return out, errors.Wrap(err, "encode json")
	default:
		return nil, errors.Errorf("unknown score format %q", format)
	}
}

func newID() string {
	return uuid.NewString()[:8]
}
