package chordplay

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cbegin/chordplay-go/internal/synth"
	"github.com/cbegin/chordplay-go/internal/theory"
	"github.com/cbegin/chordplay-go/internal/transport"
)

var renderEpoch = time.Unix(0, 0)

// RenderConfig describes an offline render. A zero Mixer means default
// mixer params.
type RenderConfig struct {
	Key        string
	BPM        float64
	SampleRate int
	Voicing    theory.Voicing
	Mixer      synth.Params
	Logger     logrus.FieldLogger
}

// Rendered is interleaved stereo audio plus the number of chord events
// that could not be voiced.
type Rendered struct {
	Samples []float32
	Skipped int
}

// Render renders the whole timeline offline through the same mixer and
// voice the engine plays with. Chords that cannot be voiced are logged and
// skipped, as they are during live playback.
func Render(tl *Timeline, rc RenderConfig) (Rendered, error) {
	clock, err := transport.New(rc.BPM, renderEpoch, 0)
	if err != nil {
		return Rendered{}, err
	}
	if rc.SampleRate <= 0 {
		return Rendered{}, errors.Errorf("invalid sample rate %d", rc.SampleRate)
	}
	params := rc.Mixer
	if params == (synth.Params{}) {
		params = synth.DefaultParams()
	}
	log := rc.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := synth.NewMixer(rc.SampleRate, params)
	m.Anchor(renderEpoch)
	v := synth.NewVoice(m, rc.Key, rc.Voicing)
	var r Rendered
	for _, ev := range tl.ChordEvents() {
		if err := v.Trigger(*ev.Chord, clock.TimeAt(ev.Beat()), clock.BeatDuration(ev.DurationBeats())); err != nil {
			r.Skipped++
			log.WithError(err).WithFields(logrus.Fields{
				"bar":  ev.Ref.BarIndex,
				"slot": ev.Ref.Slot,
			}).Warn("chord skipped")
		}
	}
	frames := m.Frames(clock.BeatDuration(tl.TotalBeats()))
	r.Samples = make([]float32, frames*2)
	m.Process(r.Samples)
	return r, nil
}

// RenderSamples renders with the default mixer.
func RenderSamples(tl *Timeline, key string, bpm float64, sampleRate int, voicing theory.Voicing) ([]float32, error) {
	r, err := Render(tl, RenderConfig{Key: key, BPM: bpm, SampleRate: sampleRate, Voicing: voicing})
	return r.Samples, err
}

func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
