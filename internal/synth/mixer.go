package synth

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const twoPi = math.Pi * 2

type Wave int

const (
	WaveSine Wave = iota
	WaveTriangle
)

type Params struct {
	Voices       int
	Peak         float64 // envelope peak per tone
	Floor        float64 // level the decay reaches at DecayPortion
	AttackSec    float64
	DecayPortion float64 // fraction of the tone length spent decaying to Floor
	MasterGain   float64
	Wave         Wave
	Room         float64 // reverb wet mix, 0 disables
	LimitDB      float64 // limiter threshold in dBFS, 0 disables
}

func DefaultParams() Params {
	return Params{
		Voices:       16,
		Peak:         0.12,
		Floor:        0.0001,
		AttackSec:    0.01,
		DecayPortion: 0.95,
		MasterGain:   1.0,
		Wave:         WaveSine,
		LimitDB:      -1,
	}
}

// Tone is one enveloped note on the mixer's frame clock.
type Tone struct {
	Freq   float64
	Start  int64 // frame
	Length int64 // frames
	Gain   float64
	Pan    float64 // -64..64
	Owner  uint64  // voice that scheduled the tone, 0 for none
}

type voice struct {
	active bool
	tone   Tone
	age    int64
	phase  float64
}

// Mixer renders scheduled tones into interleaved stereo float32 frames. It
// is the sample source behind the audio device and the offline renderer.
type Mixer struct {
	mu         sync.Mutex
	sampleRate float64
	params     Params
	voices     []voice
	pending    []Tone // sorted by Start
	bus        *Bus
	frame      int64
	epoch      time.Time
	masterGain uint64
	owners     atomic.Uint64
}

func NewMixer(sampleRate int, params Params) *Mixer {
	if params.Voices <= 0 {
		params.Voices = 16
	}
	if params.DecayPortion <= 0 || params.DecayPortion > 1 {
		params.DecayPortion = 0.95
	}
	if params.Peak <= 0 {
		params.Peak = 0.12
	}
	if params.Floor <= 0 || params.Floor >= params.Peak {
		params.Floor = params.Peak / 1200
	}
	return &Mixer{
		sampleRate: float64(sampleRate),
		params:     params,
		voices:     make([]voice, params.Voices),
		bus:        newBus(sampleRate, params),
		epoch:      time.Now(),
		masterGain: math.Float64bits(params.MasterGain),
	}
}

func (m *Mixer) SampleRate() int { return int(m.sampleRate) }

// Frame returns the next frame to be rendered.
func (m *Mixer) Frame() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame
}

// Anchor aligns wall-clock time now with the current render position.
func (m *Mixer) Anchor(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch = now.Add(-m.framesToDuration(m.frame))
}

// FrameAt maps a wall-clock instant to a frame on the render clock.
func (m *Mixer) FrameAt(t time.Time) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.durationToFrames(t.Sub(m.epoch))
}

// Frames converts a duration to a frame count.
func (m *Mixer) Frames(d time.Duration) int64 {
	return m.durationToFrames(d)
}

func (m *Mixer) durationToFrames(d time.Duration) int64 {
	sr := int64(m.sampleRate)
	ns := d.Nanoseconds()
	if ns < 0 {
		return (ns*sr - 5e8) / 1e9
	}
	return (ns*sr + 5e8) / 1e9
}

func (m *Mixer) framesToDuration(frames int64) time.Duration {
	return time.Duration(frames * int64(time.Second) / int64(m.sampleRate))
}

// Schedule queues a tone. Tones whose start frame has already been
// rendered begin on the next rendered frame.
func (m *Mixer) Schedule(t Tone) {
	if t.Length <= 0 || t.Freq <= 0 {
		return
	}
	if t.Gain <= 0 {
		t.Gain = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := sort.Search(len(m.pending), func(i int) bool { return m.pending[i].Start > t.Start })
	m.pending = append(m.pending, Tone{})
	copy(m.pending[i+1:], m.pending[i:])
	m.pending[i] = t
}

// CancelPending drops tones that have not started sounding. Sounding tones
// keep decaying.
func (m *Mixer) CancelPending() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = m.pending[:0]
}

// CancelOwner drops the queued tones scheduled by owner.
func (m *Mixer) CancelOwner(owner uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.pending[:0]
	for _, t := range m.pending {
		if t.Owner != owner {
			kept = append(kept, t)
		}
	}
	m.pending = kept
}

// NewOwner returns a fresh, non-zero owner tag for Tone.Owner.
func (m *Mixer) NewOwner() uint64 {
	return m.owners.Add(1)
}

// Pending returns the number of queued tones.
func (m *Mixer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Mixer) Process(dst []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	frames := len(dst) / 2
	gain := m.masterGainValue()
	for f := 0; f < frames; f++ {
		for len(m.pending) > 0 && m.pending[0].Start <= m.frame {
			m.start(m.pending[0])
			m.pending = m.pending[1:]
		}
		var l, r float64
		for i := range m.voices {
			v := &m.voices[i]
			if !v.active {
				continue
			}
			env := m.envelope(v)
			if !v.active {
				continue
			}
			sig := m.renderWave(v) * env * v.tone.Gain
			angle := ((v.tone.Pan + 64.0) / 128.0) * (math.Pi / 2.0)
			l += sig * math.Cos(angle) * gain
			r += sig * math.Sin(angle) * gain
		}
		if m.bus.Len() > 0 {
			l, r = m.bus.Process(l, r)
		}
		dst[f*2] = float32(clamp(l, -1, 1))
		dst[f*2+1] = float32(clamp(r, -1, 1))
		m.frame++
	}
}

func (m *Mixer) start(t Tone) {
	slot := m.stealVoice()
	m.voices[slot] = voice{active: true, tone: t}
}

// envelope advances the voice by one frame: linear attack from Floor to
// Peak, exponential decay back to Floor by DecayPortion of the length, then
// silence until the tone ends.
func (m *Mixer) envelope(v *voice) float64 {
	age := v.age
	v.age++
	length := v.tone.Length
	if age >= length {
		v.active = false
		return 0
	}
	p := m.params
	attack := p.AttackSec * m.sampleRate
	decayEnd := p.DecayPortion * float64(length)
	a := float64(age)
	switch {
	case a < attack && a < decayEnd:
		return p.Floor + (p.Peak-p.Floor)*a/attack
	case a < decayEnd:
		span := decayEnd - attack
		if span <= 0 {
			return 0
		}
		return p.Peak * math.Pow(p.Floor/p.Peak, (a-attack)/span)
	default:
		return 0
	}
}

func (m *Mixer) renderWave(v *voice) float64 {
	dt := v.tone.Freq / m.sampleRate
	ph := v.phase
	v.phase += dt
	if v.phase >= 1 {
		v.phase -= 1
	}
	switch m.params.Wave {
	case WaveTriangle:
		return 2*math.Abs(2*ph-1) - 1
	default:
		return math.Sin(twoPi * ph)
	}
}

func (m *Mixer) stealVoice() int {
	for i := range m.voices {
		if !m.voices[i].active {
			return i
		}
	}
	oldest, oldestAge := 0, int64(-1)
	for i := range m.voices {
		if m.voices[i].age > oldestAge {
			oldest = i
			oldestAge = m.voices[i].age
		}
	}
	return oldest
}

func (m *Mixer) ActiveVoiceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i := range m.voices {
		if m.voices[i].active {
			n++
		}
	}
	return n
}

func (m *Mixer) SetMasterGain(gain float64) {
	if gain < 0 {
		gain = 0
	}
	atomic.StoreUint64(&m.masterGain, math.Float64bits(gain))
}

func (m *Mixer) masterGainValue() float64 {
	return math.Float64frombits(atomic.LoadUint64(&m.masterGain))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
