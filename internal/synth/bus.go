package synth

import "math"

// Effect processes one stereo frame on the master bus.
type Effect interface {
	Process(l, r float64) (float64, float64)
	Reset()
}

// Bus applies effects in order after the voices are summed.
type Bus struct {
	effects []Effect
}

func NewBus(effects ...Effect) *Bus {
	return &Bus{effects: effects}
}

func (b *Bus) Process(l, r float64) (float64, float64) {
	for _, e := range b.effects {
		l, r = e.Process(l, r)
	}
	return l, r
}

func (b *Bus) Reset() {
	for _, e := range b.effects {
		e.Reset()
	}
}

func (b *Bus) Len() int { return len(b.effects) }

// newBus builds the master bus described by p. A zero Room adds no
// reverb, so silence stays exactly silent.
func newBus(sampleRate int, p Params) *Bus {
	b := NewBus()
	if p.Room > 0 {
		b.effects = append(b.effects, NewRoom(sampleRate, 0.6, 0.7, p.Room))
	}
	if p.LimitDB < 0 {
		b.effects = append(b.effects, NewLimiter(sampleRate, p.LimitDB, 8, 1, 80))
	}
	return b
}

// Room is a small Schroeder reverb: four parallel combs into two allpasses.
type Room struct {
	combs [4]delayLine
	diff  [2]delayLine
	wet   float64
}

type delayLine struct {
	buf []float64
	pos int
	fb  float64
}

// NewRoom sizes the comb lengths from size (0..1); decay sets the comb
// feedback and wet the mix.
func NewRoom(sampleRate int, size, decay, wet float64) *Room {
	base := max(int(float64(sampleRate)*size*0.05), 10)
	fb := clamp(decay, 0, 0.95)
	r := &Room{wet: clamp(wet, 0, 1)}
	combLens := [4]int{base, base * 1117 / 1000, base * 1271 / 1000, base * 1437 / 1000}
	for i := range r.combs {
		r.combs[i] = delayLine{buf: make([]float64, combLens[i]), fb: fb}
	}
	diffLens := [2]int{base * 347 / 1000, base * 213 / 1000}
	for i := range r.diff {
		r.diff[i] = delayLine{buf: make([]float64, max(diffLens[i], 1)), fb: 0.5}
	}
	return r
}

func (r *Room) Process(l, rr float64) (float64, float64) {
	mono := (l + rr) * 0.5
	var out float64
	for i := range r.combs {
		out += r.combs[i].comb(mono)
	}
	out *= 0.25
	for i := range r.diff {
		out = r.diff[i].allpass(out)
	}
	return l*(1-r.wet) + out*r.wet, rr*(1-r.wet) + out*r.wet
}

func (r *Room) Reset() {
	for i := range r.combs {
		r.combs[i].reset()
	}
	for i := range r.diff {
		r.diff[i].reset()
	}
}

func (d *delayLine) comb(in float64) float64 {
	out := d.buf[d.pos]
	d.buf[d.pos] = in + out*d.fb
	d.advance()
	return out
}

func (d *delayLine) allpass(in float64) float64 {
	delayed := d.buf[d.pos]
	d.buf[d.pos] = in + delayed*d.fb
	d.advance()
	return delayed - in
}

func (d *delayLine) advance() {
	d.pos++
	if d.pos >= len(d.buf) {
		d.pos = 0
	}
}

func (d *delayLine) reset() {
	clear(d.buf)
	d.pos = 0
}

// Limiter is a linked-stereo compressor that keeps stacked chord tones
// from clipping the output.
type Limiter struct {
	threshold float64
	ratio     float64
	attack    float64 // smoothing coefficients
	release   float64
	env       float64
}

func NewLimiter(sampleRate int, thresholdDB, ratio, attackMs, releaseMs float64) *Limiter {
	sr := float64(sampleRate)
	return &Limiter{
		threshold: math.Pow(10, thresholdDB/20),
		ratio:     max(ratio, 1),
		attack:    1 - math.Exp(-1/(attackMs*sr/1000)),
		release:   1 - math.Exp(-1/(releaseMs*sr/1000)),
	}
}

func (c *Limiter) Process(l, r float64) (float64, float64) {
	level := max(math.Abs(l), math.Abs(r))
	if level > c.env {
		c.env += c.attack * (level - c.env)
	} else {
		c.env += c.release * (level - c.env)
	}
	g := c.gain()
	return l * g, r * g
}

func (c *Limiter) gain() float64 {
	if c.env <= c.threshold {
		return 1
	}
	return math.Pow(c.env/c.threshold, 1/c.ratio-1)
}

func (c *Limiter) Reset() { c.env = 0 }
