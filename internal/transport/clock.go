package transport

import (
	"errors"
	"math"
	"time"
)

var ErrInvalidTempo = errors.New("tempo must be a positive, finite BPM")

// Clock maps wall-clock time to beat position for one performance. The
// tempo is fixed for the clock's lifetime; a tempo change is a new
// performance with a new clock.
type Clock struct {
	bpm       float64
	start     time.Time
	startBeat float64
}

func New(bpm float64, start time.Time, startBeat float64) (*Clock, error) {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return nil, ErrInvalidTempo
	}
	return &Clock{bpm: bpm, start: start, startBeat: startBeat}, nil
}

func (c *Clock) BPM() float64            { return c.bpm }
func (c *Clock) Start() time.Time        { return c.start }
func (c *Clock) StartBeat() float64      { return c.startBeat }
func (c *Clock) SecondsPerBeat() float64 { return 60 / c.bpm }

// BeatToSeconds converts a beat span to seconds.
func (c *Clock) BeatToSeconds(beat float64) float64 {
	return beat * (60 / c.bpm)
}

// BeatDuration is BeatToSeconds as a time.Duration.
func (c *Clock) BeatDuration(beat float64) time.Duration {
	return time.Duration(math.Round(c.BeatToSeconds(beat) * float64(time.Second)))
}

// CurrentBeat returns the beat position at now.
func (c *Clock) CurrentBeat(now time.Time) float64 {
	return now.Sub(c.start).Seconds()*(c.bpm/60) + c.startBeat
}

// TimeAt returns the wall-clock instant of an absolute beat position.
func (c *Clock) TimeAt(beat float64) time.Time {
	return c.start.Add(c.BeatDuration(beat - c.startBeat))
}

type Status int

const (
	Stopped Status = iota
	Playing
)

func (s Status) String() string {
	if s == Playing {
		return "playing"
	}
	return "stopped"
}

// State is the transport state of one performance. The zero value is a
// stopped transport.
type State struct {
	Status Status
	Clock  *Clock
}

// Tempo is the BPM captured when the performance began.
func (s State) Tempo() float64 {
	if s.Clock == nil {
		return 0
	}
	return s.Clock.BPM()
}
