package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/chordplay-go/internal/score"
	"github.com/cbegin/chordplay-go/internal/timeline"
	"github.com/cbegin/chordplay-go/internal/transport"
)

const (
	DefaultLookAhead     = 50 * time.Millisecond
	DefaultTickInterval  = 20 * time.Millisecond
	DefaultFrameInterval = 16 * time.Millisecond
)

var (
	ErrStarted = errors.New("scheduler already started")
	ErrNoClock = errors.New("scheduler has no transport clock")
)

// Voice receives chord triggers. Trigger must not block; at may already be
// in the past when the scheduler is catching up.
type Voice interface {
	Trigger(ch score.Chord, at time.Time, dur time.Duration) error
	// Cancel drops triggers that have not started sounding.
	Cancel()
}

type Options struct {
	LookAhead     time.Duration
	TickInterval  time.Duration
	FrameInterval time.Duration
	Now           func() time.Time

	OnDispatch   func(timeline.Event)
	OnPosition   func(beat float64)
	OnEnded      func()
	OnVoiceError func(error)

	Logger logrus.FieldLogger
}

func DefaultOptions() Options {
	return Options{
		LookAhead:     DefaultLookAhead,
		TickInterval:  DefaultTickInterval,
		FrameInterval: DefaultFrameInterval,
	}
}

func (o Options) withDefaults() Options {
	if o.LookAhead <= 0 {
		o.LookAhead = DefaultLookAhead
	}
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.FrameInterval <= 0 {
		o.FrameInterval = DefaultFrameInterval
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger().WithField("component", "scheduler")
	}
	return o
}

// Scheduler runs one performance of a compiled timeline against a fixed
// transport clock. It dispatches each event exactly once, in offset order,
// a short look-ahead before the event is due.
type Scheduler struct {
	tl    *timeline.Timeline
	clock *transport.Clock
	voice Voice
	opts  Options
	log   logrus.FieldLogger

	lookAheadBeats float64
	next           int // owned by the loop goroutine

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	stopped    atomic.Bool
	running    atomic.Bool
	inCallback atomic.Bool
	cancelOnce sync.Once
}

// New returns an idle scheduler. A nil voice runs the performance with
// callbacks only.
func New(tl *timeline.Timeline, clock *transport.Clock, voice Voice, opts Options) *Scheduler {
	opts = opts.withDefaults()
	s := &Scheduler{
		tl:    tl,
		clock: clock,
		voice: voice,
		opts:  opts,
		log:   opts.Logger,
	}
	if clock != nil {
		s.lookAheadBeats = opts.LookAhead.Seconds() * clock.BPM() / 60
	}
	return s
}

// Start launches the scheduling loop. A scheduler runs at most once.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.clock == nil {
		return ErrNoClock
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return ErrStarted
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running.Store(true)
	s.log.WithFields(logrus.Fields{
		"bpm":    s.clock.BPM(),
		"events": s.tl.Len(),
		"beats":  s.tl.TotalBeats(),
	}).Debug("scheduler started")
	go s.loop(ctx)
	return nil
}

// Stop ends the performance. No callback begins after Stop returns and
// triggers that have not started sounding are dropped. The voice is
// cancelled exactly once, before Stop returns, whichever goroutine gets
// there first.
//
// Stop may be called from inside a callback. While a callback is in flight
// Stop does not wait for the loop to exit; that callback began before the
// stop and the loop does nothing else afterwards.
func (s *Scheduler) Stop() {
	if s.stopped.Swap(true) {
		s.cancelVoice()
		return
	}
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.cancelVoice()
	if done != nil && !s.inCallback.Load() {
		<-done
	}
	s.log.Debug("scheduler stopped")
}

// Done is closed when the loop exits. It is nil before Start.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Scheduler) Running() bool { return s.running.Load() }

func (s *Scheduler) State() transport.State {
	if !s.running.Load() {
		return transport.State{}
	}
	return transport.State{Status: transport.Playing, Clock: s.clock}
}

func (s *Scheduler) Clock() *transport.Clock { return s.clock }

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	defer s.running.Store(false)

	tick := time.NewTicker(s.opts.TickInterval)
	defer tick.Stop()
	frame := time.NewTicker(s.opts.FrameInterval)
	defer frame.Stop()

	if s.advance() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			s.cancelVoice()
			return
		case <-tick.C:
			if s.advance() {
				return
			}
		case <-frame.C:
			s.position(s.opts.Now())
		}
	}
}

// advance runs one tick and reports whether the loop should exit.
func (s *Scheduler) advance() bool {
	if s.stopped.Load() {
		s.cancelVoice()
		return true
	}
	now := s.opts.Now()
	if !s.step(now) {
		if s.stopped.Load() {
			s.cancelVoice()
			return true
		}
		return false
	}
	s.position(now)
	s.callback(func() {
		s.log.Debug("performance ended")
		if s.opts.OnEnded != nil {
			s.opts.OnEnded()
		}
	})
	return true
}

// step dispatches every event due by now plus the look-ahead and reports
// whether the performance has reached its end. A late tick dispatches all
// overdue events in order.
func (s *Scheduler) step(now time.Time) bool {
	beat := s.clock.CurrentBeat(now)
	due := timeline.TicksForBeat(beat + s.lookAheadBeats)
	events := s.tl.Events
	for s.next < len(events) && events[s.next].Offset <= due {
		ev := events[s.next]
		s.next++
		if !s.dispatch(ev) {
			return false
		}
	}
	return s.next >= len(events) && beat >= s.tl.TotalBeats()
}

func (s *Scheduler) dispatch(ev timeline.Event) bool {
	if ev.Chord != nil && s.voice != nil {
		var err error
		ok := s.callback(func() {
			at := s.clock.TimeAt(ev.Beat())
			err = s.voice.Trigger(*ev.Chord, at, s.clock.BeatDuration(ev.DurationBeats()))
		})
		if !ok {
			return false
		}
		if err != nil {
			s.log.WithError(err).WithField("ref", ev.Ref.String()).Warn("voice trigger failed")
			if s.opts.OnVoiceError != nil && !s.callback(func() { s.opts.OnVoiceError(err) }) {
				return false
			}
		}
	}
	return s.callback(func() {
		if s.opts.OnDispatch != nil {
			s.opts.OnDispatch(ev)
		}
	})
}

func (s *Scheduler) position(now time.Time) {
	if s.opts.OnPosition == nil {
		return
	}
	beat := s.clock.CurrentBeat(now)
	if beat < 0 {
		beat = 0
	}
	if total := s.tl.TotalBeats(); beat > total {
		beat = total
	}
	s.callback(func() { s.opts.OnPosition(beat) })
}

// callback runs fn unless the scheduler has been stopped. The in-callback
// mark is set before the stop check so Stop can tell whether a callback
// may already be running.
func (s *Scheduler) callback(fn func()) bool {
	s.inCallback.Store(true)
	defer s.inCallback.Store(false)
	if s.stopped.Load() {
		return false
	}
	fn()
	return true
}

func (s *Scheduler) cancelVoice() {
	s.cancelOnce.Do(func() {
		if s.voice != nil {
			s.voice.Cancel()
		}
	})
}
