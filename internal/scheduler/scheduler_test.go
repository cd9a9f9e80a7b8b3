package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/chordplay-go/internal/score"
	"github.com/cbegin/chordplay-go/internal/timeline"
	"github.com/cbegin/chordplay-go/internal/transport"
)

type trigger struct {
	chord score.Chord
	at    time.Time
	dur   time.Duration
}

type recordingVoice struct {
	mu       sync.Mutex
	triggers []trigger
	cancels  int
	err      error
}

func (v *recordingVoice) Trigger(ch score.Chord, at time.Time, dur time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.triggers = append(v.triggers, trigger{ch, at, dur})
	return v.err
}

func (v *recordingVoice) Cancel() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancels++
}

func (v *recordingVoice) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.triggers)
}

type dispatchLog struct {
	mu     sync.Mutex
	events []timeline.Event
}

func (d *dispatchLog) add(ev timeline.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
}

func (d *dispatchLog) snapshot() []timeline.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]timeline.Event(nil), d.events...)
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// two bars, one chord per beat with a rest on beat 2 of the first bar
func testTimeline() *timeline.Timeline {
	s := &score.Score{Key: "C", BPM: 120, Sections: []score.Section{{
		ID: "s",
		Bars: []score.Bar{
			{ID: "a", Slots: []*score.Chord{{Root: "I"}, nil, {Root: "IV"}, {Root: "V"}}},
			{ID: "b", Slots: []*score.Chord{{Root: "vi"}, {Root: "ii"}, {Root: "V"}, {Root: "I"}}},
		},
	}}}
	return timeline.Compile(s, timeline.DefaultConfig())
}

func newTestScheduler(t *testing.T, bpm float64, voice Voice, opts Options) (*Scheduler, time.Time) {
	t.Helper()
	start := time.Unix(1000, 0)
	clock, err := transport.New(bpm, start, 0)
	if err != nil {
		t.Fatalf("clock: %v", err)
	}
	opts.Logger = quietLogger()
	return New(testTimeline(), clock, voice, opts), start
}

func TestStepDispatchesWithinLookAhead(t *testing.T) {
	voice := &recordingVoice{}
	log := &dispatchLog{}
	s, start := newTestScheduler(t, 120, voice, Options{OnDispatch: log.add})

	if s.step(start) {
		t.Fatalf("performance should not end at beat 0")
	}
	if got := len(log.snapshot()); got != 1 {
		t.Fatalf("expected only the downbeat due, got %d events", got)
	}
	// beat 2 plus 0.1 beats of look-ahead
	s.step(start.Add(time.Second))
	events := log.snapshot()
	if len(events) != 3 {
		t.Fatalf("expected 3 events by beat 2.1, got %d", len(events))
	}
	if !events[1].IsRest() || events[2].Chord.Root != "IV" {
		t.Fatalf("unexpected dispatch order: %+v", events)
	}
	if voice.count() != 2 {
		t.Fatalf("rest must not trigger the voice, got %d triggers", voice.count())
	}
	tr := voice.triggers[1]
	if !tr.at.Equal(start.Add(time.Second)) || tr.dur != 500*time.Millisecond {
		t.Fatalf("trigger at %v for %v, want beat 2 for one beat", tr.at.Sub(start), tr.dur)
	}
}

func TestStepIsIdempotentPerEvent(t *testing.T) {
	log := &dispatchLog{}
	s, start := newTestScheduler(t, 120, nil, Options{OnDispatch: log.add})
	for i := 0; i < 5; i++ {
		s.step(start.Add(1500 * time.Millisecond))
	}
	if got := len(log.snapshot()); got != 4 {
		t.Fatalf("expected 4 events dispatched once each, got %d", got)
	}
}

func TestStepCatchesUpInOrderAfterOverrun(t *testing.T) {
	log := &dispatchLog{}
	s, start := newTestScheduler(t, 120, nil, Options{OnDispatch: log.add})
	s.step(start)
	s.step(start.Add(3 * time.Second))
	events := log.snapshot()
	if len(events) != 7 {
		t.Fatalf("expected catch-up through beat 6, got %d events", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Offset <= events[i-1].Offset {
			t.Fatalf("events out of order at %d: %v then %v", i, events[i-1].Offset, events[i].Offset)
		}
	}
}

func TestStepReportsEnd(t *testing.T) {
	s, start := newTestScheduler(t, 120, nil, Options{})
	if s.step(start.Add(3900 * time.Millisecond)) {
		t.Fatalf("performance ended early")
	}
	if !s.step(start.Add(4 * time.Second)) {
		t.Fatalf("expected end at beat 8")
	}
}

func TestVoiceErrorsAreReportedNotFatal(t *testing.T) {
	voice := &recordingVoice{err: errors.New("boom")}
	log := &dispatchLog{}
	var errs int
	s, start := newTestScheduler(t, 120, voice, Options{
		OnDispatch:   log.add,
		OnVoiceError: func(error) { errs++ },
	})
	s.step(start.Add(4 * time.Second))
	if errs != 7 {
		t.Fatalf("expected one error per chord event, got %d", errs)
	}
	if len(log.snapshot()) != 8 {
		t.Fatalf("dispatch should continue after voice errors")
	}
}

func TestRunToEnd(t *testing.T) {
	voice := &recordingVoice{}
	log := &dispatchLog{}
	ended := make(chan struct{}, 2)
	clock, _ := transport.New(2400, time.Now(), 0)
	s := New(testTimeline(), clock, voice, Options{
		TickInterval: 5 * time.Millisecond,
		OnDispatch:   log.add,
		OnEnded:      func() { ended <- struct{}{} },
		Logger:       quietLogger(),
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !s.Running() || s.State().Status != transport.Playing {
		t.Fatalf("expected running state")
	}
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("scheduler did not finish")
	}
	if len(ended) != 1 {
		t.Fatalf("expected OnEnded exactly once, got %d", len(ended))
	}
	if got := len(log.snapshot()); got != 8 {
		t.Fatalf("expected all 8 events, got %d", got)
	}
	if voice.count() != 7 {
		t.Fatalf("expected 7 triggers, got %d", voice.count())
	}
	if s.Running() || s.State().Status != transport.Stopped {
		t.Fatalf("expected stopped state after end")
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrStarted) {
		t.Fatalf("expected ErrStarted, got %v", err)
	}
}

func TestStopHaltsDispatch(t *testing.T) {
	voice := &recordingVoice{}
	log := &dispatchLog{}
	first := make(chan struct{})
	var once sync.Once
	var ended bool
	clock, _ := transport.New(120, time.Now(), 0)
	s := New(testTimeline(), clock, voice, Options{
		OnDispatch: func(ev timeline.Event) {
			log.add(ev)
			once.Do(func() { close(first) })
		},
		OnEnded: func() { ended = true },
		Logger:  quietLogger(),
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-first
	s.Stop()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("loop did not exit after stop")
	}
	n := len(log.snapshot())
	time.Sleep(150 * time.Millisecond)
	if got := len(log.snapshot()); got != n {
		t.Fatalf("dispatch continued after stop: %d -> %d", n, got)
	}
	if ended {
		t.Fatalf("OnEnded must not fire on explicit stop")
	}
	voice.mu.Lock()
	cancels := voice.cancels
	voice.mu.Unlock()
	if cancels == 0 {
		t.Fatalf("expected pending voice triggers cancelled")
	}
	s.Stop()
}

func (v *recordingVoice) cancelCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cancels
}

func TestStopDuringCallbackFromAnotherGoroutine(t *testing.T) {
	voice := &recordingVoice{}
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	clock, _ := transport.New(120, time.Now(), 0)
	s := New(testTimeline(), clock, voice, Options{
		FrameInterval: time.Millisecond,
		OnPosition: func(float64) {
			once.Do(func() {
				close(entered)
				<-release
			})
		},
		Logger: quietLogger(),
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatalf("position callback never ran")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("stop blocked on a running callback")
	}
	atStop := voice.cancelCount()
	if atStop != 1 {
		t.Fatalf("voice cancelled %d times by the time Stop returned, want 1", atStop)
	}
	triggers := voice.count()

	close(release)
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("loop did not exit")
	}
	if got := voice.cancelCount(); got != atStop {
		t.Fatalf("voice cancelled again after Stop returned: %d -> %d", atStop, got)
	}
	if got := voice.count(); got != triggers {
		t.Fatalf("voice triggered after Stop returned: %d -> %d", triggers, got)
	}
}

func TestContextCancelCancelsVoiceOnce(t *testing.T) {
	voice := &recordingVoice{}
	clock, _ := transport.New(60, time.Now(), 0)
	s := New(testTimeline(), clock, voice, Options{Logger: quietLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("loop did not exit on context cancel")
	}
	s.Stop()
	if got := voice.cancelCount(); got != 1 {
		t.Fatalf("voice cancelled %d times, want 1", got)
	}
}

func TestStopFromCallback(t *testing.T) {
	log := &dispatchLog{}
	clock, _ := transport.New(120, time.Now(), 0)
	var s *Scheduler
	s = New(testTimeline(), clock, nil, Options{
		OnDispatch: func(ev timeline.Event) {
			log.add(ev)
			s.Stop()
		},
		Logger: quietLogger(),
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("stop from callback did not end the loop")
	}
	if got := len(log.snapshot()); got != 1 {
		t.Fatalf("expected a single dispatch, got %d", got)
	}
}

func TestPositionUpdatesAreClampedAndMonotonic(t *testing.T) {
	var mu sync.Mutex
	var beats []float64
	clock, _ := transport.New(2400, time.Now(), 0)
	s := New(testTimeline(), clock, nil, Options{
		FrameInterval: 2 * time.Millisecond,
		OnPosition: func(b float64) {
			mu.Lock()
			beats = append(beats, b)
			mu.Unlock()
		},
		Logger: quietLogger(),
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("scheduler did not finish")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(beats) == 0 {
		t.Fatalf("expected position updates")
	}
	for i, b := range beats {
		if b < 0 || b > 8 {
			t.Fatalf("position %v out of range", b)
		}
		if i > 0 && b < beats[i-1] {
			t.Fatalf("position went backwards: %v -> %v", beats[i-1], b)
		}
	}
	if beats[len(beats)-1] != 8 {
		t.Fatalf("final position = %v, want 8", beats[len(beats)-1])
	}
}

func TestStartWithoutClock(t *testing.T) {
	s := New(testTimeline(), nil, nil, Options{Logger: quietLogger()})
	if err := s.Start(context.Background()); !errors.Is(err, ErrNoClock) {
		t.Fatalf("expected ErrNoClock, got %v", err)
	}
}
