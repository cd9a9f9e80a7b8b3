package chordplay

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	intaudio "github.com/cbegin/chordplay-go/internal/audio"
	"github.com/cbegin/chordplay-go/internal/playhead"
	"github.com/cbegin/chordplay-go/internal/scheduler"
	"github.com/cbegin/chordplay-go/internal/score"
	"github.com/cbegin/chordplay-go/internal/synth"
	"github.com/cbegin/chordplay-go/internal/theory"
	"github.com/cbegin/chordplay-go/internal/timeline"
	"github.com/cbegin/chordplay-go/internal/transport"
)

type (
	Score     = score.Score
	Section   = score.Section
	Bar       = score.Bar
	Chord     = score.Chord
	SourceRef = timeline.SourceRef
	Timeline  = timeline.Timeline
)

// ScoreFunc returns the current score. The engine clones what it gets, so
// the caller may keep editing the returned value.
type ScoreFunc func() *Score

type EventKind int

const (
	EventDispatched EventKind = iota
	EventPerformanceEnded
	EventAudioUnavailable
)

func (k EventKind) String() string {
	switch k {
	case EventDispatched:
		return "dispatched"
	case EventPerformanceEnded:
		return "ended"
	case EventAudioUnavailable:
		return "audio-unavailable"
	}
	return "unknown"
}

// PlaybackEvent carries engine notifications from Watch().
type PlaybackEvent struct {
	Kind  EventKind
	Ref   SourceRef
	Chord *Chord // nil for rests and non-dispatch events
}

// OutputFactory connects the mixer to an output device.
type OutputFactory func(sampleRate int, src *synth.Mixer) (io.Closer, error)

func openDeviceOutput(sampleRate int, src *synth.Mixer) (io.Closer, error) {
	return intaudio.Open(sampleRate, src)
}

type EngineOption func(*engineConfig)

type engineConfig struct {
	sampleRate         int
	timeline           timeline.Config
	voicing            theory.Voicing
	mixer              synth.Params
	lookAhead          time.Duration
	tickInterval       time.Duration
	frameInterval      time.Duration
	logger             logrus.FieldLogger
	openOutput         OutputFactory
	now                func() time.Time
	onDispatch         func(SourceRef, *Chord)
	onPosition         func(float64)
	onEnded            func()
	onAudioUnavailable func()
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		sampleRate:    48000,
		timeline:      timeline.DefaultConfig(),
		voicing:       theory.VoicingRoot,
		mixer:         synth.DefaultParams(),
		lookAhead:     scheduler.DefaultLookAhead,
		tickInterval:  scheduler.DefaultTickInterval,
		frameInterval: scheduler.DefaultFrameInterval,
		openOutput:    openDeviceOutput,
		now:           time.Now,
	}
}

func WithSampleRate(rate int) EngineOption {
	return func(cfg *engineConfig) {
		cfg.sampleRate = rate
	}
}

func WithTimelineConfig(tc timeline.Config) EngineOption {
	return func(cfg *engineConfig) {
		cfg.timeline = tc
	}
}

func WithVoicing(v theory.Voicing) EngineOption {
	return func(cfg *engineConfig) {
		cfg.voicing = v
	}
}

func WithMixerParams(p synth.Params) EngineOption {
	return func(cfg *engineConfig) {
		cfg.mixer = p
	}
}

func WithLookAhead(d time.Duration) EngineOption {
	return func(cfg *engineConfig) {
		cfg.lookAhead = d
	}
}

func WithTickInterval(d time.Duration) EngineOption {
	return func(cfg *engineConfig) {
		cfg.tickInterval = d
	}
}

func WithFrameInterval(d time.Duration) EngineOption {
	return func(cfg *engineConfig) {
		cfg.frameInterval = d
	}
}

func WithLogger(l logrus.FieldLogger) EngineOption {
	return func(cfg *engineConfig) {
		cfg.logger = l
	}
}

// WithOutputFactory replaces the host audio device. A factory returning an
// error makes playback visual-only.
func WithOutputFactory(f OutputFactory) EngineOption {
	return func(cfg *engineConfig) {
		cfg.openOutput = f
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(cfg *engineConfig) {
		cfg.now = now
	}
}

// OnEventDispatched is called once per compiled event, rests included.
// Callbacks run on the scheduler goroutine; keep them brief.
func OnEventDispatched(fn func(SourceRef, *Chord)) EngineOption {
	return func(cfg *engineConfig) {
		cfg.onDispatch = fn
	}
}

func OnPositionUpdate(fn func(beat float64)) EngineOption {
	return func(cfg *engineConfig) {
		cfg.onPosition = fn
	}
}

// OnPerformanceEnded fires when playback reaches the end of the timeline.
// It does not fire after Stop.
func OnPerformanceEnded(fn func()) EngineOption {
	return func(cfg *engineConfig) {
		cfg.onEnded = fn
	}
}

// OnAudioUnavailable fires at most once per Play when no output device
// could be opened.
func OnAudioUnavailable(fn func()) EngineOption {
	return func(cfg *engineConfig) {
		cfg.onAudioUnavailable = fn
	}
}

// Engine plays a score: it compiles the timeline, runs the scheduler
// against a fresh transport clock and feeds the mixer.
type Engine struct {
	cfg    engineConfig
	source ScoreFunc
	log    logrus.FieldLogger
	mixer  *synth.Mixer
	volume float64

	mu           sync.Mutex
	tl           *timeline.Timeline // nil after ScoreChanged
	sched        *scheduler.Scheduler
	performing   *timeline.Timeline // timeline sched is playing
	tempoAtStart float64
	tempo        float64 // SetTempo override, 0 = score tempo
	output       io.Closer
	outputErr    error
	closed       bool

	eventCh   chan PlaybackEvent
	eventChMu sync.Mutex
}

func NewEngine(source ScoreFunc, opts ...EngineOption) (*Engine, error) {
	if source == nil {
		return nil, errors.New("score source must not be nil")
	}
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	if cfg.logger == nil {
		cfg.logger = logrus.StandardLogger()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	if cfg.openOutput == nil {
		cfg.openOutput = openDeviceOutput
	}
	return &Engine{
		cfg:    cfg,
		source: source,
		log:    cfg.logger.WithField("component", "engine"),
		mixer:  synth.NewMixer(cfg.sampleRate, cfg.mixer),
		volume: 1,
	}, nil
}

// Play starts a performance from beat 0. It does nothing while a
// performance is running, when the score is empty, or after Close.
func (e *Engine) Play() {
	e.mu.Lock()
	unavailable := e.startLocked()
	e.mu.Unlock()
	if unavailable {
		e.notifyAudioUnavailable()
	}
}

// startLocked reports whether the performance started without audio.
func (e *Engine) startLocked() bool {
	if e.closed || e.sched != nil {
		return false
	}
	snap := e.snapshot()
	tl := e.timelineLocked(snap)
	if tl.Empty() {
		e.log.Debug("play ignored: score is empty")
		return false
	}
	bpm := e.tempoFor(snap)
	now := e.cfg.now()
	clock, err := transport.New(bpm, now, 0)
	if err != nil {
		e.log.WithError(err).WithField("bpm", bpm).Warn("play ignored")
		return false
	}

	var voice scheduler.Voice
	unavailable := false
	if err := e.openOutputLocked(); err != nil {
		e.log.WithError(err).Warn("audio unavailable, playing without sound")
		unavailable = true
	} else {
		e.mixer.Anchor(now)
		voice = synth.NewVoice(e.mixer, snap.Key, e.cfg.voicing)
	}

	var s *scheduler.Scheduler
	s = scheduler.New(tl, clock, voice, scheduler.Options{
		LookAhead:     e.cfg.lookAhead,
		TickInterval:  e.cfg.tickInterval,
		FrameInterval: e.cfg.frameInterval,
		Now:           e.cfg.now,
		Logger:        e.cfg.logger.WithField("component", "scheduler"),
		OnDispatch:    func(ev timeline.Event) { e.dispatched(s, ev) },
		OnPosition:    func(beat float64) { e.positioned(s, beat) },
		OnEnded:       func() { e.ended(s) },
		OnVoiceError: func(err error) {
			e.log.WithError(err).Debug("voice error")
		},
	})
	if err := s.Start(context.Background()); err != nil {
		e.log.WithError(err).Warn("scheduler failed to start")
		return false
	}
	e.sched = s
	e.performing = tl
	e.tempoAtStart = bpm
	e.log.WithFields(logrus.Fields{
		"bpm":    bpm,
		"key":    snap.Key,
		"events": tl.Len(),
		"bars":   tl.Bars(),
	}).Debug("performance started")
	return unavailable
}

// Stop ends the current performance. Tones already sounding decay
// naturally; no dispatch callback begins after Stop returns.
func (e *Engine) Stop() {
	e.mu.Lock()
	s := e.sched
	e.sched = nil
	e.performing = nil
	e.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}

// ScoreChanged invalidates the compiled timeline. A running performance
// whose tempo no longer matches the score restarts from beat 0.
func (e *Engine) ScoreChanged() {
	e.mu.Lock()
	e.tl = nil
	restart := e.sched != nil && e.tempoFor(e.snapshot()) != e.tempoAtStart
	e.mu.Unlock()
	if restart {
		e.restart()
	}
}

// SetTempo overrides the score tempo. A bpm of 0 returns to the score's
// own tempo. The running performance restarts when the tempo differs.
func (e *Engine) SetTempo(bpm float64) {
	e.mu.Lock()
	if bpm <= 0 {
		e.tempo = 0
	} else {
		e.tempo = score.ClampBPM(bpm)
	}
	restart := e.sched != nil && e.tempoFor(e.snapshot()) != e.tempoAtStart
	e.mu.Unlock()
	if restart {
		e.restart()
	}
}

func (e *Engine) restart() {
	e.log.Debug("tempo changed, restarting")
	e.Stop()
	e.Play()
}

func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sched != nil
}

// Tempo returns the tempo of the running performance, 0 when stopped.
func (e *Engine) Tempo() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sched == nil {
		return 0
	}
	return e.tempoAtStart
}

// State returns the transport state of the running performance.
func (e *Engine) State() transport.State {
	e.mu.Lock()
	s := e.sched
	e.mu.Unlock()
	if s == nil {
		return transport.State{}
	}
	return s.State()
}

// Position returns the interpolated playhead beat on the timeline being
// performed. ok is false while stopped.
func (e *Engine) Position() (float64, bool) {
	e.mu.Lock()
	s := e.sched
	tl := e.performing
	e.mu.Unlock()
	if s == nil || tl == nil {
		return 0, false
	}
	return playhead.New(tl).Position(s.State(), e.cfg.now())
}

// Cursor resolves the playhead to the performed event under it.
func (e *Engine) Cursor() playhead.Cursor {
	e.mu.Lock()
	s := e.sched
	tl := e.performing
	e.mu.Unlock()
	if s == nil || tl == nil {
		return playhead.Cursor{}
	}
	return playhead.New(tl).Cursor(s.State(), e.cfg.now())
}

// Timeline returns the compiled timeline for the current score.
func (e *Engine) Timeline() *Timeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timelineLocked(e.snapshot())
}

// SetMasterVolume sets runtime volume scalar. 1.0 is default.
func (e *Engine) SetMasterVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = volume
	e.mixer.SetMasterGain(e.cfg.mixer.MasterGain * volume)
}

func (e *Engine) MasterVolume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// Close stops playback and releases the output. The engine cannot be
// played again.
func (e *Engine) Close() error {
	e.Stop()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.mixer.CancelPending()
	if e.output == nil {
		return nil
	}
	err := e.output.Close()
	e.output = nil
	return err
}

// Watch returns a channel that receives playback events. The channel is
// buffered (cap 8) and events are dropped when it is full. Only the most
// recent Watch() channel receives events.
func (e *Engine) Watch() <-chan PlaybackEvent {
	ch := make(chan PlaybackEvent, 8)
	e.eventChMu.Lock()
	e.eventCh = ch
	e.eventChMu.Unlock()
	return ch
}

func (e *Engine) sendEvent(ev PlaybackEvent) {
	e.eventChMu.Lock()
	ch := e.eventCh
	e.eventChMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
		}
	}
}

// current reports whether s is still the running performance. Callbacks
// from a stopped or replaced scheduler are dropped.
func (e *Engine) current(s *scheduler.Scheduler) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return s != nil && e.sched == s
}

func (e *Engine) positioned(s *scheduler.Scheduler, beat float64) {
	if e.cfg.onPosition != nil && e.current(s) {
		e.cfg.onPosition(beat)
	}
}

func (e *Engine) dispatched(s *scheduler.Scheduler, ev timeline.Event) {
	if !e.current(s) {
		return
	}
	if e.cfg.onDispatch != nil {
		e.cfg.onDispatch(ev.Ref, ev.Chord)
	}
	e.sendEvent(PlaybackEvent{Kind: EventDispatched, Ref: ev.Ref, Chord: ev.Chord})
}

func (e *Engine) ended(s *scheduler.Scheduler) {
	e.mu.Lock()
	if e.sched != s {
		e.mu.Unlock()
		return
	}
	e.sched = nil
	e.performing = nil
	e.mu.Unlock()
	e.log.Debug("performance ended")
	if e.cfg.onEnded != nil {
		e.cfg.onEnded()
	}
	e.sendEvent(PlaybackEvent{Kind: EventPerformanceEnded})
}

func (e *Engine) notifyAudioUnavailable() {
	if e.cfg.onAudioUnavailable != nil {
		e.cfg.onAudioUnavailable()
	}
	e.sendEvent(PlaybackEvent{Kind: EventAudioUnavailable})
}

func (e *Engine) snapshot() *Score {
	s := e.source()
	if s == nil {
		return &Score{Key: score.DefaultKey, BPM: score.DefaultBPM}
	}
	snap := s.Clone()
	if snap.Key == "" {
		snap.Key = score.DefaultKey
	}
	return snap
}

func (e *Engine) tempoFor(snap *Score) float64 {
	if e.tempo > 0 {
		return e.tempo
	}
	if snap.BPM <= 0 {
		return score.DefaultBPM
	}
	return score.ClampBPM(snap.BPM)
}

func (e *Engine) timelineLocked(snap *Score) *timeline.Timeline {
	if e.tl != nil {
		return e.tl
	}
	tl := timeline.Compile(snap, e.cfg.timeline)
	for _, is := range tl.Issues {
		e.log.WithField("issue", is.Kind.String()).Warn(is.String())
	}
	e.tl = tl
	return tl
}

// openOutputLocked opens the output device on first use. A failure is
// remembered; the device is not retried.
func (e *Engine) openOutputLocked() error {
	if e.output != nil {
		return nil
	}
	if e.outputErr != nil {
		return e.outputErr
	}
	out, err := e.cfg.openOutput(e.cfg.sampleRate, e.mixer)
	if err != nil {
		e.outputErr = err
		return err
	}
	e.output = out
	return nil
}
