package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// EnvNoAudio disables the host audio device when set to a true value.
const EnvNoAudio = "CHORDPLAY_NO_AUDIO"

// DefaultBufferSize keeps device latency below the scheduler's look-ahead.
const DefaultBufferSize = 40 * time.Millisecond

var ErrUnavailable = errors.New("audio output unavailable")

type SampleSource interface {
	Process(dst []float32)
}

// StreamReader adapts a SampleSource to the interleaved float32
// little-endian stream the audio context consumes.
type StreamReader struct {
	mu     sync.Mutex
	source SampleSource
	buf    []float32
}

func NewStreamReader(source SampleSource) *StreamReader {
	return &StreamReader{source: source}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i := 0; i < need; i++ {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(r.buf[i]))
	}
	return frames * 8, nil
}

func (r *StreamReader) Close() error { return nil }

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioContextErr  error
	audioSampleRate  int
)

// sharedAudioContext creates the process-wide audio context on first use.
// The context is never torn down; later callers must agree on the rate.
func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		defer func() {
			if r := recover(); r != nil {
				audioContext = nil
				audioContextErr = fmt.Errorf("%w: %v", ErrUnavailable, r)
			}
		}()
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioContextErr != nil {
		return nil, audioContextErr
	}
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// Disabled reports whether EnvNoAudio turns the device off.
func Disabled() bool {
	v, err := strconv.ParseBool(os.Getenv(EnvNoAudio))
	return err == nil && v
}

// Output streams a SampleSource to the host audio device.
type Output struct {
	player *ebitaudio.Player
	reader *StreamReader
}

// Open starts streaming source to the device. Any failure is reported as
// ErrUnavailable so callers can fall back to silent playback.
func Open(sampleRate int, source SampleSource) (out *Output, err error) {
	if Disabled() {
		return nil, fmt.Errorf("%w: disabled by %s", ErrUnavailable, EnvNoAudio)
	}
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %v", ErrUnavailable, r)
		}
	}()
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	reader := NewStreamReader(source)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	pl.SetBufferSize(DefaultBufferSize)
	pl.Play()
	return &Output{player: pl, reader: reader}, nil
}

func (o *Output) IsPlaying() bool { return o.player.IsPlaying() }

// Position returns how much of the stream the listener has heard.
func (o *Output) Position() time.Duration {
	return o.player.Position()
}

func (o *Output) Close() error {
	o.player.Pause()
	if err := o.player.Close(); err != nil {
		return err
	}
	return o.reader.Close()
}
