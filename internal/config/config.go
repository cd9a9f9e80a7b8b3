package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/constraints"
	"gopkg.in/yaml.v3"

	"github.com/cbegin/chordplay-go/internal/synth"
	"github.com/cbegin/chordplay-go/internal/theory"
	"github.com/cbegin/chordplay-go/internal/timeline"
)

const (
	EnvSampleRate = "CHORDPLAY_SAMPLE_RATE"
	EnvNoAudio    = "CHORDPLAY_NO_AUDIO"
	EnvLogLevel   = "CHORDPLAY_LOG_LEVEL"
)

const (
	MinSampleRate = 8000
	MaxSampleRate = 192000
)

type Config struct {
	SampleRate     int           `yaml:"sampleRate"`
	SlotsPerBar    int           `yaml:"slotsPerBar"`
	BeatsPerBar    int           `yaml:"beatsPerBar"`
	MaxRepeatCount int           `yaml:"maxRepeatCount"`
	Voicing        string        `yaml:"voicing"`
	LookAhead      time.Duration `yaml:"lookAhead"`
	TickInterval   time.Duration `yaml:"tickInterval"`
	FrameInterval  time.Duration `yaml:"frameInterval"`
	Reverb         float64       `yaml:"reverb"`
	NoAudio        bool          `yaml:"noAudio"`
	LogLevel       string        `yaml:"logLevel"`
	Listen         string        `yaml:"listen"`
	CORSOrigins    []string      `yaml:"corsOrigins"`
}

func Default() Config {
	return Config{
		SampleRate:     48000,
		SlotsPerBar:    4,
		BeatsPerBar:    4,
		MaxRepeatCount: 64,
		Voicing:        "root",
		LookAhead:      50 * time.Millisecond,
		TickInterval:   20 * time.Millisecond,
		FrameInterval:  16 * time.Millisecond,
		LogLevel:       "info",
		Listen:         "127.0.0.1:8765",
		CORSOrigins:    []string{"*"},
	}
}

// Load reads a YAML config over the defaults and applies environment
// overrides. An empty path yields defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "decode config %s", path)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg.Normalize()
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvSampleRate); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "%s", EnvSampleRate)
		}
		c.SampleRate = n
	}
	if v, ok := lookup(EnvNoAudio); ok && v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "%s", EnvNoAudio)
		}
		c.NoAudio = b
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = strings.TrimSpace(v)
	}
	return nil
}

// Normalize fills zero values from the defaults, clamps ranges and
// rejects values that cannot be repaired.
func (c Config) Normalize() (Config, error) {
	d := Default()
	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}
	c.SampleRate = clamp(c.SampleRate, MinSampleRate, MaxSampleRate)
	if c.SlotsPerBar <= 0 {
		c.SlotsPerBar = d.SlotsPerBar
	}
	if c.BeatsPerBar <= 0 {
		c.BeatsPerBar = d.BeatsPerBar
	}
	c.SlotsPerBar = clamp(c.SlotsPerBar, 1, 16)
	c.BeatsPerBar = clamp(c.BeatsPerBar, 1, 16)
	if c.MaxRepeatCount <= 0 {
		c.MaxRepeatCount = d.MaxRepeatCount
	}
	c.MaxRepeatCount = clamp(c.MaxRepeatCount, 2, 1024)
	if c.LookAhead <= 0 {
		c.LookAhead = d.LookAhead
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = d.FrameInterval
	}
	c.LookAhead = clamp(c.LookAhead, 5*time.Millisecond, 500*time.Millisecond)
	c.TickInterval = clamp(c.TickInterval, time.Millisecond, c.LookAhead)
	c.FrameInterval = clamp(c.FrameInterval, time.Millisecond, time.Second)
	c.Reverb = clamp(c.Reverb, 0, 1)
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if _, ok := theory.ParseVoicing(c.Voicing); !ok {
		return c, errors.Errorf("unknown voicing %q", c.Voicing)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return c, errors.Wrap(err, "log level")
	}
	return c, nil
}

// Mixer returns synth parameters with the configured reverb.
func (c Config) Mixer() synth.Params {
	p := synth.DefaultParams()
	p.Room = c.Reverb
	return p
}

func (c Config) Timeline() timeline.Config {
	tc := timeline.DefaultConfig()
	tc.SlotsPerBar = c.SlotsPerBar
	tc.BeatsPerBar = c.BeatsPerBar
	tc.MaxRepeatCount = c.MaxRepeatCount
	return tc
}

func (c Config) VoicingMode() theory.Voicing {
	v, _ := theory.ParseVoicing(c.Voicing)
	return v
}

func (c Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
