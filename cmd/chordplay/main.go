package main

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cbegin/chordplay-go"
	intaudio "github.com/cbegin/chordplay-go/internal/audio"
	"github.com/cbegin/chordplay-go/internal/config"
	"github.com/cbegin/chordplay-go/internal/score"
	"github.com/cbegin/chordplay-go/internal/synth"
)

var (
	configPath string
	logLevel   string
	voicing    string

	cfg = config.Default()
	log = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:          "chordplay",
	Short:        "Play chord-progression scores",
	Long:         `Plays, renders and inspects chord-progression scores written as scale degrees.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			c.LogLevel = logLevel
		}
		if voicing != "" {
			c.Voicing = voicing
		}
		if c, err = c.Normalize(); err != nil {
			return err
		}
		cfg = c
		log.SetLevel(cfg.Level())
		return nil
	},
}

func init() {
	log.SetOutput(os.Stderr)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error")
	rootCmd.PersistentFlags().StringVar(&voicing, "voicing", "", "chord voicing: root|triad")
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}

// engineOptions maps the loaded config onto engine options.
func engineOptions() []chordplay.EngineOption {
	opts := []chordplay.EngineOption{
		chordplay.WithSampleRate(cfg.SampleRate),
		chordplay.WithTimelineConfig(cfg.Timeline()),
		chordplay.WithVoicing(cfg.VoicingMode()),
		chordplay.WithMixerParams(cfg.Mixer()),
		chordplay.WithLookAhead(cfg.LookAhead),
		chordplay.WithTickInterval(cfg.TickInterval),
		chordplay.WithFrameInterval(cfg.FrameInterval),
		chordplay.WithLogger(log),
	}
	if cfg.NoAudio {
		opts = append(opts, chordplay.WithOutputFactory(func(int, *synth.Mixer) (io.Closer, error) {
			return nil, intaudio.ErrUnavailable
		}))
	}
	return opts
}

func loadScore(path string) (*score.Score, error) {
	s, err := score.Load(path)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"title":    s.Title,
		"key":      s.Key,
		"bpm":      s.BPM,
		"sections": len(s.Sections),
		"bars":     s.BarCount(),
	}).Debug("score loaded")
	return s, nil
}
