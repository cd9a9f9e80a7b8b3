package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cbegin/chordplay-go"
	"github.com/cbegin/chordplay-go/internal/timeline"
)

var renderOut string

func init() {
	renderCmd.Flags().StringVarP(&renderOut, "out", "o", "out.wav", "output file (.wav or .mid)")
	rootCmd.AddCommand(renderCmd)
}

var renderCmd = &cobra.Command{
	Use:   "render <score>",
	Short: "Render a score to WAV or Standard MIDI File",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadScore(args[0])
		if err != nil {
			return err
		}
		tl := timeline.Compile(s, cfg.Timeline())
		for _, is := range tl.Issues {
			log.Warn(is.String())
		}
		if tl.Empty() {
			return errors.New("score is empty")
		}
		switch strings.ToLower(filepath.Ext(renderOut)) {
		case ".mid", ".midi", ".smf":
			if err := chordplay.WriteSMFFile(renderOut, tl, s.Key, s.BPM, cfg.VoicingMode()); err != nil {
				return errors.Wrap(err, "write midi")
			}
		default:
			r, err := chordplay.Render(tl, chordplay.RenderConfig{
				Key:        s.Key,
				BPM:        s.BPM,
				SampleRate: cfg.SampleRate,
				Voicing:    cfg.VoicingMode(),
				Mixer:      cfg.Mixer(),
				Logger:     log,
			})
			if err != nil {
				return err
			}
			if r.Skipped > 0 {
				log.Warnf("%d chords could not be voiced and were skipped", r.Skipped)
			}
			wav := chordplay.EncodeWAVFloat32LE(r.Samples, cfg.SampleRate, 2)
			if err := os.WriteFile(renderOut, wav, 0o644); err != nil {
				return errors.Wrap(err, "write wav")
			}
		}
		fmt.Printf("wrote %s (%d bars, %.1f beats at %g bpm)\n", renderOut, tl.Bars(), tl.TotalBeats(), s.BPM)
		return nil
	},
}
