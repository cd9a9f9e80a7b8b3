package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/cbegin/chordplay-go"
	"github.com/cbegin/chordplay-go/internal/score"
)

var (
	playBPM   float64
	playLoops int
)

func init() {
	playCmd.Flags().Float64Var(&playBPM, "bpm", 0, "override the score tempo")
	playCmd.Flags().IntVar(&playLoops, "loops", 1, "number of times to play the score (0 = until interrupted)")
	rootCmd.AddCommand(playCmd)
}

var playCmd = &cobra.Command{
	Use:   "play <score>",
	Short: "Play a score on the audio device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadScore(args[0])
		if err != nil {
			return err
		}
		if playBPM > 0 {
			s.BPM = score.ClampBPM(playBPM)
		}
		eng, err := chordplay.NewEngine(func() *score.Score { return s }, engineOptions()...)
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runPlayback(ctx, eng, playLoops)
	},
}

func runPlayback(ctx context.Context, eng *chordplay.Engine, loops int) error {
	if eng.Timeline().Empty() {
		fmt.Println("score is empty")
		return nil
	}
	ch := eng.Watch()
	eng.Play()
	played := 0
	for {
		select {
		case <-ctx.Done():
			eng.Stop()
			fmt.Println("stopped")
			return nil
		case ev := <-ch:
			switch ev.Kind {
			case chordplay.EventAudioUnavailable:
				fmt.Println("no audio device; showing chords only")
			case chordplay.EventDispatched:
				if ev.Chord != nil {
					fmt.Printf("%-24s %s\n", ev.Ref.String(), ev.Chord.Label())
				}
			case chordplay.EventPerformanceEnded:
				played++
				fmt.Printf("pass %d completed\n", played)
				if loops > 0 && played >= loops {
					return nil
				}
				eng.Play()
			}
		}
	}
}
