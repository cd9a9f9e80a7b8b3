package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cbegin/chordplay-go/internal/timeline"
)

var inspectRests bool

func init() {
	inspectCmd.Flags().BoolVar(&inspectRests, "rests", false, "list rest slots too")
	rootCmd.AddCommand(inspectCmd)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <score>",
	Short: "Print the compiled performance timeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadScore(args[0])
		if err != nil {
			return err
		}
		tl := timeline.Compile(s, cfg.Timeline())
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "BAR\tPASS\tBEAT\tLEN\tSECTION\tCHORD")
		for _, ev := range tl.Events {
			if ev.IsRest() && !inspectRests {
				continue
			}
			label := "-"
			if ev.Chord != nil {
				label = ev.Chord.Label()
			}
			name := ev.Ref.SectionID
			if ev.Ref.Section < len(s.Sections) && s.Sections[ev.Ref.Section].Name != "" {
				name = s.Sections[ev.Ref.Section].Name
			}
			fmt.Fprintf(w, "%d\t%d\t%.3f\t%.3f\t%s\t%s\n", ev.Ref.BarIndex+1, ev.Ref.Pass+1, ev.Beat(), ev.DurationBeats(), name, label)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\n%d bars, %.1f beats, %d chords\n", tl.Bars(), tl.TotalBeats(), len(tl.ChordEvents()))
		for _, is := range tl.Issues {
			fmt.Printf("repaired: %s\n", is)
		}
		return nil
	},
}
