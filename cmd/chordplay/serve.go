package main

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/cbegin/chordplay-go"
	"github.com/cbegin/chordplay-go/internal/score"
	"github.com/cbegin/chordplay-go/internal/server"
)

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "listen", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve [score]",
	Short: "Serve an HTTP control surface for a browser editor",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var initial *score.Score
		if len(args) == 1 {
			s, err := loadScore(args[0])
			if err != nil {
				return err
			}
			initial = s
		}
		store := server.NewStore(initial)
		eng, err := chordplay.NewEngine(store.Get, engineOptions()...)
		if err != nil {
			return err
		}
		defer eng.Close()

		addr := serveAddr
		if addr == "" {
			addr = cfg.Listen
		}
		srv := server.New(store, eng, server.Options{AllowedOrigins: cfg.CORSOrigins, Logger: log})
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return srv.ListenAndServe(ctx, addr)
	},
}
