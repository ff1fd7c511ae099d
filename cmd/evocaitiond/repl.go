package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Paranoid-AF/evocaition/repl"
)

func newReplCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Try predictions in an interactive line editor",
		Long: `Try predictions in an interactive line editor. Ctrl-T predicts text and
Tab predicts a sentence at the cursor. Finished predictions are logged to
stdout as TOML, so "evocaitiond repl > log.toml" keeps a record.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()
			err := repl.Run(ctx, a.engine(), a.log)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
