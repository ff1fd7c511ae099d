package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	evocaition "github.com/Paranoid-AF/evocaition"
	"github.com/Paranoid-AF/evocaition/command"
	"github.com/Paranoid-AF/evocaition/document"
)

type predictOptions struct {
	file      string
	line      int
	character int
	write     bool
	clipboard bool
	dryRun    bool
}

func newPredictCommand(a *app, use, short string, mode command.ReturnMode) *cobra.Command {
	var opts predictOptions
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + `.

The document is --file and the cursor is --line/--character (zero-based,
characters counted in Unicode code points). Without a cursor the end of the
file is used. The result is printed to stdout unless --write inserts it into
the file; --write fails if the file changed while the tool was running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.predict(cmd, mode, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.file, "file", "f", "", "document to continue")
	f.IntVar(&opts.line, "line", -1, "cursor line (zero-based); default end of file")
	f.IntVar(&opts.character, "character", 0, "cursor character within the line (zero-based)")
	f.BoolVarP(&opts.write, "write", "w", false, "insert the result into the file instead of printing it")
	f.BoolVar(&opts.clipboard, "clipboard", false, "also copy the result to the system clipboard")
	f.BoolVar(&opts.dryRun, "dry-run", false, "print the tool command line without running it")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) predict(cmd *cobra.Command, mode command.ReturnMode, opts predictOptions) error {
	pos := evocaition.Position{Line: opts.line, Character: opts.character}
	if opts.line < 0 {
		pos = evocaition.Position{Line: math.MaxInt32, Character: math.MaxInt32}
	}

	var host document.Host = document.NewFile(opts.file, pos)
	if !opts.write {
		host = stdoutHost{Host: host, out: cmd.OutOrStdout()}
	}
	if opts.clipboard {
		host = teeHost{Host: host, also: a.clipboard.Copy}
	}

	engine := a.engine()
	if opts.dryRun {
		inv, err := engine.Prepare(host, mode)
		if err != nil {
			return &pipelineError{err}
		}
		a.log.Debug("argv", zap.String("quoted", inv.Command.Quoted()))
		fmt.Fprintln(cmd.OutOrStdout(), inv.Command.Redacted())
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if _, err := engine.Predict(ctx, host, mode); err != nil {
		return &pipelineError{err}
	}
	return nil
}

// stdoutHost reads from a document host but "inserts" by printing.
type stdoutHost struct {
	document.Host
	out io.Writer
}

func (h stdoutHost) Insert(_ context.Context, _ document.Ref, text string) error {
	_, err := io.WriteString(h.out, text)
	return err
}

// teeHost inserts into the wrapped host, then hands the text to also.
type teeHost struct {
	document.Host
	also func(string) error
}

func (h teeHost) Insert(ctx context.Context, ref document.Ref, text string) error {
	if err := h.Host.Insert(ctx, ref, text); err != nil {
		return err
	}
	if err := h.also(text); err != nil {
		return fmt.Errorf("copy to clipboard: %w", err)
	}
	return nil
}
