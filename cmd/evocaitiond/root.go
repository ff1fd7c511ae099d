package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Paranoid-AF/evocaition/command"
	"github.com/Paranoid-AF/evocaition/generate"
	"github.com/Paranoid-AF/evocaition/invoke"
	"github.com/Paranoid-AF/evocaition/logging"
)

// app carries the state shared by all subcommands.
type app struct {
	logLevel    string
	configDir   string
	envFile     string
	showVersion bool

	log       *zap.Logger
	stdin     io.Reader
	clipboard Copier
	runner    invoke.Runner
}

func newApp() *app {
	return &app{
		stdin:     os.Stdin,
		clipboard: systemClipboard{},
		runner:    &invoke.ExecRunner{},
		log:       zap.NewNop(),
	}
}

func (a *app) engine() *generate.Engine {
	return generate.NewEngine(
		generate.WithLogger(a.log),
		generate.WithRunner(a.runner),
	)
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "evocaitiond",
		Short:         "Continue text at a cursor with an external generation tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), "evocaitiond", Version)
				return nil
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.log.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&a.configDir, "config-dir", "", "configuration directory (overrides $EVOCAITION_CONFIG_DIR)")
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file with EVOCAITION_* overrides; missing files are ignored")
	root.Flags().BoolVar(&a.showVersion, "version", false, "print version and exit")

	root.AddCommand(
		newPredictCommand(a, "predict-text", "Insert the tool output at the cursor", command.ModeText),
		newPredictCommand(a, "predict-sentence", "Insert the first sentence of the tool output at the cursor", command.ModeSentence),
		newSetCommand(a),
		newGetCommand(a),
		newServeCommand(a),
		newReplCommand(a),
	)
	return root
}

// setup loads the dotenv file, applies --config-dir and builds the logger.
func (a *app) setup() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", a.envFile, err)
		}
	}
	if a.configDir != "" {
		if err := os.Setenv("EVOCAITION_CONFIG_DIR", a.configDir); err != nil {
			return err
		}
	}
	log, err := logging.New(a.logLevel)
	if err != nil {
		return err
	}
	a.log = log
	return nil
}

// describe formats an error for the terminal, prefixing the error code when
// the pipeline produced one.
func describe(err error) string {
	var perr *pipelineError
	if errors.As(err, &perr) {
		e := generate.AsError(perr.err)
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return err.Error()
}

// pipelineError marks errors coming out of a prediction.
type pipelineError struct{ err error }

func (e *pipelineError) Error() string { return e.err.Error() }
func (e *pipelineError) Unwrap() error { return e.err }
