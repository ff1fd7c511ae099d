// Package generate runs the prediction pipeline: capture context around the
// cursor, render the prompt, build and run the tool command, post-process the
// output and insert it into the document.
package generate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	evocaition "github.com/Paranoid-AF/evocaition"
	"github.com/Paranoid-AF/evocaition/command"
	"github.com/Paranoid-AF/evocaition/document"
	"github.com/Paranoid-AF/evocaition/invoke"
	"github.com/Paranoid-AF/evocaition/postprocess"
	"github.com/Paranoid-AF/evocaition/prompt"
)

// ErrConfig marks failures to load the user configuration.
var ErrConfig = errors.New("configuration error")

// ConfigProvider supplies the configuration snapshot for one invocation.
type ConfigProvider interface {
	Load() (*evocaition.GenerationConfig, error)
}

// FileConfig reads the configuration from disk on every call.
type FileConfig struct{}

// Load implements ConfigProvider.
func (FileConfig) Load() (*evocaition.GenerationConfig, error) {
	return evocaition.LoadConfig()
}

// StaticConfig always returns a copy of the wrapped configuration.
type StaticConfig struct {
	Config *evocaition.GenerationConfig
}

// Load implements ConfigProvider.
func (s StaticConfig) Load() (*evocaition.GenerationConfig, error) {
	if s.Config == nil {
		return evocaition.DefaultConfig(), nil
	}
	cfg := *s.Config
	return &cfg, nil
}

// Engine wires the pipeline stages together. It holds no per-invocation
// state and is safe for concurrent use.
type Engine struct {
	config     ConfigProvider
	runner     invoke.Runner
	log        *zap.Logger
	promptFile func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the configuration source. The default is FileConfig.
func WithConfig(p ConfigProvider) Option {
	return func(e *Engine) { e.config = p }
}

// WithRunner sets the process runner. The default is an ExecRunner.
func WithRunner(r invoke.Runner) Option {
	return func(e *Engine) { e.runner = r }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithPromptFile sets the custom template file consulted when the
// promptTemplate setting is empty. An empty path disables the lookup.
func WithPromptFile(path string) Option {
	return func(e *Engine) { e.promptFile = func() string { return path } }
}

// NewEngine creates an engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		config:     FileConfig{},
		runner:     &invoke.ExecRunner{},
		log:        zap.NewNop(),
		promptFile: evocaition.PromptPath,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Invocation is everything computed before the tool runs.
type Invocation struct {
	Mode     command.ReturnMode
	Config   *evocaition.GenerationConfig
	Snapshot *document.Snapshot
	Prompt   string
	Command  *command.Command
}

// Prepare captures context from h and builds the command without running it.
func (e *Engine) Prepare(h document.Host, mode command.ReturnMode) (*Invocation, error) {
	cfg, err := e.config.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	snap, err := document.Capture(h, cfg.DocumentContextCharacterLength, cfg.DocumentAfterCharacterLength)
	if err != nil {
		return nil, err
	}

	rendered := prompt.Render(e.log, e.template(cfg), prompt.Data{
		DocumentBefore: snap.Before,
		DocumentAfter:  snap.After,
	})

	cmd, err := command.Build(cfg, rendered, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: tool %q: %w", ErrConfig, cfg.Tool, err)
	}

	e.log.Debug("prepared prediction",
		zap.String("mode", string(mode)),
		zap.String("document", snap.Ref.DocumentID),
		zap.Int("context_chars", len([]rune(snap.Before))),
		zap.String("prompt", rendered),
		zap.String("command", cmd.Redacted()),
	)

	return &Invocation{
		Mode:     mode,
		Config:   cfg,
		Snapshot: snap,
		Prompt:   rendered,
		Command:  cmd,
	}, nil
}

// template picks the prompt template: the setting, then the custom template
// file, then the built-in default.
func (e *Engine) template(cfg *evocaition.GenerationConfig) string {
	if cfg.PromptTemplate != "" {
		return cfg.PromptTemplate
	}
	path := e.promptFile()
	if path == "" {
		return ""
	}
	tmpl, err := prompt.LoadFile(path)
	if err != nil {
		e.log.Warn("failed to read custom prompt, using built-in default", zap.String("path", path), zap.Error(err))
		return ""
	}
	if tmpl != "" {
		e.log.Debug("using custom prompt", zap.String("path", path))
	}
	return tmpl
}

// Run executes a prepared invocation and returns the post-processed text.
func (e *Engine) Run(ctx context.Context, inv *Invocation) (string, error) {
	if secs := inv.Config.TimeoutSeconds; secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
		defer cancel()
	}

	start := time.Now()
	raw, err := e.runner.Run(ctx, inv.Command.Argv())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = &invoke.ProcessError{
				Message:  fmt.Sprintf("generation timed out after %ds", inv.Config.TimeoutSeconds),
				ExitCode: -1,
			}
		}
		e.log.Debug("tool failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return "", err
	}
	e.log.Debug("tool finished", zap.Int("bytes", len(raw)), zap.Duration("elapsed", time.Since(start)))

	text, fallback := postprocess.Apply(raw, inv.Mode)
	if fallback {
		e.log.Debug("no sentence terminator in output, appending one")
	}
	return text, nil
}

// Predict runs the whole pipeline and inserts the result at the cursor the
// context was captured from. It returns the inserted text.
func (e *Engine) Predict(ctx context.Context, h document.Host, mode command.ReturnMode) (string, error) {
	inv, err := e.Prepare(h, mode)
	if err != nil {
		return "", err
	}
	return e.complete(ctx, h, inv)
}

// complete runs a prepared invocation and inserts the result.
func (e *Engine) complete(ctx context.Context, h document.Host, inv *Invocation) (string, error) {
	text, err := e.Run(ctx, inv)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := h.Insert(ctx, inv.Snapshot.Ref, text); err != nil {
		return "", err
	}
	return text, nil
}

// Trigger captures context and builds the command before it returns, then
// runs the tool and inserts the result in the background. Tasks are
// independent: nothing orders or serialises them, and each inserts when it
// completes.
func (e *Engine) Trigger(ctx context.Context, h document.Host, mode command.ReturnMode) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{mode: mode, cancel: cancel, done: make(chan struct{})}

	inv, err := e.Prepare(h, mode)
	if err != nil {
		e.log.Debug("prediction failed", zap.Error(err))
		t.err = err
		cancel()
		close(t.done)
		return t
	}
	t.inv = inv

	go func() {
		defer close(t.done)
		defer cancel()
		t.text, t.err = e.complete(ctx, h, inv)
		if t.err != nil {
			e.log.Debug("prediction failed", zap.Error(t.err))
		}
	}()
	return t
}

// Task is a prediction running in the background.
type Task struct {
	mode   command.ReturnMode
	cancel context.CancelFunc
	done   chan struct{}

	inv  *Invocation
	text string
	err  error
}

// Mode returns the return mode the task was triggered with.
func (t *Task) Mode() command.ReturnMode {
	return t.mode
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result blocks until the task finishes and returns the inserted text.
func (t *Task) Result() (string, error) {
	<-t.done
	return t.text, t.err
}

// Invocation returns what the task runs. It is nil when capturing context
// or building the command failed.
func (t *Task) Invocation() *Invocation {
	return t.inv
}

// Cancel stops the task. A running tool is killed and nothing is inserted.
func (t *Task) Cancel() {
	t.cancel()
}

// AsError converts a pipeline error into the error reported to the user.
func AsError(err error) *evocaition.Error {
	if err == nil {
		return nil
	}
	var e *evocaition.Error
	if errors.As(err, &e) {
		return e
	}
	var perr *invoke.ProcessError
	switch {
	case errors.Is(err, document.ErrNoActiveDocument):
		return &evocaition.Error{Code: evocaition.CodeNoActiveDocument, Message: err.Error()}
	case errors.Is(err, document.ErrDocumentChanged):
		return &evocaition.Error{Code: evocaition.CodeDocumentChanged, Message: err.Error()}
	case errors.Is(err, evocaition.ErrInvalidConfigValue):
		return &evocaition.Error{Code: evocaition.CodeInvalidConfigValue, Message: err.Error()}
	case errors.Is(err, ErrConfig):
		return &evocaition.Error{Code: evocaition.CodeConfigError, Message: err.Error()}
	case errors.As(err, &perr):
		return &evocaition.Error{Code: evocaition.CodeProcessError, Message: perr.Message}
	case errors.Is(err, context.Canceled):
		return &evocaition.Error{Code: evocaition.CodeCancelled, Message: "prediction cancelled"}
	}
	return &evocaition.Error{Code: evocaition.CodeProcessError, Message: err.Error()}
}
