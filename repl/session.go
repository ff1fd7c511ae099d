// Package repl is an interactive terminal host for predictions. Every input
// line is a document; predictions run in the background and are inserted at
// the cursor when they finish, as long as their line is still being edited.
package repl

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Paranoid-AF/evocaition/command"
	"github.com/Paranoid-AF/evocaition/document"
	"github.com/Paranoid-AF/evocaition/generate"
)

const linePrompt = "> "

// Predictor starts background predictions.
type Predictor interface {
	Trigger(ctx context.Context, h document.Host, mode command.ReturnMode) *generate.Task
}

// Run opens the terminal and runs a session until the user quits.
// Finished predictions are logged to stdout as TOML.
func Run(ctx context.Context, engine Predictor, log *zap.Logger) error {
	t, err := OpenTerminal()
	if err != nil {
		return err
	}
	defer t.Close()
	return NewSession(engine, t, termWriter(os.Stdout), log).Run(ctx)
}

type finishedTask struct {
	task       *generate.Task
	documentID string
}

// Session is the state of one interactive run.
type Session struct {
	engine Predictor
	tty    io.ReadWriter
	out    io.Writer
	log    *zap.Logger

	ws     *document.Workspace
	line   *document.Buffer
	lineNo int
	tasks  map[*generate.Task]struct{}
}

// NewSession creates a session reading keys from tty and drawing on it.
// out receives one TOML entry per finished prediction; it may be nil.
func NewSession(engine Predictor, tty io.ReadWriter, out io.Writer, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		engine: engine,
		tty:    tty,
		out:    out,
		log:    log,
		ws:     document.NewWorkspace(),
		tasks:  make(map[*generate.Task]struct{}),
	}
}

// Run processes keys until the user quits or the input ends.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fmt.Fprintf(s.tty, "evocaition repl\r\n")
	fmt.Fprintf(s.tty, "\r\nkeys:\r\n")
	fmt.Fprintf(s.tty, "  Ctrl-T  predict text\r\n")
	fmt.Fprintf(s.tty, "  Tab     predict sentence\r\n")
	fmt.Fprintf(s.tty, "  Ctrl-C  cancel predictions, again to exit\r\n")
	fmt.Fprintf(s.tty, "  :quit   exit\r\n\r\n")
	s.newLine()

	keys := make(chan key)
	done := make(chan struct{})
	defer close(done)
	go readKeys(s.tty, keys, done)

	finished := make(chan finishedTask)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case k, ok := <-keys:
			if !ok {
				return nil
			}
			if s.handleKey(ctx, k, finished) {
				return nil
			}

		case f := <-finished:
			s.report(f)
		}
	}
}

// handleKey applies k and reports whether the session should end.
func (s *Session) handleKey(ctx context.Context, k key, finished chan<- finishedTask) bool {
	switch k.kind {
	case keyInterrupt:
		if len(s.tasks) == 0 {
			fmt.Fprintf(s.tty, "\r\n")
			return true
		}
		for t := range s.tasks {
			t.Cancel()
			delete(s.tasks, t)
		}
		return false

	case keyEOF:
		if s.line.Text() == "" {
			fmt.Fprintf(s.tty, "\r\n")
			return true
		}
		k = key{kind: keyDelete}

	case keyEnter:
		text := s.line.Text()
		fmt.Fprintf(s.tty, "\r\n")
		if text == ":quit" || text == ":q" {
			return true
		}
		s.ws.Close(s.line.ID())
		s.newLine()
		return false

	case keyPredictText, keyPredictSentence:
		mode := command.ModeText
		if k.kind == keyPredictSentence {
			mode = command.ModeSentence
		}
		s.trigger(ctx, mode, finished)
		return false
	}

	s.line.Update(func(text string, off int) (string, int) {
		return edit(k, text, off)
	})
	s.redraw()
	return false
}

func (s *Session) trigger(ctx context.Context, mode command.ReturnMode, finished chan<- finishedTask) {
	id := s.line.ID()
	t := s.engine.Trigger(ctx, s.ws, mode)
	s.tasks[t] = struct{}{}
	s.log.Debug("prediction triggered", zap.String("document", id), zap.String("mode", string(mode)))

	go func() {
		select {
		case <-t.Done():
		case <-ctx.Done():
			return
		}
		select {
		case finished <- finishedTask{task: t, documentID: id}:
		case <-ctx.Done():
		}
	}()
}

func (s *Session) report(f finishedTask) {
	delete(s.tasks, f.task)

	e := newEntry(f.documentID, f.task)
	fmt.Fprintf(s.tty, "\r\x1b[K")
	if s.out != nil {
		if err := writeEntry(s.out, e); err != nil {
			s.log.Warn("failed to write prediction log", zap.Error(err))
		}
	}
	if e.ErrorCode != "" {
		fmt.Fprintf(s.tty, "error [%s]: %s\r\n", e.ErrorCode, e.ErrorMessage)
	}
	s.redraw()
}

func (s *Session) newLine() {
	s.lineNo++
	s.line = document.NewBufferAtEnd(fmt.Sprintf("line-%d", s.lineNo), "")
	s.ws.Open(s.line)
	s.redraw()
}

// redraw clears the current line and redraws prompt + buffer with cursor.
// Newlines in the buffer are shown as ↵ so the line stays on one row.
func (s *Session) redraw() {
	text, off := s.line.State()
	display := strings.ReplaceAll(text, "\n", "↵")
	fmt.Fprintf(s.tty, "\r\x1b[K%s%s", linePrompt, display)

	if tail := utf8.RuneCountInString(text[off:]); tail > 0 {
		fmt.Fprintf(s.tty, "\x1b[%dD", tail)
	}
}
