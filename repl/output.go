package repl

import (
	"bytes"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/term"

	"github.com/Paranoid-AF/evocaition/generate"
)

// termWriter wraps a file and converts \n to \r\n when the file is a terminal
// (needed because raw mode disables the kernel's NL→CRNL translation).
// When the file is redirected, \n passes through unchanged.
func termWriter(f *os.File) io.Writer {
	if term.IsTerminal(int(f.Fd())) {
		return &crlfWriter{w: f}
	}
	return f
}

type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	replaced := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	_, err := c.w.Write(replaced)
	return len(p), err // report original length to caller
}

// entry is one prediction in the TOML log.
type entry struct {
	Timestamp    time.Time `toml:"timestamp"`
	Document     string    `toml:"document"`
	Mode         string    `toml:"mode"`
	Before       string    `toml:"before,omitempty"`
	Prompt       string    `toml:"prompt,omitempty"`
	Command      string    `toml:"command,omitempty"`
	Text         string    `toml:"text,omitempty"`
	ErrorCode    string    `toml:"error_code,omitempty"`
	ErrorMessage string    `toml:"error_message,omitempty"`
}

func newEntry(documentID string, task *generate.Task) entry {
	e := entry{
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Document:  documentID,
		Mode:      string(task.Mode()),
	}
	if inv := task.Invocation(); inv != nil {
		e.Before = inv.Snapshot.Before
		e.Prompt = inv.Prompt
		e.Command = inv.Command.Redacted()
	}
	text, err := task.Result()
	if err != nil {
		perr := generate.AsError(err)
		e.ErrorCode = perr.Code
		e.ErrorMessage = perr.Message
	} else {
		e.Text = text
	}
	return e
}

// writeEntry appends e to w as a [[prediction]] table.
func writeEntry(w io.Writer, e entry) error {
	var buf bytes.Buffer
	buf.WriteString("# " + strings.Repeat("═", 60) + "\n")
	doc := struct {
		Prediction []entry `toml:"prediction"`
	}{Prediction: []entry{e}}
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return err
	}
	buf.WriteString("\n")
	_, err := w.Write(buf.Bytes())
	return err
}
