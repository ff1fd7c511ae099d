// Package shellarg handles the shell side of invoking the generation tool:
// escaping text for a double-quoted argument, splitting the configured tool
// command into words, and quoting argv for display.
package shellarg

import (
	"errors"
	"os"
	"strings"

	"mvdan.cc/sh/v3/shell"
	"mvdan.cc/sh/v3/syntax"
)

var escaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Escape makes text safe to place inside a double-quoted shell argument
// against quote breakout: backslashes are doubled, then double quotes get a
// backslash. Newlines, $ and backticks are left alone, so the result must not
// be handed to a shell; it is only used to render command lines.
// Escape is not idempotent.
func Escape(text string) string {
	// A single-pass replacer is equivalent to the two ordered passes because
	// neither replacement output is re-scanned.
	return escaper.Replace(text)
}

// Unescape inverts Escape.
func Unescape(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		if text[i] == '\\' && i+1 < len(text) && (text[i+1] == '\\' || text[i+1] == '"') {
			i++
		}
		b.WriteByte(text[i])
	}
	return b.String()
}

// DoubleQuote returns Escape(text) wrapped in double quotes.
func DoubleQuote(text string) string {
	return `"` + Escape(text) + `"`
}

// Fields splits a command line such as `python -m evocaition` into words
// using POSIX shell rules, without running a shell. Only $HOME is expanded.
func Fields(commandLine string) ([]string, error) {
	if strings.TrimSpace(commandLine) == "" {
		return nil, errors.New("empty command")
	}
	return shell.Fields(commandLine, func(name string) string {
		if name == "HOME" {
			return os.Getenv("HOME")
		}
		return ""
	})
}

// Join quotes every word so the line can be pasted into bash verbatim.
// Words that cannot be represented are replaced by a placeholder.
func Join(argv []string) string {
	parts := make([]string, len(argv))
	for i, arg := range argv {
		quoted, err := syntax.Quote(arg, syntax.LangBash)
		if err != nil {
			quoted = "'<unprintable>'"
		}
		parts[i] = quoted
	}
	return strings.Join(parts, " ")
}
