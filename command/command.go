// Package command builds the invocation of the external generation tool from
// the user configuration and a rendered prompt.
package command

import (
	"strconv"
	"strings"

	evocaition "github.com/Paranoid-AF/evocaition"
	"github.com/Paranoid-AF/evocaition/shellarg"
)

// ReturnMode selects how much of the generated text is kept.
type ReturnMode string

const (
	// ModeText keeps the whole output.
	ModeText ReturnMode = evocaition.ModeText
	// ModeSentence keeps the first sentence and caps the token budget.
	ModeSentence ReturnMode = evocaition.ModeSentence
)

// ParseMode maps a wire value to a ReturnMode. Empty means ModeText.
func ParseMode(s string) (ReturnMode, bool) {
	switch s {
	case "", evocaition.ModeText:
		return ModeText, true
	case evocaition.ModeSentence:
		return ModeSentence, true
	}
	return "", false
}

// defaultSentenceMaxTokens caps sentence mode when maxTokens is automatic.
const defaultSentenceMaxTokens = 100

// DefaultTool is the program invoked when the tool setting is empty.
const DefaultTool = "evocaition"

// flag is a single --name value pair. quoted values are escaped and wrapped
// in double quotes in the legacy shell rendering.
type flag struct {
	name   string
	value  string
	quoted bool
	secret bool
	bare   bool
}

// Command is a fully built invocation. It is built once and run once.
type Command struct {
	program []string
	flags   []flag
}

// Build assembles the invocation for prompt. The configuration is not
// validated: out-of-range values are passed on and rejected by the tool.
func Build(cfg *evocaition.GenerationConfig, prompt string, mode ReturnMode) (*Command, error) {
	tool := cfg.Tool
	if strings.TrimSpace(tool) == "" {
		tool = DefaultTool
	}
	program, err := shellarg.Fields(tool)
	if err != nil {
		return nil, err
	}
	if len(program) == 0 {
		program = []string{DefaultTool}
	}

	c := &Command{program: program}
	c.flags = append(c.flags,
		flag{name: "--plain", bare: true},
		flag{name: "--prompt", value: prompt, quoted: true},
		flag{name: "--model-id", value: cfg.ModelID, quoted: true},
		flag{name: "--temp", value: formatFloat(cfg.Temperature)},
		flag{name: "--top-k", value: strconv.Itoa(cfg.TopK)},
		flag{name: "--top-p", value: formatFloat(cfg.TopP)},
		flag{name: "--min-p", value: formatFloat(cfg.MinP)},
		flag{name: "--rep-pen", value: formatFloat(cfg.RepPen)},
	)

	switch {
	case mode == ModeSentence:
		budget := cfg.MaxTokens
		if budget == 0 {
			budget = defaultSentenceMaxTokens
		}
		c.flags = append(c.flags, flag{name: "--max-tokens", value: strconv.Itoa(min(cfg.SentenceMaxTokens, budget))})
	case cfg.MaxTokens != 0:
		c.flags = append(c.flags, flag{name: "--max-tokens", value: strconv.Itoa(cfg.MaxTokens)})
	}
	if cfg.Seed != nil {
		c.flags = append(c.flags, flag{name: "--seed", value: strconv.FormatInt(*cfg.Seed, 10)})
	}
	if cfg.APIKey != nil {
		c.flags = append(c.flags, flag{name: "--key", value: *cfg.APIKey, quoted: true, secret: true})
	}
	if cfg.APIEndpoint != nil && *cfg.APIEndpoint != "" {
		c.flags = append(c.flags, flag{name: "--api", value: *cfg.APIEndpoint, quoted: true})
	}
	return c, nil
}

// formatFloat renders the shortest representation that round-trips, so 1.0
// becomes "1" and 0.9 stays "0.9".
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Program returns the program words the flags are appended to.
func (c *Command) Program() []string {
	return append([]string(nil), c.program...)
}

// Argv returns the argument vector to execute. Values are raw.
func (c *Command) Argv() []string {
	argv := append([]string(nil), c.program...)
	for _, f := range c.flags {
		argv = append(argv, f.name)
		if !f.bare {
			argv = append(argv, f.value)
		}
	}
	return argv
}

// Flag returns the value of the named flag and whether it is present.
func (c *Command) Flag(name string) (string, bool) {
	for _, f := range c.flags {
		if f.name == name {
			return f.value, true
		}
	}
	return "", false
}

// String renders the command as the single shell line older editor
// integrations ran through sh. Quoted values go through shellarg.Escape.
func (c *Command) String() string {
	return c.render(false)
}

// Redacted is String with the API key masked, for logs.
func (c *Command) Redacted() string {
	return c.render(true)
}

// Quoted renders Argv with bash quoting so it can be pasted into a terminal.
// The API key is masked.
func (c *Command) Quoted() string {
	argv := append([]string(nil), c.program...)
	for _, f := range c.flags {
		argv = append(argv, f.name)
		switch {
		case f.bare:
		case f.secret:
			argv = append(argv, "***")
		default:
			argv = append(argv, f.value)
		}
	}
	return shellarg.Join(argv)
}

func (c *Command) render(redact bool) string {
	var sb strings.Builder
	sb.WriteString(strings.Join(c.program, " "))
	for _, f := range c.flags {
		sb.WriteByte(' ')
		sb.WriteString(f.name)
		if f.bare {
			continue
		}
		value := f.value
		if redact && f.secret {
			value = "***"
		}
		sb.WriteByte(' ')
		if f.quoted {
			sb.WriteString(shellarg.DoubleQuote(value))
		} else {
			sb.WriteString(value)
		}
	}
	return sb.String()
}
