// Package prompt renders the text handed to the generation tool from a
// user template and the document context.
package prompt

import (
	"errors"
	"os"
	"strings"
	"text/template"

	"go.uber.org/zap"

	defaults "github.com/Paranoid-AF/evocaition/default"
)

// Data holds the values available to a prompt template.
type Data struct {
	// DocumentBefore is the text before the cursor, already trimmed to the
	// configured context length.
	DocumentBefore string
	// DocumentAfter is the text after the cursor; empty unless configured.
	DocumentAfter string
}

// funcs exposes the data fields as template functions too, so templates
// written as {{ documentBefore }} keep working next to {{ .DocumentBefore }}.
func funcs(data Data) template.FuncMap {
	return template.FuncMap{
		"documentBefore": func() string { return data.DocumentBefore },
		"documentAfter":  func() string { return data.DocumentAfter },
	}
}

// Execute renders tmpl with data. An empty tmpl selects the built-in default.
func Execute(tmpl string, data Data) (string, error) {
	if tmpl == "" {
		tmpl = defaults.DefaultPrompt
	}
	t, err := template.New("prompt").Funcs(funcs(data)).Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Render is Execute with a fallback: when tmpl cannot be parsed or executed a
// warning is logged and the default template is used instead.
// The result is not escaped.
func Render(log *zap.Logger, tmpl string, data Data) string {
	out, err := Execute(tmpl, data)
	if err == nil {
		return out
	}
	if log != nil {
		log.Warn("failed to render prompt template, falling back to default", zap.Error(err))
	}
	out, err = Execute("", data)
	if err != nil {
		// the embedded default is covered by tests
		panic("prompt: default template does not render: " + err.Error())
	}
	return out
}

// LoadFile reads a custom template from path.
// A missing file returns an empty string and no error.
func LoadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}
