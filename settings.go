package evocaition

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrInvalidConfigValue is returned when a setting update cannot be coerced
// to the setting's declared kind.
var ErrInvalidConfigValue = errors.New("invalid config value")

// Kind is the declared type of a setting.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindInteger
	KindBoolean
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindInteger:
		return "integer"
	case KindBoolean:
		return "boolean"
	default:
		return "string"
	}
}

// Setting describes one configuration key.
type Setting struct {
	Key  string
	Kind Kind
	// Optional settings may be absent; an empty update removes them.
	Optional bool
	// Env overrides the stored value when set.
	Env string
	// Prompt is shown by interactive hosts asking for a new value.
	Prompt string
}

var settings = []Setting{
	{Key: "tool", Kind: KindString, Env: "EVOCAITION_TOOL", Prompt: "Enter the generation tool command"},
	{Key: "modelId", Kind: KindString, Env: "EVOCAITION_MODEL_ID", Prompt: "Enter model ID"},
	{Key: "maxTokens", Kind: KindInteger, Env: "EVOCAITION_MAX_TOKENS", Prompt: "Enter max tokens to predict (0 == automatic)"},
	{Key: "temperature", Kind: KindNumber, Env: "EVOCAITION_TEMPERATURE", Prompt: "Enter sampling temperature"},
	{Key: "topP", Kind: KindNumber, Env: "EVOCAITION_TOP_P", Prompt: "Enter Top-P"},
	{Key: "minP", Kind: KindNumber, Env: "EVOCAITION_MIN_P", Prompt: "Enter Min-P"},
	{Key: "topK", Kind: KindInteger, Env: "EVOCAITION_TOP_K", Prompt: "Enter Top-K"},
	{Key: "repPen", Kind: KindNumber, Env: "EVOCAITION_REP_PEN", Prompt: "Enter repetition penalty"},
	{Key: "seed", Kind: KindInteger, Optional: true, Env: "EVOCAITION_SEED", Prompt: "Enter seed (empty to unset)"},
	{Key: "apiKey", Kind: KindString, Optional: true, Env: "EVOCAITION_API_KEY", Prompt: "Enter API key"},
	{Key: "apiEndpoint", Kind: KindString, Optional: true, Env: "EVOCAITION_API_ENDPOINT", Prompt: "Enter API endpoint URL"},
	{Key: "documentContextCharacterLength", Kind: KindInteger, Prompt: "Enter characters of context before the cursor"},
	{Key: "documentAfterCharacterLength", Kind: KindInteger, Prompt: "Enter characters of context after the cursor (0 == none)"},
	{Key: "sentenceMaxTokens", Kind: KindInteger, Prompt: "Enter max tokens in sentence mode"},
	{Key: "promptTemplate", Kind: KindString, Prompt: "Enter prompt template"},
	{Key: "timeoutSeconds", Kind: KindInteger, Prompt: "Enter generation timeout in seconds (0 == none)"},
	{Key: "cancelStaleRequests", Kind: KindBoolean, Prompt: "Cancel a running prediction when a new one starts (true/false)"},
}

// Settings returns every known setting in declaration order.
func Settings() []Setting {
	out := make([]Setting, len(settings))
	copy(out, settings)
	return out
}

// LookupSetting finds a setting by key. Keys are matched case-insensitively.
func LookupSetting(key string) (Setting, bool) {
	for _, s := range settings {
		if strings.EqualFold(s.Key, key) {
			return s, true
		}
	}
	return Setting{}, false
}

// Coerce converts raw user input to the setting's kind.
// A nil value with a nil error means "remove the setting".
func (s Setting) Coerce(raw string) (any, error) {
	if s.Optional && strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	switch s.Kind {
	case KindNumber:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsNaN(f) {
			return nil, fmt.Errorf("%w: Invalid number: %s", ErrInvalidConfigValue, raw)
		}
		return f, nil
	case KindInteger:
		trimmed := strings.TrimSpace(raw)
		if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return i, nil
		}
		// Accept "12.0" the way a numeric input box would, but not "12.5".
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil || f != math.Trunc(f) || math.Abs(f) >= math.MaxInt64 {
			return nil, fmt.Errorf("%w: Invalid number: %s", ErrInvalidConfigValue, raw)
		}
		return int64(f), nil
	case KindBoolean:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("%w: Invalid boolean: %s", ErrInvalidConfigValue, raw)
	default:
		return raw, nil
	}
}

// SetSetting coerces raw to the declared kind of key and persists it to the
// config file. On failure the stored value is left untouched.
func SetSetting(key, raw string) (any, error) {
	s, ok := LookupSetting(key)
	if !ok {
		return nil, fmt.Errorf("%w: unknown setting %q", ErrInvalidConfigValue, key)
	}
	value, err := s.Coerce(raw)
	if err != nil {
		return nil, err
	}

	path := ConfigPath()
	stored, err := readStored(path)
	if err != nil {
		return nil, err
	}
	if value == nil {
		delete(stored, s.Key)
	} else {
		stored[s.Key] = value
	}
	if err := writeStored(path, stored); err != nil {
		return nil, err
	}
	return value, nil
}

// GetSetting returns the value of key in cfg formatted for display.
// Absent optional settings are reported with ok=false.
func GetSetting(cfg *GenerationConfig, key string) (value string, ok bool, err error) {
	s, found := LookupSetting(key)
	if !found {
		return "", false, fmt.Errorf("unknown setting %q", key)
	}
	switch s.Key {
	case "tool":
		return cfg.Tool, true, nil
	case "modelId":
		return cfg.ModelID, true, nil
	case "maxTokens":
		return strconv.Itoa(cfg.MaxTokens), true, nil
	case "temperature":
		return strconv.FormatFloat(cfg.Temperature, 'f', -1, 64), true, nil
	case "topP":
		return strconv.FormatFloat(cfg.TopP, 'f', -1, 64), true, nil
	case "minP":
		return strconv.FormatFloat(cfg.MinP, 'f', -1, 64), true, nil
	case "topK":
		return strconv.Itoa(cfg.TopK), true, nil
	case "repPen":
		return strconv.FormatFloat(cfg.RepPen, 'f', -1, 64), true, nil
	case "seed":
		if cfg.Seed == nil {
			return "", false, nil
		}
		return strconv.FormatInt(*cfg.Seed, 10), true, nil
	case "apiKey":
		if cfg.APIKey == nil {
			return "", false, nil
		}
		return *cfg.APIKey, true, nil
	case "apiEndpoint":
		if cfg.APIEndpoint == nil {
			return "", false, nil
		}
		return *cfg.APIEndpoint, true, nil
	case "documentContextCharacterLength":
		return strconv.Itoa(cfg.DocumentContextCharacterLength), true, nil
	case "documentAfterCharacterLength":
		return strconv.Itoa(cfg.DocumentAfterCharacterLength), true, nil
	case "sentenceMaxTokens":
		return strconv.Itoa(cfg.SentenceMaxTokens), true, nil
	case "promptTemplate":
		return cfg.PromptTemplate, true, nil
	case "timeoutSeconds":
		return strconv.Itoa(cfg.TimeoutSeconds), true, nil
	case "cancelStaleRequests":
		return strconv.FormatBool(cfg.CancelStaleRequests), true, nil
	}
	return "", false, nil
}

// readStored decodes the config file into a generic map so keys this version
// does not know about survive a rewrite.
func readStored(path string) (map[string]any, error) {
	stored := make(map[string]any)
	if _, err := toml.DecodeFile(path, &stored); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stored, nil
		}
		return nil, fmt.Errorf("read configuration from %s: %w", path, err)
	}
	return stored, nil
}

// writeStored encodes stored as TOML and atomically replaces path.
func writeStored(path string, stored map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.toml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(stored); err != nil {
		tmp.Close()
		return fmt.Errorf("encode configuration: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
