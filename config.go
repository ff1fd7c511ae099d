package evocaition

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	defaults "github.com/Paranoid-AF/evocaition/default"
)

// GenerationConfig is the snapshot of user settings taken when a prediction is
// triggered. Pointer fields are optional: nil means the setting is absent.
type GenerationConfig struct {
	Tool        string  `mapstructure:"tool" json:"tool"`
	ModelID     string  `mapstructure:"modelId" json:"modelId"`
	MaxTokens   int     `mapstructure:"maxTokens" json:"maxTokens"`
	Temperature float64 `mapstructure:"temperature" json:"temperature"`
	TopP        float64 `mapstructure:"topP" json:"topP"`
	MinP        float64 `mapstructure:"minP" json:"minP"`
	TopK        int     `mapstructure:"topK" json:"topK"`
	RepPen      float64 `mapstructure:"repPen" json:"repPen"`
	Seed        *int64  `mapstructure:"seed" json:"seed,omitempty"`
	APIKey      *string `mapstructure:"apiKey" json:"apiKey,omitempty"`
	APIEndpoint *string `mapstructure:"apiEndpoint" json:"apiEndpoint,omitempty"`

	DocumentContextCharacterLength int    `mapstructure:"documentContextCharacterLength" json:"documentContextCharacterLength"`
	DocumentAfterCharacterLength   int    `mapstructure:"documentAfterCharacterLength" json:"documentAfterCharacterLength"`
	SentenceMaxTokens              int    `mapstructure:"sentenceMaxTokens" json:"sentenceMaxTokens"`
	PromptTemplate                 string `mapstructure:"promptTemplate" json:"promptTemplate"`
	TimeoutSeconds                 int    `mapstructure:"timeoutSeconds" json:"timeoutSeconds"`
	CancelStaleRequests            bool   `mapstructure:"cancelStaleRequests" json:"cancelStaleRequests"`
}

// Redacted returns a copy safe to log or send back to a client.
func (c GenerationConfig) Redacted() GenerationConfig {
	if c.APIKey != nil && *c.APIKey != "" {
		masked := "***"
		c.APIKey = &masked
	}
	return c
}

// ConfigDir returns the config directory path.
// Resolution order: $EVOCAITION_CONFIG_DIR > $XDG_CONFIG_HOME/evocaition > ~/.config/evocaition
func ConfigDir() string {
	if dir := os.Getenv("EVOCAITION_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "evocaition")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "evocaition-config")
	}
	return filepath.Join(home, ".config", "evocaition")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// PromptPath returns the custom prompt template path.
func PromptPath() string {
	return filepath.Join(ConfigDir(), "prompt.tmpl")
}

// defaultReader returns a viper instance preloaded with the embedded defaults.
func defaultReader() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(bytes.NewReader(defaults.DefaultConfigTOML)); err != nil {
		panic("evocaition: invalid embedded default_config.toml: " + err.Error())
	}
	return v
}

// DefaultConfig returns the default configuration from the embedded default_config.toml.
func DefaultConfig() *GenerationConfig {
	var cfg GenerationConfig
	if err := defaultReader().Unmarshal(&cfg); err != nil {
		panic("evocaition: cannot decode embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig reads the configuration fresh from disk.
// Priority: EVOCAITION_* env > config.toml > embedded defaults.
func LoadConfig() (*GenerationConfig, error) {
	v := defaultReader()
	for _, s := range settings {
		if s.Env != "" {
			_ = v.BindEnv(s.Key, s.Env)
		}
	}

	path := ConfigPath()
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return nil, fmt.Errorf("configuration path %s is a directory", path)
	case err == nil:
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read configuration from %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("stat configuration %s: %w", path, err)
	}

	var cfg GenerationConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode configuration from %s: %w", path, err)
	}
	return &cfg, nil
}

// ValidateConfig checks configuration for potential issues and returns warnings.
// Invalid values are still passed to the tool; the tool is the one rejecting them.
func ValidateConfig(cfg *GenerationConfig) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	if cfg.Tool == "" {
		warnings = append(warnings, "tool is empty; predictions cannot run")
	}
	if cfg.ModelID == "" {
		warnings = append(warnings, "modelId is not set; the tool will receive an empty model id")
	}
	if cfg.MaxTokens < 0 {
		warnings = append(warnings, fmt.Sprintf("maxTokens is negative (%d)", cfg.MaxTokens))
	}
	if cfg.Temperature < 0 {
		warnings = append(warnings, fmt.Sprintf("temperature is negative (%g)", cfg.Temperature))
	}
	if cfg.TopP < 0 || cfg.TopP > 1 {
		warnings = append(warnings, fmt.Sprintf("topP %g is outside [0, 1]", cfg.TopP))
	}
	if cfg.MinP < 0 || cfg.MinP > 1 {
		warnings = append(warnings, fmt.Sprintf("minP %g is outside [0, 1]", cfg.MinP))
	}
	if cfg.TopK < 0 {
		warnings = append(warnings, fmt.Sprintf("topK is negative (%d)", cfg.TopK))
	}
	if cfg.DocumentContextCharacterLength <= 0 {
		warnings = append(warnings, "documentContextCharacterLength is not positive; the prompt will carry no document text")
	}
	if cfg.SentenceMaxTokens <= 0 {
		warnings = append(warnings, "sentenceMaxTokens is not positive")
	}
	if cfg.APIEndpoint != nil && *cfg.APIEndpoint != "" && (cfg.APIKey == nil || *cfg.APIKey == "") {
		warnings = append(warnings, "apiEndpoint is set but apiKey is not")
	}
	return warnings
}
