package evocaition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		key     string
		raw     string
		want    any
		wantErr bool
	}{
		{"temperature", "0.7", 0.7, false},
		{"temperature", " 1 ", 1.0, false},
		{"temperature", "warm", nil, true},
		{"temperature", "NaN", nil, true},
		{"maxTokens", "256", int64(256), false},
		{"maxTokens", "12.0", int64(12), false},
		{"maxTokens", "12.5", nil, true},
		{"maxTokens", "", nil, true},
		{"maxTokens", "1e30", nil, true},
		{"seed", "-1e19", nil, true},
		{"topK", "+Inf", nil, true},
		{"topK", "1e3", int64(1000), false},
		{"seed", "", nil, false},
		{"seed", "7", int64(7), false},
		{"cancelStaleRequests", "TRUE", true, false},
		{"cancelStaleRequests", "false", false, false},
		{"cancelStaleRequests", "yes", nil, true},
		{"modelId", "llama 3", "llama 3", false},
		{"apiKey", "", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.raw, func(t *testing.T) {
			s, ok := LookupSetting(tt.key)
			require.True(t, ok)
			got, err := s.Coerce(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfigValue)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceMessage(t *testing.T) {
	s, _ := LookupSetting("topK")
	_, err := s.Coerce("abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid number: abc")
}

func TestLookupSettingCaseInsensitive(t *testing.T) {
	s, ok := LookupSetting("TOPP")
	require.True(t, ok)
	assert.Equal(t, "topP", s.Key)

	_, ok = LookupSetting("nope")
	assert.False(t, ok)
}

func TestSetSettingPersistsTypedValue(t *testing.T) {
	dir := useConfigDir(t)

	value, err := SetSetting("temperature", "0.25")
	require.NoError(t, err)
	assert.Equal(t, 0.25, value)

	_, err = SetSetting("seed", "99")
	require.NoError(t, err)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 0.25, cfg.Temperature)
	require.NotNil(t, cfg.Seed)
	assert.Equal(t, int64(99), *cfg.Seed)

	data, err := os.ReadFile(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "temperature = 0.25")
	assert.Contains(t, string(data), "seed = 99")
}

func TestSetSettingInvalidLeavesPriorValue(t *testing.T) {
	useConfigDir(t)

	_, err := SetSetting("topK", "40")
	require.NoError(t, err)

	_, err = SetSetting("topK", "forty")
	require.ErrorIs(t, err, ErrInvalidConfigValue)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.TopK)
}

func TestSetSettingEmptyRemovesOptional(t *testing.T) {
	useConfigDir(t)

	_, err := SetSetting("apiKey", "sk-1")
	require.NoError(t, err)
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg.APIKey)

	_, err = SetSetting("apiKey", "")
	require.NoError(t, err)
	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.Nil(t, cfg.APIKey)
}

func TestSetSettingKeepsUnknownKeys(t *testing.T) {
	dir := useConfigDir(t)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("futureKey = \"keep me\"\n"), 0o600))

	_, err := SetSetting("modelId", "m")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `futureKey = "keep me"`)
	assert.Contains(t, string(data), `modelId = "m"`)
}

func TestSetSettingUnknownKey(t *testing.T) {
	useConfigDir(t)
	_, err := SetSetting("colour", "blue")
	require.ErrorIs(t, err, ErrInvalidConfigValue)
}

func TestGetSetting(t *testing.T) {
	cfg := DefaultConfig()

	v, ok, err := GetSetting(cfg, "temperature")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok, err = GetSetting(cfg, "seed")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = GetSetting(cfg, "colour")
	require.Error(t, err)
}

func TestEverySettingIsReadable(t *testing.T) {
	cfg := DefaultConfig()
	for _, s := range Settings() {
		_, _, err := GetSetting(cfg, s.Key)
		assert.NoError(t, err, s.Key)
	}
}
