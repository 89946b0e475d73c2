package extraction

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackendID(t *testing.T) {
	tests := []struct {
		in   string
		want BackendID
	}{
		{"regex", BackendRegex},
		{"demo", BackendRegex},
		{"Fallback", BackendRegex},
		{" ollama ", BackendOllama},
		{"OPENAI", BackendOpenAI},
		{"claude", BackendAnthropic},
		{"anthropic", BackendAnthropic},
		{"cached", BackendCached},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackendID(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseBackendID("gemini")
	assert.Error(t, err)
}

func TestParseBackendIDs_DedupesAliases(t *testing.T) {
	ids, err := ParseBackendIDs([]string{"demo", "ollama", "regex", "", "openai"})
	require.NoError(t, err)
	assert.Equal(t, []BackendID{BackendRegex, BackendOllama, BackendOpenAI}, ids)

	_, err = ParseBackendIDs([]string{"regex", "bogus"})
	assert.Error(t, err)
}

func TestBackendID_Text(t *testing.T) {
	b, err := json.Marshal(map[string]BackendID{"source": BackendAnthropic})
	require.NoError(t, err)
	assert.JSONEq(t, `{"source":"anthropic"}`, string(b))

	var decoded struct{ Source BackendID }
	require.NoError(t, json.Unmarshal([]byte(`{"Source":"claude"}`), &decoded))
	assert.Equal(t, BackendAnthropic, decoded.Source)

	require.NoError(t, json.Unmarshal([]byte(`{"Source":"unknown"}`), &decoded))
	assert.Equal(t, BackendUnknown, decoded.Source)
	require.NoError(t, json.Unmarshal([]byte(`{"Source":"gemini"}`), &decoded))
	assert.Equal(t, BackendUnknown, decoded.Source)

	assert.Equal(t, "unknown", BackendID(99).String())
	assert.False(t, BackendCached.Dispatchable())
	assert.True(t, BackendOllama.Dispatchable())
}

func TestFields_Clean(t *testing.T) {
	f := Fields{"name": " Jane ", "email": "", " ": "x", "phone": "\t"}
	assert.Equal(t, Fields{"name": "Jane"}, f.Clean())
}
