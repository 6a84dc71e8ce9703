package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n[{\"page\":\"1\"}]\n```", `[{"page":"1"}]`},
		{"prose around", "Here you go:\n{\"a\": [1,2]}\nThanks!", `{"a": [1,2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractJSONFailures(t *testing.T) {
	for _, in := range []string{"", "no json here", "{\"a\": ", "[1, 2"} {
		_, err := ExtractJSON(in)
		assert.Error(t, err, in)
	}
}
