package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "plain object",
			input: `{"mode": "task"}`,
			want:  `{"mode": "task"}`,
		},
		{
			name:  "fenced with language tag",
			input: "Here you go:\n```json\n{\"mode\": \"chat\"}\n```\nDone.",
			want:  `{"mode": "chat"}`,
		},
		{
			name:  "fenced without language tag",
			input: "```\n{\"a\": 1}\n```",
			want:  `{"a": 1}`,
		},
		{
			name:  "unterminated fence",
			input: "```json\n{\"a\": 1}",
			want:  `{"a": 1}`,
		},
		{
			name:  "prose around object",
			input: `Sure! {"verified": true, "reason": "done"} Hope that helps.`,
			want:  `{"verified": true, "reason": "done"}`,
		},
		{
			name:  "nested objects",
			input: `{"items": [{"id": "item_1", "parameters": {"path": "/tmp"}}]}`,
			want:  `{"items": [{"id": "item_1", "parameters": {"path": "/tmp"}}]}`,
		},
		{
			name:    "empty reply",
			input:   "   \n",
			wantErr: true,
		},
		{
			name:    "no object",
			input:   "I could not produce a plan.",
			wantErr: true,
		},
		{
			name:    "broken JSON",
			input:   `{"mode": "task"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedReply)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestDecodeReply(t *testing.T) {
	var out struct {
		Mode string `json:"mode"`
	}
	require.NoError(t, decodeReply("```json\n{\"mode\": \"dev\"}\n```", &out))
	assert.Equal(t, "dev", out.Mode)

	err := decodeReply(`{"mode": 42}`, &out)
	assert.ErrorIs(t, err, ErrMalformedReply)
}
