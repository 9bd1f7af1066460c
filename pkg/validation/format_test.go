package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-agent/maestro/pkg/models"
)

func TestFormatStage(t *testing.T) {
	tests := []struct {
		name      string
		calls     []models.ToolCall
		wantValid bool
		wantError string
	}{
		{
			name: "canonical call passes",
			calls: []models.ToolCall{
				{Server: "k8s", Tool: "k8s__get_pods", Parameters: map[string]any{"namespace": "default"}},
			},
			wantValid: true,
		},
		{
			name: "bare tool name passes",
			calls: []models.ToolCall{
				{Server: "browser", Tool: "navigate"},
			},
			wantValid: true,
		},
		{
			name:      "empty call list",
			calls:     nil,
			wantValid: false,
			wantError: "no tool calls to validate",
		},
		{
			name: "missing server",
			calls: []models.ToolCall{
				{Tool: "get_pods"},
			},
			wantValid: false,
			wantError: "call 0: server is required",
		},
		{
			name: "missing tool",
			calls: []models.ToolCall{
				{Server: "k8s"},
			},
			wantValid: false,
			wantError: "call 0: tool is required",
		},
		{
			name: "malformed tool name",
			calls: []models.ToolCall{
				{Server: "k8s", Tool: "get pods!"},
			},
			wantValid: false,
			wantError: `call 0: malformed tool name "get pods!"`,
		},
		{
			name: "malformed server name",
			calls: []models.ToolCall{
				{Server: "k8s/prod", Tool: "get_pods"},
			},
			wantValid: false,
			wantError: `call 0: malformed server name "k8s/prod"`,
		},
		{
			name: "empty parameter name",
			calls: []models.ToolCall{
				{Server: "k8s", Tool: "get_pods", Parameters: map[string]any{" ": "x"}},
			},
			wantValid: false,
			wantError: "call 0: parameter with empty name",
		},
		{
			name: "second call reported with its index",
			calls: []models.ToolCall{
				{Server: "k8s", Tool: "get_pods"},
				{Server: "k8s", Tool: ""},
			},
			wantValid: false,
			wantError: "call 1: tool is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := FormatStage{}.Check(context.Background(), Input{Calls: tt.calls})

			assert.Equal(t, tt.wantValid, out.Valid)
			if tt.wantError != "" {
				require.NotEmpty(t, out.Errors)
				assert.Contains(t, out.Errors, tt.wantError)
			} else {
				assert.Empty(t, out.Errors)
			}
			assert.Empty(t, out.Corrections)
		})
	}
}
