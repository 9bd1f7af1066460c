package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maestro-agent/maestro/pkg/config"
)

// newTestMaskingService creates a MaskingService with a registry containing a
// server with data masking enabled for the given pattern groups and patterns.
func newTestMaskingService(t *testing.T, groups []string, patterns []string) *MaskingService {
	t.Helper()
	return NewMaskingService(
		config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
			"test-server": {
				Transport: config.TransportConfig{Type: config.TransportStdio, Command: "echo"},
				DataMasking: &config.MaskingConfig{
					Enabled:       true,
					PatternGroups: groups,
					Patterns:      patterns,
				},
			},
		}),
	)
}

func TestNewMaskingService(t *testing.T) {
	svc := NewMaskingService(config.NewMCPServerRegistry(nil))

	assert.NotNil(t, svc)
	assert.NotEmpty(t, svc.patterns, "Should have compiled patterns")
	assert.NotEmpty(t, svc.codeMaskers, "Should have registered code maskers")
	assert.Contains(t, svc.codeMaskers, "env_file")
}

func TestMaskToolResult_EmptyContent(t *testing.T) {
	svc := newTestMaskingService(t, []string{"basic"}, nil)
	assert.Empty(t, svc.MaskToolResult("", "test-server"))
}

func TestMaskToolResult_NoMaskingConfigured(t *testing.T) {
	svc := NewMaskingService(
		config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
			"no-masking-server": {
				Transport: config.TransportConfig{Type: config.TransportStdio, Command: "echo"},
			},
		}),
	)

	content := `api_key: "sk-FAKE-NOT-REAL-API-KEY-XXXX"`
	result := svc.MaskToolResult(content, "no-masking-server")
	assert.Equal(t, content, result, "Content should pass through when masking not configured")
}

func TestMaskToolResult_MaskingDisabled(t *testing.T) {
	svc := NewMaskingService(
		config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
			"disabled-server": {
				Transport: config.TransportConfig{Type: config.TransportStdio, Command: "echo"},
				DataMasking: &config.MaskingConfig{
					Enabled:       false,
					PatternGroups: []string{"basic"},
				},
			},
		}),
	)

	content := `api_key: "sk-FAKE-NOT-REAL-API-KEY-XXXX"`
	result := svc.MaskToolResult(content, "disabled-server")
	assert.Equal(t, content, result, "Content should pass through when masking disabled")
}

func TestMaskToolResult_UnknownServer(t *testing.T) {
	svc := newTestMaskingService(t, []string{"basic"}, nil)
	content := `api_key: "sk-FAKE-NOT-REAL-API-KEY-XXXX"`
	result := svc.MaskToolResult(content, "ghost-server")
	assert.Equal(t, content, result, "Content should pass through for unknown server")
}

func TestMaskToolResult_MasksAPIKey(t *testing.T) {
	svc := newTestMaskingService(t, []string{"basic"}, nil)
	content := `Configuration:
api_key: "sk-FAKE-NOT-REAL-API-KEY-XXXX"
debug: true`

	result := svc.MaskToolResult(content, "test-server")

	assert.NotContains(t, result, "sk-FAKE-NOT-REAL-API-KEY-XXXX", "API key should be masked")
	assert.Contains(t, result, "__MASKED_API_KEY__")
	assert.Contains(t, result, "debug: true", "Non-sensitive content should be preserved")
}

func TestMaskToolResult_MasksMultiplePatterns(t *testing.T) {
	svc := newTestMaskingService(t, []string{"security"}, nil)
	content := `api_key: "sk-FAKE-NOT-REAL-API-KEY-XXXX"
password: "FAKE-S3CRET-PASS-NOT-REAL"
user@example.com filed the report`

	result := svc.MaskToolResult(content, "test-server")

	assert.NotContains(t, result, "sk-FAKE-NOT-REAL-API-KEY-XXXX")
	assert.NotContains(t, result, "FAKE-S3CRET-PASS-NOT-REAL")
	assert.NotContains(t, result, "user@example.com")
	assert.Contains(t, result, "__MASKED_EMAIL__")
}

func TestMaskToolResult_IndividualPattern(t *testing.T) {
	svc := newTestMaskingService(t, nil, []string{"certificate"})
	content := "before\n-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----\nafter"

	result := svc.MaskToolResult(content, "test-server")

	assert.Contains(t, result, "__MASKED_CERTIFICATE__")
	assert.NotContains(t, result, "BEGIN CERTIFICATE")
	assert.Contains(t, result, "before")
	assert.Contains(t, result, "after")
}

func TestMaskToolResult_CustomPattern(t *testing.T) {
	svc := NewMaskingService(
		config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
			"test-server": {
				Transport: config.TransportConfig{Type: config.TransportStdio, Command: "echo"},
				DataMasking: &config.MaskingConfig{
					Enabled: true,
					CustomPatterns: []config.MaskingPattern{
						{Pattern: `ticket-\d{6}`, Replacement: "ticket-??????"},
					},
				},
			},
		}),
	)

	result := svc.MaskToolResult("see ticket-123456 for details", "test-server")
	assert.Equal(t, "see ticket-?????? for details", result)
}

func TestMaskToolResult_InvalidCustomPatternSkipped(t *testing.T) {
	svc := NewMaskingService(
		config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
			"test-server": {
				Transport: config.TransportConfig{Type: config.TransportStdio, Command: "echo"},
				DataMasking: &config.MaskingConfig{
					Enabled:       true,
					PatternGroups: []string{"basic"},
					CustomPatterns: []config.MaskingPattern{
						{Pattern: `([unclosed`, Replacement: "x"},
					},
				},
			},
		}),
	)

	// The invalid pattern is skipped at compile time; valid groups still apply.
	result := svc.MaskToolResult(`password: "FAKE-S3CRET-PASS-NOT-REAL"`, "test-server")
	assert.NotContains(t, result, "FAKE-S3CRET-PASS-NOT-REAL")
}

func TestMaskToolResult_UnknownGroupIgnored(t *testing.T) {
	svc := newTestMaskingService(t, []string{"no-such-group"}, nil)
	content := "plain text output"
	assert.Equal(t, content, svc.MaskToolResult(content, "test-server"))
}
