package masking

import (
	"regexp"
	"strings"
)

// MaskedEnvValue is the replacement string for masked dotenv values.
const MaskedEnvValue = "[MASKED_ENV_VALUE]"

// Pre-compiled patterns for fast AppliesTo checks and line parsing.
var (
	envLinePattern   = regexp.MustCompile(`(?m)^\s*(?:export\s+)?[A-Za-z_][A-Za-z0-9_]*\s*=`)
	envAssignPattern = regexp.MustCompile(`^(\s*(?:export\s+)?)([A-Za-z_][A-Za-z0-9_]*)(\s*=\s*)(.*)$`)
	secretKeyPattern = regexp.MustCompile(`(?i)(?:key|token|secret|password|passwd|credential|auth|cert)`)
)

// EnvFileMasker masks values of secret-looking keys in dotenv-style KEY=VALUE
// content while leaving other keys, comments, and non-assignment lines
// untouched. Tool results that read .env files land here before regex sweeps.
type EnvFileMasker struct{}

// Name returns the unique identifier for this masker.
func (m *EnvFileMasker) Name() string { return "env_file" }

// AppliesTo performs a lightweight check on whether this masker should process the data.
func (m *EnvFileMasker) AppliesTo(data string) bool {
	if !strings.Contains(data, "=") {
		return false
	}
	return envLinePattern.MatchString(data)
}

// Mask replaces the values of secret-looking keys line by line. Lines that do
// not parse as assignments are passed through unchanged.
func (m *EnvFileMasker) Mask(data string) string {
	lines := strings.Split(data, "\n")
	changed := false

	for i, line := range lines {
		parts := envAssignPattern.FindStringSubmatch(line)
		if parts == nil {
			continue
		}
		key, value := parts[2], parts[4]
		if value == "" || !secretKeyPattern.MatchString(key) {
			continue
		}
		lines[i] = parts[1] + key + parts[3] + MaskedEnvValue
		changed = true
	}

	if !changed {
		return data
	}
	return strings.Join(lines, "\n")
}
