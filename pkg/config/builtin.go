package config

// BuiltinConfig holds the configuration compiled into the binary. User YAML
// overrides entries with the same id.
type BuiltinConfig struct {
	MCPServers      map[string]MCPServerConfig
	Services        map[string]*ServiceConfig
	MaskingPatterns map[string]MaskingPattern
	PatternGroups   map[string][]string
	CodeMaskers     map[string]string
}

// GetBuiltinConfig returns the built-in configuration. The filesystem server
// ships enabled by default so a bare install can execute its first task; all
// other servers come from user YAML.
func GetBuiltinConfig() *BuiltinConfig {
	return &BuiltinConfig{
		MCPServers: map[string]MCPServerConfig{
			"filesystem": {
				Transport: TransportConfig{
					Type:    TransportStdio,
					Command: "npx",
					Args:    []string{"-y", "@modelcontextprotocol/server-filesystem", "/tmp"},
				},
				Instructions: "Read, write, and list files under the allowed roots.",
				Required:     BoolPtr(false),
			},
		},
		Services:        builtinServiceConfigs(),
		MaskingPatterns: initBuiltinMaskingPatterns(),
		PatternGroups:   initBuiltinPatternGroups(),
		CodeMaskers:     initBuiltinCodeMaskers(),
	}
}

func initBuiltinMaskingPatterns() map[string]MaskingPattern {
	return map[string]MaskingPattern{
		"api_key": {
			Pattern:     `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`,
			Replacement: `"api_key": "__MASKED_API_KEY__"`,
			Description: "API keys",
		},
		"password": {
			Pattern:     `(?i)(?:password|pwd|pass)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`,
			Replacement: `"password": "__MASKED_PASSWORD__"`,
			Description: "Passwords",
		},
		"token": {
			Pattern:     `(?i)(?:token|bearer|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			Replacement: `"token": "__MASKED_TOKEN__"`,
			Description: "Access tokens",
		},
		"bearer_header": {
			Pattern:     `(?i)authorization:\s*bearer\s+\S+`,
			Replacement: `Authorization: Bearer __MASKED_TOKEN__`,
			Description: "Authorization headers",
		},
		"certificate": {
			Pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
			Replacement: `__MASKED_CERTIFICATE__`,
			Description: "PEM blocks",
		},
		"email": {
			Pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`,
			Replacement: `__MASKED_EMAIL__`,
			Description: "Email addresses",
		},
		"ssh_key": {
			Pattern:     `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`,
			Replacement: `__MASKED_SSH_KEY__`,
			Description: "SSH public keys",
		},
		"private_key": {
			Pattern:     `(?i)(?:private[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			Replacement: `"private_key": "__MASKED_PRIVATE_KEY__"`,
			Description: "Private keys",
		},
		"secret_key": {
			Pattern:     `(?i)(?:secret[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			Replacement: `"secret_key": "__MASKED_SECRET_KEY__"`,
			Description: "Secret keys",
		},
		"aws_access_key": {
			Pattern:     `(?i)(?:aws[_-]?access[_-]?key[_-]?id)["']?\s*[:=]\s*["']?(AKIA[A-Z0-9]{16})["']?`,
			Replacement: `"aws_access_key_id": "__MASKED_AWS_KEY__"`,
			Description: "AWS access keys",
		},
		"aws_secret_key": {
			Pattern:     `(?i)(?:aws[_-]?secret[_-]?access[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`,
			Replacement: `"aws_secret_access_key": "__MASKED_AWS_SECRET__"`,
			Description: "AWS secret keys",
		},
		"github_token": {
			Pattern:     `(?i)(?:github[_-]?token|gh[ps]_[A-Za-z0-9_]{36,255})`,
			Replacement: `__MASKED_GITHUB_TOKEN__`,
			Description: "GitHub tokens",
		},
		"base64_secret": {
			Pattern:     `\b([A-Za-z0-9+/]{40,}={0,2})\b`,
			Replacement: `__MASKED_BASE64_VALUE__`,
			Description: "Base64 values (40+ chars)",
		},
	}
}

// initBuiltinPatternGroups returns predefined groups of masking patterns.
// Group members reference either MaskingPatterns (regex) or CodeMaskers
// (structural parsing, e.g. env_file for dotenv-style content).
func initBuiltinPatternGroups() map[string][]string {
	return map[string][]string{
		"basic":    {"api_key", "password"},
		"secrets":  {"api_key", "password", "token", "private_key", "secret_key"},
		"security": {"api_key", "password", "token", "bearer_header", "certificate", "email", "ssh_key"},
		"cloud":    {"aws_access_key", "aws_secret_key", "api_key", "token"},
		"env":      {"env_file", "api_key", "certificate"},
		"all": {"env_file", "api_key", "password", "token", "bearer_header", "certificate",
			"email", "ssh_key", "private_key", "secret_key", "aws_access_key",
			"aws_secret_key", "github_token", "base64_secret"},
	}
}

// initBuiltinCodeMaskers returns the code-based maskers that need structural
// parsing rather than a regex sweep.
func initBuiltinCodeMaskers() map[string]string {
	return map[string]string{
		"env_file": "Masks values of secret-looking keys in dotenv-style KEY=VALUE content",
	}
}
