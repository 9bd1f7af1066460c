package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedReply is returned when a persona cannot parse the model's
// output. Callers treat it like any other transient handler failure.
var ErrMalformedReply = errors.New("malformed model reply")

// ExtractJSON returns the JSON object embedded in a model reply. Models wrap
// JSON in markdown fences or prepend prose even when asked not to, so this
// strips fences first and then trims to the outermost object.
func ExtractJSON(text string) ([]byte, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrMalformedReply)
	}

	if idx := strings.Index(s, "```"); idx != -1 {
		rest := s[idx+3:]
		// Skip the language tag on the opening fence, e.g. ```json.
		if nl := strings.IndexByte(rest, '\n'); nl != -1 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end != -1 {
			s = strings.TrimSpace(rest[:end])
		} else {
			s = strings.TrimSpace(rest)
		}
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object found", ErrMalformedReply)
	}
	raw := []byte(s[start : end+1])
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedReply)
	}
	return raw, nil
}

// decodeReply extracts and unmarshals the JSON object from a model reply.
func decodeReply(text string, v any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return nil
}
