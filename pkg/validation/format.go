package validation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var (
	validServerName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
	validToolName   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

// FormatStage rejects calls that are structurally unusable before any of
// the expensive stages run: missing fields, malformed names, unusable
// parameter keys.
type FormatStage struct{}

func (FormatStage) Name() string   { return StageFormat }
func (FormatStage) Critical() bool { return true }

func (FormatStage) Check(_ context.Context, in Input) Outcome {
	var errs []string
	if len(in.Calls) == 0 {
		errs = append(errs, "no tool calls to validate")
	}

	for i, call := range in.Calls {
		switch {
		case call.Server == "":
			errs = append(errs, fmt.Sprintf("call %d: server is required", i))
		case !validServerName.MatchString(call.Server):
			errs = append(errs, fmt.Sprintf("call %d: malformed server name %q", i, call.Server))
		}

		switch {
		case call.Tool == "":
			errs = append(errs, fmt.Sprintf("call %d: tool is required", i))
		case !validToolName.MatchString(call.Tool):
			errs = append(errs, fmt.Sprintf("call %d: malformed tool name %q", i, call.Tool))
		}

		for key := range call.Parameters {
			if strings.TrimSpace(key) == "" {
				errs = append(errs, fmt.Sprintf("call %d: parameter with empty name", i))
			}
		}
	}

	if len(errs) > 0 {
		return Outcome{Errors: errs}
	}
	return Outcome{Valid: true}
}
