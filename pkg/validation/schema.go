package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/maestro-agent/maestro/pkg/mcp"
	"github.com/maestro-agent/maestro/pkg/models"
)

// SchemaStage validates parameters against each tool's declared
// inputSchema. Before the final check it repairs what it can: near-miss
// parameter names are matched against the schema's properties and scalar
// values are coerced to the declared type. Tools the catalog does not
// know are left for the sync stage to judge.
type SchemaStage struct {
	catalog   Catalog
	threshold float64
}

// NewSchemaStage creates the parameter validator. threshold is the fuzzy
// cutoff for parameter renames.
func NewSchemaStage(catalog Catalog, threshold float64) *SchemaStage {
	return &SchemaStage{catalog: catalog, threshold: threshold}
}

func (s *SchemaStage) Name() string   { return StageSchema }
func (s *SchemaStage) Critical() bool { return true }

func (s *SchemaStage) Check(ctx context.Context, in Input) Outcome {
	defs, err := s.catalog.ListTools(ctx)
	if err != nil {
		return Outcome{Valid: true, Warnings: []string{fmt.Sprintf(
			"tool catalog unavailable, parameter schemas not checked: %s", err)}}
	}

	byName := make(map[string]models.ToolDefinition, len(defs))
	byServer := make(map[string][]string)
	for _, def := range defs {
		byName[def.Name] = def
		if server, _, ok := mcp.SplitCanonical(def.Name); ok {
			byServer[server] = append(byServer[server], def.Name)
		}
	}

	var (
		errs, warns []string
		fixes       []Correction
		repaired    []models.ToolCall
	)
	for i, call := range in.Calls {
		def, ok := s.resolveDef(call, byName, byServer)
		if !ok || len(def.InputSchema) == 0 {
			// Unknown tools are the sync stage's problem; tools without a
			// declared schema accept anything.
			continue
		}

		schema, err := compileSchema(def.InputSchema)
		if err != nil {
			warns = append(warns, fmt.Sprintf(
				"call %d: schema for %s does not compile, skipping: %s", i, def.Name, err))
			continue
		}

		params := call.Parameters
		if fixed, callFixes := repairParams(params, parseShape(def.InputSchema), s.threshold, i); len(callFixes) > 0 {
			fixes = append(fixes, callFixes...)
			if repaired == nil {
				repaired = slices.Clone(in.Calls)
			}
			repaired[i].Parameters = fixed
			params = fixed
		}

		if err := validateParams(schema, params); err != nil {
			errs = append(errs, fmt.Sprintf(
				"call %d: parameters for %s rejected by schema: %v", i, def.Name, err))
		}
	}

	return Outcome{
		Valid:       len(errs) == 0,
		Errors:      errs,
		Warnings:    warns,
		Corrections: fixes,
		Calls:       repaired,
	}
}

// resolveDef finds the catalog entry a call will execute against. Exact
// canonical names win; otherwise a near-miss above the threshold resolves
// to its eventual entry, so the parameter checks run against the schema
// the call ends up using. The name itself is repaired by the sync stage.
func (s *SchemaStage) resolveDef(
	call models.ToolCall,
	byName map[string]models.ToolDefinition,
	byServer map[string][]string,
) (models.ToolDefinition, bool) {
	canonical := mcp.Canonical(call.Server, call.Tool)
	if def, ok := byName[canonical]; ok {
		return def, true
	}
	m, ok := bestMatch(canonical, byServer[call.Server])
	if !ok || m.score < s.threshold {
		return models.ToolDefinition{}, false
	}
	return byName[m.name], true
}

// compileSchema compiles a tool's raw inputSchema document.
func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile("schema.json")
}

// validateParams checks a parameter map against a compiled schema. The
// map is round-tripped through JSON so the validator sees the same value
// shapes a server would.
func validateParams(schema *jsonschema.Schema, params map[string]any) error {
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("parameters are not JSON-serializable: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}

// schemaShape is the slice of a JSON Schema the repair pass needs:
// property names mapped to their declared type, empty when untyped.
type schemaShape struct {
	properties map[string]string
}

func parseShape(raw json.RawMessage) schemaShape {
	shape := schemaShape{properties: map[string]string{}}
	var doc struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return shape
	}
	for name, prop := range doc.Properties {
		var p struct {
			Type any `json:"type"`
		}
		if err := json.Unmarshal(prop, &p); err != nil {
			shape.properties[name] = ""
			continue
		}
		shape.properties[name] = declaredType(p.Type)
	}
	return shape
}

// declaredType reduces a JSON Schema type declaration to one coercion
// target. Union types pick the first non-null entry.
func declaredType(t any) string {
	switch v := t.(type) {
	case string:
		return v
	case []any:
		for _, entry := range v {
			if s, ok := entry.(string); ok && s != "null" {
				return s
			}
		}
	}
	return ""
}

// repairParams renames near-miss parameter names onto schema properties
// and coerces scalar values to the declared type. The input map is never
// mutated; repairs land in a fresh copy.
func repairParams(params map[string]any, shape schemaShape, threshold float64, callIndex int) (map[string]any, []Correction) {
	if len(params) == 0 || len(shape.properties) == 0 {
		return params, nil
	}

	out := maps.Clone(params)
	var fixes []Correction

	// Rename pass. Unknown keys are matched against the properties not
	// already present, in sorted order so repeated runs agree.
	var unknown []string
	for key := range out {
		if _, ok := shape.properties[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		var free []string
		for name := range shape.properties {
			if _, taken := out[name]; !taken {
				free = append(free, name)
			}
		}
		m, ok := bestMatch(key, free)
		if !ok || m.score < threshold {
			continue
		}
		out[m.name] = out[key]
		delete(out, key)
		fixes = append(fixes, Correction{
			Kind:       CorrectionParameterRenamed,
			Stage:      StageSchema,
			CallIndex:  callIndex,
			Field:      key,
			From:       key,
			To:         m.name,
			Similarity: m.score,
		})
	}

	// Coercion pass, over the post-rename keys.
	for _, name := range slices.Sorted(maps.Keys(out)) {
		coerced, ok := coerceToType(out[name], shape.properties[name])
		if !ok {
			continue
		}
		fixes = append(fixes, Correction{
			Kind:      CorrectionTypeCoerced,
			Stage:     StageSchema,
			CallIndex: callIndex,
			Field:     name,
			From:      renderValue(out[name]),
			To:        renderValue(coerced),
		})
		out[name] = coerced
	}

	if len(fixes) == 0 {
		return params, nil
	}
	return out, fixes
}

// renderValue formats a parameter value for a correction record. Strings
// are quoted so a coercion reads as a type change, e.g. `"10"` to `10`.
func renderValue(v any) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprintf("%v", v)
}

// coerceToType converts value to the declared JSON Schema type when a
// safe conversion exists: numeric and boolean strings parse to their
// scalar, and a lone scalar wraps into a single-element array. ok is
// false when the value already conforms or no conversion applies.
func coerceToType(value any, want string) (any, bool) {
	switch want {
	case "integer":
		s, isStr := value.(string)
		if !isStr {
			return nil, false
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, false
		}
		return n, true

	case "number":
		s, isStr := value.(string)
		if !isStr {
			return nil, false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, false
		}
		return f, true

	case "boolean":
		s, isStr := value.(string)
		if !isStr {
			return nil, false
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
		return nil, false

	case "array":
		if value == nil {
			return nil, false
		}
		if _, isArr := value.([]any); isArr {
			return nil, false
		}
		return []any{value}, true
	}

	return nil, false
}
