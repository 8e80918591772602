package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/aishah914/smolpc-gimp/internal/mcp"
)

var ErrInvalidPlan = errors.New("invalid plan")

// Step is one tool call proposed by the model.
type Step struct {
	Tool      string         `json:"tool" jsonschema:"description=Name of a tool from the catalog"`
	Arguments map[string]any `json:"arguments" jsonschema:"description=Arguments matching the tool input schema"`
	Reason    string         `json:"reason,omitempty" jsonschema:"description=Why this step is needed"`
}

type Plan struct {
	Steps []Step `json:"steps" jsonschema:"description=Tool calls to run in order"`
}

var (
	schemaOnce sync.Once
	schemaRaw  json.RawMessage
)

// Schema is the JSON Schema of Plan, sent to the model as the response format.
func Schema() json.RawMessage {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			DoNotReference: true,
			ExpandedStruct: true,
		}
		s := r.Reflect(new(Plan))
		data, err := json.Marshal(s)
		if err != nil {
			panic(fmt.Sprintf("planner: marshal plan schema: %v", err))
		}
		schemaRaw = data
	})
	return schemaRaw
}

// Parse extracts a plan from model output. Markdown fences and prose around
// the JSON object are tolerated.
func Parse(text string) (*Plan, error) {
	body := strings.TrimSpace(text)
	if idx := strings.Index(body, "```"); idx >= 0 {
		rest := body[idx+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		body = strings.TrimSpace(rest)
	}
	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in model output", ErrInvalidPlan)
	}
	var plan Plan
	if err := json.Unmarshal([]byte(body[start:end+1]), &plan); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	for i := range plan.Steps {
		plan.Steps[i].Tool = strings.TrimSpace(plan.Steps[i].Tool)
		if plan.Steps[i].Arguments == nil {
			plan.Steps[i].Arguments = map[string]any{}
		}
	}
	return &plan, nil
}

// Validate checks every step against the tool catalog.
func (p *Plan) Validate(tools []mcp.Tool, maxSteps int) error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: plan has no steps", ErrInvalidPlan)
	}
	if maxSteps > 0 && len(p.Steps) > maxSteps {
		return fmt.Errorf("%w: %d steps exceeds the limit of %d", ErrInvalidPlan, len(p.Steps), maxSteps)
	}
	byName := make(map[string]mcp.Tool, len(tools))
	for _, tool := range tools {
		byName[tool.Name] = tool
	}
	for i, step := range p.Steps {
		tool, ok := byName[step.Tool]
		if !ok {
			return fmt.Errorf("%w: step %d uses unknown tool %q", ErrInvalidPlan, i+1, step.Tool)
		}
		for _, name := range requiredArguments(tool.InputSchema) {
			if _, ok := step.Arguments[name]; !ok {
				return fmt.Errorf("%w: step %d (%s) is missing argument %q", ErrInvalidPlan, i+1, step.Tool, name)
			}
		}
	}
	return nil
}

func requiredArguments(schema json.RawMessage) []string {
	if len(schema) == 0 {
		return nil
	}
	var s struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema, &s); err != nil {
		return nil
	}
	return s.Required
}

// ArgumentsJSON is the step's arguments encoded for tools/call.
func (s Step) ArgumentsJSON() (json.RawMessage, error) {
	if len(s.Arguments) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return json.Marshal(s.Arguments)
}
