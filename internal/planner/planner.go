package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/aishah914/smolpc-gimp/internal/llm"
	"github.com/aishah914/smolpc-gimp/internal/logging"
	"github.com/aishah914/smolpc-gimp/internal/mcp"
)

const DefaultMaxSteps = 8

// Model is the part of the LLM client the planner needs.
type Model interface {
	Chat(ctx context.Context, messages []llm.Message) (string, error)
	ChatJSON(ctx context.Context, messages []llm.Message, schema json.RawMessage) (string, error)
}

// StepResult is the outcome of one executed step.
type StepResult struct {
	Index  int             `json:"index"`
	Step   Step            `json:"step"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type Planner struct {
	model    Model
	maxSteps atomic.Int64
	logger   *slog.Logger
}

func New(model Model, maxSteps int, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = logging.Nop()
	}
	p := &Planner{model: model, logger: logger}
	p.SetMaxSteps(maxSteps)
	return p
}

// SetMaxSteps changes the step limit for later plans.
func (p *Planner) SetMaxSteps(n int) {
	if n <= 0 {
		n = DefaultMaxSteps
	}
	p.maxSteps.Store(int64(n))
}

func (p *Planner) MaxSteps() int {
	return int(p.maxSteps.Load())
}

// Plan asks the model for tool calls fulfilling request and validates them
// against tools.
func (p *Planner) Plan(ctx context.Context, runID, request string, tools []mcp.Tool) (*Plan, error) {
	if strings.TrimSpace(request) == "" {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidPlan)
	}
	ctx = llm.WithRequestProfile(ctx, llm.Deterministic())
	text, err := p.model.ChatJSON(ctx, PlanMessages(request, tools), Schema())
	if err != nil {
		return nil, err
	}
	plan, err := Parse(text)
	if err != nil {
		p.logger.Warn("planner.parse_failed", "run_id", runID, "error", err.Error())
		return nil, err
	}
	if err := plan.Validate(tools, p.MaxSteps()); err != nil {
		p.logger.Warn("planner.invalid_plan", "run_id", runID, "error", err.Error())
		return nil, err
	}
	p.logger.Info("planner.planned", "run_id", runID, "steps", len(plan.Steps))
	return plan, nil
}

// Summarize turns step results into prose. When the model is unreachable the
// plain description is returned.
func (p *Planner) Summarize(ctx context.Context, runID, request string, results []StepResult) string {
	text, err := p.model.Chat(ctx, summaryMessages(request, results))
	if err != nil {
		p.logger.Warn("planner.summary_failed", "run_id", runID, "error", err.Error())
		return Describe(results)
	}
	return strings.TrimSpace(text)
}

// Describe renders results without a model: the text content of every
// tools/call result, one step per line.
func Describe(results []StepResult) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "%d. %s: ", r.Index+1, r.Step.Tool)
		if r.Error != "" {
			fmt.Fprintf(&b, "failed (%s)\n", r.Error)
			continue
		}
		b.WriteString(resultText(r.Result))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func resultText(raw json.RawMessage) string {
	var result mcp.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil || len(result.Content) == 0 {
		return oneLine(string(raw))
	}
	var parts []string
	for _, block := range result.Content {
		switch block.Type {
		case "text":
			parts = append(parts, oneLine(block.Text))
		default:
			parts = append(parts, fmt.Sprintf("[%s]", block.Type))
		}
	}
	text := strings.Join(parts, " ")
	if result.IsError {
		return "error: " + text
	}
	return text
}
