package planner

import (
	"fmt"
	"strings"

	"github.com/aishah914/smolpc-gimp/internal/llm"
	"github.com/aishah914/smolpc-gimp/internal/mcp"
)

const planSystemPrompt = `You control GIMP through a fixed set of tools.
Answer with a JSON object {"steps":[{"tool":...,"arguments":{...},"reason":...}]}.
Use only tools from the catalog below and pass arguments that match each tool's input schema.
Use as few steps as possible. Do not add commentary outside the JSON object.`

const summarySystemPrompt = `You explain the results of GIMP tool calls to a non-technical user.
Reply in two or three plain sentences. Do not mention JSON, tools or APIs.`

// PlanMessages builds the conversation asking the model for a plan.
func PlanMessages(request string, tools []mcp.Tool) []llm.Message {
	var b strings.Builder
	b.WriteString(planSystemPrompt)
	b.WriteString("\n\nTool catalog:\n")
	for _, tool := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name, oneLine(tool.Description))
		if len(tool.InputSchema) > 0 {
			fmt.Fprintf(&b, "  input schema: %s\n", compact(string(tool.InputSchema)))
		}
	}
	return []llm.Message{
		llm.System(b.String()),
		llm.User(strings.TrimSpace(request)),
	}
}

func summaryMessages(request string, results []StepResult) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n\nResults:\n", strings.TrimSpace(request))
	b.WriteString(Describe(results))
	return []llm.Message{
		llm.System(summarySystemPrompt),
		llm.User(b.String()),
	}
}

func oneLine(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

func compact(value string) string {
	value = oneLine(value)
	if len(value) > 400 {
		return value[:400] + "..."
	}
	return value
}
