package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/aishah914/smolpc-gimp/internal/config"
	"github.com/aishah914/smolpc-gimp/internal/errinfo"
	"github.com/aishah914/smolpc-gimp/internal/ids"
	"github.com/aishah914/smolpc-gimp/internal/llm"
	"github.com/aishah914/smolpc-gimp/internal/planner"
)

const (
	stepStatusRunning = "running"
	stepStatusDone    = "done"
	stepStatusFailed  = "failed"
)

func (e *Engine) AssistantChat(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if errInfo := decodeParams(params, errinfo.PhaseAssistant, &req); errInfo != nil {
		return nil, errInfo
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errinfo.ValidationFailed(errinfo.PhaseAssistant, "prompt is required")
	}
	model, _, _ := e.assistant()
	reply, err := model.Chat(ctx, []llm.Message{llm.User(req.Prompt)})
	if err != nil {
		e.logger.Warn("assistant.chat_failed", "model", model.Model(), "error", err.Error())
		info := mapLLMError(errinfo.PhaseAssistant, model.Model(), err)
		info.Subphase = errinfo.SubphaseChat
		return nil, info
	}
	return map[string]any{"reply": reply, "model": model.Model()}, nil
}

type runResult struct {
	RunID     string               `json:"run_id"`
	Plan      *planner.Plan        `json:"plan"`
	Results   []planner.StepResult `json:"results"`
	Summary   string               `json:"summary,omitempty"`
	Completed bool                 `json:"completed"`
	Failed    *errinfo.ErrorInfo   `json:"error,omitempty"`
}

// AssistantRun plans tool calls for a request and executes them in order. The
// first failing step stops the run; nothing is retried.
func (e *Engine) AssistantRun(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Request string `json:"request"`
		DryRun  bool   `json:"dry_run"`
	}
	if errInfo := decodeParams(params, errinfo.PhaseAssistant, &req); errInfo != nil {
		return nil, errInfo
	}
	if strings.TrimSpace(req.Request) == "" {
		return nil, errinfo.ValidationFailed(errinfo.PhaseAssistant, "request is required")
	}
	runID := ids.New()
	logger := e.logger.With("run_id", runID)
	model, p, _ := e.assistant()

	tools, err := e.catalog.Tools(ctx)
	if err != nil {
		return nil, mapWorkerError(errinfo.SubphaseListTools, "", err)
	}
	plan, err := p.Plan(ctx, runID, req.Request, tools)
	if err != nil {
		if errors.Is(err, planner.ErrInvalidPlan) {
			return nil, errinfo.PlanInvalid(runID, err.Error())
		}
		info := mapLLMError(errinfo.PhaseAssistant, model.Model(), err)
		info.Subphase = errinfo.SubphasePlan
		info.RunID = runID
		return nil, info
	}
	out := runResult{RunID: runID, Plan: plan, Results: []planner.StepResult{}}
	if req.DryRun {
		return out, nil
	}

	for i, step := range plan.Steps {
		e.emitStep(runID, i, step, stepStatusRunning, nil)
		result := planner.StepResult{Index: i, Step: step}
		args, err := step.ArgumentsJSON()
		if err == nil {
			result.Result, err = e.callTool(ctx, runID, step.Tool, args)
		}
		if err != nil {
			result.Error = err.Error()
			out.Results = append(out.Results, result)
			out.Failed = mapWorkerError(errinfo.SubphaseExecute, step.Tool, err)
			out.Failed.RunID = runID
			e.emitStep(runID, i, step, stepStatusFailed, out.Failed)
			logger.Warn("assistant.step_failed", "index", i, "tool", step.Tool, "error", err.Error())
			break
		}
		out.Results = append(out.Results, result)
		e.emitStep(runID, i, step, stepStatusDone, nil)
	}
	out.Completed = out.Failed == nil
	out.Summary = p.Summarize(ctx, runID, req.Request, out.Results)
	logger.Info("assistant.run_finished", "steps", len(plan.Steps), "executed", len(out.Results), "completed", out.Completed)
	return out, nil
}

func (e *Engine) emitStep(runID string, index int, step planner.Step, status string, failure *errinfo.ErrorInfo) {
	payload := map[string]any{
		"run_id": runID,
		"index":  index,
		"tool":   step.Tool,
		"reason": step.Reason,
		"status": status,
	}
	if failure != nil {
		payload["error"] = failure
	}
	e.emit("AssistantStep", payload)
}

func (e *Engine) AssistantGetModel(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	model, _, cfg := e.assistant()
	result := map[string]any{
		"model": model.Model(),
		"url":   cfg.Ollama.URL,
	}
	if err := model.Validate(ctx); err != nil {
		result["available"] = false
		result["error"] = mapLLMError(errinfo.PhaseSettings, model.Model(), err)
	} else {
		result["available"] = true
	}
	return result, nil
}

// AssistantSetModel persists the model in config.toml and applies it.
func (e *Engine) AssistantSetModel(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Model string `json:"model"`
	}
	if errInfo := decodeParams(params, errinfo.PhaseSettings, &req); errInfo != nil {
		return nil, errInfo
	}
	name := strings.TrimSpace(req.Model)
	if name == "" {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, "model is required")
	}
	cfg, err := e.configStore.Update(func(cfg *config.Config) {
		cfg.Ollama.Model = name
	})
	if err != nil {
		return nil, errinfo.FileWriteFailed(errinfo.PhaseSettings, err.Error())
	}
	e.ApplyConfig(cfg)
	model, _, _ := e.assistant()
	return map[string]any{"model": model.Model()}, nil
}
