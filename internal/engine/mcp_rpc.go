package engine

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aishah914/smolpc-gimp/internal/errinfo"
	"github.com/aishah914/smolpc-gimp/internal/history"
)

func (e *Engine) McpListTools(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	result, err := e.worker.ListTools(ctx)
	if err != nil {
		e.logger.Warn("mcp.list_tools_failed", "error", err.Error())
		return nil, mapWorkerError(errinfo.SubphaseListTools, "", err)
	}
	return result, nil
}

func (e *Engine) McpCallTool(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if errInfo := decodeParams(params, errinfo.PhaseWorker, &req); errInfo != nil {
		return nil, errInfo
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, errinfo.ValidationFailed(errinfo.PhaseWorker, "tool name is required")
	}
	result, err := e.callTool(ctx, "", req.Name, req.Arguments)
	if err != nil {
		return nil, mapWorkerError(errinfo.SubphaseCallTool, req.Name, err)
	}
	return result, nil
}

func (e *Engine) McpGetStatus(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	return map[string]any{
		"worker":        e.worker.Status(),
		"catalog_stale": e.catalog.Stale(),
	}, nil
}

// McpReset drops the current worker connection. The next call starts a new
// worker and handshakes again.
func (e *Engine) McpReset(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	if err := e.worker.Reset(ctx); err != nil {
		return nil, mapWorkerError("", "", err)
	}
	e.catalog.MarkStale()
	e.logger.Info("mcp.reset")
	return map[string]any{"worker": e.worker.Status()}, nil
}

func (e *Engine) McpToolsDiff(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	change, err := e.catalog.Refresh(ctx)
	if err != nil {
		return nil, mapWorkerError(errinfo.SubphaseListTools, "", err)
	}
	return change, nil
}

// callTool runs one tools/call and records it in history when enabled.
func (e *Engine) callTool(ctx context.Context, runID, name string, arguments json.RawMessage) (json.RawMessage, error) {
	started := time.Now()
	result, err := e.worker.CallTool(ctx, name, arguments)
	elapsed := time.Since(started)
	if err != nil {
		e.logger.Warn("mcp.call_tool_failed", "tool", name, "run_id", runID, "error", err.Error())
	} else {
		e.logger.Debug("mcp.call_tool", "tool", name, "run_id", runID, "duration_ms", elapsed.Milliseconds())
	}
	if e.history != nil {
		entry := history.Entry{
			SessionID:  e.sessionID,
			RunID:      runID,
			Tool:       name,
			Arguments:  arguments,
			Result:     result,
			StartedAt:  started,
			DurationMS: elapsed.Milliseconds(),
		}
		if err != nil {
			entry.Error = err.Error()
		}
		// Recording must not fail a call that already reached the worker.
		if _, recErr := e.history.Record(context.WithoutCancel(ctx), entry); recErr != nil {
			e.logger.Warn("history.record_failed", "tool", name, "error", recErr.Error())
		}
	}
	return result, err
}
