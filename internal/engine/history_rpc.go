package engine

import (
	"context"
	"encoding/json"

	"github.com/aishah914/smolpc-gimp/internal/errinfo"
	"github.com/aishah914/smolpc-gimp/internal/history"
)

func (e *Engine) HistoryList(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Limit int    `json:"limit"`
		RunID string `json:"run_id"`
	}
	if errInfo := decodeParams(params, errinfo.PhaseHistory, &req); errInfo != nil {
		return nil, errInfo
	}
	if req.Limit < 0 {
		return nil, errinfo.ValidationFailed(errinfo.PhaseHistory, "limit must not be negative")
	}
	if e.history == nil {
		return map[string]any{"enabled": false, "entries": []history.Entry{}}, nil
	}
	_, _, cfg := e.assistant()
	limit := req.Limit
	if limit == 0 || limit > cfg.History.Limit {
		limit = cfg.History.Limit
	}
	entries, err := e.history.List(ctx, limit, req.RunID)
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhaseHistory, err.Error())
	}
	return map[string]any{"enabled": true, "entries": entries}, nil
}
