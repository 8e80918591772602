package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aishah914/smolpc-gimp/internal/appdirs"
	"github.com/aishah914/smolpc-gimp/internal/catalog"
	"github.com/aishah914/smolpc-gimp/internal/config"
	"github.com/aishah914/smolpc-gimp/internal/envutil"
	"github.com/aishah914/smolpc-gimp/internal/errinfo"
	"github.com/aishah914/smolpc-gimp/internal/history"
	"github.com/aishah914/smolpc-gimp/internal/logging"
	"github.com/aishah914/smolpc-gimp/internal/mcp"
	"github.com/aishah914/smolpc-gimp/internal/ollama"
	"github.com/aishah914/smolpc-gimp/internal/planner"
	"github.com/aishah914/smolpc-gimp/internal/toolworker"
)

const (
	EngineVersion = "0.1.0"
	APIVersion    = "1"
)

type Notifier func(method string, params any)

// Model is the local LLM used for chat and planning.
type Model interface {
	planner.Model
	Model() string
	Validate(ctx context.Context) error
}

type Engine struct {
	dataDir     string
	configStore *config.Store
	sessionID   string
	startedAt   time.Time

	worker  toolworker.Client
	catalog *catalog.Catalog
	history *history.Store

	// mu guards cfg, model and planner, which a config reload replaces.
	mu          sync.RWMutex
	cfg         *config.Config
	model       Model
	fixedModel  bool
	planner     *planner.Planner
	notify      Notifier
	notifyMu    sync.RWMutex
	logger      *slog.Logger
	workerOwned bool
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithToolWorker replaces the worker built from configuration.
func WithToolWorker(worker toolworker.Client) Option {
	return func(e *Engine) {
		if worker != nil {
			e.worker = worker
		}
	}
}

// WithModel replaces the Ollama client built from configuration. Reloads then
// leave the model alone.
func WithModel(model Model) Option {
	return func(e *Engine) {
		if model != nil {
			e.model = model
			e.fixedModel = true
		}
	}
}

func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		if cfg != nil {
			e.cfg = cfg
		}
	}
}

func WithDataDir(dir string) Option {
	return func(e *Engine) {
		if strings.TrimSpace(dir) != "" {
			e.dataDir = dir
		}
	}
}

func New(opts ...Option) (*Engine, error) {
	engine := &Engine{logger: logging.Nop(), startedAt: time.Now()}
	for _, opt := range opts {
		opt(engine)
	}
	if engine.dataDir == "" {
		dataDir, err := appdirs.DataDir()
		if err != nil {
			return nil, err
		}
		engine.dataDir = dataDir
	}
	if err := os.MkdirAll(engine.dataDir, 0o755); err != nil {
		return nil, err
	}
	engine.configStore = config.NewStore(appdirs.ConfigPath(engine.dataDir))
	if engine.cfg == nil {
		cfg, err := engine.configStore.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		engine.cfg = cfg
	}
	engine.sessionID = uuid.NewString()
	engine.logger = engine.logger.With("session_id", engine.sessionID)

	if engine.worker == nil {
		engine.worker = toolworker.New(toolworker.Options{
			Launcher:        engine.workerLauncher(),
			ProtocolVersion: engine.cfg.Worker.ProtocolVersion,
			MaxMessageBytes: engine.cfg.Worker.MaxMessageBytes,
			RequestTimeout:  engine.cfg.Worker.RequestTimeout,
			Logger:          logging.Component(engine.logger, "toolworker"),
			OnToolsChanged:  engine.handleToolsChanged,
		})
		engine.workerOwned = true
	}
	engine.catalog = catalog.New(engine.worker)

	if engine.model == nil {
		engine.model = newOllamaClient(engine.cfg)
	}
	engine.planner = planner.New(engine.model, engine.cfg.Planner.MaxSteps, logging.Component(engine.logger, "planner"))

	if engine.cfg.History.Enabled {
		store, err := openHistory(appdirs.HistoryPath(engine.dataDir), engine.cfg.History.MaxEntries, engine.logger)
		if err != nil {
			engine.logger.Warn("engine.history_unavailable", "error", err.Error())
		} else {
			engine.history = store
		}
	}
	engine.logger.Debug("engine.init",
		"data_dir", engine.dataDir,
		"worker_path", engine.cfg.Worker.Path,
		"fake_worker", envutil.Bool("SMOLPC_FAKE_WORKER"),
		"model", engine.model.Model(),
		"history", engine.history != nil,
	)
	return engine, nil
}

func newOllamaClient(cfg *config.Config) *ollama.Client {
	return ollama.NewClient(ollama.Options{
		BaseURL:    cfg.Ollama.URL,
		Model:      cfg.Ollama.Model,
		Timeout:    cfg.Ollama.Timeout,
		AllowHosts: cfg.Ollama.AllowHosts,
	})
}

func openHistory(path string, keep int, logger *slog.Logger) (*history.Store, error) {
	store, err := history.Open(path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	if keep > 0 {
		removed, err := store.Prune(ctx, keep)
		if err != nil {
			logger.Warn("history.prune_failed", "error", err.Error())
		} else if removed > 0 {
			logger.Info("history.pruned", "removed", removed, "kept", keep)
		}
	}
	return store, nil
}

// workerLauncher resolves the worker command at launch time so a bad path
// surfaces as a spawn error on first use rather than at startup.
func (e *Engine) workerLauncher() toolworker.Launcher {
	if envutil.Bool("SMOLPC_FAKE_WORKER") {
		return toolworker.NewFakeWorker().Launcher()
	}
	cfg := e.cfg.Worker
	env := e.cfg.WorkerEnv()
	return func(ctx context.Context) (*toolworker.Process, error) {
		var cmd toolworker.Command
		switch {
		case strings.TrimSpace(cfg.Command) != "":
			cmd = toolworker.Command{Path: cfg.Command}
		case strings.TrimSpace(cfg.Path) != "":
			resolved, err := toolworker.ResolveCommand(cfg.Path)
			if err != nil {
				return nil, &toolworker.SpawnError{Command: cfg.Path, Err: err}
			}
			cmd = resolved
		default:
			return nil, &toolworker.SpawnError{Err: errors.New("no worker configured: set [worker] path in config.toml or SMOLPC_WORKER_PATH")}
		}
		cmd.Args = append(cmd.Args, cfg.Args...)
		cmd.Env = env
		if cfg.Dir != "" {
			cmd.Dir = cfg.Dir
		}
		return toolworker.Launch(ctx, cmd)
	}
}

func (e *Engine) SetNotifier(notify Notifier) {
	e.notifyMu.Lock()
	e.notify = notify
	e.notifyMu.Unlock()
}

func (e *Engine) emit(method string, params any) {
	e.notifyMu.RLock()
	notify := e.notify
	e.notifyMu.RUnlock()
	if notify != nil {
		notify(method, params)
	}
}

func (e *Engine) handleToolsChanged() {
	e.logger.Info("engine.tools_changed")
	if e.catalog != nil {
		e.catalog.MarkStale()
	}
	e.emit("McpToolsChanged", map[string]any{"session_id": e.sessionID})
}

// ApplyConfig hot-applies planner and model settings. The worker connection is
// never replaced by a reload.
func (e *Engine) ApplyConfig(cfg *config.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Ollama = cfg.Ollama
	e.cfg.Planner = cfg.Planner
	e.cfg.History.Limit = cfg.History.Limit
	if !e.fixedModel {
		e.model = newOllamaClient(e.cfg)
		e.planner = planner.New(e.model, e.cfg.Planner.MaxSteps, logging.Component(e.logger, "planner"))
	} else {
		e.planner.SetMaxSteps(cfg.Planner.MaxSteps)
	}
	e.logger.Info("engine.config_applied", "model", e.model.Model(), "max_steps", e.planner.MaxSteps())
}

// WatchConfig reloads config.toml on change until ctx ends.
func (e *Engine) WatchConfig(ctx context.Context) error {
	return config.Watch(ctx, e.configStore.Path(), logging.Component(e.logger, "config"), e.ApplyConfig)
}

func (e *Engine) assistant() (Model, *planner.Planner, *config.Config) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cfg := *e.cfg
	return e.model, e.planner, &cfg
}

func (e *Engine) Close() error {
	var errs []error
	if e.workerOwned && e.worker != nil {
		errs = append(errs, e.worker.Close())
	}
	if e.history != nil {
		errs = append(errs, e.history.Close())
	}
	return errors.Join(errs...)
}

func (e *Engine) EngineGetInfo(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	model, p, cfg := e.assistant()
	protocolVersion := cfg.Worker.ProtocolVersion
	if protocolVersion == "" {
		protocolVersion = mcp.DefaultProtocolVersion
	}
	return map[string]any{
		"engine_version":   EngineVersion,
		"api_version":      APIVersion,
		"session_id":       e.sessionID,
		"started_at":       e.startedAt.UTC().Format(time.RFC3339),
		"data_dir":         e.dataDir,
		"protocol_version": protocolVersion,
		"model":            model.Model(),
		"max_steps":        p.MaxSteps(),
		"history_enabled":  e.history != nil,
	}, nil
}

// decodeParams treats missing params as an empty object.
func decodeParams(params json.RawMessage, phase string, v any) *errinfo.ErrorInfo {
	trimmed := strings.TrimSpace(string(params))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return errinfo.ValidationFailed(phase, "invalid params")
	}
	return nil
}

var _ Model = (*ollama.Client)(nil)
