package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"
)

const (
	DefaultOllamaURL       = "http://localhost:11434"
	DefaultOllamaModel     = "llama3"
	DefaultOllamaTimeout   = 120 * time.Second
	DefaultPlannerMaxSteps = 8
	DefaultHistoryLimit    = 50
	DefaultHistoryMax      = 5000
)

// WorkerConfig describes how to start the GIMP MCP server.
type WorkerConfig struct {
	// Path is a gimp-mcp checkout, a server script or an executable.
	Path string `toml:"path"`
	// Command and Args bypass path resolution when set.
	Command         string            `toml:"command"`
	Args            []string          `toml:"args"`
	Env             map[string]string `toml:"env"`
	Dir             string            `toml:"dir"`
	ProtocolVersion string            `toml:"protocol_version"`
	// RequestTimeout bounds one worker exchange. Zero waits forever.
	RequestTimeout  time.Duration `toml:"request_timeout"`
	MaxMessageBytes int           `toml:"max_message_bytes"`
}

type OllamaConfig struct {
	URL     string        `toml:"url"`
	Model   string        `toml:"model"`
	Timeout time.Duration `toml:"timeout"`
	// AllowHosts lists non-loopback hosts the client may reach.
	AllowHosts []string `toml:"allow_hosts"`
}

type PlannerConfig struct {
	MaxSteps int `toml:"max_steps"`
}

type HistoryConfig struct {
	Enabled bool `toml:"enabled"`
	// Limit caps one HistoryList page.
	Limit int `toml:"limit"`
	// MaxEntries is how many rows survive the prune at startup.
	MaxEntries int `toml:"max_entries"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

type Config struct {
	Worker  WorkerConfig  `toml:"worker"`
	Ollama  OllamaConfig  `toml:"ollama"`
	Planner PlannerConfig `toml:"planner"`
	History HistoryConfig `toml:"history"`
	Logging LoggingConfig `toml:"logging"`
}

// overrides are read from the environment after the file. Zero values mean unset.
type overrides struct {
	WorkerPath      string        `env:"SMOLPC_WORKER_PATH"`
	WorkerCommand   string        `env:"SMOLPC_WORKER_COMMAND"`
	RequestTimeout  time.Duration `env:"SMOLPC_REQUEST_TIMEOUT"`
	OllamaURL       string        `env:"SMOLPC_OLLAMA_URL"`
	OllamaModel     string        `env:"SMOLPC_OLLAMA_MODEL"`
	OllamaTimeout   time.Duration `env:"SMOLPC_OLLAMA_TIMEOUT"`
	PlannerMaxSteps int           `env:"SMOLPC_PLANNER_MAX_STEPS"`
	LogLevel        string        `env:"SMOLPC_LOG_LEVEL"`
}

func Default() *Config {
	return &Config{
		Ollama: OllamaConfig{
			URL:     DefaultOllamaURL,
			Model:   DefaultOllamaModel,
			Timeout: DefaultOllamaTimeout,
		},
		Planner: PlannerConfig{MaxSteps: DefaultPlannerMaxSteps},
		History: HistoryConfig{Enabled: true, Limit: DefaultHistoryLimit, MaxEntries: DefaultHistoryMax},
		Logging: LoggingConfig{Level: "debug"},
	}
}

// Load reads config.toml from path, applies environment overrides and
// validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() error {
	var env overrides
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode environment: %w", err)
	}
	if env.WorkerPath != "" {
		cfg.Worker.Path = env.WorkerPath
	}
	if env.WorkerCommand != "" {
		cfg.Worker.Command = env.WorkerCommand
	}
	if env.RequestTimeout != 0 {
		cfg.Worker.RequestTimeout = env.RequestTimeout
	}
	if env.OllamaURL != "" {
		cfg.Ollama.URL = env.OllamaURL
	}
	if env.OllamaModel != "" {
		cfg.Ollama.Model = env.OllamaModel
	}
	if env.OllamaTimeout != 0 {
		cfg.Ollama.Timeout = env.OllamaTimeout
	}
	if env.PlannerMaxSteps != 0 {
		cfg.Planner.MaxSteps = env.PlannerMaxSteps
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}
	return nil
}

func (cfg *Config) validate() error {
	cfg.Ollama.URL = strings.TrimRight(strings.TrimSpace(cfg.Ollama.URL), "/")
	if cfg.Ollama.URL == "" {
		cfg.Ollama.URL = DefaultOllamaURL
	}
	if !strings.HasPrefix(cfg.Ollama.URL, "http://") && !strings.HasPrefix(cfg.Ollama.URL, "https://") {
		return fmt.Errorf("ollama.url must be an http(s) URL: %q", cfg.Ollama.URL)
	}
	if strings.TrimSpace(cfg.Ollama.Model) == "" {
		cfg.Ollama.Model = DefaultOllamaModel
	}
	if cfg.Ollama.Timeout <= 0 {
		cfg.Ollama.Timeout = DefaultOllamaTimeout
	}
	if cfg.Worker.RequestTimeout < 0 {
		return fmt.Errorf("worker.request_timeout must not be negative")
	}
	if cfg.Worker.MaxMessageBytes < 0 {
		return fmt.Errorf("worker.max_message_bytes must not be negative")
	}
	if cfg.Planner.MaxSteps <= 0 {
		cfg.Planner.MaxSteps = DefaultPlannerMaxSteps
	}
	if cfg.History.Limit <= 0 {
		cfg.History.Limit = DefaultHistoryLimit
	}
	if cfg.History.MaxEntries <= 0 {
		cfg.History.MaxEntries = DefaultHistoryMax
	}
	return nil
}

// WorkerEnv flattens Worker.Env into KEY=VALUE pairs in a stable order.
func (cfg *Config) WorkerEnv() []string {
	if len(cfg.Worker.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(cfg.Worker.Env))
	for key := range cfg.Worker.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, key+"="+cfg.Worker.Env[key])
	}
	return out
}

// Save writes cfg as TOML, creating parent directories.
func Save(path string, cfg *Config) error {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(b.String()), 0o600)
}
