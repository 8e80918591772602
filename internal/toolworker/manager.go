package toolworker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aishah914/smolpc-gimp/internal/logging"
	"github.com/aishah914/smolpc-gimp/internal/mcp"
)

// Client is what the engine needs from the worker.
type Client interface {
	ListTools(ctx context.Context) (json.RawMessage, error)
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (json.RawMessage, error)
	Status() Status
	Reset(ctx context.Context) error
	Close() error
}

type Options struct {
	Launcher        Launcher
	ProtocolVersion string
	ClientInfo      mcp.ImplementationInfo
	MaxMessageBytes int
	// RequestTimeout bounds each call when positive. Zero waits forever.
	RequestTimeout time.Duration
	Logger         *slog.Logger
	// OnToolsChanged runs when the worker announces a new tool list.
	OnToolsChanged func()
}

// Status is a diagnostic snapshot of the worker connection.
type Status struct {
	Running     bool   `json:"running"`
	Busy        bool   `json:"busy"`
	Initialized bool   `json:"initialized"`
	Closed      bool   `json:"closed"`
	Poisoned    bool   `json:"poisoned"`
	PID         int    `json:"pid,omitempty"`
	NextID      uint64 `json:"next_id,omitempty"`
	Server      string `json:"server,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// Manager owns the one connection to the worker. Every protocol exchange holds
// the single slot for its full round trip, so traffic is never interleaved.
type Manager struct {
	opts   Options
	logger *slog.Logger
	slot   chan struct{}

	poisoned atomic.Bool

	// mu guards conn, closed and lastErr for Close and Status; only the slot
	// holder replaces conn.
	mu      sync.Mutex
	conn    *Conn
	closed  bool
	lastErr string
}

func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.ClientInfo.Name == "" {
		opts.ClientInfo = mcp.ImplementationInfo{Name: "smolpc-gimp", Version: "0.1.0"}
	}
	return &Manager{
		opts:   opts,
		logger: logger,
		slot:   make(chan struct{}, 1),
	}
}

// ListTools sends tools/list with a null cursor.
func (m *Manager) ListTools(ctx context.Context) (json.RawMessage, error) {
	return m.withConn(ctx, func(ctx context.Context, conn *Conn) (json.RawMessage, error) {
		return conn.Request(ctx, string(mcp.ToolsListMethod), mcp.ListToolsParams{})
	})
}

// CallTool sends tools/call. Missing arguments are sent as an empty object.
func (m *Manager) CallTool(ctx context.Context, name string, arguments json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(arguments)) == 0 || bytes.Equal(bytes.TrimSpace(arguments), []byte("null")) {
		arguments = json.RawMessage("{}")
	}
	params := mcp.CallToolParams{Name: name, Arguments: arguments}
	return m.withConn(ctx, func(ctx context.Context, conn *Conn) (json.RawMessage, error) {
		return conn.Request(ctx, string(mcp.ToolsCallMethod), params)
	})
}

// Status never waits for an in-flight call; it reports Busy instead.
func (m *Manager) Status() Status {
	status := Status{Poisoned: m.poisoned.Load()}
	m.mu.Lock()
	status.LastError = m.lastErr
	m.mu.Unlock()
	select {
	case m.slot <- struct{}{}:
	default:
		status.Busy = true
		m.mu.Lock()
		if m.conn != nil {
			status.Running = true
			status.PID = m.conn.PID()
		}
		m.mu.Unlock()
		return status
	}
	defer func() { <-m.slot }()
	m.mu.Lock()
	conn := m.conn
	status.Closed = m.closed
	m.mu.Unlock()
	if conn == nil {
		return status
	}
	status.Running = conn.Alive()
	status.Closed = status.Closed || !status.Running
	status.Initialized = conn.Initialized()
	status.PID = conn.PID()
	status.NextID = conn.NextID()
	if info := conn.ServerInfo(); info != nil {
		status.Server = strings.TrimSpace(info.ServerInfo.Name + " " + info.ServerInfo.Version)
	}
	return status
}

// Reset discards the current connection so the next call launches a new worker.
// A poisoned manager stays poisoned.
func (m *Manager) Reset(ctx context.Context) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.lastErr = ""
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
		m.logger.Info("toolworker.reset", "pid", conn.PID())
	}
	return nil
}

// Close kills the worker without waiting for an in-flight call, which then
// fails with ErrConnectionClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (m *Manager) withConn(ctx context.Context, fn func(context.Context, *Conn) (json.RawMessage, error)) (result json.RawMessage, err error) {
	if m.poisoned.Load() {
		return nil, ErrLockPoisoned
	}
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			m.poisoned.Store(true)
			m.release()
			m.logger.Error("toolworker.lock_poisoned", "panic", fmt.Sprint(r))
			panic(r)
		}
		m.release()
	}()
	if m.poisoned.Load() {
		return nil, ErrLockPoisoned
	}

	conn, err := m.connection(ctx)
	if err != nil {
		m.recordError(err)
		return nil, err
	}
	if m.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.RequestTimeout)
		defer cancel()
	}
	result, err = fn(ctx, conn)
	m.recordError(err)
	return result, err
}

// connection returns the existing connection or launches the worker. A dead
// connection is returned as is; see Reset.
func (m *Manager) connection(ctx context.Context) (*Conn, error) {
	m.mu.Lock()
	conn, closed := m.conn, m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if conn != nil {
		return conn, nil
	}
	if m.opts.Launcher == nil {
		return nil, &SpawnError{Err: errors.New("no tool worker launcher configured")}
	}
	proc, err := m.opts.Launcher(ctx)
	if err != nil {
		m.logger.Warn("toolworker.start_failed", "error", err.Error())
		var spawnErr *SpawnError
		if !errors.As(err, &spawnErr) {
			err = &SpawnError{Err: err}
		}
		return nil, err
	}
	conn = NewConn(proc, ConnOptions{
		ProtocolVersion: m.opts.ProtocolVersion,
		ClientInfo:      m.opts.ClientInfo,
		MaxMessageBytes: m.opts.MaxMessageBytes,
		Logger:          m.logger,
		OnNotification:  m.handleNotification,
	})
	m.logger.Info("toolworker.started", "pid", proc.PID())

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return nil, ErrClosed
	}
	m.conn = conn
	m.mu.Unlock()
	return conn, nil
}

func (m *Manager) handleNotification(method string, _ json.RawMessage) {
	if mcp.Method(method) == mcp.ToolsListChangedNotificationMethod && m.opts.OnToolsChanged != nil {
		m.opts.OnToolsChanged()
	}
}

func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) release() {
	<-m.slot
}

func (m *Manager) recordError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		m.lastErr = ""
		return
	}
	m.lastErr = err.Error()
}
