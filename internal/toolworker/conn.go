package toolworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aishah914/smolpc-gimp/internal/jsonrpc"
	"github.com/aishah914/smolpc-gimp/internal/logging"
	"github.com/aishah914/smolpc-gimp/internal/mcp"
)

// ConnOptions configures a single worker session.
type ConnOptions struct {
	ProtocolVersion string
	ClientInfo      mcp.ImplementationInfo
	MaxMessageBytes int
	Logger          *slog.Logger
	// OnNotification observes notifications read while waiting for a response.
	OnNotification func(method string, params json.RawMessage)
}

// Conn is the live session with one worker process. It is not safe for
// concurrent use; the Manager serializes all access.
type Conn struct {
	proc   *Process
	tr     *Transport
	logger *slog.Logger
	notify func(method string, params json.RawMessage)

	hello       mcp.InitializeParams
	nextID      uint64
	initialized bool
	initErr     error
	server      *mcp.InitializeResult
}

func NewConn(proc *Process, opts ConnOptions) *Conn {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	version := strings.TrimSpace(opts.ProtocolVersion)
	if version == "" {
		version = mcp.DefaultProtocolVersion
	}
	c := &Conn{
		proc:   proc,
		logger: logger,
		notify: opts.OnNotification,
		nextID: 1,
		hello: mcp.InitializeParams{
			ProtocolVersion: version,
			Capabilities: mcp.ClientCapabilities{
				Tools: &mcp.ListChanged{ListChanged: true},
				Roots: &mcp.ListChanged{ListChanged: false},
			},
			ClientInfo: opts.ClientInfo,
		},
	}
	c.tr = NewTransport(proc.Stdin, proc.Stdout, opts.MaxMessageBytes, c.handleEOF)
	return c
}

// Request performs the handshake if needed, then sends method and blocks until
// the response carrying the same id arrives.
func (c *Conn) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	return c.roundTrip(ctx, method, params)
}

func (c *Conn) Initialized() bool {
	return c.initialized
}

// NextID is the identifier the next request will use.
func (c *Conn) NextID() uint64 {
	return c.nextID
}

func (c *Conn) ServerInfo() *mcp.InitializeResult {
	return c.server
}

// Alive reports whether the worker's output is still open.
func (c *Conn) Alive() bool {
	select {
	case <-c.tr.Done():
		return false
	default:
		return true
	}
}

func (c *Conn) PID() int {
	return c.proc.PID()
}

func (c *Conn) Close() error {
	err := c.tr.Close()
	if killErr := c.proc.Kill(); killErr != nil && err == nil {
		err = killErr
	}
	return err
}

func (c *Conn) allocateID() uint64 {
	id := c.nextID
	c.nextID++
	return id
}

func (c *Conn) roundTrip(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !c.Alive() {
		return nil, ErrConnectionClosed
	}
	id := c.allocateID()
	c.logger.Debug("toolworker.request", "id", id, "method", method, "params", logging.RedactAny(params))
	if err := c.tr.Send(jsonrpc.NewRequest(id, method, params)); err != nil {
		return nil, err
	}
	resp, err := c.await(ctx, id)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s (id %d): %w", ErrTimeout, method, id, err)
		}
		return nil, err
	}
	if resp.Error != nil {
		c.logger.Debug("toolworker.remote_error", "id", id, "method", method, "error", resp.Error.Message)
		return nil, &RemoteError{Method: method, Payload: *resp.Error}
	}
	c.logger.Debug("toolworker.response", "id", id, "method", method, "bytes", len(resp.Result))
	return resp.Result, nil
}

// await reads until the response for id arrives. Everything else read in the
// meantime is discarded.
func (c *Conn) await(ctx context.Context, id uint64) (jsonrpc.Message, error) {
	for {
		msg, err := c.tr.Receive(ctx)
		if err != nil {
			return jsonrpc.Message{}, err
		}
		switch msg.Kind() {
		case jsonrpc.KindResponse:
			if got, ok := msg.ID(); ok && got == id {
				return msg, nil
			}
			c.logger.Warn("toolworker.stale_response", "want", id, "got", msg.RawID())
		case jsonrpc.KindNotification:
			c.handleNotification(msg)
		case jsonrpc.KindRequest:
			c.logger.Warn("toolworker.server_request_ignored", "method", msg.Method, "id", msg.RawID())
		default:
			c.logger.Warn("toolworker.invalid_message", "want", id)
		}
	}
}

func (c *Conn) handleNotification(msg jsonrpc.Message) {
	if mcp.Method(msg.Method) == mcp.LoggingMessageNotificationMethod {
		c.logWorkerMessage(msg.Params)
	} else {
		c.logger.Debug("toolworker.notification", "method", msg.Method)
	}
	if c.notify != nil {
		c.notify(msg.Method, msg.Params)
	}
}

func (c *Conn) logWorkerMessage(raw json.RawMessage) {
	var params mcp.LoggingMessageParams
	if err := json.Unmarshal(raw, &params); err != nil {
		c.logger.Warn("toolworker.log_message_invalid", "error", err.Error())
		return
	}
	attrs := []any{"logger", params.Logger, "data", logging.RedactJSON(params.Data)}
	switch strings.ToLower(strings.TrimSpace(params.Level)) {
	case "debug":
		c.logger.Debug("toolworker.log", attrs...)
	case "info", "notice":
		c.logger.Info("toolworker.log", attrs...)
	case "warning":
		c.logger.Warn("toolworker.log", attrs...)
	default:
		c.logger.Error("toolworker.log", attrs...)
	}
}

func (c *Conn) handleEOF(err error) {
	if err != nil && !errors.Is(err, ErrConnectionClosed) && !errors.Is(err, io.EOF) {
		c.logger.Warn("toolworker.read_failed", "error", err.Error())
	}
	waitErr := c.proc.Wait()
	if waitErr != nil {
		c.logger.Warn("toolworker.exited", "pid", c.proc.PID(), "error", waitErr.Error())
		return
	}
	c.logger.Info("toolworker.exited", "pid", c.proc.PID())
}
