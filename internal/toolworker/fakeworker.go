package toolworker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/aishah914/smolpc-gimp/internal/jsonrpc"
	"github.com/aishah914/smolpc-gimp/internal/mcp"
)

// FakeToolHandler answers one tools/call. A non-nil error is sent as the
// JSON-RPC error object.
type FakeToolHandler func(arguments json.RawMessage) (any, *jsonrpc.Error)

// FakeRequest is a request as seen by the fake worker.
type FakeRequest struct {
	ID     uint64
	Method string
	Params json.RawMessage
}

// FakeHook runs before the fake answers a request. raw writes a line verbatim
// to the worker's stdout. Returning false makes the worker exit without answering.
type FakeHook func(req FakeRequest, raw func(line string)) bool

// FakeWorker is an in-process MCP worker speaking the same wire protocol as
// gimp-mcp over io.Pipe pairs.
type FakeWorker struct {
	mu            sync.Mutex
	tools         []mcp.Tool
	handlers      map[string]FakeToolHandler
	hook          FakeHook
	initializeErr *jsonrpc.Error
	received      []jsonrpc.Message
	launches      int
}

func NewFakeWorker() *FakeWorker {
	f := &FakeWorker{handlers: make(map[string]FakeToolHandler)}
	f.AddTool(mcp.Tool{
		Name:        "get_gimp_info",
		Description: "Report the running GIMP version and open images.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	}, func(json.RawMessage) (any, *jsonrpc.Error) {
		return textResult(`{"version":"3.0.0","images":[]}`), nil
	})
	f.AddTool(mcp.Tool{
		Name:        "call_api",
		Description: "Call a GIMP procedure. api_path selects the procedure, args are passed through.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"api_path":{"type":"string"},"args":{"type":"array"}},"required":["api_path"]}`),
	}, func(arguments json.RawMessage) (any, *jsonrpc.Error) {
		var args struct {
			APIPath string `json:"api_path"`
			Args    []any  `json:"args"`
		}
		if err := json.Unmarshal(arguments, &args); err != nil || args.APIPath == "" {
			return nil, &jsonrpc.Error{Code: -32602, Message: "api_path is required"}
		}
		data, _ := json.Marshal(map[string]any{"ok": true, "api_path": args.APIPath, "args": args.Args})
		return textResult(string(data)), nil
	})
	return f
}

// AddTool registers or replaces a tool.
func (f *FakeWorker) AddTool(tool mcp.Tool, handler FakeToolHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.tools {
		if existing.Name == tool.Name {
			f.tools[i] = tool
			f.handlers[tool.Name] = handler
			return
		}
	}
	f.tools = append(f.tools, tool)
	f.handlers[tool.Name] = handler
}

func (f *FakeWorker) SetHook(hook FakeHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = hook
}

// RejectInitialize makes every initialize request fail with err.
func (f *FakeWorker) RejectInitialize(err *jsonrpc.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initializeErr = err
}

// Received returns every message the worker has read, in order.
func (f *FakeWorker) Received() []jsonrpc.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]jsonrpc.Message, len(f.received))
	copy(out, f.received)
	return out
}

// Launches counts how many worker processes were started.
func (f *FakeWorker) Launches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches
}

// Launcher starts a fresh in-process worker on every call.
func (f *FakeWorker) Launcher() Launcher {
	return func(context.Context) (*Process, error) {
		f.mu.Lock()
		f.launches++
		pid := 10000 + f.launches
		f.mu.Unlock()

		stdinR, stdinW := io.Pipe()
		stdoutR, stdoutW := io.Pipe()
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = f.Serve(stdinR, stdoutW)
			_ = stdoutW.Close()
			_ = stdinR.Close()
		}()
		proc := NewPipeProcess(stdinW, stdoutR,
			func() error {
				<-done
				return nil
			},
			func() error {
				_ = stdinR.CloseWithError(io.ErrClosedPipe)
				_ = stdoutW.CloseWithError(io.EOF)
				return nil
			},
		)
		proc.pid = pid
		return proc, nil
	}
}

// Serve answers requests read from r until r ends or a hook asks to exit.
func (f *FakeWorker) Serve(r io.Reader, w io.Writer) error {
	reader := bufio.NewReader(r)
	writer := bufio.NewWriter(w)
	raw := func(line string) {
		_, _ = writer.WriteString(line + "\n")
		_ = writer.Flush()
	}
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			msg, derr := jsonrpc.Decode(line)
			if derr != nil {
				return derr
			}
			f.mu.Lock()
			f.received = append(f.received, msg)
			hook := f.hook
			f.mu.Unlock()
			if msg.Kind() == jsonrpc.KindRequest {
				id, _ := msg.ID()
				req := FakeRequest{ID: id, Method: msg.Method, Params: msg.Params}
				if hook != nil && !hook(req, raw) {
					return nil
				}
				if err := f.reply(writer, req); err != nil {
					return err
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func (f *FakeWorker) reply(w *bufio.Writer, req FakeRequest) error {
	result, rpcErr := f.dispatch(req)
	resp := map[string]any{"jsonrpc": jsonrpc.Version, "id": req.ID}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	line, err := jsonrpc.Encode(resp)
	if err != nil {
		return err
	}
	if _, err := w.Write(line); err != nil {
		return err
	}
	return w.Flush()
}

func (f *FakeWorker) dispatch(req FakeRequest) (any, *jsonrpc.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		if f.initializeErr != nil {
			return nil, f.initializeErr
		}
		var params mcp.InitializeParams
		_ = json.Unmarshal(req.Params, &params)
		return mcp.InitializeResult{
			ProtocolVersion: params.ProtocolVersion,
			Capabilities:    mcp.ServerCapabilities{Tools: &mcp.ListChanged{ListChanged: true}},
			ServerInfo:      mcp.ImplementationInfo{Name: "gimp-mcp-fake", Version: "0.0.1"},
		}, nil
	case mcp.ToolsListMethod:
		tools := make([]mcp.Tool, len(f.tools))
		copy(tools, f.tools)
		return mcp.ListToolsResult{Tools: tools}, nil
	case mcp.ToolsCallMethod:
		var params mcp.CallToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, &jsonrpc.Error{Code: -32602, Message: "invalid params"}
		}
		handler, ok := f.handlers[params.Name]
		if !ok {
			return nil, &jsonrpc.Error{Code: -32602, Message: fmt.Sprintf("unknown tool: %s", params.Name)}
		}
		f.mu.Unlock()
		defer f.mu.Lock()
		return handler(params.Arguments)
	case mcp.PingMethod:
		return map[string]any{}, nil
	default:
		return nil, &jsonrpc.Error{Code: -32601, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}
}

func textResult(text string) mcp.CallToolResult {
	return mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: text}}}
}
