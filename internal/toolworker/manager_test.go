package toolworker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aishah914/smolpc-gimp/internal/jsonrpc"
	"github.com/aishah914/smolpc-gimp/internal/mcp"
)

func newTestManager(t *testing.T, fake *FakeWorker, mutate ...func(*Options)) *Manager {
	t.Helper()
	opts := Options{Launcher: fake.Launcher()}
	for _, fn := range mutate {
		fn(&opts)
	}
	mgr := New(opts)
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func callCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func requestIDs(msgs []jsonrpc.Message) []uint64 {
	var ids []uint64
	for _, msg := range msgs {
		if msg.Kind() != jsonrpc.KindRequest {
			continue
		}
		id, _ := msg.ID()
		ids = append(ids, id)
	}
	return ids
}

func methods(msgs []jsonrpc.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, msg.Method)
	}
	return out
}

func TestListToolsFirstCallWireSequence(t *testing.T) {
	fake := NewFakeWorker()
	mgr := newTestManager(t, fake)

	raw, err := mgr.ListTools(callCtx(t))
	require.NoError(t, err)

	var result mcp.ListToolsResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Tools, 2)
	assert.Equal(t, "get_gimp_info", result.Tools[0].Name)

	received := fake.Received()
	require.Len(t, received, 3)
	assert.Equal(t, []string{"initialize", "notifications/initialized", "tools/list"}, methods(received))
	assert.Equal(t, jsonrpc.KindRequest, received[0].Kind())
	assert.Equal(t, jsonrpc.KindNotification, received[1].Kind())
	assert.Equal(t, []uint64{1, 2}, requestIDs(received))
	assert.JSONEq(t, `{}`, string(received[1].Params))
	assert.JSONEq(t, `{"cursor":null}`, string(received[2].Params))

	var hello mcp.InitializeParams
	require.NoError(t, json.Unmarshal(received[0].Params, &hello))
	assert.Equal(t, mcp.DefaultProtocolVersion, hello.ProtocolVersion)
	require.NotNil(t, hello.Capabilities.Tools)
	assert.True(t, hello.Capabilities.Tools.ListChanged)
	require.NotNil(t, hello.Capabilities.Roots)
	assert.Equal(t, "smolpc-gimp", hello.ClientInfo.Name)
}

func TestIdentifiersStrictlyIncreasing(t *testing.T) {
	fake := NewFakeWorker()
	mgr := newTestManager(t, fake)
	ctx := callCtx(t)

	const calls = 6
	for i := 0; i < calls; i++ {
		var err error
		if i%2 == 0 {
			_, err = mgr.CallTool(ctx, "get_gimp_info", nil)
		} else {
			_, err = mgr.ListTools(ctx)
		}
		require.NoError(t, err)
	}

	ids := requestIDs(fake.Received())
	require.Len(t, ids, calls+1, "initialize plus one id per call")
	for i, id := range ids {
		assert.Equal(t, uint64(i+1), id)
	}
	assert.Equal(t, uint64(calls+2), mgr.Status().NextID)
}

func TestHandshakeRunsOnce(t *testing.T) {
	fake := NewFakeWorker()
	mgr := newTestManager(t, fake)
	ctx := callCtx(t)

	_, err := mgr.CallTool(ctx, "call_api", json.RawMessage(`{"api_path":"exec","args":["pdb.gimp_image_list"]}`))
	require.NoError(t, err)
	_, err = mgr.ListTools(ctx)
	require.NoError(t, err)
	_, err = mgr.ListTools(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"initialize",
		"notifications/initialized",
		"tools/call",
		"tools/list",
		"tools/list",
	}, methods(fake.Received()))
	assert.True(t, mgr.Status().Initialized)
}

func TestCallToolSendsNameAndArguments(t *testing.T) {
	fake := NewFakeWorker()
	mgr := newTestManager(t, fake)

	raw, err := mgr.CallTool(callCtx(t), "call_api", json.RawMessage(`{"api_path":"exec","args":["pdb.gimp_image_list",{}]}`))
	require.NoError(t, err)

	var result mcp.CallToolResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Content, 1)
	assert.JSONEq(t, `{"ok":true,"api_path":"exec","args":["pdb.gimp_image_list",{}]}`, result.Content[0].Text)

	received := fake.Received()
	last := received[len(received)-1]
	assert.Equal(t, "tools/call", last.Method)
	assert.JSONEq(t, `{"name":"call_api","arguments":{"api_path":"exec","args":["pdb.gimp_image_list",{}]}}`, string(last.Params))
}

func TestCallToolDefaultsArgumentsToObject(t *testing.T) {
	fake := NewFakeWorker()
	mgr := newTestManager(t, fake)

	_, err := mgr.CallTool(callCtx(t), "get_gimp_info", json.RawMessage("null"))
	require.NoError(t, err)
	received := fake.Received()
	assert.JSONEq(t, `{"name":"get_gimp_info","arguments":{}}`, string(received[len(received)-1].Params))
}

func TestRemoteErrorKeepsConnectionUsable(t *testing.T) {
	fake := NewFakeWorker()
	fake.AddTool(mcp.Tool{Name: "call_api"}, func(json.RawMessage) (any, *jsonrpc.Error) {
		return nil, &jsonrpc.Error{Code: -32000, Message: "boom"}
	})
	mgr := newTestManager(t, fake)
	ctx := callCtx(t)

	_, err := mgr.ListTools(ctx)
	require.NoError(t, err)

	_, err = mgr.CallTool(ctx, "call_api", json.RawMessage(`{"api_path":"exec","args":["x"]}`))
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "boom", remote.Payload.Message)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []uint64{1, 2, 3}, requestIDs(fake.Received()))

	status := mgr.Status()
	assert.True(t, status.Initialized)
	assert.Contains(t, status.LastError, "boom")

	_, err = mgr.CallTool(ctx, "get_gimp_info", nil)
	require.NoError(t, err)
	assert.Empty(t, mgr.Status().LastError)
	assert.Equal(t, 1, fake.Launches())
}

func TestDiscardsUnmatchedMessages(t *testing.T) {
	fake := NewFakeWorker()
	changed := 0
	fake.SetHook(func(req FakeRequest, raw func(string)) bool {
		if req.Method != "tools/list" {
			return true
		}
		raw(`{"jsonrpc":"2.0","id":999,"result":{"tools":[]}}`)
		raw(`{"jsonrpc":"2.0","id":"2","result":{"tools":[]}}`)
		raw(`{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`)
		raw(`{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info","data":"loading"}}`)
		raw(`{"jsonrpc":"2.0","id":77,"method":"roots/list"}`)
		raw(`[1,2,3]`)
		return true
	})
	mgr := newTestManager(t, fake, func(o *Options) {
		o.OnToolsChanged = func() { changed++ }
	})

	raw, err := mgr.ListTools(callCtx(t))
	require.NoError(t, err)
	var result mcp.ListToolsResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Len(t, result.Tools, 2, "the stale empty tool lists must not be returned")
	assert.Equal(t, 1, changed)
}

func TestWorkerExitBeforeReply(t *testing.T) {
	fake := NewFakeWorker()
	fake.SetHook(func(req FakeRequest, _ func(string)) bool {
		return req.Method != "tools/call"
	})
	mgr := newTestManager(t, fake)
	ctx := callCtx(t)

	_, err := mgr.ListTools(ctx)
	require.NoError(t, err)

	_, err = mgr.CallTool(ctx, "get_gimp_info", nil)
	require.ErrorIs(t, err, ErrConnectionClosed)

	// No transparent reconnect.
	_, err = mgr.ListTools(ctx)
	require.ErrorIs(t, err, ErrConnectionClosed)
	assert.Equal(t, 1, fake.Launches())
	status := mgr.Status()
	assert.False(t, status.Running)
	assert.True(t, status.Closed)

	// An explicit reset launches a new worker and handshakes again.
	fake.SetHook(nil)
	require.NoError(t, mgr.Reset(ctx))
	_, err = mgr.ListTools(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.Launches())
}

func TestInitializeRejectionIsSticky(t *testing.T) {
	fake := NewFakeWorker()
	fake.RejectInitialize(&jsonrpc.Error{Code: -32602, Message: "unsupported protocol version"})
	mgr := newTestManager(t, fake)
	ctx := callCtx(t)

	_, err := mgr.ListTools(ctx)
	var initErr *InitializeError
	require.ErrorAs(t, err, &initErr)
	require.NotNil(t, initErr.Remote)
	assert.Contains(t, err.Error(), "unsupported protocol version")

	_, err = mgr.CallTool(ctx, "get_gimp_info", nil)
	require.ErrorAs(t, err, &initErr)

	assert.Equal(t, []string{"initialize"}, methods(fake.Received()))
	assert.False(t, mgr.Status().Initialized)
}

// blockFirstInitialize holds the worker's answer to the first initialize until
// release is closed. entered is closed once that request has been read.
func blockFirstInitialize(fake *FakeWorker) (entered, release chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	fake.SetHook(func(req FakeRequest, _ func(string)) bool {
		if req.Method == "initialize" {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
		return true
	})
	return entered, release
}

func TestInitializeTimeoutIsRetryable(t *testing.T) {
	fake := NewFakeWorker()
	_, release := blockFirstInitialize(fake)
	mgr := newTestManager(t, fake, func(o *Options) {
		o.RequestTimeout = 100 * time.Millisecond
	})
	ctx := callCtx(t)

	_, err := mgr.ListTools(ctx)
	require.ErrorIs(t, err, ErrTimeout)
	var initErr *InitializeError
	assert.False(t, errors.As(err, &initErr), "timeout must not be recorded as a rejected handshake")

	close(release)
	raw, err := mgr.ListTools(ctx)
	require.NoError(t, err)
	var result mcp.ListToolsResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Len(t, result.Tools, 2)

	// The late reply to id 1 was dropped; the retry handshakes on id 2.
	received := fake.Received()
	assert.Equal(t, []string{"initialize", "initialize", "notifications/initialized", "tools/list"}, methods(received))
	assert.Equal(t, []uint64{1, 2, 3}, requestIDs(received))
	assert.Equal(t, 1, fake.Launches())
	assert.True(t, mgr.Status().Initialized)
}

func TestInitializeCanceledIsRetryable(t *testing.T) {
	fake := NewFakeWorker()
	entered, release := blockFirstInitialize(fake)
	mgr := newTestManager(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := mgr.ListTools(ctx)
		done <- err
	}()
	<-entered
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
		var initErr *InitializeError
		assert.False(t, errors.As(err, &initErr))
	case <-time.After(2 * time.Second):
		t.Fatalf("canceled handshake did not return")
	}

	close(release)
	_, err := mgr.CallTool(callCtx(t), "get_gimp_info", nil)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, requestIDs(fake.Received()))
}

func TestSpawnFailure(t *testing.T) {
	mgr := New(Options{Launcher: func(context.Context) (*Process, error) {
		return nil, errors.New("exec: \"uv\": executable file not found in $PATH")
	}})
	_, err := mgr.ListTools(callCtx(t))
	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Contains(t, err.Error(), "executable file not found")

	// Each call tries again; nothing is cached on failure.
	_, err = mgr.ListTools(callCtx(t))
	require.ErrorAs(t, err, &spawnErr)
}

func TestLockPoisonedAfterPanic(t *testing.T) {
	fake := NewFakeWorker()
	fake.SetHook(func(req FakeRequest, raw func(string)) bool {
		if req.Method == "tools/list" {
			raw(`{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`)
		}
		return true
	})
	mgr := newTestManager(t, fake, func(o *Options) {
		o.OnToolsChanged = func() { panic("observer exploded") }
	})
	ctx := callCtx(t)

	assert.Panics(t, func() { _, _ = mgr.ListTools(ctx) })

	_, err := mgr.CallTool(ctx, "get_gimp_info", nil)
	require.ErrorIs(t, err, ErrLockPoisoned)
	_, err = mgr.ListTools(ctx)
	require.ErrorIs(t, err, ErrLockPoisoned)
	assert.True(t, mgr.Status().Poisoned)
}

func TestConcurrentCallsAreSerialized(t *testing.T) {
	fake := NewFakeWorker()
	mgr := newTestManager(t, fake)
	ctx := callCtx(t)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.CallTool(ctx, "call_api", json.RawMessage(`{"api_path":"exec"}`))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	ids := requestIDs(fake.Received())
	require.Len(t, ids, workers+1)
	for i, id := range ids {
		assert.Equal(t, uint64(i+1), id)
	}
	assert.Equal(t, 1, fake.Launches())
}

func TestRequestTimeoutAndStaleLateReply(t *testing.T) {
	fake := NewFakeWorker()
	release := make(chan struct{})
	var once sync.Once
	fake.SetHook(func(req FakeRequest, _ func(string)) bool {
		if req.Method == "tools/call" {
			once.Do(func() { <-release })
		}
		return true
	})
	mgr := newTestManager(t, fake, func(o *Options) {
		o.RequestTimeout = 100 * time.Millisecond
	})
	ctx := callCtx(t)

	_, err := mgr.ListTools(ctx)
	require.NoError(t, err)

	_, err = mgr.CallTool(ctx, "get_gimp_info", nil)
	require.ErrorIs(t, err, ErrTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	// The late reply to id 3 is discarded while waiting for id 4.
	raw, err := mgr.ListTools(ctx)
	require.NoError(t, err)
	var result mcp.ListToolsResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Len(t, result.Tools, 2)
}

func TestStatusReportsBusy(t *testing.T) {
	fake := NewFakeWorker()
	entered := make(chan struct{})
	release := make(chan struct{})
	fake.SetHook(func(req FakeRequest, _ func(string)) bool {
		if req.Method == "tools/call" {
			close(entered)
			<-release
		}
		return true
	})
	mgr := newTestManager(t, fake)
	ctx := callCtx(t)

	done := make(chan error, 1)
	go func() {
		_, err := mgr.CallTool(ctx, "get_gimp_info", nil)
		done <- err
	}()
	<-entered
	status := mgr.Status()
	assert.True(t, status.Busy)
	assert.True(t, status.Running)

	close(release)
	require.NoError(t, <-done)
	status = mgr.Status()
	assert.False(t, status.Busy)
	assert.Equal(t, "gimp-mcp-fake 0.0.1", status.Server)
}

func TestCloseUnblocksPendingCall(t *testing.T) {
	fake := NewFakeWorker()
	entered := make(chan struct{})
	fake.SetHook(func(req FakeRequest, _ func(string)) bool {
		if req.Method == "tools/call" {
			close(entered)
			select {}
		}
		return true
	})
	mgr := New(Options{Launcher: fake.Launcher()})
	ctx := callCtx(t)

	done := make(chan error, 1)
	go func() {
		_, err := mgr.CallTool(ctx, "get_gimp_info", nil)
		done <- err
	}()
	<-entered
	require.NoError(t, mgr.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatalf("pending call not released by Close")
	}

	_, err := mgr.ListTools(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAcquireHonoursContext(t *testing.T) {
	fake := NewFakeWorker()
	entered := make(chan struct{})
	release := make(chan struct{})
	fake.SetHook(func(req FakeRequest, _ func(string)) bool {
		if req.Method == "tools/call" {
			close(entered)
			<-release
		}
		return true
	})
	mgr := newTestManager(t, fake)

	go func() { _, _ = mgr.CallTool(callCtx(t), "get_gimp_info", nil) }()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := mgr.ListTools(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}
