package debugger

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/fansqz/go-debug-adapter/config"
	"github.com/fansqz/go-debug-adapter/debugger/delve"
	"github.com/fansqz/go-debug-adapter/debugger/delve/delvetest"
	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"
)

const messageTimeout = 5 * time.Second

// testClient 模拟编辑器，通过net.Pipe与会话通信
type testClient struct {
	t        *testing.T
	conn     net.Conn
	seq      int
	messages chan dap.Message
	served   chan struct{}
	session  *DebugSession
}

func newTestClient(t *testing.T, opts *Options) *testClient {
	server, client := net.Pipe()
	c := &testClient{
		t:        t,
		conn:     client,
		messages: make(chan dap.Message, 128),
		served:   make(chan struct{}),
		session:  NewDebugSession(server, opts),
	}
	go func() {
		defer close(c.served)
		_ = c.session.Serve()
		_ = server.Close()
	}()
	go func() {
		defer close(c.messages)
		reader := bufio.NewReader(client)
		for {
			msg, err := dap.ReadProtocolMessage(reader)
			if err != nil {
				return
			}
			c.messages <- msg
		}
	}()
	t.Cleanup(func() {
		_ = client.Close()
		select {
		case <-c.served:
		case <-time.After(10 * time.Second):
			t.Errorf("session did not stop")
		}
	})
	return c
}

// testOptions 使用fake dlv的会话配置
func testOptions(srv *delvetest.Server, files ...string) *Options {
	cfg := config.Default()
	cfg.GOPATH = "/home/dev/go"
	cfg.GOROOT = "/opt/go"
	cfg.DisconnectTimeout = 2 * time.Second
	exists := make(map[string]bool)
	for _, f := range files {
		exists[f] = true
	}
	return &Options{
		Config: cfg,
		Launch: func(ctx context.Context, cfg *delve.LaunchConfig, callback delve.OutputCallback) (*delve.Process, error) {
			callback("stdout", "dlv started\n")
			return &delve.Process{Addr: srv.Addr()}, nil
		},
		FileExists:   func(p string) bool { return exists[p] },
		Separator:    "/",
		HaltInterval: 10 * time.Millisecond,
	}
}

func startDelve(t *testing.T, opts delvetest.Options) *delvetest.Server {
	srv, err := delvetest.Start(opts)
	require.Nil(t, err)
	t.Cleanup(srv.Close)
	return srv
}

func (c *testClient) request(command string) dap.Request {
	c.seq++
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Seq: c.seq, Type: "request"},
		Command:         command,
	}
}

func (c *testClient) send(message dap.Message) {
	c.t.Helper()
	require.Nil(c.t, dap.WriteProtocolMessage(c.conn, message))
}

// expect 读取下一条消息，除非期望output事件，否则跳过output事件
func expect[T dap.Message](c *testClient) T {
	c.t.Helper()
	var zero T
	_, wantOutput := any(zero).(*dap.OutputEvent)
	timer := time.NewTimer(messageTimeout)
	defer timer.Stop()
	for {
		select {
		case msg, ok := <-c.messages:
			require.True(c.t, ok, "connection closed while waiting for %T", zero)
			if _, isOutput := msg.(*dap.OutputEvent); isOutput && !wantOutput {
				continue
			}
			got, ok := msg.(T)
			require.Truef(c.t, ok, "expect %T, got %#v", zero, msg)
			return got
		case <-timer.C:
			require.FailNowf(c.t, "timeout", "waiting for %T", zero)
			return zero
		}
	}
}

func (c *testClient) initialize() {
	c.t.Helper()
	c.send(&dap.InitializeRequest{
		Request: c.request("initialize"),
		Arguments: dap.InitializeRequestArguments{
			AdapterID:       "go",
			PathFormat:      "path",
			LinesStartAt1:   true,
			ColumnsStartAt1: true,
		},
	})
	response := expect[*dap.InitializeResponse](c)
	require.True(c.t, response.Success)
}

func (c *testClient) launch(args map[string]interface{}) {
	c.t.Helper()
	c.send(&dap.LaunchRequest{Request: c.request("launch"), Arguments: toRaw(c.t, args)})
	response := expect[*dap.LaunchResponse](c)
	require.True(c.t, response.Success)
	expect[*dap.InitializedEvent](c)
}

func (c *testClient) attach(args map[string]interface{}) {
	c.t.Helper()
	c.send(&dap.AttachRequest{Request: c.request("attach"), Arguments: toRaw(c.t, args)})
	response := expect[*dap.AttachResponse](c)
	require.True(c.t, response.Success)
	expect[*dap.InitializedEvent](c)
}

func (c *testClient) setBreakpoints(path string, breakpoints ...dap.SourceBreakpoint) []dap.Breakpoint {
	c.t.Helper()
	c.send(&dap.SetBreakpointsRequest{
		Request: c.request("setBreakpoints"),
		Arguments: dap.SetBreakpointsArguments{
			Source:      dap.Source{Path: path},
			Breakpoints: breakpoints,
		},
	})
	response := expect[*dap.SetBreakpointsResponse](c)
	require.True(c.t, response.Success)
	return response.Body.Breakpoints
}

func (c *testClient) setExceptionBreakpoints(filters ...string) {
	c.t.Helper()
	c.send(&dap.SetExceptionBreakpointsRequest{
		Request:   c.request("setExceptionBreakpoints"),
		Arguments: dap.SetExceptionBreakpointsArguments{Filters: filters},
	})
	response := expect[*dap.SetExceptionBreakpointsResponse](c)
	require.True(c.t, response.Success)
}

func (c *testClient) configurationDone() {
	c.t.Helper()
	c.send(&dap.ConfigurationDoneRequest{Request: c.request("configurationDone")})
	response := expect[*dap.ConfigurationDoneResponse](c)
	require.True(c.t, response.Success)
}

func (c *testClient) continueRequest() {
	c.t.Helper()
	c.send(&dap.ContinueRequest{Request: c.request("continue"), Arguments: dap.ContinueArguments{ThreadId: 1}})
	response := expect[*dap.ContinueResponse](c)
	require.True(c.t, response.Success)
}

func (c *testClient) evaluate(expr string, frameID int) *dap.EvaluateResponse {
	c.t.Helper()
	c.send(&dap.EvaluateRequest{
		Request:   c.request("evaluate"),
		Arguments: dap.EvaluateArguments{Expression: expr, FrameId: frameID, Context: "repl"},
	})
	return expect[*dap.EvaluateResponse](c)
}

func (c *testClient) stackTrace() []dap.StackFrame {
	c.t.Helper()
	c.send(&dap.StackTraceRequest{
		Request:   c.request("stackTrace"),
		Arguments: dap.StackTraceArguments{ThreadId: 1},
	})
	response := expect[*dap.StackTraceResponse](c)
	require.True(c.t, response.Success)
	return response.Body.StackFrames
}

func (c *testClient) disconnect() {
	c.t.Helper()
	c.send(&dap.DisconnectRequest{Request: c.request("disconnect"), Arguments: &dap.DisconnectArguments{}})
	response := expect[*dap.DisconnectResponse](c)
	require.True(c.t, response.Success)
}

func toRaw(t *testing.T, v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	require.Nil(t, err)
	return data
}
