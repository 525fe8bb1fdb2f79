package delve

import (
	"context"

	e "github.com/fansqz/go-debug-adapter/error"
	"github.com/go-delve/delve/service/api"
	"github.com/go-delve/delve/service/rpc2"
)

// DefaultLoadConfig 加载变量的配置
var DefaultLoadConfig = api.LoadConfig{
	FollowPointers:     true,
	MaxVariableRecurse: 1,
	MaxStringLen:       512,
	MaxArrayValues:     64,
	MaxStructFields:    -1,
}

// Command 执行continue、next、step、stepOut、halt，会阻塞到程序再次停止
func (c *Client) Command(ctx context.Context, cmd *api.DebuggerCommand) (*CommandResult, error) {
	if c.IsAPIV1() {
		out := &api.DebuggerState{}
		if err := c.Call(ctx, "Command", cmd, out); err != nil {
			return nil, err
		}
		return &CommandResult{V1: out}, nil
	}
	out := &rpc2.CommandOut{}
	if err := c.Call(ctx, "Command", cmd, out); err != nil {
		return nil, err
	}
	return &CommandResult{V2: out}, nil
}

// Halt 暂停程序，不等待响应，响应会通过正在执行的Command返回
func (c *Client) Halt() {
	c.Notify("Command", &api.DebuggerCommand{Name: api.Halt})
}

// ContinueNoWait 恢复程序运行，不等待响应
func (c *Client) ContinueNoWait() {
	c.Notify("Command", &api.DebuggerCommand{Name: api.Continue})
}

func (c *Client) GetState(ctx context.Context, nonBlocking bool) (*StateResult, error) {
	if c.IsAPIV1() {
		out := &api.DebuggerState{}
		if err := c.Call(ctx, "State", nil, out); err != nil {
			return nil, err
		}
		return &StateResult{V1: out}, nil
	}
	out := &rpc2.StateOut{}
	if err := c.Call(ctx, "State", &rpc2.StateIn{NonBlocking: nonBlocking}, out); err != nil {
		return nil, err
	}
	return &StateResult{V2: out}, nil
}

func (c *Client) CreateBreakpoint(ctx context.Context, bp *api.Breakpoint) (*BreakpointResult, error) {
	if c.IsAPIV1() {
		out := &api.Breakpoint{}
		if err := c.Call(ctx, "CreateBreakpoint", bp, out); err != nil {
			return nil, err
		}
		return &BreakpointResult{V1: out}, nil
	}
	out := &rpc2.CreateBreakpointOut{}
	if err := c.Call(ctx, "CreateBreakpoint", &rpc2.CreateBreakpointIn{Breakpoint: *bp}, out); err != nil {
		return nil, err
	}
	return &BreakpointResult{V2Create: out}, nil
}

func (c *Client) ClearBreakpoint(ctx context.Context, id int) (*BreakpointResult, error) {
	if c.IsAPIV1() {
		out := &api.Breakpoint{}
		if err := c.Call(ctx, "ClearBreakpoint", id, out); err != nil {
			return nil, err
		}
		return &BreakpointResult{V1: out}, nil
	}
	out := &rpc2.ClearBreakpointOut{}
	if err := c.Call(ctx, "ClearBreakpoint", &rpc2.ClearBreakpointIn{Id: id}, out); err != nil {
		return nil, err
	}
	return &BreakpointResult{V2Clear: out}, nil
}

// AmendBreakpoint 修改断点条件
func (c *Client) AmendBreakpoint(ctx context.Context, bp *api.Breakpoint) error {
	if c.IsAPIV1() {
		var unused int
		return c.Call(ctx, "AmendBreakpoint", bp, &unused)
	}
	return c.Call(ctx, "AmendBreakpoint", &rpc2.AmendBreakpointIn{Breakpoint: *bp}, &rpc2.AmendBreakpointOut{})
}

func (c *Client) ListBreakpoints(ctx context.Context) (*BreakpointsResult, error) {
	if c.IsAPIV1() {
		var out []*api.Breakpoint
		if err := c.Call(ctx, "ListBreakpoints", nil, &out); err != nil {
			return nil, err
		}
		return &BreakpointsResult{V1: out}, nil
	}
	out := &rpc2.ListBreakpointsOut{}
	if err := c.Call(ctx, "ListBreakpoints", &rpc2.ListBreakpointsIn{}, out); err != nil {
		return nil, err
	}
	return &BreakpointsResult{V2: out}, nil
}

// Stacktrace v1调用StacktraceGoroutine，v2调用Stacktrace
func (c *Client) Stacktrace(ctx context.Context, goroutineID int64, depth int) (*StacktraceResult, error) {
	if c.IsAPIV1() {
		var out []api.Stackframe
		args := &StacktraceGoroutineArgs{Id: goroutineID, Depth: depth}
		if err := c.Call(ctx, "StacktraceGoroutine", args, &out); err != nil {
			return nil, err
		}
		return &StacktraceResult{V1: out}, nil
	}
	out := &rpc2.StacktraceOut{}
	args := &rpc2.StacktraceIn{Id: goroutineID, Depth: depth}
	if err := c.Call(ctx, "Stacktrace", args, out); err != nil {
		return nil, err
	}
	return &StacktraceResult{V2: out}, nil
}

func (c *Client) ListGoroutines(ctx context.Context, start, count int) (*GoroutinesResult, error) {
	if c.IsAPIV1() {
		var out []*api.Goroutine
		if err := c.Call(ctx, "ListGoroutines", nil, &out); err != nil {
			return nil, err
		}
		return &GoroutinesResult{V1: out}, nil
	}
	out := &rpc2.ListGoroutinesOut{}
	if err := c.Call(ctx, "ListGoroutines", &rpc2.ListGoroutinesIn{Start: start, Count: count}, out); err != nil {
		return nil, err
	}
	return &GoroutinesResult{V2: out}, nil
}

func (c *Client) ListLocalVars(ctx context.Context, scope api.EvalScope) (*VariablesResult, error) {
	if c.IsAPIV1() {
		var out []api.Variable
		if err := c.Call(ctx, "ListLocalVars", scope, &out); err != nil {
			return nil, err
		}
		return &VariablesResult{V1: out}, nil
	}
	out := &rpc2.ListLocalVarsOut{}
	if err := c.Call(ctx, "ListLocalVars", &rpc2.ListLocalVarsIn{Scope: scope, Cfg: DefaultLoadConfig}, out); err != nil {
		return nil, err
	}
	return &VariablesResult{V2: nonNil(out.Variables)}, nil
}

func (c *Client) ListFunctionArgs(ctx context.Context, scope api.EvalScope) (*VariablesResult, error) {
	if c.IsAPIV1() {
		var out []api.Variable
		if err := c.Call(ctx, "ListFunctionArgs", scope, &out); err != nil {
			return nil, err
		}
		return &VariablesResult{V1: out}, nil
	}
	out := &rpc2.ListFunctionArgsOut{}
	if err := c.Call(ctx, "ListFunctionArgs", &rpc2.ListFunctionArgsIn{Scope: scope, Cfg: DefaultLoadConfig}, out); err != nil {
		return nil, err
	}
	return &VariablesResult{V2: nonNil(out.Args)}, nil
}

// ListPackageVars filter为正则，一般传入 ^包名\.
func (c *Client) ListPackageVars(ctx context.Context, filter string) (*VariablesResult, error) {
	if c.IsAPIV1() {
		var out []api.Variable
		if err := c.Call(ctx, "ListPackageVars", filter, &out); err != nil {
			return nil, err
		}
		return &VariablesResult{V1: out}, nil
	}
	out := &rpc2.ListPackageVarsOut{}
	if err := c.Call(ctx, "ListPackageVars", &rpc2.ListPackageVarsIn{Filter: filter, Cfg: DefaultLoadConfig}, out); err != nil {
		return nil, err
	}
	return &VariablesResult{V2: nonNil(out.Variables)}, nil
}

// Eval v1调用EvalSymbol，v2调用Eval
func (c *Client) Eval(ctx context.Context, scope api.EvalScope, expr string) (*EvalResult, error) {
	if c.IsAPIV1() {
		out := &api.Variable{}
		if err := c.Call(ctx, "EvalSymbol", &EvalSymbolArgs{Scope: scope, Symbol: expr}, out); err != nil {
			return nil, err
		}
		return &EvalResult{V1: out}, nil
	}
	cfg := DefaultLoadConfig
	out := &rpc2.EvalOut{}
	if err := c.Call(ctx, "Eval", &rpc2.EvalIn{Scope: scope, Expr: expr, Cfg: &cfg}, out); err != nil {
		return nil, err
	}
	return &EvalResult{V2: out}, nil
}

// Set v1调用SetSymbol，v2调用Set
func (c *Client) Set(ctx context.Context, scope api.EvalScope, symbol, value string) error {
	if c.IsAPIV1() {
		var unused int
		return c.Call(ctx, "SetSymbol", &SetSymbolArgs{Scope: scope, Symbol: symbol, Value: value}, &unused)
	}
	return c.Call(ctx, "Set", &rpc2.SetIn{Scope: scope, Symbol: symbol, Value: value}, &rpc2.SetOut{})
}

func (c *Client) ListSources(ctx context.Context, filter string) (*SourcesResult, error) {
	if c.IsAPIV1() {
		var out []string
		if err := c.Call(ctx, "ListSources", filter, &out); err != nil {
			return nil, err
		}
		return &SourcesResult{V1: out}, nil
	}
	out := &rpc2.ListSourcesOut{}
	if err := c.Call(ctx, "ListSources", &rpc2.ListSourcesIn{Filter: filter}, out); err != nil {
		return nil, err
	}
	return &SourcesResult{V2: out}, nil
}

// ListPackagesBuildInfo v1不支持，返回ErrUnsupportedByAPIV1
func (c *Client) ListPackagesBuildInfo(ctx context.Context, includeFiles bool) (*PackagesBuildInfoResult, error) {
	if c.IsAPIV1() {
		return nil, e.ErrUnsupportedByAPIV1
	}
	out := &rpc2.ListPackagesBuildInfoOut{}
	if err := c.Call(ctx, "ListPackagesBuildInfo", &rpc2.ListPackagesBuildInfoIn{IncludeFiles: includeFiles}, out); err != nil {
		return nil, err
	}
	return &PackagesBuildInfoResult{V2: out}, nil
}

// Detach 断开dlv与目标程序，kill为true时同时结束目标程序
func (c *Client) Detach(ctx context.Context, kill bool) error {
	if c.IsAPIV1() {
		var unused int
		return c.Call(ctx, "Detach", kill, &unused)
	}
	return c.Call(ctx, "Detach", &rpc2.DetachIn{Kill: kill}, &rpc2.DetachOut{})
}

func nonNil(vars []api.Variable) []api.Variable {
	if vars == nil {
		return []api.Variable{}
	}
	return vars
}
