package delve

import (
	"github.com/go-delve/delve/service/api"
	"github.com/go-delve/delve/service/rpc2"
)

// v1协议的参数，dlv的rpc1包中的定义

// StacktraceGoroutineArgs v1 StacktraceGoroutine的参数
type StacktraceGoroutineArgs struct {
	Id    int64
	Depth int
	Full  bool
}

// EvalSymbolArgs v1 EvalSymbol的参数
type EvalSymbolArgs struct {
	Scope  api.EvalScope
	Symbol string
}

// SetSymbolArgs v1 SetSymbol的参数
type SetSymbolArgs struct {
	Scope  api.EvalScope
	Symbol string
	Value  string
}

// 下面是每个方法的结果，V1和V2只有一个非空，由连接的IsAPIV1决定
// 调用方需要根据IsAPIV1选择读取的字段

// CommandResult Command的结果
type CommandResult struct {
	V1 *api.DebuggerState
	V2 *rpc2.CommandOut
}

func (r *CommandResult) State() *api.DebuggerState {
	if r.V1 != nil {
		return r.V1
	}
	return &r.V2.State
}

// StateResult State的结果
type StateResult struct {
	V1 *api.DebuggerState
	V2 *rpc2.StateOut
}

func (r *StateResult) State() *api.DebuggerState {
	if r.V1 != nil {
		return r.V1
	}
	return r.V2.State
}

// BreakpointResult CreateBreakpoint、ClearBreakpoint的结果
type BreakpointResult struct {
	V1       *api.Breakpoint
	V2Create *rpc2.CreateBreakpointOut
	V2Clear  *rpc2.ClearBreakpointOut
}

func (r *BreakpointResult) Breakpoint() *api.Breakpoint {
	switch {
	case r.V1 != nil:
		return r.V1
	case r.V2Create != nil:
		return &r.V2Create.Breakpoint
	case r.V2Clear != nil:
		return r.V2Clear.Breakpoint
	}
	return nil
}

// BreakpointsResult ListBreakpoints的结果
type BreakpointsResult struct {
	V1 []*api.Breakpoint
	V2 *rpc2.ListBreakpointsOut
}

func (r *BreakpointsResult) Breakpoints() []*api.Breakpoint {
	if r.V2 != nil {
		return r.V2.Breakpoints
	}
	return r.V1
}

// StacktraceResult Stacktrace(v2)、StacktraceGoroutine(v1)的结果
type StacktraceResult struct {
	V1 []api.Stackframe
	V2 *rpc2.StacktraceOut
}

func (r *StacktraceResult) Frames() []api.Stackframe {
	if r.V2 != nil {
		return r.V2.Locations
	}
	return r.V1
}

// GoroutinesResult ListGoroutines的结果
type GoroutinesResult struct {
	V1 []*api.Goroutine
	V2 *rpc2.ListGoroutinesOut
}

func (r *GoroutinesResult) Goroutines() []*api.Goroutine {
	if r.V2 != nil {
		return r.V2.Goroutines
	}
	return r.V1
}

// VariablesResult ListLocalVars、ListFunctionArgs、ListPackageVars的结果
type VariablesResult struct {
	V1 []api.Variable
	// V2 各方法的Out结构不同，统一保存变量列表
	V2 []api.Variable
}

func (r *VariablesResult) Variables() []api.Variable {
	if r.V2 != nil {
		return r.V2
	}
	return r.V1
}

// EvalResult Eval(v2)、EvalSymbol(v1)的结果
type EvalResult struct {
	V1 *api.Variable
	V2 *rpc2.EvalOut
}

func (r *EvalResult) Variable() *api.Variable {
	if r.V1 != nil {
		return r.V1
	}
	return r.V2.Variable
}

// SourcesResult ListSources的结果
type SourcesResult struct {
	V1 []string
	V2 *rpc2.ListSourcesOut
}

func (r *SourcesResult) Sources() []string {
	if r.V2 != nil {
		return r.V2.Sources
	}
	return r.V1
}

// PackagesBuildInfoResult ListPackagesBuildInfo的结果，只有v2支持
type PackagesBuildInfoResult struct {
	V2 *rpc2.ListPackagesBuildInfoOut
}

func (r *PackagesBuildInfoResult) Packages() []api.PackageBuildInfo {
	if r.V2 == nil {
		return nil
	}
	return r.V2.List
}
