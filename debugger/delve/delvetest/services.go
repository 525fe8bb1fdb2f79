package delvetest

import (
	"fmt"

	"github.com/fansqz/go-debug-adapter/debugger/delve"
	"github.com/go-delve/delve/service/api"
	"github.com/go-delve/delve/service/rpc2"
)

// v1Service api-version=1 的方法集合
type v1Service struct {
	s *Server
}

func (v *v1Service) Command(cmd api.DebuggerCommand, out *api.DebuggerState) error {
	state, err := v.s.command(cmd.Name)
	if err != nil {
		return err
	}
	*out = *state
	return nil
}

func (v *v1Service) State(arg interface{}, out *api.DebuggerState) error {
	*out = *v.s.state(true)
	return nil
}

func (v *v1Service) CreateBreakpoint(bp api.Breakpoint, out *api.Breakpoint) error {
	created, err := v.s.createBreakpoint(bp)
	if err != nil {
		return err
	}
	*out = *created
	return nil
}

func (v *v1Service) ClearBreakpoint(id int, out *api.Breakpoint) error {
	bp, err := v.s.clearBreakpoint(id)
	if err != nil {
		return err
	}
	*out = *bp
	return nil
}

func (v *v1Service) AmendBreakpoint(bp api.Breakpoint, out *int) error {
	return v.s.amendBreakpoint(bp)
}

func (v *v1Service) ListBreakpoints(arg interface{}, out *[]*api.Breakpoint) error {
	*out = v.s.listBreakpoints()
	return nil
}

func (v *v1Service) StacktraceGoroutine(args delve.StacktraceGoroutineArgs, out *[]api.Stackframe) error {
	frames, err := v.s.stacktrace(args.Id, args.Depth)
	if err != nil {
		return err
	}
	*out = frames
	return nil
}

func (v *v1Service) ListGoroutines(arg interface{}, out *[]*api.Goroutine) error {
	*out = v.s.goroutines()
	return nil
}

func (v *v1Service) ListLocalVars(scope api.EvalScope, out *[]api.Variable) error {
	vars, err := v.s.locals(scope)
	if err != nil {
		return err
	}
	*out = vars
	return nil
}

func (v *v1Service) ListFunctionArgs(scope api.EvalScope, out *[]api.Variable) error {
	v.s.record("ListFunctionArgs")
	*out = []api.Variable{}
	return nil
}

func (v *v1Service) ListPackageVars(filter string, out *[]api.Variable) error {
	vars, err := v.s.packageVars(filter)
	if err != nil {
		return err
	}
	*out = vars
	return nil
}

func (v *v1Service) EvalSymbol(args delve.EvalSymbolArgs, out *api.Variable) error {
	variable, err := v.s.eval(args.Symbol)
	if err != nil {
		return err
	}
	*out = *variable
	return nil
}

func (v *v1Service) SetSymbol(args delve.SetSymbolArgs, out *int) error {
	return v.s.set(args.Symbol, args.Value)
}

func (v *v1Service) ListSources(filter string, out *[]string) error {
	v.s.record("ListSources")
	*out = v.s.opts.Sources
	return nil
}

func (v *v1Service) Detach(kill bool, out *int) error {
	v.s.detach(kill)
	return nil
}

// v2Service api-version=2 的方法集合
type v2Service struct {
	s *Server
}

func (v *v2Service) Command(cmd api.DebuggerCommand, out *rpc2.CommandOut) error {
	state, err := v.s.command(cmd.Name)
	if err != nil {
		return err
	}
	out.State = *state
	return nil
}

func (v *v2Service) State(in rpc2.StateIn, out *rpc2.StateOut) error {
	out.State = v.s.state(in.NonBlocking)
	return nil
}

func (v *v2Service) CreateBreakpoint(in rpc2.CreateBreakpointIn, out *rpc2.CreateBreakpointOut) error {
	created, err := v.s.createBreakpoint(in.Breakpoint)
	if err != nil {
		return err
	}
	out.Breakpoint = *created
	return nil
}

func (v *v2Service) ClearBreakpoint(in rpc2.ClearBreakpointIn, out *rpc2.ClearBreakpointOut) error {
	bp, err := v.s.clearBreakpoint(in.Id)
	if err != nil {
		return err
	}
	out.Breakpoint = bp
	return nil
}

func (v *v2Service) AmendBreakpoint(in rpc2.AmendBreakpointIn, out *rpc2.AmendBreakpointOut) error {
	return v.s.amendBreakpoint(in.Breakpoint)
}

func (v *v2Service) ListBreakpoints(in rpc2.ListBreakpointsIn, out *rpc2.ListBreakpointsOut) error {
	out.Breakpoints = v.s.listBreakpoints()
	return nil
}

func (v *v2Service) Stacktrace(in rpc2.StacktraceIn, out *rpc2.StacktraceOut) error {
	frames, err := v.s.stacktrace(in.Id, in.Depth)
	if err != nil {
		return err
	}
	out.Locations = frames
	return nil
}

func (v *v2Service) ListGoroutines(in rpc2.ListGoroutinesIn, out *rpc2.ListGoroutinesOut) error {
	out.Goroutines = v.s.goroutines()
	out.Nextg = -1
	return nil
}

func (v *v2Service) ListLocalVars(in rpc2.ListLocalVarsIn, out *rpc2.ListLocalVarsOut) error {
	vars, err := v.s.locals(in.Scope)
	if err != nil {
		return err
	}
	out.Variables = vars
	return nil
}

func (v *v2Service) ListFunctionArgs(in rpc2.ListFunctionArgsIn, out *rpc2.ListFunctionArgsOut) error {
	v.s.record("ListFunctionArgs")
	out.Args = []api.Variable{}
	return nil
}

func (v *v2Service) ListPackageVars(in rpc2.ListPackageVarsIn, out *rpc2.ListPackageVarsOut) error {
	vars, err := v.s.packageVars(in.Filter)
	if err != nil {
		return err
	}
	out.Variables = vars
	return nil
}

func (v *v2Service) Eval(in rpc2.EvalIn, out *rpc2.EvalOut) error {
	variable, err := v.s.eval(in.Expr)
	if err != nil {
		return err
	}
	out.Variable = variable
	return nil
}

func (v *v2Service) Set(in rpc2.SetIn, out *rpc2.SetOut) error {
	return v.s.set(in.Symbol, in.Value)
}

func (v *v2Service) ListSources(in rpc2.ListSourcesIn, out *rpc2.ListSourcesOut) error {
	v.s.record("ListSources")
	out.Sources = v.s.opts.Sources
	return nil
}

func (v *v2Service) ListPackagesBuildInfo(in rpc2.ListPackagesBuildInfoIn, out *rpc2.ListPackagesBuildInfoOut) error {
	v.s.record("ListPackagesBuildInfo")
	if !in.IncludeFiles {
		return fmt.Errorf("files are required")
	}
	out.List = v.s.opts.Packages
	return nil
}

func (v *v2Service) Detach(in rpc2.DetachIn, out *rpc2.DetachOut) error {
	v.s.detach(in.Kill)
	return nil
}
