package debugger

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fansqz/go-debug-adapter/constants"
	e "github.com/fansqz/go-debug-adapter/error"
	"github.com/fansqz/go-debug-adapter/protocol"
	"github.com/fansqz/go-debug-adapter/utils"
	"github.com/go-delve/delve/service/api"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// runningThreadName 程序运行时无法获取协程，返回一个占位的线程
const runningThreadName = "Dummy"

func (d *DebugSession) onThreadsRequest(request *dap.ThreadsRequest) {
	response := &dap.ThreadsResponse{}
	response.Response = *protocol.NewResponse(request.Seq, request.Command)
	if d.client == nil || d.statusManager.Is(utils.Running) {
		response.Body.Threads = []dap.Thread{{Id: 1, Name: runningThreadName}}
		d.send(response)
		return
	}

	result, err := d.client.ListGoroutines(d.ctx, 0, constants.DefaultMaxGoroutines)
	if err != nil {
		d.sendError(request, err)
		return
	}
	goroutines := result.Goroutines()
	threads := make([]dap.Thread, 0, len(goroutines))
	for _, g := range goroutines {
		threads = append(threads, dap.Thread{
			Id:   int(g.ID),
			Name: fmt.Sprintf("[Go %d] %s", g.ID, locationFunction(&g.UserCurrentLoc)),
		})
	}
	if len(threads) == 0 {
		threads = append(threads, dap.Thread{Id: 1, Name: runningThreadName})
	}
	response.Body.Threads = threads
	d.send(response)
}

func (d *DebugSession) onStackTraceRequest(request *dap.StackTraceRequest) {
	if err := d.checkStopped(); err != nil {
		d.sendError(request, err)
		return
	}
	args := request.Arguments
	start := args.StartFrame
	levels := args.Levels
	if levels <= 0 {
		levels = constants.DefaultStackTraceDepth
	}
	goroutineID := int64(args.ThreadId)

	result, err := d.client.Stacktrace(d.ctx, goroutineID, start+levels)
	if err != nil {
		d.sendError(request, err)
		return
	}
	frames := result.Frames()
	stackFrames := []dap.StackFrame{}
	for i := start; i < len(frames) && i < start+levels; i++ {
		frame := &frames[i]
		function := locationFunction(&frame.Location)
		id := d.handles.createFrame(&frameHandle{goroutineID: goroutineID, frame: i, function: function})
		stackFrame := dap.StackFrame{
			Id:     id,
			Name:   function,
			Line:   d.toClientLine(frame.Line),
			Column: d.toClientColumn(1),
		}
		if frame.File != "" {
			path := d.toLocalPath(d.ctx, frame.File)
			stackFrame.Source = &dap.Source{Name: filepath.Base(path), Path: path}
		}
		if frame.Err != "" {
			stackFrame.Name = "(unreadable " + frame.Err + ")"
		}
		stackFrames = append(stackFrames, stackFrame)
	}

	response := &dap.StackTraceResponse{}
	response.Response = *protocol.NewResponse(request.Seq, request.Command)
	response.Body.StackFrames = stackFrames
	response.Body.TotalFrames = len(frames)
	d.send(response)
}

func (d *DebugSession) onScopesRequest(request *dap.ScopesRequest) {
	if err := d.checkStopped(); err != nil {
		d.sendError(request, err)
		return
	}
	frame, err := d.handles.getFrame(request.Arguments.FrameId)
	if err != nil {
		d.sendError(request, err)
		return
	}
	scope := api.EvalScope{GoroutineID: frame.goroutineID, Frame: frame.frame}

	args, err := d.client.ListFunctionArgs(d.ctx, scope)
	if err != nil {
		d.sendError(request, err)
		return
	}
	locals, err := d.client.ListLocalVars(d.ctx, scope)
	if err != nil {
		d.sendError(request, err)
		return
	}
	children := append(args.Variables(), locals.Variables()...)
	localScope := &fullyQualifiedVariable{
		Variable: &api.Variable{Name: string(constants.ScopeLocal), Children: children},
		isScope:  true,
		scope:    scope,
	}
	scopes := []dap.Scope{{
		Name:               string(constants.ScopeLocal),
		VariablesReference: d.handles.createVariable(localScope),
	}}

	if globalScope := d.globalScope(frame, scope); globalScope != nil {
		scopes = append(scopes, dap.Scope{
			Name:               string(constants.ScopeGlobal),
			VariablesReference: d.handles.createVariable(globalScope),
		})
	}

	response := &dap.ScopesResponse{}
	response.Response = *protocol.NewResponse(request.Seq, request.Command)
	response.Body.Scopes = scopes
	d.send(response)
}

// globalScope 栈帧所在包的包级变量，获取失败时返回nil
func (d *DebugSession) globalScope(frame *frameHandle, scope api.EvalScope) *fullyQualifiedVariable {
	pkg := packageOf(frame.function)
	if pkg == "" {
		return nil
	}
	result, err := d.client.ListPackageVars(d.ctx, "^"+regexp.QuoteMeta(pkg+"."))
	if err != nil {
		logrus.Warnf("[DebugSession] %s list package vars of %s fail, err = %v", d.id, pkg, err)
		return nil
	}
	globals := result.Variables()
	for i := range globals {
		// 展示时去掉包名
		globals[i].Name = strings.TrimPrefix(globals[i].Name, pkg+".")
	}
	return &fullyQualifiedVariable{
		Variable: &api.Variable{Name: string(constants.ScopeGlobal), Children: globals},
		isScope:  true,
		scope:    scope,
	}
}

func (d *DebugSession) onVariablesRequest(request *dap.VariablesRequest) {
	if err := d.checkStopped(); err != nil {
		d.sendError(request, err)
		return
	}
	v, err := d.handles.getVariable(request.Arguments.VariablesReference)
	if err != nil {
		d.sendError(request, err)
		return
	}
	response := &dap.VariablesResponse{}
	response.Response = *protocol.NewResponse(request.Seq, request.Command)
	response.Body.Variables = d.childrenToDAPVariables(d.ctx, v)
	d.send(response)
}

func (d *DebugSession) onSetVariableRequest(request *dap.SetVariableRequest) {
	if err := d.checkStopped(); err != nil {
		d.sendError(request, err)
		return
	}
	args := request.Arguments
	parent, err := d.handles.getVariable(args.VariablesReference)
	if err != nil {
		d.sendError(request, err)
		return
	}
	expr := ""
	for _, child := range d.childrenToDAPVariables(d.ctx, parent) {
		if child.Name == args.Name {
			expr = child.EvaluateName
			break
		}
	}
	if expr == "" {
		d.sendError(request, fmt.Errorf("%w: can not set variable %s", e.ErrInvalidArguments, args.Name))
		return
	}
	if err = d.client.Set(d.ctx, parent.scope, expr, args.Value); err != nil {
		d.sendError(request, err)
		return
	}
	result, err := d.client.Eval(d.ctx, parent.scope, expr)
	if err != nil {
		d.sendError(request, err)
		return
	}
	v := result.Variable()
	value, ref := d.convertVariable(d.ctx, v, expr, parent.scope)

	response := &dap.SetVariableResponse{}
	response.Response = *protocol.NewResponse(request.Seq, request.Command)
	response.Body.Value = value
	response.Body.Type = v.Type
	response.Body.VariablesReference = ref
	d.send(response)
}

func (d *DebugSession) onEvaluateRequest(request *dap.EvaluateRequest) {
	if err := d.checkStopped(); err != nil {
		d.sendError(request, err)
		return
	}
	args := request.Arguments
	// -1 表示当前协程
	scope := api.EvalScope{GoroutineID: -1}
	if args.FrameId != 0 {
		frame, err := d.handles.getFrame(args.FrameId)
		if err != nil {
			d.sendError(request, err)
			return
		}
		scope = api.EvalScope{GoroutineID: frame.goroutineID, Frame: frame.frame}
	}
	result, err := d.client.Eval(d.ctx, scope, args.Expression)
	if err != nil {
		d.sendError(request, err)
		return
	}
	var opts convertVariableFlags
	if args.Context == "clipboard" {
		opts = showFullValue
	}
	v := result.Variable()
	value, ref := d.convertVariableWithOpts(d.ctx, v, args.Expression, scope, opts)

	response := &dap.EvaluateResponse{}
	response.Response = *protocol.NewResponse(request.Seq, request.Command)
	response.Body.Result = value
	response.Body.Type = v.Type
	response.Body.VariablesReference = ref
	d.send(response)
}

func locationFunction(loc *api.Location) string {
	if loc.Function == nil {
		return "unknown"
	}
	return loc.Function.Name()
}

// packageOf 函数全名中的包路径，例如 github.com/a/b.(*T).M -> github.com/a/b
func packageOf(function string) string {
	slash := strings.LastIndex(function, "/")
	dot := strings.Index(function[slash+1:], ".")
	if dot < 0 {
		return ""
	}
	return function[:slash+1+dot]
}
