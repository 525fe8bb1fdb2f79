package debugger

import (
	"context"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set"
	"github.com/fansqz/go-debug-adapter/constants"
	e "github.com/fansqz/go-debug-adapter/error"
	"github.com/fansqz/go-debug-adapter/protocol"
	"github.com/fansqz/go-debug-adapter/utils"
	"github.com/go-delve/delve/service/api"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// breakpointStore 每个源文件已经设置到dlv的断点
type breakpointStore struct {
	// mu 保证setBreakpoints、setExceptionBreakpoints串行执行
	mu sync.Mutex
	// bySource dlv路径 -> 行号 -> 断点
	bySource map[string]map[int]*api.Breakpoint
	// exceptions 本会话创建的异常断点id，dlv默认的异常断点不在其中
	exceptions mapset.Set
}

func newBreakpointStore() *breakpointStore {
	return &breakpointStore{
		bySource:   make(map[string]map[int]*api.Breakpoint),
		exceptions: mapset.NewSet(),
	}
}

// exceptionBreakpoints dlv内置的异常断点
var exceptionBreakpoints = []api.Breakpoint{
	{ID: constants.UnrecoveredPanicID, Name: constants.UnrecoveredPanicName, FunctionName: constants.UnrecoveredPanicFunction},
	{ID: constants.FatalThrowID, Name: constants.FatalThrowName, FunctionName: constants.FatalThrowFunction},
}

func (d *DebugSession) onSetBreakpointsRequest(request *dap.SetBreakpointsRequest) {
	if d.client == nil || !d.statusManager.Is(utils.Stopped, utils.Running) {
		d.sendError(request, fmt.Errorf("%w: launch or attach first", e.ErrInvalidArguments))
		return
	}
	path := request.Arguments.Source.Path
	if path == "" {
		d.sendError(request, fmt.Errorf("%w: source.path is required", e.ErrInvalidArguments))
		return
	}

	d.breakpoints.mu.Lock()
	defer d.breakpoints.mu.Unlock()

	halted, err := d.haltForUpdate(d.ctx)
	if err != nil {
		d.sendError(request, err)
		return
	}
	breakpoints := d.setBreakpoints(d.ctx, request.Arguments.Source, request.Arguments.Breakpoints)

	response := &dap.SetBreakpointsResponse{}
	response.Response = *protocol.NewResponse(request.Seq, request.Command)
	response.Body.Breakpoints = breakpoints
	d.send(response)
	d.afterUpdate(halted)
}

// setBreakpoints 用请求中的断点替换该文件之前的断点
// 删除不再需要的断点，修改条件变化的断点，再创建新的断点
func (d *DebugSession) setBreakpoints(ctx context.Context, source dap.Source, requested []dap.SourceBreakpoint) []dap.Breakpoint {
	debuggerPath := d.toDebuggerPath(ctx, source.Path)
	existing := d.breakpoints.bySource[debuggerPath]
	if existing == nil {
		existing = make(map[int]*api.Breakpoint)
		d.breakpoints.bySource[debuggerPath] = existing
	}

	wanted := mapset.NewSet()
	for _, bp := range requested {
		wanted.Add(d.toDelveLine(bp.Line))
	}
	for line, bp := range existing {
		if wanted.Contains(line) {
			continue
		}
		if _, err := d.client.ClearBreakpoint(ctx, bp.ID); err != nil {
			logrus.Warnf("[DebugSession] %s clear breakpoint %d fail, err = %v", d.id, bp.ID, err)
		}
		delete(existing, line)
	}

	result := make([]dap.Breakpoint, len(requested))
	for i, want := range requested {
		line := d.toDelveLine(want.Line)
		if got, ok := existing[line]; ok {
			if got.Cond != want.Condition {
				amended := *got
				amended.Cond = want.Condition
				if err := d.client.AmendBreakpoint(ctx, &amended); err != nil {
					result[i] = unverifiedBreakpoint(source, want.Line, err)
					continue
				}
				existing[line] = &amended
			}
			result[i] = d.verifiedBreakpoint(source, existing[line])
			continue
		}
		created, err := d.client.CreateBreakpoint(ctx, &api.Breakpoint{
			File: debuggerPath,
			Line: line,
			Cond: want.Condition,
		})
		if err != nil {
			logrus.Infof("[DebugSession] %s create breakpoint %s:%d fail, err = %v", d.id, debuggerPath, line, err)
			result[i] = unverifiedBreakpoint(source, want.Line, err)
			continue
		}
		bp := created.Breakpoint()
		existing[line] = bp
		result[i] = d.verifiedBreakpoint(source, bp)
	}
	return result
}

func (d *DebugSession) verifiedBreakpoint(source dap.Source, bp *api.Breakpoint) dap.Breakpoint {
	return dap.Breakpoint{
		Id:       bp.ID,
		Verified: true,
		Source:   &dap.Source{Name: source.Name, Path: source.Path},
		Line:     d.toClientLine(bp.Line),
	}
}

// unverifiedBreakpoint dlv拒绝的断点，message为dlv的原始错误
func unverifiedBreakpoint(source dap.Source, line int, err error) dap.Breakpoint {
	return dap.Breakpoint{
		Verified: false,
		Message:  err.Error(),
		Source:   &dap.Source{Name: source.Name, Path: source.Path},
		Line:     line,
	}
}

func (d *DebugSession) onSetExceptionBreakpointsRequest(request *dap.SetExceptionBreakpointsRequest) {
	if d.client == nil || !d.statusManager.Is(utils.Stopped, utils.Running) {
		d.sendError(request, fmt.Errorf("%w: launch or attach first", e.ErrInvalidArguments))
		return
	}
	d.breakpoints.mu.Lock()
	defer d.breakpoints.mu.Unlock()

	halted, err := d.haltForUpdate(d.ctx)
	if err != nil {
		d.sendError(request, err)
		return
	}
	filters := mapset.NewSet()
	for _, filter := range request.Arguments.Filters {
		filters.Add(filter)
	}
	err = d.applyExceptionFilters(d.ctx, filters.Contains(constants.ExceptionFilterAll))

	if err != nil {
		d.sendError(request, err)
	} else {
		response := &dap.SetExceptionBreakpointsResponse{}
		response.Response = *protocol.NewResponse(request.Seq, request.Command)
		d.send(response)
	}
	d.afterUpdate(halted)
}

// applyExceptionFilters enabled时保证异常断点存在，否则删除
// 重新创建的断点id和名称都会变化，所以同时按照函数匹配
func (d *DebugSession) applyExceptionFilters(ctx context.Context, enabled bool) error {
	result, err := d.client.ListBreakpoints(ctx)
	if err != nil {
		return err
	}
	present := make(map[string]*api.Breakpoint)
	for _, bp := range result.Breakpoints() {
		for i := range exceptionBreakpoints {
			if isSameException(bp, &exceptionBreakpoints[i]) {
				present[exceptionBreakpoints[i].Name] = bp
			}
		}
	}

	var panicErr error
	for i := range exceptionBreakpoints {
		special := exceptionBreakpoints[i]
		bp, ok := present[special.Name]
		switch {
		case enabled && !ok:
			// 名称中的 - 不能用于新建的断点，只按照函数创建
			created, err := d.client.CreateBreakpoint(ctx, &api.Breakpoint{FunctionName: special.FunctionName})
			if err != nil {
				logrus.Warnf("[DebugSession] %s create %s fail, err = %v", d.id, special.Name, err)
				// 某些程序中没有runtime.fatalthrow，只有panic断点失败时请求失败
				if special.ID == constants.UnrecoveredPanicID {
					panicErr = fmt.Errorf("create %s breakpoint: %w", special.Name, err)
				}
				continue
			}
			d.breakpoints.exceptions.Add(created.Breakpoint().ID)
		case !enabled && ok:
			if _, err = d.client.ClearBreakpoint(ctx, bp.ID); err != nil {
				logrus.Warnf("[DebugSession] %s clear %s fail, err = %v", d.id, special.Name, err)
				continue
			}
			d.breakpoints.exceptions.Remove(bp.ID)
		}
	}
	return panicErr
}

// clearSessionBreakpoints 删除本会话在dlv中创建的全部断点
// 远程dlv在断开后继续运行，残留的断点会让程序停在没有客户端的位置
func (d *DebugSession) clearSessionBreakpoints(ctx context.Context) {
	d.breakpoints.mu.Lock()
	defer d.breakpoints.mu.Unlock()
	for path, lines := range d.breakpoints.bySource {
		for _, bp := range lines {
			if _, err := d.client.ClearBreakpoint(ctx, bp.ID); err != nil {
				logrus.Warnf("[DebugSession] %s clear breakpoint %d fail, err = %v", d.id, bp.ID, err)
			}
		}
		delete(d.breakpoints.bySource, path)
	}
	for _, id := range d.breakpoints.exceptions.ToSlice() {
		if _, err := d.client.ClearBreakpoint(ctx, id.(int)); err != nil {
			logrus.Warnf("[DebugSession] %s clear exception breakpoint %d fail, err = %v", d.id, id, err)
		}
	}
	d.breakpoints.exceptions.Clear()
}

func isSameException(bp *api.Breakpoint, special *api.Breakpoint) bool {
	return bp.ID == special.ID || bp.Name == special.Name || bp.FunctionName == special.FunctionName
}
