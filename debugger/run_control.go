package debugger

import (
	"context"
	"errors"
	"fmt"

	"github.com/fansqz/go-debug-adapter/constants"
	e "github.com/fansqz/go-debug-adapter/error"
	"github.com/fansqz/go-debug-adapter/protocol"
	"github.com/fansqz/go-debug-adapter/utils"
	"github.com/fansqz/go-debug-adapter/utils/gosync"
	"github.com/go-delve/delve/service/api"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

func (d *DebugSession) onContinueRequest(request *dap.ContinueRequest) {
	if err := d.checkStopped(); err != nil {
		d.sendError(request, err)
		return
	}
	d.statusManager.Set(utils.Running)
	response := &dap.ContinueResponse{}
	response.Response = *protocol.NewResponse(request.Seq, request.Command)
	response.Body.AllThreadsContinued = true
	d.send(response)
	d.resume(api.Continue)
}

func (d *DebugSession) onNextRequest(request *dap.NextRequest) {
	if err := d.checkStopped(); err != nil {
		d.sendError(request, err)
		return
	}
	d.statusManager.Set(utils.Running)
	response := &dap.NextResponse{}
	response.Response = *protocol.NewResponse(request.Seq, request.Command)
	d.send(response)
	d.resume(api.Next)
}

func (d *DebugSession) onStepInRequest(request *dap.StepInRequest) {
	if err := d.checkStopped(); err != nil {
		d.sendError(request, err)
		return
	}
	d.statusManager.Set(utils.Running)
	response := &dap.StepInResponse{}
	response.Response = *protocol.NewResponse(request.Seq, request.Command)
	d.send(response)
	d.resume(api.Step)
}

func (d *DebugSession) onStepOutRequest(request *dap.StepOutRequest) {
	if err := d.checkStopped(); err != nil {
		d.sendError(request, err)
		return
	}
	d.statusManager.Set(utils.Running)
	response := &dap.StepOutResponse{}
	response.Response = *protocol.NewResponse(request.Seq, request.Command)
	d.send(response)
	d.resume(api.StepOut)
}

func (d *DebugSession) onPauseRequest(request *dap.PauseRequest) {
	response := &dap.PauseResponse{}
	response.Response = *protocol.NewResponse(request.Seq, request.Command)
	if !d.statusManager.Is(utils.Running) {
		// 已经暂停
		d.send(response)
		return
	}
	d.pauseRequested.Store(true)
	d.client.Halt()
	d.send(response)
}

func (d *DebugSession) checkStopped() error {
	if d.client == nil {
		return fmt.Errorf("%w: launch or attach first", e.ErrInvalidArguments)
	}
	if !d.statusManager.Is(utils.Stopped) {
		return e.ErrProgramIsRunningOptionFail
	}
	return nil
}

// resume 异步执行dlv命令，调用前状态已经设置为running
// 命令返回时发送stopped或者terminated事件，之前的栈帧、变量引用全部失效
func (d *DebugSession) resume(command string) {
	d.handles.reset()
	done := make(chan *api.DebuggerState, 1)
	d.runLock.Lock()
	d.commandDone = done
	d.runLock.Unlock()

	gosync.Go(d.ctx, func(ctx context.Context) {
		logrus.Infof("[DebugSession] %s command %s", d.id, command)
		result, err := d.client.Command(ctx, &api.DebuggerCommand{Name: command})
		var state *api.DebuggerState
		if err == nil {
			state = result.State()
		}
		d.finishCommand(command, state, err)
		done <- state
	})
}

// waitRunning attach时程序已经在运行，使用阻塞的State等待程序停止
func (d *DebugSession) waitRunning() {
	d.handles.reset()
	done := make(chan *api.DebuggerState, 1)
	d.runLock.Lock()
	d.commandDone = done
	d.runLock.Unlock()

	gosync.Go(d.ctx, func(ctx context.Context) {
		result, err := d.client.GetState(ctx, false)
		var state *api.DebuggerState
		if err == nil {
			state = result.State()
		}
		d.finishCommand(api.Continue, state, err)
		done <- state
	})
}

// finishCommand 在通知等待者之前更新状态，保证等待者看到的是最终状态
func (d *DebugSession) finishCommand(command string, state *api.DebuggerState, err error) {
	d.runLock.Lock()
	d.commandDone = nil
	d.runLock.Unlock()

	if err != nil {
		if d.closing.Load() || errors.Is(err, context.Canceled) {
			return
		}
		if errors.Is(err, e.ErrBackendClosed) {
			// 由watchConnection处理
			return
		}
		logrus.Errorf("[DebugSession] %s command %s fail, err = %v", d.id, command, err)
		d.skipStopEventOnce.Store(false)
		d.pauseRequested.Store(false)
		d.statusManager.Set(utils.Stopped)
		d.send(protocol.NewOutputEvent(constants.OutputStderr, err.Error()+"\n"))
		d.send(protocol.NewStoppedEvent(constants.PauseStopped, d.currentThreadID(d.ctx), nil))
		return
	}
	d.handleStop(command, state)
}

// handleStop 根据dlv返回的状态发送事件
func (d *DebugSession) handleStop(command string, state *api.DebuggerState) {
	if state.Exited {
		d.skipStopEventOnce.Store(false)
		if d.statusManager.Transition(utils.Terminated, utils.Running, utils.Stopped) {
			logrus.Infof("[DebugSession] %s program exited with %d", d.id, state.ExitStatus)
			d.send(protocol.NewExitedEvent(state.ExitStatus))
			d.send(protocol.NewTerminatedEvent())
		}
		return
	}
	d.statusManager.Set(utils.Stopped)
	if d.skipStopEventOnce.CompareAndSwap(true, false) {
		// 为了修改断点而暂停，不通知客户端
		d.pauseRequested.Store(false)
		return
	}
	d.sendStopped(command, state)
}

// sendStopped 根据停止位置以及执行的命令确定停止原因
func (d *DebugSession) sendStopped(command string, state *api.DebuggerState) {
	threadID := goroutineOf(state)
	reason := constants.PauseStopped
	var hitIDs []int
	switch {
	case hitBreakpoint(state):
		bp := state.CurrentThread.Breakpoint
		if isExceptionBreakpoint(bp) {
			reason = constants.PanicStopped
		} else {
			reason = constants.BreakpointStopped
			hitIDs = []int{bp.ID}
		}
	case d.pauseRequested.Load():
		reason = constants.PauseStopped
	case command == api.Next || command == api.Step || command == api.StepOut:
		reason = constants.StepStopped
	}
	d.pauseRequested.Store(false)
	logrus.Infof("[DebugSession] %s stopped, reason = %s, goroutine = %d", d.id, reason, threadID)
	d.send(protocol.NewStoppedEvent(reason, threadID, hitIDs))
}

// haltQuietly 暂停正在运行的程序，等待正在执行的命令返回，这次停止不通知客户端
// 等待期间每隔HaltInterval重复发送halt，收到停止通知后不再发送
// 没有正在执行的命令时返回nil，命令自己的停止事件照常发送
func (d *DebugSession) haltQuietly(ctx context.Context) (*api.DebuggerState, error) {
	// 与finishCommand使用同一把锁，保证标记只会被这一次命令的handleStop消费
	d.runLock.Lock()
	done := d.commandDone
	if done != nil {
		d.skipStopEventOnce.Store(true)
	}
	d.runLock.Unlock()
	if done == nil {
		return nil, nil
	}
	state, err := gosync.PollUntil(ctx, d.opts.HaltInterval, d.opts.Config.DisconnectTimeout,
		func(ctx context.Context) { d.client.Halt() }, done)
	if err != nil {
		d.skipStopEventOnce.Store(false)
	}
	return state, err
}

// haltForUpdate 程序运行时暂停程序，返回暂停时的状态，程序没有在运行时返回nil
func (d *DebugSession) haltForUpdate(ctx context.Context) (*api.DebuggerState, error) {
	if !d.statusManager.Is(utils.Running) {
		return nil, nil
	}
	logrus.Infof("[DebugSession] %s halt to update breakpoints", d.id)
	return d.haltQuietly(ctx)
}

// afterUpdate 断点修改完成以后恢复运行
// 暂停之前程序已经命中断点或者panic时，不再恢复，通知客户端这次停止
func (d *DebugSession) afterUpdate(halted *api.DebuggerState) {
	switch {
	case halted == nil || halted.Exited:
	case hitBreakpoint(halted):
		logrus.Infof("[DebugSession] %s breakpoint hit before halt", d.id)
		d.sendStopped(api.Continue, halted)
	default:
		d.statusManager.Set(utils.Running)
		d.resume(api.Continue)
	}
}

// currentThreadID 当前选中的协程，找不到时返回1
func (d *DebugSession) currentThreadID(ctx context.Context) int {
	if d.client == nil {
		return 1
	}
	result, err := d.client.GetState(ctx, true)
	if err != nil {
		return 1
	}
	return goroutineOf(result.State())
}

func goroutineOf(state *api.DebuggerState) int {
	if state == nil {
		return 1
	}
	if state.SelectedGoroutine != nil && state.SelectedGoroutine.ID > 0 {
		return int(state.SelectedGoroutine.ID)
	}
	if state.CurrentThread != nil && state.CurrentThread.GoroutineID > 0 {
		return int(state.CurrentThread.GoroutineID)
	}
	return 1
}

func hitBreakpoint(state *api.DebuggerState) bool {
	return state.CurrentThread != nil && state.CurrentThread.Breakpoint != nil
}

func isExceptionBreakpoint(bp *api.Breakpoint) bool {
	for i := range exceptionBreakpoints {
		if isSameException(bp, &exceptionBreakpoints[i]) {
			return true
		}
	}
	return false
}
