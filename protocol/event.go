package protocol

import (
	"github.com/fansqz/go-debug-adapter/constants"
	"github.com/google/go-dap"
)

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}

// NewInitializedEvent 通知客户端可以开始设置断点
func NewInitializedEvent() *dap.InitializedEvent {
	return &dap.InitializedEvent{Event: *newEvent("initialized")}
}

// NewStoppedEvent
// 该event表明，由于某些原因，被调试进程的执行已经停止。
func NewStoppedEvent(reason constants.StoppedReasonType, threadID int, hitBreakpointIDs []int) *dap.StoppedEvent {
	e := &dap.StoppedEvent{Event: *newEvent("stopped")}
	e.Body.Reason = string(reason)
	e.Body.ThreadId = threadID
	e.Body.AllThreadsStopped = true
	e.Body.HitBreakpointIds = hitBreakpointIDs
	return e
}

// NewOutputEvent 该事件表明目标已经产生了一些输出。
func NewOutputEvent(category constants.OutputCategory, output string) *dap.OutputEvent {
	e := &dap.OutputEvent{Event: *newEvent("output")}
	e.Body.Category = string(category)
	e.Body.Output = output
	return e
}

// NewExitedEvent 被调试程序退出
func NewExitedEvent(code int) *dap.ExitedEvent {
	e := &dap.ExitedEvent{Event: *newEvent("exited")}
	e.Body.ExitCode = code
	return e
}

// NewTerminatedEvent 调试结束
func NewTerminatedEvent() *dap.TerminatedEvent {
	return &dap.TerminatedEvent{Event: *newEvent("terminated")}
}
