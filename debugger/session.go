package debugger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fansqz/go-debug-adapter/config"
	"github.com/fansqz/go-debug-adapter/debugger/delve"
	"github.com/fansqz/go-debug-adapter/debugger/pathmap"
	e "github.com/fansqz/go-debug-adapter/error"
	"github.com/fansqz/go-debug-adapter/protocol"
	"github.com/fansqz/go-debug-adapter/utils"
	"github.com/fansqz/go-debug-adapter/utils/gosync"
	"github.com/go-delve/delve/service/api"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// LaunchFunc 启动dlv
type LaunchFunc func(ctx context.Context, cfg *delve.LaunchConfig, callback delve.OutputCallback) (*delve.Process, error)

// DialFunc 连接dlv
type DialFunc func(ctx context.Context, addr string, apiVersion int) (*delve.Client, error)

// Options 会话的依赖，全部通过构造函数传入
type Options struct {
	Config *config.Config
	// Launch 默认为delve.Launch
	Launch LaunchFunc
	// Dial 默认为delve.Dial
	Dial DialFunc
	// FileExists 路径推断时检查本地文件是否存在，默认为pathmap.FileExists
	FileExists func(string) bool
	// Separator 本地路径分隔符
	Separator string
	// HaltInterval 暂停程序时重复发送halt的间隔
	HaltInterval time.Duration
}

func (o *Options) withDefaults() *Options {
	opts := *o
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Launch == nil {
		opts.Launch = delve.Launch
	}
	if opts.Dial == nil {
		opts.Dial = delve.Dial
	}
	if opts.FileExists == nil {
		opts.FileExists = pathmap.FileExists
	}
	if opts.Separator == "" {
		opts.Separator = string(filepath.Separator)
	}
	if opts.HaltInterval <= 0 {
		opts.HaltInterval = time.Second
	}
	return &opts
}

// DebugSession 一个客户端连接对应的调试会话
type DebugSession struct {
	id   string
	opts *Options

	ctx    context.Context
	cancel context.CancelFunc

	// rw is used to read requests and write events/responses
	rw *bufio.ReadWriter

	// sendQueue is used to capture messages from multiple goroutines
	// while writing them to the client connection from a single goroutine.
	sendQueue chan dap.Message
	sendWg    sync.WaitGroup
	done      chan struct{}

	statusManager *utils.StatusManager

	// 客户端的行号、列号是否从1开始，initialize时记录
	linesStartAt1   bool
	columnsStartAt1 bool

	// 以下字段在launch/attach成功后设置，之后不再修改
	client         *delve.Client
	process        *delve.Process
	isLaunch       bool
	isRemote       bool
	stopOnEntry    bool
	substitutePath []protocol.SubstitutePathRule
	index          *pathmap.RemoteIndex
	resolver       *pathmap.Resolver

	// remotePathCache 远程路径 -> 本地路径
	remotePathCache sync.Map

	breakpoints *breakpointStore
	handles     *handlesMap

	// commandDone 正在执行的Command结束时收到停止时的状态
	runLock           sync.Mutex
	commandDone       chan *api.DebuggerState
	pauseRequested    atomic.Bool
	skipStopEventOnce atomic.Bool
	// closing 主动关闭连接时设置，连接断开时不再发送terminated
	closing atomic.Bool
}

// NewDebugSession 创建调试会话，rw一般是客户端的tcp连接或者标准输入输出
func NewDebugSession(rw io.ReadWriter, opts *Options) *DebugSession {
	if opts == nil {
		opts = &Options{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DebugSession{
		id:              utils.GetShortID(),
		opts:            opts.withDefaults(),
		ctx:             ctx,
		cancel:          cancel,
		rw:              bufio.NewReadWriter(bufio.NewReader(rw), bufio.NewWriter(rw)),
		sendQueue:       make(chan dap.Message, 64),
		done:            make(chan struct{}),
		statusManager:   utils.NewStatusManager(),
		linesStartAt1:   true,
		columnsStartAt1: true,
		index:           pathmap.NewRemoteIndex(),
		breakpoints:     newBreakpointStore(),
		handles:         newHandlesMap(),
	}
}

// Serve 循环读取请求，直到连接关闭
// 请求按照到达顺序依次处理，continue、step等命令的结果通过事件异步返回
func (d *DebugSession) Serve() error {
	logrus.Infof("[DebugSession] %s serve", d.id)
	d.sendWg.Add(1)
	gosync.Go(d.ctx, func(ctx context.Context) {
		defer d.sendWg.Done()
		d.sendFromQueue()
	})
	defer d.shutdown()

	for {
		content, err := dap.ReadBaseMessage(d.rw.Reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				logrus.Infof("[DebugSession] %s no more data to read", d.id)
				return nil
			}
			return err
		}
		request, err := dap.DecodeProtocolMessage(content)
		if err != nil {
			var fieldErr *dap.DecodeProtocolMessageFieldError
			if errors.As(err, &fieldErr) {
				logrus.Warnf("[DebugSession] %s decode fail, err = %v", d.id, err)
				command := ""
				if fieldErr.FieldName == "command" {
					command = fieldErr.FieldValue
				}
				d.send(protocol.NewErrorResponse(fieldErr.Seq, command, err.Error()))
				continue
			}
			return err
		}
		d.dispatchRequest(request, content)
	}
}

// shutdown 客户端断开时清理dlv
func (d *DebugSession) shutdown() {
	if !d.statusManager.Is(utils.Disconnected) {
		d.closeBackend(context.Background(), false)
		d.statusManager.Set(utils.Disconnected)
	}
	d.cancel()
	close(d.done)
	d.sendWg.Wait()
	logrus.Infof("[DebugSession] %s closed", d.id)
}

// sendFromQueue 唯一写连接的协程
func (d *DebugSession) sendFromQueue() {
	for {
		select {
		case message := <-d.sendQueue:
			d.write(message)
		case <-d.done:
			// 发送剩余的消息
			for {
				select {
				case message := <-d.sendQueue:
					d.write(message)
				default:
					return
				}
			}
		}
	}
}

func (d *DebugSession) write(message dap.Message) {
	if err := dap.WriteProtocolMessage(d.rw.Writer, message); err != nil {
		logrus.Errorf("[DebugSession] %s write fail, err = %v", d.id, err)
		return
	}
	if err := d.rw.Flush(); err != nil {
		logrus.Errorf("[DebugSession] %s flush fail, err = %v", d.id, err)
	}
}

// send Message响应给客户端
func (d *DebugSession) send(message dap.Message) {
	select {
	case d.sendQueue <- message:
	case <-d.done:
	}
}

func (d *DebugSession) dispatchRequest(request dap.Message, content []byte) {
	if err := d.checkStatus(request); err != nil {
		d.sendError(request, err)
		return
	}
	switch request := request.(type) {
	case *dap.InitializeRequest:
		d.onInitializeRequest(request, content)
	case *dap.LaunchRequest:
		d.onLaunchRequest(request)
	case *dap.AttachRequest:
		d.onAttachRequest(request)
	case *dap.DisconnectRequest:
		d.onDisconnectRequest(request)
	case *dap.TerminateRequest:
		d.onTerminateRequest(request)
	case *dap.SetBreakpointsRequest:
		d.onSetBreakpointsRequest(request)
	case *dap.SetExceptionBreakpointsRequest:
		d.onSetExceptionBreakpointsRequest(request)
	case *dap.ConfigurationDoneRequest:
		d.onConfigurationDoneRequest(request)
	case *dap.ContinueRequest:
		d.onContinueRequest(request)
	case *dap.NextRequest:
		d.onNextRequest(request)
	case *dap.StepInRequest:
		d.onStepInRequest(request)
	case *dap.StepOutRequest:
		d.onStepOutRequest(request)
	case *dap.PauseRequest:
		d.onPauseRequest(request)
	case *dap.ThreadsRequest:
		d.onThreadsRequest(request)
	case *dap.StackTraceRequest:
		d.onStackTraceRequest(request)
	case *dap.ScopesRequest:
		d.onScopesRequest(request)
	case *dap.VariablesRequest:
		d.onVariablesRequest(request)
	case *dap.SetVariableRequest:
		d.onSetVariableRequest(request)
	case *dap.EvaluateRequest:
		d.onEvaluateRequest(request)
	default:
		if req, ok := request.(dap.RequestMessage); ok {
			r := req.GetRequest()
			d.send(protocol.NewErrorResponse(r.Seq, r.Command, fmt.Sprintf("%s is not yet supported", r.Command)))
			return
		}
		logrus.Warnf("[DebugSession] %s unable to process %#v", d.id, request)
	}
}

// checkStatus 根据会话状态判断请求是否可以处理
func (d *DebugSession) checkStatus(request dap.Message) error {
	switch d.statusManager.Get() {
	case utils.Disconnected:
		return e.ErrStaleSession
	case utils.Terminated:
		if _, ok := request.(*dap.DisconnectRequest); !ok {
			return fmt.Errorf("%w: %w", e.ErrStaleSession, e.ErrSessionTerminated)
		}
	case utils.Uninitialized:
		if _, ok := request.(*dap.InitializeRequest); !ok {
			return e.ErrSessionNotInitialized
		}
	}
	return nil
}

// sendError 请求失败，错误信息原样返回给客户端
func (d *DebugSession) sendError(request dap.Message, err error) {
	req, ok := request.(dap.RequestMessage)
	if !ok {
		return
	}
	r := req.GetRequest()
	logrus.Warnf("[DebugSession] %s %s fail, err = %v", d.id, r.Command, err)
	d.send(protocol.NewErrorResponse(r.Seq, r.Command, err.Error()))
}

// watchConnection 与dlv的连接断开时，会话直接进入terminated，不会重连
func (d *DebugSession) watchConnection() {
	client := d.client
	gosync.Go(d.ctx, func(ctx context.Context) {
		select {
		case <-client.Done():
		case <-ctx.Done():
			return
		}
		if d.closing.Load() {
			return
		}
		if d.statusManager.Transition(utils.Terminated, utils.Running, utils.Stopped) {
			logrus.Warnf("[DebugSession] %s connection to dlv lost", d.id)
			d.send(protocol.NewTerminatedEvent())
		}
	})
}
