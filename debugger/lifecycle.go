package debugger

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fansqz/go-debug-adapter/constants"
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

// onInitializeRequest content为请求的原始内容，用于判断行号、列号起始值是否设置
func (d *DebugSession) onInitializeRequest(request *dap.InitializeRequest, content []byte) {
	args := request.Arguments
	if args.AdapterID == "" {
		d.sendError(request, fmt.Errorf("%w: the adapterID attribute is missing", e.ErrInvalidArguments))
		return
	}
	if args.PathFormat != "" && args.PathFormat != "path" {
		d.sendError(request, fmt.Errorf("%w: unsupported pathFormat %q", e.ErrInvalidArguments, args.PathFormat))
		return
	}
	if !d.statusManager.Transition(utils.Initialized, utils.Uninitialized) {
		d.sendError(request, e.ErrAlreadyInitialized)
		return
	}
	logrus.Infof("[DebugSession] %s initialize, client = %s", d.id, args.ClientID)
	d.linesStartAt1, d.columnsStartAt1 = protocol.ParseLineBase(content)

	response := &dap.InitializeResponse{}
	response.Response = *protocol.NewResponse(request.Seq, request.Command)
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsConditionalBreakpoints = true
	response.Body.SupportsSetVariable = true
	response.Body.SupportsEvaluateForHovers = true
	response.Body.SupportsTerminateRequest = true
	response.Body.ExceptionBreakpointFilters = []dap.ExceptionBreakpointsFilter{
		{Filter: constants.ExceptionFilterAll, Label: "All panics", Default: false},
	}
	// initialized事件在launch/attach完成以后发送，保证断点在程序运行之前设置
	d.send(response)
}

func (d *DebugSession) onLaunchRequest(request *dap.LaunchRequest) {
	args, err := protocol.ParseLaunchArguments(request.Arguments)
	if err != nil {
		d.sendError(request, err)
		return
	}
	if args.NoDebug {
		d.sendError(request, e.ErrNoDebugNotSupported)
		return
	}
	if !d.statusManager.Transition(utils.Launching, utils.Initialized) {
		d.sendError(request, e.ErrAlreadyStarted)
		return
	}
	applyTrace(args.Trace)
	logrus.Infof("[DebugSession] %s launch %s, mode = %s", d.id, args.Program, args.Mode)

	cfg := d.launchConfig(args)
	ctx, cancel := context.WithTimeout(d.ctx, d.opts.Config.LaunchTimeout+5*time.Second)
	defer cancel()
	process, err := d.opts.Launch(ctx, cfg, d.forwardOutput)
	if err != nil {
		d.statusManager.Set(utils.Initialized)
		d.send(protocol.NewErrorResponseWithOpts(&request.Request, protocol.ErrorResponseID, "Failed to launch", err.Error(), true))
		return
	}
	client, err := d.opts.Dial(ctx, process.Addr, cfg.APIVersion)
	if err != nil {
		_ = process.Kill()
		d.statusManager.Set(utils.Initialized)
		d.send(protocol.NewErrorResponseWithOpts(&request.Request, protocol.ErrorResponseID, "Failed to launch", err.Error(), true))
		return
	}

	d.client = client
	d.process = process
	d.isLaunch = true
	d.stopOnEntry = args.StopOnEntry
	d.substitutePath = args.SubstitutePath
	d.resolver = d.newResolver(args.Cwd)
	state, err := d.afterConnect(ctx)
	if err != nil {
		d.closeBackend(ctx, true)
		d.resetBackend()
		d.sendError(request, err)
		return
	}

	response := &dap.LaunchResponse{}
	response.Response = *protocol.NewResponse(request.Seq, request.Command)
	d.send(response)
	d.startConfiguration(state)
}

// launchConfig launch参数转为dlv的启动参数
func (d *DebugSession) launchConfig(args *protocol.LaunchArguments) *delve.LaunchConfig {
	cfg := &delve.LaunchConfig{
		DlvPath:    d.opts.Config.DlvToolPath,
		Program:    args.Program,
		Args:       args.Args,
		Cwd:        args.Cwd,
		Env:        args.EnvList(),
		BuildFlags: args.BuildFlags,
		Output:     args.Output,
		APIVersion: d.apiVersion(args.APIVersion),
		Timeout:    d.opts.Config.LaunchTimeout,
	}
	if args.DlvToolPath != "" {
		cfg.DlvPath = args.DlvToolPath
	}

	mode := args.Mode
	if mode == constants.ModeAuto {
		mode = constants.ModeDebug
		if strings.HasSuffix(args.Program, "_test.go") {
			mode = constants.ModeTest
		}
	}
	switch mode {
	case constants.ModeTest, constants.ModeTestPackage:
		cfg.Mode = "test"
		// dlv test的参数是包目录
		if strings.HasSuffix(args.Program, ".go") {
			cfg.Program = filepath.Dir(args.Program)
		}
	case constants.ModeExec:
		cfg.Mode = "exec"
	default:
		cfg.Mode = "debug"
	}
	if cfg.Cwd == "" {
		cfg.Cwd = args.Program
		if strings.HasSuffix(args.Program, ".go") || mode == constants.ModeExec {
			cfg.Cwd = filepath.Dir(args.Program)
		}
	}
	if cfg.Output == "" && cfg.Mode != "exec" {
		cfg.Output = filepath.Join(os.TempDir(), "__debug_bin_"+utils.GetUUID())
	}
	return cfg
}

func (d *DebugSession) onAttachRequest(request *dap.AttachRequest) {
	args, err := protocol.ParseAttachArguments(request.Arguments)
	if err != nil {
		d.sendError(request, err)
		return
	}
	if !d.statusManager.Transition(utils.Attaching, utils.Initialized) {
		d.sendError(request, e.ErrAlreadyStarted)
		return
	}
	applyTrace(args.Trace)
	apiVersion := d.apiVersion(args.APIVersion)
	ctx, cancel := context.WithTimeout(d.ctx, d.opts.Config.LaunchTimeout+5*time.Second)
	defer cancel()

	var client *delve.Client
	switch args.Mode {
	case constants.AttachRemote:
		addr := net.JoinHostPort(args.Host, strconv.Itoa(args.Port))
		logrus.Infof("[DebugSession] %s attach remote %s", d.id, addr)
		client, err = d.opts.Dial(ctx, addr, apiVersion)
		d.isRemote = true
	default:
		logrus.Infof("[DebugSession] %s attach local process %d", d.id, args.ProcessID)
		cfg := &delve.LaunchConfig{
			DlvPath:    d.opts.Config.DlvToolPath,
			Mode:       "attach",
			ProcessID:  args.ProcessID,
			APIVersion: apiVersion,
			Timeout:    d.opts.Config.LaunchTimeout,
		}
		if args.DlvToolPath != "" {
			cfg.DlvPath = args.DlvToolPath
		}
		var process *delve.Process
		process, err = d.opts.Launch(ctx, cfg, d.forwardOutput)
		if err == nil {
			d.process = process
			client, err = d.opts.Dial(ctx, process.Addr, apiVersion)
			if err != nil {
				_ = process.Kill()
				d.process = nil
			}
		}
	}
	if err != nil {
		d.isRemote = false
		d.statusManager.Set(utils.Initialized)
		d.send(protocol.NewErrorResponseWithOpts(&request.Request, protocol.ErrorResponseID, "Failed to attach", err.Error(), true))
		return
	}

	d.client = client
	d.stopOnEntry = args.StopOnEntry
	d.substitutePath = args.SubstitutePath
	d.resolver = d.newResolver(args.Cwd)
	state, err := d.afterConnect(ctx)
	if err != nil {
		d.closeBackend(ctx, false)
		d.resetBackend()
		d.sendError(request, err)
		return
	}
	if d.isRemote && !state.Exited {
		// 远程dlv返回的路径无法直接在本地使用，提前构建索引
		gosync.Go(d.ctx, func(ctx context.Context) {
			if err := d.ensureIndex(ctx); err != nil {
				logrus.Warnf("[DebugSession] %s build remote index fail, err = %v", d.id, err)
			}
		})
	}

	response := &dap.AttachResponse{}
	response.Response = *protocol.NewResponse(request.Seq, request.Command)
	d.send(response)
	d.startConfiguration(state)
}

func (d *DebugSession) apiVersion(requested int) int {
	if requested != 0 {
		return requested
	}
	return d.opts.Config.APIVersion
}

func (d *DebugSession) newResolver(workspace string) *pathmap.Resolver {
	env := pathmap.Env{
		GOPATH:          d.opts.Config.GOPATH,
		GOROOT:          d.opts.Config.GOROOT,
		WorkspaceFolder: workspace,
	}
	return pathmap.NewResolver(d.index, env,
		pathmap.WithFileExists(d.opts.FileExists),
		pathmap.WithSeparator(d.opts.Separator))
}

// afterConnect 根据dlv当前的状态设置会话状态，并开始监听连接
func (d *DebugSession) afterConnect(ctx context.Context) (*api.DebuggerState, error) {
	result, err := d.client.GetState(ctx, true)
	if err != nil {
		return nil, err
	}
	d.watchConnection()
	state := result.State()
	switch {
	case state.Exited:
		// 程序已经退出，不能再continue
		d.statusManager.Set(utils.Terminated)
	case state.Running:
		// dlv以--continue启动时程序已经在运行，等待其停止
		d.statusManager.Set(utils.Running)
		d.waitRunning()
	default:
		d.statusManager.Set(utils.Stopped)
	}
	return state, nil
}

// startConfiguration launch/attach响应之后通知客户端开始设置断点
// dlv中的程序已经退出时直接结束会话
func (d *DebugSession) startConfiguration(state *api.DebuggerState) {
	if state.Exited {
		logrus.Infof("[DebugSession] %s program already exited with %d", d.id, state.ExitStatus)
		d.send(protocol.NewExitedEvent(state.ExitStatus))
		d.send(protocol.NewTerminatedEvent())
		return
	}
	d.send(protocol.NewInitializedEvent())
}

func (d *DebugSession) onConfigurationDoneRequest(request *dap.ConfigurationDoneRequest) {
	if !d.statusManager.Is(utils.Stopped, utils.Running) {
		d.sendError(request, fmt.Errorf("%w: launch or attach first", e.ErrInvalidArguments))
		return
	}
	response := &dap.ConfigurationDoneResponse{}
	response.Response = *protocol.NewResponse(request.Seq, request.Command)
	if d.statusManager.Is(utils.Running) {
		d.send(response)
		return
	}
	if d.stopOnEntry {
		d.send(response)
		d.send(protocol.NewStoppedEvent(constants.EntryStopped, d.currentThreadID(d.ctx), nil))
		return
	}
	d.statusManager.Set(utils.Running)
	d.send(response)
	d.resume(api.Continue)
}

func (d *DebugSession) onDisconnectRequest(request *dap.DisconnectRequest) {
	logrus.Infof("[DebugSession] %s disconnect", d.id)
	terminate := d.isLaunch
	if request.Arguments != nil && !d.isRemote && !d.isLaunch {
		terminate = request.Arguments.TerminateDebuggee
	}
	d.closeBackend(d.ctx, terminate)
	d.statusManager.Set(utils.Disconnected)
	response := &dap.DisconnectResponse{}
	response.Response = *protocol.NewResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onTerminateRequest(request *dap.TerminateRequest) {
	if d.isRemote {
		d.sendError(request, fmt.Errorf("terminate is not supported for remote attach, use disconnect"))
		return
	}
	if d.client == nil {
		d.sendError(request, fmt.Errorf("%w: launch or attach first", e.ErrInvalidArguments))
		return
	}
	logrus.Infof("[DebugSession] %s terminate", d.id)
	d.closeBackend(d.ctx, true)
	d.statusManager.Set(utils.Terminated)
	response := &dap.TerminateResponse{}
	response.Response = *protocol.NewResponse(request.Seq, request.Command)
	d.send(response)
	d.send(protocol.NewTerminatedEvent())
}

// closeBackend 断开与dlv的连接
// 本地启动：暂停程序，Detach并结束目标程序，再结束整个dlv进程树
// 本地attach：Detach，kill决定是否结束目标程序，再结束dlv
// 远程attach：暂停程序，删除本会话的断点，恢复运行后只关闭连接，不调用Detach
func (d *DebugSession) closeBackend(ctx context.Context, kill bool) {
	if d.client == nil || !d.closing.CompareAndSwap(false, true) {
		return
	}
	client := d.client
	ctx, cancel := context.WithTimeout(ctx, d.opts.Config.DisconnectTimeout)
	defer cancel()
	if d.statusManager.Is(utils.Running) {
		if _, err := d.haltQuietly(ctx); err != nil {
			logrus.Warnf("[DebugSession] %s halt before closing fail, err = %v", d.id, err)
		}
	}

	if d.isRemote {
		// 同一个dlv之后还可以再次attach，不能留下断点
		d.clearSessionBreakpoints(ctx)
		if d.statusManager.Is(utils.Stopped) {
			logrus.Infof("[DebugSession] %s resume remote program before closing", d.id)
			client.ContinueNoWait()
		}
		_ = client.Close()
		return
	}

	if err := client.Detach(ctx, kill); err != nil {
		logrus.Warnf("[DebugSession] %s detach fail, err = %v", d.id, err)
	}
	_ = client.Close()
	if err := d.process.Kill(); err != nil {
		logrus.Warnf("[DebugSession] %s kill dlv fail, err = %v", d.id, err)
	}
}

// resetBackend launch/attach失败后回到initialized，允许客户端重试
func (d *DebugSession) resetBackend() {
	d.client = nil
	d.process = nil
	d.isLaunch = false
	d.isRemote = false
	d.closing.Store(false)
	d.statusManager.Set(utils.Initialized)
}

// forwardOutput dlv以及目标程序的输出转为output事件
func (d *DebugSession) forwardOutput(category string, output string) {
	d.send(protocol.NewOutputEvent(constants.OutputCategory(category), output))
}

// applyTrace 根据trace调整日志级别
func applyTrace(trace constants.TraceLevel) {
	switch trace {
	case constants.TraceVerbose:
		logrus.SetLevel(logrus.DebugLevel)
	case constants.TraceLog:
		logrus.SetLevel(logrus.InfoLevel)
	case constants.TraceError:
		logrus.SetLevel(logrus.ErrorLevel)
	}
}
