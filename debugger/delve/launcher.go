package delve

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	e "github.com/fansqz/go-debug-adapter/error"
	"github.com/fansqz/go-debug-adapter/utils"
	"github.com/fansqz/go-debug-adapter/utils/gosync"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// readyPrefix dlv headless启动完成后输出的内容
const readyPrefix = "API server listening at:"

const defaultLaunchTimeout = 30 * time.Second

// LaunchConfig 启动dlv headless的参数
type LaunchConfig struct {
	DlvPath string
	// Mode debug、test、exec、attach
	Mode       string
	Program    string
	ProcessID  int
	Args       []string
	Cwd        string
	Env        []string
	BuildFlags string
	Output     string
	APIVersion int
	// Timeout 等待dlv输出监听地址的时间
	Timeout time.Duration
}

// OutputCallback dlv以及目标程序的输出
type OutputCallback func(category string, output string)

// BuildArgs 生成dlv的命令行参数
func (l *LaunchConfig) BuildArgs(listen string) []string {
	var args []string
	switch l.Mode {
	case "attach":
		args = append(args, "attach", strconv.Itoa(l.ProcessID))
	default:
		args = append(args, l.Mode)
		if l.Program != "" {
			args = append(args, l.Program)
		}
	}
	args = append(args,
		"--headless=true",
		"--listen="+listen,
		"--api-version="+strconv.Itoa(l.apiVersion()))
	if l.Cwd != "" && l.Mode != "attach" {
		args = append(args, "--wd="+l.Cwd)
	}
	if l.BuildFlags != "" && (l.Mode == "debug" || l.Mode == "test") {
		args = append(args, "--build-flags="+l.BuildFlags)
	}
	if l.Output != "" && (l.Mode == "debug" || l.Mode == "test") {
		args = append(args, "--output="+l.Output)
	}
	if len(l.Args) > 0 && l.Mode != "attach" {
		args = append(args, "--")
		args = append(args, l.Args...)
	}
	return args
}

func (l *LaunchConfig) apiVersion() int {
	if l.APIVersion == 1 {
		return 1
	}
	return 2
}

// Process 本地启动的dlv进程
type Process struct {
	// Addr dlv监听的地址
	Addr string

	cmd      *exec.Cmd
	output   io.ReadCloser
	exited   chan struct{}
	killOnce sync.Once
	killErr  error
}

// Launch 启动dlv并等待其开始监听
func Launch(ctx context.Context, cfg *LaunchConfig, callback OutputCallback) (*Process, error) {
	port, err := freePort()
	if err != nil {
		return nil, err
	}
	args := cfg.BuildArgs(fmt.Sprintf("127.0.0.1:%d", port))
	logrus.Infof("[Launcher] %s %s", cfg.DlvPath, strings.Join(args, " "))

	cmd := exec.Command(cfg.DlvPath, args...)
	cmd.Dir = cfg.Cwd
	cmd.Env = append(os.Environ(), cfg.Env...)
	setProcessGroup(cmd)

	output, err := startWithOutput(cmd)
	if err != nil {
		return nil, fmt.Errorf("start dlv: %w", err)
	}
	p := &Process{cmd: cmd, output: output, exited: make(chan struct{})}
	gosync.Go(context.Background(), func(ctx context.Context) {
		err := cmd.Wait()
		logrus.Infof("[Launcher] dlv exited, err = %v", err)
		close(p.exited)
	})

	wait := cfg.Timeout
	if wait <= 0 {
		wait = defaultLaunchTimeout
	}
	ready := make(chan string, 1)
	timeout := utils.NewTimeoutManager()
	timedOut := make(chan struct{})
	timeout.Start(ctx, wait, func() { close(timedOut) })
	defer timeout.Chancel()

	gosync.Go(context.Background(), func(ctx context.Context) {
		p.readOutput(ready, timeout, callback)
	})

	select {
	case addr := <-ready:
		p.Addr = addr
		return p, nil
	case <-p.exited:
		return nil, fmt.Errorf("dlv exited before it started listening")
	case <-timedOut:
		_ = p.Kill()
		return nil, e.ErrBackendStartTimeout
	case <-ctx.Done():
		_ = p.Kill()
		return nil, ctx.Err()
	}
}

// startWithOutput 优先使用伪终端获取输出，避免目标程序的输出被缓冲
func startWithOutput(cmd *exec.Cmd) (io.ReadCloser, error) {
	ptm, pts, err := pty.Open()
	if err == nil {
		if _, err = term.MakeRaw(int(ptm.Fd())); err != nil {
			logrus.Warnf("[Launcher] make raw fail, err = %v", err)
		}
		cmd.Stdout = pts
		cmd.Stderr = pts
		err = cmd.Start()
		_ = pts.Close()
		if err != nil {
			_ = ptm.Close()
			return nil, err
		}
		return ptm, nil
	}
	if !errors.Is(err, pty.ErrUnsupported) {
		logrus.Warnf("[Launcher] pty open fail, fallback to pipe, err = %v", err)
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = w
	cmd.Stderr = w
	err = cmd.Start()
	_ = w.Close()
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

// readOutput 循环读取dlv的输出，第一次读取到监听地址时通知ready
func (p *Process) readOutput(ready chan<- string, timeout *utils.TimeoutManager, callback OutputCallback) {
	reader := bufio.NewReader(p.output)
	started := false
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			if !started && strings.Contains(line, readyPrefix) {
				started = true
				addr := strings.TrimSpace(line[strings.Index(line, readyPrefix)+len(readyPrefix):])
				ready <- addr
			} else {
				if !started {
					timeout.Reset()
				}
				if callback != nil {
					callback("stdout", line)
				}
			}
		}
		if err != nil {
			// 子进程退出后读取伪终端会返回EIO
			logrus.Debugf("[Launcher] output closed, err = %v", err)
			return
		}
	}
}

// Exited dlv进程退出时关闭
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Kill 结束dlv以及其所有子进程
func (p *Process) Kill() error {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	p.killOnce.Do(func() {
		select {
		case <-p.exited:
		default:
			p.killErr = KillProcessTree(p.cmd.Process.Pid)
			select {
			case <-p.exited:
			case <-time.After(5 * time.Second):
				logrus.Warnf("[Launcher] dlv %d did not exit after kill", p.cmd.Process.Pid)
			}
		}
		if p.output != nil {
			_ = p.output.Close()
		}
	})
	return p.killErr
}

// freePort 获取一个空闲端口
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
