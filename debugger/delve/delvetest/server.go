// Package delvetest 提供一个进程内的dlv json-rpc服务，用于测试
// 它模拟调试下面的程序，行号与真实源码一致:
//
//	5  func main() {
//	6  	for i := 0; i < 5; i++ {
//	7  		fmt.Println(i)
//	8  	}
//	9  	panic("boom") // 只有Options.Panics为true时执行
//	10 }
package delvetest

import (
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"reflect"
	"regexp"
	"strconv"
	"sync"

	"github.com/fansqz/go-debug-adapter/constants"
	"github.com/go-delve/delve/service/api"
)

const (
	EntryLine = 5
	LoopLine  = 7
	PanicLine = 9
	Pid       = 4242
)

// Options 模拟程序以及服务的配置
type Options struct {
	// APIVersion 1或者2
	APIVersion int
	// File 程序源文件在dlv中的路径
	File string
	// Panics 循环结束后是否panic
	Panics bool
	// Sources ListSources的结果，为空时只包含File
	Sources []string
	// Packages ListPackagesBuildInfo的结果
	Packages []api.PackageBuildInfo
	// Exited 服务启动时程序已经退出
	Exited bool
	// MissingFunctions 程序中不存在的函数，在这些函数上创建断点会失败
	MissingFunctions []string
}

type event struct {
	line  int
	i     int
	panic bool
}

// Server 模拟的dlv headless服务
type Server struct {
	opts     Options
	listener net.Listener
	rpc      *rpc.Server

	mu          sync.Mutex
	events      []event
	pos         int
	i           int
	exited      bool
	exitStatus  int
	breakpoints map[int]*api.Breakpoint
	nextID      int
	stoppedAt   *api.Breakpoint
	globals     map[string]string

	running        bool
	stopped        *sync.Cond
	blockContinues int
	hitOnHalt      bool
	haltCh         chan struct{}
	calls          map[string]int
	detachRequests []bool
	conns          []net.Conn
	closed         bool
}

// Start 在127.0.0.1的随机端口上启动服务
func Start(opts Options) (*Server, error) {
	if opts.APIVersion == 0 {
		opts.APIVersion = 2
	}
	if opts.File == "" {
		opts.File = "/app/main.go"
	}
	if len(opts.Sources) == 0 {
		opts.Sources = []string{opts.File}
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		opts:     opts,
		listener: listener,
		rpc:      rpc.NewServer(),
		haltCh:   make(chan struct{}, 1),
		calls:    make(map[string]int),
		globals:  map[string]string{"greeting": "hello"},
		nextID:   1,
		exited:   opts.Exited,
		breakpoints: map[int]*api.Breakpoint{
			constants.UnrecoveredPanicID: {
				ID:           constants.UnrecoveredPanicID,
				Name:         constants.UnrecoveredPanicName,
				FunctionName: constants.UnrecoveredPanicFunction,
			},
			constants.FatalThrowID: {
				ID:           constants.FatalThrowID,
				Name:         constants.FatalThrowName,
				FunctionName: constants.FatalThrowFunction,
			},
		},
	}
	s.stopped = sync.NewCond(&s.mu)
	s.events = append(s.events, event{line: EntryLine})
	for i := 0; i < 5; i++ {
		s.events = append(s.events, event{line: LoopLine, i: i})
	}
	if opts.Panics {
		s.events = append(s.events, event{line: PanicLine, i: 5, panic: true})
	}

	if opts.APIVersion == 1 {
		err = s.rpc.RegisterName("RPCServer", &v1Service{s: s})
	} else {
		err = s.rpc.RegisterName("RPCServer", &v2Service{s: s})
	}
	if err != nil {
		_ = listener.Close()
		return nil, err
	}
	go s.serve()
	return s, nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.rpc.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Addr 监听地址
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// APIVersion 服务使用的api版本
func (s *Server) APIVersion() int {
	return s.opts.APIVersion
}

// Port 监听端口
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Close 关闭服务以及所有连接
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	_ = s.listener.Close()
	s.DropConnections()
}

// DropConnections 断开所有客户端连接，模拟dlv异常退出
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
	s.halt()
}

// BlockContinues 之后的n次continue一直运行，直到收到halt
func (s *Server) BlockContinues(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockContinues = n
}

// HitBreakpointOnHalt 下一次被halt打断的continue在停止前先运行到下一个断点
// 模拟halt发出时程序刚好命中断点
func (s *Server) HitBreakpointOnHalt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hitOnHalt = true
}

// Calls 方法被调用的次数，Command按照 Command:<name> 统计
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// DetachRequests 每次Detach的kill参数
func (s *Server) DetachRequests() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.detachRequests...)
}

// Breakpoints 当前的断点，不包含异常断点
func (s *Server) Breakpoints() []api.Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	var answer []api.Breakpoint
	for id, bp := range s.breakpoints {
		if id > 0 {
			answer = append(answer, *bp)
		}
	}
	return answer
}

// HasBreakpointOn 是否存在该函数上的断点
func (s *Server) HasBreakpointOn(function string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findFunctionBreakpoint(function) != nil
}

// Running 是否有continue正在运行
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) record(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
}

func (s *Server) halt() {
	select {
	case s.haltCh <- struct{}{}:
	default:
	}
}

// command 执行continue、next、step、stepOut、halt
func (s *Server) command(name string) (*api.DebuggerState, error) {
	s.record("Command:" + name)
	if name == api.Halt {
		s.mu.Lock()
		running := s.running
		state := s.stateLocked()
		s.mu.Unlock()
		if running {
			s.halt()
		}
		return state, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		return nil, fmt.Errorf("Process %d has exited with status %d", Pid, s.exitStatus)
	}
	if s.running {
		return nil, fmt.Errorf("a continue is already in progress")
	}
	s.stoppedAt = nil
	switch name {
	case api.Continue:
		if s.blockContinues > 0 {
			s.blockContinues--
			s.running = true
			// 清除之前残留的halt
			select {
			case <-s.haltCh:
			default:
			}
			s.mu.Unlock()
			<-s.haltCh
			s.mu.Lock()
			s.running = false
			if s.hitOnHalt {
				s.hitOnHalt = false
				for s.pos+1 < len(s.events) {
					s.pos++
					if s.hitLocked() {
						break
					}
				}
			}
			s.stopped.Broadcast()
			return s.stateLocked(), nil
		}
		for s.pos+1 < len(s.events) {
			s.pos++
			if s.hitLocked() {
				return s.stateLocked(), nil
			}
		}
	case api.Next, api.Step, api.StepOut:
		if s.pos+1 < len(s.events) {
			s.pos++
			s.hitLocked()
			return s.stateLocked(), nil
		}
	default:
		return nil, fmt.Errorf("unknown command %s", name)
	}
	s.exited = true
	if s.opts.Panics {
		s.exitStatus = 2
	}
	return s.stateLocked(), nil
}

var condPattern = regexp.MustCompile(`^\s*i\s*==\s*(\d+)\s*$`)

// hitLocked 当前位置是否命中断点
func (s *Server) hitLocked() bool {
	ev := s.events[s.pos]
	s.i = ev.i
	if ev.panic {
		if bp := s.findFunctionBreakpoint(constants.UnrecoveredPanicFunction); bp != nil {
			bp.TotalHitCount++
			s.stoppedAt = bp
			return true
		}
		return false
	}
	for _, bp := range s.breakpoints {
		if bp.File != s.opts.File || bp.Line != ev.line {
			continue
		}
		if bp.Cond != "" {
			m := condPattern.FindStringSubmatch(bp.Cond)
			if m == nil {
				continue
			}
			if n, _ := strconv.Atoi(m[1]); n != ev.i {
				continue
			}
		}
		bp.TotalHitCount++
		s.stoppedAt = bp
		return true
	}
	return false
}

func (s *Server) findFunctionBreakpoint(function string) *api.Breakpoint {
	for _, bp := range s.breakpoints {
		if bp.FunctionName == function {
			return bp
		}
	}
	return nil
}

func (s *Server) location() api.Location {
	return api.Location{
		PC:       0x4a0000 + uint64(s.events[s.pos].line),
		File:     s.opts.File,
		Line:     s.events[s.pos].line,
		Function: &api.Function{Name_: "main.main"},
	}
}

func (s *Server) stateLocked() *api.DebuggerState {
	state := &api.DebuggerState{
		Pid:        Pid,
		Running:    s.running,
		Exited:     s.exited,
		ExitStatus: s.exitStatus,
	}
	if s.exited || s.running {
		return state
	}
	loc := s.location()
	state.CurrentThread = &api.Thread{
		ID:          1,
		PC:          loc.PC,
		File:        loc.File,
		Line:        loc.Line,
		Function:    loc.Function,
		GoroutineID: 1,
	}
	if s.stoppedAt != nil {
		bp := *s.stoppedAt
		state.CurrentThread.Breakpoint = &bp
	}
	state.SelectedGoroutine = &api.Goroutine{ID: 1, CurrentLoc: loc, UserCurrentLoc: loc}
	state.Threads = []*api.Thread{state.CurrentThread}
	return state
}

func (s *Server) createBreakpoint(bp api.Breakpoint) (*api.Breakpoint, error) {
	s.record("CreateBreakpoint")
	s.mu.Lock()
	defer s.mu.Unlock()
	if bp.FunctionName != "" {
		if bp.FunctionName != constants.UnrecoveredPanicFunction && bp.FunctionName != constants.FatalThrowFunction {
			return nil, fmt.Errorf("location %q not found", bp.FunctionName)
		}
		for _, missing := range s.opts.MissingFunctions {
			if missing == bp.FunctionName {
				return nil, fmt.Errorf("location %q not found", bp.FunctionName)
			}
		}
		if s.findFunctionBreakpoint(bp.FunctionName) != nil {
			return nil, fmt.Errorf("Breakpoint exists at %s", bp.FunctionName)
		}
	} else {
		if bp.File != s.opts.File {
			return nil, fmt.Errorf("could not find file %s", bp.File)
		}
		if bp.Line != EntryLine && bp.Line != 6 && bp.Line != LoopLine && bp.Line != PanicLine {
			return nil, fmt.Errorf("could not find statement at %s:%d, please use a line with a statement", bp.File, bp.Line)
		}
		for _, existing := range s.breakpoints {
			if existing.File == bp.File && existing.Line == bp.Line {
				return nil, fmt.Errorf("Breakpoint exists at %s:%d at %#x", bp.File, bp.Line, existing.Addr)
			}
		}
		bp.FunctionName = "main.main"
	}
	bp.ID = s.nextID
	s.nextID++
	bp.Addr = 0x4a0000 + uint64(bp.Line)
	bp.Addrs = []uint64{bp.Addr}
	stored := bp
	s.breakpoints[bp.ID] = &stored
	return &bp, nil
}

func (s *Server) clearBreakpoint(id int) (*api.Breakpoint, error) {
	s.record("ClearBreakpoint")
	s.mu.Lock()
	defer s.mu.Unlock()
	bp, ok := s.breakpoints[id]
	if !ok {
		return nil, fmt.Errorf("Non-existent breakpoint %d", id)
	}
	delete(s.breakpoints, id)
	return bp, nil
}

func (s *Server) amendBreakpoint(bp api.Breakpoint) error {
	s.record("AmendBreakpoint")
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.breakpoints[bp.ID]
	if !ok {
		return fmt.Errorf("no breakpoint with ID %d", bp.ID)
	}
	existing.Cond = bp.Cond
	return nil
}

func (s *Server) listBreakpoints() []*api.Breakpoint {
	s.record("ListBreakpoints")
	s.mu.Lock()
	defer s.mu.Unlock()
	answer := make([]*api.Breakpoint, 0, len(s.breakpoints))
	for _, bp := range s.breakpoints {
		copied := *bp
		answer = append(answer, &copied)
	}
	return answer
}

// state nonBlocking为false时等待正在运行的continue停止
func (s *Server) state(nonBlocking bool) *api.DebuggerState {
	s.record("State")
	s.mu.Lock()
	defer s.mu.Unlock()
	for !nonBlocking && s.running {
		s.stopped.Wait()
	}
	return s.stateLocked()
}

func (s *Server) stacktrace(goroutineID int64, depth int) ([]api.Stackframe, error) {
	s.record("Stacktrace")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.exited {
		return nil, fmt.Errorf("process is not stopped")
	}
	if goroutineID != 1 && goroutineID != -1 {
		return nil, fmt.Errorf("unknown goroutine %d", goroutineID)
	}
	frames := []api.Stackframe{
		{Location: s.location()},
		{Location: api.Location{
			PC:       0x43b000,
			File:     "/usr/local/go/src/runtime/proc.go",
			Line:     271,
			Function: &api.Function{Name_: "runtime.main"},
		}},
	}
	if depth < len(frames) {
		frames = frames[:depth]
	}
	return frames, nil
}

func (s *Server) goroutines() []*api.Goroutine {
	s.record("ListGoroutines")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		return []*api.Goroutine{}
	}
	loc := s.location()
	return []*api.Goroutine{{ID: 1, CurrentLoc: loc, UserCurrentLoc: loc}}
}

func (s *Server) locals(scope api.EvalScope) ([]api.Variable, error) {
	s.record("ListLocalVars")
	s.mu.Lock()
	defer s.mu.Unlock()
	if scope.Frame != 0 {
		return []api.Variable{}, nil
	}
	if s.events[s.pos].line == EntryLine {
		return []api.Variable{}, nil
	}
	return []api.Variable{s.intVariable("i", s.i)}, nil
}

func (s *Server) intVariable(name string, v int) api.Variable {
	return api.Variable{
		Name:  name,
		Addr:  0xc000012345,
		Type:  "int",
		Kind:  reflect.Int,
		Value: strconv.Itoa(v),
	}
}

func (s *Server) packageVars(filter string) ([]api.Variable, error) {
	s.record("ListPackageVars")
	re, err := regexp.Compile(filter)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	answer := []api.Variable{}
	for name, value := range s.globals {
		if !re.MatchString("main." + name) {
			continue
		}
		answer = append(answer, api.Variable{
			Name:  "main." + name,
			Addr:  0x5a0000,
			Type:  "string",
			Kind:  reflect.String,
			Value: value,
			Len:   int64(len(value)),
		})
	}
	return answer, nil
}

func (s *Server) eval(expr string) (*api.Variable, error) {
	s.record("Eval")
	s.mu.Lock()
	defer s.mu.Unlock()
	if expr == "i" && s.events[s.pos].line != EntryLine {
		v := s.intVariable("i", s.i)
		return &v, nil
	}
	if expr == "i * 10" && s.events[s.pos].line != EntryLine {
		v := s.intVariable("", s.i*10)
		return &v, nil
	}
	return nil, fmt.Errorf("could not find symbol value for %s", expr)
}

func (s *Server) set(symbol, value string) error {
	s.record("Set")
	s.mu.Lock()
	defer s.mu.Unlock()
	if symbol != "i" {
		return fmt.Errorf("could not find symbol value for %s", symbol)
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("can not convert %q to int", value)
	}
	s.i = n
	return nil
}

func (s *Server) detach(kill bool) {
	s.record("Detach")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachRequests = append(s.detachRequests, kill)
}
