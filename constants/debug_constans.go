package constants

// LaunchMode launch请求的mode
type LaunchMode string

const (
	// ModeAuto 根据program选择debug或者test
	ModeAuto LaunchMode = "auto"
	// ModeDebug 编译并调试main包
	ModeDebug LaunchMode = "debug"
	// ModeTest 编译并调试测试
	ModeTest LaunchMode = "test"
	// ModeTestPackage 调试program所在目录的包的测试
	ModeTestPackage LaunchMode = "test-package"
	// ModeExec 调试已经编译好的可执行文件
	ModeExec LaunchMode = "exec"
)

// AttachMode attach请求的mode
type AttachMode string

const (
	AttachLocal  AttachMode = "local"
	AttachRemote AttachMode = "remote"
)

// StoppedReasonType 程序停止类型
type StoppedReasonType string

const (
	EntryStopped      StoppedReasonType = "entry"
	BreakpointStopped StoppedReasonType = "breakpoint"
	StepStopped       StoppedReasonType = "step"
	PauseStopped      StoppedReasonType = "pause"
	PanicStopped      StoppedReasonType = "panic"
)

// StepType 单步调试类型
type StepType string

const (
	StepIn   StepType = "stepIn"
	StepOut  StepType = "stepOut"
	StepOver StepType = "next"
)

// ScopeName 作用域名称
type ScopeName string

// Local: 当前栈帧的参数以及局部变量
// Global: 栈帧所在包的包级变量
const (
	ScopeLocal  ScopeName = "Locals"
	ScopeGlobal ScopeName = "Globals"
)

// TraceLevel launch/attach参数中的trace
type TraceLevel string

const (
	TraceVerbose TraceLevel = "verbose"
	TraceLog     TraceLevel = "log"
	TraceError   TraceLevel = "error"
)

// dlv内置的异常断点
const (
	UnrecoveredPanicID         = -1
	UnrecoveredPanicName       = "unrecovered-panic"
	UnrecoveredPanicFunction   = "runtime.fatalpanic"
	FatalThrowID               = -2
	FatalThrowName             = "runtime-fatal-throw"
	FatalThrowFunction         = "runtime.fatalthrow"
	ExceptionFilterAll         = "all"
	DefaultMaxGoroutines       = 1000
	DefaultStackTraceDepth     = 50
	DisconnectDetachTimeoutSec = 5
)

// OutputCategory output事件的category
type OutputCategory string

const (
	OutputConsole OutputCategory = "console"
	OutputStdout  OutputCategory = "stdout"
	OutputStderr  OutputCategory = "stderr"
)
