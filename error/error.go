package error

import "errors"

var (
	ErrStaleSession               = errors.New("debug session is closed")
	ErrSessionNotInitialized      = errors.New("the debug session is not initialized")
	ErrAlreadyInitialized         = errors.New("the debug session is already initialized")
	ErrAlreadyStarted             = errors.New("the debug session has already been launched or attached")
	ErrSessionTerminated          = errors.New("the debug session has terminated, only disconnect is accepted")
	ErrStaleReference             = errors.New("the reference is no longer valid, the program has resumed")
	ErrProgramIsRunningOptionFail = errors.New("The program is running")
	ErrInvalidArguments           = errors.New("invalid arguments")
	ErrUnsupportedMode            = errors.New("unsupported debug mode")
	ErrBackendUnreachable         = errors.New("could not connect to dlv")
	ErrBackendClosed              = errors.New("connection to dlv is closed")
	ErrBackendStartTimeout        = errors.New("timed out waiting for dlv to start")
	ErrUnsupportedByAPIV1         = errors.New("not supported by dlv api version 1")
	ErrNoDebugNotSupported        = errors.New("noDebug is not supported by this adapter")
)
