package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/fansqz/go-debug-adapter/constants"
	e "github.com/fansqz/go-debug-adapter/error"
)

// SubstitutePathRule 本地路径与dlv路径之间的前缀替换
type SubstitutePathRule struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// LaunchArguments launch请求的参数
type LaunchArguments struct {
	Program     string                `json:"program"`
	Mode        constants.LaunchMode  `json:"mode"`
	Args        []string              `json:"args"`
	Cwd         string                `json:"cwd"`
	Env         map[string]string     `json:"env"`
	BuildFlags  string                `json:"buildFlags"`
	Output      string                `json:"output"`
	StopOnEntry bool                  `json:"stopOnEntry"`
	NoDebug     bool                  `json:"noDebug"`
	Trace       constants.TraceLevel  `json:"trace"`
	APIVersion  int                   `json:"apiVersion"`
	DlvToolPath string                `json:"dlvToolPath"`
	// SubstitutePath From为本地路径前缀，To为dlv中的路径前缀
	SubstitutePath []SubstitutePathRule `json:"substitutePath"`
}

// AttachArguments attach请求的参数
type AttachArguments struct {
	Mode           constants.AttachMode `json:"mode"`
	ProcessID      int                  `json:"processId"`
	Host           string               `json:"host"`
	Port           int                  `json:"port"`
	Cwd            string               `json:"cwd"`
	StopOnEntry    bool                 `json:"stopOnEntry"`
	Trace          constants.TraceLevel `json:"trace"`
	APIVersion     int                  `json:"apiVersion"`
	DlvToolPath    string               `json:"dlvToolPath"`
	SubstitutePath []SubstitutePathRule `json:"substitutePath"`
}

// ParseLaunchArguments 解析并校验launch参数
func ParseLaunchArguments(raw json.RawMessage) (*LaunchArguments, error) {
	args := &LaunchArguments{Mode: constants.ModeAuto}
	if len(raw) != 0 {
		if err := json.Unmarshal(raw, args); err != nil {
			return nil, fmt.Errorf("%w: %v", e.ErrInvalidArguments, err)
		}
	}
	if args.Mode == "" {
		args.Mode = constants.ModeAuto
	}
	switch args.Mode {
	case constants.ModeAuto, constants.ModeDebug, constants.ModeTest, constants.ModeTestPackage, constants.ModeExec:
	default:
		return nil, fmt.Errorf("%w: %q", e.ErrUnsupportedMode, args.Mode)
	}
	if args.Program == "" {
		return nil, fmt.Errorf("%w: the program attribute is missing", e.ErrInvalidArguments)
	}
	if err := validateAPIVersion(args.APIVersion); err != nil {
		return nil, err
	}
	return args, nil
}

// ParseAttachArguments 解析并校验attach参数
func ParseAttachArguments(raw json.RawMessage) (*AttachArguments, error) {
	args := &AttachArguments{Mode: constants.AttachLocal}
	if len(raw) != 0 {
		if err := json.Unmarshal(raw, args); err != nil {
			return nil, fmt.Errorf("%w: %v", e.ErrInvalidArguments, err)
		}
	}
	if args.Mode == "" {
		args.Mode = constants.AttachLocal
	}
	switch args.Mode {
	case constants.AttachLocal:
		if args.ProcessID <= 0 {
			return nil, fmt.Errorf("%w: the processId attribute is missing", e.ErrInvalidArguments)
		}
	case constants.AttachRemote:
		if args.Host == "" {
			args.Host = "127.0.0.1"
		}
		if args.Port <= 0 {
			return nil, fmt.Errorf("%w: the port attribute is missing", e.ErrInvalidArguments)
		}
	default:
		return nil, fmt.Errorf("%w: %q", e.ErrUnsupportedMode, args.Mode)
	}
	if err := validateAPIVersion(args.APIVersion); err != nil {
		return nil, err
	}
	return args, nil
}

func validateAPIVersion(version int) error {
	if version != 0 && version != 1 && version != 2 {
		return fmt.Errorf("%w: apiVersion must be 1 or 2", e.ErrInvalidArguments)
	}
	return nil
}

// EnvList map形式的环境变量转为 k=v 列表
func (l *LaunchArguments) EnvList() []string {
	answer := make([]string, 0, len(l.Env))
	for k, v := range l.Env {
		answer = append(answer, k+"="+v)
	}
	return answer
}

// ParseLineBase 读取原始initialize请求中的linesStartAt1、columnsStartAt1
// go-dap解码后无法区分false与未设置，未设置时按照协议默认从1开始
func ParseLineBase(content []byte) (linesStartAt1 bool, columnsStartAt1 bool) {
	var raw struct {
		Arguments struct {
			LinesStartAt1   *bool `json:"linesStartAt1"`
			ColumnsStartAt1 *bool `json:"columnsStartAt1"`
		} `json:"arguments"`
	}
	linesStartAt1, columnsStartAt1 = true, true
	if err := json.Unmarshal(content, &raw); err != nil {
		return
	}
	if raw.Arguments.LinesStartAt1 != nil {
		linesStartAt1 = *raw.Arguments.LinesStartAt1
	}
	if raw.Arguments.ColumnsStartAt1 != nil {
		columnsStartAt1 = *raw.Arguments.ColumnsStartAt1
	}
	return
}
