package utils

import "sync"

// Status 调试会话的生命周期状态
type Status string

const (
	// Uninitialized 还未收到initialize请求
	Uninitialized Status = "uninitialized"
	// Initialized 已完成能力协商
	Initialized Status = "initialized"
	// Launching 正在启动dlv
	Launching Status = "launching"
	// Attaching 正在连接dlv
	Attaching Status = "attaching"
	// Running 用户程序运行中
	Running Status = "running"
	// Stopped 用户程序暂停
	Stopped Status = "stopped"
	// Terminated 用户程序结束或者连接断开，只能接收disconnect
	Terminated Status = "terminated"
	// Disconnected 会话结束
	Disconnected Status = "disconnected"
)

// StatusManager 记录调试会话的状态
type StatusManager struct {
	lock   sync.RWMutex
	status Status
}

func NewStatusManager() *StatusManager {
	return &StatusManager{
		status: Uninitialized,
	}
}

func (s *StatusManager) Set(status Status) {
	defer s.lock.Unlock()
	s.lock.Lock()
	s.status = status
}

// Get 获取当前状态
func (s *StatusManager) Get() Status {
	defer s.lock.RUnlock()
	s.lock.RLock()
	return s.status
}

func (s *StatusManager) Is(statusList ...Status) bool {
	defer s.lock.RUnlock()
	s.lock.RLock()
	for _, status := range statusList {
		if s.status == status {
			return true
		}
	}
	return false
}

// Transition 当前状态属于from时切换为to，返回是否切换成功
// 终止状态只能进入一次，依赖这个方法保证
func (s *StatusManager) Transition(to Status, from ...Status) bool {
	defer s.lock.Unlock()
	s.lock.Lock()
	for _, status := range from {
		if s.status == status {
			s.status = to
			return true
		}
	}
	return false
}
