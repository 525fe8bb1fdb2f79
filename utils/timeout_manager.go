package utils

import (
	"context"
	"sync"
	"time"

	"github.com/fansqz/go-debug-adapter/utils/gosync"
	"github.com/sirupsen/logrus"
)

// TimeoutManager 一个计时器
// 如果在timeout时间内没有执行reset命令，就会执行fun函数
type TimeoutManager struct {
	timer          *time.Timer
	timeout        time.Duration
	resetChannel   chan bool
	chancelChannel chan bool
	fun            func()
	once           sync.Once
}

// NewTimeoutManager 创建一个新的计时器实例
func NewTimeoutManager() *TimeoutManager {
	return &TimeoutManager{
		resetChannel:   make(chan bool, 1),
		chancelChannel: make(chan bool),
	}
}

// Start 开始计时
// 在timeout时间内没有执行reset命令，就会执行fun函数
func (t *TimeoutManager) Start(ctx context.Context, timeout time.Duration, option func()) {
	t.timer = time.NewTimer(timeout)
	t.timeout = timeout
	t.fun = option
	gosync.Go(ctx, func(ctx context.Context) {
		for {
			select {
			case <-t.timer.C:
				logrus.Infof("[TimeoutManager] Timer expired, performing action")
				t.fun()
				return
			case <-t.resetChannel:
				logrus.Debugf("[TimeoutManager] reset")
				// go1.23以后Reset会丢弃过期未读的值，不需要再清空通道
				t.timer.Reset(t.timeout)
			case <-t.chancelChannel:
				logrus.Debugf("[TimeoutManager] chancel")
				t.timer.Stop()
				return
			case <-ctx.Done():
				t.timer.Stop()
				return
			}
		}
	})
}

// Reset 重置计时器
func (t *TimeoutManager) Reset() {
	select {
	case t.resetChannel <- true:
	default:
	}
}

// Chancel 取消计时，可以重复调用
func (t *TimeoutManager) Chancel() {
	t.once.Do(func() {
		close(t.chancelChannel)
	})
}
