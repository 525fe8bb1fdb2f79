package gosync

import (
	"context"
	"errors"
	"time"
)

// ErrPollTimeout 等待超时
var ErrPollTimeout = errors.New("timed out waiting for notification")

// PollUntil 等待done通知，等待期间每隔interval执行一次probe
// done收到通知、超时或者ctx取消时返回，返回前轮询协程一定已经停止
func PollUntil[T any](ctx context.Context, interval, timeout time.Duration, probe func(ctx context.Context), done <-chan T) (T, error) {
	var zero T
	ctx, cancel := context.WithTimeout(ctx, timeout)
	stopped := make(chan struct{})
	defer func() {
		cancel()
		<-stopped
	}()

	Go(ctx, func(ctx context.Context) {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			probe(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})

	select {
	case v := <-done:
		return v, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrPollTimeout
		}
		return zero, ctx.Err()
	}
}
