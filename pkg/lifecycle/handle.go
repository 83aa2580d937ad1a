package lifecycle

import (
	"context"
	"time"
)

// Handle 是分发给每个后台服务的生命周期控制器
type Handle struct {
	ctx context.Context
	// Close 通知 Manager 服务已经退出，重复调用是安全的
	Close func()
}

// Ctx 返回句柄的上下文，停机时被取消
func (h *Handle) Ctx() context.Context {
	return h.ctx
}

// Done 在停机时关闭
func (h *Handle) Done() <-chan struct{} {
	return h.ctx.Done()
}

// Err 返回上下文被取消的原因
func (h *Handle) Err() error {
	return h.ctx.Err()
}

// Sleep 暂停指定的时长，停机时提前返回错误。
// 后台循环应使用它代替 time.Sleep。
func (h *Handle) Sleep(duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-h.Done():
		return h.Err()
	case <-timer.C:
		return nil
	}
}

// Every 每隔 interval 调用一次 fn，直到停机
func (h *Handle) Every(interval time.Duration, fn func(ctx context.Context)) {
	for {
		if err := h.Sleep(interval); err != nil {
			return
		}
		fn(h.ctx)
	}
}
