// Package ratelimit 实现按身份的领取冷却：
// 每个身份在一个窗口内最多成功获取一次，窗口从上一次成功获取开始计算。
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SlpAus/trivia-rewards-backend/internal/platform/apperr"
)

// DefaultWindow 是默认的冷却窗口
const DefaultWindow = 4 * time.Hour

// Limiter 是冷却限流器
type Limiter interface {
	// TryAcquire 尝试为 key 占用当前窗口。
	// 被拒绝时返回 *DeniedError，它可以用 errors.Is 匹配 apperr.ErrRateLimited。
	TryAcquire(ctx context.Context, key string) (*Reservation, error)
}

// DeniedError 描述一次被拒绝的获取
type DeniedError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s 仍在冷却中，%s 后可再次领取", e.Key, e.RetryAfter.Round(time.Second))
}

func (e *DeniedError) Unwrap() error {
	return apperr.ErrRateLimited
}

// Reservation 是一次成功获取的补偿句柄。
// 上层业务失败时通过 RollbackUnlessCommitted 归还窗口，成功后调用 Commit。
type Reservation struct {
	Key string

	mu        sync.Mutex
	committed bool
	released  bool
	release   func(ctx context.Context) error
}

func newReservation(key string, release func(ctx context.Context) error) *Reservation {
	return &Reservation{Key: key, release: release}
}

// Commit 标记上层业务已成功，阻止后续的回滚
func (r *Reservation) Commit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = true
}

// Release 立即归还这次获取，重复调用只生效一次
func (r *Reservation) Release(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	r.released = true
	return r.release(ctx)
}

// RollbackUnlessCommitted 用于defer调用，未提交时归还窗口
func (r *Reservation) RollbackUnlessCommitted(ctx context.Context) error {
	r.mu.Lock()
	committed := r.committed
	r.mu.Unlock()
	if committed {
		return nil
	}
	return r.Release(ctx)
}
