package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SlpAus/trivia-rewards-backend/pkg/lifecycle"
)

type memoryEntry struct {
	at    time.Time
	token uint64
}

// Memory 是进程内的限流实现，重启后状态丢失
type Memory struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	last   map[string]memoryEntry
	seq    uint64
}

// NewMemory 创建进程内限流器
func NewMemory(window time.Duration) *Memory {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Memory{
		window: window,
		now:    time.Now,
		last:   make(map[string]memoryEntry),
	}
}

// WithClock 替换时间来源
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

func (m *Memory) TryAcquire(ctx context.Context, key string) (*Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if prev, ok := m.last[key]; ok {
		if elapsed := now.Sub(prev.at); elapsed < m.window {
			return nil, &DeniedError{Key: key, RetryAfter: m.window - elapsed}
		}
	}

	m.seq++
	token := m.seq
	m.last[key] = memoryEntry{at: now, token: token}

	return newReservation(key, func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		// 只删除自己写入的记录
		if cur, ok := m.last[key]; ok && cur.token == token {
			delete(m.last, key)
		}
		return nil
	}), nil
}

// Prune 删除已经过期的记录，返回删除数量
func (m *Memory) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, e := range m.last {
		if now.Sub(e.at) >= m.window {
			delete(m.last, key)
			removed++
		}
	}
	return removed
}

// RunPruner 定期清理过期记录，直到句柄停机
func (m *Memory) RunPruner(h *lifecycle.Handle, interval time.Duration, log *logrus.Entry) {
	h.Every(interval, func(context.Context) {
		if n := m.Prune(); n > 0 {
			log.WithField("removed", n).Debug("清理过期的限流记录")
		}
	})
}
