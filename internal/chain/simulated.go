package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// simulatedNamespace 用于生成确定性的交易引用
var simulatedNamespace = uuid.MustParse("6f1c2a7e-3b5d-4e8f-9a10-5c7d2e4b8f31")

// Simulated 是显式的演示模式实现，不连接任何节点。
// 它维护自己的领取冷却，并可以注入失败与延迟用于测试。
type Simulated struct {
	mu        sync.Mutex
	cooldown  time.Duration
	now       func() time.Time
	lastClaim map[string]time.Time
	seq       uint64
	failure   error
	rejection string
	delay     time.Duration
}

// NewSimulated 创建演示链，cooldown 为链上领取冷却
func NewSimulated(cooldown time.Duration) *Simulated {
	return &Simulated{
		cooldown:  cooldown,
		now:       time.Now,
		lastClaim: make(map[string]time.Time),
	}
}

// WithClock 替换时间来源
func (s *Simulated) WithClock(now func() time.Time) *Simulated {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// FailWith 让后续提交返回 err，传入 nil 恢复正常
func (s *Simulated) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// RejectWith 让后续提交得到未成功的回执，传入空串恢复正常
func (s *Simulated) RejectWith(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejection = reason
}

// SetDelay 模拟等待出块的耗时
func (s *Simulated) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

func (s *Simulated) SubmitTransfer(ctx context.Context, to string, amount decimal.Decimal) (Receipt, error) {
	return s.submit(ctx, fmt.Sprintf("transfer:%s:%s", to, amount.String()), nil)
}

func (s *Simulated) SubmitClaim(ctx context.Context, to string) (Receipt, error) {
	return s.submit(ctx, "claim:"+to, func(now time.Time) {
		s.lastClaim[to] = now
	})
}

func (s *Simulated) GetCooldown(ctx context.Context, address string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return 0, s.failure
	}
	last, ok := s.lastClaim[address]
	if !ok {
		return 0, nil
	}
	remaining := s.cooldown - s.now().Sub(last)
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

func (s *Simulated) submit(ctx context.Context, label string, onSuccess func(time.Time)) (Receipt, error) {
	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return Receipt{}, s.failure
	}

	s.seq++
	ref := "sim-" + uuid.NewSHA1(simulatedNamespace, []byte(fmt.Sprintf("%d:%s", s.seq, label))).String()
	if s.rejection != "" {
		return Receipt{TxRef: ref, Success: false, Reason: s.rejection}, nil
	}
	if onSuccess != nil {
		onSuccess(s.now())
	}
	return Receipt{TxRef: ref, Success: true}, nil
}
