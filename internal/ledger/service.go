package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/SlpAus/trivia-rewards-backend/internal/platform/apperr"
)

const (
	// DefaultLeaderboardLimit 是未指定数量时的排行榜长度
	DefaultLeaderboardLimit = 10
	// MaxLeaderboardLimit 是排行榜长度上限
	MaxLeaderboardLimit = 100
)

// Profile 是参与者的账本记录与段位
type Profile struct {
	Entry
	Tier Tier `json:"tier"`
}

// Standing 是排行榜中的一行，Rank 从1开始
type Standing struct {
	Rank int `json:"rank"`
	Entry
	Tier Tier `json:"tier"`
}

// Service 提供账本的读写，所有参与者标识在这里统一规范化
type Service struct {
	repo  Repository
	cache *leaderboardCache
	log   *logrus.Entry

	// cacheMu 与 cacheGen 保证在读库期间发生过写入时，旧的排行榜不会被写回缓存。
	// 只约束本进程内的写入，其他实例的写入仍可能让缓存滞后至多一个TTL。
	cacheMu  sync.Mutex
	cacheGen uint64
}

// NewService 创建账本服务。rdb 为 nil 时不缓存排行榜。
func NewService(repo Repository, rdb *redis.Client, cacheTTL time.Duration, log *logrus.Entry) *Service {
	return &Service{
		repo:  repo,
		cache: newLeaderboardCache(rdb, cacheTTL),
		log:   log,
	}
}

// RecordGameCompletion 为参与者记一局游戏并累加奖金，奖金为0时仍计入局数
func (s *Service) RecordGameCompletion(ctx context.Context, participant string, payout decimal.Decimal) (Entry, error) {
	id, err := NormalizeParticipant(participant)
	if err != nil {
		return Entry{}, err
	}
	if payout.IsNegative() {
		return Entry{}, fmt.Errorf("%w: 奖金不能为负数", apperr.ErrValidation)
	}

	if err := s.repo.Credit(ctx, id, payout, 1); err != nil {
		return Entry{}, err
	}
	s.invalidateLeaderboard(ctx)

	s.log.WithFields(logrus.Fields{
		"participant": id,
		"payout":      payout.String(),
	}).Debug("记录对局完成")
	return s.repo.Read(ctx, id)
}

// Read 返回参与者当前的账本记录，不存在时返回零值记录
func (s *Service) Read(ctx context.Context, participant string) (Entry, error) {
	id, err := NormalizeParticipant(participant)
	if err != nil {
		return Entry{}, err
	}
	return s.repo.Read(ctx, id)
}

// Debit 扣减奖金并返回扣减后的余额。
// 余额不足时返回 ErrInsufficientBalance，账本不变。
// 扣减一旦提交就不会再返回错误：之后读取新余额失败时返回 (nil, nil)。
func (s *Service) Debit(ctx context.Context, participant string, amount decimal.Decimal) (*decimal.Decimal, error) {
	id, err := NormalizeParticipant(participant)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: 扣减金额必须为正数", apperr.ErrValidation)
	}

	if err := s.repo.Debit(ctx, id, amount); err != nil {
		return nil, err
	}
	s.invalidateLeaderboard(ctx)

	entry, err := s.repo.Read(ctx, id)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"participant": id,
			"amount":      amount.String(),
		}).Warn("扣减已提交，但读取新余额失败")
		return nil, nil
	}
	return &entry.Winnings, nil
}

// Profile 返回参与者的账本记录与段位
func (s *Service) Profile(ctx context.Context, participant string) (Profile, error) {
	entry, err := s.Read(ctx, participant)
	if err != nil {
		return Profile{}, err
	}
	return Profile{Entry: entry, Tier: TierFor(entry.Winnings)}, nil
}

// Leaderboard 返回按奖金排序的前 limit 名。
// limit 会被限制在 [1, MaxLeaderboardLimit]，limit<=0 时使用默认值。
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]Standing, error) {
	switch {
	case limit <= 0:
		limit = DefaultLeaderboardLimit
	case limit > MaxLeaderboardLimit:
		limit = MaxLeaderboardLimit
	}

	entries, err := s.topEntries(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}

	standings := make([]Standing, len(entries))
	for i, e := range entries {
		standings[i] = Standing{Rank: i + 1, Entry: e, Tier: TierFor(e.Winnings)}
	}
	return standings, nil
}

// topEntries 优先读取缓存，未命中或缓存出错时查询数据库
func (s *Service) topEntries(ctx context.Context) ([]Entry, error) {
	if s.cache != nil {
		cached, err := s.cache.get(ctx)
		if err != nil {
			s.log.WithError(err).Warn("读取排行榜缓存失败，回源数据库")
		} else if cached != nil {
			return cached, nil
		}
	}

	gen := s.generation()
	entries, err := s.repo.Top(ctx, MaxLeaderboardLimit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}

	if s.cache != nil {
		if err := s.storeLeaderboard(ctx, gen, entries); err != nil {
			s.log.WithError(err).Warn("写入排行榜缓存失败")
		}
	}
	return entries, nil
}

func (s *Service) generation() uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.cacheGen
}

// storeLeaderboard 只在读库之后没有发生过写入时才写缓存
func (s *Service) storeLeaderboard(ctx context.Context, gen uint64, entries []Entry) error {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheGen != gen {
		return nil
	}
	return s.cache.set(ctx, entries)
}

func (s *Service) invalidateLeaderboard(ctx context.Context) {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cacheGen++
	if err := s.cache.invalidate(ctx); err != nil {
		s.log.WithError(err).Warn("清除排行榜缓存失败")
	}
}

// WarmLeaderboard 从数据库重新填充排行榜缓存，未启用缓存时什么也不做
func (s *Service) WarmLeaderboard(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	gen := s.generation()
	entries, err := s.repo.Top(ctx, MaxLeaderboardLimit)
	if err != nil {
		return err
	}
	return s.storeLeaderboard(ctx, gen, entries)
}
