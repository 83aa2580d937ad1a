package database

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Status 负责线程安全地管理和提供存储后端的健康状态。
type Status struct {
	mu        sync.RWMutex
	dbHealthy bool
	// redisHealthy 在未启用Redis时保持false
	redisHealthy bool
	redisEnabled bool
	log          *logrus.Entry
}

// NewStatus 创建状态管理器，默认启动时是健康的
func NewStatus(redisEnabled bool, log *logrus.Entry) *Status {
	return &Status{
		dbHealthy:    true,
		redisHealthy: redisEnabled,
		redisEnabled: redisEnabled,
		log:          log,
	}
}

// IsDBHealthy 返回数据库的健康状态。
func (s *Status) IsDBHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dbHealthy
}

// IsRedisHealthy 返回当前Redis的健康状态。
func (s *Status) IsRedisHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.redisEnabled && s.redisHealthy
}

// RedisEnabled 返回是否配置了Redis
func (s *Status) RedisEnabled() bool {
	return s.redisEnabled
}

// UpdateDB 更新数据库状态，只有状态发生变化时才打印日志
func (s *Status) UpdateDB(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dbHealthy == healthy {
		return
	}
	s.dbHealthy = healthy
	if healthy {
		s.log.Info("健康检查: 数据库状态已更新为 [可用]")
	} else {
		s.log.Warn("健康检查警告: 数据库状态已更新为 [不可用]")
	}
}

// UpdateRedis 更新Redis状态
func (s *Status) UpdateRedis(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.redisEnabled || s.redisHealthy == healthy {
		return
	}
	s.redisHealthy = healthy
	if healthy {
		s.log.Info("健康检查: Redis服务状态已更新为 [可用]")
	} else {
		s.log.Warn("健康检查警告: Redis服务状态已更新为 [不可用]")
	}
}

// Snapshot 返回当前状态的只读副本
func (s *Status) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]string{"database": label(s.dbHealthy)}
	if s.redisEnabled {
		out["redis"] = label(s.redisHealthy)
	} else {
		out["redis"] = "disabled"
	}
	return out
}

func label(ok bool) string {
	if ok {
		return "up"
	}
	return "down"
}
