// Package health 定期探测数据库与Redis，并把结果写入 database.Status。
package health

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/SlpAus/trivia-rewards-backend/internal/platform/database"
	"github.com/SlpAus/trivia-rewards-backend/pkg/lifecycle"
)

const (
	// DefaultInterval 是两次检查之间的间隔
	DefaultInterval = 5 * time.Second
	pingTimeout     = 2 * time.Second
	// markerKey 用于发现Redis重启：重启后数据丢失，标记随之消失
	markerKey = "trivia:health:marker"
)

// Checker 负责执行健康检查
type Checker struct {
	db     *gorm.DB
	rdb    *redis.Client
	status *database.Status
	log    *logrus.Entry

	marker string
	// onRedisRestart 在检测到Redis数据丢失后调用，用于重建缓存
	onRedisRestart []func(ctx context.Context) error
}

// NewChecker 创建健康检查器，rdb 为 nil 表示未启用Redis
func NewChecker(db *gorm.DB, rdb *redis.Client, status *database.Status, log *logrus.Entry) *Checker {
	return &Checker{
		db:     db,
		rdb:    rdb,
		status: status,
		log:    log,
		marker: uuid.NewString(),
	}
}

// OnRedisRestart 注册Redis重启后的恢复操作
func (c *Checker) OnRedisRestart(fn func(ctx context.Context) error) {
	c.onRedisRestart = append(c.onRedisRestart, fn)
}

// PerformCheck 执行一次完整的健康检查
func (c *Checker) PerformCheck(ctx context.Context) {
	c.status.UpdateDB(c.checkDB(ctx) == nil)
	if c.rdb != nil {
		c.status.UpdateRedis(c.checkRedis(ctx) == nil)
	}
}

func (c *Checker) checkDB(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		c.log.WithError(err).Debug("数据库Ping失败")
		return err
	}
	return nil
}

// checkRedis 检查连通性，并通过标记键判断Redis是否丢失过数据。
// 标记由第一个发现它缺失的实例写入，多实例之间共享。
func (c *Checker) checkRedis(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	created, err := c.rdb.SetNX(ctx, markerKey, c.marker, 0).Result()
	if err != nil {
		c.log.WithError(err).Debug("Redis检查失败")
		return err
	}
	if !created {
		return nil
	}

	c.log.Warn("健康检查: Redis中没有健康标记（首次连接或数据丢失），执行恢复操作")
	for _, fn := range c.onRedisRestart {
		if err := fn(ctx); err != nil {
			c.log.WithError(err).Error("Redis恢复操作失败")
			// 删除标记，下次检查时重试
			_ = c.rdb.Del(ctx, markerKey).Err()
			return err
		}
	}
	return nil
}

// Run 每隔 interval 执行一次检查，直到句柄停机
func (c *Checker) Run(h *lifecycle.Handle, interval time.Duration) {
	c.log.Info("健康检查器已启动")
	c.PerformCheck(h.Ctx())
	h.Every(interval, c.PerformCheck)
	c.log.Info("健康检查器已停止")
}
