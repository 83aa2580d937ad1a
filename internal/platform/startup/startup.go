// Package startup 负责应用启动时的数据准备
package startup

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/SlpAus/trivia-rewards-backend/internal/ledger"
	"github.com/SlpAus/trivia-rewards-backend/internal/question"
)

// InitializeApplication 迁移所有模块的表结构
func InitializeApplication(db *gorm.DB, log *logrus.Entry) error {
	log.Info("开始应用初始化")

	if err := question.Migrate(db); err != nil {
		return err
	}
	if err := ledger.Migrate(db); err != nil {
		return err
	}

	log.Info("应用初始化完成")
	return nil
}

// RebuildCache 在Redis数据丢失后重建缓存
func RebuildCache(ledgerSvc *ledger.Service, log *logrus.Entry) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		log.Info("开始缓存重建")
		if err := ledgerSvc.WarmLeaderboard(ctx); err != nil {
			return err
		}
		log.Info("缓存重建完成")
		return nil
	}
}
