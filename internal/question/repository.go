package question

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SlpAus/trivia-rewards-backend/internal/platform/apperr"
	"github.com/SlpAus/trivia-rewards-backend/internal/platform/database"
)

// metadataColumns 是重复导入时允许覆盖的列，身份相关的列永远不变
var metadataColumns = []string{"difficulty", "category", "source", "tags", "updated_at"}

// Repository 是题库的存储接口
type Repository interface {
	Exists(ctx context.Context, contentHash string) (bool, error)
	Upsert(ctx context.Context, q *Question) error
	FindByHash(ctx context.Context, contentHash string) (Question, error)
	Random(ctx context.Context, n int) ([]Question, error)
	Count(ctx context.Context) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository 创建基于GORM的题库存储
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// Migrate 负责迁移题库表
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Question{}); err != nil {
		return fmt.Errorf("无法迁移question表: %w", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, apperr.ErrStorageUnavailable, err)
}

func (r *gormRepository) Exists(ctx context.Context, contentHash string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Question{}).Where("content_hash = ?", contentHash).Count(&count).Error
	if err != nil {
		return false, storageErr("查询题目哈希失败", err)
	}
	return count > 0, nil
}

// Upsert 以 content_hash 为键插入或更新元数据
func (r *gormRepository) Upsert(ctx context.Context, q *Question) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "content_hash"}},
		DoUpdates: clause.AssignmentColumns(metadataColumns),
	}).Create(q).Error
	if err != nil {
		return storageErr("写入题目失败", err)
	}
	return nil
}

func (r *gormRepository) FindByHash(ctx context.Context, contentHash string) (Question, error) {
	var q Question
	err := r.db.WithContext(ctx).Where("content_hash = ?", contentHash).First(&q).Error
	if err != nil {
		if database.IsRecordNotFound(err) {
			return Question{}, fmt.Errorf("题目 %s: %w", contentHash, apperr.ErrNotFound)
		}
		return Question{}, storageErr("读取题目失败", err)
	}
	return q, nil
}

// Random 随机抽取最多 n 道题，RANDOM() 在SQLite与PostgreSQL上都可用
func (r *gormRepository) Random(ctx context.Context, n int) ([]Question, error) {
	var questions []Question
	err := r.db.WithContext(ctx).Order("RANDOM()").Limit(n).Find(&questions).Error
	if err != nil {
		return nil, storageErr("随机抽题失败", err)
	}
	return questions, nil
}

func (r *gormRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&Question{}).Count(&count).Error; err != nil {
		return 0, storageErr("统计题目数量失败", err)
	}
	return count, nil
}
