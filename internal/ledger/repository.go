package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SlpAus/trivia-rewards-backend/internal/platform/apperr"
	"github.com/SlpAus/trivia-rewards-backend/internal/platform/database"
)

// ErrInsufficientBalance 是存储层的最后一道防线：扣减会使余额为负
var ErrInsufficientBalance = fmt.Errorf("账本余额不足以扣减: %w", apperr.ErrInsufficientFunds)

// Repository 是账本的存储接口，所有修改都是单条原子语句
type Repository interface {
	Credit(ctx context.Context, participant string, amount decimal.Decimal, games int64) error
	Debit(ctx context.Context, participant string, amount decimal.Decimal) error
	Read(ctx context.Context, participant string) (Entry, error)
	Top(ctx context.Context, limit int) ([]Entry, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository 创建基于GORM的账本存储
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// Migrate 负责迁移账本表
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&entryRow{}); err != nil {
		return fmt.Errorf("无法迁移ledger表: %w", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, apperr.ErrStorageUnavailable, err)
}

// Credit 原子地累加奖金与局数，记录不存在时创建
func (r *gormRepository) Credit(ctx context.Context, participant string, amount decimal.Decimal, games int64) error {
	units, err := ToUnits(amount)
	if err != nil {
		return err
	}
	err = database.Retry(ctx, func() error {
		row := entryRow{ParticipantID: participant, Winnings: units, GamesPlayed: games}
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "participant_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"winnings":     gorm.Expr("ledger_entries.winnings + excluded.winnings"),
				"games_played": gorm.Expr("ledger_entries.games_played + excluded.games_played"),
				"updated_at":   gorm.Expr("excluded.updated_at"),
			}),
		}).Create(&row).Error
	})
	if err != nil {
		return storageErr("累加奖金失败", err)
	}
	return nil
}

// Debit 原子地扣减奖金，余额不足时不修改任何数据并返回 ErrInsufficientBalance
func (r *gormRepository) Debit(ctx context.Context, participant string, amount decimal.Decimal) error {
	units, err := ToUnits(amount)
	if err != nil {
		return err
	}
	var affected int64
	err = database.Retry(ctx, func() error {
		result := r.db.WithContext(ctx).Model(&entryRow{}).
			Where("participant_id = ? AND winnings >= ?", participant, units).
			Updates(map[string]interface{}{
				"winnings": gorm.Expr("winnings - ?", units),
			})
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return storageErr("扣减奖金失败", err)
	}
	if affected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func (r *gormRepository) Read(ctx context.Context, participant string) (Entry, error) {
	var row entryRow
	err := r.db.WithContext(ctx).Where("participant_id = ?", participant).First(&row).Error
	if err != nil {
		if database.IsRecordNotFound(err) {
			return emptyEntry(participant), nil
		}
		return Entry{}, storageErr("读取账本失败", err)
	}
	return row.entry(), nil
}

// Top 按奖金降序返回前 limit 名，奖金相同时局数多者在前
func (r *gormRepository) Top(ctx context.Context, limit int) ([]Entry, error) {
	var rows []entryRow
	err := r.db.WithContext(ctx).
		Order("winnings DESC").
		Order("games_played DESC").
		Order("participant_id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, storageErr("读取排行榜失败", err)
	}
	entries := make([]Entry, len(rows))
	for i, row := range rows {
		entries[i] = row.entry()
	}
	return entries, nil
}
