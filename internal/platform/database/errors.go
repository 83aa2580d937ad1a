package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// IsRecordNotFound 判断是否为“记录不存在”
func IsRecordNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsRetryableError 判断错误是否为短暂的锁冲突，可以短间隔重试
func IsRetryableError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// maxWriteAttempts 是短暂锁冲突时单条写入的最多尝试次数
const maxWriteAttempts = 3

// Retry 执行一次写入，遇到可重试的锁冲突时退避后重试。
// 其余错误原样返回，ctx 结束时返回最后一次的错误。
func Retry(ctx context.Context, write func() error) error {
	var err error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		err = write()
		if err == nil || !IsRetryableError(err) || attempt == maxWriteAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * 20 * time.Millisecond):
		}
	}
	return err
}
