// Package sweeper 周期性清理过期的密码重置记录。
//
// 过期令牌在兑换时已被拒绝，这里只负责回收表里的死数据，
// 防止 password_resets 无限增长。
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"meshforge/internal/model"
	"meshforge/internal/pkg/metrics"

	"gorm.io/gorm"
)

// ResetStore 定义清理任务需要的存储操作。
type ResetStore interface {
	// DeleteExpired 删除 before 之前过期的重置记录，返回删除行数。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// GormResetStore 基于 GORM 的 ResetStore 实现。
type GormResetStore struct {
	db *gorm.DB
}

// NewGormResetStore 创建 GormResetStore。
func NewGormResetStore(db *gorm.DB) *GormResetStore {
	return &GormResetStore{db: db}
}

func (s *GormResetStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expiry_date < ?", before).Delete(&model.PasswordReset{})
	return res.RowsAffected, res.Error
}

// Sweeper 按固定间隔执行清理。
type Sweeper struct {
	store    ResetStore
	interval time.Duration
	logger   *slog.Logger
}

// New 创建 Sweeper。
func New(store ResetStore, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
	}
}

// Run 启动清理循环，阻塞直到 ctx 取消。
//
// 启动时先清理一轮，之后按间隔触发。
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("reset sweeper started", slog.Duration("interval", s.interval))

	s.sweepOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reset sweeper stopped")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	deleted, err := s.store.DeleteExpired(ctx, time.Now())
	if err != nil {
		s.logger.Error("sweep expired resets failed", slog.String("error", err.Error()))
		return
	}
	if deleted > 0 {
		metrics.SweptResetRecords.Add(float64(deleted))
		s.logger.Info("swept expired reset records", slog.Int64("deleted", deleted))
	}
}
