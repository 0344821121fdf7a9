package worker

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"pagepress/internal/database"
	"pagepress/internal/entitlement"
)

// 各档位每月允许的批量生成次数。
var monthlyBatchAllowance = map[entitlement.Tier]int{
	entitlement.TierFree:     10,
	entitlement.TierPro:      200,
	entitlement.TierBusiness: 2000,
}

// DBQuota 基于数据库实现 entitlement.Source：
// 档位取自用户记录，剩余额度按自然月内已消耗的批量条目数计算。
type DBQuota struct {
	db *gorm.DB
}

// NewDBQuota 构造数据库配额源。
func NewDBQuota(db *gorm.DB) *DBQuota {
	return &DBQuota{db: db}
}

// PlanTier 返回用户当前订阅档位，未知档位按 free 处理。
func (q *DBQuota) PlanTier(ctx context.Context, userID uint) (entitlement.Tier, error) {
	var user database.User
	if err := q.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return "", fmt.Errorf("load user %d: %w", userID, err)
	}
	tier := entitlement.Tier(user.PlanTier)
	if _, ok := monthlyBatchAllowance[tier]; !ok {
		tier = entitlement.TierFree
	}
	return tier, nil
}

// Remaining 返回本月剩余批量生成额度。
// 已尝试过的条目无论成败都计入消耗，避免失败重提变成无限额度。
func (q *DBQuota) Remaining(ctx context.Context, userID uint) (int, error) {
	tier, err := q.PlanTier(ctx, userID)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var used int64
	err = q.db.WithContext(ctx).
		Model(&database.BatchItem{}).
		Joins("JOIN batch_runs ON batch_runs.id = batch_items.batch_run_id").
		Where("batch_runs.user_id = ? AND batch_items.created_at >= ?", userID, monthStart).
		Count(&used).Error
	if err != nil {
		return 0, fmt.Errorf("count used quota for user %d: %w", userID, err)
	}

	remaining := monthlyBatchAllowance[tier] - int(used)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
