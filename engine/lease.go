package engine

import (
	"context"
	"fmt"
	"time"

	"leadflow/models"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// leaseManager takes a short-lived per-lead claim before the sending
// transition, so overlapping batch invocations (a retried cron webhook,
// two instances behind a scheduler) cannot both dispatch for the same
// lead. Redis SETNX is used when available; otherwise a conditional update
// on the lead's claimed_until column serves as the optimistic lock.
type leaseManager struct {
	rdb *redis.Client
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

func leaseKey(leadID uint) string {
	return fmt.Sprintf("leadflow:lease:%d", leadID)
}

// acquire claims the lead for ttl. It returns false without error when the
// lead is already claimed by another run.
func (l *leaseManager) acquire(ctx context.Context, leadID uint) (bool, error) {
	if l.rdb != nil {
		ok, err := l.rdb.SetNX(ctx, leaseKey(leadID), time.Now().UnixNano(), l.ttl).Result()
		if err == nil {
			return ok, nil
		}
		// Redis trouble degrades to the database claim rather than
		// blocking the batch.
	}

	now := l.now()
	res := l.db.WithContext(ctx).Model(&models.Lead{}).
		Where("id = ? AND (claimed_until IS NULL OR claimed_until < ?)", leadID, now).
		Update("claimed_until", now.Add(l.ttl))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// release drops the claim after the outcome write. A lease left behind by a
// crash expires on its own.
func (l *leaseManager) release(ctx context.Context, leadID uint) {
	if l.rdb != nil {
		if err := l.rdb.Del(ctx, leaseKey(leadID)).Err(); err == nil {
			return
		}
	}
	l.db.WithContext(ctx).Model(&models.Lead{}).
		Where("id = ?", leadID).
		Update("claimed_until", nil)
}
