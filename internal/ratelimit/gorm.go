package ratelimit

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Bucket anchors the row lock that serializes admissions for one (user, endpoint).
type Bucket struct {
	UserID    string `gorm:"type:varchar(64);primaryKey"`
	Endpoint  string `gorm:"type:varchar(64);primaryKey"`
	UpdatedAt time.Time
}

func (Bucket) TableName() string { return "rate_limit_buckets" }

// Hit is one admitted request.
type Hit struct {
	ID       uint64    `gorm:"primaryKey;autoIncrement"`
	UserID   string    `gorm:"type:varchar(64);not null;index:idx_rl_hit_key,priority:1"`
	Endpoint string    `gorm:"type:varchar(64);not null;index:idx_rl_hit_key,priority:2"`
	HitAt    time.Time `gorm:"not null;index:idx_rl_hit_key,priority:3"`
}

func (Hit) TableName() string { return "rate_limit_hits" }

// GormLimiter is the database-backed limiter for deployments without redis.
type GormLimiter struct {
	db     *gorm.DB
	policy Policy
	now    func() time.Time
}

func NewGormLimiter(db *gorm.DB, policy Policy) *GormLimiter {
	return &GormLimiter{db: db, policy: policy.normalized(), now: time.Now}
}

func (l *GormLimiter) Admit(ctx context.Context, userID, endpoint string) (bool, error) {
	now := l.now().UTC()
	cutoff := now.Add(-l.policy.Window)

	admitted := false
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&Bucket{UserID: userID, Endpoint: endpoint, UpdatedAt: now}).Error; err != nil {
			return err
		}
		var b Bucket
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND endpoint = ?", userID, endpoint).
			First(&b).Error; err != nil {
			return err
		}

		if err := tx.Where("user_id = ? AND endpoint = ? AND hit_at <= ?", userID, endpoint, cutoff).
			Delete(&Hit{}).Error; err != nil {
			return err
		}

		var n int64
		if err := tx.Model(&Hit{}).
			Where("user_id = ? AND endpoint = ?", userID, endpoint).
			Count(&n).Error; err != nil {
			return err
		}
		if n >= int64(l.policy.Max) {
			return nil
		}

		if err := tx.Create(&Hit{UserID: userID, Endpoint: endpoint, HitAt: now}).Error; err != nil {
			return err
		}
		admitted = true
		return tx.Model(&Bucket{}).
			Where("user_id = ? AND endpoint = ?", userID, endpoint).
			Update("updated_at", now).Error
	})
	if err != nil {
		return false, err
	}
	return admitted, nil
}

// PurgeExpired drops hits older than the window for every key.
func (l *GormLimiter) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := l.now().UTC().Add(-l.policy.Window)
	res := l.db.WithContext(ctx).Where("hit_at <= ?", cutoff).Delete(&Hit{})
	return res.RowsAffected, res.Error
}
