package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TouchUser registers the user if unknown and refreshes last_active.
func (p *Pool) TouchUser(ctx context.Context, userID int64) error {
	return p.WithConnection(ctx, "touch_user", func(ctx context.Context, db *gorm.DB) error {
		return touch(db, userID, time.Now().UTC())
	})
}

// LogDownload records one relayed URL for the user.
func (p *Pool) LogDownload(ctx context.Context, userID int64, url string) error {
	return p.WithConnection(ctx, "log_download", func(ctx context.Context, db *gorm.DB) error {
		now := time.Now().UTC()
		return db.Transaction(func(tx *gorm.DB) error {
			if err := touch(tx, userID, now); err != nil {
				return err
			}
			return tx.Create(&Download{TelegramID: userID, URL: url, CreatedAt: now}).Error
		})
	})
}

// ListUsers returns the most recently active users first.
func (p *Pool) ListUsers(ctx context.Context, limit int) ([]User, error) {
	return WithConnection(ctx, p, "list_users", func(ctx context.Context, db *gorm.DB) ([]User, error) {
		users := []User{}
		q := db.Order("last_active DESC")
		if limit > 0 {
			q = q.Limit(limit)
		}
		if err := q.Find(&users).Error; err != nil {
			return nil, err
		}
		return users, nil
	})
}

// CountDownloads returns how many downloads were logged for the user.
func (p *Pool) CountDownloads(ctx context.Context, userID int64) (int64, error) {
	return WithConnection(ctx, p, "count_downloads", func(ctx context.Context, db *gorm.DB) (int64, error) {
		var n int64
		err := db.Model(&Download{}).Where("telegram_id = ?", userID).Count(&n).Error
		return n, err
	})
}

func touch(db *gorm.DB, userID int64, now time.Time) error {
	user := User{TelegramID: userID, QualityPreference: DefaultQuality, LastActive: now, CreatedAt: now}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "telegram_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_active"}),
	}).Create(&user).Error
}
