package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/marmos91/mediarelay/internal/logger"
)

// preferenceCache is a bounded LRU with a TTL. Concurrent misses for the same
// user share one query.
//
// A load only populates the cache if no invalidation happened while it was in
// flight. The epoch is global rather than per user, so an unrelated write may
// cause one extra query; in exchange there is no per-user bookkeeping to bound.
type preferenceCache struct {
	mu    sync.Mutex
	lru   *expirable.LRU[int64, Quality]
	epoch uint64
	group singleflight.Group
}

func newPreferenceCache(size int, ttl time.Duration) *preferenceCache {
	return &preferenceCache{
		lru: expirable.NewLRU[int64, Quality](size, nil, ttl),
	}
}

func (c *preferenceCache) get(userID int64) (Quality, bool) {
	return c.lru.Get(userID)
}

// begin records the epoch a load starts in.
func (c *preferenceCache) begin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// fill stores q unless an invalidation happened since epoch.
func (c *preferenceCache) fill(userID int64, q Quality, epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	c.lru.Add(userID, q)
	return true
}

func (c *preferenceCache) invalidate(userID int64) {
	c.mu.Lock()
	c.epoch++
	c.lru.Remove(userID)
	c.mu.Unlock()

	// Later lookups must not join a flight that started before the write.
	c.group.Forget(flightKey(userID))
}

func (c *preferenceCache) len() int {
	return c.lru.Len()
}

func flightKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// GetUserQuality returns the user's preferred quality. Any failure to read it,
// including a missing row, a pool timeout or a query error, yields
// DefaultQuality so the relay can always proceed.
func (p *Pool) GetUserQuality(ctx context.Context, userID int64) Quality {
	if q, ok := p.prefs.get(userID); ok {
		p.recordLookup(true)
		return q
	}
	p.recordLookup(false)

	// The flight is shared, so it must not die with whichever caller started
	// it. The pool's acquire and exec timeouts still bound it.
	loadCtx := context.WithoutCancel(ctx)
	ch := p.prefs.group.DoChan(flightKey(userID), func() (any, error) {
		epoch := p.prefs.begin()
		q, err := p.loadQuality(loadCtx, userID)
		if err != nil {
			return DefaultQuality, err
		}
		p.prefs.fill(userID, q, epoch)
		return q, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			logger.WarnCtx(ctx, "Falling back to default quality",
				logger.KeyUserID, userID, logger.KeyError, res.Err)
			return DefaultQuality
		}
		return res.Val.(Quality)
	case <-ctx.Done():
		logger.DebugCtx(ctx, "Quality lookup abandoned by caller",
			logger.KeyUserID, userID, logger.KeyError, ctx.Err())
		return DefaultQuality
	}
}

func (p *Pool) loadQuality(ctx context.Context, userID int64) (Quality, error) {
	return WithConnection(ctx, p, "get_user_quality", func(ctx context.Context, db *gorm.DB) (Quality, error) {
		var user User
		err := db.Select("quality_preference").
			Where("telegram_id = ?", userID).
			Take(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return DefaultQuality, nil
		}
		if err != nil {
			return "", err
		}
		q, err := ParseQuality(string(user.QualityPreference))
		if err != nil {
			return DefaultQuality, nil
		}
		return q, nil
	})
}

// SetUserQuality persists the preference and invalidates the cached value, so
// the next GetUserQuality observes the write.
func (p *Pool) SetUserQuality(ctx context.Context, userID int64, q Quality) error {
	if _, err := ParseQuality(string(q)); err != nil {
		return err
	}

	err := p.WithConnection(ctx, "set_user_quality", func(ctx context.Context, db *gorm.DB) error {
		user := User{
			TelegramID:        userID,
			QualityPreference: q,
			LastActive:        time.Now().UTC(),
		}
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "telegram_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"quality_preference", "last_active"}),
		}).Create(&user).Error
	})

	// Invalidate even on failure: the write may have landed before a timeout.
	p.Invalidate(userID)

	if err != nil {
		logger.ErrorCtx(ctx, "Failed to store quality preference",
			logger.KeyUserID, userID, logger.KeyError, err)
		return fmt.Errorf("set quality for user %d: %w", userID, err)
	}
	return nil
}

// Invalidate drops the cached preference for userID.
func (p *Pool) Invalidate(userID int64) {
	p.prefs.invalidate(userID)
}

// CachedPreferences reports the number of live cache entries.
func (p *Pool) CachedPreferences() int {
	return p.prefs.len()
}

func (p *Pool) recordLookup(hit bool) {
	if p.metrics != nil {
		p.metrics.RecordCacheLookup(hit)
	}
}
