package store

import (
	"fmt"
	"strings"
	"time"
)

// Quality is a user's preferred output format.
type Quality string

const (
	// QualityH265 prefers the high-efficiency codec.
	QualityH265 Quality = "h265"

	// QualityH264 prefers the widely compatible codec. This is the default.
	QualityH264 Quality = "h264"

	// QualityAudio extracts the audio track only.
	QualityAudio Quality = "audio"
)

// DefaultQuality is returned whenever a preference is missing or unreadable.
const DefaultQuality = QualityH264

// ParseQuality accepts the stored value or a few friendly aliases.
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "h265", "hevc":
		return QualityH265, nil
	case "h264", "avc", "":
		return QualityH264, nil
	case "audio", "mp3":
		return QualityAudio, nil
	default:
		return "", fmt.Errorf("unknown quality %q", s)
	}
}

// User is one platform identity and its stored preference.
type User struct {
	ID                int64     `gorm:"primaryKey;autoIncrement"`
	TelegramID        int64     `gorm:"column:telegram_id;uniqueIndex;not null"`
	QualityPreference Quality   `gorm:"column:quality_preference;size:16;not null;default:h264"`
	LastActive        time.Time `gorm:"column:last_active"`
	CreatedAt         time.Time
}

// TableName keeps the table name stable regardless of naming strategy.
func (User) TableName() string { return "users" }

// Download is an append-only audit record of one pipeline run.
type Download struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	TelegramID int64     `gorm:"column:telegram_id;index;not null"`
	URL        string    `gorm:"column:url;not null"`
	CreatedAt  time.Time `gorm:"index"`
}

func (Download) TableName() string { return "downloads" }

// AllModels lists every model managed by AutoMigrate.
func AllModels() []any {
	return []any{&User{}, &Download{}}
}
