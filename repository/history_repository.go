package repository

import (
	"strings"
	"time"

	"CoralPlay/model"

	"gorm.io/gorm"
)

// PlayHistory 一条播放历史记录
type PlayHistory struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TrackID   string    `gorm:"size:255;index" json:"trackId"`
	Title     string    `gorm:"size:255" json:"title"`
	Artist    string    `gorm:"size:255" json:"artist"`
	Source    string    `gorm:"size:32" json:"source"`
	Completed bool      `json:"completed"` // 自然播完为 true，被跳过为 false
	PlayedAt  time.Time `gorm:"index" json:"playedAt"`
}

// TableName 指定表名
func (PlayHistory) TableName() string { return "play_history" }

// HistoryRepository 播放历史仓库
type HistoryRepository struct {
	db *gorm.DB
}

// NewHistoryRepository 创建播放历史仓库并迁移表结构
func NewHistoryRepository(db *gorm.DB) (*HistoryRepository, error) {
	if err := db.AutoMigrate(&PlayHistory{}); err != nil {
		return nil, err
	}
	return &HistoryRepository{db: db}, nil
}

// Record 追加一条播放记录
func (r *HistoryRepository) Record(track *model.Track, completed bool) error {
	entry := &PlayHistory{
		TrackID:   track.ID,
		Title:     track.Title,
		Artist:    strings.Join(track.Artists, ", "),
		Source:    track.Source,
		Completed: completed,
		PlayedAt:  time.Now(),
	}
	return r.db.Create(entry).Error
}

// Recent 返回最近的播放记录
func (r *HistoryRepository) Recent(limit int) ([]PlayHistory, error) {
	var entries []PlayHistory
	err := r.db.Order("played_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}
