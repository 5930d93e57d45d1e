package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingsRepo persists key/value Settings rows with a category (§6).
type SettingsRepo struct {
	db *gorm.DB
}

func NewSettingsRepo(db *gorm.DB) *SettingsRepo { return &SettingsRepo{db: db} }

func (r *SettingsRepo) Get(ctx context.Context, key string) (string, error) {
	var s Setting
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&s).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func (r *SettingsRepo) Set(ctx context.Context, key, category, value string) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "category", "updated_at"}),
	}).Create(&Setting{Key: key, Category: category, Value: value, UpdatedAt: time.Now()}).Error
}

func (r *SettingsRepo) ListByCategory(ctx context.Context, category string) ([]Setting, error) {
	var settings []Setting
	err := r.db.WithContext(ctx).Where("category = ?", category).Find(&settings).Error
	return settings, err
}
