package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TerminalSessionRepo persists the audited half of terminal sessions (§4.4).
type TerminalSessionRepo struct {
	db *gorm.DB
}

func NewTerminalSessionRepo(db *gorm.DB) *TerminalSessionRepo { return &TerminalSessionRepo{db: db} }

func (r *TerminalSessionRepo) Create(ctx context.Context, s *TerminalSession) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *TerminalSessionRepo) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == "closed" || status == "expired" || status == "failed" {
		now := time.Now()
		updates["closed_at"] = &now
	}
	return r.db.WithContext(ctx).Model(&TerminalSession{}).Where("id = ?", id).Updates(updates).Error
}

// LogViewerPolicyRepo and FileBrowserPolicyRepo persist the allowlist
// policies that §4.4's LogViewerSession/FileBrowserSession validate against.
type LogViewerPolicyRepo struct {
	db *gorm.DB
}

func NewLogViewerPolicyRepo(db *gorm.DB) *LogViewerPolicyRepo { return &LogViewerPolicyRepo{db: db} }

func (r *LogViewerPolicyRepo) Get(ctx context.Context, id uuid.UUID) (*LogViewerPolicy, error) {
	var p LogViewerPolicy
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

type FileBrowserPolicyRepo struct {
	db *gorm.DB
}

func NewFileBrowserPolicyRepo(db *gorm.DB) *FileBrowserPolicyRepo { return &FileBrowserPolicyRepo{db: db} }

func (r *FileBrowserPolicyRepo) Get(ctx context.Context, id uuid.UUID) (*FileBrowserPolicy, error) {
	var p FileBrowserPolicy
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
