package store

import (
	"context"

	"gorm.io/gorm"
)

// AuditRepo persists AuditEvent rows (§3, §7): "emitted on every privileged
// state change; consumed by history views".
type AuditRepo struct {
	db *gorm.DB
}

func NewAuditRepo(db *gorm.DB) *AuditRepo { return &AuditRepo{db: db} }

func (r *AuditRepo) Record(ctx context.Context, e *AuditEvent) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *AuditRepo) ListByKind(ctx context.Context, kind string, limit int) ([]AuditEvent, error) {
	var events []AuditEvent
	q := r.db.WithContext(ctx).Where("kind = ?", kind).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&events).Error
	return events, err
}
