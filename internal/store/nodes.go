package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NodeRepo persists Node rows. The in-memory NodeRegistry (internal/registry)
// treats this as the source of truth and itself only caches by id (§5).
type NodeRepo struct {
	db *gorm.DB
}

func NewNodeRepo(db *gorm.DB) *NodeRepo { return &NodeRepo{db: db} }

// Upsert creates-or-updates a Node keyed by hostname, the way the teacher's
// updateHost does an ON CONFLICT upsert, generalized to GORM's clause API.
func (r *NodeRepo) Upsert(ctx context.Context, n *Node) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "hostname"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"ip", "mac", "os", "agent_version", "primary_interface",
			"capabilities", "status", "last_seen_at", "updated_at",
		}),
	}).Create(n).Error
}

func (r *NodeRepo) GetByHostname(ctx context.Context, hostname string) (*Node, error) {
	var n Node
	if err := r.db.WithContext(ctx).Where("hostname = ?", hostname).First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NodeRepo) GetByID(ctx context.Context, id uuid.UUID) (*Node, error) {
	var n Node
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NodeRepo) List(ctx context.Context) ([]Node, error) {
	var nodes []Node
	if err := r.db.WithContext(ctx).Order("hostname").Find(&nodes).Error; err != nil {
		return nil, err
	}
	return nodes, nil
}

// SetStatus updates status, heartbeat backoff counters, and last-seen in one
// write — used both by the happy-path heartbeat and by backoff transitions.
func (r *NodeRepo) SetStatus(ctx context.Context, id uuid.UUID, status string, consecutiveFails int, nextRetryAt *time.Time) error {
	return r.db.WithContext(ctx).Model(&Node{}).Where("id = ?", id).Updates(map[string]any{
		"status":            status,
		"consecutive_fails": consecutiveFails,
		"next_retry_at":     nextRetryAt,
		"last_seen_at":      time.Now(),
		"updated_at":        time.Now(),
	}).Error
}

func (r *NodeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&Node{}).Error
}
