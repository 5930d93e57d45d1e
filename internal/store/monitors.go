package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MonitorRepo groups persistence for every §4.5 job-family config, mirroring
// the way a single scheduler owns all three families in internal/scheduler.
type MonitorRepo struct {
	db *gorm.DB
}

func NewMonitorRepo(db *gorm.DB) *MonitorRepo { return &MonitorRepo{db: db} }

func (r *MonitorRepo) ListEnabledHTTPConfigs(ctx context.Context) ([]HttpMonitorConfig, error) {
	var cfgs []HttpMonitorConfig
	err := r.db.WithContext(ctx).Where("enabled = ?", true).Find(&cfgs).Error
	return cfgs, err
}

func (r *MonitorRepo) RecordHTTPCheck(ctx context.Context, check *HttpMonitorCheck) error {
	return r.db.WithContext(ctx).Create(check).Error
}

func (r *MonitorRepo) TouchHTTPConfig(ctx context.Context, id uuid.UUID, success bool) error {
	updates := map[string]any{"last_run_at": gormNow()}
	if success {
		updates["last_success_at"] = gormNow()
	}
	return r.db.WithContext(ctx).Model(&HttpMonitorConfig{}).Where("id = ?", id).Updates(updates).Error
}

func (r *MonitorRepo) ListEnabledTrafficConfigs(ctx context.Context) ([]TrafficMonitorConfig, error) {
	var cfgs []TrafficMonitorConfig
	err := r.db.WithContext(ctx).Where("enabled = ?", true).Find(&cfgs).Error
	return cfgs, err
}

func (r *MonitorRepo) RecordTrafficSample(ctx context.Context, sample *TrafficMonitorSample) error {
	return r.db.WithContext(ctx).Create(sample).Error
}

func (r *MonitorRepo) ListEnabledNetworkToolConfigs(ctx context.Context) ([]ScheduledNetworkToolConfig, error) {
	var cfgs []ScheduledNetworkToolConfig
	err := r.db.WithContext(ctx).Where("enabled = ?", true).Find(&cfgs).Error
	return cfgs, err
}

// ListEnabledServiceMonitorsByNode batches §4.5's "batched per-tick queries":
// one query returns every node with at least one enabled ServiceMonitorConfig,
// grouped, instead of one query per node.
func (r *MonitorRepo) ListEnabledServiceMonitorsByNode(ctx context.Context) (map[uuid.UUID][]ServiceMonitorConfig, error) {
	var cfgs []ServiceMonitorConfig
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Find(&cfgs).Error; err != nil {
		return nil, err
	}
	byNode := make(map[uuid.UUID][]ServiceMonitorConfig)
	for _, c := range cfgs {
		byNode[c.NodeID] = append(byNode[c.NodeID], c)
	}
	return byNode, nil
}

func (r *MonitorRepo) TouchServiceMonitor(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&ServiceMonitorConfig{}).Where("id = ?", id).
		Update("last_enqueue_at", gormNow()).Error
}

// LatestServiceStatusSnapshotAt returns the newest ServiceStatusSnapshot
// timestamp for a node, or nil if none exists yet — the §4.5 service-status
// scheduler's min-snapshot-age gate.
func (r *MonitorRepo) LatestServiceStatusSnapshotAt(ctx context.Context, nodeID uuid.UUID) (*time.Time, error) {
	var snap ServiceStatusSnapshot
	err := r.db.WithContext(ctx).Where("node_id = ?", nodeID).Order("created_at DESC").First(&snap).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap.CreatedAt, nil
}

// RecordSnapshots appends one opaque snapshot row per item in data, keyed by
// kind (service_status, smart_drive, gpu, ups) — §3/§9's "no schema
// enforcement beyond the envelope" applies all the way down to storage.
func (r *MonitorRepo) RecordSnapshots(ctx context.Context, nodeID uuid.UUID, kind string, data [][]byte) error {
	now := gormNow()
	switch kind {
	case "service_status":
		rows := make([]ServiceStatusSnapshot, len(data))
		for i, d := range data {
			rows[i] = ServiceStatusSnapshot{NodeID: nodeID, Data: d, CreatedAt: now}
		}
		return r.db.WithContext(ctx).Create(&rows).Error
	case "smart_drive":
		rows := make([]SmartDriveSnapshot, len(data))
		for i, d := range data {
			rows[i] = SmartDriveSnapshot{NodeID: nodeID, Data: d, CreatedAt: now}
		}
		return r.db.WithContext(ctx).Create(&rows).Error
	case "gpu":
		rows := make([]GpuSnapshot, len(data))
		for i, d := range data {
			rows[i] = GpuSnapshot{NodeID: nodeID, Data: d, CreatedAt: now}
		}
		return r.db.WithContext(ctx).Create(&rows).Error
	case "ups":
		rows := make([]UpsSnapshot, len(data))
		for i, d := range data {
			rows[i] = UpsSnapshot{NodeID: nodeID, Data: d, CreatedAt: now}
		}
		return r.db.WithContext(ctx).Create(&rows).Error
	default:
		return nil
	}
}
