package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TelemetryRepo persists heartbeat samples and serves rollup queries (§4.6).
type TelemetryRepo struct {
	db *gorm.DB
}

func NewTelemetryRepo(db *gorm.DB) *TelemetryRepo { return &TelemetryRepo{db: db} }

func (r *TelemetryRepo) Insert(ctx context.Context, s *TelemetrySample) error {
	return r.db.WithContext(ctx).Create(s).Error
}

// Granularity selects the rollup bucket width.
type Granularity string

const (
	GranularityRaw  Granularity = "raw"
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
)

// RollupBucket is one aggregated row: avg/min/max/p95 of a single metric
// over one bucket, matching §4.6 "bucket sizes selected by the requested
// granularity ... returning avg/min/max/p95 per bucket per metric".
type RollupBucket struct {
	BucketStart time.Time `gorm:"column:bucket_start"`
	Avg         float64   `gorm:"column:avg_v"`
	Min         float64   `gorm:"column:min_v"`
	Max         float64   `gorm:"column:max_v"`
	P95         float64   `gorm:"column:p95_v"`
}

// Rollup aggregates one metric column (e.g. "cpu", "ram") for nodeID between
// from/to, bucketed by granularity. Postgres' date_trunc backs hour/day
// buckets; raw granularity returns one "bucket" per sample.
func (r *TelemetryRepo) Rollup(ctx context.Context, nodeID uuid.UUID, metric string, from, to time.Time, gran Granularity) ([]RollupBucket, error) {
	if !validMetric(metric) {
		return nil, fmt.Errorf("store: unknown telemetry metric %q", metric)
	}

	var bucketExpr string
	switch gran {
	case GranularityHour:
		bucketExpr = "date_trunc('hour', timestamp)"
	case GranularityDay:
		bucketExpr = "date_trunc('day', timestamp)"
	default:
		bucketExpr = "timestamp"
	}

	var rows []RollupBucket
	err := r.db.WithContext(ctx).
		Table("telemetry_samples").
		Select(fmt.Sprintf(
			"%s AS bucket_start, AVG(%s) AS avg_v, MIN(%s) AS min_v, MAX(%s) AS max_v, "+
				"percentile_cont(0.95) WITHIN GROUP (ORDER BY %s) AS p95_v",
			bucketExpr, metric, metric, metric, metric,
		)).
		Where("node_id = ? AND timestamp BETWEEN ? AND ?", nodeID, from, to).
		Group(bucketExpr).
		Order(bucketExpr).
		Scan(&rows).Error
	return rows, err
}

func validMetric(m string) bool {
	switch m {
	case "cpu", "ram", "disk", "temp_c", "net_rx_bps", "net_tx_bps", "ping_ms":
		return true
	default:
		return false
	}
}
