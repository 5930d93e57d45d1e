package store

import (
	"time"

	"github.com/google/uuid"
)

// Node is a registered agent machine (§3 "Node"). Status mutates on
// connect/disconnect/heartbeat/timeout; rows are never soft-deleted —
// deletion is a real DELETE, matching "never destroyed implicitly".
type Node struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	Hostname          string    `gorm:"uniqueIndex;not null"`
	IP                string
	MAC               string
	OS                string
	AgentVersion      string
	PrimaryInterface  string
	Status            string `gorm:"index;not null"` // online | offline | unknown
	Capabilities      []byte // opaque JSON, §9
	LastSeenAt        time.Time
	ConsecutiveFails  int
	NextRetryAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CommandQueueItem is a durable queued command (§3, §4.2).
type CommandQueueItem struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	NodeID      uuid.UUID `gorm:"type:uuid;index;not null"`
	Type        string    `gorm:"not null"`
	Payload     []byte
	Status      string `gorm:"index;not null"` // queued|sent|in_progress|success|failed|cancelled
	Requester   string
	OutputLog   []byte
	Truncated   bool
	Error       string
	CreatedAt   time.Time `gorm:"index"`
	SentAt      *time.Time
	ExecutedAt  *time.Time
	CompletedAt *time.Time
}

// TelemetrySample is one persisted heartbeat (§3, §4.6), indexed by
// (node, timestamp) for rollup queries.
type TelemetrySample struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	NodeID       uuid.UUID `gorm:"type:uuid;index:idx_telemetry_node_ts,priority:1;not null"`
	Timestamp    time.Time `gorm:"index:idx_telemetry_node_ts,priority:2;not null"`
	CPU          float64
	RAM          float64
	Disk         float64
	TempC        float64
	NetRxBps     float64
	NetTxBps     float64
	PingMs       float64
	TopProcesses []byte // opaque JSON array of ProcessUsage
}

// ServiceStatusSnapshot, SmartDriveSnapshot, GpuSnapshot, UpsSnapshot are
// opaque append-only snapshot rows (§9: "no schema enforcement beyond
// top-level field names").
type ServiceStatusSnapshot struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	NodeID    uuid.UUID `gorm:"type:uuid;index;not null"`
	Data      []byte
	CreatedAt time.Time `gorm:"index"`
}

type SmartDriveSnapshot struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	NodeID    uuid.UUID `gorm:"type:uuid;index;not null"`
	Data      []byte
	CreatedAt time.Time `gorm:"index"`
}

type GpuSnapshot struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	NodeID    uuid.UUID `gorm:"type:uuid;index;not null"`
	Data      []byte
	CreatedAt time.Time `gorm:"index"`
}

type UpsSnapshot struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	NodeID    uuid.UUID `gorm:"type:uuid;index;not null"`
	Data      []byte
	CreatedAt time.Time `gorm:"index"`
}

// HttpMonitorConfig / HttpMonitorCheck back the HTTP-monitor job family (§4.5).
type HttpMonitorConfig struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name           string
	URL            string `gorm:"not null"`
	Method         string `gorm:"default:GET"`
	ExpectedStatus int
	BodyKeyword    string
	TimeoutMS      int
	CronSchedule   string `gorm:"not null"`
	Enabled        bool   `gorm:"index"`
	LastRunAt      *time.Time
	LastSuccessAt  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type HttpMonitorCheck struct {
	ID              uint64    `gorm:"primaryKey;autoIncrement"`
	ConfigID        uuid.UUID `gorm:"type:uuid;index;not null"`
	StatusCode      int
	ResponseTimeMS  int64
	KeywordMatched  bool
	TLSDaysLeft     *int
	Error           string
	CreatedAt       time.Time `gorm:"index"`
}

// TrafficMonitorConfig / TrafficMonitorSample back the interface-traffic job (§4.5).
type TrafficMonitorConfig struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	NodeID       uuid.UUID `gorm:"type:uuid;index;not null"`
	Interface    string    `gorm:"not null"`
	LinkSpeedBps int64
	CronSchedule string `gorm:"not null"`
	Enabled      bool   `gorm:"index"`
	LastRunAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type TrafficMonitorSample struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement"`
	ConfigID      uuid.UUID `gorm:"type:uuid;index;not null"`
	RxBytesPerSec float64
	TxBytesPerSec float64
	UtilPercent   *float64
	CreatedAt     time.Time `gorm:"index"`
}

// ScheduledNetworkToolConfig backs the scheduled-network-tool job family (§4.5).
type ScheduledNetworkToolConfig struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	NodeID       uuid.UUID `gorm:"type:uuid;index;not null"`
	Tool         string    `gorm:"not null"` // e.g. "ping", "traceroute"
	Target       string    `gorm:"not null"`
	CronSchedule string    `gorm:"not null"`
	Enabled      bool      `gorm:"index"`
	LastRunAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ServiceMonitorConfig backs the service-status command-enqueuing scheduler (§4.5).
type ServiceMonitorConfig struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	NodeID        uuid.UUID `gorm:"type:uuid;index;not null"`
	ServiceName   string    `gorm:"not null"`
	IntervalS     int
	Enabled       bool `gorm:"index"`
	LastEnqueueAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LogViewerPolicy / FileBrowserPolicy fix the allowed root, a max-bytes cap,
// and a display name for §4.4 session registries.
type LogViewerPolicy struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name         string
	RootPath     string `gorm:"not null"`
	MaxBytes     int64
	CreatedAt    time.Time
}

type FileBrowserPolicy struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string
	RootPath  string `gorm:"not null"`
	MaxBytes  int64
	System    bool // bypasses policy, root "/" — elevated callers only
	CreatedAt time.Time
}

// TerminalSession is the durable/audited half of §4.4's TerminalSession;
// the live cancellation token and I/O wiring live only in internal/toolsession.
type TerminalSession struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	NodeID    uuid.UUID `gorm:"type:uuid;index;not null"`
	Status    string    `gorm:"index;not null"` // open|closed|expired|failed
	CreatedAt time.Time
	ExpiresAt time.Time
	ClosedAt  *time.Time
}

// Setting is a key/value row with a category, per §6.
type Setting struct {
	Key       string `gorm:"primaryKey"`
	Category  string `gorm:"index"`
	Value     string
	UpdatedAt time.Time
}

// AuditEvent is an append-only privileged-transition record (§3, §7).
type AuditEvent struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Kind      string    `gorm:"index;not null"`
	Name      string    `gorm:"not null"`
	ActorID   string
	TargetID  string
	Success   bool
	Data      []byte
	CreatedAt time.Time `gorm:"index"`
}

// AllModels lists every GORM model for AutoMigrate-free reflection needs
// (the schema itself is owned by the embedded SQL migrations; this slice
// only backs tooling like test fixtures that want to TRUNCATE by table).
var AllModels = []any{
	&Node{}, &CommandQueueItem{}, &TelemetrySample{},
	&ServiceStatusSnapshot{}, &SmartDriveSnapshot{}, &GpuSnapshot{}, &UpsSnapshot{},
	&HttpMonitorConfig{}, &HttpMonitorCheck{},
	&TrafficMonitorConfig{}, &TrafficMonitorSample{},
	&ScheduledNetworkToolConfig{}, &ServiceMonitorConfig{},
	&LogViewerPolicy{}, &FileBrowserPolicy{}, &TerminalSession{},
	&Setting{}, &AuditEvent{},
}
