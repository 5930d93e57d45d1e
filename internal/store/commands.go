package store

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"gorm.io/gorm"
)

// CommandRepo persists CommandQueueItem rows and enforces the status state
// machine at the SQL layer via conditional updates ("update where status =
// X", §5) instead of long-held locks.
type CommandRepo struct {
	db *gorm.DB
}

func NewCommandRepo(db *gorm.DB) *CommandRepo { return &CommandRepo{db: db} }

func (r *CommandRepo) Create(ctx context.Context, c *CommandQueueItem) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *CommandRepo) Get(ctx context.Context, id uuid.UUID) (*CommandQueueItem, error) {
	var c CommandQueueItem
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	if err := inflateOutputLog(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListQueued returns Queued commands for a node, FIFO by created-at then id.
func (r *CommandRepo) ListQueued(ctx context.Context, nodeID uuid.UUID) ([]CommandQueueItem, error) {
	var items []CommandQueueItem
	err := r.db.WithContext(ctx).
		Where("node_id = ? AND status = ?", nodeID, "queued").
		Order("created_at ASC, id ASC").
		Find(&items).Error
	return items, err
}

func (r *CommandRepo) List(ctx context.Context, nodeID uuid.UUID, limit int) ([]CommandQueueItem, error) {
	var items []CommandQueueItem
	q := r.db.WithContext(ctx).Where("node_id = ?", nodeID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&items).Error; err != nil {
		return nil, err
	}
	for i := range items {
		if err := inflateOutputLog(&items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// CompareAndSetStatus transitions id from expectedStatus to newStatus,
// stamping the matching timestamp column. Returns (applied=false, nil) when
// the row was already in a different status — the caller's precondition
// failed, not a database error — rather than an error, so call sites can
// treat a lost race as "someone else already moved it" (§5, §7 Conflict).
func (r *CommandRepo) CompareAndSetStatus(ctx context.Context, id uuid.UUID, expectedStatus, newStatus string, extra map[string]any) (applied bool, err error) {
	updates := map[string]any{"status": newStatus}
	for k, v := range extra {
		updates[k] = v
	}
	switch newStatus {
	case "sent":
		updates["sent_at"] = time.Now()
	case "in_progress":
		updates["executed_at"] = time.Now()
	case "success", "failed", "cancelled":
		updates["completed_at"] = time.Now()
	}

	res := r.db.WithContext(ctx).Model(&CommandQueueItem{}).
		Where("id = ? AND status = ?", id, expectedStatus).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AppendOutput appends bytes to the bounded output log, truncating at capBytes
// and setting Truncated once the cap is exceeded (§4.2). The log is stored
// gzip-compressed at rest — command output is highly repetitive text, and
// this is the one growing-without-bound blob in the schema.
func (r *CommandRepo) AppendOutput(ctx context.Context, id uuid.UUID, chunk []byte, capBytes int) error {
	var c CommandQueueItem
	if err := r.db.WithContext(ctx).Select("output_log", "truncated").Where("id = ?", id).First(&c).Error; err != nil {
		return err
	}
	if c.Truncated {
		return nil
	}
	existing, err := gunzipBytes(c.OutputLog)
	if err != nil {
		return err
	}
	combined := append(existing, chunk...)
	truncated := false
	if len(combined) > capBytes {
		combined = combined[:capBytes]
		combined = append(combined, []byte("\n[truncated]")...)
		truncated = true
	}
	compressed, err := gzipBytes(combined)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&CommandQueueItem{}).Where("id = ?", id).Updates(map[string]any{
		"output_log": compressed,
		"truncated":  truncated,
	}).Error
}

// inflateOutputLog replaces c.OutputLog's gzip-compressed-at-rest bytes with
// the decompressed log, so callers outside this file never see the wire
// format the database stores.
func inflateOutputLog(c *CommandQueueItem) error {
	plain, err := gunzipBytes(c.OutputLog)
	if err != nil {
		return err
	}
	c.OutputLog = plain
	return nil
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// gunzipBytes decompresses b, returning an empty slice unchanged — a fresh
// row's OutputLog is empty, not a valid gzip stream.
func gunzipBytes(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return b, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// HasActiveSince reports whether a node already has a non-terminal command of
// the given type created more recently than since — the §4.5 service-status
// scheduler's pending-cooldown gate, so it never double-enqueues a refresh.
func (r *CommandRepo) HasActiveSince(ctx context.Context, nodeID uuid.UUID, cmdType string, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&CommandQueueItem{}).
		Where("node_id = ? AND type = ? AND status IN ? AND created_at > ?",
			nodeID, cmdType, []string{"queued", "sent", "in_progress"}, since).
		Count(&count).Error
	return count > 0, err
}

// ListStaleSent returns commands stuck in Sent/InProgress past their deadline,
// for the timeout sweep (§4.2 "the command remains Sent until a timeout elapses").
func (r *CommandRepo) ListStaleSent(ctx context.Context, deadline time.Duration) ([]CommandQueueItem, error) {
	cutoff := time.Now().Add(-deadline)
	var items []CommandQueueItem
	err := r.db.WithContext(ctx).
		Where("status IN ? AND sent_at < ?", []string{"sent", "in_progress"}, cutoff).
		Find(&items).Error
	return items, err
}
