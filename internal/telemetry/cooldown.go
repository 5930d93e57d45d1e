package telemetry

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// cooldownKey identifies one alert stream: a single process, on a single
// node, for a single alert kind (§4.6 "cooldown table keyed by (node, pid,
// kind)").
type cooldownKey struct {
	NodeID uuid.UUID
	PID    int
	Kind   string
}

type cooldownEntry struct {
	key      cooldownKey
	lastSeen time.Time
	elem     *list.Element
}

// cooldownTable suppresses repeated alerts within a cooldown window, bounded
// in size with LRU eviction of the least-recently-touched entry (§4.6 "the
// cooldown table is bounded in size; LRU-style eviction and periodic
// cleanup prevent unbounded growth").
type cooldownTable struct {
	mu    sync.Mutex
	limit int
	lru   *list.List // front = most recently touched
	byKey map[cooldownKey]*cooldownEntry
}

func newCooldownTable(limit int) *cooldownTable {
	if limit <= 0 {
		limit = 10000
	}
	return &cooldownTable{
		limit: limit,
		lru:   list.New(),
		byKey: make(map[cooldownKey]*cooldownEntry),
	}
}

// suppressed reports whether key fired within the cooldown window, without
// recording a new touch — callers decide separately whether to record.
func (t *cooldownTable) suppressed(key cooldownKey, now time.Time, cooldown time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.byKey[key]
	if !ok {
		return false
	}
	return now.Sub(entry.lastSeen) < cooldown
}

// record touches key, moving it to the front of the LRU and evicting the
// tail entry if the table is at capacity.
func (t *cooldownTable) record(key cooldownKey, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.byKey[key]; ok {
		entry.lastSeen = now
		t.lru.MoveToFront(entry.elem)
		return
	}

	entry := &cooldownEntry{key: key, lastSeen: now}
	entry.elem = t.lru.PushFront(entry)
	t.byKey[key] = entry

	for len(t.byKey) > t.limit {
		tail := t.lru.Back()
		if tail == nil {
			break
		}
		evicted := tail.Value.(*cooldownEntry)
		t.lru.Remove(tail)
		delete(t.byKey, evicted.key)
	}
}

// sweep removes every entry whose cooldown window has long since elapsed —
// periodic cleanup, independent of LRU eviction, for keys that simply never
// recur (§4.6 "periodic cleanup").
func (t *cooldownTable) sweep(maxAge time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for e := t.lru.Back(); e != nil; {
		entry := e.Value.(*cooldownEntry)
		if entry.lastSeen.After(cutoff) {
			break // list is ordered most-recent-front; rest are newer
		}
		prev := e.Prev()
		t.lru.Remove(e)
		delete(t.byKey, entry.key)
		e = prev
	}
}

// RunSweeper periodically sweeps cooldown entries older than maxAge.
func (e *Evaluator) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cooldown.sweep(maxAge)
		}
	}
}
