package telemetry

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCooldownTable_SuppressesWithinWindow(t *testing.T) {
	table := newCooldownTable(10)
	key := cooldownKey{NodeID: uuid.New(), PID: 42, Kind: "cpu_high"}
	now := time.Now()

	assert.False(t, table.suppressed(key, now, time.Minute), "first sighting must never be suppressed")
	table.record(key, now)

	assert.True(t, table.suppressed(key, now.Add(30*time.Second), time.Minute))
	assert.False(t, table.suppressed(key, now.Add(2*time.Minute), time.Minute), "cooldown window elapsed")
}

func TestCooldownTable_DistinctKeysDoNotInterfere(t *testing.T) {
	table := newCooldownTable(10)
	node := uuid.New()
	now := time.Now()

	cpuKey := cooldownKey{NodeID: node, PID: 1, Kind: "cpu_high"}
	ramKey := cooldownKey{NodeID: node, PID: 1, Kind: "ram_high"}

	table.record(cpuKey, now)
	assert.True(t, table.suppressed(cpuKey, now, time.Minute))
	assert.False(t, table.suppressed(ramKey, now, time.Minute))
}

func TestCooldownTable_LRUEvictsLeastRecentlyTouched(t *testing.T) {
	table := newCooldownTable(2)
	node := uuid.New()
	now := time.Now()

	k1 := cooldownKey{NodeID: node, PID: 1, Kind: "cpu_high"}
	k2 := cooldownKey{NodeID: node, PID: 2, Kind: "cpu_high"}
	k3 := cooldownKey{NodeID: node, PID: 3, Kind: "cpu_high"}

	table.record(k1, now)
	table.record(k2, now)
	table.record(k3, now) // evicts k1, the table's capacity is 2

	assert.False(t, table.suppressed(k1, now, time.Minute), "k1 should have been evicted")
	assert.True(t, table.suppressed(k2, now, time.Minute))
	assert.True(t, table.suppressed(k3, now, time.Minute))
}

func TestCooldownTable_SweepRemovesStaleEntries(t *testing.T) {
	table := newCooldownTable(10)
	node := uuid.New()
	old := cooldownKey{NodeID: node, PID: 1, Kind: "cpu_high"}
	fresh := cooldownKey{NodeID: node, PID: 2, Kind: "cpu_high"}

	now := time.Now()
	table.record(old, now.Add(-time.Hour))
	table.record(fresh, now)

	table.sweep(10 * time.Minute)

	assert.False(t, table.suppressed(old, now, time.Minute), "stale entry should have been swept")
	assert.True(t, table.suppressed(fresh, now, time.Minute))
}
