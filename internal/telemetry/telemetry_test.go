package telemetry

import (
	"testing"

	"github.com/manlab-io/manlab/internal/protocol"
	"github.com/stretchr/testify/assert"
)

func TestClassify_CPUBreachTakesPriority(t *testing.T) {
	cfg := Config{CPUThreshold: 90, RAMMBThreshold: 2048}
	p := protocol.ProcessUsage{CPU: 95, RAMMB: 3000}

	kind, value, threshold, breach := classify(p, cfg)
	assert.True(t, breach)
	assert.Equal(t, "cpu_high", kind)
	assert.Equal(t, 95.0, value)
	assert.Equal(t, 90.0, threshold)
}

func TestClassify_RAMBreachWhenCPUBelowThreshold(t *testing.T) {
	cfg := Config{CPUThreshold: 90, RAMMBThreshold: 2048}
	p := protocol.ProcessUsage{CPU: 10, RAMMB: 3000}

	kind, value, threshold, breach := classify(p, cfg)
	assert.True(t, breach)
	assert.Equal(t, "ram_high", kind)
	assert.Equal(t, 3000.0, value)
	assert.Equal(t, 2048.0, threshold)
}

func TestClassify_NoBreachBelowBothThresholds(t *testing.T) {
	cfg := Config{CPUThreshold: 90, RAMMBThreshold: 2048}
	p := protocol.ProcessUsage{CPU: 10, RAMMB: 100}

	_, _, _, breach := classify(p, cfg)
	assert.False(t, breach)
}

func TestClassify_ExactlyAtThresholdBreaches(t *testing.T) {
	cfg := Config{CPUThreshold: 90, RAMMBThreshold: 2048}
	p := protocol.ProcessUsage{CPU: 90, RAMMB: 0}

	kind, _, _, breach := classify(p, cfg)
	assert.True(t, breach, "threshold is inclusive (>=)")
	assert.Equal(t, "cpu_high", kind)
}
