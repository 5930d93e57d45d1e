package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStatus_AcceptsKnownVariants(t *testing.T) {
	cases := map[string]string{
		"inProgress":  "in_progress",
		"in_progress": "in_progress",
		"success":     "success",
		"failed":      "failed",
		"cancelled":   "cancelled",
	}
	for in, want := range cases {
		got, ok := normalizeStatus(in)
		assert.True(t, ok, "input %q should be accepted", in)
		assert.Equal(t, want, got)
	}
}

func TestNormalizeStatus_RejectsUnknown(t *testing.T) {
	for _, in := range []string{"", "queued", "canceled", "done"} {
		_, ok := normalizeStatus(in)
		assert.False(t, ok, "input %q should be rejected", in)
	}
}
