package manlaberr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelsAreDistinctAndWrappable(t *testing.T) {
	sentinels := []error{
		ErrNotFound, ErrUnauthorized, ErrPolicyViolation, ErrFeatureDisabled,
		ErrConflict, ErrTimeout, ErrTransportFailed, ErrBadRequest, ErrInternal,
	}

	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.False(t, errors.Is(a, b), "sentinels must not alias each other")
		}
	}

	wrapped := fmt.Errorf("session lookup: %w", ErrNotFound)
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrConflict))
}
