package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGzipBytes_RoundTrip(t *testing.T) {
	original := []byte("line one\nline two\nline three\n")

	compressed, err := gzipBytes(original)
	require.NoError(t, err)
	assert.NotEqual(t, original, compressed)

	plain, err := gunzipBytes(compressed)
	require.NoError(t, err)
	assert.Equal(t, original, plain)
}

func TestGunzipBytes_EmptyInputPassesThrough(t *testing.T) {
	plain, err := gunzipBytes(nil)
	require.NoError(t, err)
	assert.Empty(t, plain)
}
