package memwatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferPool_GetReturnsCorrectSize(t *testing.T) {
	p := NewBufferPool(1024)
	buf := p.Get()
	assert.Len(t, buf, 1024)
	p.Put(buf)
}

func TestBufferPool_PutDiscardsWrongSizedBuffer(t *testing.T) {
	p := NewBufferPool(1024)
	wrongSize := make([]byte, 4)
	p.Put(wrongSize) // must not panic, and must not corrupt the pool

	buf := p.Get()
	assert.Len(t, buf, 1024)
}

func TestBufferPool_DrainResetsPool(t *testing.T) {
	p := NewBufferPool(64)
	buf := p.Get()
	p.Put(buf)
	p.Drain()

	// after Drain, Get must still produce a correctly-sized buffer from a
	// fresh underlying sync.Pool.
	fresh := p.Get()
	assert.Len(t, fresh, 64)
}
