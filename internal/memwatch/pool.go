package memwatch

import "sync"

// BufferPool hands out fixed-size byte buffers sized for stream chunks.
// Neither internal/streaming nor internal/httpapi draws from it; the hub only
// hands it to the memory monitor. Drain discards the pool's retained buffers
// outright under memory pressure (§4.7 "returns pooled buffers").
type BufferPool struct {
	size int
	pool sync.Pool
}

func NewBufferPool(size int) *BufferPool {
	p := &BufferPool{size: size}
	p.pool.New = func() any {
		return make([]byte, p.size)
	}
	return p
}

func (p *BufferPool) Get() []byte {
	return p.pool.Get().([]byte)
}

func (p *BufferPool) Put(buf []byte) {
	if cap(buf) != p.size {
		return // wrong-sized buffer, let GC take it instead of poisoning the pool
	}
	p.pool.Put(buf[:p.size]) //nolint:staticcheck // re-slice to full capacity before returning
}

// Drain replaces the underlying sync.Pool with a fresh one, releasing every
// buffer it was holding back to the allocator.
func (p *BufferPool) Drain() {
	p.pool = sync.Pool{New: func() any { return make([]byte, p.size) }}
}
