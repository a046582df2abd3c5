package internal

import (
	"bytes"
	"sync"
)

// ByteBufferPool recycles bytes.Buffers used to stage encoded frames.
type ByteBufferPool struct {
	pool    sync.Pool
	maxKeep int
}

// NewByteBufferPool returns a pool of buffers with initialSize capacity. Buffers that grew
// beyond maxKeep bytes are dropped instead of being returned to the pool.
func NewByteBufferPool(initialSize, maxKeep int) *ByteBufferPool {
	return &ByteBufferPool{
		maxKeep: maxKeep,
		pool: sync.Pool{
			New: func() any {
				return bytes.NewBuffer(make([]byte, 0, initialSize))
			},
		},
	}
}

func (p *ByteBufferPool) Get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

func (p *ByteBufferPool) Put(buf *bytes.Buffer) {
	if p.maxKeep > 0 && buf.Cap() > p.maxKeep {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}
