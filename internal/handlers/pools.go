package handlers

import (
	"bytes"
	"sync"
)

const (
	requestBufferSize  = 4 << 10 // request bodies are small JSON objects
	responseBufferSize = 8 << 10 // results with definitions run a few KB
	maxPooledBuffer    = 64 << 10
)

// bufferPool hands out reusable byte buffers of a typical starting size.
// Buffers that grew beyond maxPooledBuffer are dropped instead of pooled.
type bufferPool struct {
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	return &bufferPool{
		pool: sync.Pool{
			New: func() any {
				return bytes.NewBuffer(make([]byte, 0, size))
			},
		},
	}
}

func (p *bufferPool) get() *bytes.Buffer {
	if buf, ok := p.pool.Get().(*bytes.Buffer); ok {
		return buf
	}
	return new(bytes.Buffer)
}

func (p *bufferPool) put(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBuffer {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}

var (
	requestBuffers  = newBufferPool(requestBufferSize)
	responseBuffers = newBufferPool(responseBufferSize)
)
