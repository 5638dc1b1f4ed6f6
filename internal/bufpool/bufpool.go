// Package bufpool implements the recyclable byte-buffer allocator (C2):
// capacity-class free lists backed by github.com/valyala/bytebufferpool,
// with a soft idle-count cap per class and a soft total-bytes cap across
// classes. RawFrame.Close returns its buffer here.
package bufpool

import (
	"sort"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"

	"github.com/streamhub/livecore/internal/config"
)

type class struct {
	capacity int
	pool     bytebufferpool.Pool
	idle     atomic.Int64
	maxIdle  int64
}

// takeIdle decrements idle only if a buffer was actually sitting idle,
// leaving the counter at 0 rather than going negative when Get is called
// on a class with nothing checked in (e.g. its very first Get). Put is the
// only place idle is incremented, so this keeps idle an accurate count of
// buffers currently parked in pool rather than of every Get call made.
func (c *class) takeIdle() {
	for {
		cur := c.idle.Load()
		if cur <= 0 {
			return
		}
		if c.idle.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Pool is the process-wide buffer allocator. Entries are freed under memory
// pressure by the maximum-idle-per-class and maximum-total-bytes policy
// (both configurable); allocation past either cap falls back to the system
// allocator rather than blocking (spec §5, "Shared-resource policy").
type Pool struct {
	classes    []*class
	totalBytes atomic.Int64
	maxTotal   int64
}

// New builds a Pool from the buffer section of the application config.
// Classes may be given in any order (New sorts them); requests are rounded up to
// the next class able to satisfy them.
func New(cfg config.BufferPoolConfig) *Pool {
	sizes := append([]int(nil), cfg.Classes...)
	sort.Ints(sizes)

	p := &Pool{maxTotal: int64(cfg.MaxTotalBytes)}
	for _, size := range sizes {
		p.classes = append(p.classes, &class{capacity: size, maxIdle: int64(cfg.MaxIdlePerClass)})
	}
	return p
}

// Buffer is a pooled byte slice plus the class it was drawn from (nil class
// means it fell back to the system allocator and Put is a no-op for it).
type Buffer struct {
	B   []byte
	cls *class
	bb  *bytebufferpool.ByteBuffer
}

// Get returns a Buffer whose length is size and whose backing capacity is
// the smallest configured class able to hold it. Requests larger than every
// class, or made while the pool is over its total-bytes budget, allocate
// directly.
func (p *Pool) Get(size int) *Buffer {
	for _, c := range p.classes {
		if size > c.capacity {
			continue
		}
		if p.maxTotal > 0 && p.totalBytes.Load()+int64(c.capacity) > p.maxTotal {
			break
		}
		bb := c.pool.Get()
		if cap(bb.B) < c.capacity {
			bb.B = make([]byte, c.capacity)
		}
		bb.B = bb.B[:size]
		c.takeIdle()
		p.totalBytes.Add(int64(c.capacity))
		return &Buffer{B: bb.B, cls: c, bb: bb}
	}
	return &Buffer{B: make([]byte, size)}
}

// Put returns a buffer's storage to its class free list, unless the class
// has hit its idle cap, in which case the buffer is dropped for the GC to
// reclaim.
func (p *Pool) Put(buf *Buffer) {
	if buf == nil || buf.cls == nil {
		return
	}
	c := buf.cls
	p.totalBytes.Add(-int64(c.capacity))
	if c.maxIdle > 0 && c.idle.Load() >= c.maxIdle {
		return
	}
	c.idle.Add(1)
	buf.bb.B = buf.bb.B[:0]
	c.pool.Put(buf.bb)
}

// TotalBytes returns the pool's current outstanding allocation across all
// classes (buffers currently checked out, not idle ones).
func (p *Pool) TotalBytes() int64 {
	return p.totalBytes.Load()
}
