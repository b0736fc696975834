package buffer

import (
	"sync"
	"sync/atomic"

	"gorudp/pkg/logger"
)

// evictionThreshold is the size above which a returned Buffer is dropped
// instead of pooled, so a single oversize message can't grow the pool
// unbounded (spec §4.1).
const evictionThreshold = 64 * 1024

// bucketCount and bucketCap bound the oversize byte-array pool used by
// fragment reassembly: bucket i holds arrays of length MaxSize·2ⁱ, capped
// at bucketCap arrays each (spec §4.1).
const (
	bucketCount = 8
	bucketCap   = 8
)

// Pool is a per-node, thread-safe pool of fixed-MaxSize Buffers plus a
// secondary bucketed pool of oversize byte arrays for reassembly.
type Pool struct {
	maxSize int

	mu   sync.Mutex
	free []*Buffer
	live int64 // outstanding Get/GetOversize calls not yet Put back (§8 invariant 8)
	total int64 // monotonic count of arrays allocated from the OS, diagnostic only

	bmu     sync.Mutex
	buckets [bucketCount][][]byte
}

// NewPool creates a Pool whose Buffers have the given MaxSize, clamped to
// [MinMaxSize, MaxMaxSize].
func NewPool(maxSize int) *Pool {
	if maxSize < MinMaxSize {
		maxSize = MinMaxSize
	}
	if maxSize > MaxMaxSize {
		maxSize = MaxMaxSize
	}
	return &Pool{maxSize: maxSize}
}

// MaxSize returns the configured per-buffer capacity.
func (p *Pool) MaxSize() int { return p.maxSize }

// Get returns a cleared Buffer with cursors at 0, from the pool if one is
// available, otherwise freshly allocated.
func (p *Pool) Get() *Buffer {
	p.mu.Lock()
	n := len(p.free)
	if n > 0 {
		b := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		atomic.AddInt64(&p.live, 1)
		b.Reset()
		b.pooled = false
		return b
	}
	p.mu.Unlock()

	atomic.AddInt64(&p.total, 1)
	atomic.AddInt64(&p.live, 1)
	return newBuffer(p.maxSize)
}

// Put returns a Buffer to the pool. A double-return is rejected and
// logged rather than corrupting the free list; an oversize or wrapped
// buffer is never added to the fixed-size free list, and a wrapped one
// has its backing array returned through the oversize pool instead.
func (p *Pool) Put(b *Buffer) {
	if b == nil {
		return
	}
	p.mu.Lock()
	if b.ret {
		p.mu.Unlock()
		logger.Error("buffer pool: double return detected, ignoring")
		return
	}
	b.ret = true
	wrapped := b.wrapped
	data := b.data
	p.mu.Unlock()

	if wrapped {
		// PutOversize owns the live-count decrement for this checkout.
		p.PutOversize(data)
		return
	}

	p.mu.Lock()
	if len(b.data) <= evictionThreshold {
		b.pooled = true
		p.free = append(p.free, b)
	}
	p.mu.Unlock()
	atomic.AddInt64(&p.live, -1)
}

// AllocationCount reports the number of Buffers/oversize arrays currently
// checked out and not yet returned, for leak diagnostics (spec §4.1, §8
// invariant 8: a healthy run shows this plateau near zero between bursts
// of activity, not grow unbounded).
func (p *Pool) AllocationCount() int64 {
	return atomic.LoadInt64(&p.live)
}

// TotalAllocations reports the monotonic count of arrays ever allocated
// from the OS (cache misses against the free list/buckets), a secondary
// diagnostic distinct from the live outstanding count.
func (p *Pool) TotalAllocations() int64 {
	return atomic.LoadInt64(&p.total)
}

func bucketIndex(maxSize, n int) int {
	size := maxSize
	for i := 0; i < bucketCount; i++ {
		if size >= n {
			return i
		}
		size *= 2
	}
	return bucketCount - 1
}

// GetOversize returns a byte array able to hold at least n bytes, drawn
// from the power-of-two bucketed pool when one is available.
func (p *Pool) GetOversize(n int) []byte {
	idx := bucketIndex(p.maxSize, n)
	size := p.maxSize << uint(idx)
	if size < n {
		// Larger than the biggest bucket: allocated exactly, never pooled.
		atomic.AddInt64(&p.total, 1)
		atomic.AddInt64(&p.live, 1)
		return make([]byte, n)
	}

	p.bmu.Lock()
	bucket := p.buckets[idx]
	if len(bucket) > 0 {
		arr := bucket[len(bucket)-1]
		p.buckets[idx] = bucket[:len(bucket)-1]
		p.bmu.Unlock()
		atomic.AddInt64(&p.live, 1)
		return arr[:n]
	}
	p.bmu.Unlock()

	atomic.AddInt64(&p.total, 1)
	atomic.AddInt64(&p.live, 1)
	return make([]byte, size)[:n]
}

// PutOversize returns a byte array obtained from GetOversize (directly,
// or via Put releasing a WrapOversize-backed Buffer). Arrays larger than
// the biggest bucket are dropped rather than pooled.
func (p *Pool) PutOversize(arr []byte) {
	idx := bucketIndex(p.maxSize, cap(arr))
	full := arr[:cap(arr)]

	p.bmu.Lock()
	if cap(arr) <= p.maxSize<<uint(idx) && len(p.buckets[idx]) < bucketCap {
		p.buckets[idx] = append(p.buckets[idx], full)
	}
	p.bmu.Unlock()
	atomic.AddInt64(&p.live, -1)
}
