// Package heap implements the heap-pin coordinator (spec.md §4, ~4% of
// the core) and a default movable-heap allocator collaborator, grounded
// on the teacher's internal/queue/pool.go sync.Pool-bucketed buffer
// pool. spec.md §6 treats the allocator itself as an external
// collaborator ("Movable-heap allocator: alloc/free/resize/size_of/
// set_compactor"); PooledAllocator is this repo's concrete stand-in for
// it, used by tests and the demo CLI in place of a real platform
// allocator.
package heap

import (
	"sync"

	"github.com/ehrlich-b/go-deskxfer/internal/interfaces"
)

// bucket sizes mirror the teacher's pool.go power-of-2 scheme. The
// smallest bucket is 1 KiB, so a receive buffer at the 256-byte default
// floor is served from it.
const (
	size1k   = 1 << 10
	size4k   = 1 << 12
	size64k  = 1 << 16
	size1m   = 1 << 20
	size16m  = 1 << 24
)

var bucketSizes = []int{size1k, size4k, size64k, size1m, size16m}

// PooledAllocator is a sync.Pool-bucketed HeapAllocator. Anchors are
// *anchor values; Bytes/Resize/Free all type-assert on them, consistent
// with interfaces.HeapAllocator's opaque-anchor contract.
type PooledAllocator struct {
	pools      []sync.Pool
	compactorOn bool
	mu         sync.Mutex
}

type anchor struct {
	buf    []byte
	bucket int // index into bucketSizes, or -1 for an oversize one-off allocation
}

// NewPooledAllocator creates an allocator whose compactor starts enabled
// (the default a movable heap would have before anything pins it).
func NewPooledAllocator() *PooledAllocator {
	a := &PooledAllocator{compactorOn: true}
	a.pools = make([]sync.Pool, len(bucketSizes))
	for i, sz := range bucketSizes {
		sz := sz
		a.pools[i].New = func() any { b := make([]byte, sz); return &b }
	}
	return a
}

func bucketFor(n int) int {
	for i, sz := range bucketSizes {
		if n <= sz {
			return i
		}
	}
	return -1
}

// Alloc satisfies interfaces.HeapAllocator.
func (a *PooledAllocator) Alloc(n int) (interface{}, error) {
	b := bucketFor(n)
	if b < 0 {
		return &anchor{buf: make([]byte, n), bucket: -1}, nil
	}
	p := a.pools[b].Get().(*[]byte)
	buf := (*p)[:n]
	return &anchor{buf: buf, bucket: b}, nil
}

// Free satisfies interfaces.HeapAllocator.
func (a *PooledAllocator) Free(v interface{}) {
	an, ok := v.(*anchor)
	if !ok || an.bucket < 0 {
		return
	}
	full := an.buf[:cap(an.buf)]
	a.pools[an.bucket].Put(&full)
}

// Resize satisfies interfaces.HeapAllocator. It grows in place when the
// existing bucket has room, otherwise it allocates a new block and
// copies — a movable heap's "resize" operation, which is exactly the
// moment a pin matters (spec.md §9's "raw pointer into a buffer across a
// suspension point").
func (a *PooledAllocator) Resize(v interface{}, n int) (interface{}, bool) {
	an, ok := v.(*anchor)
	if !ok {
		return v, false
	}
	if an.bucket >= 0 && n <= bucketSizes[an.bucket] {
		an.buf = an.buf[:n]
		return an, true
	}
	next, err := a.Alloc(n)
	if err != nil {
		return v, false
	}
	na := next.(*anchor)
	copy(na.buf, an.buf)
	a.Free(an)
	return na, true
}

// SizeOf satisfies interfaces.HeapAllocator.
func (a *PooledAllocator) SizeOf(v interface{}) int {
	an, ok := v.(*anchor)
	if !ok {
		return 0
	}
	return len(an.buf)
}

// Bytes satisfies interfaces.HeapAllocator.
func (a *PooledAllocator) Bytes(v interface{}) []byte {
	an, ok := v.(*anchor)
	if !ok {
		return nil
	}
	return an.buf
}

// SetCompactor satisfies interfaces.HeapAllocator. PooledAllocator has no
// real compactor to gate (Go's GC already relocates nothing it hands out
// via make()), so this only tracks the requested state for observability
// and for PinCoordinator's invariant bookkeeping.
func (a *PooledAllocator) SetCompactor(enable bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.compactorOn
	a.compactorOn = enable
	return prev
}

// CompactorEnabled reports the allocator's current compactor state, for
// tests asserting PinCoordinator's 0<->1 edge behavior.
func (a *PooledAllocator) CompactorEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.compactorOn
}

var _ interfaces.HeapAllocator = (*PooledAllocator)(nil)
