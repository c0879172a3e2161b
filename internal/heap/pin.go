package heap

import "sync"

// PinCoordinator is the reference-counted pin/unpin gate spec.md §5
// requires around any raw pointer into a movable-heap buffer that
// survives a suspension point (spec.md §9: "resolved by introducing a
// heap-pin coordinator that ref-counts pins and disables the
// compactor only while the count is nonzero"). It delegates the actual
// 0<->1 edge to the wrapped allocator's SetCompactor hook rather than
// toggling it on every Pin/Unpin call, so nested pins from several
// operations concurrently touching the same heap don't thrash it.
type PinCoordinator struct {
	alloc interface{ SetCompactor(bool) bool }
	mu    sync.Mutex
	count int
}

// NewPinCoordinator wraps alloc, whose SetCompactor it drives at the
// 0↔1 pin-count edges.
func NewPinCoordinator(alloc *PooledAllocator) *PinCoordinator {
	return &PinCoordinator{alloc: alloc}
}

// Pin increments the outstanding-pin count, disabling the allocator's
// compactor on the 0->1 transition.
func (p *PinCoordinator) Pin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	if p.count == 1 {
		p.alloc.SetCompactor(false)
	}
}

// Unpin decrements the outstanding-pin count, re-enabling the
// allocator's compactor on the 1->0 transition. Calling Unpin more
// times than Pin is a caller bug; it is a no-op once the count reaches
// zero rather than going negative.
func (p *PinCoordinator) Unpin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count == 0 {
		return
	}
	p.count--
	if p.count == 0 {
		p.alloc.SetCompactor(true)
	}
}

// Count reports the current outstanding-pin count, for tests.
func (p *PinCoordinator) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}
