// Package opstore implements the generational-index operation arena
// spec.md §9 mandates in place of raw pointer/index arithmetic ("every
// operation handle is a generational index (slot, generation) rather
// than a raw array index, so a stale handle from a completed operation
// can never alias a freshly reused slot"). It is grounded on no single
// teacher file — the teacher's runner.go instead keys state by a fixed
// tag array sized to the device's queue depth — but follows the same
// shape as its TagState-indexed slice, generalized with a generation
// counter per spec.md's explicit design note.
package opstore

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// OperationID identifies a live operation. Index selects a slot in the
// arena; Generation must match the slot's current generation for the
// handle to still be valid, so a handle captured before a Release can
// never be mistaken for whatever gets allocated into the same slot
// afterward.
type OperationID struct {
	Index      uint32
	Generation uint32
}

func (id OperationID) String() string {
	return fmt.Sprintf("%d.%d", id.Index, id.Generation)
}

// Zero is the never-valid sentinel returned by lookups that miss.
var Zero = OperationID{}

type slot[T any] struct {
	generation uint32
	occupied   bool
	token      uuid.UUID
	value      T
}

// Arena is a generational-index store of in-flight operations of type
// T (an engine's per-transfer or per-drag state record). It also
// issues a uuid.UUID external token per live entry, for callers that
// want a stable opaque identifier independent of slot reuse.
type Arena[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []uint32
}

// New creates an empty arena.
func New[T any]() *Arena[T] {
	return &Arena[T]{}
}

// Insert allocates a slot for value and returns its handle and
// external token.
func (a *Arena[T]) Insert(value T) (OperationID, uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	token := uuid.New()
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		s := &a.slots[idx]
		s.occupied = true
		s.token = token
		s.value = value
		return OperationID{Index: idx, Generation: s.generation}, token
	}

	idx := uint32(len(a.slots))
	a.slots = append(a.slots, slot[T]{generation: 1, occupied: true, token: token, value: value})
	return OperationID{Index: idx, Generation: 1}, token
}

// Get returns the value stored at id, and whether the handle is still
// valid (the slot is occupied and its generation matches).
func (a *Arena[T]) Get(id OperationID) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var zero T
	if int(id.Index) >= len(a.slots) {
		return zero, false
	}
	s := &a.slots[id.Index]
	if !s.occupied || s.generation != id.Generation {
		return zero, false
	}
	return s.value, true
}

// Update replaces the value stored at id if the handle is still valid,
// reporting whether the update took effect.
func (a *Arena[T]) Update(id OperationID, value T) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(id.Index) >= len(a.slots) {
		return false
	}
	s := &a.slots[id.Index]
	if !s.occupied || s.generation != id.Generation {
		return false
	}
	s.value = value
	return true
}

// Release frees id's slot, bumping its generation so any copy of this
// handle becomes permanently stale, and returns whether it was valid
// beforehand.
func (a *Arena[T]) Release(id OperationID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(id.Index) >= len(a.slots) {
		return false
	}
	s := &a.slots[id.Index]
	if !s.occupied || s.generation != id.Generation {
		return false
	}
	var zero T
	s.occupied = false
	s.value = zero
	s.generation++
	a.free = append(a.free, id.Index)
	return true
}

// TokenOf returns the external uuid token for id, if still live.
func (a *Arena[T]) TokenOf(id OperationID) (uuid.UUID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(id.Index) >= len(a.slots) {
		return uuid.Nil, false
	}
	s := &a.slots[id.Index]
	if !s.occupied || s.generation != id.Generation {
		return uuid.Nil, false
	}
	return s.token, true
}

// Len reports the number of currently-live entries.
func (a *Arena[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots) - len(a.free)
}

// Each calls fn for every entry live when Each was called, in slot
// order. fn runs with the arena unlocked, so it may call back into the
// arena (for example to Release the entry it was given).
func (a *Arena[T]) Each(fn func(OperationID, T)) {
	a.mu.Lock()
	type pair struct {
		id OperationID
		v  T
	}
	live := make([]pair, 0, len(a.slots)-len(a.free))
	for i := range a.slots {
		s := &a.slots[i]
		if s.occupied {
			live = append(live, pair{OperationID{Index: uint32(i), Generation: s.generation}, s.value})
		}
	}
	a.mu.Unlock()
	for _, p := range live {
		fn(p.id, p.v)
	}
}
