// Package interfaces provides the internal collaborator boundaries named
// in spec.md §6 ("External collaborators (required by core)"). They are
// kept separate from the root package to avoid circular imports between
// the engines and their internal implementations.
package interfaces

import "time"

// HeapAllocator is the movable-heap allocator collaborator spec.md §6
// names: alloc/free/resize/size_of plus a compactor gate. A non-movable
// target allocator may implement SetCompactor as a no-op (spec.md §9).
type HeapAllocator interface {
	Alloc(n int) (anchor interface{}, err error)
	Free(anchor interface{})
	Resize(anchor interface{}, n int) (interface{}, bool)
	SizeOf(anchor interface{}) int
	Bytes(anchor interface{}) []byte
	// SetCompactor enables or disables the compactor and returns its
	// previous state.
	SetCompactor(enable bool) (prev bool)
}

// FileSystem is the file-I/O collaborator spec.md §1 places deliberately
// out of scope, specified only at its interface.
type FileSystem interface {
	Open(path string) (ReadCloser, error)
	Create(path string) (WriteCloser, error)
	Remove(path string) error
	Size(path string) (int64, error)
	MkdirAll(path string) error
}

// ReadCloser and WriteCloser avoid importing io into this interface-only
// package while keeping the same method shapes.
type ReadCloser interface {
	Read(p []byte) (n int, err error)
	Close() error
}

type WriteCloser interface {
	Write(p []byte) (n int, err error)
	Close() error
}

// Clock is the monotonic centisecond clock collaborator spec.md §6 names.
type Clock interface {
	Now() time.Time
	// AfterFunc arms a one-shot timer that invokes fn after d elapses,
	// returning a handle that can cancel it. This stands in for the
	// background interrupt-driven timer spec.md §5 describes.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is the handle returned by Clock.AfterFunc.
type Timer interface {
	Stop() bool
}

// Logger is the minimal logging surface every engine depends on.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Observer is the metrics-collection surface; implementations must be
// safe for concurrent use since callbacks fire from scheduler dispatch.
type Observer interface {
	ObserveOfferReceived(kind uint32, estimatedSize uint64)
	ObserveTransferComplete(bytesTransferred uint64, viaMemory bool)
	ObserveTransferFailed(code string)
	ObserveTimeout()
	ObserveDragStart()
	ObserveDragDrop(claimed bool)
	ObserveSchedulerTick(elapsed time.Duration, callbacksRun int)
}

// HostQuery is the outer event-loop multiplexer's pointer-query and
// modifier-key surface, spec.md §1 places out of scope ("pointer
// queries") and §4.3 relies on ("snapshots modifier-key state... a
// user preference for solid-vs-outline drag shapes").
type HostQuery interface {
	// Pointer reports the window and icon currently under the pointer,
	// plus its screen coordinates.
	Pointer() (window, icon uint32, x, y int32)
	// ShiftHeld reports whether the shift modifier is currently down,
	// used by the drag engine to distinguish move from copy.
	ShiftHeld() bool
	// PreferSolidDrag reports the user's drag-box rendering preference.
	PreferSolidDrag() bool
}

// TokenLookup is the "messages-file token lookup service" spec.md §1
// names: translates an opaque error token into a human-readable string.
type TokenLookup interface {
	Lookup(token string) (message string, ok bool)
}
