package deskxfer

import (
	"os"
	"time"

	"github.com/ehrlich-b/go-deskxfer/internal/interfaces"
)

// OSFileSystem implements interfaces.FileSystem against the real
// filesystem, grounded on the teacher's backend/mem.go real-vs-stub
// split: FileSystem itself is the narrow interface, and this is its one
// production implementation, the mocks in testing.go its substitute.
type OSFileSystem struct{}

// NewOSFileSystem returns the real-filesystem FileSystem implementation.
func NewOSFileSystem() OSFileSystem { return OSFileSystem{} }

// Open implements interfaces.FileSystem.
func (OSFileSystem) Open(path string) (interfaces.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewError("Open", CodeFileNotFound, path)
		}
		return nil, WrapError("Open", CodeOpenInFail, err)
	}
	return f, nil
}

// Create implements interfaces.FileSystem.
func (OSFileSystem) Create(path string) (interfaces.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, WrapError("Create", CodeOpenOutFail, err)
	}
	return f, nil
}

// Remove implements interfaces.FileSystem.
func (OSFileSystem) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return WrapError("Remove", CodeWriteFail, err)
	}
	return nil
}

// Size implements interfaces.FileSystem.
func (OSFileSystem) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, NewError("Size", CodeFileNotFound, path)
		}
		return 0, WrapError("Size", CodeOpenInFail, err)
	}
	return info.Size(), nil
}

// MkdirAll implements interfaces.FileSystem.
func (OSFileSystem) MkdirAll(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return WrapError("MkdirAll", CodeOpenOutFail, err)
	}
	return nil
}

var _ interfaces.FileSystem = OSFileSystem{}

// SystemClock implements interfaces.Clock against the real wall clock
// and runtime timers.
type SystemClock struct{}

// NewSystemClock returns the real-clock Clock implementation.
func NewSystemClock() SystemClock { return SystemClock{} }

// Now implements interfaces.Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// AfterFunc implements interfaces.Clock.
func (SystemClock) AfterFunc(d time.Duration, fn func()) interfaces.Timer {
	return systemTimer{time.AfterFunc(d, fn)}
}

type systemTimer struct{ t *time.Timer }

func (s systemTimer) Stop() bool { return s.t.Stop() }

var _ interfaces.Clock = SystemClock{}

// StaticHostQuery is a fixed-answer interfaces.HostQuery, standing in
// for the host event-loop's pointer query surface in contexts (like the
// demo CLI) that have no real pointing device to poll.
type StaticHostQuery struct {
	Window, Icon   uint32
	X, Y           int32
	Shift          bool
	PreferSolidBox bool
}

// Pointer implements interfaces.HostQuery.
func (h StaticHostQuery) Pointer() (window, icon uint32, x, y int32) {
	return h.Window, h.Icon, h.X, h.Y
}

// ShiftHeld implements interfaces.HostQuery.
func (h StaticHostQuery) ShiftHeld() bool { return h.Shift }

// PreferSolidDrag implements interfaces.HostQuery.
func (h StaticHostQuery) PreferSolidDrag() bool { return h.PreferSolidBox }

var _ interfaces.HostQuery = StaticHostQuery{}
