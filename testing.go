package deskxfer

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/ehrlich-b/go-deskxfer/internal/interfaces"
)

// MockClock provides a manually-advanced interfaces.Clock for
// deterministic tests, grounded on the teacher's MockBackend call
// tracking style: calls to Now are counted (NowCalls), and time moves
// only through Advance, so tests can assert on scheduling behavior
// without sleeping real time.
type MockClock struct {
	mu        sync.Mutex
	now       time.Time
	timers    []*mockTimer
	nowCalls  int
}

type mockTimer struct {
	due     time.Time
	fn      func()
	stopped bool
}

func (t *mockTimer) Stop() bool {
	already := t.stopped
	t.stopped = true
	return !already
}

// NewMockClock creates a clock starting at the given time.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

// Now implements interfaces.Clock.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowCalls++
	return c.now
}

// AfterFunc implements interfaces.Clock.
func (c *MockClock) AfterFunc(d time.Duration, fn func()) interfaces.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTimer{due: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing any timer whose due
// time has passed.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	due := make([]*mockTimer, 0)
	for _, t := range c.timers {
		if !t.stopped && !t.due.After(c.now) {
			due = append(due, t)
			t.stopped = true
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
}

// NowCalls reports how many times Now was called, for tests asserting
// on clock usage.
func (c *MockClock) NowCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowCalls
}

var _ interfaces.Clock = (*MockClock)(nil)

// MockFileSystem is an in-memory interfaces.FileSystem backed by a map,
// for tests of the sender's scratch-file fallback path and the
// receiver's LoadLocalFile path without touching the real filesystem.
type MockFileSystem struct {
	mu       sync.Mutex
	files    map[string][]byte
	dirs     map[string]bool
	readErrs map[string]error
}

// NewMockFileSystem creates an empty in-memory filesystem.
func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{files: make(map[string][]byte), dirs: make(map[string]bool), readErrs: make(map[string]error)}
}

// FailReadsFor makes every Read against path's handle return err instead
// of the file's real bytes, once any already-buffered bytes are
// exhausted — for tests of the disk-error path distinct from a clean
// io.EOF.
func (fs *MockFileSystem) FailReadsFor(path string, err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.readErrs[path] = err
}

type mockReadCloser struct {
	*bytes.Reader
	failErr error
}

func (r mockReadCloser) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	if err == io.EOF && r.failErr != nil {
		return n, r.failErr
	}
	return n, err
}

func (mockReadCloser) Close() error { return nil }

type mockWriteCloser struct {
	fs   *MockFileSystem
	path string
	buf  bytes.Buffer
}

func (w *mockWriteCloser) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *mockWriteCloser) Close() error {
	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()
	w.fs.files[w.path] = append([]byte(nil), w.buf.Bytes()...)
	return nil
}

// Open implements interfaces.FileSystem.
func (fs *MockFileSystem) Open(path string) (interfaces.ReadCloser, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	data, ok := fs.files[path]
	if !ok {
		return nil, NewError("Open", CodeFileNotFound, path)
	}
	return mockReadCloser{Reader: bytes.NewReader(data), failErr: fs.readErrs[path]}, nil
}

// Create implements interfaces.FileSystem.
func (fs *MockFileSystem) Create(path string) (interfaces.WriteCloser, error) {
	return &mockWriteCloser{fs: fs, path: path}, nil
}

// Remove implements interfaces.FileSystem.
func (fs *MockFileSystem) Remove(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.files, path)
	return nil
}

// Size implements interfaces.FileSystem.
func (fs *MockFileSystem) Size(path string) (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	data, ok := fs.files[path]
	if !ok {
		return 0, NewError("Size", CodeFileNotFound, path)
	}
	return int64(len(data)), nil
}

// MkdirAll implements interfaces.FileSystem.
func (fs *MockFileSystem) MkdirAll(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.dirs[path] = true
	return nil
}

// Put seeds path with data, useful for tests preparing a file for
// LoadLocalFile.
func (fs *MockFileSystem) Put(path string, data []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.files[path] = append([]byte(nil), data...)
}

// Get returns whatever was written to path via Create, for assertions.
func (fs *MockFileSystem) Get(path string) ([]byte, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	data, ok := fs.files[path]
	return data, ok
}

var _ interfaces.FileSystem = (*MockFileSystem)(nil)

// MockHostQuery is a manually-set interfaces.HostQuery for drag engine
// tests, standing in for the host event-loop multiplexer's pointer and
// modifier-key surface.
type MockHostQuery struct {
	mu         sync.Mutex
	window     uint32
	icon       uint32
	x, y       int32
	shiftHeld  bool
	preferSolid bool
}

// NewMockHostQuery creates a MockHostQuery with all fields zeroed.
func NewMockHostQuery() *MockHostQuery {
	return &MockHostQuery{}
}

// Pointer implements interfaces.HostQuery.
func (h *MockHostQuery) Pointer() (window, icon uint32, x, y int32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.window, h.icon, h.x, h.y
}

// ShiftHeld implements interfaces.HostQuery.
func (h *MockHostQuery) ShiftHeld() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shiftHeld
}

// PreferSolidDrag implements interfaces.HostQuery.
func (h *MockHostQuery) PreferSolidDrag() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.preferSolid
}

// SetPointer sets the window/icon/coordinates Pointer reports.
func (h *MockHostQuery) SetPointer(window, icon uint32, x, y int32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.window, h.icon, h.x, h.y = window, icon, x, y
}

// SetShiftHeld sets whether ShiftHeld reports true.
func (h *MockHostQuery) SetShiftHeld(held bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shiftHeld = held
}

// SetPreferSolidDrag sets whether PreferSolidDrag reports true.
func (h *MockHostQuery) SetPreferSolidDrag(solid bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.preferSolid = solid
}

var _ interfaces.HostQuery = (*MockHostQuery)(nil)

// NoOpObserver is a no-op interfaces.Observer, for tests and callers
// that don't want metrics wiring.
type NoOpObserver struct{}

func (NoOpObserver) ObserveOfferReceived(uint32, uint64)         {}
func (NoOpObserver) ObserveTransferComplete(uint64, bool)        {}
func (NoOpObserver) ObserveTransferFailed(string)                {}
func (NoOpObserver) ObserveTimeout()                             {}
func (NoOpObserver) ObserveDragStart()                           {}
func (NoOpObserver) ObserveDragDrop(bool)                        {}
func (NoOpObserver) ObserveSchedulerTick(time.Duration, int)     {}

var _ interfaces.Observer = NoOpObserver{}
