package deskxfer

import (
	"time"

	"github.com/ehrlich-b/go-deskxfer/internal/bus"
	"github.com/ehrlich-b/go-deskxfer/internal/heap"
	"github.com/ehrlich-b/go-deskxfer/internal/interfaces"
	"github.com/ehrlich-b/go-deskxfer/internal/logging"
	"github.com/ehrlich-b/go-deskxfer/internal/scheduler"
)

// Scheduler is the cooperative idle-callback dispatcher every engine
// registers its periodic work with (spec.md §4.4). It is exported here
// as a type alias so a host embedding deskxfer never has to reach into
// an internal package just to hold a reference to one.
type Scheduler = scheduler.Scheduler

// NewScheduler constructs a Scheduler bound to clock, with each
// Dispatch call bounded by timeSlice (spec.md §4.4's tick-wide budget).
func NewScheduler(clock interfaces.Clock, timeSlice time.Duration) *Scheduler {
	return scheduler.New(clock, timeSlice)
}

// Default* are the one convenience process-wide instance of each engine
// spec.md §9 calls for ("one convenience process-wide instance; do not
// rely on implicit globals" beyond that). A host that only needs a
// single receiver, sender, and drag source may use these directly
// instead of constructing and wiring its own bus, scheduler, and
// allocator. They share one in-process bus.Hub and one Scheduler, so a
// transfer started on DefaultSender can be observed by DefaultReceiver
// without either side touching the network.
//
// Like every engine in this package they are single-threaded by design
// (spec.md §5): a host driving them from more than one goroutine must
// serialize its own calls.
var (
	defaultHub       = bus.NewHub()
	defaultClock     = NewSystemClock()
	defaultScheduler = NewScheduler(defaultClock, DefaultConfig().SchedulerSlice())
	defaultMetrics   = NewMetrics()
	defaultLog       = logging.NewLogger(nil)

	// defaultAlloc/defaultPin are shared by DefaultReceiver and
	// DefaultSender so the heap-pin count spec.md §5 describes is
	// process-wide, not one count per engine over its own private heap.
	defaultAlloc = heap.NewPooledAllocator()
	defaultPin   = heap.NewPinCoordinator(defaultAlloc)

	// DefaultReceiver is the process-wide Receiver convenience instance.
	DefaultReceiver = NewReceiver(defaultHub.Endpoint("default-receiver"), defaultScheduler, defaultAlloc, defaultPin, NewOSFileSystem(), defaultClock, defaultMetrics, defaultLog, DefaultConfig())

	// DefaultSender is the process-wide Sender convenience instance.
	DefaultSender = NewSender(defaultHub.Endpoint("default-sender"), defaultAlloc, defaultPin, NewOSFileSystem(), defaultMetrics, defaultLog)

	// DefaultDrag is the process-wide Drag convenience instance. Its
	// HostQuery is a zero-value StaticHostQuery; a host that wants real
	// pointer and modifier-key state should construct its own Drag with
	// a HostQuery backed by its window system instead of using this one.
	DefaultDrag = NewDrag(defaultHub.Endpoint("default-drag"), defaultScheduler, StaticHostQuery{}, defaultMetrics, defaultLog)
)

func init() {
	DefaultReceiver.Init()
	DefaultSender.Init()
	DefaultDrag.Init()
}

// DefaultDispatch pumps the default bus and dispatches the default
// scheduler once. A host using only the Default* engines can call this
// from its own idle-event callback instead of holding the bus and
// scheduler references itself.
func DefaultDispatch() {
	for defaultHub.Pump() > 0 {
	}
	defaultScheduler.Dispatch()
}
