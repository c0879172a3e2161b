package deskxfer

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-deskxfer/internal/bus"
	"github.com/ehrlich-b/go-deskxfer/internal/constants"
	"github.com/ehrlich-b/go-deskxfer/internal/heap"
	"github.com/ehrlich-b/go-deskxfer/internal/interfaces"
	"github.com/ehrlich-b/go-deskxfer/internal/logging"
	"github.com/ehrlich-b/go-deskxfer/internal/opstore"
	"github.com/ehrlich-b/go-deskxfer/internal/scheduler"
	"github.com/ehrlich-b/go-deskxfer/internal/tokens"
	"github.com/ehrlich-b/go-deskxfer/internal/wire"
)

// OfferDescriptor is a client-visible copy of an incoming transfer
// offer (spec.md §3 "offer: OfferDescriptor").
type OfferDescriptor struct {
	Peer wire.PeerID
	// Ref is the originating OfferData message's my-ref. ReceiveData
	// must be given the real value from wherever the offer came from
	// (an inbound OfferData, or a drag engine hand-off) so the
	// receiver's replies carry the your-ref the sender is expecting.
	Ref           uint32
	FileKind      uint32
	LeafName      string
	EstimatedSize int64
	DestWindow    uint32
	DestIcon      uint32
	DX, DY        int32
}

// OnDataFunc is invoked once a receive completes, handing ownership of
// data to the client (spec.md §3: "on success, ownership is transferred
// to the client via the callback").
type OnDataFunc func(offer OfferDescriptor, data []byte)

// OnFailFunc is invoked on failure. err is nil for Cancelled and
// TimedOut (spec.md §7: "indistinguishable from cancelled at the wire,
// by design"); otherwise it is a *Error.
type OnFailFunc func(err error)

type receiverState int

const (
	stateOffered receiverState = iota
	stateAwaitMemoryPush
	stateFallbackAwaitFile
	stateDone
	stateFailed
	stateTimedOut
)

type receiverOp struct {
	state       receiverState
	lastSent    tokens.LastSent
	bytesReceived uint64
	peerSupportsMemory bool
	heapPinHeld bool
	timeoutScheduled bool
	anchor      interface{}
	bufCap      int
	lastWindow  uint32
	onData      OnDataFunc
	onFail      OnFailFunc
	handle      interface{}
	offer       OfferDescriptor
}

const tokenReceiverTimeout scheduler.FuncToken = 100

// Receiver implements spec.md §4.1's receiver state machine.
type Receiver struct {
	bus   bus.Bus
	sched *scheduler.Scheduler
	alloc *heap.PooledAllocator
	pin   *heap.PinCoordinator
	fs    interfaces.FileSystem
	clock interfaces.Clock
	obs   interfaces.Observer
	log   *logging.Logger
	cfg   *Config

	ops     *opstore.Arena[*receiverOp]
	onOffer OnOfferFunc
}

// NewReceiver constructs a Receiver. init() still must be called before
// use, matching the teacher's explicit two-phase construct/init split.
// pin must be the same PinCoordinator passed to every other engine
// sharing alloc, so the pin count spec.md §5 describes is process-wide
// rather than scoped to one engine's view of the heap.
func NewReceiver(b bus.Bus, sched *scheduler.Scheduler, alloc *heap.PooledAllocator, pin *heap.PinCoordinator, fs interfaces.FileSystem, clock interfaces.Clock, obs interfaces.Observer, log *logging.Logger, cfg *Config) *Receiver {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Receiver{
		bus:   b,
		sched: sched,
		alloc: alloc,
		pin:   pin,
		fs:    fs,
		clock: clock,
		obs:   obs,
		log:   log.Named("receiver"),
		cfg:   cfg,
		ops:   opstore.New[*receiverOp](),
	}
}

// Init installs message handlers for OfferData, MemoryPush, FileLoad
// and BounceAck (spec.md §4.1).
func (r *Receiver) Init() {
	r.bus.InstallHandler(wire.KindOfferData, r.handleOfferData)
	r.bus.InstallHandler(wire.KindMemoryPush, r.handleMemoryPush)
	r.bus.InstallHandler(wire.KindFileLoad, r.handleFileLoad)
	r.bus.InstallHandler(wire.KindBounceAck, r.handleBounceAck)
}

// ReceiveData enters offer into the state machine. It is the programmatic
// counterpart to an inbound OfferData message arriving on the bus —
// exposed publicly so a client that already possesses an offer (e.g. one
// constructed by the drag engine's post-drop handoff) can drive the same
// path without round-tripping it through the bus.
//
// ctx is checked once, at entry: a context that is already done aborts
// the call before any state is created. The engine is single-threaded
// by design (spec.md §5), so ctx.Done() is not watched in the
// background for the operation's lifetime — a goroutine racing
// CancelReceives against the cooperative dispatch loop would violate
// that invariant. Mid-flight host-driven cancellation remains
// CancelReceives, called from the host's own loop. ctx may be nil.
func (r *Receiver) ReceiveData(ctx context.Context, offer OfferDescriptor, onData OnDataFunc, onFail OnFailFunc, handle interface{}) (opstore.OperationID, error) {
	if ctx != nil && ctx.Err() != nil {
		return opstore.OperationID{}, WrapError("ReceiveData", CodeCancelled, ctx.Err())
	}
	msg := &wire.TransferMsg{
		Kind:          wire.KindOfferData,
		Sender:        offer.Peer,
		MyRef:         offer.Ref,
		DestWindow:    offer.DestWindow,
		DestIcon:      offer.DestIcon,
		DX:            offer.DX,
		DY:            offer.DY,
		EstimatedSize: offer.EstimatedSize,
		FileKind:      offer.FileKind,
		LeafName:      offer.LeafName,
	}
	return r.beginOperation(msg, onData, onFail, handle)
}

// OnOfferFunc is the host policy invoked for every inbound OfferData
// that did not originate from a local ReceiveData call (e.g. a plain
// unsolicited transfer from another peer, as opposed to a drag-and-drop
// hand-off the host already knows about). Returning accept=false leaves
// the OfferData unclaimed, bouncing it back to the sender.
type OnOfferFunc func(offer OfferDescriptor) (onData OnDataFunc, onFail OnFailFunc, handle interface{}, accept bool)

// SetOfferHandler installs the host policy for unsolicited inbound
// offers. Without one, handleOfferData accepts every offer with no
// client callbacks, silently discarding the data once received.
func (r *Receiver) SetOfferHandler(fn OnOfferFunc) {
	r.onOffer = fn
}

func (r *Receiver) handleOfferData(env bus.Envelope) bool {
	msg, ok := env.Payload.(*wire.TransferMsg)
	if !ok || msg.Kind != wire.KindOfferData {
		return false
	}

	var onData OnDataFunc
	var onFail OnFailFunc
	var handle interface{}
	if r.onOffer != nil {
		offer := OfferDescriptor{
			Peer:          msg.Sender,
			Ref:           msg.MyRef,
			FileKind:      msg.FileKind,
			LeafName:      msg.LeafName,
			EstimatedSize: msg.EstimatedSize,
			DestWindow:    msg.DestWindow,
			DestIcon:      msg.DestIcon,
			DX:            msg.DX,
			DY:            msg.DY,
		}
		var accept bool
		onData, onFail, handle, accept = r.onOffer(offer)
		if !accept {
			return false
		}
	}

	_, err := r.beginOperation(msg, onData, onFail, handle)
	if err != nil {
		r.log.Warnf("rejected offer from %s: %v", env.From, err)
	}
	return true
}

func (r *Receiver) beginOperation(msg *wire.TransferMsg, onData OnDataFunc, onFail OnFailFunc, handle interface{}) (opstore.OperationID, error) {
	kind := msg.FileKind
	offer := OfferDescriptor{
		Peer:          msg.Sender,
		Ref:           msg.MyRef,
		FileKind:      kind,
		LeafName:      msg.LeafName,
		EstimatedSize: msg.EstimatedSize,
		DestWindow:    msg.DestWindow,
		DestIcon:      msg.DestIcon,
		DX:            msg.DX,
		DY:            msg.DY,
	}

	op := &receiverOp{
		state:  stateOffered,
		onData: onData,
		onFail: onFail,
		handle: handle,
		offer:  offer,
	}

	r.obs.ObserveOfferReceived(kind, uint64(msg.EstimatedSize))

	supportsMemory := true // every peer on this bus speaks MemoryPull/Push; a real host would consult the offer's capability bits
	if supportsMemory {
		initialCap := r.cfg.ReceiveBufSize
		if want := int(msg.EstimatedSize) + 1; want > initialCap {
			initialCap = want
		}
		anchor, err := r.alloc.Alloc(initialCap)
		if err != nil {
			return opstore.Zero, NewError("ReceiveData", CodeOutOfMemory, "failed to allocate receive buffer")
		}
		op.anchor = anchor
		op.bufCap = initialCap
		op.state = stateAwaitMemoryPush

		id, _ := r.ops.Insert(op)
		r.pin.Pin()
		op.heapPinHeld = true
		r.sendMemoryPull(id, op, msg.Sender, msg.MyRef, uint32(initialCap))
		r.scheduleTimeout(id)
		return id, nil
	}

	op.state = stateFallbackAwaitFile
	id, _ := r.ops.Insert(op)
	r.sendScrapAck(id, op, msg.Sender, msg.MyRef)
	r.scheduleTimeout(id)
	return id, nil
}

func (r *Receiver) sendMemoryPull(id opstore.OperationID, op *receiverOp, peer wire.PeerID, yourRef uint32, window uint32) {
	pull := &wire.MemoryPullMsg{
		Sender:            r.bus.Self(),
		YourRef:           yourRef,
		PeerBufferAddress: uint64(id.Index)<<32 | uint64(id.Generation),
		PeerBufferSize:    window,
	}
	ref := r.bus.Send(peer, wire.KindMemoryPull, pull, true)
	op.lastSent.Set("MemoryPull", ref)
	op.lastWindow = window
}

func (r *Receiver) sendScrapAck(id opstore.OperationID, op *receiverOp, peer wire.PeerID, yourRef uint32) {
	ack := &wire.TransferMsg{
		Kind:          wire.KindScrapAck,
		Sender:        r.bus.Self(),
		YourRef:       yourRef,
		EstimatedSize: wire.UnsafeEstimatedSize,
		LeafName:      scratchPathFor(id, r.cfg),
	}
	ref := r.bus.Send(peer, wire.KindScrapAck, ack, false)
	op.lastSent.Set("ScrapAck", ref)
}

func (r *Receiver) scheduleTimeout(id opstore.OperationID) {
	op, ok := r.ops.Get(id)
	if !ok {
		return
	}
	op.timeoutScheduled = true
	due := r.clock.Now().Add(r.cfg.DataLoadWait())
	r.sched.Register(tokenReceiverTimeout, id, due, constants.DefaultCallbackPriority, r.onTimeout)
}

func (r *Receiver) onTimeout(handle interface{}, now time.Time, timeUp *atomic.Bool) time.Time {
	id := handle.(opstore.OperationID)
	op, ok := r.ops.Get(id)
	if !ok {
		return now
	}
	if op.state == stateDone || op.state == stateFailed || op.state == stateTimedOut {
		return now
	}
	r.obs.ObserveTimeout()
	op.state = stateTimedOut
	r.teardown(id, op)
	if op.onFail != nil {
		op.onFail(nil)
	}
	return now
}

func (r *Receiver) handleMemoryPush(env bus.Envelope) bool {
	msg, ok := env.Payload.(*wire.MemoryPushMsg)
	if !ok {
		return false
	}
	id, op := r.findByRef(msg.YourRef, "MemoryPull")
	if op == nil || op.state != stateAwaitMemoryPush {
		return false
	}
	op.peerSupportsMemory = true

	if msg.BytesWritten > op.lastWindow || msg.BytesWritten > uint32(len(msg.Data)) {
		r.fail(id, op, NewError("ReceiveData", CodeBufferOverflow, "peer wrote past advertised buffer window"))
		return true
	}

	buf := r.alloc.Bytes(op.anchor)
	n := copy(buf[op.bytesReceived:], msg.Data[:msg.BytesWritten])
	op.bytesReceived += uint64(n)

	if msg.BytesWritten < op.lastWindow {
		// short frame: peer had less than the full window to offer, the
		// transfer is complete (spec.md §4.1).
		r.completeViaMemory(id, op)
		return true
	}

	if int(op.bytesReceived) >= op.bufCap {
		newCap := op.bufCap * r.cfg.BufferGrowthFactor
		grown, ok := r.alloc.Resize(op.anchor, newCap)
		if !ok {
			r.fail(id, op, NewError("ReceiveData", CodeOutOfMemory, "failed to grow receive buffer"))
			return true
		}
		op.anchor = grown
		op.bufCap = newCap
	}
	r.sendMemoryPull(id, op, env.From, msg.MyRef, uint32(op.bufCap-int(op.bytesReceived)))
	return true
}

func (r *Receiver) completeViaMemory(id opstore.OperationID, op *receiverOp) {
	data := append([]byte(nil), r.alloc.Bytes(op.anchor)[:op.bytesReceived]...)
	r.obs.ObserveTransferComplete(op.bytesReceived, true)
	r.teardown(id, op)
	if op.onData != nil {
		op.onData(op.offer, data)
	}
}

func (r *Receiver) handleBounceAck(env bus.Envelope) bool {
	msg, ok := env.Payload.(*wire.BounceAckMsg)
	if !ok {
		return false
	}
	id, op := r.findByRef(msg.MyRef, "MemoryPull")
	if op == nil || op.state != stateAwaitMemoryPush {
		return false
	}
	if !op.peerSupportsMemory {
		if op.heapPinHeld {
			r.pin.Unpin()
			op.heapPinHeld = false
		}
		r.alloc.Free(op.anchor)
		op.anchor = nil
		op.state = stateFallbackAwaitFile
		r.sendScrapAck(id, op, op.offer.Peer, op.offer.Ref)
		return true
	}
	r.fail(id, op, nil)
	return true
}

func (r *Receiver) handleFileLoad(env bus.Envelope) bool {
	msg, ok := env.Payload.(*wire.TransferMsg)
	if !ok || msg.Kind != wire.KindFileLoad {
		return false
	}
	id, op := r.findByRef(msg.YourRef, "ScrapAck")
	if op == nil || op.state != stateFallbackAwaitFile {
		return false
	}
	if op.offer.FileKind != constants.NullFileKind && msg.FileKind != op.offer.FileKind {
		r.fail(id, op, nil)
		return true
	}

	rc, err := r.fs.Open(msg.LeafName)
	if err != nil {
		r.fail(id, op, WrapError("ReceiveData", CodeOpenInFail, err))
		return true
	}
	defer rc.Close()

	data := make([]byte, 0, msg.EstimatedSize)
	buf := make([]byte, 32*1024)
	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if rerr != nil {
			if rerr != io.EOF {
				r.fs.Remove(msg.LeafName)
				r.fail(id, op, WrapError("ReceiveData", CodeReadFail, rerr))
				return true
			}
			break
		}
	}
	r.fs.Remove(msg.LeafName)

	ack := &wire.TransferMsg{Kind: wire.KindFileLoadAck, Sender: r.bus.Self(), YourRef: msg.MyRef}
	r.bus.Send(env.From, wire.KindFileLoadAck, ack, false)

	r.obs.ObserveTransferComplete(uint64(len(data)), false)
	r.teardown(id, op)
	if op.onData != nil {
		op.onData(op.offer, data)
	}
	return true
}

// LoadLocalFile bypasses the bus entirely: it opens path and delivers it
// to the client through the same on_data contract a remote transfer
// would use (spec.md §4.1). It returns true once the data has been
// handed to onData, and false if the file cannot be opened or read or
// onData is nil; OnDataFunc has no return value, so the client cannot
// decline the data.
func (r *Receiver) LoadLocalFile(path string, kind uint32, onData OnDataFunc, onFail OnFailFunc, handle interface{}) bool {
	rc, err := r.fs.Open(path)
	if err != nil {
		if onFail != nil {
			onFail(WrapError("LoadLocalFile", CodeOpenInFail, err))
		}
		return false
	}
	defer rc.Close()

	size, _ := r.fs.Size(path)
	data := make([]byte, 0, size)
	buf := make([]byte, 32*1024)
	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if rerr != nil {
			if rerr != io.EOF {
				if onFail != nil {
					onFail(WrapError("LoadLocalFile", CodeReadFail, rerr))
				}
				return false
			}
			break
		}
	}

	offer := OfferDescriptor{FileKind: kind, LeafName: path, EstimatedSize: int64(len(data))}
	if onData == nil {
		return false
	}
	onData(offer, data)
	return true
}

// CancelReceives aborts every operation whose client handle equals
// handle.
func (r *Receiver) CancelReceives(handle interface{}) {
	var toCancel []opstore.OperationID
	r.ops.Each(func(id opstore.OperationID, op *receiverOp) {
		if op.handle == handle && op.state != stateDone && op.state != stateFailed && op.state != stateTimedOut {
			toCancel = append(toCancel, id)
		}
	})
	for _, id := range toCancel {
		op, ok := r.ops.Get(id)
		if !ok {
			continue
		}
		r.fail(id, op, nil)
	}
}

// Finalise cancels all in-flight operations. The handlers Init
// installed stay installed on the bus.
func (r *Receiver) Finalise() {
	r.ops.Each(func(id opstore.OperationID, op *receiverOp) {
		if op.state != stateDone && op.state != stateFailed && op.state != stateTimedOut {
			r.fail(id, op, nil)
		}
	})
}

func (r *Receiver) fail(id opstore.OperationID, op *receiverOp, err error) {
	op.state = stateFailed
	if err != nil {
		r.obs.ObserveTransferFailed(string(errorCodeOf(err)))
	}
	r.teardown(id, op)
	if op.onFail != nil {
		op.onFail(err)
	}
}

func (r *Receiver) teardown(id opstore.OperationID, op *receiverOp) {
	if op.timeoutScheduled {
		r.sched.Deregister(tokenReceiverTimeout, id)
		op.timeoutScheduled = false
	}
	if op.heapPinHeld {
		r.pin.Unpin()
		op.heapPinHeld = false
	}
	if op.anchor != nil {
		r.alloc.Free(op.anchor)
		op.anchor = nil
	}
	r.ops.Release(id)
}

func (r *Receiver) findByRef(yourRef uint32, expectedKind string) (opstore.OperationID, *receiverOp) {
	if yourRef == 0 {
		return opstore.Zero, nil
	}
	var foundID opstore.OperationID
	var found *receiverOp
	r.ops.Each(func(id opstore.OperationID, op *receiverOp) {
		if found != nil {
			return
		}
		if op.lastSent.Expects(expectedKind, yourRef) {
			foundID = id
			found = op
		}
	})
	return foundID, found
}

func errorCodeOf(err error) ErrorCode {
	if de, ok := err.(*Error); ok {
		return de.Code
	}
	return CodeHostError
}

func scratchPathFor(id opstore.OperationID, cfg *Config) string {
	return cfg.ScratchDir + "/" + id.String() + ".scratch"
}
