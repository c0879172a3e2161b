package deskxfer

import (
	"context"

	"github.com/ehrlich-b/go-deskxfer/internal/bus"
	"github.com/ehrlich-b/go-deskxfer/internal/heap"
	"github.com/ehrlich-b/go-deskxfer/internal/interfaces"
	"github.com/ehrlich-b/go-deskxfer/internal/logging"
	"github.com/ehrlich-b/go-deskxfer/internal/opstore"
	"github.com/ehrlich-b/go-deskxfer/internal/tokens"
	"github.com/ehrlich-b/go-deskxfer/internal/wire"
)

// SaveFunc overrides the default scratch-file write a Sender performs
// once a peer refuses a memory transfer (spec.md §4.2
// "client_save_fn"). Providing one also disables the memory-push path
// entirely: an incoming MemoryPull is refused so the peer falls back to
// a file load.
type SaveFunc func(path string, data []byte, start, end uint64) error

// OnFinishedFunc is invoked exactly once per send, success or failure.
// destPath is non-empty only when the transfer completed via a real
// (non-scratch) destination file.
type OnFinishedFunc func(success bool, err error, destPath string, handle interface{})

type senderState int

const (
	stateAwaitReply senderState = iota
	stateAwaitFileLoadAck
	stateMemoryPushLoop
	stateSenderDone
	stateSenderFailed
)

type senderOp struct {
	state             senderState
	lastSent          tokens.LastSent
	destinationIsSafe bool
	dataHandle        interface{}
	data              []byte
	startOff          uint64
	endOff            uint64
	cursor            uint64
	saveFn            SaveFunc
	onFinished        OnFinishedFunc
	handle            interface{}
	peer              wire.PeerID
	scratchPath       string
	offer             OfferDescriptor
}

// Sender implements spec.md §4.2's sender state machine.
type Sender struct {
	bus  bus.Bus
	alloc *heap.PooledAllocator
	pin   *heap.PinCoordinator
	fs    interfaces.FileSystem
	obs   interfaces.Observer
	log   *logging.Logger

	ops *opstore.Arena[*senderOp]
}

// NewSender constructs a Sender. Init must be called before use. pin
// must be the same PinCoordinator passed to every other engine sharing
// alloc, so the pin count spec.md §5 describes is process-wide rather
// than scoped to one engine's view of the heap.
func NewSender(b bus.Bus, alloc *heap.PooledAllocator, pin *heap.PinCoordinator, fs interfaces.FileSystem, obs interfaces.Observer, log *logging.Logger) *Sender {
	return &Sender{
		bus:   b,
		alloc: alloc,
		pin:   pin,
		fs:    fs,
		obs:   obs,
		log:   log.Named("sender"),
		ops:   opstore.New[*senderOp](),
	}
}

// Init installs message handlers for ScrapAck, FileLoadAck, MemoryPull,
// and BounceAck (spec.md §4.2).
func (s *Sender) Init() {
	s.bus.InstallHandler(wire.KindScrapAck, s.handleScrapAck)
	s.bus.InstallHandler(wire.KindFileLoadAck, s.handleFileLoadAck)
	s.bus.InstallHandler(wire.KindMemoryPull, s.handleMemoryPull)
	s.bus.InstallHandler(wire.KindBounceAck, s.handleBounceAck)
}

// SendData begins an outgoing transfer by sending a recorded OfferData
// to peer, or, if peer is empty, to the window+icon named in offer
// (spec.md §4.2). dataHandle is the opaque identity CancelSends later
// matches against; it need not be related to handle, the client-context
// value threaded through to onFinished.
//
// ctx is checked once, at entry, for the same reason documented on
// Receiver.ReceiveData: the engine is single-threaded, so cancellation
// mid-flight stays the explicit job of CancelSends rather than a
// background watch on ctx.Done(). ctx may be nil.
func (s *Sender) SendData(ctx context.Context, peer wire.PeerID, offer OfferDescriptor, dataHandle interface{}, data []byte, startOff, endOff uint64, saveFn SaveFunc, onFinished OnFinishedFunc, handle interface{}) (opstore.OperationID, error) {
	if ctx != nil && ctx.Err() != nil {
		return opstore.Zero, WrapError("SendData", CodeCancelled, ctx.Err())
	}
	if endOff < startOff || endOff > uint64(len(data)) {
		return opstore.Zero, NewError("SendData", CodeProtocol, "invalid start/end offsets")
	}

	op := &senderOp{
		state:      stateAwaitReply,
		dataHandle: dataHandle,
		data:       data,
		startOff:   startOff,
		endOff:     endOff,
		cursor:     startOff,
		saveFn:     saveFn,
		onFinished: onFinished,
		handle:     handle,
		peer:       peer,
		offer:      offer,
	}

	// EstimatedSize is a hint, not a commitment (spec.md §3): a caller
	// that already populated offer.EstimatedSize (e.g. the drag engine's
	// post-drop hand-off, which only knows a rough size) keeps it; other
	// callers get the exact length, which is also an honest estimate.
	estimatedSize := offer.EstimatedSize
	if estimatedSize == 0 {
		estimatedSize = int64(endOff - startOff)
	}

	msg := &wire.TransferMsg{
		Kind:          wire.KindOfferData,
		Sender:        s.bus.Self(),
		DestWindow:    offer.DestWindow,
		DestIcon:      offer.DestIcon,
		DX:            offer.DX,
		DY:            offer.DY,
		EstimatedSize: estimatedSize,
		FileKind:      offer.FileKind,
		LeafName:      offer.LeafName,
	}

	id, _ := s.ops.Insert(op)
	var ref uint32
	if peer != "" {
		ref = s.bus.Send(peer, wire.KindOfferData, msg, true)
	} else {
		// an undelivered window target still yields a my-ref and
		// synthesizes its own BounceAck, so the AwaitReply→Failed
		// transition fires the same way as an unclaimed direct send.
		ref, _ = s.bus.SendToWindow(offer.DestWindow, offer.DestIcon, wire.KindOfferData, msg, true)
	}
	op.lastSent.Set("OfferData", ref)
	return id, nil
}

func (s *Sender) handleScrapAck(env bus.Envelope) bool {
	msg, ok := env.Payload.(*wire.TransferMsg)
	if !ok || msg.Kind != wire.KindScrapAck {
		return false
	}
	id, op := s.findByRef(msg.YourRef, "OfferData")
	if op == nil || op.state != stateAwaitReply {
		return false
	}

	op.destinationIsSafe = msg.EstimatedSize != wire.UnsafeEstimatedSize
	op.scratchPath = msg.LeafName

	if err := s.writeScrap(op); err != nil {
		s.fail(id, op, err)
		return true
	}

	load := &wire.TransferMsg{
		Kind:          wire.KindFileLoad,
		Sender:        s.bus.Self(),
		YourRef:       msg.MyRef,
		DestWindow:    msg.DestWindow,
		DestIcon:      msg.DestIcon,
		DX:            msg.DX,
		DY:            msg.DY,
		EstimatedSize: int64(op.endOff - op.startOff),
		FileKind:      op.offer.FileKind,
		LeafName:      op.scratchPath,
	}
	ref := s.bus.Send(env.From, wire.KindFileLoad, load, true)
	op.lastSent.Set("FileLoad", ref)
	op.state = stateAwaitFileLoadAck
	return true
}

func (s *Sender) writeScrap(op *senderOp) error {
	if op.saveFn != nil {
		if err := op.saveFn(op.scratchPath, op.data, op.startOff, op.endOff); err != nil {
			return WrapError("SendData", CodeWriteFail, err)
		}
		return nil
	}
	wc, err := s.fs.Create(op.scratchPath)
	if err != nil {
		return WrapError("SendData", CodeOpenOutFail, err)
	}
	defer wc.Close()
	if _, err := wc.Write(op.data[op.startOff:op.endOff]); err != nil {
		return WrapError("SendData", CodeWriteFail, err)
	}
	return nil
}

func (s *Sender) handleFileLoadAck(env bus.Envelope) bool {
	msg, ok := env.Payload.(*wire.TransferMsg)
	if !ok || msg.Kind != wire.KindFileLoadAck {
		return false
	}
	id, op := s.findByRef(msg.YourRef, "FileLoad")
	if op == nil || op.state != stateAwaitFileLoadAck {
		return false
	}
	destPath := ""
	if op.destinationIsSafe {
		destPath = op.scratchPath
	}
	s.obs.ObserveTransferComplete(op.endOff-op.startOff, false)
	s.teardown(id, op)
	if op.onFinished != nil {
		op.onFinished(true, nil, destPath, op.handle)
	}
	return true
}

func (s *Sender) handleMemoryPull(env bus.Envelope) bool {
	msg, ok := env.Payload.(*wire.MemoryPullMsg)
	if !ok {
		return false
	}
	id, op := s.findByRef(msg.YourRef, "OfferData")
	if op == nil {
		id, op = s.findByRef(msg.YourRef, "MemoryPush")
	}
	if op == nil || (op.state != stateAwaitReply && op.state != stateMemoryPushLoop) {
		return false
	}
	if op.saveFn != nil {
		// a custom save function disables memory transfer; leave the
		// message unclaimed so the peer's pull bounces and it falls back
		// to a file load.
		return false
	}

	remaining := op.endOff - op.cursor
	n := uint64(msg.PeerBufferSize)
	if n > remaining {
		n = remaining
	}

	s.pin.Pin()
	chunk := append([]byte(nil), op.data[op.cursor:op.cursor+n]...)
	s.pin.Unpin()
	op.cursor += n

	push := &wire.MemoryPushMsg{
		Sender:            s.bus.Self(),
		YourRef:           msg.MyRef,
		PeerBufferAddress: msg.PeerBufferAddress,
		BytesWritten:      uint32(n),
		Data:              chunk,
	}

	if op.cursor >= op.endOff {
		s.bus.Send(env.From, wire.KindMemoryPush, push, false)
		s.obs.ObserveTransferComplete(op.endOff-op.startOff, true)
		s.teardown(id, op)
		if op.onFinished != nil {
			op.onFinished(true, nil, "", op.handle)
		}
		return true
	}

	ref := s.bus.Send(env.From, wire.KindMemoryPush, push, true)
	op.lastSent.Set("MemoryPush", ref)
	op.state = stateMemoryPushLoop
	return true
}

func (s *Sender) handleBounceAck(env bus.Envelope) bool {
	msg, ok := env.Payload.(*wire.BounceAckMsg)
	if !ok {
		return false
	}
	kindName, ok := lastSentNameFor(msg.Kind)
	if !ok {
		return false
	}
	id, op := s.findByRef(msg.MyRef, kindName)
	if op == nil {
		return false
	}
	switch msg.Kind {
	case wire.KindOfferData:
		if op.state != stateAwaitReply {
			return false
		}
		s.fail(id, op, nil)
	case wire.KindFileLoad:
		if op.state != stateAwaitFileLoadAck {
			return false
		}
		if !op.destinationIsSafe {
			s.fs.Remove(op.scratchPath)
		}
		s.fail(id, op, NewError("SendData", CodeReceiverDied, "peer bounced FileLoad"))
	case wire.KindMemoryPush:
		if op.state != stateMemoryPushLoop {
			return false
		}
		s.fail(id, op, NewError("SendData", CodeReceiverDied, "peer bounced MemoryPush"))
	default:
		return false
	}
	return true
}

// CancelSends aborts any operation whose source data handle equals
// dataHandle (spec.md §4.2 "cancel_sends"), without touching the
// underlying data buffer — ownership of data stays with the client.
func (s *Sender) CancelSends(dataHandle interface{}) {
	var toCancel []opstore.OperationID
	s.ops.Each(func(id opstore.OperationID, op *senderOp) {
		if op.dataHandle == dataHandle && op.state != stateSenderDone && op.state != stateSenderFailed {
			toCancel = append(toCancel, id)
		}
	})
	for _, id := range toCancel {
		op, ok := s.ops.Get(id)
		if !ok {
			continue
		}
		s.fail(id, op, nil)
	}
}

// Finalise cancels all in-flight sends. The handlers Init installed
// stay installed on the bus.
func (s *Sender) Finalise() {
	s.ops.Each(func(id opstore.OperationID, op *senderOp) {
		if op.state != stateSenderDone && op.state != stateSenderFailed {
			s.fail(id, op, nil)
		}
	})
}

func (s *Sender) fail(id opstore.OperationID, op *senderOp, err error) {
	op.state = stateSenderFailed
	if err != nil {
		s.obs.ObserveTransferFailed(string(errorCodeOf(err)))
	}
	s.teardown(id, op)
	if op.onFinished != nil {
		op.onFinished(false, err, "", op.handle)
	}
}

func (s *Sender) teardown(id opstore.OperationID, op *senderOp) {
	if op.state != stateSenderFailed {
		op.state = stateSenderDone
	}
	s.ops.Release(id)
}

func (s *Sender) findByRef(yourRef uint32, expectedKind string) (opstore.OperationID, *senderOp) {
	if yourRef == 0 {
		return opstore.Zero, nil
	}
	var foundID opstore.OperationID
	var found *senderOp
	s.ops.Each(func(id opstore.OperationID, op *senderOp) {
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

func lastSentNameFor(kind wire.MsgKind) (string, bool) {
	switch kind {
	case wire.KindOfferData:
		return "OfferData", true
	case wire.KindFileLoad:
		return "FileLoad", true
	case wire.KindMemoryPush:
		return "MemoryPush", true
	default:
		return "", false
	}
}
