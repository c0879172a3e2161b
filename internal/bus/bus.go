// Package bus provides the raw message dispatcher collaborator spec.md
// §6 names, grounded on the teacher's internal/uring Ring interface
// split (a narrow interface here, a single in-process implementation in
// the sibling stub.go — teacher's minimal.go/iouring_stub.go pairing).
// The design is deliberately single-threaded cooperative (spec.md §5):
// Send only enqueues; nothing runs a handler until something calls
// Pump, mirroring the host event-loop multiplexer spec.md §1 places out
// of scope ("supplies raw message delivery").
package bus

import "github.com/ehrlich-b/go-deskxfer/internal/wire"

// HandlerFunc processes one inbound message. Returning claimed=false
// offers the message to the next handler registered for the same kind,
// and, if none claims it, drops it — mirroring spec.md §4.1's "replies
// whose last_sent_kind does not match the expected precursor are
// ignored (returned unclaimed to the dispatcher), allowing another
// engine to claim them."
type HandlerFunc func(env Envelope) (claimed bool)

// Envelope is a decoded inbound message plus its routing metadata.
type Envelope struct {
	Kind    wire.MsgKind
	From    wire.PeerID
	Payload interface{} // *wire.TransferMsg, *wire.MemoryPullMsg, *wire.MemoryPushMsg, *wire.DraggingMsg, *wire.DragClaimMsg, or *wire.BounceAckMsg
}

// Bus is a single peer's endpoint on the message dispatcher. Each engine
// instance (Receiver, Sender, Drag) owns one, identifying it with its
// own PeerID.
type Bus interface {
	// Self returns this endpoint's peer id.
	Self() wire.PeerID

	// InstallHandler registers fn for inbound messages of kind. Multiple
	// handlers may be installed per kind; they run in registration order
	// until one claims the message.
	InstallHandler(kind wire.MsgKind, fn HandlerFunc)

	// Send delivers payload to peer and returns the my-ref the bus
	// assigned it (always > 0, satisfying spec.md §8 property 5: "no
	// outgoing reply uses your-ref == 0"). If recorded is true and
	// nothing claims the message once it is dispatched, the bus
	// synthesizes a BounceAck envelope back to this endpoint carrying
	// (myRef, kind).
	Send(peer wire.PeerID, kind wire.MsgKind, payload interface{}, recorded bool) (myRef uint32)

	// SendToWindow resolves whichever peer last called RegisterWindowIcon
	// for (window, icon) and sends to it, used by the drag engine when no
	// claimant task is known yet (spec.md §4.3). delivered reports
	// whether a peer was found at all.
	SendToWindow(window, icon uint32, kind wire.MsgKind, payload interface{}, recorded bool) (myRef uint32, delivered bool)

	// RegisterWindowIcon records that this endpoint currently owns the
	// given window/icon pair, standing in for the host's pointer-query
	// collaborator (spec.md §6).
	RegisterWindowIcon(window, icon uint32)

	// Close releases any resources held by the bus implementation.
	Close() error
}

// Pumper is implemented by *Hub, which queues delivery for all of its
// endpoints rather than dispatching inline. Tests and the demo CLI drive the
// queue forward with Pump; a production host would call it from its
// idle-event callback.
type Pumper interface {
	// Pump dispatches every currently queued envelope, including ones
	// enqueued as a side effect of dispatching earlier ones (e.g. a
	// reply sent from inside a handler), and returns how many it ran.
	Pump() int
}
