package bus

import (
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/go-deskxfer/internal/wire"
)

// Hub is an in-process switchboard connecting any number of named peers.
// It is the only Bus implementation this module ships — spec.md's
// NON-GOALS explicitly rule out cross-machine transport — grounded on
// the teacher's internal/uring real-vs-stub split (iouring_stub.go):
// a real implementation would plug into an OS message port, but nothing
// here assumes one exists.
type Hub struct {
	mu          sync.Mutex
	endpoints   map[wire.PeerID]*stubBus
	windowOwner map[windowIcon]wire.PeerID
	queue       []queuedEnvelope
}

type windowIcon struct{ window, icon uint32 }

// queuedEnvelope holds a message between Send and dispatch. Payload
// crosses the queue as wire bytes, not as the sender's Go pointer: wire
// is only decoded back into a struct at dispatch time (in deliver),
// the same way a real transport would only ever hand a handler bytes
// it had to parse. raw is the one exception — a synthesized BounceAck,
// which spec.md §6 never puts on the wire, so there is nothing to
// marshal.
type queuedEnvelope struct {
	target   *stubBus
	kind     wire.MsgKind
	from     wire.PeerID
	wireData []byte
	raw      interface{}
	recorded bool
	ref      uint32
	source   *stubBus
}

// deliver decodes q's wire bytes (or returns its raw BounceAck) into the
// Envelope a handler actually sees. ok is false if the bytes this
// endpoint recorded can't be parsed back, which should never happen for
// anything this bus itself marshaled.
func (q queuedEnvelope) deliver() (Envelope, bool) {
	if q.raw != nil {
		return Envelope{Kind: q.kind, From: q.from, Payload: q.raw}, true
	}
	payload, err := wire.UnmarshalByKind(q.kind, q.wireData)
	if err != nil {
		return Envelope{}, false
	}
	setSender(payload, q.from)
	return Envelope{Kind: q.kind, From: q.from, Payload: payload}, true
}

// NewHub creates an empty switchboard.
func NewHub() *Hub {
	return &Hub{
		endpoints:   make(map[wire.PeerID]*stubBus),
		windowOwner: make(map[windowIcon]wire.PeerID),
	}
}

// Endpoint returns the Bus for id, creating it on first use.
func (h *Hub) Endpoint(id wire.PeerID) Bus {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ep, ok := h.endpoints[id]; ok {
		return ep
	}
	ep := &stubBus{
		hub:      h,
		self:     id,
		handlers: make(map[wire.MsgKind][]HandlerFunc),
	}
	h.endpoints[id] = ep
	return ep
}

func (h *Hub) lookup(id wire.PeerID) *stubBus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.endpoints[id]
}

func (h *Hub) enqueue(q queuedEnvelope) {
	h.mu.Lock()
	h.queue = append(h.queue, q)
	h.mu.Unlock()
}

// Pump dispatches every queued envelope, including ones enqueued as a
// side effect of handling earlier ones (a reply sent from inside a
// handler), until the queue is empty. It is the stand-in for the host
// event loop's idle-message delivery (spec.md §1).
func (h *Hub) Pump() int {
	ran := 0
	for {
		h.mu.Lock()
		if len(h.queue) == 0 {
			h.mu.Unlock()
			return ran
		}
		q := h.queue[0]
		h.queue = h.queue[1:]
		h.mu.Unlock()

		env, ok := q.deliver()
		claimed := ok && q.target.deliverLocal(env)
		ran++
		if q.recorded && !claimed {
			h.enqueue(queuedEnvelope{
				target: q.source,
				kind:   wire.KindBounceAck,
				from:   q.target.self,
				raw:    &wire.BounceAckMsg{MyRef: q.ref, Kind: q.kind},
			})
		}
	}
}

// PumpOne dispatches exactly one queued envelope (plus, transitively,
// any bounce it immediately produces counts toward the next call), for
// tests that want to observe intermediate protocol states one message
// at a time. It returns false if the queue was empty.
func (h *Hub) PumpOne() bool {
	h.mu.Lock()
	if len(h.queue) == 0 {
		h.mu.Unlock()
		return false
	}
	q := h.queue[0]
	h.queue = h.queue[1:]
	h.mu.Unlock()

	env, ok := q.deliver()
	claimed := ok && q.target.deliverLocal(env)
	if q.recorded && !claimed {
		h.enqueue(queuedEnvelope{
			target: q.source,
			kind:   wire.KindBounceAck,
			from:   q.target.self,
			raw:    &wire.BounceAckMsg{MyRef: q.ref, Kind: q.kind},
		})
	}
	return true
}

// Pending reports how many envelopes are queued but not yet dispatched.
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

type stubBus struct {
	hub        *Hub
	self       wire.PeerID
	mu         sync.RWMutex
	handlers   map[wire.MsgKind][]HandlerFunc
	refCounter uint32
}

var _ Bus = (*stubBus)(nil)
var _ Pumper = (*Hub)(nil)

func (b *stubBus) Self() wire.PeerID { return b.self }

func (b *stubBus) InstallHandler(kind wire.MsgKind, fn HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], fn)
}

func (b *stubBus) nextRef() uint32 {
	// Start from 1: spec.md §8 property 5 forbids your-ref == 0, and a
	// my-ref of 0 would let a stray zero-valued struct spuriously match.
	return atomic.AddUint32(&b.refCounter, 1)
}

func (b *stubBus) Send(peer wire.PeerID, kind wire.MsgKind, payload interface{}, recorded bool) uint32 {
	ref := b.nextRef()
	setMyRef(payload, ref)
	target := b.hub.lookup(peer)
	if target == nil {
		if recorded {
			b.bounceImmediately(ref, kind)
		}
		return ref
	}
	// Marshal now, against the payload as it stood when Send was called:
	// the queue carries wire bytes, not the caller's pointer, so nothing
	// the caller does to payload afterward can leak into delivery.
	data, err := wire.Marshal(payload)
	if err != nil {
		if recorded {
			b.bounceImmediately(ref, kind)
		}
		return ref
	}
	b.hub.enqueue(queuedEnvelope{
		target:   target,
		kind:     kind,
		from:     b.self,
		wireData: data,
		recorded: recorded,
		ref:      ref,
		source:   b,
	})
	return ref
}

// bounceImmediately synthesizes a BounceAck back to b for a send that
// never reached a target (no such peer, or an unmarshalable payload).
func (b *stubBus) bounceImmediately(ref uint32, kind wire.MsgKind) {
	b.hub.enqueue(queuedEnvelope{
		target: b,
		kind:   wire.KindBounceAck,
		from:   b.self,
		raw:    &wire.BounceAckMsg{MyRef: ref, Kind: kind},
	})
}

func (b *stubBus) SendToWindow(window, icon uint32, kind wire.MsgKind, payload interface{}, recorded bool) (uint32, bool) {
	b.hub.mu.Lock()
	owner, ok := b.hub.windowOwner[windowIcon{window, icon}]
	b.hub.mu.Unlock()
	if !ok {
		ref := b.nextRef()
		setMyRef(payload, ref)
		if recorded {
			b.bounceImmediately(ref, kind)
		}
		return ref, false
	}
	return b.Send(owner, kind, payload, recorded), true
}

func (b *stubBus) RegisterWindowIcon(window, icon uint32) {
	b.hub.mu.Lock()
	defer b.hub.mu.Unlock()
	b.hub.windowOwner[windowIcon{window, icon}] = b.self
}

func (b *stubBus) Close() error {
	b.hub.mu.Lock()
	defer b.hub.mu.Unlock()
	delete(b.hub.endpoints, b.self)
	for wi, owner := range b.hub.windowOwner {
		if owner == b.self {
			delete(b.hub.windowOwner, wi)
		}
	}
	return nil
}

func (b *stubBus) deliverLocal(env Envelope) bool {
	b.mu.RLock()
	hs := append([]HandlerFunc(nil), b.handlers[env.Kind]...)
	b.mu.RUnlock()
	for _, h := range hs {
		if h(env) {
			return true
		}
	}
	return false
}

// setMyRef mutates payload's MyRef field in place. This is the one spot
// the bus reaches into wire types directly, so that ref allocation has a
// single owner (the bus) regardless of which message kind is being sent.
func setMyRef(payload interface{}, ref uint32) {
	switch m := payload.(type) {
	case *wire.TransferMsg:
		m.MyRef = ref
	case *wire.MemoryPullMsg:
		m.MyRef = ref
	case *wire.MemoryPushMsg:
		m.MyRef = ref
	case *wire.DraggingMsg:
		m.MyRef = ref
	case *wire.DragClaimMsg:
		m.MyRef = ref
	}
}

// setSender mutates a decoded payload's Sender field to the envelope's
// From peer. Sender travels out of band of the wire bytes (a real
// transport would carry it as socket peer credentials, not a header
// field), so it has to be reattached after UnmarshalByKind the same way
// setMyRef attaches the ref before marshaling.
func setSender(payload interface{}, from wire.PeerID) {
	switch m := payload.(type) {
	case *wire.TransferMsg:
		m.Sender = from
	case *wire.MemoryPullMsg:
		m.Sender = from
	case *wire.MemoryPushMsg:
		m.Sender = from
	case *wire.DraggingMsg:
		m.Sender = from
	case *wire.DragClaimMsg:
		m.Sender = from
	}
}
