package wire

// PeerID names a process-wide participant in the message bus. In the
// original protocol this was an opaque task handle; here it is just a
// stable string so tests and the demo CLI can name peers directly.
type PeerID string

// MsgKind is the action-code tagging every message on the bus, per
// spec.md §6.
type MsgKind uint16

const (
	KindOfferData MsgKind = iota + 1
	KindScrapAck
	KindFileLoad
	KindFileLoadAck
	KindMemoryPull
	KindMemoryPush
	KindDragging
	KindDragClaim

	// KindBounceAck is never marshaled: it is synthesized by the bus
	// when a recorded send is not claimed by any peer (spec.md §6).
	KindBounceAck
)

func (k MsgKind) String() string {
	switch k {
	case KindOfferData:
		return "OfferData"
	case KindScrapAck:
		return "ScrapAck"
	case KindFileLoad:
		return "FileLoad"
	case KindFileLoadAck:
		return "FileLoadAck"
	case KindMemoryPull:
		return "MemoryPull"
	case KindMemoryPush:
		return "MemoryPush"
	case KindDragging:
		return "Dragging"
	case KindDragClaim:
		return "DragClaim"
	case KindBounceAck:
		return "BounceAck"
	default:
		return "Unknown"
	}
}

// UnsafeEstimatedSize is the sentinel ScrapAck.EstimatedSize carries to
// mean "this leaf name is a scratch path, not a real destination"
// (spec.md §4.2: "estimated-size = −1").
const UnsafeEstimatedSize int64 = -1

// DragClaimFlags are the bits a DragClaim message may set (spec.md §4.3).
type DragClaimFlags uint32

const (
	FlagRemoveDragBox DragClaimFlags = 1 << iota
	FlagPointerShapeChanged
)

// DraggingFlags are the bits a Dragging message may set (spec.md §6).
type DraggingFlags uint32

const (
	FlagDataFromSelection DraggingFlags = 1 << iota
	FlagDoNotClaim
)
