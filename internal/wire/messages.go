package wire

// Rect is a bounding box in the destination window's coordinate space.
// An absent bbox is encoded as XMin > XMax (spec.md §6).
type Rect struct {
	XMin, YMin, XMax, YMax int32
}

// Present reports whether r encodes a real bounding box.
func (r Rect) Present() bool { return r.XMin <= r.XMax }

// AbsentRect is the canonical "no bounding box" value.
var AbsentRect = Rect{XMin: 1, XMax: 0}

// TransferMsg is the shared field layout of OfferData, ScrapAck, FileLoad
// and FileLoadAck (spec.md §6): all four are a sender/ref pair plus a
// destination descriptor and a leaf name. Distinguishing which kind a
// given TransferMsg is uses the Kind field.
type TransferMsg struct {
	Kind          MsgKind
	Sender        PeerID
	MyRef         uint32
	YourRef       uint32
	DestWindow    uint32
	DestIcon      uint32
	DX            int32
	DY            int32
	EstimatedSize int64 // OfferData: estimated byte count. ScrapAck: UnsafeEstimatedSize sentinel unless the path is a real destination. FileLoad/FileLoadAck: actual size written.
	FileKind      uint32
	LeafName      string
}

// MemoryPullMsg asks the peer holding the data to copy up to
// PeerBufferSize bytes into the buffer named by PeerBufferAddress.
// PeerBufferAddress is an opaque token rather than a real pointer: unlike
// the RISC OS original, this bus delivers payload bytes inline in the
// matching MemoryPushMsg instead of having the sender poke another
// process's address space directly.
type MemoryPullMsg struct {
	Sender            PeerID
	MyRef             uint32
	YourRef           uint32
	PeerBufferAddress uint64
	PeerBufferSize    uint32
}

// MemoryPushMsg carries one frame of payload in Data. The sender sets
// BytesWritten to len(Data); the receiver copies Data[:BytesWritten] and
// rejects a frame whose BytesWritten exceeds len(Data) or the window the
// matching MemoryPull advertised in PeerBufferSize.
type MemoryPushMsg struct {
	Sender            PeerID
	MyRef             uint32
	YourRef           uint32
	PeerBufferAddress uint64
	BytesWritten      uint32
	Data              []byte
}

// DraggingMsg is the drag engine's periodic broadcast/targeted position
// update (spec.md §6).
type DraggingMsg struct {
	Sender    PeerID
	MyRef     uint32
	YourRef   uint32
	Window    uint32
	Icon      uint32
	X, Y      int32
	Flags     DraggingFlags
	BBox      Rect
	FileKinds []uint32
}

// DragClaimMsg asserts that Sender will accept a drop of one of
// FileKinds (spec.md §6).
type DragClaimMsg struct {
	Sender    PeerID
	MyRef     uint32
	YourRef   uint32
	Flags     DragClaimFlags
	FileKinds []uint32
}

// BounceAckMsg is the pseudo-event the bus synthesizes when a recorded
// send goes unclaimed (spec.md §6).
type BounceAckMsg struct {
	MyRef uint32
	Kind  MsgKind
}
