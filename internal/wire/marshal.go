package wire

import (
	"encoding/binary"
	"errors"

	"github.com/ehrlich-b/go-deskxfer/internal/constants"
)

// ErrInsufficientData is returned when a byte slice is too short to hold
// the fixed header of the message being unmarshaled.
var ErrInsufficientData = errors.New("wire: insufficient data")

// transferHeaderSize is the fixed portion of a TransferMsg: my-ref,
// your-ref, dest-window, dest-icon, dx, dy, estimated-size, file-kind.
const transferHeaderSize = 4 + 4 + 4 + 4 + 4 + 4 + 8 + 4

// Marshal encodes a message to bytes using the native word-aligned,
// NUL-terminated-leafname layout spec.md §6 mandates. The sender PeerID
// is not part of the wire format proper (a real cross-process bus would
// carry it out of band, e.g. as the socket's peer credentials); it is
// threaded through in-process instead.
func Marshal(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case *TransferMsg:
		return marshalTransfer(m), nil
	case *MemoryPullMsg:
		return marshalMemoryPull(m), nil
	case *MemoryPushMsg:
		return marshalMemoryPush(m), nil
	case *DraggingMsg:
		return marshalDragging(m), nil
	case *DragClaimMsg:
		return marshalDragClaim(m), nil
	default:
		return nil, errors.New("wire: unsupported message type")
	}
}

// UnmarshalByKind decodes data according to kind, dispatching to the
// matching UnmarshalXxx. It is what the bus calls on every inbound
// envelope so a handler only ever sees a struct reconstructed from
// bytes, never the sender's original pointer (spec.md §6's message
// kinds are wire messages, not Go values shared by reference).
// KindBounceAck is never marshaled (it is synthesized locally by the
// bus) and is rejected here.
func UnmarshalByKind(kind MsgKind, data []byte) (interface{}, error) {
	switch kind {
	case KindOfferData, KindScrapAck, KindFileLoad, KindFileLoadAck:
		m, err := UnmarshalTransfer(data)
		if err != nil {
			return nil, err
		}
		m.Kind = kind
		return m, nil
	case KindMemoryPull:
		return UnmarshalMemoryPull(data)
	case KindMemoryPush:
		return UnmarshalMemoryPush(data)
	case KindDragging:
		return UnmarshalDragging(data)
	case KindDragClaim:
		return UnmarshalDragClaim(data)
	default:
		return nil, errors.New("wire: kind is not a marshaled message")
	}
}

func marshalTransfer(m *TransferMsg) []byte {
	leaf := nulPad(m.LeafName)
	buf := make([]byte, transferHeaderSize+len(leaf))
	binary.LittleEndian.PutUint32(buf[0:4], m.MyRef)
	binary.LittleEndian.PutUint32(buf[4:8], m.YourRef)
	binary.LittleEndian.PutUint32(buf[8:12], m.DestWindow)
	binary.LittleEndian.PutUint32(buf[12:16], m.DestIcon)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(m.DX))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(m.DY))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(m.EstimatedSize))
	binary.LittleEndian.PutUint32(buf[32:36], m.FileKind)
	copy(buf[transferHeaderSize:], leaf)
	return buf
}

// UnmarshalTransfer decodes the body marshalTransfer produced. Kind and
// Sender are carried out of band by the bus envelope and set by the
// caller.
func UnmarshalTransfer(data []byte) (*TransferMsg, error) {
	if len(data) < transferHeaderSize {
		return nil, ErrInsufficientData
	}
	m := &TransferMsg{
		MyRef:         binary.LittleEndian.Uint32(data[0:4]),
		YourRef:       binary.LittleEndian.Uint32(data[4:8]),
		DestWindow:    binary.LittleEndian.Uint32(data[8:12]),
		DestIcon:      binary.LittleEndian.Uint32(data[12:16]),
		DX:            int32(binary.LittleEndian.Uint32(data[16:20])),
		DY:            int32(binary.LittleEndian.Uint32(data[20:24])),
		EstimatedSize: int64(binary.LittleEndian.Uint64(data[24:32])),
		FileKind:      binary.LittleEndian.Uint32(data[32:36]),
		LeafName:      unNulPad(data[transferHeaderSize:]),
	}
	return m, nil
}

func marshalMemoryPull(m *MemoryPullMsg) []byte {
	buf := make([]byte, 4+4+8+4)
	binary.LittleEndian.PutUint32(buf[0:4], m.MyRef)
	binary.LittleEndian.PutUint32(buf[4:8], m.YourRef)
	binary.LittleEndian.PutUint64(buf[8:16], m.PeerBufferAddress)
	binary.LittleEndian.PutUint32(buf[16:20], m.PeerBufferSize)
	return buf
}

// UnmarshalMemoryPull decodes the body marshalMemoryPull produced.
func UnmarshalMemoryPull(data []byte) (*MemoryPullMsg, error) {
	if len(data) < 20 {
		return nil, ErrInsufficientData
	}
	return &MemoryPullMsg{
		MyRef:             binary.LittleEndian.Uint32(data[0:4]),
		YourRef:           binary.LittleEndian.Uint32(data[4:8]),
		PeerBufferAddress: binary.LittleEndian.Uint64(data[8:16]),
		PeerBufferSize:    binary.LittleEndian.Uint32(data[16:20]),
	}, nil
}

func marshalMemoryPush(m *MemoryPushMsg) []byte {
	buf := make([]byte, 4+4+8+4+len(m.Data))
	binary.LittleEndian.PutUint32(buf[0:4], m.MyRef)
	binary.LittleEndian.PutUint32(buf[4:8], m.YourRef)
	binary.LittleEndian.PutUint64(buf[8:16], m.PeerBufferAddress)
	binary.LittleEndian.PutUint32(buf[16:20], m.BytesWritten)
	copy(buf[20:], m.Data)
	return buf
}

// UnmarshalMemoryPush decodes the body marshalMemoryPush produced.
func UnmarshalMemoryPush(data []byte) (*MemoryPushMsg, error) {
	if len(data) < 20 {
		return nil, ErrInsufficientData
	}
	bytesWritten := binary.LittleEndian.Uint32(data[16:20])
	payload := make([]byte, len(data)-20)
	copy(payload, data[20:])
	return &MemoryPushMsg{
		MyRef:             binary.LittleEndian.Uint32(data[0:4]),
		YourRef:           binary.LittleEndian.Uint32(data[4:8]),
		PeerBufferAddress: binary.LittleEndian.Uint64(data[8:16]),
		BytesWritten:      bytesWritten,
		Data:              payload,
	}, nil
}

func marshalFileKinds(kinds []uint32) []byte {
	// Terminated by the NullFileKind sentinel, word-padded as a whole.
	n := (len(kinds) + 1) * 4
	buf := make([]byte, constants.RoundUpWord(n))
	for i, k := range kinds {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], k)
	}
	binary.LittleEndian.PutUint32(buf[len(kinds)*4:len(kinds)*4+4], constants.NullFileKind)
	return buf
}

func unmarshalFileKinds(data []byte) []uint32 {
	var kinds []uint32
	for off := 0; off+4 <= len(data); off += 4 {
		k := binary.LittleEndian.Uint32(data[off : off+4])
		if k == constants.NullFileKind {
			break
		}
		kinds = append(kinds, k)
	}
	return kinds
}

func marshalDragging(m *DraggingMsg) []byte {
	head := make([]byte, 4+4+4+4+4+4+4+16)
	binary.LittleEndian.PutUint32(head[0:4], m.MyRef)
	binary.LittleEndian.PutUint32(head[4:8], m.YourRef)
	binary.LittleEndian.PutUint32(head[8:12], m.Window)
	binary.LittleEndian.PutUint32(head[12:16], m.Icon)
	binary.LittleEndian.PutUint32(head[16:20], uint32(m.X))
	binary.LittleEndian.PutUint32(head[20:24], uint32(m.Y))
	binary.LittleEndian.PutUint32(head[24:28], uint32(m.Flags))
	binary.LittleEndian.PutUint32(head[28:32], uint32(m.BBox.XMin))
	binary.LittleEndian.PutUint32(head[32:36], uint32(m.BBox.YMin))
	binary.LittleEndian.PutUint32(head[36:40], uint32(m.BBox.XMax))
	binary.LittleEndian.PutUint32(head[40:44], uint32(m.BBox.YMax))
	return append(head, marshalFileKinds(m.FileKinds)...)
}

// UnmarshalDragging decodes the body marshalDragging produced.
func UnmarshalDragging(data []byte) (*DraggingMsg, error) {
	if len(data) < 44 {
		return nil, ErrInsufficientData
	}
	m := &DraggingMsg{
		MyRef:   binary.LittleEndian.Uint32(data[0:4]),
		YourRef: binary.LittleEndian.Uint32(data[4:8]),
		Window:  binary.LittleEndian.Uint32(data[8:12]),
		Icon:    binary.LittleEndian.Uint32(data[12:16]),
		X:       int32(binary.LittleEndian.Uint32(data[16:20])),
		Y:       int32(binary.LittleEndian.Uint32(data[20:24])),
		Flags:   DraggingFlags(binary.LittleEndian.Uint32(data[24:28])),
		BBox: Rect{
			XMin: int32(binary.LittleEndian.Uint32(data[28:32])),
			YMin: int32(binary.LittleEndian.Uint32(data[32:36])),
			XMax: int32(binary.LittleEndian.Uint32(data[36:40])),
			YMax: int32(binary.LittleEndian.Uint32(data[40:44])),
		},
		FileKinds: unmarshalFileKinds(data[44:]),
	}
	return m, nil
}

func marshalDragClaim(m *DragClaimMsg) []byte {
	head := make([]byte, 4+4+4)
	binary.LittleEndian.PutUint32(head[0:4], m.MyRef)
	binary.LittleEndian.PutUint32(head[4:8], m.YourRef)
	binary.LittleEndian.PutUint32(head[8:12], uint32(m.Flags))
	return append(head, marshalFileKinds(m.FileKinds)...)
}

// UnmarshalDragClaim decodes the body marshalDragClaim produced.
func UnmarshalDragClaim(data []byte) (*DragClaimMsg, error) {
	if len(data) < 12 {
		return nil, ErrInsufficientData
	}
	return &DragClaimMsg{
		MyRef:     binary.LittleEndian.Uint32(data[0:4]),
		YourRef:   binary.LittleEndian.Uint32(data[4:8]),
		Flags:     DragClaimFlags(binary.LittleEndian.Uint32(data[8:12])),
		FileKinds: unmarshalFileKinds(data[12:]),
	}, nil
}

// nulPad returns s as a NUL-terminated, word-padded byte slice.
func nulPad(s string) []byte {
	n := constants.RoundUpWord(len(s) + 1)
	buf := make([]byte, n)
	copy(buf, s)
	return buf
}

// unNulPad reverses nulPad, stopping at the first NUL byte.
func unNulPad(data []byte) string {
	for i, b := range data {
		if b == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}
