package deskxfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-deskxfer/internal/bus"
	"github.com/ehrlich-b/go-deskxfer/internal/heap"
	"github.com/ehrlich-b/go-deskxfer/internal/logging"
	"github.com/ehrlich-b/go-deskxfer/internal/scheduler"
	"github.com/ehrlich-b/go-deskxfer/internal/wire"
)

var errDiskGone = errors.New("disk gone")

func newTestReceiver(t *testing.T, hub *bus.Hub, clock *MockClock) (*Receiver, *MockFileSystem) {
	t.Helper()
	rb := hub.Endpoint("receiver")
	alloc := heap.NewPooledAllocator()
	pin := heap.NewPinCoordinator(alloc)
	sched := scheduler.New(clock, 200*time.Millisecond)
	fs := NewMockFileSystem()
	cfg := DefaultConfig()
	cfg.ScratchDir = "/scratch"
	r := NewReceiver(rb, sched, alloc, pin, fs, clock, NoOpObserver{}, logging.NewLogger(nil), cfg)
	r.Init()
	return r, fs
}

func TestReceiverCompletesExactSizeMemoryTransfer(t *testing.T) {
	hub := bus.NewHub()
	clock := NewMockClock(time.Unix(0, 0))
	r, _ := newTestReceiver(t, hub, clock)
	sender := hub.Endpoint("sender")

	var gotData []byte
	var gotOffer OfferDescriptor
	done := make(chan struct{})

	sender.InstallHandler(wire.KindMemoryPull, func(env bus.Envelope) bool {
		pull := env.Payload.(*wire.MemoryPullMsg)
		push := &wire.MemoryPushMsg{
			YourRef:           pull.MyRef,
			PeerBufferAddress: pull.PeerBufferAddress,
			BytesWritten:      5,
			Data:              []byte("hello"),
		}
		sender.Send("receiver", wire.KindMemoryPush, push, false)
		return true
	})

	_, err := r.ReceiveData(context.Background(), OfferDescriptor{Peer: "sender", EstimatedSize: 5, LeafName: "y.txt"},
		func(o OfferDescriptor, data []byte) { gotOffer = o; gotData = data; close(done) },
		func(err error) { close(done) },
		nil,
	)
	require.NoError(t, err)

	hub.Pump()

	select {
	case <-done:
	default:
		t.Fatal("transfer did not complete")
	}
	require.Equal(t, []byte("hello"), gotData)
	require.Equal(t, "y.txt", gotOffer.LeafName)
}

func TestReceiverGrowsBufferAcrossMultipleFrames(t *testing.T) {
	hub := bus.NewHub()
	clock := NewMockClock(time.Unix(0, 0))
	r, _ := newTestReceiver(t, hub, clock)
	r.cfg.ReceiveBufSize = 4
	sender := hub.Endpoint("sender")

	frames := [][]byte{[]byte("abcd"), []byte("ef")}
	var gotData []byte
	done := make(chan struct{})

	sender.InstallHandler(wire.KindMemoryPull, func(env bus.Envelope) bool {
		pull := env.Payload.(*wire.MemoryPullMsg)
		frame := frames[0]
		frames = frames[1:]
		push := &wire.MemoryPushMsg{
			YourRef:           pull.MyRef,
			PeerBufferAddress: pull.PeerBufferAddress,
			BytesWritten:      uint32(len(frame)),
			Data:              frame,
		}
		sender.Send("receiver", wire.KindMemoryPush, push, false)
		return true
	})

	_, err := r.ReceiveData(context.Background(), OfferDescriptor{Peer: "sender", EstimatedSize: 1, LeafName: "z.bin"},
		func(o OfferDescriptor, data []byte) { gotData = data; close(done) },
		func(err error) { close(done) },
		nil,
	)
	require.NoError(t, err)

	hub.Pump()
	hub.Pump()

	select {
	case <-done:
	default:
		t.Fatal("transfer did not complete across grown buffer")
	}
	require.Equal(t, []byte("abcdef"), gotData)
}

func TestReceiverFallsBackToFileOnBounceThenCompletes(t *testing.T) {
	hub := bus.NewHub()
	clock := NewMockClock(time.Unix(0, 0))
	r, fs := newTestReceiver(t, hub, clock)
	sender := hub.Endpoint("sender") // no MemoryPull handler: the bus bounces it automatically

	var gotData []byte
	done := make(chan struct{})

	sender.InstallHandler(wire.KindScrapAck, func(env bus.Envelope) bool {
		ack := env.Payload.(*wire.TransferMsg)
		fs.Put(ack.LeafName, []byte("scratch-bytes"))
		load := &wire.TransferMsg{
			Kind:          wire.KindFileLoad,
			YourRef:       ack.MyRef,
			EstimatedSize: int64(len("scratch-bytes")),
			LeafName:      ack.LeafName,
		}
		sender.Send("receiver", wire.KindFileLoad, load, false)
		return true
	})

	_, err := r.ReceiveData(context.Background(), OfferDescriptor{Peer: "sender", EstimatedSize: 5, LeafName: "y.txt"},
		func(o OfferDescriptor, data []byte) { gotData = data; close(done) },
		func(err error) {},
		nil,
	)
	require.NoError(t, err)

	hub.Pump() // delivers MemoryPull (bounces), then BounceAck, then ScrapAck, then FileLoad
	hub.Pump()

	select {
	case <-done:
	default:
		t.Fatal("file-fallback transfer did not complete")
	}
	require.Equal(t, []byte("scratch-bytes"), gotData)
}

func TestReceiverFailsOnMemoryPushPastAdvertisedWindow(t *testing.T) {
	hub := bus.NewHub()
	clock := NewMockClock(time.Unix(0, 0))
	r, _ := newTestReceiver(t, hub, clock)
	sender := hub.Endpoint("sender")

	sender.InstallHandler(wire.KindMemoryPull, func(env bus.Envelope) bool {
		pull := env.Payload.(*wire.MemoryPullMsg)
		// claims more bytes written than the receiver's advertised
		// window, the hard protocol violation spec.md §7 defines.
		push := &wire.MemoryPushMsg{
			YourRef:           pull.MyRef,
			PeerBufferAddress: pull.PeerBufferAddress,
			BytesWritten:      pull.PeerBufferSize + 1,
			Data:              make([]byte, pull.PeerBufferSize+1),
		}
		sender.Send("receiver", wire.KindMemoryPush, push, false)
		return true
	})

	var gotErr error
	done := make(chan struct{})
	_, err := r.ReceiveData(context.Background(), OfferDescriptor{Peer: "sender", EstimatedSize: 5, LeafName: "y.txt"},
		func(OfferDescriptor, []byte) { close(done) },
		func(err error) { gotErr = err; close(done) },
		nil,
	)
	require.NoError(t, err)

	hub.Pump()

	select {
	case <-done:
	default:
		t.Fatal("overflowing push did not fail the transfer")
	}
	require.True(t, IsCode(gotErr, CodeBufferOverflow))
}

func TestReceiverFailsFileLoadOnGenuineReadError(t *testing.T) {
	hub := bus.NewHub()
	clock := NewMockClock(time.Unix(0, 0))
	r, fs := newTestReceiver(t, hub, clock)
	sender := hub.Endpoint("sender")

	fs.Put("scratch.bin", []byte("partial"))
	fs.FailReadsFor("scratch.bin", errDiskGone)

	sender.InstallHandler(wire.KindScrapAck, func(env bus.Envelope) bool {
		ack := env.Payload.(*wire.TransferMsg)
		load := &wire.TransferMsg{
			Kind:          wire.KindFileLoad,
			YourRef:       ack.MyRef,
			EstimatedSize: 7,
			LeafName:      "scratch.bin",
		}
		sender.Send("receiver", wire.KindFileLoad, load, false)
		return true
	})

	var gotErr error
	done := make(chan struct{})
	_, err := r.ReceiveData(context.Background(), OfferDescriptor{Peer: "sender", EstimatedSize: 5, LeafName: "y.txt"},
		func(OfferDescriptor, []byte) { close(done) },
		func(err error) { gotErr = err; close(done) },
		nil,
	)
	require.NoError(t, err)

	hub.Pump()
	hub.Pump()

	select {
	case <-done:
	default:
		t.Fatal("FileLoad read error did not fail the transfer")
	}
	require.True(t, IsCode(gotErr, CodeReadFail))
}

func TestReceiverLoadLocalFileFailsOnGenuineReadError(t *testing.T) {
	hub := bus.NewHub()
	clock := NewMockClock(time.Unix(0, 0))
	r, fs := newTestReceiver(t, hub, clock)
	fs.Put("/local/broken.txt", []byte("partial"))
	fs.FailReadsFor("/local/broken.txt", errDiskGone)

	var gotErr error
	ok := r.LoadLocalFile("/local/broken.txt", 0x1234, nil, func(err error) { gotErr = err }, nil)

	require.False(t, ok)
	require.True(t, IsCode(gotErr, CodeReadFail))
}

func TestReceiverTimesOutWhenPeerNeverReplies(t *testing.T) {
	hub := bus.NewHub()
	clock := NewMockClock(time.Unix(0, 0))
	r, _ := newTestReceiver(t, hub, clock)
	hub.Endpoint("sender") // no handlers installed at all: every send bounces

	var failed bool
	_, err := r.ReceiveData(context.Background(), OfferDescriptor{Peer: "sender", EstimatedSize: 5, LeafName: "y.txt"},
		nil,
		func(err error) { failed = true; require.Nil(t, err) },
		nil,
	)
	require.NoError(t, err)
	hub.Pump()

	clock.Advance(31 * time.Second)
	r.sched.Dispatch()

	require.True(t, failed)
}

func TestReceiverCancelReceivesFailsMatchingHandle(t *testing.T) {
	hub := bus.NewHub()
	clock := NewMockClock(time.Unix(0, 0))
	r, _ := newTestReceiver(t, hub, clock)
	hub.Endpoint("sender")

	var failed bool
	handle := "client-handle"
	_, err := r.ReceiveData(context.Background(), OfferDescriptor{Peer: "sender", EstimatedSize: 5, LeafName: "y.txt"},
		nil,
		func(err error) { failed = true; require.Nil(t, err) },
		handle,
	)
	require.NoError(t, err)

	r.CancelReceives(handle)
	require.True(t, failed)
	require.Equal(t, 0, r.ops.Len())
}

func TestReceiverLoadLocalFileDeliversOffer(t *testing.T) {
	hub := bus.NewHub()
	clock := NewMockClock(time.Unix(0, 0))
	r, fs := newTestReceiver(t, hub, clock)
	fs.Put("/local/file.txt", []byte("local-contents"))

	var gotData []byte
	ok := r.LoadLocalFile("/local/file.txt", 0x1234, func(o OfferDescriptor, data []byte) {
		gotData = data
	}, nil, nil)

	require.True(t, ok)
	require.Equal(t, []byte("local-contents"), gotData)
}
