package deskxfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-deskxfer/internal/bus"
	"github.com/ehrlich-b/go-deskxfer/internal/heap"
	"github.com/ehrlich-b/go-deskxfer/internal/logging"
	"github.com/ehrlich-b/go-deskxfer/internal/scheduler"
	"github.com/ehrlich-b/go-deskxfer/internal/wire"
)

func newTestSender(t *testing.T, hub *bus.Hub, name wire.PeerID, fs *MockFileSystem) *Sender {
	t.Helper()
	b := hub.Endpoint(name)
	alloc := heap.NewPooledAllocator()
	pin := heap.NewPinCoordinator(alloc)
	s := NewSender(b, alloc, pin, fs, NoOpObserver{}, logging.NewLogger(nil))
	s.Init()
	return s
}

func TestSenderCompletesMemoryPushAgainstRealReceiver(t *testing.T) {
	hub := bus.NewHub()
	clock := NewMockClock(time.Unix(0, 0))
	r, _ := newTestReceiver(t, hub, clock)
	fs := NewMockFileSystem()
	snd := newTestSender(t, hub, "sender", fs)

	payload := []byte("the quick brown fox")
	var gotData []byte
	doneRecv := make(chan struct{})

	r.SetOfferHandler(func(offer OfferDescriptor) (OnDataFunc, OnFailFunc, interface{}, bool) {
		return func(o OfferDescriptor, data []byte) { gotData = data; close(doneRecv) },
			func(err error) { close(doneRecv) },
			nil, true
	})

	var gotSuccess bool
	doneSend := make(chan struct{})
	_, err := snd.SendData(context.Background(), "receiver", OfferDescriptor{LeafName: "fox.txt"}, "handle-1", payload, 0, uint64(len(payload)), nil,
		func(success bool, sendErr error, destPath string, handle interface{}) {
			gotSuccess = success
			close(doneSend)
		},
		nil,
	)
	require.NoError(t, err)

	hub.Pump()
	hub.Pump()

	select {
	case <-doneRecv:
	default:
		t.Fatal("receive did not complete")
	}
	select {
	case <-doneSend:
	default:
		t.Fatal("send did not complete")
	}
	require.True(t, gotSuccess)
	require.Equal(t, payload, gotData)
}

func TestSenderFallsBackToScratchFileAgainstRealReceiver(t *testing.T) {
	hub := bus.NewHub()
	clock := NewMockClock(time.Unix(0, 0))
	rb := hub.Endpoint("receiver")
	alloc := heap.NewPooledAllocator()
	pin := heap.NewPinCoordinator(alloc)
	sched := scheduler.New(clock, 200*time.Millisecond)
	sharedFS := NewMockFileSystem()
	cfg := DefaultConfig()
	cfg.ScratchDir = "/scratch"
	r := NewReceiver(rb, sched, alloc, pin, sharedFS, clock, NoOpObserver{}, logging.NewLogger(nil), cfg)
	r.Init()

	snd := newTestSender(t, hub, "sender", sharedFS)

	payload := []byte("file fallback contents")
	var gotData []byte
	doneRecv := make(chan struct{})
	r.SetOfferHandler(func(offer OfferDescriptor) (OnDataFunc, OnFailFunc, interface{}, bool) {
		return func(o OfferDescriptor, data []byte) { gotData = data; close(doneRecv) },
			func(err error) {}, nil, true
	})

	saveCalled := false
	save := func(path string, data []byte, start, end uint64) error {
		saveCalled = true
		sharedFS.Put(path, data[start:end])
		return nil
	}

	var gotSuccess bool
	doneSend := make(chan struct{})
	_, err := snd.SendData(context.Background(), "receiver", OfferDescriptor{LeafName: "f.bin"}, "handle-2", payload, 0, uint64(len(payload)), save,
		func(success bool, sendErr error, destPath string, handle interface{}) {
			gotSuccess = success
			close(doneSend)
		},
		nil,
	)
	require.NoError(t, err)

	hub.Pump()
	hub.Pump()
	hub.Pump()

	select {
	case <-doneRecv:
	default:
		t.Fatal("receive did not complete")
	}
	select {
	case <-doneSend:
	default:
		t.Fatal("send did not complete")
	}
	require.True(t, saveCalled)
	require.True(t, gotSuccess)
	require.Equal(t, payload, gotData)
}

func TestSenderFailsWhenOfferBounces(t *testing.T) {
	hub := bus.NewHub()
	fs := NewMockFileSystem()
	snd := newTestSender(t, hub, "sender", fs)
	hub.Endpoint("nobody-home") // no handlers: OfferData bounces

	var gotSuccess bool
	var gotErr error
	done := make(chan struct{})
	_, err := snd.SendData(context.Background(), "nobody-home", OfferDescriptor{LeafName: "x.bin"}, "h", []byte("data"), 0, 4, nil,
		func(success bool, sendErr error, destPath string, handle interface{}) {
			gotSuccess = success
			gotErr = sendErr
			close(done)
		},
		nil,
	)
	require.NoError(t, err)

	hub.Pump()

	select {
	case <-done:
	default:
		t.Fatal("send did not fail")
	}
	require.False(t, gotSuccess)
	require.Nil(t, gotErr)
}

func TestSenderBouncedFileLoadDeletesUnsafeScratchAndReportsReceiverDied(t *testing.T) {
	hub := bus.NewHub()
	fs := NewMockFileSystem()
	snd := newTestSender(t, hub, "sender", fs)
	peer := hub.Endpoint("peer")

	peer.InstallHandler(wire.KindOfferData, func(env bus.Envelope) bool {
		offer := env.Payload.(*wire.TransferMsg)
		ack := &wire.TransferMsg{
			Kind:          wire.KindScrapAck,
			YourRef:       offer.MyRef,
			EstimatedSize: wire.UnsafeEstimatedSize,
			LeafName:      "/scratch/op.scratch",
		}
		peer.Send("sender", wire.KindScrapAck, ack, false)
		return true
	})
	// no handler for FileLoad: it bounces.

	var gotSuccess bool
	var gotErr error
	done := make(chan struct{})
	_, err := snd.SendData(context.Background(), "peer", OfferDescriptor{LeafName: "x.bin"}, "h", []byte("abcd"), 0, 4, nil,
		func(success bool, sendErr error, destPath string, handle interface{}) {
			gotSuccess = success
			gotErr = sendErr
			close(done)
		},
		nil,
	)
	require.NoError(t, err)

	hub.Pump()
	hub.Pump()

	select {
	case <-done:
	default:
		t.Fatal("send did not fail")
	}
	require.False(t, gotSuccess)
	require.True(t, IsCode(gotErr, CodeReceiverDied))
	_, stillThere := fs.Get("/scratch/op.scratch")
	require.False(t, stillThere)
}

func TestSenderCancelSendsMatchesByDataHandle(t *testing.T) {
	hub := bus.NewHub()
	fs := NewMockFileSystem()
	snd := newTestSender(t, hub, "sender", fs)
	hub.Endpoint("peer")

	var gotSuccess bool
	done := make(chan struct{})
	_, err := snd.SendData(context.Background(), "peer", OfferDescriptor{LeafName: "x.bin"}, "the-data-handle", []byte("abcd"), 0, 4, nil,
		func(success bool, sendErr error, destPath string, handle interface{}) {
			gotSuccess = success
			close(done)
		},
		nil,
	)
	require.NoError(t, err)

	snd.CancelSends("the-data-handle")

	select {
	case <-done:
	default:
		t.Fatal("cancel did not fail the op")
	}
	require.False(t, gotSuccess)
	require.Equal(t, 0, snd.ops.Len())
}
