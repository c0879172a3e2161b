// Package integration exercises the literal boundary scenarios a
// complete receiver/sender/drag implementation must satisfy, each
// driven end to end over a real bus.Hub rather than through any single
// engine's unit tests.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	deskxfer "github.com/ehrlich-b/go-deskxfer"
	"github.com/ehrlich-b/go-deskxfer/internal/bus"
	"github.com/ehrlich-b/go-deskxfer/internal/heap"
	"github.com/ehrlich-b/go-deskxfer/internal/logging"
	"github.com/ehrlich-b/go-deskxfer/internal/scheduler"
	"github.com/ehrlich-b/go-deskxfer/internal/wire"
)

func newReceiver(t *testing.T, hub *bus.Hub, name wire.PeerID, clock *deskxfer.MockClock, cfg *deskxfer.Config) (*deskxfer.Receiver, *deskxfer.MockFileSystem, *scheduler.Scheduler) {
	t.Helper()
	fs := deskxfer.NewMockFileSystem()
	sched := scheduler.New(clock, 200*time.Millisecond)
	alloc := heap.NewPooledAllocator()
	r := deskxfer.NewReceiver(hub.Endpoint(name), sched, alloc, heap.NewPinCoordinator(alloc), fs, clock, deskxfer.NoOpObserver{}, logging.NewLogger(nil), cfg)
	r.Init()
	return r, fs, sched
}

func newSender(t *testing.T, hub *bus.Hub, name wire.PeerID, fs *deskxfer.MockFileSystem) *deskxfer.Sender {
	t.Helper()
	alloc := heap.NewPooledAllocator()
	s := deskxfer.NewSender(hub.Endpoint(name), alloc, heap.NewPinCoordinator(alloc), fs, deskxfer.NoOpObserver{}, logging.NewLogger(nil))
	s.Init()
	return s
}

// S1: exact-size RAM transfer. 256 bytes against a 257-byte window
// completes in a single MemoryPush with no scratch file.
func TestS1ExactSizeRAMTransfer(t *testing.T) {
	hub := bus.NewHub()
	clock := deskxfer.NewMockClock(time.Unix(0, 0))
	r, _, _ := newReceiver(t, hub, "receiver", clock, deskxfer.DefaultConfig())
	snd := newSender(t, hub, "sender", deskxfer.NewMockFileSystem())

	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}

	var gotData []byte
	recvDone := make(chan struct{})
	r.SetOfferHandler(func(offer deskxfer.OfferDescriptor) (deskxfer.OnDataFunc, deskxfer.OnFailFunc, interface{}, bool) {
		return func(o deskxfer.OfferDescriptor, data []byte) { gotData = data; close(recvDone) },
			func(error) { close(recvDone) }, nil, true
	})

	sendDone := make(chan struct{})
	_, err := snd.SendData(context.Background(), "receiver", deskxfer.OfferDescriptor{LeafName: "s1.bin", EstimatedSize: 256}, nil, payload, 0, uint64(len(payload)), nil,
		func(success bool, sendErr error, destPath string, handle interface{}) { close(sendDone) }, nil)
	require.NoError(t, err)

	for hub.Pump() > 0 {
	}

	<-recvDone
	<-sendDone
	require.Equal(t, payload, gotData)
}

// S2: oversize RAM transfer with geometric growth. 600 bytes against a
// receiver seeded to believe the transfer is only 256 bytes forces two
// growth cycles (257 -> 514 -> 1028) before the final short frame.
func TestS2OversizeRAMTransferGrowsGeometrically(t *testing.T) {
	hub := bus.NewHub()
	clock := deskxfer.NewMockClock(time.Unix(0, 0))
	r, _, _ := newReceiver(t, hub, "receiver", clock, deskxfer.DefaultConfig())
	snd := newSender(t, hub, "sender", deskxfer.NewMockFileSystem())

	payload := make([]byte, 600)
	for i := range payload {
		payload[i] = byte(i)
	}

	var gotData []byte
	recvDone := make(chan struct{})
	r.SetOfferHandler(func(offer deskxfer.OfferDescriptor) (deskxfer.OnDataFunc, deskxfer.OnFailFunc, interface{}, bool) {
		return func(o deskxfer.OfferDescriptor, data []byte) { gotData = data; close(recvDone) },
			func(error) { close(recvDone) }, nil, true
	})

	sendDone := make(chan struct{})
	_, err := snd.SendData(context.Background(), "receiver", deskxfer.OfferDescriptor{LeafName: "s2.bin", EstimatedSize: 256}, nil, payload, 0, uint64(len(payload)), nil,
		func(success bool, sendErr error, destPath string, handle interface{}) { close(sendDone) }, nil)
	require.NoError(t, err)

	for hub.Pump() > 0 {
	}

	<-recvDone
	<-sendDone
	require.Equal(t, payload, gotData)
}

// S3: the sender's client_save_fn refuses memory transfer, so the
// receiver falls back to a scratch file round-trip.
func TestS3PeerRefusesMemoryFallsBackToScratchFile(t *testing.T) {
	hub := bus.NewHub()
	clock := deskxfer.NewMockClock(time.Unix(0, 0))
	sharedFS := deskxfer.NewMockFileSystem()
	cfg := deskxfer.DefaultConfig()
	cfg.ScratchDir = "/scratch"
	r, _, _ := newReceiver(t, hub, "receiver", clock, cfg)
	snd := newSender(t, hub, "sender", sharedFS)

	payload := []byte("scratch-file fallback contents for S3")
	var gotData []byte
	recvDone := make(chan struct{})
	r.SetOfferHandler(func(offer deskxfer.OfferDescriptor) (deskxfer.OnDataFunc, deskxfer.OnFailFunc, interface{}, bool) {
		return func(o deskxfer.OfferDescriptor, data []byte) { gotData = data; close(recvDone) },
			func(error) { close(recvDone) }, nil, true
	})

	saveFn := func(path string, data []byte, start, end uint64) error {
		sharedFS.Put(path, data[start:end])
		return nil
	}

	var gotSuccess bool
	var gotDestPath string
	sendDone := make(chan struct{})
	_, err := snd.SendData(context.Background(), "receiver", deskxfer.OfferDescriptor{LeafName: "s3.bin"}, nil, payload, 0, uint64(len(payload)), saveFn,
		func(success bool, sendErr error, destPath string, handle interface{}) {
			gotSuccess = success
			gotDestPath = destPath
			close(sendDone)
		}, nil)
	require.NoError(t, err)

	for hub.Pump() > 0 {
	}

	<-recvDone
	<-sendDone
	require.Equal(t, payload, gotData)
	require.True(t, gotSuccess)
	// destPath is empty: the scratch path was marked unsafe (it is not
	// the real destination the client asked for), so on_finished does
	// not hand back a path (spec.md §4.2).
	require.Empty(t, gotDestPath)
}

// S4: the sender never replies to a MemoryPull. The receiver times out,
// invokes on_fail(nil), and a stale MemoryPush for the destroyed
// operation is returned unclaimed rather than crashing or re-firing the
// callback.
func TestS4ReceiverTimeoutThenStaleReplyUnclaimed(t *testing.T) {
	hub := bus.NewHub()
	clock := deskxfer.NewMockClock(time.Unix(0, 0))
	cfg := deskxfer.DefaultConfig()
	r, _, sched := newReceiver(t, hub, "receiver", clock, cfg)

	deadPeer := hub.Endpoint("dead-peer")
	var staleRef uint32
	deadPeer.InstallHandler(wire.KindMemoryPull, func(env bus.Envelope) bool {
		staleRef = env.Payload.(*wire.MemoryPullMsg).MyRef
		return true // claim it, but never reply
	})

	var failErr error
	failCalled := 0
	recvDone := make(chan struct{})
	_, err := r.ReceiveData(context.Background(), deskxfer.OfferDescriptor{Peer: "dead-peer", Ref: 1, EstimatedSize: 10}, func(deskxfer.OfferDescriptor, []byte) {
		failCalled++
	}, func(e error) {
		failCalled++
		failErr = e
		close(recvDone)
	}, nil)
	require.NoError(t, err)

	for hub.Pump() > 0 {
	}

	clock.Advance(31 * time.Second)
	sched.Dispatch()

	<-recvDone
	require.Nil(t, failErr)
	require.Equal(t, 1, failCalled)

	staleBounce := make(chan *wire.BounceAckMsg, 1)
	deadPeer.InstallHandler(wire.KindBounceAck, func(env bus.Envelope) bool {
		staleBounce <- env.Payload.(*wire.BounceAckMsg)
		return true
	})
	deadPeer.Send("receiver", wire.KindMemoryPush, &wire.MemoryPushMsg{
		YourRef:      staleRef,
		BytesWritten: 1,
		Data:         []byte{0x1},
	}, true)

	for hub.Pump() > 0 {
	}

	select {
	case <-staleBounce:
	default:
		t.Fatal("stale MemoryPush was not returned unclaimed")
	}
}

// S5: a peer claims the drag, then on drop the claimant's post-drop
// claim resolves on_drop to the highest-preference intersection.
func TestS5DragClaimThenDropResolvesHighestPreferenceIntersection(t *testing.T) {
	const kind1, kind2, kind3 = uint32(1), uint32(2), uint32(3)

	hub := bus.NewHub()
	clock := deskxfer.NewMockClock(time.Unix(0, 0))
	host := deskxfer.StaticHostQuery{Window: 1, Icon: 1}
	sched := scheduler.New(clock, 200*time.Millisecond)
	drag := deskxfer.NewDrag(hub.Endpoint("drag-source"), sched, host, deskxfer.NoOpObserver{}, logging.NewLogger(nil))
	drag.Init()

	peer := hub.Endpoint("drag-peer")
	peer.RegisterWindowIcon(1, 1)
	claimed := false
	peer.InstallHandler(wire.KindDragging, func(env bus.Envelope) bool {
		msg := env.Payload.(*wire.DraggingMsg)
		kinds := []uint32{kind2, kind3}
		claim := &wire.DragClaimMsg{YourRef: msg.MyRef, FileKinds: kinds}
		peer.Send("drag-source", wire.KindDragClaim, claim, false)
		claimed = true
		return true
	})

	var gotKind uint32
	var gotClaimant wire.PeerID
	dropCalled := false
	onDrop := func(shiftHeld bool, window, icon uint32, x, y int32, fileKind uint32, claimantTask wire.PeerID, claimantRef uint32, handle interface{}) bool {
		dropCalled = true
		gotKind = fileKind
		gotClaimant = claimantTask
		return true
	}

	require.NoError(t, drag.Start([]uint32{kind1, kind2}, wire.AbsentRect, func(deskxfer.DragBoxOp, bool, int32, int32, interface{}) error { return nil }, onDrop, nil))

	clock.Advance(100 * time.Millisecond)
	sched.Dispatch()
	for hub.Pump() > 0 {
	}
	require.True(t, claimed)

	require.NoError(t, drag.Drop())
	for hub.Pump() > 0 {
	}

	require.True(t, dropCalled)
	require.Equal(t, kind2, gotKind) // kind1 not accepted by peer; kind2 is, at our preference index 1
	require.Equal(t, wire.PeerID("drag-peer"), gotClaimant)
}

// S6: the drag is released before any peer claims it; the final
// recorded Dragging bounces, and on_drop still fires with the
// highest-preference kind and no claimant.
func TestS6DragBounceWithNoClaimant(t *testing.T) {
	const kind1 = uint32(0x42)

	hub := bus.NewHub()
	clock := deskxfer.NewMockClock(time.Unix(0, 0))
	host := deskxfer.StaticHostQuery{Window: 9, Icon: 9}
	sched := scheduler.New(clock, 200*time.Millisecond)
	drag := deskxfer.NewDrag(hub.Endpoint("drag-source"), sched, host, deskxfer.NoOpObserver{}, logging.NewLogger(nil))
	drag.Init()

	var gotKind uint32
	var gotClaimant wire.PeerID
	dropCalled := false
	onDrop := func(shiftHeld bool, window, icon uint32, x, y int32, fileKind uint32, claimantTask wire.PeerID, claimantRef uint32, handle interface{}) bool {
		dropCalled = true
		gotKind = fileKind
		gotClaimant = claimantTask
		return true
	}

	require.NoError(t, drag.Start([]uint32{kind1}, wire.AbsentRect, func(deskxfer.DragBoxOp, bool, int32, int32, interface{}) error { return nil }, onDrop, nil))

	// user releases before any tick claims the drag.
	require.NoError(t, drag.Drop())
	for hub.Pump() > 0 {
	}

	require.True(t, dropCalled)
	require.Equal(t, kind1, gotKind)
	require.Equal(t, wire.PeerID(""), gotClaimant)
}
