package deskxfer

import (
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-deskxfer/internal/bus"
	"github.com/ehrlich-b/go-deskxfer/internal/constants"
	"github.com/ehrlich-b/go-deskxfer/internal/interfaces"
	"github.com/ehrlich-b/go-deskxfer/internal/logging"
	"github.com/ehrlich-b/go-deskxfer/internal/scheduler"
	"github.com/ehrlich-b/go-deskxfer/internal/wire"
)

// DragBoxOp names the host rendering operation a drag box callback is
// asked to perform (spec.md §4.3, §6 "on_drag_box").
type DragBoxOp int

const (
	DragBoxStart DragBoxOp = iota
	DragBoxHide
	DragBoxCancel
)

// OnDragBoxFunc asks the host to render, hide, or cancel the drag
// representation.
type OnDragBoxFunc func(op DragBoxOp, useSolid bool, x, y int32, handle interface{}) error

// OnDropFunc is invoked exactly once per drag, after it has entered
// Finished, with the resolved file kind and claimant identity. Its
// return reports whether the client accepted responsibility for
// sending the data (spec.md §4.3: "If on_drop returns false... instruct
// the claimant to relinquish").
type OnDropFunc func(shiftHeld bool, window, icon uint32, x, y int32, fileKind uint32, claimantTask wire.PeerID, claimantRef uint32, handle interface{}) bool

type dragState int

const (
	dragIdle dragState = iota
	dragActive
	dragAwaitingClaimReply
	dragFinished
)

const tokenDragPoll scheduler.FuncToken = 200

// Drag implements spec.md §4.3's drag engine. At most one drag may be
// active on a given Drag instance at a time, matching the "process-wide,
// at most one" global the spec describes; a host running more than one
// concurrent drag surface would construct more than one Drag.
type Drag struct {
	bus   bus.Bus
	sched *scheduler.Scheduler
	host  interfaces.HostQuery
	obs   interfaces.Observer
	log   *logging.Logger

	state        dragState
	claimantTask wire.PeerID
	lastClaimRef uint32

	lastSentDraggingRef uint32
	flagsFromClaim      wire.DragClaimFlags
	shiftHeldAtStart    bool
	solidDragPref       bool
	fileKinds           []uint32
	dataBBox            wire.Rect

	clientHandle interface{}
	onDragBox    OnDragBoxFunc
	onDrop       OnDropFunc
	aborted      bool
}

// NewDrag constructs a Drag. Init must be called before use.
func NewDrag(b bus.Bus, sched *scheduler.Scheduler, host interfaces.HostQuery, obs interfaces.Observer, log *logging.Logger) *Drag {
	return &Drag{
		bus:   b,
		sched: sched,
		host:  host,
		obs:   obs,
		log:   log.Named("drag"),
	}
}

// Init installs the DragClaim and BounceAck handlers (spec.md §4.3).
func (d *Drag) Init() {
	d.bus.InstallHandler(wire.KindDragClaim, d.handleDragClaim)
	d.bus.InstallHandler(wire.KindBounceAck, d.handleBounceAck)
}

// Start begins a drag (spec.md §4.3). Precondition: no drag is
// currently active on this instance.
func (d *Drag) Start(kinds []uint32, bbox wire.Rect, onDragBox OnDragBoxFunc, onDrop OnDropFunc, handle interface{}) error {
	if d.state != dragIdle {
		return NewError("Start", CodeProtocol, "a drag is already active")
	}
	if onDragBox == nil {
		return NewError("Start", CodeProtocol, "onDragBox is required")
	}

	d.shiftHeldAtStart = d.host.ShiftHeld()
	d.solidDragPref = d.host.PreferSolidDrag()
	d.fileKinds = append([]uint32(nil), kinds...)
	d.dataBBox = bbox
	d.clientHandle = handle
	d.onDragBox = onDragBox
	d.onDrop = onDrop
	d.claimantTask = ""
	d.lastClaimRef = 0
	d.lastSentDraggingRef = 0
	d.flagsFromClaim = 0

	if !d.sched.RegisterDelay(tokenDragPoll, d, 0, constants.DefaultCallbackPriority, d.onTick) {
		return NewError("Start", CodeProtocol, "drag poll callback already registered")
	}

	_, _, x, y := d.host.Pointer()
	if err := onDragBox(DragBoxStart, d.solidDragPref, x, y, handle); err != nil {
		d.sched.Deregister(tokenDragPoll, d)
		return WrapError("Start", CodeHostError, err)
	}

	d.obs.ObserveDragStart()
	d.state = dragActive
	return nil
}

func (d *Drag) onTick(handle interface{}, now time.Time, timeUp *atomic.Bool) time.Time {
	if d.state != dragActive && d.state != dragAwaitingClaimReply {
		return now.Add(constants.DragPollInterval)
	}

	window, icon, x, y := d.host.Pointer()
	msg := &wire.DraggingMsg{
		Sender:    d.bus.Self(),
		Window:    window,
		Icon:      icon,
		X:         x,
		Y:         y,
		BBox:      d.dataBBox,
		FileKinds: d.fileKinds,
	}

	var ref uint32
	if d.claimantTask != "" {
		msg.YourRef = d.lastClaimRef
		ref = d.bus.Send(d.claimantTask, wire.KindDragging, msg, true)
		d.state = dragAwaitingClaimReply
	} else {
		ref, _ = d.bus.SendToWindow(window, icon, wire.KindDragging, msg, false)
		d.state = dragActive
	}
	d.lastSentDraggingRef = ref

	return now.Add(constants.DragPollInterval)
}

func (d *Drag) handleDragClaim(env bus.Envelope) bool {
	msg, ok := env.Payload.(*wire.DragClaimMsg)
	if !ok {
		return false
	}
	if d.lastSentDraggingRef == 0 || msg.YourRef != d.lastSentDraggingRef {
		return false
	}

	hadRemoveBox := d.flagsFromClaim&wire.FlagRemoveDragBox != 0
	hadShapeChanged := d.flagsFromClaim&wire.FlagPointerShapeChanged != 0

	d.claimantTask = env.From
	d.lastClaimRef = msg.MyRef
	d.flagsFromClaim = msg.Flags

	nowRemoveBox := msg.Flags&wire.FlagRemoveDragBox != 0
	if nowRemoveBox && !hadRemoveBox {
		d.onDragBox(DragBoxHide, d.solidDragPref, 0, 0, d.clientHandle)
	} else if !nowRemoveBox && hadRemoveBox {
		d.onDragBox(DragBoxStart, d.solidDragPref, 0, 0, d.clientHandle)
	}

	nowShapeChanged := msg.Flags&wire.FlagPointerShapeChanged != 0
	if hadShapeChanged && !nowShapeChanged {
		// claimant relinquished the custom pointer shape; the host's
		// pointer surface is out of this core's scope (spec.md §1), so
		// we only log that a reset is due.
		d.log.Debugf("claimant %s cleared pointer-shape-changed, host should reset pointer", env.From)
	}

	if d.state == dragFinished {
		fileKind := d.resolveFileKind(msg.FileKinds)
		accepted := true
		if d.onDrop != nil {
			accepted = d.onDrop(d.shiftHeldAtStart, 0, 0, 0, 0, fileKind, d.claimantTask, d.lastClaimRef, d.clientHandle)
		}
		if !accepted {
			relinquish := &wire.DraggingMsg{Sender: d.bus.Self(), YourRef: msg.MyRef, Flags: wire.FlagDoNotClaim}
			d.bus.Send(env.From, wire.KindDragging, relinquish, false)
		}
		d.obs.ObserveDragDrop(true)
		d.reset()
	}
	return true
}

func (d *Drag) handleBounceAck(env bus.Envelope) bool {
	msg, ok := env.Payload.(*wire.BounceAckMsg)
	if !ok || msg.Kind != wire.KindDragging {
		return false
	}
	if d.lastSentDraggingRef == 0 || msg.MyRef != d.lastSentDraggingRef {
		return false
	}
	if d.state != dragFinished {
		// a mid-drag Dragging sent to the claimant bounced because the
		// claimant has gone; the next tick keeps polling, so this is not
		// a failure.
		return true
	}
	// the final Dragging went unclaimed (no claimant, or the claimant has
	// gone): on_drop still runs once, with our first file kind.
	fileKind := d.resolveFileKind(nil)
	if d.onDrop != nil {
		d.onDrop(d.shiftHeldAtStart, 0, 0, 0, 0, fileKind, "", 0, d.clientHandle)
	}
	d.obs.ObserveDragDrop(false)
	d.reset()
	return true
}

// resolveFileKind picks the first of our file kinds also present in
// claimKinds, falling back to our first kind, matching spec.md §4.3's
// "best match... with our list's order as tie-break".
func (d *Drag) resolveFileKind(claimKinds []uint32) uint32 {
	for _, ours := range d.fileKinds {
		for _, theirs := range claimKinds {
			if ours == theirs {
				return ours
			}
		}
	}
	if len(d.fileKinds) > 0 {
		return d.fileKinds[0]
	}
	return constants.NullFileKind
}

// Drop signals that the host's drag gesture ended over some target
// (spec.md §4.3 "Drop handling"). It sends a final, recorded Dragging
// message, whose reply or bounce resolves on_drop.
func (d *Drag) Drop() error {
	if d.state != dragActive && d.state != dragAwaitingClaimReply {
		return NewError("Drop", CodeProtocol, "no active drag to drop")
	}
	return d.finish(false)
}

// Abort cancels an in-progress drag (spec.md §4.3 "abort"). It
// transitions to Finished with aborted = true and performs the same
// Finished sequence as Drop: spec.md guarantees exactly one terminal
// on_drop per drag, occurring after Finished is entered, and an
// aborted drag is no exception.
func (d *Drag) Abort() error {
	switch d.state {
	case dragIdle:
		return nil
	case dragActive, dragAwaitingClaimReply:
		return d.finish(true)
	default:
		// Already Finished and waiting on a claim or bounce to resolve
		// on_drop; that resolution still owns calling reset.
		return nil
	}
}

// finish performs the Finished sequence shared by Drop and Abort
// (spec.md §4.3): cancel the drag box, deregister the periodic poll,
// and send a final recorded Dragging whose reply or bounce resolves
// on_drop exactly as it would for a normal drop.
func (d *Drag) finish(aborted bool) error {
	d.state = dragFinished
	d.aborted = aborted

	window, icon, x, y := d.host.Pointer()
	if d.onDragBox != nil {
		if err := d.onDragBox(DragBoxCancel, d.solidDragPref, x, y, d.clientHandle); err != nil {
			d.log.Warnf("on_drag_box(Cancel) failed: %v", err)
		}
	}
	d.sched.Deregister(tokenDragPoll, d)

	msg := &wire.DraggingMsg{
		Sender:    d.bus.Self(),
		Window:    window,
		Icon:      icon,
		X:         x,
		Y:         y,
		BBox:      d.dataBBox,
		FileKinds: d.fileKinds,
	}
	var ref uint32
	if d.claimantTask != "" {
		msg.YourRef = d.lastClaimRef
		ref = d.bus.Send(d.claimantTask, wire.KindDragging, msg, true)
	} else {
		ref, _ = d.bus.SendToWindow(window, icon, wire.KindDragging, msg, true)
	}
	d.lastSentDraggingRef = ref
	return nil
}

// Finalise aborts any in-progress drag.
func (d *Drag) Finalise() {
	if d.state != dragIdle {
		d.Abort()
	}
}

func (d *Drag) reset() {
	d.state = dragIdle
	d.claimantTask = ""
	d.lastClaimRef = 0
	d.lastSentDraggingRef = 0
	d.flagsFromClaim = 0
	d.onDragBox = nil
	d.onDrop = nil
	d.clientHandle = nil
	d.aborted = false
}
