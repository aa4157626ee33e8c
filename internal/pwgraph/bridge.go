// Copyright (C) 2026 Teascade. Licensed under GPL-3.0 (https://www.gnu.org/licenses/gpl-3.0.txt)

package pwgraph

import (
	"log/slog"
	"strconv"
	"sync"

	"github.com/Teascade/pipeswitch/internal/graphmodel"
	"github.com/Teascade/pipeswitch/internal/graphstate"
)

// ActionKind tags which action-channel message a Bridge should process.
type ActionKind int

const (
	ActionTerminate ActionKind = iota
	ActionCreateLink
	ActionDestroyLink
)

// Action is a daemon -> loop message.
type Action struct {
	Kind ActionKind

	// ReqID correlates a CreateLink/DestroyLink action with its reply
	// event, set by the caller and echoed back unchanged. It lets a
	// caller distinguish its own reply from one belonging to a handshake
	// that was queued ahead of or behind it.
	ReqID uint64

	// CreateLink fields.
	FactoryTypeName string
	OutputNode      uint32
	OutputPort      uint32
	InputNode       uint32
	InputPort       uint32
	RuleName        string

	// DestroyLink fields.
	Link graphmodel.Link
}

// EventKind tags which event-channel message a daemon should process.
type EventKind int

const (
	EventLinkCreated EventKind = iota
	EventLinkDestroyed
	EventObject
)

// ObjectKind tags what kind of PipeswitchMessage an EventObject event carries.
type ObjectKind int

const (
	ObjectNew ObjectKind = iota
	ObjectRemoved
	ObjectError
)

// Event is a loop -> daemon message.
type Event struct {
	Kind EventKind

	// EventLinkCreated/EventLinkDestroyed: echoes the originating Action's
	// ReqID, so a caller blocked waiting for its own reply can tell it
	// apart from one belonging to a different in-flight request.
	ReqID uint64

	// EventLinkCreated.
	Link *graphmodel.Link // nil if the server discarded the request

	// EventLinkDestroyed.
	Destroyed bool

	// EventObject.
	ObjectKind ObjectKind
	Object     graphmodel.Object
	Err        error
}

// pending tracks the single in-flight create/destroy handshake. The bridge
// serializes requests -- a single-slot record suffices because at most one
// handshake is ever outstanding -- so no map is needed.
type pending struct {
	seq      uint64
	isCreate bool
	proxyID  uint32
	reqID    uint64
}

// Bridge owns the loop thread's half of the concurrency boundary: it drives
// a Driver's event stream, applies deltas to a Store,
// forwards notifications to the daemon, and serializes the daemon's
// create/destroy link requests into request/response handshakes. At most
// one handshake is ever outstanding: a create/destroy action that arrives
// while one is already in flight is queued rather than started, and the
// next queued action is only dispatched once the in-flight one's Done
// event clears the pending slot.
type Bridge struct {
	driver Driver
	store  *graphstate.Store
	log    *slog.Logger

	actions chan Action
	events  chan Event

	mu     sync.Mutex
	pend   *pending
	queue  []Action            // create/destroy actions awaiting the in-flight handshake
	linked map[uint32]struct{} // link proxy ids whose first info has landed

	done chan struct{}
}

// NewBridge constructs a Bridge around driver and store. Run must be called
// on its own goroutine to drive the loop thread.
func NewBridge(driver Driver, store *graphstate.Store, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		driver:  driver,
		store:   store,
		log:     log,
		actions: make(chan Action, 8),
		events:  make(chan Event, 64),
		linked:  make(map[uint32]struct{}),
		done:    make(chan struct{}),
	}
}

// Actions returns the channel the daemon sends Action messages on.
func (b *Bridge) Actions() chan<- Action { return b.actions }

// Events returns the channel the daemon receives Event messages from. It is
// closed when the loop thread exits, whether from a graceful Terminate or a
// fatal driver failure.
func (b *Bridge) Events() <-chan Event { return b.events }

// Run executes the loop thread body. It must be called on its own
// goroutine; it returns once the loop has quit (Terminate action, or a
// fatal driver error).
func (b *Bridge) Run() {
	defer close(b.events)
	defer close(b.done)

	driverEvents := b.driver.Events()
	for {
		select {
		case act, ok := <-b.actions:
			if !ok {
				return
			}
			if !b.handleAction(act) {
				return
			}
		case dev, ok := <-driverEvents:
			if !ok {
				// A graph protocol failure is fatal to the loop thread;
				// dropping the event channel signals the daemon.
				return
			}
			// Actions sent before this driver event are handled first, so
			// a create/destroy request is already pending by the time the
			// info/done events answering it are processed.
		drain:
			for {
				select {
				case act, ok := <-b.actions:
					if !ok || !b.handleAction(act) {
						return
					}
				default:
					break drain
				}
			}
			b.handleDriverEvent(dev)
		}
	}
}

// Terminate requests the loop thread quit. Safe to call once; the bridge
// owner is responsible for not calling it twice.
func (b *Bridge) Terminate() {
	b.actions <- Action{Kind: ActionTerminate}
}

// Wait blocks until the loop thread has returned from Run.
func (b *Bridge) Wait() {
	<-b.done
}

func (b *Bridge) handleAction(act Action) bool {
	switch act.Kind {
	case ActionTerminate:
		if err := b.driver.Close(); err != nil {
			b.log.Error("pwgraph: error closing driver on terminate", "error", err)
		}
		return false
	case ActionCreateLink, ActionDestroyLink:
		b.submitOrQueue(act)
	}
	return true
}

// submitOrQueue starts act's handshake immediately, unless one is already
// outstanding: a destroy racing the still-in-flight create of the very link
// it targets fails soft right away (the server hasn't materialized that
// link yet), while any other overlapping create/destroy is queued and
// dispatched once handleDone clears the pending slot. This is what keeps
// the single pend slot from ever being clobbered by a second handshake.
func (b *Bridge) submitOrQueue(act Action) {
	b.mu.Lock()
	if act.Kind == ActionDestroyLink && b.pend != nil && b.pend.isCreate && b.pend.proxyID == act.Link.ID {
		b.mu.Unlock()
		b.events <- Event{Kind: EventLinkDestroyed, ReqID: act.ReqID, Destroyed: false}
		return
	}
	if b.pend != nil {
		b.queue = append(b.queue, act)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.dispatch(act)
}

func (b *Bridge) dispatch(act Action) {
	switch act.Kind {
	case ActionCreateLink:
		b.startCreateLink(act)
	case ActionDestroyLink:
		b.startDestroyLink(act)
	}
}

// startCreateLink implements the CreateLink action: build the property
// dictionary, call the driver's create-object primitive, bind a link
// proxy's info listener, then sync and record the pending handshake.
func (b *Bridge) startCreateLink(act Action) {
	props := map[string]string{
		graphmodel.LinkOutputNodeKey: strconv.FormatUint(uint64(act.OutputNode), 10),
		graphmodel.LinkOutputPortKey: strconv.FormatUint(uint64(act.OutputPort), 10),
		graphmodel.LinkInputNodeKey:  strconv.FormatUint(uint64(act.InputNode), 10),
		graphmodel.LinkInputPortKey:  strconv.FormatUint(uint64(act.InputPort), 10),
		graphmodel.ObjectLingerKey:   "1",
		graphmodel.RuleNameKey:       act.RuleName,
	}

	proxyID, err := b.driver.CreateObject(act.FactoryTypeName, props)
	if err != nil {
		b.log.Error("pwgraph: create-object failed", "error", err)
		b.events <- Event{Kind: EventLinkCreated, ReqID: act.ReqID, Link: nil}
		return
	}

	if err := b.driver.BindLinkProxy(proxyID); err != nil {
		// Failure to bind a proxy is fatal to the loop thread.
		b.log.Error("pwgraph: bind link proxy failed", "error", err)
		return
	}

	seq, err := b.driver.Sync()
	if err != nil {
		b.log.Error("pwgraph: core sync failed", "error", err)
		return
	}

	b.mu.Lock()
	b.pend = &pending{seq: seq, isCreate: true, proxyID: proxyID, reqID: act.ReqID}
	b.mu.Unlock()
}

// startDestroyLink implements the DestroyLink action. submitOrQueue already
// guarantees no handshake is outstanding by the time this runs (the
// not-yet-materialized-create race is guarded there, before this is ever
// dispatched), so this only has the handshake itself left to drive.
func (b *Bridge) startDestroyLink(act Action) {
	if err := b.driver.DestroyGlobal(act.Link.ID); err != nil {
		b.log.Error("pwgraph: destroy-global failed", "error", err)
		b.events <- Event{Kind: EventLinkDestroyed, ReqID: act.ReqID, Destroyed: false}
		return
	}

	seq, err := b.driver.Sync()
	if err != nil {
		b.log.Error("pwgraph: core sync failed", "error", err)
		return
	}

	b.mu.Lock()
	b.pend = &pending{seq: seq, isCreate: false, reqID: act.ReqID}
	b.mu.Unlock()
}

func (b *Bridge) handleDriverEvent(dev DriverEvent) {
	switch {
	case dev.Global != nil:
		b.handleGlobal(*dev.Global)
	case dev.GlobalRemoved != nil:
		b.handleGlobalRemoved(*dev.GlobalRemoved)
	case dev.LinkInfo != nil:
		b.handleLinkInfo(*dev.LinkInfo)
	case dev.Done != nil:
		b.handleDone(*dev.Done)
	}
}

// handleGlobal implements the registry listener. Links are not constructed
// here: their routing fields arrive only via the info callback, so a link
// global only triggers BindLinkProxy.
func (b *Bridge) handleGlobal(g RawGlobal) {
	if g.Type == graphmodel.LinkFactoryTypeName {
		if err := b.driver.BindLinkProxy(g.ID); err != nil {
			b.log.Error("pwgraph: bind link proxy failed", "error", err)
		}
		return
	}

	obj, err := graphmodel.FromGlobal(g.ID, g.Type, g.Version, g.Props)
	if err != nil {
		b.events <- Event{Kind: EventObject, ObjectKind: ObjectError, Err: err}
		return
	}
	if obj == nil {
		return // ignored type (module, device, ...)
	}
	stored := b.store.ApplyNew(*obj)
	b.events <- Event{Kind: EventObject, ObjectKind: ObjectNew, Object: stored}
}

func (b *Bridge) handleGlobalRemoved(id uint32) {
	obj, err := b.store.ApplyRemoved(id)
	if err != nil {
		b.log.Warn("pwgraph: global-removed for unregistered id", "id", id, "error", err)
		return
	}
	if obj.Type() == graphmodel.TypeLink {
		// The server reuses ids; forget this one so a future link under
		// the same id gets its first info delivered rather than deduped.
		b.mu.Lock()
		delete(b.linked, id)
		b.mu.Unlock()
	}
	b.events <- Event{Kind: EventObject, ObjectKind: ObjectRemoved, Object: obj}
}

// handleLinkInfo applies a first-info-is-terminal policy for link identity:
// only the first info event for a given link proxy id constructs and
// stores the Link; subsequent updates (a link's info callback can fire more
// than once) are ignored rather than risking a second, possibly divergent,
// Link value for the same id.
func (b *Bridge) handleLinkInfo(info LinkInfo) {
	b.mu.Lock()
	if _, already := b.linked[info.ID]; already {
		b.mu.Unlock()
		return
	}
	b.linked[info.ID] = struct{}{}
	isPendingCreate := b.pend != nil && b.pend.isCreate && b.pend.proxyID == info.ID
	b.mu.Unlock()

	link, err := graphmodel.NewLink(info.ID, info.Props, info.OutputNode, info.OutputPort, info.InputNode, info.InputPort)
	if err != nil {
		b.events <- Event{Kind: EventObject, ObjectKind: ObjectError, Err: err}
		return
	}
	stored := b.store.ApplyNew(graphmodel.Object{Link: link})

	if !isPendingCreate {
		// A link that arrived outside of our own create handshake (e.g.
		// one pre-existing at startup, or created by another client) is
		// still stored above; the daemon observes it as NewObject(Link).
		// A link we ourselves requested is instead reported via handleDone
		// once the matching core-done callback fires: the registry only
		// delivers the new-global/info event after the server commits the
		// link, which is always before that link's create handshake
		// completes.
		b.events <- Event{Kind: EventObject, ObjectKind: ObjectNew, Object: stored}
	}
}

// handleDone implements the core-done listener: on a sync completion
// matching the pending handshake's sequence, emit the corresponding
// daemon-facing event, clear the pending slot, then submit the next queued
// action (if any) -- this is the only place a queued handshake advances.
func (b *Bridge) handleDone(d DoneEvent) {
	if d.ID != b.driver.CoreID() {
		return
	}

	b.mu.Lock()
	p := b.pend
	if p == nil || p.seq != d.Seq {
		b.mu.Unlock()
		return
	}
	b.pend = nil
	var next Action
	hasNext := false
	if len(b.queue) > 0 {
		next, b.queue = b.queue[0], b.queue[1:]
		hasNext = true
	}
	b.mu.Unlock()

	if p.isCreate {
		link, ok := b.store.Link(p.proxyID)
		if ok {
			b.events <- Event{Kind: EventLinkCreated, ReqID: p.reqID, Link: &link}
		} else {
			b.events <- Event{Kind: EventLinkCreated, ReqID: p.reqID, Link: nil}
		}
	} else {
		b.events <- Event{Kind: EventLinkDestroyed, ReqID: p.reqID, Destroyed: true}
	}

	if hasNext {
		b.submitOrQueue(next)
	}
}
