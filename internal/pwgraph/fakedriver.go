// Copyright (C) 2026 Teascade. Licensed under GPL-3.0 (https://www.gnu.org/licenses/gpl-3.0.txt)

package pwgraph

import (
	"sync"

	"github.com/Teascade/pipeswitch/internal/pwerr"
)

// FakeDriver is an in-memory graph-server driver used by tests and by
// `pipeswitchd -fake-graph` to exercise the bridge without a running graph
// server. It is single-threaded in the same way a real driver's loop
// integration would be: all calls below are expected to run on the loop
// goroutine, and emitted test events are queued for the Events() channel.
type FakeDriver struct {
	mu sync.Mutex

	events  chan DriverEvent
	nextID  uint32
	nextSeq uint64
	coreID  uint32

	// boundProxies tracks ids bound via BindLinkProxy so tests can fire
	// the matching info callback.
	boundProxies map[uint32]struct{}

	closed bool
}

// NewFakeDriver returns a FakeDriver ready to accept Emit* calls from a
// test's goroutine and Driver calls from the bridge's loop goroutine.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		events:       make(chan DriverEvent, 64),
		nextID:       100,
		coreID:       0,
		boundProxies: make(map[uint32]struct{}),
	}
}

func (d *FakeDriver) Events() <-chan DriverEvent { return d.events }

func (d *FakeDriver) CoreID() uint32 { return d.coreID }

// BindLinkProxy records the id as bound; a test drives the resulting info
// callback via EmitLinkInfo.
func (d *FakeDriver) BindLinkProxy(id uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return pwerr.Errorf(pwerr.KindProtocol, "fakedriver: closed")
	}
	d.boundProxies[id] = struct{}{}
	return nil
}

// CreateObject allocates a new id for the requested object. factoryTypeName
// is ignored by the fake beyond bookkeeping; the caller is expected to have
// already resolved the factory via the store.
func (d *FakeDriver) CreateObject(factoryTypeName string, props map[string]string) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, pwerr.Errorf(pwerr.KindProtocol, "fakedriver: closed")
	}
	id := d.nextID
	d.nextID++
	return id, nil
}

// DestroyGlobal removes the object server-side. The registry reports the
// removal back as a global-removed event, which the fake delivers
// immediately -- a real server would do the same on the next loop
// iteration.
func (d *FakeDriver) DestroyGlobal(id uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return pwerr.Errorf(pwerr.KindProtocol, "fakedriver: closed")
	}
	removed := id
	d.events <- DriverEvent{GlobalRemoved: &removed}
	return nil
}

// Sync returns a fresh monotonically increasing sequence number. The test
// driving the fake is responsible for calling EmitDone with this value once
// it wants the handshake to complete (mirroring a real server's async
// core-done delivery).
func (d *FakeDriver) Sync() (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, pwerr.Errorf(pwerr.KindProtocol, "fakedriver: closed")
	}
	d.nextSeq++
	return d.nextSeq, nil
}

func (d *FakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.events)
	return nil
}

// --- test-side emission helpers, called from the driving goroutine ---

// EmitGlobal enqueues a "new global" event.
func (d *FakeDriver) EmitGlobal(g RawGlobal) {
	d.events <- DriverEvent{Global: &g}
}

// EmitGlobalRemoved enqueues a "global removed" event.
func (d *FakeDriver) EmitGlobalRemoved(id uint32) {
	d.events <- DriverEvent{GlobalRemoved: &id}
}

// EmitLinkInfo enqueues a link info callback for a previously bound proxy.
func (d *FakeDriver) EmitLinkInfo(info LinkInfo) {
	d.events <- DriverEvent{LinkInfo: &info}
}

// EmitDone enqueues a core-done event for CoreID() at the given sequence.
func (d *FakeDriver) EmitDone(seq uint64) {
	d.events <- DriverEvent{Done: &DoneEvent{ID: d.coreID, Seq: seq}}
}

// NextProxyID previews the id CreateObject will hand out next, so a test
// can pre-arrange the matching EmitLinkInfo without racing the bridge.
func (d *FakeDriver) NextProxyID() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nextID
}
