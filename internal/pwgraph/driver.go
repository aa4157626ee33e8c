// Copyright (C) 2026 Teascade. Licensed under GPL-3.0 (https://www.gnu.org/licenses/gpl-3.0.txt)

// Package pwgraph owns the concurrency bridge between the graph server's
// single-threaded event loop and the rest of the daemon.
//
// The graph-server client library's binding/registry/proxy primitives are
// an external collaborator, assumed available and specified only at the
// call-site: this package defines that call-site as the Driver interface
// below and implements the bridge state machine against it, plus an
// in-memory fake driver (fakedriver.go) used by tests and by
// `pipeswitchd -fake-graph`. No concrete production driver ships here (see
// DESIGN.md for why one isn't fabricated).
package pwgraph

// RawGlobal is what the registry reports on a "global" event.
type RawGlobal struct {
	ID      uint32
	Type    string
	Version uint32
	Props   map[string]string
}

// LinkInfo is what a link proxy's info callback reports: the link's
// property bag plus its routing fields, which arrive out of band from the
// property bag itself.
type LinkInfo struct {
	ID         uint32
	Props      map[string]string
	OutputNode uint32
	OutputPort uint32
	InputNode  uint32
	InputPort  uint32
}

// DoneEvent reports a core "done" (sync completion) callback.
type DoneEvent struct {
	ID  uint32
	Seq uint64
}

// DriverEvent is the low-level event stream a Driver delivers to the loop
// goroutine. Exactly one field is populated per event, mirroring
// graphmodel.Object's tagged-union style.
type DriverEvent struct {
	Global        *RawGlobal
	GlobalRemoved *uint32
	LinkInfo      *LinkInfo
	Done          *DoneEvent
}

// Driver is the graph-server client surface the bridge drives: registry
// listening, link proxy binding, object creation/destruction, and the
// core-sync handshake primitive ("registry.add_listener", "registry.bind",
// "proxy.add_info_listener", "core.create_object", "registry.destroy_global",
// "core.sync", "core.add_done_listener" in a typical graph-server client
// library).
type Driver interface {
	// Events returns the channel of low-level driver events. The driver
	// closes it when the connection is lost or Close returns.
	Events() <-chan DriverEvent

	// BindLinkProxy binds a link proxy for id and installs an info
	// listener, so that a subsequent LinkInfo event will be delivered on
	// Events() for this id.
	BindLinkProxy(id uint32) error

	// CreateObject calls core.create_object(factoryTypeName, props) and
	// returns the new object's id.
	CreateObject(factoryTypeName string, props map[string]string) (id uint32, err error)

	// DestroyGlobal calls registry.destroy_global(id).
	DestroyGlobal(id uint32) error

	// Sync calls core.sync(0) and returns the sequence number a later
	// DoneEvent with ID == CoreID() will echo back.
	Sync() (seq uint64, err error)

	// CoreID is the well-known id the done listener compares against.
	CoreID() uint32

	// Close tears down the connection. Called at most once by the loop
	// goroutine; Events() must be closed during or after Close returns.
	Close() error
}
