// Copyright (C) 2026 Teascade. Licensed under GPL-3.0 (https://www.gnu.org/licenses/gpl-3.0.txt)

// Package graphstate holds the process-wide snapshot of the live graph,
// keyed by object id, and applies the create/remove event stream the graph
// loop bridge reports.
package graphstate

import (
	"fmt"
	"sync"

	"github.com/Teascade/pipeswitch/internal/graphmodel"
)

// Store is the shared, mutex-guarded view of every port/node/link/client/
// factory currently known to the daemon. Readers and writers alike must
// acquire the lock; callers MUST release the lock before issuing a blocking
// bridge round-trip, to avoid deadlocking against the loop goroutine.
type Store struct {
	mu sync.Mutex

	types     map[uint32]graphmodel.ObjectType
	ports     map[uint32]graphmodel.Port
	nodes     map[uint32]graphmodel.Node
	links     map[uint32]graphmodel.Link
	clients   map[uint32]graphmodel.Client
	factories map[string]graphmodel.Factory
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		types:     make(map[uint32]graphmodel.ObjectType),
		ports:     make(map[uint32]graphmodel.Port),
		nodes:     make(map[uint32]graphmodel.Node),
		links:     make(map[uint32]graphmodel.Link),
		clients:   make(map[uint32]graphmodel.Client),
		factories: make(map[string]graphmodel.Factory),
	}
}

// ApplyNew inserts a newly observed object into the store, keyed by its own
// id (or, for factories, by TypeName). Returns the stored Object.
func (s *Store) ApplyNew(obj graphmodel.Object) graphmodel.Object {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := obj.ID()
	switch obj.Type() {
	case graphmodel.TypePort:
		s.types[id] = graphmodel.TypePort
		s.ports[id] = *obj.Port
	case graphmodel.TypeNode:
		s.types[id] = graphmodel.TypeNode
		s.nodes[id] = *obj.Node
	case graphmodel.TypeLink:
		s.types[id] = graphmodel.TypeLink
		s.links[id] = *obj.Link
	case graphmodel.TypeClient:
		s.types[id] = graphmodel.TypeClient
		s.clients[id] = *obj.Client
	case graphmodel.TypeFactory:
		s.types[id] = graphmodel.TypeFactory
		s.factories[obj.Factory.TypeName] = *obj.Factory
	}
	return obj
}

// ApplyRemoved removes the object with the given id, dispatching by its
// recorded type tag. Returns the removed Object, or an error if the id was
// never registered -- a soft error, logged by the caller, never fatal.
func (s *Store) ApplyRemoved(id uint32) (graphmodel.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	typ, ok := s.types[id]
	if !ok {
		return graphmodel.Object{}, fmt.Errorf("graphstate: id %d was never registered", id)
	}
	delete(s.types, id)

	switch typ {
	case graphmodel.TypePort:
		port, ok := s.ports[id]
		delete(s.ports, id)
		if !ok {
			return graphmodel.Object{}, fmt.Errorf("graphstate: port %d missing from map", id)
		}
		return graphmodel.Object{Port: &port}, nil
	case graphmodel.TypeNode:
		node, ok := s.nodes[id]
		delete(s.nodes, id)
		if !ok {
			return graphmodel.Object{}, fmt.Errorf("graphstate: node %d missing from map", id)
		}
		return graphmodel.Object{Node: &node}, nil
	case graphmodel.TypeLink:
		link, ok := s.links[id]
		delete(s.links, id)
		if !ok {
			return graphmodel.Object{}, fmt.Errorf("graphstate: link %d missing from map", id)
		}
		return graphmodel.Object{Link: &link}, nil
	case graphmodel.TypeClient:
		client, ok := s.clients[id]
		delete(s.clients, id)
		if !ok {
			return graphmodel.Object{}, fmt.Errorf("graphstate: client %d missing from map", id)
		}
		return graphmodel.Object{Client: &client}, nil
	default:
		return graphmodel.Object{}, fmt.Errorf("graphstate: factory removal by id %d unsupported", id)
	}
}

// PortsByNode returns every port currently owned by nodeID. Linear scan,
// order unspecified; the port count per node is small enough that this
// never shows up next to the bridge round-trips it's called alongside.
func (s *Store) PortsByNode(nodeID uint32) []graphmodel.Port {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []graphmodel.Port
	for _, p := range s.ports {
		if p.NodeID == nodeID {
			out = append(out, p)
		}
	}
	return out
}

// Port looks up a port by id.
func (s *Store) Port(id uint32) (graphmodel.Port, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ports[id]
	return p, ok
}

// Node looks up a node by id.
func (s *Store) Node(id uint32) (graphmodel.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	return n, ok
}

// Link looks up a link by id.
func (s *Store) Link(id uint32) (graphmodel.Link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[id]
	return l, ok
}

// Client looks up a client by id.
func (s *Store) Client(id uint32) (graphmodel.Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	return c, ok
}

// Factory looks up a factory by its TypeName.
func (s *Store) Factory(typeName string) (graphmodel.Factory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.factories[typeName]
	return f, ok
}

// AllPorts returns a snapshot copy of every currently known port, used by
// the reload diff to re-pair existing ports against changed/new rules.
func (s *Store) AllPorts() []graphmodel.Port {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]graphmodel.Port, 0, len(s.ports))
	for _, p := range s.ports {
		out = append(out, p)
	}
	return out
}

// Lock exposes the store's mutex directly for callers (the reconciliation
// daemon) that need to hold it across several reads while classifying a
// port. Callers MUST call Unlock before issuing any blocking bridge
// round-trip.
func (s *Store) Lock() {
	s.mu.Lock()
}

// Unlock releases the lock taken by Lock.
func (s *Store) Unlock() {
	s.mu.Unlock()
}

// PortLocked looks up a port without acquiring the lock; only valid to call
// while the caller already holds it via Lock().
func (s *Store) PortLocked(id uint32) (graphmodel.Port, bool) {
	p, ok := s.ports[id]
	return p, ok
}

// NodeLocked looks up a node without acquiring the lock; only valid to call
// while the caller already holds it via Lock().
func (s *Store) NodeLocked(id uint32) (graphmodel.Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// ClientLocked looks up a client without acquiring the lock; only valid to
// call while the caller already holds it via Lock().
func (s *Store) ClientLocked(id uint32) (graphmodel.Client, bool) {
	c, ok := s.clients[id]
	return c, ok
}

// FactoryLocked looks up a factory without acquiring the lock; only valid
// to call while the caller already holds it via Lock().
func (s *Store) FactoryLocked(typeName string) (graphmodel.Factory, bool) {
	f, ok := s.factories[typeName]
	return f, ok
}
