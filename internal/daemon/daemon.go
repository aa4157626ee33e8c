// Copyright (C) 2026 Teascade. Licensed under GPL-3.0 (https://www.gnu.org/licenses/gpl-3.0.txt)

// Package daemon implements the reconciliation daemon. It merges the
// bridge's event stream with config reload notifications, drives the rule
// engine, issues link create/destroy requests through the bridge, and
// diffs rule sets across reloads.
package daemon

import (
	"errors"
	"log/slog"
	"time"

	"github.com/Teascade/pipeswitch/internal/config"
	"github.com/Teascade/pipeswitch/internal/graphmodel"
	"github.com/Teascade/pipeswitch/internal/graphstate"
	"github.com/Teascade/pipeswitch/internal/metrics"
	"github.com/Teascade/pipeswitch/internal/pwerr"
	"github.com/Teascade/pipeswitch/internal/pwgraph"
	"github.com/Teascade/pipeswitch/internal/rules"
)

// errBridgeClosed is returned by the synchronous create/destroy helpers
// when the bridge's event channel closes mid-handshake: a lost graph
// connection is a fatal failure for the daemon's goroutine.
var errBridgeClosed = errors.New("daemon: bridge event channel closed")

// Daemon owns the rule table and drives the reconciliation loop. The rule
// table and lingerLinks flag are owned exclusively by the daemon's
// goroutine; no locking is required for them.
type Daemon struct {
	store   *graphstate.Store
	actions chan<- pwgraph.Action
	events  <-chan pwgraph.Event

	configModified <-chan *config.Config

	rules       map[string]*rules.LinkRule
	lingerLinks bool

	queries chan func(*Daemon)

	// reqSeq assigns each CreateLink/DestroyLink action a unique id, and
	// stray replies -- a reply for some other in-flight request, seen by
	// a createLink/destroyLink call that is nested inside another one's
	// wait -- are stashed here for their rightful caller to pick up.
	reqSeq  uint64
	replies map[uint64]pwgraph.Event

	metrics *metrics.Metrics
	log     *slog.Logger
}

// New constructs a Daemon wired to a bridge's action/event channels and a
// config watcher's modified-config channel (nil if hotreload is disabled).
func New(store *graphstate.Store, actions chan<- pwgraph.Action, events <-chan pwgraph.Event, configModified <-chan *config.Config, m *metrics.Metrics, log *slog.Logger) *Daemon {
	if log == nil {
		log = slog.Default()
	}
	return &Daemon{
		store:          store,
		actions:        actions,
		events:         events,
		configModified: configModified,
		rules:          make(map[string]*rules.LinkRule),
		queries:        make(chan func(*Daemon)),
		replies:        make(map[uint64]pwgraph.Event),
		metrics:        m,
		log:            log,
	}
}

// nextReqID returns the next unique CreateLink/DestroyLink request id.
func (d *Daemon) nextReqID() uint64 {
	d.reqSeq++
	return d.reqSeq
}

// Query schedules fn to run on the daemon's own goroutine and blocks until
// it completes. The rule table is deliberately left unlocked (owned
// exclusively by the daemon goroutine) and is otherwise unsafe to inspect
// from another goroutine; Query is the race-free way diagnostics and tests
// do so.
func (d *Daemon) Query(fn func(d *Daemon)) {
	done := make(chan struct{})
	d.queries <- func(dd *Daemon) {
		fn(dd)
		close(done)
	}
	<-done
}

// RuleNames returns the names of every currently loaded rule. Call only
// from within a Query callback (or the daemon's own goroutine).
func (d *Daemon) RuleNames() []string {
	return d.allRuleNames()
}

// LinkCount reports how many links a named rule currently owns. Call only
// from within a Query callback (or the daemon's own goroutine).
func (d *Daemon) LinkCount(name string) (int, bool) {
	lr, ok := d.rules[name]
	if !ok {
		return 0, false
	}
	return len(lr.Links), true
}

// LoadInitial applies the startup configuration as if it were a reload
// against an empty rule table: every configured rule is "new" and the
// existing graph snapshot (if any objects arrived before the daemon started
// consuming events) is re-paired against it.
func (d *Daemon) LoadInitial(cfg *config.Config) {
	d.handleConfigModified(cfg)
}

// Run drives the merged event loop. It returns when the bridge's event
// channel closes, which is treated as a fatal failure for the daemon.
func (d *Daemon) Run() {
	for {
		select {
		case ev, ok := <-d.events:
			if !ok {
				d.log.Error("daemon: bridge closed, exiting")
				return
			}
			d.handleEvent(ev)
		case cfg, ok := <-d.configModified:
			if !ok {
				d.configModified = nil
				continue
			}
			d.handleConfigModified(cfg)
		case fn := <-d.queries:
			fn(d)
		}
	}
}

func (d *Daemon) handleEvent(ev pwgraph.Event) {
	switch ev.Kind {
	case pwgraph.EventObject:
		d.handleObjectEvent(ev)
	default:
		// LinkCreated/LinkDestroyed replies are always consumed inline by
		// createLink/destroyLink below, since the bridge serializes one
		// handshake at a time; reaching here would mean a reply arrived
		// with nothing waiting for it.
		d.log.Warn("daemon: unsolicited handshake reply", "kind", ev.Kind)
	}
}

func (d *Daemon) handleObjectEvent(ev pwgraph.Event) {
	switch ev.ObjectKind {
	case pwgraph.ObjectNew:
		d.handleNewObject(ev.Object)
	case pwgraph.ObjectRemoved:
		d.handleRemovedObject(ev.Object)
	case pwgraph.ObjectError:
		d.handleObjectError(ev.Err)
	}
}

func (d *Daemon) handleNewObject(obj graphmodel.Object) {
	switch obj.Type() {
	case graphmodel.TypePort:
		d.newPortForRules(*obj.Port, d.allRuleNames())
	case graphmodel.TypeLink:
		d.handleNewLink(*obj.Link)
	}
}

// handleNewLink handles a newly observed link: attach an owned link to its
// rule, request destruction of a stale orphan (server-restart recovery), or
// ignore links with no rule_name at all.
func (d *Daemon) handleNewLink(l graphmodel.Link) {
	if l.RuleName == nil {
		return
	}
	if lr, ok := d.rules[*l.RuleName]; ok {
		_, outOK := lr.Out.MatchingPorts()[l.OutputPort]
		_, inOK := lr.In.MatchingPorts()[l.InputPort]
		if outOK && inOK {
			lr.Links[l.ID] = struct{}{}
			return
		}
	}
	if !d.lingerLinks {
		d.destroyLink(l)
	}
}

func (d *Daemon) handleRemovedObject(obj graphmodel.Object) {
	switch obj.Type() {
	case graphmodel.TypePort:
		p := *obj.Port
		for _, lr := range d.rules {
			lr.In.DeletePort(p.ID)
			lr.Out.DeletePort(p.ID)
		}
	case graphmodel.TypeLink:
		l := *obj.Link
		if l.RuleName == nil {
			return
		}
		if lr, ok := d.rules[*l.RuleName]; ok {
			delete(lr.Links, l.ID)
		}
	}
}

func (d *Daemon) handleObjectError(err error) {
	if err == nil {
		return
	}
	var pe *pwerr.Error
	if errors.As(err, &pe) && pe.Kind == pwerr.KindParse {
		if _, missingProp := pe.Attributes["property"]; missingProp {
			d.log.Warn("daemon: property missing", "error", err)
			return
		}
	}
	d.log.Error("daemon: graph object error", "error", err)
}

// newPortForRules is the pairing step for a newly observed port: for every
// named rule, classify P against its near side and, on a match, attempt to
// pair it against every currently-matching port on the far side.
func (d *Daemon) newPortForRules(p graphmodel.Port, names []string) {
	d.store.Lock()
	for _, name := range names {
		lr, ok := d.rules[name]
		if !ok {
			continue
		}
		near, far := lr.Sides(p.Direction)
		if !near.AddIfMatches(d.store, p) {
			continue
		}
		for otherID := range far.MatchingPorts() {
			other, ok := d.store.PortLocked(otherID)
			if !ok {
				continue
			}
			if !lr.ChannelsCompatible(p.Channel, other.Channel) {
				continue
			}

			outputPort, inputPort := p, other
			if p.Direction == graphmodel.Input {
				outputPort, inputPort = other, p
			}

			d.store.Unlock()
			d.linkPair(lr, name, outputPort, inputPort)
			d.store.Lock()
		}
	}
	d.store.Unlock()
}

// linkPair resolves the link factory and issues the CreateLink handshake
// for a matched output/input pair.
func (d *Daemon) linkPair(lr *rules.LinkRule, ruleName string, outputPort, inputPort graphmodel.Port) {
	factory, ok := d.store.Factory(graphmodel.LinkFactoryTypeName)
	if !ok {
		d.log.Error("daemon: link factory unavailable", "rule", ruleName,
			"error", pwerr.NoLinkFactory(graphmodel.LinkFactoryTypeName))
		if d.metrics != nil {
			d.metrics.LinkCreateErrors.Inc()
		}
		return
	}

	start := time.Now()
	link, err := d.createLink(factory.TypeName, outputPort.NodeID, outputPort.ID, inputPort.NodeID, inputPort.ID, ruleName)
	if d.metrics != nil {
		d.metrics.ObserveHandshake(start)
	}
	if err != nil {
		d.log.Error("daemon: create link failed", "rule", ruleName, "error", err)
		if d.metrics != nil {
			d.metrics.LinkCreateErrors.Inc()
		}
		return
	}
	if link == nil {
		d.log.Debug("daemon: create link discarded by server", "rule", ruleName,
			"output_port", outputPort.ID, "input_port", inputPort.ID)
		return
	}

	lr.Links[link.ID] = struct{}{}
	if d.metrics != nil {
		d.metrics.LinksCreated.Inc()
	}
	d.log.Debug("daemon: link created", "rule", ruleName, "link_id", link.ID,
		"output_port", outputPort.ID, "input_port", inputPort.ID)
}

// createLink issues a CreateLink action and blocks for the matching
// LinkCreated reply, dispatching any interleaved object notifications that
// arrive first. A nested call -- one issued from inside the handleEvent
// dispatched here, while this call is itself waiting -- runs on the same
// goroutine against the same events channel, so replies can arrive out of
// request order; awaitReply correlates by ReqID and stashes anything
// belonging to a different in-flight request for its rightful caller.
func (d *Daemon) createLink(factoryType string, outNode, outPort, inNode, inPort uint32, ruleName string) (*graphmodel.Link, error) {
	reqID := d.nextReqID()
	d.actions <- pwgraph.Action{
		Kind:            pwgraph.ActionCreateLink,
		ReqID:           reqID,
		FactoryTypeName: factoryType,
		OutputNode:      outNode,
		OutputPort:      outPort,
		InputNode:       inNode,
		InputPort:       inPort,
		RuleName:        ruleName,
	}
	ev, ok := d.awaitReply(reqID)
	if !ok {
		return nil, errBridgeClosed
	}
	return ev.Link, nil
}

// destroyLink issues a DestroyLink action and blocks for the matching
// LinkDestroyed reply. Failures are logged by the caller and never fatal.
func (d *Daemon) destroyLink(l graphmodel.Link) bool {
	start := time.Now()
	reqID := d.nextReqID()
	d.actions <- pwgraph.Action{Kind: pwgraph.ActionDestroyLink, ReqID: reqID, Link: l}
	ev, ok := d.awaitReply(reqID)
	if !ok {
		return false
	}
	if d.metrics != nil {
		d.metrics.ObserveHandshake(start)
		if ev.Destroyed {
			d.metrics.LinksDestroyed.Inc()
		}
	}
	return ev.Destroyed
}

// awaitReply blocks until the handshake reply for reqID arrives, either
// straight off the events channel or, if a nested call already consumed it
// while waiting on its own reqID, out of d.replies. A handshake reply
// belonging to some other in-flight request is stashed for its rightful
// caller regardless of whether it is a LinkCreated or LinkDestroyed reply --
// a nested call can be waiting on a different kind of reply than the call it
// is nested inside, so matching must go by ReqID alone, never by kind.
// Object events seen along the way are dispatched normally.
func (d *Daemon) awaitReply(reqID uint64) (pwgraph.Event, bool) {
	for {
		if ev, ok := d.replies[reqID]; ok {
			delete(d.replies, reqID)
			return ev, true
		}
		ev, ok := <-d.events
		if !ok {
			return pwgraph.Event{}, false
		}
		if ev.Kind == pwgraph.EventObject {
			d.handleEvent(ev)
			continue
		}
		if ev.ReqID == reqID {
			return ev, true
		}
		d.replies[ev.ReqID] = ev
	}
}

func (d *Daemon) allRuleNames() []string {
	names := make([]string, 0, len(d.rules))
	for name := range d.rules {
		names = append(names, name)
	}
	return names
}

// handleConfigModified implements the diff-reload procedure.
func (d *Daemon) handleConfigModified(cfg *config.Config) {
	lingerChanged := d.lingerLinks != cfg.General.LingerLinks
	d.lingerLinks = cfg.General.LingerLinks

	newByName := make(map[string]rules.Config)
	for _, c := range cfg.LinkConfigs() {
		newByName[c.Name] = c
	}

	dirty := make(map[string]struct{})
	for name := range d.rules {
		dirty[name] = struct{}{}
	}
	for name := range newByName {
		dirty[name] = struct{}{}
	}

	var added, modified, removed int

	for name := range dirty {
		oldRule, hasOld := d.rules[name]
		newCfg, hasNew := newByName[name]

		switch {
		case hasOld && hasNew:
			compiled, err := rules.CompileLinkRule(newCfg)
			if err != nil {
				d.log.Error("daemon: failed to compile rule, keeping previous", "rule", name, "error", err)
				delete(dirty, name)
				continue
			}
			if !oldRule.Equal(compiled) {
				if d.lingerLinks {
					compiled.Links = oldRule.Links
				} else {
					for id := range oldRule.Links {
						d.destroyLink(graphmodel.Link{ID: id})
					}
				}
				d.rules[name] = compiled
				modified++
			} else if lingerChanged && !d.lingerLinks {
				d.pruneUnmatchedLinks(oldRule)
				delete(dirty, name)
			} else {
				delete(dirty, name)
			}
		case hasOld && !hasNew:
			if !d.lingerLinks {
				for id := range oldRule.Links {
					d.destroyLink(graphmodel.Link{ID: id})
				}
			}
			delete(d.rules, name)
			removed++
			delete(dirty, name)
		case !hasOld && hasNew:
			compiled, err := rules.CompileLinkRule(newCfg)
			if err != nil {
				d.log.Error("daemon: failed to compile new rule", "rule", name, "error", err)
				delete(dirty, name)
				continue
			}
			d.rules[name] = compiled
			added++
		}
	}

	ports := d.store.AllPorts()
	remaining := make([]string, 0, len(dirty))
	for name := range dirty {
		remaining = append(remaining, name)
	}
	for _, p := range ports {
		d.newPortForRules(p, remaining)
	}

	if d.metrics != nil {
		d.metrics.RulesActive.Set(float64(len(d.rules)))
	}
	d.log.Info("daemon: reload complete", "added", added, "modified", modified, "removed", removed, "linger", d.lingerLinks)
}

// pruneUnmatchedLinks destroys any link owned by lr whose endpoints no
// longer lie within lr's matching-port sets, used when linger_links just
// flipped false for an otherwise-unchanged rule.
func (d *Daemon) pruneUnmatchedLinks(lr *rules.LinkRule) {
	for id := range lr.Links {
		link, ok := d.store.Link(id)
		if !ok {
			delete(lr.Links, id)
			continue
		}
		_, outOK := lr.Out.MatchingPorts()[link.OutputPort]
		_, inOK := lr.In.MatchingPorts()[link.InputPort]
		if outOK && inOK {
			continue
		}
		if d.destroyLink(link) {
			delete(lr.Links, id)
		}
	}
}
