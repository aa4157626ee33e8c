// Copyright (C) 2026 Teascade. Licensed under GPL-3.0 (https://www.gnu.org/licenses/gpl-3.0.txt)

// Package rules implements the rule engine: compiling configured rule
// clauses into anchored regex matchers, classifying ports against the live
// graph state, and deciding channel compatibility between a matched pair.
package rules

import (
	"regexp"

	"github.com/Teascade/pipeswitch/internal/graphmodel"
	"github.com/Teascade/pipeswitch/internal/graphstate"
)

// Clause is the source form of one side of a rule, as loaded from
// configuration: either a bare node-name shortcut or a client/node/port
// triple. Clause equality is used for rule equality across config reloads:
// regex objects are never compared, only the clauses that produced them.
type Clause struct {
	Client *string
	Node   *string
	Port   *string
}

// Equal reports structural equality of two clauses by their optional
// fields.
func (c Clause) Equal(o Clause) bool {
	return optStringEqual(c.Client, o.Client) &&
		optStringEqual(c.Node, o.Node) &&
		optStringEqual(c.Port, o.Port)
}

func optStringEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Rule is a compiled one-sided matcher: an anchored, case-insensitive regex
// per present field, plus the set of port ids currently matching it.
type Rule struct {
	clause Clause

	clientRe *regexp.Regexp
	nodeRe   *regexp.Regexp
	portRe   *regexp.Regexp

	matchingPorts map[uint32]struct{}
}

// Compile builds a Rule from a Clause. Regexes are compiled
// case-insensitively and anchored so a match must span the entire target
// string. A nil field in the clause means wildcard (always matches that
// dimension).
func Compile(clause Clause) (*Rule, error) {
	r := &Rule{clause: clause, matchingPorts: make(map[uint32]struct{})}
	var err error
	if r.clientRe, err = compileAnchored(clause.Client); err != nil {
		return nil, err
	}
	if r.nodeRe, err = compileAnchored(clause.Node); err != nil {
		return nil, err
	}
	if r.portRe, err = compileAnchored(clause.Port); err != nil {
		return nil, err
	}
	return r, nil
}

func compileAnchored(s *string) (*regexp.Regexp, error) {
	if s == nil {
		return nil, nil
	}
	// (?i) case-insensitive; ^(?:...)$ anchors the match to the whole string.
	return regexp.Compile(`(?i)^(?:` + *s + `)$`)
}

// Equal compares two compiled rules by source clause only.
func (r *Rule) Equal(o *Rule) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.clause.Equal(o.clause)
}

// HasPortRegex reports whether this side constrains the port name, used by
// channel-compatibility decisions.
func (r *Rule) HasPortRegex() bool {
	return r.portRe != nil
}

// MatchingPorts returns the set of port ids currently matching this rule.
func (r *Rule) MatchingPorts() map[uint32]struct{} {
	return r.matchingPorts
}

// Matches evaluates the rule against port P using the current store
// snapshot: port-name, then node-name (via P.NodeID), then client
// application-name (via the resolved node's ClientID). Missing regex =
// wildcard; missing node/client resolution fails the match -- a port whose
// node hasn't been observed yet simply doesn't match until it is.
//
// This reads the store through its already-locked accessors: the only call
// site (daemon.newPortForRules) holds the store's lock across classification,
// and sync.Mutex is not reentrant, so Matches must not re-acquire it.
func (r *Rule) Matches(store *graphstate.Store, p graphmodel.Port) bool {
	if r.portRe != nil && !r.portRe.MatchString(p.Name) {
		return false
	}

	n, ok := store.NodeLocked(p.NodeID)
	if r.nodeRe != nil {
		if !ok || !r.nodeRe.MatchString(n.NodeName) {
			return false
		}
	}

	if r.clientRe != nil {
		if !ok {
			return false
		}
		c, ok := store.ClientLocked(n.ClientID)
		if !ok || !r.clientRe.MatchString(c.ApplicationName) {
			return false
		}
	}

	return true
}

// AddIfMatches evaluates Matches and, if true, records the port id in
// matchingPorts. Returns whether it matched.
func (r *Rule) AddIfMatches(store *graphstate.Store, p graphmodel.Port) bool {
	if !r.Matches(store, p) {
		return false
	}
	r.matchingPorts[p.ID] = struct{}{}
	return true
}

// DeletePort removes a port id from matchingPorts, returning whether it was
// present.
func (r *Rule) DeletePort(id uint32) bool {
	if _, ok := r.matchingPorts[id]; !ok {
		return false
	}
	delete(r.matchingPorts, id)
	return true
}
