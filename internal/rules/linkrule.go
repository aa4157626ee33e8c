// Copyright (C) 2026 Teascade. Licensed under GPL-3.0 (https://www.gnu.org/licenses/gpl-3.0.txt)

package rules

import "github.com/Teascade/pipeswitch/internal/graphmodel"

// Config is the source form of a [link.NAME] configuration block, prior to
// compilation. A bare node-name shortcut clause is represented as
// Clause{Node: &name}.
type Config struct {
	Name              string
	In                Clause
	Out               Clause
	SpecialEmptyPorts bool
}

// LinkRule pairs an input-side and output-side compiled Rule under a name,
// and tracks the set of live link ids this rule owns.
type LinkRule struct {
	Name              string
	In                *Rule
	Out               *Rule
	SpecialEmptyPorts bool
	Links             map[uint32]struct{}

	source Config
}

// CompileLinkRule builds a LinkRule from a Config.
func CompileLinkRule(cfg Config) (*LinkRule, error) {
	in, err := Compile(cfg.In)
	if err != nil {
		return nil, err
	}
	out, err := Compile(cfg.Out)
	if err != nil {
		return nil, err
	}
	return &LinkRule{
		Name:              cfg.Name,
		In:                in,
		Out:               out,
		SpecialEmptyPorts: cfg.SpecialEmptyPorts,
		Links:             make(map[uint32]struct{}),
		source:            cfg,
	}, nil
}

// Equal compares two link rules for reload diffing: by compiled rule
// equality on both sides only. The special_empty_ports flag and the live
// Links set are not part of rule identity -- an edit touching only
// special_empty_ports leaves the rule "unchanged" and its links alone.
func (lr *LinkRule) Equal(o *LinkRule) bool {
	if lr == nil || o == nil {
		return lr == o
	}
	return lr.In.Equal(o.In) && lr.Out.Equal(o.Out)
}

// Sides returns (near, far) Rule pointers for a port of the given
// direction: the "near" side is the rule matching that direction's ports,
// the "far" side is the opposite.
func (lr *LinkRule) Sides(dir graphmodel.Direction) (near, far *Rule) {
	if dir == graphmodel.Input {
		return lr.In, lr.Out
	}
	return lr.Out, lr.In
}

// ShouldIgnoreChannel reports the channel-compatibility formula from either
// side's perspective: should_ignore_channel = (!special_empty_ports) ||
// (any_port_regex_present).
func (lr *LinkRule) ShouldIgnoreChannel() bool {
	return !lr.SpecialEmptyPorts || lr.In.HasPortRegex() || lr.Out.HasPortRegex()
}

// ChannelsCompatible decides eligibility of a candidate pair under this
// LinkRule's channel-compatibility rule.
func (lr *LinkRule) ChannelsCompatible(a, b graphmodel.Channel) bool {
	if lr.ShouldIgnoreChannel() {
		return true
	}
	return a == b
}
