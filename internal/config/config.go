// Copyright (C) 2026 Teascade. Licensed under GPL-3.0 (https://www.gnu.org/licenses/gpl-3.0.txt)

// Package config loads, validates, and round-trip-serializes the
// daemon's TOML configuration file, on top of
// github.com/pelletier/go-toml/v2 for typed decode and a hand-rolled
// decoration-preserving editor (tomldoc.go) for writeback.
package config

import (
	"fmt"
	"sort"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/Teascade/pipeswitch/internal/pwerr"
	"github.com/Teascade/pipeswitch/internal/rules"
)

// General holds [general] table settings.
type General struct {
	LingerLinks     bool   `toml:"linger_links"`
	HotreloadConfig bool   `toml:"hotreload_config"`
	MetricsListen   string `toml:"metrics_listen"`
}

// Log holds [log] table settings.
type Log struct {
	Level string `toml:"level"`
}

// LinkTarget is the `in`/`out` shape of a [link.NAME] block: either a bare
// string (node-name shortcut) or an inline table {client=?, node=?, port=?}.
type LinkTarget struct {
	Client *string
	Node   *string
	Port   *string
}

// Clause converts a LinkTarget into a rules.Clause for compilation.
func (t LinkTarget) Clause() rules.Clause {
	return rules.Clause{Client: t.Client, Node: t.Node, Port: t.Port}
}

// LinkBlock is one [link.NAME] table.
type LinkBlock struct {
	In                LinkTarget
	Out               LinkTarget
	SpecialEmptyPorts *bool
}

// Config is the fully decoded TOML document.
type Config struct {
	General General
	Log     Log
	Link    map[string]LinkBlock
}

// rawConfig is the direct TOML shape. Link blocks decode untyped so their
// key sets can be checked and the in/out string-or-table shape dispatched
// by hand (decodeLinkBlock).
type rawConfig struct {
	General General                   `toml:"general"`
	Log     Log                       `toml:"log"`
	Link    map[string]map[string]any `toml:"link"`
}

// Load parses raw TOML bytes into a Config and validates it.
func Load(data []byte) (*Config, error) {
	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, pwerr.Wrap(err, pwerr.KindConfig, "failed to parse TOML")
	}
	cfg := &Config{
		General: raw.General,
		Log:     raw.Log,
		Link:    make(map[string]LinkBlock, len(raw.Link)),
	}
	for name, tbl := range raw.Link {
		blk, err := decodeLinkBlock(name, tbl)
		if err != nil {
			return nil, err
		}
		cfg.Link[name] = blk
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeLinkBlock converts one [link.NAME] table, rejecting unknown keys.
func decodeLinkBlock(name string, tbl map[string]any) (LinkBlock, error) {
	var blk LinkBlock
	for key, value := range tbl {
		switch key {
		case "in", "out":
			t, err := decodeLinkTarget(name, key, value)
			if err != nil {
				return blk, err
			}
			if key == "in" {
				blk.In = t
			} else {
				blk.Out = t
			}
		case "special_empty_ports":
			b, ok := value.(bool)
			if !ok {
				return blk, pwerr.Errorf(pwerr.KindConfig, "link %q: special_empty_ports must be a boolean, got %T", name, value)
			}
			blk.SpecialEmptyPorts = &b
		default:
			return blk, pwerr.Errorf(pwerr.KindConfig, "link %q: unknown key %q", name, key)
		}
	}
	return blk, nil
}

// decodeLinkTarget dispatches on the decoded value's shape: a plain string
// is the node-name shortcut; any other shape must be a table with only
// client/node/port keys.
func decodeLinkTarget(name, key string, value any) (LinkTarget, error) {
	var t LinkTarget
	switch v := value.(type) {
	case string:
		t.Node = &v
	case map[string]any:
		for k, fv := range v {
			s, ok := fv.(string)
			if !ok {
				return t, pwerr.Errorf(pwerr.KindConfig, "link %q: %s.%s must be a string, got %T", name, key, k, fv)
			}
			switch k {
			case "client":
				t.Client = &s
			case "node":
				t.Node = &s
			case "port":
				t.Port = &s
			default:
				return t, pwerr.Errorf(pwerr.KindConfig, "link %q: unknown key %q in %s target", name, k, key)
			}
		}
	default:
		return t, pwerr.Errorf(pwerr.KindConfig, "link %q: %s must be a string or a table, got %T", name, key, value)
	}
	return t, nil
}

// Validate checks regex clauses compile and every link block resolves to
// at least one non-wildcard constraint.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "", "error", "warn", "info", "debug", "trace":
	default:
		return pwerr.Errorf(pwerr.KindConfig, "invalid log.level %q", c.Log.Level)
	}

	for name, blk := range c.Link {
		if blk.In.Client == nil && blk.In.Node == nil && blk.In.Port == nil &&
			blk.Out.Client == nil && blk.Out.Node == nil && blk.Out.Port == nil {
			return pwerr.Errorf(pwerr.KindConfig, "link %q: in/out must constrain at least one of client/node/port", name)
		}
		if _, err := rules.Compile(blk.In.Clause()); err != nil {
			return pwerr.Wrapf(err, pwerr.KindConfig, "link %q: invalid in clause", name)
		}
		if _, err := rules.Compile(blk.Out.Clause()); err != nil {
			return pwerr.Wrapf(err, pwerr.KindConfig, "link %q: invalid out clause", name)
		}
	}
	return nil
}

// LinkConfigs converts every [link.NAME] block into a rules.Config, sorted
// by name for deterministic iteration order.
func (c *Config) LinkConfigs() []rules.Config {
	out := make([]rules.Config, 0, len(c.Link))
	names := make([]string, 0, len(c.Link))
	for name := range c.Link {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		blk := c.Link[name]
		special := true
		if blk.SpecialEmptyPorts != nil {
			special = *blk.SpecialEmptyPorts
		}
		out = append(out, rules.Config{
			Name:              name,
			In:                blk.In.Clause(),
			Out:               blk.Out.Clause(),
			SpecialEmptyPorts: special,
		})
	}
	return out
}

// String renders a human-readable one-line summary.
func (c *Config) String() string {
	return fmt.Sprintf("Config{links=%d, linger=%v, hotreload=%v}", len(c.Link), c.General.LingerLinks, c.General.HotreloadConfig)
}
