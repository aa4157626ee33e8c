// Copyright (C) 2026 Teascade. Licensed under GPL-3.0 (https://www.gnu.org/licenses/gpl-3.0.txt)

// Package graphmodel provides typed representations of the graph server's
// object kinds (Port, Node, Link, Client, Factory) and their fallible
// construction from the untyped property dictionaries the server hands out
// on "new global" events.
package graphmodel

import (
	"strconv"

	"github.com/Teascade/pipeswitch/internal/pwerr"
)

// ProtocolVersion is the schema version this core understands. Objects
// reported at any other version are rejected.
const ProtocolVersion uint32 = 3

// RuleNameKey is the reserved property key the daemon stamps onto links it
// creates, so it can recognize and reclaim its own work across restarts.
const RuleNameKey = "pipeswitch.rule.name"

// ObjectType tags which per-type map/kind a graph id belongs to.
type ObjectType int

const (
	TypePort ObjectType = iota
	TypeNode
	TypeLink
	TypeClient
	TypeFactory
)

func (t ObjectType) String() string {
	switch t {
	case TypePort:
		return "port"
	case TypeNode:
		return "node"
	case TypeLink:
		return "link"
	case TypeClient:
		return "client"
	case TypeFactory:
		return "factory"
	default:
		return "unknown"
	}
}

// Direction is a port's data-flow direction.
type Direction int

const (
	Input Direction = iota
	Output
)

// ParseDirection accepts exactly the literals "in" and "out".
func ParseDirection(id uint32, value string) (Direction, error) {
	switch value {
	case "in":
		return Input, nil
	case "out":
		return Output, nil
	default:
		return 0, pwerr.InvalidDirection(id, value)
	}
}

func (d Direction) String() string {
	if d == Input {
		return "in"
	}
	return "out"
}

// Channel is the audio channel a port carries.
type Channel int

const (
	Left Channel = iota
	Right
	Mono
)

// ParseChannel derives a Channel from an explicit audio-channel property
// value (FL/FR/MONO, in all-uppercase or all-lowercase form; mixed case is
// rejected) when present, else falls back to
// localPortID (0 -> Left, 1 -> Right, anything else -> InvalidChannel).
func ParseChannel(id uint32, audioChannel *string, localPortID uint32) (Channel, error) {
	if audioChannel != nil {
		switch *audioChannel {
		case "FL", "fl":
			return Left, nil
		case "FR", "fr":
			return Right, nil
		case "MONO", "mono":
			return Mono, nil
		default:
			return 0, pwerr.InvalidChannel(id, *audioChannel)
		}
	}
	switch localPortID {
	case 0:
		return Left, nil
	case 1:
		return Right, nil
	default:
		return 0, pwerr.InvalidChannel(id, "port.id "+strconv.FormatUint(uint64(localPortID), 10))
	}
}

func (c Channel) String() string {
	switch c {
	case Left:
		return "FL"
	case Right:
		return "FR"
	default:
		return "MONO"
	}
}

// Port is a graph server input/output port belonging to a Node.
type Port struct {
	ID          uint32
	LocalPortID uint32
	Path        *string
	NodeID      uint32
	DSP         *string
	Channel     Channel
	Name        string
	Direction   Direction
	Alias       string
	Physical    *bool
	Terminal    *bool
}

// Node is a graph server processing node, owned by a Client.
type Node struct {
	ID              uint32
	Path            *string
	FactoryID       *uint32
	ClientID        uint32
	DeviceID        *uint32
	ApplicationName *string
	NodeDescription *string
	NodeName        string
	NodeNick        *string
	MediaType       *string
	MediaCategory   *string
	MediaClass      *string
	MediaRole       *string
}

// Link is an established connection between an output port and an input
// port. RuleName is set when the daemon created the link via RuleNameKey.
type Link struct {
	ID         uint32
	FactoryID  uint32
	ClientID   *uint32
	OutputNode uint32
	OutputPort uint32
	InputNode  uint32
	InputPort  uint32
	RuleName   *string
}

// Client is a process connected to the graph server.
type Client struct {
	ID              uint32
	ModuleID        uint32
	Protocol        string
	PID             uint32
	UID             uint32
	GID             uint32
	Label           string
	ApplicationName string
}

// Factory is a server-side object factory, looked up by TypeName to create
// links.
type Factory struct {
	ID       uint32
	ModuleID uint32
	Name     string
	TypeName string
}

// Object is a tagged union over the five graph object kinds the core cares
// about. Types the core ignores (modules, devices, ...) are represented as
// an absent value from FromGlobal, not as a case here.
type Object struct {
	Port    *Port
	Node    *Node
	Link    *Link
	Client  *Client
	Factory *Factory
}

// Type reports which of the embedded fields is populated.
func (o Object) Type() ObjectType {
	switch {
	case o.Port != nil:
		return TypePort
	case o.Node != nil:
		return TypeNode
	case o.Link != nil:
		return TypeLink
	case o.Client != nil:
		return TypeClient
	default:
		return TypeFactory
	}
}

// ID returns the id of whichever object variant is populated.
func (o Object) ID() uint32 {
	switch {
	case o.Port != nil:
		return o.Port.ID
	case o.Node != nil:
		return o.Node.ID
	case o.Link != nil:
		return o.Link.ID
	case o.Client != nil:
		return o.Client.ID
	case o.Factory != nil:
		return o.Factory.ID
	default:
		return 0
	}
}
