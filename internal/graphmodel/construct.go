// Copyright (C) 2026 Teascade. Licensed under GPL-3.0 (https://www.gnu.org/licenses/gpl-3.0.txt)

package graphmodel

import (
	"strconv"

	"github.com/Teascade/pipeswitch/internal/pwerr"
)

// props is the untyped string-keyed property bag the graph server attaches
// to a "new global" event or, for links, an info callback.
type props map[string]string

func (p props) get(key string) (string, bool) {
	v, ok := p[key]
	return v, ok
}

func (p props) getOr(id uint32, objType ObjectType, key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", pwerr.PropertyMissing(id, objType.String(), key, map[string]string(p))
	}
	return v, nil
}

func (p props) getOptString(key string) *string {
	if v, ok := p[key]; ok {
		return &v
	}
	return nil
}

func (p props) getOptUint32(id uint32, objType ObjectType, key string) (*uint32, error) {
	v, ok := p[key]
	if !ok {
		return nil, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return nil, pwerr.InvalidNumber(id, objType.String(), key, v, err)
	}
	u := uint32(n)
	return &u, nil
}

func (p props) getOptBool(id uint32, objType ObjectType, key string) (*bool, error) {
	v, ok := p[key]
	if !ok {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, pwerr.InvalidNumber(id, objType.String(), key, v, err)
	}
	return &b, nil
}

func parseUint32(id uint32, objType ObjectType, key, value string) (uint32, error) {
	n, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, pwerr.InvalidNumber(id, objType.String(), key, value, err)
	}
	return uint32(n), nil
}

// NewPort constructs a Port from an id and its raw property bag, as
// reported on the port's "new global" event.
func NewPort(id uint32, raw map[string]string) (*Port, error) {
	p := props(raw)

	localIDStr, err := p.getOr(id, TypePort, keyPortID)
	if err != nil {
		return nil, err
	}
	localID, err := parseUint32(id, TypePort, keyPortID, localIDStr)
	if err != nil {
		return nil, err
	}

	nodeIDStr, err := p.getOr(id, TypePort, keyNodeID)
	if err != nil {
		return nil, err
	}
	nodeID, err := parseUint32(id, TypePort, keyNodeID, nodeIDStr)
	if err != nil {
		return nil, err
	}

	name, err := p.getOr(id, TypePort, keyPortName)
	if err != nil {
		return nil, err
	}
	dirStr, err := p.getOr(id, TypePort, keyPortDirection)
	if err != nil {
		return nil, err
	}
	direction, err := ParseDirection(id, dirStr)
	if err != nil {
		return nil, err
	}
	alias, err := p.getOr(id, TypePort, keyPortAlias)
	if err != nil {
		return nil, err
	}
	channel, err := ParseChannel(id, p.getOptString(keyAudioChannel), localID)
	if err != nil {
		return nil, err
	}
	physical, err := p.getOptBool(id, TypePort, keyPortPhysical)
	if err != nil {
		return nil, err
	}
	terminal, err := p.getOptBool(id, TypePort, keyPortTerminal)
	if err != nil {
		return nil, err
	}

	return &Port{
		ID:          id,
		LocalPortID: localID,
		Path:        p.getOptString(keyObjectPath),
		NodeID:      nodeID,
		DSP:         p.getOptString(keyFormatDSP),
		Channel:     channel,
		Name:        name,
		Direction:   direction,
		Alias:       alias,
		Physical:    physical,
		Terminal:    terminal,
	}, nil
}

// NewNode constructs a Node from an id and its raw property bag.
func NewNode(id uint32, raw map[string]string) (*Node, error) {
	p := props(raw)

	clientIDStr, err := p.getOr(id, TypeNode, keyClientID)
	if err != nil {
		return nil, err
	}
	clientID, err := parseUint32(id, TypeNode, keyClientID, clientIDStr)
	if err != nil {
		return nil, err
	}
	nodeName, err := p.getOr(id, TypeNode, keyNodeName)
	if err != nil {
		return nil, err
	}
	factoryID, err := p.getOptUint32(id, TypeNode, keyFactoryID)
	if err != nil {
		return nil, err
	}
	deviceID, err := p.getOptUint32(id, TypeNode, keyDeviceID)
	if err != nil {
		return nil, err
	}

	return &Node{
		ID:              id,
		Path:            p.getOptString(keyObjectPath),
		FactoryID:       factoryID,
		ClientID:        clientID,
		DeviceID:        deviceID,
		ApplicationName: p.getOptString(keyAppName),
		NodeDescription: p.getOptString(keyNodeDescription),
		NodeName:        nodeName,
		NodeNick:        p.getOptString(keyNodeNick),
		MediaType:       p.getOptString(keyMediaType),
		MediaCategory:   p.getOptString(keyMediaCategory),
		MediaClass:      p.getOptString(keyMediaClass),
		MediaRole:       p.getOptString(keyMediaRole),
	}, nil
}

// NewClient constructs a Client from an id and its raw property bag.
func NewClient(id uint32, raw map[string]string) (*Client, error) {
	p := props(raw)

	moduleIDStr, err := p.getOr(id, TypeClient, keyModuleID)
	if err != nil {
		return nil, err
	}
	moduleID, err := parseUint32(id, TypeClient, keyModuleID, moduleIDStr)
	if err != nil {
		return nil, err
	}
	protocol, err := p.getOr(id, TypeClient, keyProtocol)
	if err != nil {
		return nil, err
	}
	pidStr, err := p.getOr(id, TypeClient, keySecPID)
	if err != nil {
		return nil, err
	}
	pid, err := parseUint32(id, TypeClient, keySecPID, pidStr)
	if err != nil {
		return nil, err
	}
	uidStr, err := p.getOr(id, TypeClient, keySecUID)
	if err != nil {
		return nil, err
	}
	uid, err := parseUint32(id, TypeClient, keySecUID, uidStr)
	if err != nil {
		return nil, err
	}
	gidStr, err := p.getOr(id, TypeClient, keySecGID)
	if err != nil {
		return nil, err
	}
	gid, err := parseUint32(id, TypeClient, keySecGID, gidStr)
	if err != nil {
		return nil, err
	}
	label, err := p.getOr(id, TypeClient, keySecLabel)
	if err != nil {
		return nil, err
	}
	appName, err := p.getOr(id, TypeClient, keyAppName)
	if err != nil {
		return nil, err
	}

	return &Client{
		ID:              id,
		ModuleID:        moduleID,
		Protocol:        protocol,
		PID:             pid,
		UID:             uid,
		GID:             gid,
		Label:           label,
		ApplicationName: appName,
	}, nil
}

// NewFactory constructs a Factory from an id and its raw property bag.
func NewFactory(id uint32, raw map[string]string) (*Factory, error) {
	p := props(raw)

	moduleIDStr, err := p.getOr(id, TypeFactory, keyModuleID)
	if err != nil {
		return nil, err
	}
	moduleID, err := parseUint32(id, TypeFactory, keyModuleID, moduleIDStr)
	if err != nil {
		return nil, err
	}
	name, err := p.getOr(id, TypeFactory, keyFactoryName)
	if err != nil {
		return nil, err
	}
	typeName, err := p.getOr(id, TypeFactory, keyFactoryType)
	if err != nil {
		return nil, err
	}

	return &Factory{ID: id, ModuleID: moduleID, Name: name, TypeName: typeName}, nil
}

// NewLink constructs a Link from a link proxy's info callback properties.
// output_node/output_port/input_node/input_port come from the info
// callback's routing fields rather than the property bag, so the caller
// supplies them directly.
func NewLink(id uint32, raw map[string]string, outputNode, outputPort, inputNode, inputPort uint32) (*Link, error) {
	p := props(raw)

	factoryIDStr, err := p.getOr(id, TypeLink, keyFactoryID)
	if err != nil {
		return nil, err
	}
	factoryID, err := parseUint32(id, TypeLink, keyFactoryID, factoryIDStr)
	if err != nil {
		return nil, err
	}
	clientID, err := p.getOptUint32(id, TypeLink, keyClientID)
	if err != nil {
		return nil, err
	}

	return &Link{
		ID:         id,
		FactoryID:  factoryID,
		ClientID:   clientID,
		OutputNode: outputNode,
		OutputPort: outputPort,
		InputNode:  inputNode,
		InputPort:  inputPort,
		RuleName:   p.getOptString(RuleNameKey),
	}, nil
}

// FromGlobal dispatches an untyped "new global" event to the matching typed
// constructor, returning (nil, nil) for object types the core ignores
// (modules, devices, ...). typeName is the server's wire-level type string,
// e.g. "PipeWire:Interface:Port".
func FromGlobal(id uint32, typeName string, version uint32, raw map[string]string) (*Object, error) {
	if version != ProtocolVersion {
		return nil, pwerr.InvalidVersion(id, version, ProtocolVersion)
	}
	switch typeName {
	case "PipeWire:Interface:Port":
		port, err := NewPort(id, raw)
		if err != nil {
			return nil, err
		}
		return &Object{Port: port}, nil
	case "PipeWire:Interface:Node":
		node, err := NewNode(id, raw)
		if err != nil {
			return nil, err
		}
		return &Object{Node: node}, nil
	case "PipeWire:Interface:Client":
		client, err := NewClient(id, raw)
		if err != nil {
			return nil, err
		}
		return &Object{Client: client}, nil
	case "PipeWire:Interface:Factory":
		factory, err := NewFactory(id, raw)
		if err != nil {
			return nil, err
		}
		return &Object{Factory: factory}, nil
	default:
		// Links are never dispatched through FromGlobal: their routing
		// fields arrive via an info callback, not the global's property
		// bag. Any other type (module, device, ...) is silently ignored.
		return nil, nil
	}
}
