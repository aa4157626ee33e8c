// Copyright (C) 2026 Teascade. Licensed under GPL-3.0 (https://www.gnu.org/licenses/gpl-3.0.txt)

package graphmodel

// Well-known property keys reported by the graph server, mirroring the
// wire-level property bag keys (these match the analogous keys in any real
// graph-server client library's "keys" namespace).
const (
	keyPortID        = "port.id"
	keyObjectPath    = "object.path"
	keyNodeID        = "node.id"
	keyFormatDSP     = "format.dsp.channel"
	keyAudioChannel  = "audio.channel"
	keyPortName      = "port.name"
	keyPortDirection = "port.direction"
	keyPortAlias     = "port.alias"
	keyPortPhysical  = "port.physical"
	keyPortTerminal  = "port.terminal"

	keyFactoryID       = "factory.id"
	keyClientID        = "client.id"
	keyDeviceID        = "device.id"
	keyAppName         = "application.name"
	keyNodeDescription = "node.description"
	keyNodeName        = "node.name"
	keyNodeNick        = "node.nick"
	keyMediaType       = "media.type"
	keyMediaCategory   = "media.category"
	keyMediaClass      = "media.class"
	keyMediaRole       = "media.role"

	keyModuleID    = "module.id"
	keyProtocol    = "pipewire.protocol"
	keySecPID      = "pipewire.sec.pid"
	keySecUID      = "pipewire.sec.uid"
	keySecGID      = "pipewire.sec.gid"
	keySecLabel    = "pipewire.sec.label"
	keyFactoryName = "factory.name"
	keyFactoryType = "factory.type.name"
)

// LinkFactoryTypeName is the well-known type string used to look up the
// link-creation factory.
const LinkFactoryTypeName = "PipeWire:Interface:Link"

// Link-creation property keys: the bridge builds a property dictionary of
// exactly these keys, plus RuleNameKey and "object.linger", when calling
// the graph server's object-create primitive for a link.
const (
	LinkOutputNodeKey = "link.output.node"
	LinkOutputPortKey = "link.output.port"
	LinkInputNodeKey  = "link.input.node"
	LinkInputPortKey  = "link.input.port"
	ObjectLingerKey   = "object.linger"
)
