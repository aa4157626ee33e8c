package graphmodel

import (
	"testing"

	"github.com/Teascade/pipeswitch/internal/pwerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPort_ChannelFromLocalPortID(t *testing.T) {
	port, err := NewPort(10, map[string]string{
		keyPortID:        "0",
		keyNodeID:        "1",
		keyPortName:      "input_FL",
		keyPortDirection: "in",
		keyPortAlias:     "node:input_FL",
	})
	require.NoError(t, err)
	assert.Equal(t, Left, port.Channel)
	assert.Equal(t, Input, port.Direction)
}

func TestNewPort_ChannelFromAudioChannelProperty(t *testing.T) {
	port, err := NewPort(11, map[string]string{
		keyPortID:        "3",
		keyNodeID:        "1",
		keyPortName:      "input_MONO",
		keyPortDirection: "in",
		keyPortAlias:     "node:input_MONO",
		keyAudioChannel:  "MONO",
	})
	require.NoError(t, err)
	assert.Equal(t, Mono, port.Channel)
}

func TestNewPort_InvalidChannelFromUnmappedLocalPortID(t *testing.T) {
	_, err := NewPort(12, map[string]string{
		keyPortID:        "2",
		keyNodeID:        "1",
		keyPortName:      "input_3",
		keyPortDirection: "in",
		keyPortAlias:     "node:input_3",
	})
	require.Error(t, err)
	assert.True(t, pwerr.IsKind(err, pwerr.KindParse))
}

func TestNewPort_MissingRequiredProperty(t *testing.T) {
	_, err := NewPort(13, map[string]string{
		keyPortID: "0",
		keyNodeID: "1",
		// port.name is missing
		keyPortDirection: "in",
		keyPortAlias:     "node:x",
	})
	require.Error(t, err)
	assert.True(t, pwerr.IsKind(err, pwerr.KindParse))
}

func TestParseDirection_Invalid(t *testing.T) {
	_, err := ParseDirection(1, "sideways")
	require.Error(t, err)
}

func TestFromGlobal_IgnoresUnknownTypes(t *testing.T) {
	obj, err := FromGlobal(1, "PipeWire:Interface:Device", ProtocolVersion, nil)
	require.NoError(t, err)
	assert.Nil(t, obj)
}

func TestFromGlobal_RejectsWrongVersion(t *testing.T) {
	_, err := FromGlobal(1, "PipeWire:Interface:Node", 2, nil)
	require.Error(t, err)
	assert.True(t, pwerr.IsKind(err, pwerr.KindParse))
}

func TestFromGlobal_Port(t *testing.T) {
	obj, err := FromGlobal(5, "PipeWire:Interface:Port", ProtocolVersion, map[string]string{
		keyPortID:        "1",
		keyNodeID:        "2",
		keyPortName:      "output_FR",
		keyPortDirection: "out",
		keyPortAlias:     "node:output_FR",
	})
	require.NoError(t, err)
	require.NotNil(t, obj)
	require.NotNil(t, obj.Port)
	assert.Equal(t, TypePort, obj.Type())
	assert.Equal(t, uint32(5), obj.ID())
}

func TestNewLink_RuleNameOptional(t *testing.T) {
	link, err := NewLink(7, map[string]string{keyFactoryID: "3"}, 1, 2, 3, 4)
	require.NoError(t, err)
	assert.Nil(t, link.RuleName)

	link, err = NewLink(8, map[string]string{keyFactoryID: "3", RuleNameKey: "a"}, 1, 2, 3, 4)
	require.NoError(t, err)
	require.NotNil(t, link.RuleName)
	assert.Equal(t, "a", *link.RuleName)
}
