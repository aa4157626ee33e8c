package graphstate

import (
	"testing"

	"github.com/Teascade/pipeswitch/internal/graphmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyNew_PortRegisteredInTypeIndexAndMap(t *testing.T) {
	s := New()
	port := graphmodel.Port{ID: 1, NodeID: 2, Name: "in", Alias: "x"}
	s.ApplyNew(graphmodel.Object{Port: &port})

	got, ok := s.Port(1)
	require.True(t, ok)
	assert.Equal(t, port, got)

	// Ids in a per-type map must have the matching type tag, exercised
	// indirectly via ApplyRemoved dispatching correctly by id alone.
	removed, err := s.ApplyRemoved(1)
	require.NoError(t, err)
	require.NotNil(t, removed.Port)
	assert.Equal(t, uint32(1), removed.Port.ID)
}

func TestApplyRemoved_UnknownIDIsSoftError(t *testing.T) {
	s := New()
	_, err := s.ApplyRemoved(999)
	assert.Error(t, err)
}

func TestApplyNew_FactoryKeyedByTypeName(t *testing.T) {
	s := New()
	factory := graphmodel.Factory{ID: 5, Name: "link-factory", TypeName: graphmodel.LinkFactoryTypeName}
	s.ApplyNew(graphmodel.Object{Factory: &factory})

	got, ok := s.Factory(graphmodel.LinkFactoryTypeName)
	require.True(t, ok)
	assert.Equal(t, factory, got)
}

func TestPortsByNode(t *testing.T) {
	s := New()
	s.ApplyNew(graphmodel.Object{Port: &graphmodel.Port{ID: 1, NodeID: 10}})
	s.ApplyNew(graphmodel.Object{Port: &graphmodel.Port{ID: 2, NodeID: 10}})
	s.ApplyNew(graphmodel.Object{Port: &graphmodel.Port{ID: 3, NodeID: 20}})

	ports := s.PortsByNode(10)
	assert.Len(t, ports, 2)
}

func TestApplyRemoved_DispatchesByRecordedType(t *testing.T) {
	s := New()
	s.ApplyNew(graphmodel.Object{Node: &graphmodel.Node{ID: 7, NodeName: "n"}})

	removed, err := s.ApplyRemoved(7)
	require.NoError(t, err)
	require.NotNil(t, removed.Node)

	_, ok := s.Node(7)
	assert.False(t, ok)
}
