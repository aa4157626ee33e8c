package rules

import (
	"testing"

	"github.com/Teascade/pipeswitch/internal/graphmodel"
	"github.com/Teascade/pipeswitch/internal/graphstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func TestClauseEqual(t *testing.T) {
	a := Clause{Node: strp("Mic")}
	b := Clause{Node: strp("Mic")}
	c := Clause{Node: strp("App")}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(Clause{}))
}

func TestCompile_Idempotent(t *testing.T) {
	clause := Clause{Node: strp("Mic.*")}
	r1, err := Compile(clause)
	require.NoError(t, err)
	r2, err := Compile(clause)
	require.NoError(t, err)
	assert.True(t, r1.Equal(r2))
}

func TestRule_MatchesAnchoredEntirely(t *testing.T) {
	store := graphstate.New()
	store.ApplyNew(graphmodel.Object{Node: &graphmodel.Node{ID: 1, ClientID: 1, NodeName: "Microphone"}})
	store.ApplyNew(graphmodel.Object{Client: &graphmodel.Client{ID: 1, ApplicationName: "MyApp"}})

	r, err := Compile(Clause{Node: strp("Mic")})
	require.NoError(t, err)

	// "Mic" must match the entire node name "Microphone" -- it doesn't.
	port := graphmodel.Port{ID: 10, NodeID: 1, Name: "input_FL"}
	assert.False(t, r.Matches(store, port))

	r2, err := Compile(Clause{Node: strp("Micro.*")})
	require.NoError(t, err)
	assert.True(t, r2.Matches(store, port))
}

func TestRule_AddAndDeletePort(t *testing.T) {
	store := graphstate.New()
	store.ApplyNew(graphmodel.Object{Node: &graphmodel.Node{ID: 1, ClientID: 1, NodeName: "App"}})

	r, err := Compile(Clause{Node: strp("App")})
	require.NoError(t, err)

	port := graphmodel.Port{ID: 10, NodeID: 1, Name: "output_FL"}
	assert.True(t, r.AddIfMatches(store, port))
	_, ok := r.MatchingPorts()[10]
	assert.True(t, ok)

	assert.True(t, r.DeletePort(10))
	assert.False(t, r.DeletePort(10))
}

func TestLinkRule_ChannelCompatibility(t *testing.T) {
	in, err := Compile(Clause{Node: strp("Mic")})
	require.NoError(t, err)
	out, err := Compile(Clause{Node: strp("App")})
	require.NoError(t, err)

	lr := &LinkRule{In: in, Out: out, SpecialEmptyPorts: true, Links: map[uint32]struct{}{}}

	// special_empty_ports=true, no port regex: only same-channel pairs.
	assert.True(t, lr.ChannelsCompatible(graphmodel.Left, graphmodel.Left))
	assert.False(t, lr.ChannelsCompatible(graphmodel.Left, graphmodel.Right))

	lr.SpecialEmptyPorts = false
	assert.True(t, lr.ChannelsCompatible(graphmodel.Left, graphmodel.Right))
}

func TestLinkRule_PortRegexOverridesChannels(t *testing.T) {
	in, err := Compile(Clause{Port: strp("input_MONO")})
	require.NoError(t, err)
	out, err := Compile(Clause{Port: strp("output_FL")})
	require.NoError(t, err)

	lr := &LinkRule{In: in, Out: out, SpecialEmptyPorts: true, Links: map[uint32]struct{}{}}
	assert.True(t, lr.ChannelsCompatible(graphmodel.Mono, graphmodel.Left))
}

func TestLinkRule_Equal(t *testing.T) {
	mk := func(node string, special bool) *LinkRule {
		lr, err := CompileLinkRule(Config{Name: "a", In: Clause{Node: strp(node)}, Out: Clause{Node: strp("App")}, SpecialEmptyPorts: special})
		require.NoError(t, err)
		return lr
	}

	a1 := mk("Mic", true)
	a2 := mk("Mic", true)
	b := mk("Other", true)

	assert.True(t, a1.Equal(a2))
	assert.False(t, a1.Equal(b))

	// special_empty_ports is not part of rule identity: a config edit
	// touching only that flag must not count as a rule change.
	a3 := mk("Mic", false)
	assert.True(t, a1.Equal(a3))
}
