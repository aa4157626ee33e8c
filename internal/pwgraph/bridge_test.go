package pwgraph

import (
	"testing"
	"time"

	"github.com/Teascade/pipeswitch/internal/graphmodel"
	"github.com/Teascade/pipeswitch/internal/graphstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T) (*Bridge, *FakeDriver, *graphstate.Store) {
	t.Helper()
	driver := NewFakeDriver()
	store := graphstate.New()
	b := NewBridge(driver, store, nil)
	go b.Run()
	t.Cleanup(func() {
		select {
		case <-b.done:
		default:
			b.Terminate()
		}
		b.Wait()
	})
	return b, driver, store
}

func recvEvent(t *testing.T, b *Bridge) Event {
	t.Helper()
	select {
	case ev, ok := <-b.Events():
		require.True(t, ok, "event channel closed unexpectedly")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bridge event")
		return Event{}
	}
}

func TestBridge_NewGlobalAppliesToStoreAndNotifies(t *testing.T) {
	b, driver, store := newTestBridge(t)

	driver.EmitGlobal(RawGlobal{
		ID:      1,
		Type:    "PipeWire:Interface:Node",
		Version: graphmodel.ProtocolVersion,
		Props: map[string]string{
			"client.id": "1",
			"node.name": "App",
		},
	})

	ev := recvEvent(t, b)
	require.Equal(t, EventObject, ev.Kind)
	require.Equal(t, ObjectNew, ev.ObjectKind)
	require.NotNil(t, ev.Object.Node)
	assert.Equal(t, "App", ev.Object.Node.NodeName)

	_, ok := store.Node(1)
	assert.True(t, ok)
}

func TestBridge_UnparsableGlobalReportsError(t *testing.T) {
	b, driver, _ := newTestBridge(t)

	driver.EmitGlobal(RawGlobal{
		ID:      2,
		Type:    "PipeWire:Interface:Node",
		Version: graphmodel.ProtocolVersion,
		Props:   map[string]string{}, // missing client.id/node.name
	})

	ev := recvEvent(t, b)
	require.Equal(t, EventObject, ev.Kind)
	require.Equal(t, ObjectError, ev.ObjectKind)
	assert.Error(t, ev.Err)
}

// TestBridge_CreateLinkHandshake exercises a full create-link round trip:
// the handshake (proxy bind -> sync -> info callback -> done) must resolve
// before the bridge will accept a second action.
func TestBridge_CreateLinkHandshake(t *testing.T) {
	b, driver, _ := newTestBridge(t)

	proxyID := driver.NextProxyID()
	b.Actions() <- Action{
		Kind:            ActionCreateLink,
		FactoryTypeName: graphmodel.LinkFactoryTypeName,
		OutputNode:      10,
		OutputPort:      11,
		InputNode:       20,
		InputPort:       21,
		RuleName:        "a",
	}

	// The info callback arrives before the done event, as a real server
	// would deliver it.
	driver.EmitLinkInfo(LinkInfo{
		ID:         proxyID,
		Props:      map[string]string{"factory.id": "3", graphmodel.RuleNameKey: "a"},
		OutputNode: 10,
		OutputPort: 11,
		InputNode:  20,
		InputPort:  21,
	})
	driver.EmitDone(1)

	ev := recvEvent(t, b)
	require.Equal(t, EventLinkCreated, ev.Kind)
	require.NotNil(t, ev.Link)
	assert.Equal(t, proxyID, ev.Link.ID)
	assert.Equal(t, "a", *ev.Link.RuleName)
}

func TestBridge_CreateLinkDiscardedByServer(t *testing.T) {
	b, driver, _ := newTestBridge(t)

	b.Actions() <- Action{
		Kind:            ActionCreateLink,
		FactoryTypeName: graphmodel.LinkFactoryTypeName,
	}
	driver.EmitDone(1) // no info callback fired: server discarded the link

	ev := recvEvent(t, b)
	require.Equal(t, EventLinkCreated, ev.Kind)
	assert.Nil(t, ev.Link)
}

func TestBridge_DestroyLinkHandshake(t *testing.T) {
	b, driver, _ := newTestBridge(t)

	b.Actions() <- Action{Kind: ActionDestroyLink, Link: graphmodel.Link{ID: 42}}
	driver.EmitDone(1)

	ev := recvEvent(t, b)
	require.Equal(t, EventLinkDestroyed, ev.Kind)
	assert.True(t, ev.Destroyed)
}

// TestBridge_DestroyGuardsUnmaterializedCreate exercises the race guard:
// destroying a link whose create handshake has not completed yet must fail
// soft rather than be issued to the driver.
func TestBridge_DestroyGuardsUnmaterializedCreate(t *testing.T) {
	b, driver, _ := newTestBridge(t)

	proxyID := driver.NextProxyID()
	b.Actions() <- Action{
		Kind:            ActionCreateLink,
		FactoryTypeName: graphmodel.LinkFactoryTypeName,
	}

	// Give the loop goroutine a chance to register the pending handshake
	// before the destroy races in.
	time.Sleep(20 * time.Millisecond)

	b.Actions() <- Action{Kind: ActionDestroyLink, Link: graphmodel.Link{ID: proxyID}}

	ev := recvEvent(t, b)
	require.Equal(t, EventLinkDestroyed, ev.Kind)
	assert.False(t, ev.Destroyed)
}

func TestBridge_TerminateClosesEventsAndJoins(t *testing.T) {
	driver := NewFakeDriver()
	store := graphstate.New()
	b := NewBridge(driver, store, nil)
	go b.Run()

	b.Terminate()
	b.Wait()

	_, ok := <-b.Events()
	assert.False(t, ok)
}
