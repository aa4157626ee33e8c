package daemon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Teascade/pipeswitch/internal/config"
	"github.com/Teascade/pipeswitch/internal/graphmodel"
	"github.com/Teascade/pipeswitch/internal/graphstate"
	"github.com/Teascade/pipeswitch/internal/pwgraph"
	"github.com/Teascade/pipeswitch/internal/rules"
)

const pollTimeout = 2 * time.Second
const pollEvery = 5 * time.Millisecond

// harness wires a FakeDriver, Bridge, and Daemon together the way
// cmd/pipeswitchd does, for scenario-level tests. Both the bridge and the
// daemon run on their own goroutines from construction, so
// every piece of state the test touches either goes through the fake
// driver's emit calls, the config-reload channel, or Daemon.Query -- never a
// direct call into a Daemon method from the test goroutine.
type harness struct {
	t      *testing.T
	driver *pwgraph.FakeDriver
	store  *graphstate.Store
	bridge *pwgraph.Bridge
	daemon *Daemon
	cfgCh  chan *config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	driver := pwgraph.NewFakeDriver()
	store := graphstate.New()
	bridge := pwgraph.NewBridge(driver, store, nil)
	cfgCh := make(chan *config.Config, 1)
	d := New(store, bridge.Actions(), bridge.Events(), cfgCh, nil, nil)

	go bridge.Run()
	go d.Run()

	h := &harness{t: t, driver: driver, store: store, bridge: bridge, daemon: d, cfgCh: cfgCh}
	t.Cleanup(func() {
		bridge.Terminate()
		bridge.Wait()
	})
	return h
}

func (h *harness) addClient(id uint32, appName string) {
	h.driver.EmitGlobal(pwgraph.RawGlobal{
		ID: id, Type: "PipeWire:Interface:Client", Version: graphmodel.ProtocolVersion,
		Props: map[string]string{
			"module.id": "1", "pipewire.protocol": "Native", "pipewire.sec.pid": "100",
			"pipewire.sec.uid": "1000", "pipewire.sec.gid": "1000", "pipewire.sec.label": "",
			"application.name": appName,
		},
	})
}

func (h *harness) addNode(id, clientID uint32, nodeName string) {
	h.driver.EmitGlobal(pwgraph.RawGlobal{
		ID: id, Type: "PipeWire:Interface:Node", Version: graphmodel.ProtocolVersion,
		Props: map[string]string{"client.id": fmtUint(clientID), "node.name": nodeName},
	})
}

func (h *harness) addPort(id, localPortID, nodeID uint32, name, direction string) {
	h.driver.EmitGlobal(pwgraph.RawGlobal{
		ID: id, Type: "PipeWire:Interface:Port", Version: graphmodel.ProtocolVersion,
		Props: map[string]string{
			"port.id": fmtUint(localPortID), "node.id": fmtUint(nodeID), "port.name": name,
			"port.direction": direction, "port.alias": name,
		},
	})
}

// addPortCh is addPort with an explicit audio.channel property, for ports
// whose channel can't be derived from local_port_id (e.g. MONO).
func (h *harness) addPortCh(id, localPortID, nodeID uint32, name, direction, audioChannel string) {
	h.driver.EmitGlobal(pwgraph.RawGlobal{
		ID: id, Type: "PipeWire:Interface:Port", Version: graphmodel.ProtocolVersion,
		Props: map[string]string{
			"port.id": fmtUint(localPortID), "node.id": fmtUint(nodeID), "port.name": name,
			"port.direction": direction, "port.alias": name, "audio.channel": audioChannel,
		},
	})
}

func (h *harness) addFactory(id uint32) {
	h.driver.EmitGlobal(pwgraph.RawGlobal{
		ID: id, Type: "PipeWire:Interface:Factory", Version: graphmodel.ProtocolVersion,
		Props: map[string]string{
			"module.id": "1", "factory.name": "link-factory", "factory.type.name": graphmodel.LinkFactoryTypeName,
		},
	})
}

func fmtUint(v uint32) string {
	if v == 0 {
		return "0"
	}
	digits := [10]byte{}
	i := len(digits)
	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return string(digits[i:])
}

// reload pushes cfg through the same channel a config-file watcher would,
// so the daemon's own goroutine is the only one ever touching its rule
// table -- including for the very first configuration, which
// handleConfigModified treats identically to a reload against an empty
// table.
func (h *harness) reload(cfg *config.Config) {
	h.cfgCh <- cfg
}

func (h *harness) ruleNames() []string {
	var names []string
	h.daemon.Query(func(d *Daemon) { names = d.RuleNames() })
	return names
}

func (h *harness) linkCount(name string) int {
	var n int
	h.daemon.Query(func(d *Daemon) { n, _ = d.LinkCount(name) })
	return n
}

// awaitLinkCount polls until rule name owns exactly want links, re-driving
// via redrive on every tick. A create/destroy handshake's completion races
// against a test's emitted driver events (nothing observable from the test
// goroutine marks the instant the bridge records its pending seq), so the
// robust way to drive it is to keep resending until the effect lands:
// EmitLinkInfo dedupes by link id and a stale EmitDone is simply dropped if
// it doesn't match the bridge's current pending seq, so retries are
// harmless.
func (h *harness) awaitLinkCount(name string, want int, redrive func()) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		redrive()
		return h.linkCount(name) == want
	}, pollTimeout, pollEvery, "rule %q never reached link count %d", name, want)
}

// awaitRule blocks until the daemon has processed a reload that introduced
// rule name. Scenario tests reload against an empty graph first (so the
// reload completes without issuing any handshake) and only then emit graph
// objects: from that point on, everything the daemon observes arrives in
// FIFO order on the bridge's event channel.
func (h *harness) awaitRule(name string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		for _, n := range h.ruleNames() {
			if n == name {
				return true
			}
		}
		return false
	}, pollTimeout, pollEvery, "rule %q never loaded", name)
}

func (h *harness) awaitRuleGone(name string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		for _, n := range h.ruleNames() {
			if n == name {
				return false
			}
		}
		return true
	}, pollTimeout, pollEvery, "rule %q never removed", name)
}

func (h *harness) awaitLinkGone(id uint32, seq uint64) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		h.driver.EmitDone(seq)
		_, ok := h.store.Link(id)
		return !ok
	}, pollTimeout, pollEvery, "link %d never destroyed", id)
}

func cfg(linger bool, links map[string]rules.Config) *config.Config {
	c := &config.Config{
		General: config.General{LingerLinks: linger},
		Log:     config.Log{Level: "info"},
		Link:    make(map[string]config.LinkBlock),
	}
	for name, lc := range links {
		special := lc.SpecialEmptyPorts
		c.Link[name] = config.LinkBlock{
			In:                config.LinkTarget{Client: lc.In.Client, Node: lc.In.Node, Port: lc.In.Port},
			Out:               config.LinkTarget{Client: lc.Out.Client, Node: lc.Out.Node, Port: lc.Out.Port},
			SpecialEmptyPorts: &special,
		}
	}
	return c
}

func strp(s string) *string { return &s }

// TestNoChannelMatch: startup with one rule, channel mismatch ->
// zero links ever get created even once both sides' ports exist.
func TestNoChannelMatch(t *testing.T) {
	h := newHarness(t)
	h.reload(cfg(false, map[string]rules.Config{
		"a": {Name: "a", In: rules.Clause{Node: strp("Mic")}, Out: rules.Clause{Node: strp("App")}, SpecialEmptyPorts: true},
	}))
	h.awaitRule("a")

	h.addFactory(1)
	h.addClient(2, "App")
	h.addClient(3, "MicApp")
	h.addNode(10, 2, "App")
	h.addNode(20, 3, "Mic")
	h.addPort(100, 0, 10, "output_FL", "out")
	h.addPort(101, 1, 10, "output_FR", "out")
	h.addPortCh(200, 2, 20, "input_MONO", "in", "MONO")

	assert.Never(t, func() bool { return h.linkCount("a") != 0 }, 200*time.Millisecond, 20*time.Millisecond)
}

// TestPortRegexOverridesChannel: an explicit port regex overrides
// a channel mismatch, so the pair still links.
func TestPortRegexOverridesChannel(t *testing.T) {
	h := newHarness(t)
	h.reload(cfg(false, map[string]rules.Config{
		"b": {
			Name:              "b",
			In:                rules.Clause{Node: strp("Mic"), Port: strp("input_MONO")},
			Out:               rules.Clause{Node: strp("App"), Port: strp("output_FL")},
			SpecialEmptyPorts: true,
		},
	}))
	h.awaitRule("b")

	h.addFactory(1)
	h.addClient(2, "App")
	h.addClient(3, "MicApp")
	h.addNode(10, 2, "App")
	h.addNode(20, 3, "Mic")
	h.addPort(100, 0, 10, "output_FL", "out")
	proxyID := h.driver.NextProxyID()
	h.addPortCh(200, 2, 20, "input_MONO", "in", "MONO")

	h.awaitLinkCount("b", 1, func() {
		h.driver.EmitLinkInfo(pwgraph.LinkInfo{
			ID: proxyID, OutputNode: 10, OutputPort: 100, InputNode: 20, InputPort: 200,
			Props: map[string]string{"factory.id": "1", graphmodel.RuleNameKey: "b"},
		})
		h.driver.EmitDone(1)
	})
}

// TestLateArrival: a rule loaded before either side's node
// exists still pairs once both arrive.
func TestLateArrival(t *testing.T) {
	h := newHarness(t)
	h.reload(cfg(false, map[string]rules.Config{
		"c": {Name: "c", In: rules.Clause{Node: strp("Rec")}, Out: rules.Clause{Node: strp("Src")}, SpecialEmptyPorts: false},
	}))
	h.awaitRule("c")

	h.addFactory(1)
	h.addClient(2, "SrcApp")
	h.addNode(10, 2, "Src")
	h.addPort(100, 0, 10, "output_FL", "out")

	proxyID := h.driver.NextProxyID()
	h.addClient(3, "RecApp")
	h.addNode(20, 3, "Rec")
	h.addPort(200, 0, 20, "input_FL", "in")

	h.awaitLinkCount("c", 1, func() {
		h.driver.EmitLinkInfo(pwgraph.LinkInfo{
			ID: proxyID, OutputNode: 10, OutputPort: 100, InputNode: 20, InputPort: 200,
			Props: map[string]string{"factory.id": "1", graphmodel.RuleNameKey: "c"},
		})
		h.driver.EmitDone(1)
	})
}

// TestReloadDropRuleLingerOff: a reload that drops a rule with
// linger off destroys the link the rule owned.
func TestReloadDropRuleLingerOff(t *testing.T) {
	h := newHarness(t)
	h.reload(cfg(false, map[string]rules.Config{
		"a": {Name: "a", In: rules.Clause{Node: strp("Mic")}, Out: rules.Clause{Node: strp("App")}, SpecialEmptyPorts: false},
	}))
	h.awaitRule("a")

	h.addFactory(1)
	h.addClient(2, "App")
	h.addClient(3, "MicApp")
	h.addNode(10, 2, "App")
	h.addNode(20, 3, "Mic")
	h.addPort(100, 0, 10, "output_FL", "out")
	proxyID := h.driver.NextProxyID()
	h.addPort(200, 0, 20, "input_FL", "in")

	h.awaitLinkCount("a", 1, func() {
		h.driver.EmitLinkInfo(pwgraph.LinkInfo{
			ID: proxyID, OutputNode: 10, OutputPort: 100, InputNode: 20, InputPort: 200,
			Props: map[string]string{"factory.id": "1", graphmodel.RuleNameKey: "a"},
		})
		h.driver.EmitDone(1)
	})

	h.reload(cfg(false, map[string]rules.Config{}))
	h.awaitLinkGone(proxyID, 2)
	h.awaitRuleGone("a")
}

// TestReloadDropRuleLingerOn: a reload that drops a rule with
// linger on leaves the link alone; only the rule entry disappears.
func TestReloadDropRuleLingerOn(t *testing.T) {
	h := newHarness(t)
	h.reload(cfg(true, map[string]rules.Config{
		"a": {Name: "a", In: rules.Clause{Node: strp("Mic")}, Out: rules.Clause{Node: strp("App")}, SpecialEmptyPorts: false},
	}))
	h.awaitRule("a")

	h.addFactory(1)
	h.addClient(2, "App")
	h.addClient(3, "MicApp")
	h.addNode(10, 2, "App")
	h.addNode(20, 3, "Mic")
	h.addPort(100, 0, 10, "output_FL", "out")
	proxyID := h.driver.NextProxyID()
	h.addPort(200, 0, 20, "input_FL", "in")

	h.awaitLinkCount("a", 1, func() {
		h.driver.EmitLinkInfo(pwgraph.LinkInfo{
			ID: proxyID, OutputNode: 10, OutputPort: 100, InputNode: 20, InputPort: 200,
			Props: map[string]string{"factory.id": "1", graphmodel.RuleNameKey: "a"},
		})
		h.driver.EmitDone(1)
	})

	h.reload(cfg(true, map[string]rules.Config{}))
	h.awaitRuleGone("a")

	_, stillThere := h.store.Link(proxyID)
	assert.True(t, stillThere, "lingered link must not be destroyed")
}

// TestOrphanRecovery: orphan recovery. A link left over from a
// previous run carries a rule_name the current config no longer defines;
// with linger off the daemon destroys it as soon as its info callback
// resolves.
func TestOrphanRecovery(t *testing.T) {
	h := newHarness(t)
	h.addFactory(1)
	h.reload(cfg(false, map[string]rules.Config{}))

	require.Eventually(t, func() bool { return len(h.ruleNames()) == 0 }, pollTimeout, pollEvery)

	const orphanID = 500
	h.driver.EmitGlobal(pwgraph.RawGlobal{ID: orphanID, Type: graphmodel.LinkFactoryTypeName, Version: graphmodel.ProtocolVersion})
	h.driver.EmitLinkInfo(pwgraph.LinkInfo{
		ID: orphanID, OutputNode: 10, OutputPort: 100, InputNode: 20, InputPort: 200,
		Props: map[string]string{"factory.id": "1", graphmodel.RuleNameKey: "old"},
	})

	h.awaitLinkGone(orphanID, 1)
}

func TestReload_EmptyConfigNoRules(t *testing.T) {
	h := newHarness(t)
	h.reload(cfg(false, map[string]rules.Config{}))
	require.Eventually(t, func() bool { return len(h.ruleNames()) == 0 }, pollTimeout, pollEvery)
}
