package l2fallback

import (
	"context"
	"sync"
	"testing"

	"github.com/FayzaCH/fog-server/internal/logging"
	"github.com/FayzaCH/fog-server/internal/sbi"
	"github.com/FayzaCH/fog-server/internal/topology"
	"github.com/FayzaCH/fog-server/model"
)

type fakeCommander struct {
	mu       sync.Mutex
	flowMods []sbi.FlowMod
	outs     []sbi.PacketOut
}

func (c *fakeCommander) SendFlowMod(ctx context.Context, fm sbi.FlowMod) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flowMods = append(c.flowMods, fm)
	return nil
}

func (c *fakeCommander) SendPacketOut(ctx context.Context, po sbi.PacketOut) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outs = append(c.outs, po)
	return nil
}

func (c *fakeCommander) RequestPortDescStats(ctx context.Context, dpid string) error { return nil }
func (c *fakeCommander) RequestPortStats(ctx context.Context, dpid string) error     { return nil }

// buildLineTopology mirrors the selection package's fixture: h1 - sw1 - sw2 - h2.
func buildLineTopology(t *testing.T) *topology.Topology {
	t.Helper()
	topo := topology.New(logging.Noop())
	for _, id := range []string{"h1", "sw1", "sw2", "h2"} {
		if err := topo.AddNode(id, true, model.NodeTypeSwitch, "", -1); err != nil {
			t.Fatalf("AddNode(%s): %v", id, err)
		}
	}
	links := [][2]string{{"h1", "sw1"}, {"sw1", "h1"}, {"sw1", "sw2"}, {"sw2", "sw1"}, {"sw2", "h2"}, {"h2", "sw2"}}
	for i, l := range links {
		if err := topo.AddInterface(l[0], l[1], i+1, "", ""); err != nil {
			t.Fatalf("AddInterface(%s,%s): %v", l[0], l[1], err)
		}
	}
	for _, l := range links {
		if err := topo.AddLink(l[0], l[1], l[1], l[0], true); err != nil {
			t.Fatalf("AddLink(%s->%s): %v", l[0], l[1], err)
		}
	}
	return topo
}

func TestOnPacketInFloodsWhenDestinationUnknown(t *testing.T) {
	topo := buildLineTopology(t)
	cmd := &fakeCommander{}
	f := New(topo, cmd, logging.Noop())

	f.OnPacketIn(context.Background(), PacketIn{DPID: "sw1", InPort: 1, SrcMAC: "aa:aa:aa:aa:aa:aa", DstMAC: "bb:bb:bb:bb:bb:bb"})

	if len(cmd.outs) != 1 || cmd.outs[0].OutPort != sbi.PortFlood {
		t.Fatalf("expected a single flood packet-out, got %+v", cmd.outs)
	}
	if len(cmd.flowMods) != 0 {
		t.Fatalf("expected no flow-mods installed before the destination is known")
	}
}

func TestOnPacketInSkipsLLDPAndARP(t *testing.T) {
	topo := buildLineTopology(t)
	cmd := &fakeCommander{}
	f := New(topo, cmd, logging.Noop())

	f.OnPacketIn(context.Background(), PacketIn{DPID: "sw1", InPort: 1, EthType: ethTypeLLDP, SrcMAC: "aa:aa:aa:aa:aa:aa", DstMAC: "bb:bb:bb:bb:bb:bb"})
	f.OnPacketIn(context.Background(), PacketIn{DPID: "sw1", InPort: 1, EthType: ethTypeARP, SrcMAC: "aa:aa:aa:aa:aa:aa", DstMAC: "bb:bb:bb:bb:bb:bb"})

	if len(cmd.outs) != 0 || len(cmd.flowMods) != 0 {
		t.Fatalf("expected LLDP/ARP packet-ins to be dropped silently, got outs=%+v flowMods=%+v", cmd.outs, cmd.flowMods)
	}
}

func TestOnPacketInInstallsPathOnceDestinationKnown(t *testing.T) {
	topo := buildLineTopology(t)
	cmd := &fakeCommander{}
	f := New(topo, cmd, logging.Noop())

	// h1 attaches to sw1, h2 attaches to sw2; teach the forwarder both
	// attachment points by feeding a packet-in from each direction first.
	f.OnPacketIn(context.Background(), PacketIn{DPID: "sw1", InPort: 1, SrcMAC: "mac-h1", DstMAC: "mac-h2"})
	f.OnPacketIn(context.Background(), PacketIn{DPID: "sw2", InPort: 1, SrcMAC: "mac-h2", DstMAC: "mac-h1"})

	cmd.mu.Lock()
	cmd.flowMods = nil
	cmd.outs = nil
	cmd.mu.Unlock()

	// Now h1 -> h2 traffic arrives at sw1 again; the destination's
	// attachment point (sw2) is known, so a path should be installed.
	f.OnPacketIn(context.Background(), PacketIn{DPID: "sw1", InPort: 1, SrcMAC: "mac-h1", DstMAC: "mac-h2"})

	if len(cmd.flowMods) != 1 {
		t.Fatalf("expected one flow-mod installed on sw1, got %+v", cmd.flowMods)
	}
	if cmd.flowMods[0].MatchEthSrc != "mac-h1" || cmd.flowMods[0].MatchEthDst != "mac-h2" {
		t.Fatalf("unexpected flow-mod match fields: %+v", cmd.flowMods[0])
	}
}

func TestMarkManagedSuppressesForwarding(t *testing.T) {
	topo := buildLineTopology(t)
	cmd := &fakeCommander{}
	f := New(topo, cmd, logging.Noop())
	f.MarkManaged("mac-h1", "mac-h2")

	f.OnPacketIn(context.Background(), PacketIn{DPID: "sw1", InPort: 1, SrcMAC: "mac-h1", DstMAC: "mac-h2"})

	if len(cmd.outs) != 0 || len(cmd.flowMods) != 0 {
		t.Fatalf("expected a managed pair to be skipped entirely, got outs=%+v flowMods=%+v", cmd.outs, cmd.flowMods)
	}
}

func TestOnSwitchLeaveClearsCachedAttachmentsAndPaths(t *testing.T) {
	topo := buildLineTopology(t)
	cmd := &fakeCommander{}
	f := New(topo, cmd, logging.Noop())

	f.OnPacketIn(context.Background(), PacketIn{DPID: "sw1", InPort: 1, SrcMAC: "mac-h1", DstMAC: "mac-h2"})
	f.OnSwitchLeave("sw1")

	f.mu.Lock()
	_, known := f.attach["mac-h1"]
	f.mu.Unlock()
	if known {
		t.Fatalf("expected attachment for mac-h1 to be cleared after its switch left")
	}
}
