package sbi

import (
	"context"
	"testing"
)

type recordingSink struct {
	switchEnters []SwitchEvent
	hostMoves    []HostEvent
}

func (r *recordingSink) OnSwitchEnter(ctx context.Context, ev SwitchEvent) { r.switchEnters = append(r.switchEnters, ev) }
func (r *recordingSink) OnSwitchLeave(ctx context.Context, ev SwitchEvent) {}
func (r *recordingSink) OnPortAdd(ctx context.Context, ev PortEvent)       {}
func (r *recordingSink) OnPortDelete(ctx context.Context, ev PortEvent)    {}
func (r *recordingSink) OnPortModify(ctx context.Context, ev PortEvent)    {}
func (r *recordingSink) OnLinkAdd(ctx context.Context, ev LinkEvent)       {}
func (r *recordingSink) OnLinkDelete(ctx context.Context, ev LinkEvent)    {}
func (r *recordingSink) OnHostAdd(ctx context.Context, ev HostEvent)       {}
func (r *recordingSink) OnHostDelete(ctx context.Context, ev HostEvent)    {}
func (r *recordingSink) OnHostMove(ctx context.Context, ev HostEvent)      { r.hostMoves = append(r.hostMoves, ev) }

func TestEventSinkDispatch(t *testing.T) {
	var sink EventSink = &recordingSink{}
	sink.OnSwitchEnter(context.Background(), SwitchEvent{DPID: "dp1"})
	sink.OnHostMove(context.Background(), HostEvent{MAC: "aa:bb:cc:dd:ee:ff", DPID: "dp1", PortNo: 2})

	rs := sink.(*recordingSink)
	if len(rs.switchEnters) != 1 || rs.switchEnters[0].DPID != "dp1" {
		t.Fatalf("expected one switch-enter event for dp1, got %+v", rs.switchEnters)
	}
	if len(rs.hostMoves) != 1 || rs.hostMoves[0].MAC != "aa:bb:cc:dd:ee:ff" {
		t.Fatalf("expected one host-move event, got %+v", rs.hostMoves)
	}
}

type recordingCommander struct {
	flowMods []FlowMod
	packets  []PacketOut
}

func (c *recordingCommander) SendFlowMod(ctx context.Context, fm FlowMod) error {
	c.flowMods = append(c.flowMods, fm)
	return nil
}

func (c *recordingCommander) SendPacketOut(ctx context.Context, po PacketOut) error {
	c.packets = append(c.packets, po)
	return nil
}

func (c *recordingCommander) RequestPortDescStats(ctx context.Context, dpid string) error { return nil }
func (c *recordingCommander) RequestPortStats(ctx context.Context, dpid string) error     { return nil }

func TestCommanderDispatch(t *testing.T) {
	var cmd Commander = &recordingCommander{}
	if err := cmd.SendFlowMod(context.Background(), FlowMod{DPID: "dp1", Priority: 2, OutPort: 3}); err != nil {
		t.Fatalf("SendFlowMod returned error: %v", err)
	}
	if err := cmd.SendPacketOut(context.Background(), PacketOut{DPID: "dp1", OutPort: 3, Payload: []byte("x")}); err != nil {
		t.Fatalf("SendPacketOut returned error: %v", err)
	}

	rc := cmd.(*recordingCommander)
	if len(rc.flowMods) != 1 || rc.flowMods[0].Priority != 2 {
		t.Fatalf("expected one flow-mod with priority 2, got %+v", rc.flowMods)
	}
	if len(rc.packets) != 1 || string(rc.packets[0].Payload) != "x" {
		t.Fatalf("expected one packet-out with payload x, got %+v", rc.packets)
	}
}
