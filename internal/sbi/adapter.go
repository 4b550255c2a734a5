package sbi

import (
	"context"

	"github.com/FayzaCH/fog-server/internal/logging"
	"github.com/FayzaCH/fog-server/internal/protocol"
	"github.com/FayzaCH/fog-server/internal/topology"
	"github.com/FayzaCH/fog-server/model"
)

// TopologyFeeder implements EventSink by folding south-bound events
// directly into the live Topology, playing the role the original's Ryu
// event handlers (switch/port/link/host add-delete) play against
// topology.py's Topology RyuApp.
type TopologyFeeder struct {
	topo *topology.Topology
	log  logging.Logger
}

// NewTopologyFeeder constructs a TopologyFeeder over topo.
func NewTopologyFeeder(topo *topology.Topology, log logging.Logger) *TopologyFeeder {
	if log == nil {
		log = logging.Noop()
	}
	return &TopologyFeeder{topo: topo, log: log}
}

func (f *TopologyFeeder) OnSwitchEnter(ctx context.Context, ev SwitchEvent) {
	if err := f.topo.AddNode(ev.DPID, true, model.NodeTypeSwitch, "", -1); err != nil {
		f.log.Warn(ctx, "switch-enter: add node failed", logging.String("dpid", ev.DPID), logging.String("err", err.Error()))
	}
}

func (f *TopologyFeeder) OnSwitchLeave(ctx context.Context, ev SwitchEvent) {
	f.topo.DeleteNode(ev.DPID)
}

func (f *TopologyFeeder) OnPortAdd(ctx context.Context, ev PortEvent) {
	if err := f.topo.AddInterface(ev.DPID, ev.PortName, ev.PortNo, ev.MAC, ""); err != nil {
		f.log.Warn(ctx, "port-add: add interface failed", logging.String("dpid", ev.DPID), logging.String("port", ev.PortName), logging.String("err", err.Error()))
	}
}

func (f *TopologyFeeder) OnPortDelete(ctx context.Context, ev PortEvent) {
	f.topo.DeleteInterface(ev.DPID, ev.PortName)
}

func (f *TopologyFeeder) OnPortModify(ctx context.Context, ev PortEvent) {
	iface := f.topo.GetInterface(ev.DPID, topology.PortName(ev.PortName))
	if iface != nil && ev.MAC != "" {
		iface.MAC = ev.MAC
	}
}

func (f *TopologyFeeder) OnLinkAdd(ctx context.Context, ev LinkEvent) {
	srcIface := f.topo.GetInterface(ev.SrcDPID, topology.PortNum(ev.SrcPort))
	dstIface := f.topo.GetInterface(ev.DstDPID, topology.PortNum(ev.DstPort))
	if srcIface == nil || dstIface == nil {
		f.log.Warn(ctx, "link-add: unknown interface", logging.String("src", ev.SrcDPID), logging.String("dst", ev.DstDPID))
		return
	}
	if err := f.topo.AddLink(ev.SrcDPID, ev.DstDPID, srcIface.Name, dstIface.Name, true); err != nil {
		f.log.Warn(ctx, "link-add failed", logging.String("err", err.Error()))
	}
}

func (f *TopologyFeeder) OnLinkDelete(ctx context.Context, ev LinkEvent) {
	f.topo.DeleteLink(ev.SrcDPID, ev.DstDPID)
}

func (f *TopologyFeeder) OnHostAdd(ctx context.Context, ev HostEvent) {
	f.topo.SetDPIDForMAC(ev.MAC, ev.DPID, ev.PortName, ev.PortNo)
}

func (f *TopologyFeeder) OnHostDelete(ctx context.Context, ev HostEvent) {
	if node := f.topo.GetByMAC(ev.MAC, "node_id"); node != nil {
		if id, ok := node.(string); ok {
			f.topo.DeleteNode(id)
		}
	}
}

func (f *TopologyFeeder) OnHostMove(ctx context.Context, ev HostEvent) {
	f.topo.SetDPIDForMAC(ev.MAC, ev.DPID, ev.PortName, ev.PortNo)
}

// Commands implements protocol.Sender, protocol.FlowInstaller, and
// monitor.Requester by translating those core-facing calls into Commander
// calls against the real south-bound adapter.
type Commands struct {
	cmd  Commander
	topo *topology.Topology
	log  logging.Logger
}

// NewCommands constructs a Commands adapter over cmd.
func NewCommands(cmd Commander, topo *topology.Topology, log logging.Logger) *Commands {
	if log == nil {
		log = logging.Noop()
	}
	return &Commands{cmd: cmd, topo: topo, log: log}
}

// SendFrame implements protocol.Sender: resolves dstMAC to its attachment
// point in the Topology and emits the encoded frame as a packet-out there.
func (c *Commands) SendFrame(ctx context.Context, dstMAC, dstIP string, frame *protocol.Frame) error {
	codec := protocol.NewCodec(36, 6, 4)
	payload, err := codec.Encode(frame)
	if err != nil {
		return err
	}
	dpid, _ := c.topo.GetByMAC(dstMAC, "dpid").(string)
	portNo, _ := c.topo.GetByMAC(dstMAC, "port_no").(int)
	if dpid == "" {
		c.log.Warn(ctx, "send frame: unknown destination attachment", logging.String("mac", dstMAC))
		return nil
	}
	return c.cmd.SendPacketOut(ctx, PacketOut{DPID: dpid, OutPort: portNo, Payload: payload})
}

// InstallPath implements protocol.FlowInstaller: installs a bidirectional
// forwarding rule at every switch hop of path (spec.md §4.5), modeled
// directly on the original's _install_flows/_send_flow_mod. path includes
// the source and destination host ids at its ends (as produced by the
// Selection Engine); those two endpoints are never switches, so the
// flow-mod loop only ever runs over path[1:len(path)-1]. The in_port at the
// first switch and the out_port at the last switch come from each host's
// recorded switch-attachment point (GetByMAC); the ports at every
// switch-to-switch hop in between come from the Links joining them.
func (c *Commands) InstallPath(ctx context.Context, path []string, srcMAC, srcIP, dstMAC, dstIP string) error {
	if len(path) < 2 {
		return nil
	}
	switches := path[1 : len(path)-1]
	if len(switches) == 0 {
		return nil
	}

	inPort, ok := c.topo.GetByMAC(srcMAC, "port_no").(int)
	if !ok {
		c.log.Warn(ctx, "install path: source host attachment point unknown", logging.String("mac", srcMAC))
		return nil
	}
	outPortLast, ok := c.topo.GetByMAC(dstMAC, "port_no").(int)
	if !ok {
		c.log.Warn(ctx, "install path: destination host attachment point unknown", logging.String("mac", dstMAC))
		return nil
	}

	if len(switches) == 1 {
		return c.installHop(ctx, switches[0], inPort, outPortLast, srcIP, dstIP)
	}

	for i, dpid := range switches {
		switch {
		case i == 0:
			link := c.topo.GetLink(dpid, switches[i+1])
			if link == nil || link.SrcPort == nil {
				return nil
			}
			if err := c.installHop(ctx, dpid, inPort, link.SrcPort.Num, srcIP, dstIP); err != nil {
				return err
			}
		case i == len(switches)-1:
			link := c.topo.GetLink(switches[i-1], dpid)
			if link == nil || link.DstPort == nil {
				return nil
			}
			if err := c.installHop(ctx, dpid, link.DstPort.Num, outPortLast, srcIP, dstIP); err != nil {
				return err
			}
		default:
			in := c.topo.GetLink(switches[i-1], dpid)
			out := c.topo.GetLink(dpid, switches[i+1])
			if in == nil || in.DstPort == nil || out == nil || out.SrcPort == nil {
				return nil
			}
			if err := c.installHop(ctx, dpid, in.DstPort.Num, out.SrcPort.Num, srcIP, dstIP); err != nil {
				return err
			}
		}
	}
	return nil
}

// installHop commits the forward and reverse flow entry at one switch,
// each preceded by a wildcard delete, per the original's _send_flow_mod.
func (c *Commands) installHop(ctx context.Context, dpid string, inPort, outPort int, srcIP, dstIP string) error {
	if err := c.sendDeleteThenInstall(ctx, dpid, inPort, outPort, srcIP, dstIP); err != nil {
		return err
	}
	return c.sendDeleteThenInstall(ctx, dpid, outPort, inPort, dstIP, srcIP)
}

// sendDeleteThenInstall issues the wildcard delete then the install for one
// direction of one hop's flow entry, per the original's _send_flow_mod.
func (c *Commands) sendDeleteThenInstall(ctx context.Context, dpid string, inPort, outPort int, srcIP, dstIP string) error {
	if err := c.cmd.SendFlowMod(ctx, FlowMod{DPID: dpid, Delete: true, Priority: 2, IPv4Src: srcIP, IPv4Dst: dstIP}); err != nil {
		return err
	}
	return c.cmd.SendFlowMod(ctx, FlowMod{DPID: dpid, Priority: 2, InPort: inPort, IPv4Src: srcIP, IPv4Dst: dstIP, OutPort: outPort})
}

// SuppressFlood implements protocol.FlowInstaller: it sends one delete
// flow-mod with no match fields (priority 1<<30) to the switch hostMAC is
// attached to. It installs no rule, does not use srcMAC, and does nothing
// when hostMAC has no recorded switch.
func (c *Commands) SuppressFlood(ctx context.Context, srcMAC, hostMAC string) {
	dpid, _ := c.topo.GetByMAC(hostMAC, "dpid").(string)
	if dpid == "" {
		return
	}
	_ = c.cmd.SendFlowMod(ctx, FlowMod{DPID: dpid, Delete: true, Priority: 1 << 30})
}

// RequestPortDescStats implements monitor.Requester.
func (c *Commands) RequestPortDescStats(ctx context.Context, dpid string) error {
	return c.cmd.RequestPortDescStats(ctx, dpid)
}

// RequestPortStats implements monitor.Requester.
func (c *Commands) RequestPortStats(ctx context.Context, dpid string) error {
	return c.cmd.RequestPortStats(ctx, dpid)
}

// NoopCommander discards every command and logs it, standing in for a real
// datapath speaker (OpenFlow/P4) that a deployment has not wired up yet.
// Like stateupdater.NoopDelaySource, this keeps the rest of the orchestrator
// runnable with no south-bound transport attached.
type NoopCommander struct {
	log logging.Logger
}

// NewNoopCommander constructs a NoopCommander.
func NewNoopCommander(log logging.Logger) *NoopCommander {
	if log == nil {
		log = logging.Noop()
	}
	return &NoopCommander{log: log}
}

func (c *NoopCommander) SendFlowMod(ctx context.Context, fm FlowMod) error {
	c.log.Debug(ctx, "noop commander: flow-mod dropped", logging.String("dpid", fm.DPID))
	return nil
}

func (c *NoopCommander) SendPacketOut(ctx context.Context, po PacketOut) error {
	c.log.Debug(ctx, "noop commander: packet-out dropped", logging.String("dpid", po.DPID))
	return nil
}

func (c *NoopCommander) RequestPortDescStats(ctx context.Context, dpid string) error {
	return nil
}

func (c *NoopCommander) RequestPortStats(ctx context.Context, dpid string) error {
	return nil
}
