// Package sbi declares the south-bound adapter contract: the datapath
// events the core consumes and the datapath commands it issues (spec.md §6
// "South-bound adapter (consumed, not implemented by the core)"). A real
// adapter lives outside this module (an OpenFlow/P4 speaker, a packet
// socket, whatever the deployment's datapaths actually speak); this package
// only pins the shape the core code depends on.
package sbi

import "context"

// SwitchEvent carries a switch-enter/leave notification.
type SwitchEvent struct {
	DPID string
}

// PortEvent carries a port add/delete/modify notification.
type PortEvent struct {
	DPID     string
	PortNo   int
	PortName string
	MAC      string
}

// LinkEvent carries a link add/delete notification between two datapath
// ports.
type LinkEvent struct {
	SrcDPID   string
	SrcPort   int
	DstDPID   string
	DstPort   int
}

// HostEvent carries a host add/delete/move notification: a MAC observed at
// a given datapath port.
type HostEvent struct {
	MAC      string
	IPv4     string
	DPID     string
	PortNo   int
	PortName string
}

// EventSink receives south-bound topology events. TopologyFeeder in this
// package implements it and folds the events into internal/topology.
type EventSink interface {
	OnSwitchEnter(ctx context.Context, ev SwitchEvent)
	OnSwitchLeave(ctx context.Context, ev SwitchEvent)
	OnPortAdd(ctx context.Context, ev PortEvent)
	OnPortDelete(ctx context.Context, ev PortEvent)
	OnPortModify(ctx context.Context, ev PortEvent)
	OnLinkAdd(ctx context.Context, ev LinkEvent)
	OnLinkDelete(ctx context.Context, ev LinkEvent)
	OnHostAdd(ctx context.Context, ev HostEvent)
	OnHostDelete(ctx context.Context, ev HostEvent)
	OnHostMove(ctx context.Context, ev HostEvent)
}

// PortFlood is the OutPort sentinel meaning "flood on every port but the
// one the packet arrived on" (OFPP_FLOOD in OpenFlow terms).
const PortFlood = -1

// FlowMod is one flow-rule command the core issues to a datapath (spec.md
// §4.5). MatchEthSrc/MatchEthDst are used by the L2 fallback forwarder
// (spec.md §4.6); IPv4Src/IPv4Dst are used by the orchestrator-managed
// path installer instead.
type FlowMod struct {
	DPID        string
	Delete      bool
	Priority    int
	InPort      int
	EthType     uint16
	MatchEthSrc string
	MatchEthDst string
	IPv4Src     string
	IPv4Dst     string
	OutPort     int
}

// PacketOut is a raw frame the core asks the south-bound adapter to emit
// on a datapath port (used for protocol frames addressed off-controller).
type PacketOut struct {
	DPID    string
	OutPort int
	Payload []byte
}

// Commander is implemented by the south-bound adapter; the core calls it
// to install flow rules, emit packets, and poll per-port statistics.
type Commander interface {
	SendFlowMod(ctx context.Context, fm FlowMod) error
	SendPacketOut(ctx context.Context, po PacketOut) error
	RequestPortDescStats(ctx context.Context, dpid string) error
	RequestPortStats(ctx context.Context, dpid string) error
}
