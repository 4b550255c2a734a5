// Package l2fallback implements the background L2 forwarder used when
// ORCHESTRATOR_PATHS is disabled (spec.md §4.6). It computes shortest
// paths over an auxiliary host+switch graph the first time a (src_mac,
// dst_mac) flow is seen, caches the per-switch (out_port, next_dpid)
// decision, and installs flow-mods so later packets for the same pair skip
// the controller. The cached path holds no in_port; a cache hit is looked
// up by the packet-in's dpid alone. Grounded on
// server/ryu_apps/simple_switch_sp_13.py's packet-in handler and its
// link-add/delete/switch-leave cache invalidation.
package l2fallback

import (
	"context"
	"sync"

	"github.com/FayzaCH/fog-server/internal/logging"
	"github.com/FayzaCH/fog-server/internal/sbi"
	"github.com/FayzaCH/fog-server/internal/topology"
)

const (
	ethTypeLLDP = 0x88cc
	ethTypeARP  = 0x0806
)

type hop struct {
	outPort  int
	nextDPID string
	inPort   int
}

type flowKey struct {
	src, dst string
}

// PacketIn is a south-bound packet-in event carrying an Ethernet frame's
// header fields, the minimum this forwarder needs to decide where to send
// it next.
type PacketIn struct {
	DPID    string
	InPort  int
	EthType uint16
	SrcMAC  string
	DstMAC  string
}

// Forwarder is the L2 fallback forwarder. It is only meant to run when the
// deployment has orchestrator path selection disabled (spec.md §4.6); it
// defers entirely to the orchestrator for any (src, dst) pair the protocol
// has marked as managed.
type Forwarder struct {
	topo *topology.Topology
	cmd  sbi.Commander
	log  logging.Logger

	mu      sync.Mutex
	attach  map[string]hop             // mac -> its first-seen attachment point
	outs    map[flowKey]map[string]hop // (src,dst) -> dpid -> next hop
	managed map[flowKey]bool           // pairs the protocol owns; this forwarder skips them
}

// New constructs a Forwarder over topo, issuing commands through cmd.
func New(topo *topology.Topology, cmd sbi.Commander, log logging.Logger) *Forwarder {
	if log == nil {
		log = logging.Noop()
	}
	return &Forwarder{
		topo:    topo,
		cmd:     cmd,
		log:     log,
		attach:  make(map[string]hop),
		outs:    make(map[flowKey]map[string]hop),
		managed: make(map[flowKey]bool),
	}
}

// MarkManaged records that the orchestrator protocol now owns forwarding
// between srcMAC and dstMAC (in both directions); this forwarder will skip
// packet-ins for that pair from then on (spec.md §4.6).
func (f *Forwarder) MarkManaged(srcMAC, dstMAC string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.managed[flowKey{srcMAC, dstMAC}] = true
	f.managed[flowKey{dstMAC, srcMAC}] = true
}

// OnPacketIn handles one packet-in, installing a flow along the shortest
// known path once the destination's attachment point is known, and
// flooding otherwise.
func (f *Forwarder) OnPacketIn(ctx context.Context, pi PacketIn) {
	if pi.EthType == ethTypeLLDP || pi.EthType == ethTypeARP {
		return
	}

	f.mu.Lock()
	if f.managed[flowKey{pi.SrcMAC, pi.DstMAC}] {
		f.mu.Unlock()
		return
	}
	if _, ok := f.attach[pi.SrcMAC]; !ok {
		f.attach[pi.SrcMAC] = hop{inPort: pi.InPort, nextDPID: pi.DPID}
	}
	dstAttach, dstKnown := f.attach[pi.DstMAC]
	if !dstKnown {
		if dpid, _ := f.topo.GetByMAC(pi.DstMAC, "dpid").(string); dpid != "" {
			portNo, _ := f.topo.GetByMAC(pi.DstMAC, "port_no").(int)
			dstAttach = hop{inPort: portNo, nextDPID: dpid}
			dstKnown = true
		}
	}

	key := flowKey{pi.SrcMAC, pi.DstMAC}
	path, cached := f.outs[key]
	if !cached && dstKnown {
		path = f.computePath(pi.SrcMAC, dstAttach.nextDPID)
		if path != nil {
			path[dstAttach.nextDPID] = hop{outPort: dstAttach.inPort}
			f.outs[key] = path
		}
	}
	f.mu.Unlock()

	if path == nil {
		f.flood(ctx, pi)
		return
	}
	next, ok := path[pi.DPID]
	if !ok {
		// this switch isn't on the cached path for this pair; drop silently,
		// matching the original's "return" when dpid/in_port don't match.
		return
	}
	f.installAndForward(ctx, pi, next.outPort)
}

// computePath runs breadth-first search over the switch-link graph from
// srcDPID (the switch the source host is attached to) to dstDPID, and
// returns the per-switch next-hop map a later OnPacketIn call looks up by
// its own dpid. Returns nil if no path exists.
func (f *Forwarder) computePath(srcMAC, dstDPID string) map[string]hop {
	start := f.attach[srcMAC].nextDPID
	if start == "" || dstDPID == "" {
		return nil
	}
	if start == dstDPID {
		return map[string]hop{}
	}

	links := f.topo.GetLinks()
	prev := map[string]string{start: ""}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == dstDPID {
			break
		}
		for dst := range links[cur] {
			if _, seen := prev[dst]; seen {
				continue
			}
			prev[dst] = cur
			queue = append(queue, dst)
		}
	}
	if _, ok := prev[dstDPID]; !ok {
		return nil
	}

	// walk back from dstDPID to start, then invert into a forward next-hop map
	seq := []string{dstDPID}
	for seq[len(seq)-1] != start {
		seq = append(seq, prev[seq[len(seq)-1]])
	}
	out := make(map[string]hop, len(seq)-1)
	for i := len(seq) - 1; i > 0; i-- {
		cur, next := seq[i], seq[i-1]
		link := links[cur][next]
		if link == nil || link.SrcPort == nil {
			return nil
		}
		out[cur] = hop{outPort: link.SrcPort.Num, nextDPID: next}
	}
	return out
}

func (f *Forwarder) flood(ctx context.Context, pi PacketIn) {
	if err := f.cmd.SendPacketOut(ctx, sbi.PacketOut{DPID: pi.DPID, OutPort: sbi.PortFlood}); err != nil {
		f.log.Warn(ctx, "l2 fallback: flood failed", logging.String("dpid", pi.DPID), logging.String("err", err.Error()))
	}
}

func (f *Forwarder) installAndForward(ctx context.Context, pi PacketIn, outPort int) {
	fm := sbi.FlowMod{
		DPID:        pi.DPID,
		Priority:    1,
		InPort:      pi.InPort,
		MatchEthSrc: pi.SrcMAC,
		MatchEthDst: pi.DstMAC,
		OutPort:     outPort,
	}
	if err := f.cmd.SendFlowMod(ctx, fm); err != nil {
		f.log.Warn(ctx, "l2 fallback: flow-mod failed", logging.String("dpid", pi.DPID), logging.String("err", err.Error()))
		return
	}
	if err := f.cmd.SendPacketOut(ctx, sbi.PacketOut{DPID: pi.DPID, OutPort: outPort}); err != nil {
		f.log.Warn(ctx, "l2 fallback: packet-out failed", logging.String("dpid", pi.DPID), logging.String("err", err.Error()))
	}
}

// OnLinkDelete invalidates every cached path that crossed the now-removed
// srcDPID -> dstDPID edge, and deletes the flows it had installed for
// those pairs on every switch the path touched (spec.md §4.6).
func (f *Forwarder) OnLinkDelete(ctx context.Context, srcDPID, dstDPID string) {
	f.mu.Lock()
	var stale []flowKey
	for key, path := range f.outs {
		if next, ok := path[srcDPID]; ok && next.nextDPID == dstDPID {
			stale = append(stale, key)
		}
	}
	toDelete := make(map[flowKey]map[string]hop, len(stale))
	for _, key := range stale {
		toDelete[key] = f.outs[key]
		delete(f.outs, key)
	}
	f.mu.Unlock()

	for key, path := range toDelete {
		for dpid := range path {
			_ = f.cmd.SendFlowMod(ctx, sbi.FlowMod{DPID: dpid, Delete: true, Priority: 1, MatchEthSrc: key.src, MatchEthDst: key.dst})
			_ = f.cmd.SendFlowMod(ctx, sbi.FlowMod{DPID: dpid, Delete: true, Priority: 1, MatchEthSrc: key.dst, MatchEthDst: key.src})
		}
	}
}

// OnSwitchLeave drops every cached path touching dpid, mirroring the
// original's switch-leave handler (host-switch links aren't covered by
// OnLinkDelete alone).
func (f *Forwarder) OnSwitchLeave(dpid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, path := range f.outs {
		if _, ok := path[dpid]; ok {
			delete(f.outs, key)
		}
	}
	for mac, a := range f.attach {
		if a.nextDPID == dpid {
			delete(f.attach, mac)
		}
	}
}
