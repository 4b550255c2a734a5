// Package stateupdater implements the State Updater: it injects the most
// recent measurements collected by the monitors into the live Topology,
// translating raw per-port counters into the derived Node/Interface/Link
// specs that the selection engine reads (spec.md §4.2).
package stateupdater

import (
	"context"
	"sync"
	"time"

	"github.com/FayzaCH/fog-server/internal/logging"
	"github.com/FayzaCH/fog-server/internal/topology"
)

// PortKey identifies a (node, port number) pair.
type PortKey struct {
	NodeID string
	Port   int
}

// PortFeature is the OpenFlow-style live/blocked/down indication read off a
// datapath port, as reported by the south-bound monitor.
type PortFeature int

const (
	PortDown PortFeature = iota
	PortBlocked
	PortLive
)

// BandwidthSource is satisfied by the monitor that samples per-port
// counters and derives free bandwidth and loss rate (spec.md §4.6 / the
// Monitors module).
type BandwidthSource interface {
	FreeBandwidth() map[string]map[int][2]float64 // nodeID -> port -> (up, down) Mbps
	TxRxPackets() map[PortKey][2]uint64            // nodeID/port -> (tx, rx)
	LossRateAtPort() map[PortKey]float64
	PortFeatures() map[string]map[int]PortFeature // nodeID -> port -> feature
}

// DelaySource is satisfied by the switch-to-switch delay/jitter detector.
type DelaySource interface {
	Delay() map[string]map[string]float64
	Jitter() map[string]map[string]float64
}

// HostDelaySource is satisfied by the host-to-switch delay detector; its
// measurement is round-trip and is halved to yield the one-way link delay.
type HostDelaySource interface {
	MACDelay() map[string]float64
	MACJitter() map[string]float64
}

// NoopDelaySource reports no measurements. The retrieved original_source
// tree carries no delay/jitter detector RyuApp (only network_monitor.py was
// distilled), so a deployment without an active delay-probing south-bound
// adapter wires this in place of a real DelaySource/HostDelaySource; delay
// and jitter then stay at the +Inf defaults a Link gets when it is created,
// since the REST API has no input for them.
type NoopDelaySource struct{}

func (NoopDelaySource) Delay() map[string]map[string]float64  { return nil }
func (NoopDelaySource) Jitter() map[string]map[string]float64 { return nil }
func (NoopDelaySource) MACDelay() map[string]float64          { return nil }
func (NoopDelaySource) MACJitter() map[string]float64         { return nil }

// StateUpdater owns the suppression window bookkeeping and the three
// periodic tick loops that keep Topology specs current.
type StateUpdater struct {
	topo   *topology.Topology
	bw     BandwidthSource
	delay  DelaySource
	hdelay HostDelaySource
	log    logging.Logger
	period time.Duration

	mu       sync.Mutex
	noUpdate map[string]time.Time
}

// New constructs a StateUpdater. bw/delay/hdelay may be nil if that data
// source isn't wired yet; the corresponding tick loop then becomes a no-op.
func New(topo *topology.Topology, bw BandwidthSource, delay DelaySource, hdelay HostDelaySource, period time.Duration, log logging.Logger) *StateUpdater {
	if log == nil {
		log = logging.Noop()
	}
	return &StateUpdater{
		topo:     topo,
		bw:       bw,
		delay:    delay,
		hdelay:   hdelay,
		log:      log,
		period:   period,
		noUpdate: make(map[string]time.Time),
	}
}

// UpdateNodeSpecs updates a Node's CPU/RAM/disk gauges. A nil *float64
// argument leaves that gauge unchanged, mirroring the original's
// None-means-no-update semantics.
func (s *StateUpdater) UpdateNodeSpecs(id string, cpuFree *float64, memFree *float64, diskFree *float64, timestamp time.Time) bool {
	node := s.topo.GetNode(id)
	if node == nil {
		return false
	}
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	node.Specs.Timestamp = timestamp
	if cpuFree != nil {
		node.Specs.CPUFree = *cpuFree
	}
	if memFree != nil {
		node.Specs.MemFree = *memFree
	}
	if diskFree != nil {
		node.Specs.DiskFree = *diskFree
	}
	return true
}

// UpdateInterfaceSpecs updates an Interface's bandwidth/packet counters and,
// transitively, the Link attached to it. Updating through this path marks
// node_id (every port of it) as API-suppressed, so the counter-derived
// bandwidth tick doesn't immediately clobber an externally-reported value.
// The mark is cleared by the first expiry tick (one every period + 1s) that
// finds it older than period + 1s (spec.md §13 Open Question (b)).
func (s *StateUpdater) UpdateInterfaceSpecs(nodeID string, ref topology.PortRef, bwUp, bwDown *float64, txPackets, rxPackets *uint64, timestamp time.Time) bool {
	iface := s.topo.GetInterface(nodeID, ref)
	if iface == nil {
		return false
	}
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	iface.Specs.Timestamp = timestamp
	if bwUp != nil {
		iface.Specs.BandwidthUp = *bwUp
	}
	if bwDown != nil {
		iface.Specs.BandwidthDown = *bwDown
	}
	if txPackets != nil {
		iface.Specs.TxPackets = *txPackets
	}
	if rxPackets != nil {
		iface.Specs.RxPackets = *rxPackets
	}

	s.mu.Lock()
	s.noUpdate[nodeID] = time.Now()
	s.mu.Unlock()

	s.UpdateLinkSpecsAtPort(nodeID, ref, bwUp, nil, txPackets, timestamp)
	return true
}

// UpdateLinkSpecs updates a Link's bandwidth/delay/jitter/loss-rate
// directly, identified by its endpoints.
func (s *StateUpdater) UpdateLinkSpecs(srcID, dstID string, bandwidth, delay, jitter, lossRate *float64, timestamp time.Time) bool {
	link := s.topo.GetLink(srcID, dstID)
	if link == nil {
		return false
	}
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	link.Specs.Timestamp = timestamp
	if bandwidth != nil {
		link.Specs.Bandwidth = *bandwidth
	}
	if delay != nil {
		link.Specs.Delay = *delay
	}
	if jitter != nil {
		link.Specs.Jitter = *jitter
	}
	if lossRate != nil {
		link.Specs.LossRate = *lossRate
	}
	return true
}

// UpdateLinkSpecsAtPort updates the Link attached to port_ref on src_id.
// Link bandwidth is the min of the source port's free egress bandwidth and
// the destination port's free ingress bandwidth (spec.md §3 invariant iv).
// Loss rate is taken verbatim if supplied, else derived from the tx/rx
// packet delta across the link, falling back to 1 (full loss) if tx_packets
// is zero (division by zero, spec.md §7).
func (s *StateUpdater) UpdateLinkSpecsAtPort(srcID string, ref topology.PortRef, bwUp, lossRate *float64, txPackets *uint64, timestamp time.Time) bool {
	link := s.topo.GetLinkAtPort(srcID, ref)
	if link == nil {
		return false
	}
	dst := link.DstPort
	if bwUp != nil {
		link.Specs.Bandwidth = minF(*bwUp, dst.Specs.BandwidthDown)
	}
	switch {
	case lossRate != nil:
		link.Specs.LossRate = *lossRate
	case txPackets != nil:
		if *txPackets == 0 {
			link.Specs.LossRate = 1
		} else {
			rx := dst.Specs.RxPackets
			tx := *txPackets
			lr := float64(0)
			if tx > rx {
				lr = float64(tx-rx) / float64(tx)
			}
			link.Specs.LossRate = lr
		}
	}
	link.Specs.Timestamp = timestamp
	return true
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Run starts the three periodic tick loops and the suppression-window
// expiry loop, blocking until ctx is cancelled.
func (s *StateUpdater) Run(ctx context.Context) {
	go s.runDelayJitter(ctx)
	go s.runBandwidthLossRate(ctx)
	go s.runLinkState(ctx)
	go s.runCheckUpdate(ctx)
	<-ctx.Done()
}

func (s *StateUpdater) runDelayJitter(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickDelayJitter()
		}
	}
}

func (s *StateUpdater) tickDelayJitter() {
	if s.delay != nil {
		delays := s.delay.Delay()
		jitters := s.delay.Jitter()
		for srcID, dsts := range delays {
			for dstID, d := range dsts {
				delay := d
				var jitter *float64
				if j, ok := jitters[srcID][dstID]; ok {
					jitter = &j
				}
				s.UpdateLinkSpecs(srcID, dstID, nil, &delay, jitter, nil, time.Now())
			}
		}
	}
	if s.hdelay != nil {
		delays := s.hdelay.MACDelay()
		jitters := s.hdelay.MACJitter()
		for mac, d := range delays {
			nodeIDAny := s.topo.GetByMAC(mac, "node_id")
			dpidAny := s.topo.GetByMAC(mac, "dpid")
			nodeID, _ := nodeIDAny.(string)
			dpid, _ := dpidAny.(string)
			if nodeID == "" || dpid == "" {
				continue
			}
			oneWay := d / 2
			var jitter1Way *float64
			if j, ok := jitters[mac]; ok {
				halved := j / 2
				jitter1Way = &halved
			}
			s.UpdateLinkSpecs(nodeID, dpid, nil, &oneWay, jitter1Way, nil, time.Now())
			s.UpdateLinkSpecs(dpid, nodeID, nil, &oneWay, jitter1Way, nil, time.Now())
		}
	}
}

func (s *StateUpdater) runBandwidthLossRate(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickBandwidthLossRate()
		}
	}
}

func (s *StateUpdater) tickBandwidthLossRate() {
	if s.bw == nil {
		return
	}
	bandwidths := s.bw.FreeBandwidth()
	lossRates := s.bw.LossRateAtPort()
	stats := s.bw.TxRxPackets()

	s.mu.Lock()
	suppressed := make(map[string]bool, len(s.noUpdate))
	for id := range s.noUpdate {
		suppressed[id] = true
	}
	s.mu.Unlock()

	for nodeID, ports := range bandwidths {
		if suppressed[nodeID] {
			continue
		}
		for portNo, updown := range ports {
			bwUp, bwDown := updown[0], updown[1]
			iface := s.topo.GetInterface(nodeID, topology.PortNum(portNo))
			if iface == nil {
				continue
			}
			iface.Specs.BandwidthUp = bwUp
			iface.Specs.BandwidthDown = bwDown
			key := PortKey{NodeID: nodeID, Port: portNo}
			var txP *uint64
			if tr, ok := stats[key]; ok {
				tx, rx := tr[0], tr[1]
				txP = &tx
				iface.Specs.TxPackets = tx
				iface.Specs.RxPackets = rx
			}
			var lr *float64
			if v, ok := lossRates[key]; ok {
				lr = &v
			}
			up := bwUp
			s.UpdateLinkSpecsAtPort(nodeID, topology.PortNum(portNo), &up, lr, txP, time.Now())
		}
	}
}

func (s *StateUpdater) runLinkState(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickLinkState()
		}
	}
}

func (s *StateUpdater) tickLinkState() {
	if s.bw == nil {
		return
	}
	feats := s.bw.PortFeatures()
	for nodeID, ports := range feats {
		for portNo, feat := range ports {
			fwd, rev := s.topo.GetLinksAtPort(nodeID, topology.PortNum(portNo))
			state := feat == PortLive
			if fwd != nil {
				fwd.State = state
			}
			if rev != nil {
				rev.State = state
			}
		}
	}
}

func (s *StateUpdater) runCheckUpdate(ctx context.Context) {
	period := s.period + time.Second
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for id, t := range s.noUpdate {
				if now.Sub(t) > period {
					delete(s.noUpdate, id)
				}
			}
			s.mu.Unlock()
		}
	}
}
