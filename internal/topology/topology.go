// Package topology owns the authoritative network graph: nodes, interfaces,
// and directed links, plus the reverse indices (MAC/IP -> interface, port
// name/number -> destination) that the selection engine and protocol need to
// resolve candidates quickly. A single RWMutex serializes writers; readers
// take snapshots (spec.md §5).
package topology

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/FayzaCH/fog-server/internal/logging"
	"github.com/FayzaCH/fog-server/model"
)

var (
	ErrNodeExists       = errors.New("topology: node already exists")
	ErrNodeNotFound     = errors.New("topology: node not found")
	ErrInterfaceExists  = errors.New("topology: interface already exists")
	ErrInterfaceInvalid = errors.New("topology: interface invalid")
	ErrLinkNotFound     = errors.New("topology: link not found")
	ErrLinkInvalid      = errors.New("topology: link invalid")
)

// PortRef identifies an Interface either by name or by number, mirroring the
// original's dual-keyed port_ref lookups.
type PortRef struct {
	name  string
	num   int
	isNum bool
}

// PortName builds a PortRef that resolves by interface name.
func PortName(name string) PortRef { return PortRef{name: name} }

// PortNum builds a PortRef that resolves by interface number.
func PortNum(num int) PortRef { return PortRef{num: num, isNum: true} }

func (r PortRef) String() string {
	if r.isNum {
		return fmt.Sprintf("#%d", r.num)
	}
	return r.name
}

// ifaceEntry is the payload of the MAC/IP reverse indices.
type ifaceEntry struct {
	NodeID   string
	Name     string
	MAC      string
	IPv4     string
	DPID     string
	PortName string
	PortNo   int
}

// Topology is the authoritative, concurrency-safe network graph.
type Topology struct {
	mu sync.RWMutex

	nodes map[string]*model.Node
	// edges[src][dst] = link
	edges map[string]map[string]*model.Link

	numToName    map[string]map[int]string    // nodeID -> port num -> name
	srcNameToDst map[string]map[string]string // nodeID -> port name -> dst id
	srcNumToDst  map[string]map[int]string    // nodeID -> port num -> dst id

	byMAC map[string]*ifaceEntry
	byIP  map[string]*ifaceEntry

	log logging.Logger
}

// New constructs an empty Topology.
func New(log logging.Logger) *Topology {
	if log == nil {
		log = logging.Noop()
	}
	return &Topology{
		nodes:        make(map[string]*model.Node),
		edges:        make(map[string]map[string]*model.Link),
		numToName:    make(map[string]map[int]string),
		srcNameToDst: make(map[string]map[string]string),
		srcNumToDst:  make(map[string]map[int]string),
		byMAC:        make(map[string]*ifaceEntry),
		byIP:         make(map[string]*ifaceEntry),
		log:          log,
	}
}

// AddNode creates a Node and adds it to the graph. threshold defaults to 1
// (full headroom enforcement off) when negative.
func (t *Topology) AddNode(id string, state bool, typ model.NodeType, label string, threshold float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.nodes[id]; ok {
		return ErrNodeExists
	}
	n := model.NewNode(id, state, typ, label)
	if threshold >= 0 {
		n.Threshold = threshold
	}
	t.nodes[id] = n
	return nil
}

// DeleteNode removes a Node along with its Interfaces (and their MAC/IP
// reverse entries) and every incident Link, in both directions (spec.md §3
// invariant i, §8 testable property).
func (t *Topology) DeleteNode(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deleteNodeLocked(id)
}

func (t *Topology) deleteNodeLocked(id string) {
	node, ok := t.nodes[id]
	if !ok {
		return
	}
	for _, iface := range node.Interfaces {
		if iface.MAC != "" {
			delete(t.byMAC, iface.MAC)
		}
		if iface.IPv4 != "" {
			delete(t.byIP, iface.IPv4)
		}
	}
	// remove incident edges in both directions
	delete(t.edges, id)
	for src, dsts := range t.edges {
		delete(dsts, id)
		_ = src
	}
	delete(t.numToName, id)
	delete(t.srcNameToDst, id)
	delete(t.srcNumToDst, id)
	delete(t.nodes, id)
}

// GetNode returns the Node identified by id, nil if unknown.
func (t *Topology) GetNode(id string) *model.Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[id]
}

// GetNodes returns a snapshot copy of all known nodes.
func (t *Topology) GetNodes() map[string]*model.Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]*model.Node, len(t.nodes))
	for id, n := range t.nodes {
		out[id] = n
	}
	return out
}

// GetInterface resolves an Interface by name or number on a given node.
func (t *Topology) GetInterface(nodeID string, ref PortRef) *model.Interface {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.getInterfaceLocked(nodeID, ref)
}

func (t *Topology) getInterfaceLocked(nodeID string, ref PortRef) *model.Interface {
	node, ok := t.nodes[nodeID]
	if !ok {
		return nil
	}
	name := ref.name
	if ref.isNum {
		if n, ok := t.numToName[nodeID][ref.num]; ok {
			name = n
		} else {
			return nil
		}
	}
	return node.Interfaces[name]
}

// AddInterface creates an Interface on node_id. Returns ErrNodeNotFound if
// node_id is unknown.
func (t *Topology) AddInterface(nodeID, name string, num int, mac, ipv4 string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[nodeID]
	if !ok {
		return ErrNodeNotFound
	}
	iface := &model.Interface{Name: name, Num: num, MAC: mac, IPv4: ipv4}
	node.Interfaces[name] = iface

	if t.numToName[nodeID] == nil {
		t.numToName[nodeID] = make(map[int]string)
	}
	t.numToName[nodeID][num] = name

	if mac != "" {
		t.byMAC[mac] = &ifaceEntry{NodeID: nodeID, Name: name, IPv4: ipv4, PortName: name, PortNo: num}
	}
	if ipv4 != "" {
		t.byIP[ipv4] = &ifaceEntry{NodeID: nodeID, Name: name, MAC: mac, PortName: name, PortNo: num}
	}
	return nil
}

// DeleteInterface removes an Interface and the Links at both directions
// whose port has that name.
func (t *Topology) DeleteInterface(nodeID, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[nodeID]
	if !ok {
		return
	}
	if iface, ok := node.Interfaces[name]; ok {
		if iface.MAC != "" {
			delete(t.byMAC, iface.MAC)
		}
		if iface.IPv4 != "" {
			delete(t.byIP, iface.IPv4)
		}
	}
	delete(node.Interfaces, name)

	if dstID, ok := t.srcNameToDst[nodeID][name]; ok {
		t.deleteLinkLocked(nodeID, dstID)
		t.deleteLinkLocked(dstID, nodeID)
	}
}

// GetLink returns the directed Link from src to dst, nil if none.
func (t *Topology) GetLink(src, dst string) *model.Link {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.getLinkLocked(src, dst)
}

func (t *Topology) getLinkLocked(src, dst string) *model.Link {
	return t.edges[src][dst]
}

// AddLink creates a directed Link from src to dst using the named ports.
// Fails (returns an error) if either node or either port is unknown.
// Link.Capacity is derived per spec.md §3 invariant iv at creation time.
func (t *Topology) AddLink(src, dst, srcPortName, dstPortName string, state bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	srcPort := t.getInterfaceLocked(src, PortName(srcPortName))
	if srcPort == nil {
		return ErrLinkInvalid
	}
	dstPort := t.getInterfaceLocked(dst, PortName(dstPortName))
	if dstPort == nil {
		return ErrLinkInvalid
	}

	link := &model.Link{SrcPort: srcPort, DstPort: dstPort, State: state, Specs: model.NewLinkSpecs()}
	link.Specs.Capacity = minF(srcPort.Specs.Capacity, dstPort.Specs.Capacity)
	link.Specs.Bandwidth = minF(srcPort.Specs.BandwidthUp, dstPort.Specs.BandwidthDown)
	link.Specs.Timestamp = time.Now()

	if t.edges[src] == nil {
		t.edges[src] = make(map[string]*model.Link)
	}
	t.edges[src][dst] = link

	if t.srcNameToDst[src] == nil {
		t.srcNameToDst[src] = make(map[string]string)
	}
	t.srcNameToDst[src][srcPortName] = dst
	if t.srcNumToDst[src] == nil {
		t.srcNumToDst[src] = make(map[int]string)
	}
	t.srcNumToDst[src][srcPort.Num] = dst
	return nil
}

// DeleteLink removes the directed Link from src to dst.
func (t *Topology) DeleteLink(src, dst string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deleteLinkLocked(src, dst)
}

func (t *Topology) deleteLinkLocked(src, dst string) {
	if dsts, ok := t.edges[src]; ok {
		delete(dsts, dst)
	}
	for name, d := range t.srcNameToDst[src] {
		if d == dst {
			delete(t.srcNameToDst[src], name)
		}
	}
	for num, d := range t.srcNumToDst[src] {
		if d == dst {
			delete(t.srcNumToDst[src], num)
		}
	}
}

// GetLinks returns a nested snapshot of all Links, keyed by src then dst id.
func (t *Topology) GetLinks() map[string]map[string]*model.Link {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]map[string]*model.Link, len(t.edges))
	for src, dsts := range t.edges {
		m := make(map[string]*model.Link, len(dsts))
		for dst, link := range dsts {
			m[dst] = link
		}
		out[src] = m
	}
	return out
}

// GetDstAtPort returns the Node at the far end of the link attached to
// port_ref on src_id, nil if none.
func (t *Topology) GetDstAtPort(srcID string, ref PortRef) *model.Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.getDstAtPortLocked(srcID, ref)
}

func (t *Topology) getDstAtPortLocked(srcID string, ref PortRef) *model.Node {
	var dstID string
	var ok bool
	if ref.isNum {
		dstID, ok = t.srcNumToDst[srcID][ref.num]
	} else {
		dstID, ok = t.srcNameToDst[srcID][ref.name]
	}
	if !ok {
		return nil
	}
	return t.nodes[dstID]
}

// GetLinkAtPort returns the one-way Link attached to port_ref on src_id.
func (t *Topology) GetLinkAtPort(srcID string, ref PortRef) *model.Link {
	t.mu.RLock()
	defer t.mu.RUnlock()
	dst := t.getDstAtPortLocked(srcID, ref)
	if dst == nil {
		return nil
	}
	return t.getLinkLocked(srcID, dst.ID)
}

// GetLinksAtPort returns both directions of the Link attached to port_ref on
// src_id.
func (t *Topology) GetLinksAtPort(srcID string, ref PortRef) (fwd, rev *model.Link) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	dst := t.getDstAtPortLocked(srcID, ref)
	if dst == nil {
		return nil, nil
	}
	return t.getLinkLocked(srcID, dst.ID), t.getLinkLocked(dst.ID, srcID)
}

// GetByMAC returns the given attribute ('node_id', 'name', 'ipv4', 'dpid',
// 'port_name', 'port_no') of the interface identified by mac.
func (t *Topology) GetByMAC(mac, attr string) any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byMAC[mac]
	if !ok {
		return nil
	}
	return attrOf(e, attr)
}

// GetByIP returns the given attribute of the interface identified by ipv4.
func (t *Topology) GetByIP(ipv4, attr string) any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byIP[ipv4]
	if !ok {
		return nil
	}
	return attrOf(e, attr)
}

func attrOf(e *ifaceEntry, attr string) any {
	switch attr {
	case "node_id":
		return e.NodeID
	case "name":
		return e.Name
	case "mac":
		return e.MAC
	case "ipv4":
		return e.IPv4
	case "dpid":
		return e.DPID
	case "port_name":
		return e.PortName
	case "port_no":
		return e.PortNo
	default:
		return nil
	}
}

// SetMainInterface designates the Interface used to address a host as a
// peer.
func (t *Topology) SetMainInterface(nodeID, name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	node, ok := t.nodes[nodeID]
	if !ok {
		return false
	}
	iface, ok := node.Interfaces[name]
	if !ok {
		return false
	}
	node.MainInterface = iface
	return true
}

// SetDPIDForMAC annotates the reverse index entry for mac with the switch
// attachment point (dpid, port name, port number) of its host, so
// GetByMAC(mac, "dpid") resolves; an entry holding only the MAC is created
// when mac is not yet known. The south-bound host-add/host-move handlers
// call it, and the host-link stitcher reads the dpid it records.
func (t *Topology) SetDPIDForMAC(mac, dpid, portName string, portNo int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byMAC[mac]
	if !ok {
		e = &ifaceEntry{}
		t.byMAC[mac] = e
	}
	e.DPID = dpid
	e.PortName = portName
	e.PortNo = portNo
}

// RunHostLinkStitcher runs forever (until ctx is cancelled), inspecting all
// known host MACs whose (node_id, dpid) are both present in the graph and
// adding the two directed host<->switch Links if missing (spec.md §4.1).
func (t *Topology) RunHostLinkStitcher(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.stitchOnce()
		}
	}
}

func (t *Topology) stitchOnce() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for mac, e := range t.byMAC {
		if e.DPID == "" {
			continue
		}
		nodeID := e.NodeID
		dpid := e.DPID
		if _, ok := t.nodes[nodeID]; !ok {
			continue
		}
		if _, ok := t.nodes[dpid]; !ok {
			continue
		}
		name := e.Name
		portName := e.PortName
		if t.getLinkLocked(nodeID, dpid) == nil {
			if err := t.addLinkLockedWithMutex(nodeID, dpid, name, portName, false); err != nil {
				t.log.Warn(context.Background(), "host-link stitch forward failed", logging.String("mac", mac), logging.String("err", err.Error()))
			}
		}
		if t.getLinkLocked(dpid, nodeID) == nil {
			if err := t.addLinkLockedWithMutex(dpid, nodeID, portName, name, false); err != nil {
				t.log.Warn(context.Background(), "host-link stitch reverse failed", logging.String("mac", mac), logging.String("err", err.Error()))
			}
		}
	}
}

// addLinkLockedWithMutex adds a link while t.mu is already held (stitchOnce
// holds the write lock for the whole pass to keep the scan consistent).
func (t *Topology) addLinkLockedWithMutex(src, dst, srcPortName, dstPortName string, state bool) error {
	srcPort := t.getInterfaceLocked(src, PortName(srcPortName))
	if srcPort == nil {
		return ErrLinkInvalid
	}
	dstPort := t.getInterfaceLocked(dst, PortName(dstPortName))
	if dstPort == nil {
		return ErrLinkInvalid
	}
	link := &model.Link{SrcPort: srcPort, DstPort: dstPort, State: state, Specs: model.NewLinkSpecs()}
	link.Specs.Capacity = minF(srcPort.Specs.Capacity, dstPort.Specs.Capacity)
	link.Specs.Timestamp = time.Now()
	if t.edges[src] == nil {
		t.edges[src] = make(map[string]*model.Link)
	}
	t.edges[src][dst] = link
	if t.srcNameToDst[src] == nil {
		t.srcNameToDst[src] = make(map[string]string)
	}
	t.srcNameToDst[src][srcPortName] = dst
	if t.srcNumToDst[src] == nil {
		t.srcNumToDst[src] = make(map[int]string)
	}
	t.srcNumToDst[src][srcPort.Num] = dst
	return nil
}

// RunHeartbeatChecker runs forever (until ctx is cancelled), pruning any
// non-switch node whose id has not pinged (per isAlive) within timeout.
func (t *Topology) RunHeartbeatChecker(ctx context.Context, timeout time.Duration, isAlive func(id string) bool) {
	ticker := time.NewTicker(timeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.pruneDisconnected(isAlive)
		}
	}
}

func (t *Topology) pruneDisconnected(isAlive func(id string) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, n := range t.nodes {
		if n.Type == model.NodeTypeSwitch || n.Type == model.NodeTypeRouter {
			continue
		}
		if !isAlive(id) {
			t.log.Warn(context.Background(), "pruning disconnected node", logging.String("node_id", id))
			t.deleteNodeLocked(id)
		}
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
