package protocol

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/FayzaCH/fog-server/internal/logging"
	"github.com/FayzaCH/fog-server/internal/observability"
	"github.com/FayzaCH/fog-server/internal/recorder"
	"github.com/FayzaCH/fog-server/internal/selection"
	"github.com/FayzaCH/fog-server/internal/topology"
	"github.com/FayzaCH/fog-server/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Sender issues an outbound frame toward a candidate host — the south-bound
// adapter's packet-out contract (spec.md §6). It is consumed, not
// implemented, by this package.
type Sender interface {
	SendFrame(ctx context.Context, dstMAC, dstIP string, frame *Frame) error
}

// FlowInstaller commits the forward/reverse flow rules for a chosen path
// (spec.md §4.5). It is consumed, not implemented, by this package.
type FlowInstaller interface {
	InstallPath(ctx context.Context, path []string, srcMAC, srcIP, dstMAC, dstIP string) error
	SuppressFlood(ctx context.Context, srcMAC, hostMAC string)
}

// ResourceDebiter applies a chosen host's CoS resource debit through the
// State Updater, as spec.md line 99 requires ("(through State Updater)").
// It is consumed, not implemented, by this package.
type ResourceDebiter interface {
	UpdateNodeSpecs(id string, cpuFree, memFree, diskFree *float64, timestamp time.Time) bool
}

// ReplyKey identifies one outstanding reply rendezvous: a source, a
// request, and the candidate it was sent to (spec.md §5).
type ReplyKey struct {
	SrcIP        string
	ReqID        string
	CandidateMAC string
}

// rendezvous is the keyed one-shot event registry awaiting timed replies.
type rendezvous struct {
	mu      sync.Mutex
	waiters map[ReplyKey]chan *Frame
}

func newRendezvous() *rendezvous {
	return &rendezvous{waiters: make(map[ReplyKey]chan *Frame)}
}

func (r *rendezvous) register(key ReplyKey) chan *Frame {
	ch := make(chan *Frame, 1)
	r.mu.Lock()
	r.waiters[key] = ch
	r.mu.Unlock()
	return ch
}

func (r *rendezvous) cancel(key ReplyKey) {
	r.mu.Lock()
	delete(r.waiters, key)
	r.mu.Unlock()
}

func (r *rendezvous) deliver(key ReplyKey, f *Frame) bool {
	r.mu.Lock()
	ch, ok := r.waiters[key]
	if ok {
		delete(r.waiters, key)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	ch <- f
	return true
}

// reqKey identifies a Request by its source IP and request id.
type reqKey struct {
	srcIP string
	reqID string
}

// Config bundles the protocol-level parameters of spec.md §6's
// ORCHESTRATOR_*/PROTOCOL_* configuration groups.
type Config struct {
	DecoyMAC          string
	DecoyIP           string
	DefaultAddr       string
	OrchestratorPaths bool
	NodeAlgorithm     string
	PathAlgorithm     string
	PathWeight        string
	ProtoTimeout      time.Duration
	ProtoRetries      int
}

// Protocol is the authoritative decision loop: it owns the HREQ<->RREQ<->HRES
// transitions on the server side and forwards DACK/DCAN frames unchanged to
// the chosen host (spec.md §4.4). Other data-phase frames (DREQ, DRES and
// the rest) are logged as unhandled and not forwarded.
type Protocol struct {
	cfg Config

	topo     *topology.Topology
	nodeSel  *selection.NodeSelector
	pathSel  *selection.PathSelector
	cosTable map[uint32]*model.CoS

	sender   Sender
	flows    FlowInstaller
	debiter  ResourceDebiter
	recorder recorder.Recorder
	log      logging.Logger

	rv *rendezvous

	mu       sync.Mutex
	requests map[reqKey]*model.Request
}

// New constructs a Protocol. cosTable maps numeric CoS ids to their
// definitions, used to resolve a frame's cos_id. debiter may be nil, in
// which case a chosen host's resources are left untouched.
func New(cfg Config, topo *topology.Topology, cosTable map[uint32]*model.CoS, sender Sender, flows FlowInstaller, debiter ResourceDebiter, rec recorder.Recorder, log logging.Logger) *Protocol {
	if log == nil {
		log = logging.Noop()
	}
	return &Protocol{
		cfg:      cfg,
		topo:     topo,
		nodeSel:  selection.NewNodeSelector(cfg.NodeAlgorithm, log),
		pathSel:  selection.NewPathSelector(cfg.PathAlgorithm, log),
		cosTable: cosTable,
		sender:   sender,
		flows:    flows,
		debiter:  debiter,
		recorder: rec,
		log:      log,
		rv:       newRendezvous(),
		requests: make(map[reqKey]*model.Request),
	}
}

// HandleInboundFrame is the south-bound adapter's entrypoint for a
// packet-in carrying a Host-Request Protocol frame. dstMAC/dstIP/srcMAC are
// read from the Ethernet/IP encapsulation; f.SrcIP is the frame's own
// payload source (may differ from the encapsulating IP header for
// forwarded DACK/DCAN).
func (p *Protocol) HandleInboundFrame(ctx context.Context, f *Frame, dstMAC, dstIP, srcMAC string) {
	if !Valid(f, dstMAC, dstIP, srcMAC, f.SrcIP, p.cfg.DecoyMAC, p.cfg.DecoyIP, p.cfg.DefaultAddr) {
		p.log.Warn(ctx, "rejected invalid protocol frame", logging.String("req_id", safeReqID(f)))
		return
	}

	switch f.State {
	case StateHREQ:
		p.handleHREQ(ctx, f, srcMAC)
	case StateRRES:
		p.handleRRES(ctx, f)
	case StateRCAN:
		p.handleRCAN(ctx, f)
	case StateDACK, StateDCAN:
		p.handlePassThrough(ctx, f)
	default:
		p.log.Warn(ctx, "unhandled frame state at orchestrator", logging.String("state", f.State.String()))
	}
}

func safeReqID(f *Frame) string {
	if f == nil {
		return ""
	}
	return f.ReqID
}

func (p *Protocol) getRequest(srcIP, reqID string) *model.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[reqKey{srcIP: srcIP, reqID: reqID}]
}

func (p *Protocol) putRequest(r *model.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests[reqKey{srcIP: r.SrcIP, reqID: r.ID}] = r
}

// Requests returns a snapshot of every Request this Protocol is currently
// tracking, for GET /request introspection (spec.md §6).
func (p *Protocol) Requests() []*model.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*model.Request, 0, len(p.requests))
	for _, r := range p.requests {
		out = append(out, r)
	}
	return out
}

// ErrRequestConflict is returned by PutRequest when an externally-pushed
// Request snapshot is stale relative to the one already tracked (spec.md §6
// REST "303 conflict").
var ErrRequestConflict = errors.New("protocol: request snapshot is stale")

// PutRequest records an externally-pushed Request snapshot (REST
// POST /request), rejecting it if a Request with the same key already
// exists at an equal or further-along state than the snapshot claims.
func (p *Protocol) PutRequest(r *model.Request) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("protocol: request id is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := reqKey{srcIP: r.SrcIP, reqID: r.ID}
	if existing, ok := p.requests[key]; ok && existing.State >= r.State {
		return ErrRequestConflict
	}
	p.requests[key] = r
	return nil
}

// handleHREQ implements spec.md §4.4 "HREQ from source S".
func (p *Protocol) handleHREQ(ctx context.Context, f *Frame, srcMAC string) {
	req := p.getRequest(f.SrcIP, f.ReqID)
	if req == nil {
		node := p.topo.GetNode(f.SrcIP)
		req = &model.Request{ID: f.ReqID, Src: node, SrcIP: f.SrcIP, State: model.ReqHREQ}
		p.putRequest(req)
	}
	if req.State != model.ReqHREQ && req.State != model.ReqHRES {
		return
	}
	if f.HasCoSID {
		req.CoS = p.cosTable[f.CoSID]
	}
	req.Host = ""
	req.HostMACIP = [2]string{}
	req.State = model.ReqRREQ
	req.NewAttempt()

	go p.place(context.WithoutCancel(ctx), req)
}

// place is the placement coroutine of spec.md §4.4.
func (p *Protocol) place(ctx context.Context, req *model.Request) {
	ctx, span := observability.Tracer().Start(ctx, "protocol.place",
		trace.WithAttributes(attribute.String("req_id", req.ID), attribute.String("src_ip", req.SrcIP)))
	defer span.End()

	nodes := p.topo.GetNodes()
	nodeList := make([]*model.Node, 0, len(nodes))
	for _, n := range nodes {
		nodeList = append(nodeList, n)
	}
	hosts := p.nodeSel.Select(ctx, nodeList, req, selection.StrategyALL)
	if len(hosts) == 0 {
		req.State = model.ReqHREQ
		p.log.Info(ctx, "no hosts satisfy request", logging.String("req_id", req.ID))
		return
	}

	candidates := p.candidateOrder(ctx, req, hosts)
	if p.recorder != nil {
		p.recorder.RecordHosts(req, hosts)
	}

	for _, c := range candidates {
		if req.State != model.ReqRREQ {
			return
		}
		if !p.tryCandidate(ctx, req, c) {
			continue
		}
		return // HRES was reached; tryCandidate already advanced state
	}

	if req.State == model.ReqRREQ {
		req.State = model.ReqHREQ
		p.log.Info(ctx, "exhausted candidates, reverting to HREQ", logging.String("req_id", req.ID))
	}
}

// candidate is one host (and, if orchestrator-paths is enabled, path) this
// Request may be offered to, in the order it should be tried.
type candidate struct {
	host    *model.Node
	hostMAC string
	hostIP  string
	path    []string
}

func (p *Protocol) candidateOrder(ctx context.Context, req *model.Request, hosts []*model.Node) []candidate {
	if !p.cfg.OrchestratorPaths {
		out := make([]candidate, 0, len(hosts))
		for _, h := range hosts {
			if h.MainInterface == nil {
				continue
			}
			out = append(out, candidate{host: h, hostMAC: h.MainInterface.MAC, hostIP: h.MainInterface.IPv4})
		}
		return out
	}

	targets := make([]string, 0, len(hosts))
	byID := make(map[string]*model.Node, len(hosts))
	for _, h := range hosts {
		targets = append(targets, h.ID)
		byID[h.ID] = h
	}
	paths := p.pathSel.Select(ctx, p.topo, targets, req, p.cfg.PathWeight, selection.StrategyALL)
	if p.recorder != nil {
		p.recorder.RecordPaths(req, paths)
	}
	sort.SliceStable(paths, func(i, j int) bool { return paths[i].Length < paths[j].Length })

	out := make([]candidate, 0, len(paths))
	for _, pc := range paths {
		host := byID[pc.Target]
		if host == nil || len(pc.Nodes) < 2 {
			continue
		}
		link := p.topo.GetLink(pc.Nodes[len(pc.Nodes)-2], pc.Nodes[len(pc.Nodes)-1])
		if link == nil || link.DstPort == nil {
			continue
		}
		out = append(out, candidate{host: host, hostMAC: link.DstPort.MAC, hostIP: link.DstPort.IPv4, path: pc.Nodes})
	}
	return out
}

// tryCandidate runs the RREQ retry loop for one candidate and, on success,
// completes the HRES handshake. It returns true once the Request has been
// placed on this candidate or ctx is done; it returns false when the
// candidate's retries run out, on RCAN, or when the RREQ cannot be sent, so
// the caller moves on to the next candidate.
func (p *Protocol) tryCandidate(ctx context.Context, req *model.Request, c candidate) bool {
	attempt := req.Attempts[req.CurrentAttemptNo()]
	srcMAC, srcIP := "", req.SrcIP
	if req.Src != nil && req.Src.MainInterface != nil {
		srcMAC = req.Src.MainInterface.MAC
	}

	key := ReplyKey{SrcIP: req.SrcIP, ReqID: req.ID, CandidateMAC: c.hostMAC}
	retries := p.cfg.ProtoRetries
	for retries > 0 && req.State == model.ReqRREQ {
		ch := p.rv.register(key)
		frame := &Frame{State: StateRREQ, ReqID: req.ID, AttemptNo: uint32(attempt.AttemptNo), SrcMAC: srcMAC, SrcIP: srcIP}
		if err := p.sender.SendFrame(ctx, c.hostMAC, c.hostIP, frame); err != nil {
			p.log.Warn(ctx, "failed to send RREQ", logging.String("req_id", req.ID), logging.String("err", err.Error()))
			p.rv.cancel(key)
			return false
		}

		select {
		case reply := <-ch:
			switch reply.State {
			case StateRRES:
				return p.onRRES(ctx, req, attempt, c, srcMAC, srcIP)
			case StateRCAN:
				return false
			}
		case <-time.After(p.cfg.ProtoTimeout):
			p.rv.cancel(key)
			retries--
		case <-ctx.Done():
			p.rv.cancel(key)
			return true
		}
	}
	return false
}

// onRRES completes spec.md §4.4 step 4 once a candidate has accepted.
func (p *Protocol) onRRES(ctx context.Context, req *model.Request, attempt *model.Attempt, c candidate, srcMAC, srcIP string) bool {
	if req.Host != "" {
		// already chosen a host on a concurrent path; cancel this one
		p.sender.SendFrame(ctx, c.hostMAC, c.hostIP, &Frame{State: StateRCAN, ReqID: req.ID, AttemptNo: uint32(attempt.AttemptNo), SrcMAC: srcMAC, SrcIP: srcIP})
		return false
	}
	attempt.RResAt = time.Now()
	req.Host = c.host.ID
	req.HostMACIP = [2]string{c.hostMAC, c.hostIP}
	req.State = model.ReqHRES
	req.Path = c.path

	if req.CoS != nil && p.debiter != nil {
		cpu := c.host.Specs.CPUFree - req.CoS.Specs.MinCPU
		mem := c.host.Specs.MemFree - req.CoS.Specs.MinRAM
		disk := c.host.Specs.DiskFree - req.CoS.Specs.MinDisk
		p.debiter.UpdateNodeSpecs(c.host.ID, &cpu, &mem, &disk, time.Time{})
	}

	p.sender.SendFrame(ctx, c.hostMAC, c.hostIP, &Frame{State: StateRACK, ReqID: req.ID, AttemptNo: uint32(attempt.AttemptNo), SrcMAC: srcMAC, SrcIP: srcIP})
	p.sender.SendFrame(ctx, srcMAC, srcIP, &Frame{State: StateHRES, ReqID: req.ID, AttemptNo: uint32(attempt.AttemptNo), HostMAC: c.hostMAC, HostIP: c.hostIP})

	if p.cfg.OrchestratorPaths && len(c.path) > 0 && p.flows != nil {
		if err := p.flows.InstallPath(ctx, c.path, srcMAC, req.SrcIP, c.hostMAC, c.hostIP); err != nil {
			p.log.Error(ctx, "flow install failed", logging.String("req_id", req.ID), logging.String("err", err.Error()))
		}
		p.flows.SuppressFlood(ctx, srcMAC, c.hostMAC)
	}
	return true
}

// handleRRES delivers an RRES to its waiting placement coroutine, if any.
// A late RRES from a non-chosen candidate (req.host already set) is
// answered with RCAN per spec.md §4.4 step 5.
func (p *Protocol) handleRRES(ctx context.Context, f *Frame) {
	req := p.getRequest(f.SrcIP, f.ReqID)
	if req == nil {
		return
	}
	key := ReplyKey{SrcIP: f.SrcIP, ReqID: f.ReqID, CandidateMAC: f.SrcMAC}
	if p.rv.deliver(key, f) {
		return
	}
	if req.Host != "" {
		p.sender.SendFrame(ctx, f.SrcMAC, f.SrcIP, &Frame{State: StateRCAN, ReqID: f.ReqID, AttemptNo: f.AttemptNo})
	}
}

func (p *Protocol) handleRCAN(ctx context.Context, f *Frame) {
	key := ReplyKey{SrcIP: f.SrcIP, ReqID: f.ReqID, CandidateMAC: f.SrcMAC}
	p.rv.deliver(key, f)
}

// handlePassThrough forwards DACK/DCAN to host_mac@host_ip for a known
// Request, per spec.md §4.4.
func (p *Protocol) handlePassThrough(ctx context.Context, f *Frame) {
	req := p.getRequest(f.SrcIP, f.ReqID)
	if req == nil {
		p.log.Warn(ctx, "pass-through frame for unknown request", logging.String("req_id", f.ReqID))
		return
	}
	if err := p.sender.SendFrame(ctx, req.HostMACIP[0], req.HostMACIP[1], f); err != nil {
		p.log.Warn(ctx, "pass-through send failed", logging.String("req_id", f.ReqID), logging.String("err", err.Error()))
	}
}
