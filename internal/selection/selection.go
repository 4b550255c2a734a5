// Package selection implements the Selection Engine's strategy-driven node
// and path selectors (spec.md §4.3). Algorithms are chosen by name at
// runtime and fail soft to a default when the name is unrecognized.
package selection

import (
	"container/heap"
	"context"
	"math"
	"sort"

	"github.com/FayzaCH/fog-server/internal/logging"
	"github.com/FayzaCH/fog-server/internal/observability"
	"github.com/FayzaCH/fog-server/internal/topology"
	"github.com/FayzaCH/fog-server/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Node algorithm names.
const (
	NodeSIMPLE = "SIMPLE"
)

// Path algorithm names.
const (
	PathDIJKSTRA = "DIJKSTRA"
	PathLEASTCOST = "LEASTCOST"
)

// Path weight names.
const (
	WeightHOP   = "HOP"
	WeightDELAY = "DELAY"
	WeightCOST  = "COST"
)

// Strategy controls how many results a selector returns.
type Strategy string

const (
	StrategyALL   Strategy = "ALL"
	StrategyFIRST Strategy = "FIRST"
	StrategyBEST  Strategy = "BEST"
)

// NodeSelector selects candidate host Nodes for a Request.
type NodeSelector struct {
	algorithm string
	log       logging.Logger
}

// NewNodeSelector builds a NodeSelector for algorithm, falling back to
// SIMPLE (with a warning) when algorithm is unrecognized.
func NewNodeSelector(algorithm string, log logging.Logger) *NodeSelector {
	if log == nil {
		log = logging.Noop()
	}
	if algorithm == "" {
		algorithm = NodeSIMPLE
	}
	if algorithm != NodeSIMPLE {
		log.Warn(context.Background(), "unknown node selection algorithm, falling back to SIMPLE", logging.String("algorithm", algorithm))
		algorithm = NodeSIMPLE
	}
	return &NodeSelector{algorithm: algorithm, log: log}
}

// Select returns the Nodes from nodes that satisfy req's CoS requirements,
// per the chosen strategy.
func (s *NodeSelector) Select(ctx context.Context, nodes []*model.Node, req *model.Request, strategy Strategy) []*model.Node {
	_, span := observability.Tracer().Start(ctx, "selection.NodeSelector.Select",
		trace.WithAttributes(attribute.String("algorithm", s.algorithm), attribute.String("req_id", req.ID)))
	defer span.End()

	if strategy == "" {
		strategy = StrategyALL
	}
	var out []*model.Node
	for _, n := range nodes {
		if !nodeSatisfies(n, req) {
			continue
		}
		out = append(out, n)
		if strategy == StrategyFIRST {
			return out
		}
	}
	switch strategy {
	case StrategyALL, StrategyFIRST:
		return out
	default:
		s.log.Warn(context.Background(), "unsupported node selection strategy", logging.String("strategy", string(strategy)))
		return nil
	}
}

func nodeSatisfies(n *model.Node, req *model.Request) bool {
	if req.Src != nil && n.ID == req.Src.ID {
		return false
	}
	if !n.State {
		return false
	}
	cos := req.CoS
	if cos == nil {
		return true
	}
	if n.Specs.CPUFree-cos.Specs.MinCPU < float64(n.Specs.CPUCount)*n.Threshold {
		return false
	}
	if n.Specs.MemFree-cos.Specs.MinRAM < n.Specs.MemTotal*n.Threshold {
		return false
	}
	if n.Specs.DiskFree-cos.Specs.MinDisk < n.Specs.DiskTotal*n.Threshold {
		return false
	}
	return true
}

// PathCandidate is one path offered by a PathSelector.
type PathCandidate struct {
	Target string
	Nodes  []string
	Links  []*model.Link
	Length float64 // HOP/DELAY: accumulated weight; LEASTCOST: cost
}

// PathSelector selects candidate Paths from a Request's source to one or
// more target Nodes.
type PathSelector struct {
	algorithm string
	log       logging.Logger
}

// NewPathSelector builds a PathSelector for algorithm, falling back to
// DIJKSTRA (with a warning) when algorithm is unrecognized.
func NewPathSelector(algorithm string, log logging.Logger) *PathSelector {
	if log == nil {
		log = logging.Noop()
	}
	if algorithm == "" {
		algorithm = PathDIJKSTRA
	}
	if algorithm != PathDIJKSTRA && algorithm != PathLEASTCOST {
		log.Warn(context.Background(), "unknown path selection algorithm, falling back to DIJKSTRA", logging.String("algorithm", algorithm))
		algorithm = PathDIJKSTRA
	}
	return &PathSelector{algorithm: algorithm, log: log}
}

// Select computes paths from req.Src.ID (via the live topology t) to each of
// targets, per the chosen algorithm/weight/strategy.
func (s *PathSelector) Select(ctx context.Context, t *topology.Topology, targets []string, req *model.Request, weight string, strategy Strategy) []PathCandidate {
	_, span := observability.Tracer().Start(ctx, "selection.PathSelector.Select",
		trace.WithAttributes(attribute.String("algorithm", s.algorithm), attribute.String("weight", weight), attribute.String("req_id", req.ID)))
	defer span.End()

	if strategy == "" {
		strategy = StrategyALL
	}
	switch s.algorithm {
	case PathLEASTCOST:
		return s.selectLeastCost(t, targets, req, strategy)
	default:
		return s.selectDijkstra(t, targets, req, weight, strategy)
	}
}

type dijkstraItem struct {
	id   string
	dist float64
}
type dijkstraHeap []dijkstraItem

func (h dijkstraHeap) Len() int            { return len(h) }
func (h dijkstraHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h dijkstraHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *dijkstraHeap) Push(x interface{}) { *h = append(*h, x.(dijkstraItem)) }
func (h *dijkstraHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// selectDijkstra runs single-source Dijkstra from req.Src.ID over t's live
// graph, with edge weight 1 (HOP) or link.delay (DELAY). Under DELAY, a
// cutoff at req.CoS.MaxDelay prunes exploration early.
func (s *PathSelector) selectDijkstra(t *topology.Topology, targets []string, req *model.Request, weight string, strategy Strategy) []PathCandidate {
	if weight == "" {
		weight = WeightHOP
	}
	var cutoff = math.Inf(1)
	if weight == WeightDELAY && req.CoS != nil {
		cutoff = req.CoS.Specs.MaxDelay
	}

	src := req.SrcIP
	if req.Src != nil {
		src = req.Src.ID
	}

	links := t.GetLinks()
	dist := map[string]float64{src: 0}
	prev := map[string]string{}
	visited := map[string]bool{}

	h := &dijkstraHeap{{id: src, dist: 0}}
	heap.Init(h)
	for h.Len() > 0 {
		cur := heap.Pop(h).(dijkstraItem)
		if visited[cur.id] {
			continue
		}
		visited[cur.id] = true
		for dst, link := range links[cur.id] {
			if !link.State {
				continue
			}
			w := 1.0
			if weight == WeightDELAY {
				w = link.Specs.Delay
			}
			nd := cur.dist + w
			if nd > cutoff {
				continue
			}
			if old, ok := dist[dst]; !ok || nd < old {
				dist[dst] = nd
				prev[dst] = cur.id
				heap.Push(h, dijkstraItem{id: dst, dist: nd})
			}
		}
	}

	var out []PathCandidate
	for _, target := range targets {
		d, ok := dist[target]
		if !ok || target == src {
			continue
		}
		out = append(out, PathCandidate{Target: target, Nodes: reconstructPath(prev, src, target), Length: d})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Length != out[j].Length {
			return out[i].Length < out[j].Length
		}
		return out[i].Target < out[j].Target
	})

	switch strategy {
	case StrategyBEST:
		if len(out) == 0 {
			return nil
		}
		return out[:1]
	case StrategyALL:
		return out
	default:
		s.log.Warn(context.Background(), "unsupported path selection strategy", logging.String("strategy", string(strategy)))
		return nil
	}
}

func reconstructPath(prev map[string]string, src, target string) []string {
	var rev []string
	cur := target
	for cur != src {
		rev = append(rev, cur)
		p, ok := prev[cur]
		if !ok {
			return nil
		}
		cur = p
	}
	rev = append(rev, src)
	out := make([]string, len(rev))
	for i, v := range rev {
		out[len(rev)-1-i] = v
	}
	return out
}

// selectLeastCost enumerates all simple paths from req.Src.ID to each
// target and scores them with the composite cost formula of spec.md §4.3.
func (s *PathSelector) selectLeastCost(t *topology.Topology, targets []string, req *model.Request, strategy Strategy) []PathCandidate {
	src := req.SrcIP
	if req.Src != nil {
		src = req.Src.ID
	}
	links := t.GetLinks()

	var minBW, maxDelay, maxJitter, maxLoss float64
	if req.CoS != nil {
		minBW = req.CoS.Specs.MinBandwidth
		maxDelay = req.CoS.Specs.MaxDelay
		maxJitter = req.CoS.Specs.MaxJitter
		maxLoss = req.CoS.Specs.MaxLossRate
	}

	var out []PathCandidate
	for _, target := range targets {
		if target == src {
			continue
		}
		var best []PathCandidate
		enumeratePaths(links, src, target, map[string]bool{src: true}, []string{src}, nil, func(nodes []string, edgeLinks []*model.Link) {
			cost := leastCostOf(edgeLinks, minBW, maxDelay, maxJitter, maxLoss)
			best = append(best, PathCandidate{Target: target, Nodes: append([]string(nil), nodes...), Links: append([]*model.Link(nil), edgeLinks...), Length: cost})
		})
		out = append(out, best...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Length != out[j].Length {
			return out[i].Length < out[j].Length
		}
		return out[i].Target < out[j].Target
	})

	switch strategy {
	case StrategyBEST:
		seen := map[string]bool{}
		var filtered []PathCandidate
		for _, c := range out {
			if seen[c.Target] {
				continue
			}
			seen[c.Target] = true
			filtered = append(filtered, c)
		}
		return filtered
	case StrategyALL:
		return out
	default:
		s.log.Warn(context.Background(), "unsupported path selection strategy", logging.String("strategy", string(strategy)))
		return nil
	}
}

// enumeratePaths performs a bounded DFS enumeration of simple paths from
// the current node to target, invoking visit for each complete path found.
// Real fog topologies are small (tens of switches); an exhaustive simple-path
// search is the same approach NetworkX's all_simple_paths takes.
func enumeratePaths(links map[string]map[string]*model.Link, cur, target string, visited map[string]bool, path []string, edges []*model.Link, visit func([]string, []*model.Link)) {
	if cur == target {
		visit(path, edges)
		return
	}
	for dst, link := range links[cur] {
		if visited[dst] || !link.State {
			continue
		}
		visited[dst] = true
		enumeratePaths(links, dst, target, visited, append(path, dst), append(edges, link), visit)
		visited[dst] = false
	}
}

// leastCostOf computes the composite cost of a candidate path per spec.md
// §4.3's LEASTCOST formula. Division by zero or a negative denominator
// yields +Inf (an unusable path, sorted last).
func leastCostOf(links []*model.Link, minBW, maxDelay, maxJitter, maxLossRate float64) float64 {
	if len(links) == 0 {
		return math.Inf(1)
	}
	ct := math.Inf(1)
	bwp := math.Inf(1)
	var bw, dp, jp float64
	lrProd := 1.0
	for _, l := range links {
		ct = math.Min(ct, l.Specs.Capacity)
		bwp = math.Min(bwp, l.Specs.Bandwidth)
		bw += l.Specs.Capacity - l.Specs.Bandwidth
		dp += l.Specs.Delay
		jp += l.Specs.Jitter
		lrProd *= 1 - l.Specs.LossRate
	}
	lrp := 1 - lrProd
	if dp == 0 || jp == 0 || lrp == 0 {
		return math.Inf(1)
	}

	cdp := safeDiv(maxDelay, dp)
	cjp := safeDiv(maxJitter, jp)
	clrp := safeDiv(maxLossRate, lrp)

	bwc := minBW
	denom := ct - (bw + bwc)
	if denom <= 0 {
		return math.Inf(1)
	}
	cbwp := bwc / denom

	bottom := cdp * cjp * clrp
	if bottom <= 0 {
		return math.Inf(1)
	}
	return cbwp / bottom
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return math.Inf(1)
	}
	return a / b
}
