package selection

import (
	"context"
	"testing"

	"github.com/FayzaCH/fog-server/internal/logging"
	"github.com/FayzaCH/fog-server/internal/topology"
	"github.com/FayzaCH/fog-server/model"
)

func TestNewNodeSelectorFallsBackToSimple(t *testing.T) {
	sel := NewNodeSelector("NONSENSE", logging.Noop())
	if sel.algorithm != NodeSIMPLE {
		t.Fatalf("algorithm = %q, want %q", sel.algorithm, NodeSIMPLE)
	}
}

func TestNodeSelectorFiltersBySpecsAndExcludesSource(t *testing.T) {
	sel := NewNodeSelector(NodeSIMPLE, logging.Noop())

	src := &model.Node{ID: "src", State: true, Threshold: 1}
	fits := &model.Node{ID: "fits", State: true, Threshold: 0, Specs: model.NodeSpecs{CPUFree: 4, MemFree: 4096, DiskFree: 10000}}
	tooSmall := &model.Node{ID: "small", State: true, Threshold: 0, Specs: model.NodeSpecs{CPUFree: 0.1, MemFree: 10, DiskFree: 10}}
	down := &model.Node{ID: "down", State: false}

	req := &model.Request{
		Src: src,
		CoS: &model.CoS{Specs: model.CoSSpecs{MinCPU: 1, MinRAM: 512, MinDisk: 1000}},
	}

	got := sel.Select(context.Background(), []*model.Node{src, fits, tooSmall, down}, req, StrategyALL)
	if len(got) != 1 || got[0].ID != "fits" {
		t.Fatalf("Select = %v, want only [fits]", got)
	}
}

func TestNewPathSelectorFallsBackToDijkstra(t *testing.T) {
	sel := NewPathSelector("NONSENSE", logging.Noop())
	if sel.algorithm != PathDIJKSTRA {
		t.Fatalf("algorithm = %q, want %q", sel.algorithm, PathDIJKSTRA)
	}
}

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

func TestSelectDijkstraFindsShortestPath(t *testing.T) {
	topo := buildLineTopology(t)
	sel := NewPathSelector(PathDIJKSTRA, logging.Noop())
	req := &model.Request{Src: &model.Node{ID: "h1"}}

	out := sel.Select(context.Background(), topo, []string{"h2"}, req, WeightHOP, StrategyALL)
	if len(out) != 1 {
		t.Fatalf("expected one candidate, got %d", len(out))
	}
	want := []string{"h1", "sw1", "sw2", "h2"}
	got := out[0].Nodes
	if len(got) != len(want) {
		t.Fatalf("path = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("path = %v, want %v", got, want)
		}
	}
}

func TestSelectDijkstraBestStrategyReturnsSingleCandidate(t *testing.T) {
	topo := buildLineTopology(t)
	sel := NewPathSelector(PathDIJKSTRA, logging.Noop())
	req := &model.Request{Src: &model.Node{ID: "h1"}}

	out := sel.Select(context.Background(), topo, []string{"h2", "sw2"}, req, WeightHOP, StrategyBEST)
	if len(out) != 1 {
		t.Fatalf("StrategyBEST returned %d candidates, want 1", len(out))
	}
}

func TestSelectDijkstraUnreachableTargetOmitted(t *testing.T) {
	topo := buildLineTopology(t)
	if err := topo.AddNode("island", true, model.NodeTypeSwitch, "", -1); err != nil {
		t.Fatalf("AddNode island: %v", err)
	}
	sel := NewPathSelector(PathDIJKSTRA, logging.Noop())
	req := &model.Request{Src: &model.Node{ID: "h1"}}

	out := sel.Select(context.Background(), topo, []string{"island"}, req, WeightHOP, StrategyALL)
	if len(out) != 0 {
		t.Fatalf("expected no candidates for an unreachable target, got %v", out)
	}
}
