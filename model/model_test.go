package model

import (
	"math"
	"testing"
)

func TestNewNodeDefaultsThresholdAndInterfaces(t *testing.T) {
	n := NewNode("sw1", true, NodeTypeSwitch, "core")
	if n.Threshold != 1 {
		t.Fatalf("Threshold = %v, want 1", n.Threshold)
	}
	if n.Interfaces == nil {
		t.Fatalf("expected Interfaces to be initialized")
	}
	if n.ID != "sw1" || n.Type != NodeTypeSwitch || n.Label != "core" || !n.State {
		t.Fatalf("unexpected node: %+v", n)
	}
}

func TestNewLinkSpecsDefaultsUnknownQuantities(t *testing.T) {
	s := NewLinkSpecs()
	if !math.IsInf(s.Delay, 1) || !math.IsInf(s.Jitter, 1) {
		t.Fatalf("expected delay/jitter to default to +Inf, got %+v", s)
	}
	if s.LossRate != 1 {
		t.Fatalf("LossRate = %v, want 1 (fully lossy until measured)", s.LossRate)
	}
}

func TestNewCoSSpecsDefaultsUnconstrained(t *testing.T) {
	s := NewCoSSpecs()
	if !math.IsInf(s.MaxResponseTime, 1) || !math.IsInf(s.MaxDelay, 1) || !math.IsInf(s.MaxJitter, 1) {
		t.Fatalf("expected response time/delay/jitter to default to +Inf, got %+v", s)
	}
	if s.MaxLossRate != 1 {
		t.Fatalf("MaxLossRate = %v, want 1 (fully tolerant)", s.MaxLossRate)
	}
	if s.MinCPU != 0 || s.MinRAM != 0 || s.MinDisk != 0 {
		t.Fatalf("expected zero minimums, got %+v", s)
	}
}

func TestRequestNewAttemptIncrementsAndIndexes(t *testing.T) {
	r := &Request{ID: "req-1", SrcIP: "10.0.0.5"}
	a1 := r.NewAttempt()
	if a1.AttemptNo != 1 || r.CurrentAttemptNo() != 1 {
		t.Fatalf("first attempt number = %d, want 1", a1.AttemptNo)
	}
	if a1.ReqID != "req-1" || a1.SrcIP != "10.0.0.5" {
		t.Fatalf("attempt did not inherit request id/srcIP: %+v", a1)
	}
	if a1.Responses == nil {
		t.Fatalf("expected Responses map to be initialized")
	}

	a2 := r.NewAttempt()
	if a2.AttemptNo != 2 || r.CurrentAttemptNo() != 2 {
		t.Fatalf("second attempt number = %d, want 2", a2.AttemptNo)
	}
	if len(r.Attempts) != 2 {
		t.Fatalf("len(Attempts) = %d, want 2", len(r.Attempts))
	}
	if r.Attempts[1] != a1 || r.Attempts[2] != a2 {
		t.Fatalf("Attempts map does not index by attempt number")
	}
}

func TestRequestStateString(t *testing.T) {
	cases := map[RequestState]string{
		ReqFAIL: "FAIL",
		ReqHREQ: "HREQ",
		ReqHRES: "HRES",
		ReqRREQ: "RREQ",
		ReqDREQ: "DREQ",
		ReqDRES: "DRES",
		42:      "UNKNOWN",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("RequestState(%d).String() = %q, want %q", state, got, want)
		}
	}
}
