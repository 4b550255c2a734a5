package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/FayzaCH/fog-server/internal/config"
	"github.com/FayzaCH/fog-server/internal/logging"
	"github.com/FayzaCH/fog-server/internal/protocol"
	"github.com/FayzaCH/fog-server/internal/topology"
	"github.com/FayzaCH/fog-server/model"
)

func newTestServer() *Server {
	return New(&config.Config{}, topology.New(logging.Noop()), logging.Noop())
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	} else {
		r = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPostNodeCreatesNodeAndRejectsDuplicate(t *testing.T) {
	s := newTestServer()
	h := s.Handler()

	w := doJSON(t, h, "POST", "/node", nodePostRequest{ID: "sw1", State: true, Type: "SWITCH"})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /node status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if s.topo.GetNode("sw1") == nil {
		t.Fatalf("expected node sw1 to exist in topology")
	}

	w = doJSON(t, h, "POST", "/node", nodePostRequest{ID: "sw1", State: true, Type: "SWITCH"})
	if w.Code != http.StatusSeeOther {
		t.Fatalf("duplicate POST /node status = %d, want 303", w.Code)
	}
}

func TestPostNodeRejectsMissingID(t *testing.T) {
	s := newTestServer()
	w := doJSON(t, s.Handler(), "POST", "/node", nodePostRequest{Type: "SWITCH"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestDeleteNodeRemovesNodeAnd404sWhenUnknown(t *testing.T) {
	s := newTestServer()
	h := s.Handler()
	doJSON(t, h, "POST", "/node", nodePostRequest{ID: "sw1", State: true, Type: "SWITCH"})

	w := doJSON(t, h, "DELETE", "/node/sw1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("DELETE /node/sw1 status = %d, want 200", w.Code)
	}
	if s.topo.GetNode("sw1") != nil {
		t.Fatalf("expected sw1 to be removed from topology")
	}

	w = doJSON(t, h, "DELETE", "/node/sw1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("DELETE of already-gone node status = %d, want 404", w.Code)
	}
}

func TestPutNodeSpecsUpdatesFreeResourcesAnd404sWhenUnknown(t *testing.T) {
	s := newTestServer()
	h := s.Handler()
	doJSON(t, h, "POST", "/node", nodePostRequest{ID: "host1", State: true, Type: "SERVER"})

	cpu := 3.5
	w := doJSON(t, h, "PUT", "/node_specs/host1", nodeSpecsRequest{CPUFree: &cpu})
	if w.Code != http.StatusOK {
		t.Fatalf("PUT /node_specs status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if got := s.topo.GetNode("host1").Specs.CPUFree; got != cpu {
		t.Fatalf("CPUFree = %v, want %v", got, cpu)
	}

	w = doJSON(t, h, "PUT", "/node_specs/unknown", nodeSpecsRequest{CPUFree: &cpu})
	if w.Code != http.StatusNotFound {
		t.Fatalf("PUT /node_specs for unknown node status = %d, want 404", w.Code)
	}
}

func TestGetRequestsWithoutWiringReturnsEmptyList(t *testing.T) {
	s := newTestServer()
	w := doJSON(t, s.Handler(), "GET", "/request", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got []model.Request
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected an empty list, got %v", got)
	}
}

func TestPostRequestRejectsConflictAndSucceeds(t *testing.T) {
	s := newTestServer()
	calls := 0
	s.PutRequest = func(r *model.Request) error {
		calls++
		if calls == 1 {
			return nil
		}
		return protocol.ErrRequestConflict
	}

	w := doJSON(t, s.Handler(), "POST", "/request", requestPostRequest{ID: "req-1", Src: "10.0.0.9"})
	if w.Code != http.StatusOK {
		t.Fatalf("first POST /request status = %d, want 200: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s.Handler(), "POST", "/request", requestPostRequest{ID: "req-1", Src: "10.0.0.9"})
	if w.Code != http.StatusSeeOther {
		t.Fatalf("conflicting POST /request status = %d, want 303", w.Code)
	}
}

func TestPostRequestWithoutWiringReturns500(t *testing.T) {
	s := newTestServer()
	w := doJSON(t, s.Handler(), "POST", "/request", requestPostRequest{ID: "req-1"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 when PutRequest is unwired", w.Code)
	}
}

func TestPostRequestBuildsAttemptsMap(t *testing.T) {
	s := newTestServer()
	var captured *model.Request
	s.PutRequest = func(r *model.Request) error {
		captured = r
		return nil
	}

	body := requestPostRequest{
		ID:    "req-2",
		Src:   "10.0.0.9",
		State: 2,
		Attempts: []attemptRequest{
			{AttemptNo: 1, Host: "host1", State: 4, HReqAt: "2026-01-01T00:00:00Z"},
		},
	}
	w := doJSON(t, s.Handler(), "POST", "/request", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if captured == nil {
		t.Fatalf("expected PutRequest to be called")
	}
	attempt, ok := captured.Attempts[1]
	if !ok {
		t.Fatalf("expected attempt 1 to be present in Attempts map")
	}
	if attempt.Host != "host1" || attempt.State != model.RequestState(4) {
		t.Fatalf("unexpected attempt: %+v", attempt)
	}
}
