// Package api implements the REST north-bound surface (spec.md §6): node
// lifecycle/spec updates and request introspection, consumed by external
// operators and the UDP/heartbeat-adjacent tooling. Grounded in
// server/ryu_main_api.py's endpoint shapes.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/FayzaCH/fog-server/internal/config"
	"github.com/FayzaCH/fog-server/internal/logging"
	"github.com/FayzaCH/fog-server/internal/protocol"
	"github.com/FayzaCH/fog-server/internal/topology"
	"github.com/FayzaCH/fog-server/model"
)

// Server is the thin JSON HTTP handler wrapping Topology mutation and
// Request introspection.
type Server struct {
	cfg  *config.Config
	topo *topology.Topology
	log  logging.Logger

	// Requests returns a snapshot of currently-tracked Requests for
	// GET /request introspection; wired by cmd/orchestrator from the
	// protocol package.
	Requests func() []*model.Request

	// PutRequest records an externally-pushed Request snapshot for
	// POST /request; returns protocol.ErrRequestConflict for a stale
	// snapshot. Wired by cmd/orchestrator from the protocol package.
	PutRequest func(r *model.Request) error
}

// New constructs a Server.
func New(cfg *config.Config, topo *topology.Topology, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{cfg: cfg, topo: topo, log: log}
}

// Handler builds the net/http mux for this Server's endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /config", s.handleGetConfig)
	mux.HandleFunc("POST /node", s.handlePostNode)
	mux.HandleFunc("DELETE /node/{id}", s.handleDeleteNode)
	mux.HandleFunc("PUT /node_specs/{id}", s.handlePutNodeSpecs)
	mux.HandleFunc("GET /request", s.handleGetRequests)
	mux.HandleFunc("POST /request", s.handlePostRequest)
	return s.withRequestID(mux)
}

// withRequestID stamps every request with a correlation id, per
// SPEC_FULL.md §11's promotion of google/uuid to direct use.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := logging.ContextWithRequestID(r.Context(), reqID)
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg)
}

type nodeInterfaceRequest struct {
	Name string `json:"name"`
	Num  int    `json:"num"`
	MAC  string `json:"mac"`
	IPv4 string `json:"ipv4"`
}

type nodePostRequest struct {
	ID         string                  `json:"id"`
	State      bool                    `json:"state"`
	Type       string                  `json:"type"`
	Label      string                  `json:"label,omitempty"`
	Threshold  *float64                `json:"threshold,omitempty"`
	Interfaces []nodeInterfaceRequest  `json:"interfaces,omitempty"`
}

func (s *Server) handlePostNode(w http.ResponseWriter, r *http.Request) {
	var req nodePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ID == "" {
		s.writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	threshold := -1.0
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if err := s.topo.AddNode(req.ID, req.State, model.NodeType(req.Type), req.Label, threshold); err != nil {
		s.writeError(w, http.StatusSeeOther, err.Error())
		return
	}
	for _, iface := range req.Interfaces {
		if err := s.topo.AddInterface(req.ID, iface.Name, iface.Num, iface.MAC, iface.IPv4); err != nil {
			s.log.Warn(r.Context(), "failed to add interface from POST /node", logging.String("node_id", req.ID), logging.String("err", err.Error()))
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": req.ID})
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.topo.GetNode(id) == nil {
		s.writeError(w, http.StatusNotFound, "unknown node")
		return
	}
	s.topo.DeleteNode(id)
	w.WriteHeader(http.StatusOK)
}

type nodeSpecsInterfaceRequest struct {
	Name        string   `json:"name"`
	Capacity    *float64 `json:"capacity,omitempty"`
	BWUp        *float64 `json:"bw_up,omitempty"`
	BWDown      *float64 `json:"bw_down,omitempty"`
	TxPackets   *uint64  `json:"tx_packets,omitempty"`
	RxPackets   *uint64  `json:"rx_packets,omitempty"`
	TxBytes     *uint64  `json:"tx_bytes,omitempty"`
	RxBytes     *uint64  `json:"rx_bytes,omitempty"`
}

type nodeSpecsRequest struct {
	CPUCount   *int                        `json:"cpu_count,omitempty"`
	CPUFree    *float64                    `json:"cpu_free,omitempty"`
	MemTotal   *float64                    `json:"mem_total,omitempty"`
	MemFree    *float64                    `json:"mem_free,omitempty"`
	DiskTotal  *float64                    `json:"disk_total,omitempty"`
	DiskFree   *float64                    `json:"disk_free,omitempty"`
	Interfaces []nodeSpecsInterfaceRequest `json:"interfaces,omitempty"`
}

func (s *Server) handlePutNodeSpecs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	node := s.topo.GetNode(id)
	if node == nil {
		s.writeError(w, http.StatusNotFound, "unknown node")
		return
	}
	var req nodeSpecsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	node.Specs.Timestamp = time.Now()
	if req.CPUCount != nil {
		node.Specs.CPUCount = *req.CPUCount
	}
	if req.CPUFree != nil {
		node.Specs.CPUFree = *req.CPUFree
	}
	if req.MemTotal != nil {
		node.Specs.MemTotal = *req.MemTotal
	}
	if req.MemFree != nil {
		node.Specs.MemFree = *req.MemFree
	}
	if req.DiskTotal != nil {
		node.Specs.DiskTotal = *req.DiskTotal
	}
	if req.DiskFree != nil {
		node.Specs.DiskFree = *req.DiskFree
	}
	for _, ifaceReq := range req.Interfaces {
		iface, ok := node.Interfaces[ifaceReq.Name]
		if !ok {
			continue
		}
		iface.Specs.Timestamp = time.Now()
		if ifaceReq.Capacity != nil {
			iface.Specs.Capacity = *ifaceReq.Capacity
		}
		if ifaceReq.BWUp != nil {
			iface.Specs.BandwidthUp = *ifaceReq.BWUp
		}
		if ifaceReq.BWDown != nil {
			iface.Specs.BandwidthDown = *ifaceReq.BWDown
		}
		if ifaceReq.TxPackets != nil {
			iface.Specs.TxPackets = *ifaceReq.TxPackets
		}
		if ifaceReq.RxPackets != nil {
			iface.Specs.RxPackets = *ifaceReq.RxPackets
		}
		if ifaceReq.TxBytes != nil {
			iface.Specs.TxBytes = *ifaceReq.TxBytes
		}
		if ifaceReq.RxBytes != nil {
			iface.Specs.RxBytes = *ifaceReq.RxBytes
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetRequests(w http.ResponseWriter, r *http.Request) {
	if s.Requests == nil {
		s.writeJSON(w, http.StatusOK, []model.Request{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.Requests())
}

type attemptRequest struct {
	AttemptNo int    `json:"attempt_no"`
	Host      string `json:"host,omitempty"`
	State     int    `json:"state"`
	HReqAt    string `json:"hreq_at"`
	HResAt    string `json:"hres_at,omitempty"`
	RResAt    string `json:"rres_at,omitempty"`
	DResAt    string `json:"dres_at,omitempty"`
}

type requestPostRequest struct {
	ID       string           `json:"id"`
	Src      string           `json:"src"`
	CoSID    int              `json:"cos_id"`
	Data     []byte           `json:"data,omitempty"`
	Result   []byte           `json:"result,omitempty"`
	Host     string           `json:"host,omitempty"`
	State    int              `json:"state"`
	HReqAt   string           `json:"hreq_at"`
	DResAt   string           `json:"dres_at,omitempty"`
	Attempts []attemptRequest `json:"attempts,omitempty"`
}

// handlePostRequest records an externally-pushed Request snapshot (spec.md
// §6 REST "POST /request"), e.g. for restoring state after a restart.
func (s *Server) handlePostRequest(w http.ResponseWriter, r *http.Request) {
	if s.PutRequest == nil {
		s.writeError(w, http.StatusInternalServerError, "request persistence not wired")
		return
	}
	var body requestPostRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if body.ID == "" {
		s.writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	req := &model.Request{
		ID:     body.ID,
		SrcIP:  body.Src,
		Data:   body.Data,
		Result: body.Result,
		Host:   body.Host,
		State:  model.RequestState(body.State),
		HReqAt: parseTimeOrZero(body.HReqAt),
		DResAt: parseTimeOrZero(body.DResAt),
	}
	if node := s.topo.GetNode(body.Src); node != nil {
		req.Src = node
	}
	for _, a := range body.Attempts {
		if req.Attempts == nil {
			req.Attempts = make(map[int]*model.Attempt, len(body.Attempts))
		}
		req.Attempts[a.AttemptNo] = &model.Attempt{
			ReqID:     req.ID,
			SrcIP:     req.SrcIP,
			AttemptNo: a.AttemptNo,
			Host:      a.Host,
			State:     model.RequestState(a.State),
			HReqAt:    parseTimeOrZero(a.HReqAt),
			HResAt:    parseTimeOrZero(a.HResAt),
			RResAt:    parseTimeOrZero(a.RResAt),
			DResAt:    parseTimeOrZero(a.DResAt),
		}
	}

	if err := s.PutRequest(req); err != nil {
		if errors.Is(err, protocol.ErrRequestConflict) {
			s.writeError(w, http.StatusSeeOther, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": req.ID})
}

func parseTimeOrZero(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
