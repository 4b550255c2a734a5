// Package recorder persists the candidate hosts and paths considered for
// each Request, for offline analysis — the Go equivalent of the original's
// per-attempt CSV/DB inserts (SPEC_FULL.md §12, grounded in
// server/ryu_apps/protocol.py's _save_hosts/_save_paths and
// server/model.py's Model.as_csv).
package recorder

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/FayzaCH/fog-server/internal/selection"
	"github.com/FayzaCH/fog-server/model"
)

// Recorder persists the candidates a placement coroutine considered. It
// never affects placement outcome: its methods return nothing, and
// CSVRecorder drops file errors silently (spec.md §7: persistence is
// best-effort).
type Recorder interface {
	RecordHosts(req *model.Request, hosts []*model.Node)
	RecordPaths(req *model.Request, paths []selection.PathCandidate)
}

// Noop discards every record; used when persistence isn't configured.
type Noop struct{}

func (Noop) RecordHosts(*model.Request, []*model.Node)              {}
func (Noop) RecordPaths(*model.Request, []selection.PathCandidate) {}

// CSVRecorder appends one row per candidate to two append-only CSV files,
// matching the original's "persist every candidate for later analysis"
// behavior.
type CSVRecorder struct {
	mu         sync.Mutex
	hostsPath  string
	pathsPath  string
	hostsOnce  sync.Once
	pathsOnce  sync.Once
}

// NewCSVRecorder returns a recorder for the two CSV files candidates are
// appended to. It opens nothing itself; each file is created on its first
// record.
func NewCSVRecorder(hostsPath, pathsPath string) *CSVRecorder {
	return &CSVRecorder{hostsPath: hostsPath, pathsPath: pathsPath}
}

var hostsHeader = []string{"req_id", "src_ip", "attempt_no", "host", "algorithm", "cpu_free", "mem_free", "disk_free", "timestamp"}
var pathsHeader = []string{"req_id", "src_ip", "attempt_no", "host", "nodes", "algorithm", "weight_type", "weight", "timestamp"}

func (r *CSVRecorder) RecordHosts(req *model.Request, hosts []*model.Node) {
	r.hostsOnce.Do(func() { writeHeaderIfNew(r.hostsPath, hostsHeader) })
	attemptNo := req.CurrentAttemptNo()
	rows := make([][]string, 0, len(hosts))
	for _, h := range hosts {
		rows = append(rows, []string{
			req.ID, req.SrcIP, strconv.Itoa(attemptNo), h.ID, "SIMPLE",
			strconv.FormatFloat(h.Specs.CPUFree, 'f', -1, 64),
			strconv.FormatFloat(h.Specs.MemFree, 'f', -1, 64),
			strconv.FormatFloat(h.Specs.DiskFree, 'f', -1, 64),
			time.Now().UTC().Format(time.RFC3339),
		})
	}
	r.appendRows(r.hostsPath, rows)
}

func (r *CSVRecorder) RecordPaths(req *model.Request, paths []selection.PathCandidate) {
	r.pathsOnce.Do(func() { writeHeaderIfNew(r.pathsPath, pathsHeader) })
	attemptNo := req.CurrentAttemptNo()
	rows := make([][]string, 0, len(paths))
	for _, p := range paths {
		rows = append(rows, []string{
			req.ID, req.SrcIP, strconv.Itoa(attemptNo), p.Target,
			strings.Join(p.Nodes, "->"), "DIJKSTRA", "", strconv.FormatFloat(p.Length, 'f', -1, 64),
			time.Now().UTC().Format(time.RFC3339),
		})
	}
	r.appendRows(r.pathsPath, rows)
}

func (r *CSVRecorder) appendRows(path string, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()
	for _, row := range rows {
		_ = w.Write(row)
	}
}

func writeHeaderIfNew(path string, header []string) {
	if _, err := os.Stat(path); err == nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()
	_ = w.Write(header)
}
