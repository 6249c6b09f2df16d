package main

import (
	"compress/gzip"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ReceiverStatus is one receiver's telemetry as reported in status JSON
// (spec.md §6 "per-receiver {siglev, enabled, sql_open, active}").
type ReceiverStatus struct {
	SigLev  int16 `json:"siglev"`
	Enabled bool  `json:"enabled"`
	SqlOpen bool  `json:"sql_open"`
	Active  bool  `json:"active"`
}

// NodeStatus is one node's entry in the /status JSON document (spec.md
// §6 "Status endpoint").
type NodeStatus struct {
	ProtoVerMajor uint8                     `json:"proto_ver_major"`
	ProtoVerMinor uint8                     `json:"proto_ver_minor"`
	CurrentTG     uint32                    `json:"current_tg"`
	MonitoredTGs  []uint32                  `json:"monitored_tgs"`
	IsTalker      bool                      `json:"is_talker"`
	Transmit      bool                      `json:"transmit"`
	Receivers     map[string]ReceiverStatus `json:"receivers"`
	NodeInfo      string                    `json:"node_info,omitempty"`
	Country       string                    `json:"country,omitempty"`
}

// ServerStatus carries process-level stats alongside the node map
// (ambient addition beyond the core node listing).
type ServerStatus struct {
	SessionCount int     `json:"session_count"`
	CPUPercent   float64 `json:"cpu_percent"`
	MemUsedBytes uint64  `json:"mem_used_bytes"`
}

// StatusDocument is the full body of a /status response.
type StatusDocument struct {
	Nodes  map[string]NodeStatus `json:"nodes"`
	Server ServerStatus          `json:"server"`
}

// buildStatusSnapshot renders the current session state into a
// StatusDocument. Must only be called from the reflector's run-loop
// goroutine; StatusServer obtains it via RequestStatusSnapshot instead of
// reading Reflector state directly.
func (r *Reflector) buildStatusSnapshot() StatusDocument {
	nodes := make(map[string]NodeStatus)
	for _, s := range r.sessions.All() {
		if !s.IsConnected() {
			continue
		}
		tg := s.CurrentTG()
		if r.tgs.IsRestricted(tg) {
			tg = 0
		}

		monitored := make([]uint32, 0, len(s.MonitoredTGs))
		for m := range s.MonitoredTGs {
			monitored = append(monitored, m)
		}

		receivers := make(map[string]ReceiverStatus, len(s.Receivers))
		for id, rx := range s.Receivers {
			receivers[string(id)] = ReceiverStatus{
				SigLev:  rx.SigLev,
				Enabled: rx.Enabled,
				SqlOpen: rx.SqlOpen,
				Active:  rx.Active,
			}
		}

		isTalker := r.tgs.IsTalker(s)
		nodes[s.Callsign] = NodeStatus{
			ProtoVerMajor: s.ProtoVerMajor,
			ProtoVerMinor: s.ProtoVerMinor,
			CurrentTG:     tg,
			MonitoredTGs:  monitored,
			IsTalker:      isTalker,
			Transmit:      isTalker,
			Receivers:     receivers,
			NodeInfo:      s.NodeInfoJSON,
			Country:       r.geoip.CountryFor(s.StreamAddr),
		}
	}

	server := ServerStatus{SessionCount: r.sessions.Count()}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		server.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		server.MemUsedBytes = vm.Used
	}

	return StatusDocument{Nodes: nodes, Server: server}
}

// RequestStatusSnapshot asks the run loop to render a StatusDocument and
// blocks for the answer. Safe to call from any goroutine.
func (r *Reflector) RequestStatusSnapshot() StatusDocument {
	ch := make(chan StatusDocument, 1)
	r.transport.Events <- &event{kind: evSnapshotRequest, snapshotCh: ch}
	return <-ch
}

// buildTalkgroupSummary renders every live TG's membership and talker.
// Must only be called from the run-loop goroutine.
func (r *Reflector) buildTalkgroupSummary() []TalkgroupSummary {
	var out []TalkgroupSummary
	for _, tg := range r.tgs.AllTGs() {
		members := r.tgs.Members(tg)
		callsigns := make([]string, 0, len(members))
		for _, s := range members {
			callsigns = append(callsigns, s.Callsign)
		}
		summary := TalkgroupSummary{
			TG:         tg,
			Members:    callsigns,
			Restricted: r.tgs.IsRestricted(tg),
		}
		if talker := r.tgs.Talker(tg); talker != nil {
			summary.Talker = talker.Callsign
		}
		out = append(out, summary)
	}
	return out
}

// RequestTalkgroupSummary asks the run loop to render a talkgroup
// summary and blocks for the answer. Safe to call from any goroutine.
func (r *Reflector) RequestTalkgroupSummary() []TalkgroupSummary {
	ch := make(chan []TalkgroupSummary, 1)
	r.transport.Events <- &event{kind: evTgSnapshotRequest, tgSnapshotCh: ch}
	return <-ch
}

// StatusServer serves the GET /status endpoint of spec.md §6, gzip
// compressing responses via klauspost/compress's gzhttp wrapper.
type StatusServer struct {
	reflector *Reflector
}

// NewStatusServer builds an http.Handler for /status.
func NewStatusServer(r *Reflector) http.Handler {
	s := &StatusServer{reflector: r}
	wrap, err := gzhttp.NewWrapper(gzhttp.CompressionLevel(gzip.BestSpeed))
	if err != nil {
		return http.HandlerFunc(s.serveStatus)
	}
	return wrap(http.HandlerFunc(s.serveStatus))
}

func (s *StatusServer) serveStatus(w http.ResponseWriter, req *http.Request) {
	if !strings.EqualFold(req.URL.Path, "/status") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	switch req.Method {
	case http.MethodGet, http.MethodHead:
		doc := s.reflector.RequestStatusSnapshot()
		body, err := json.Marshal(doc)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if req.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	default:
		http.Error(w, "not implemented", http.StatusNotImplemented)
	}
}
