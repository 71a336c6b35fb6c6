// Package agdebug serves a JSON status and control API for a running node,
// normally over a unix socket, and contains the matching client.
package agdebug

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/gordian-engine/gagree/ag/agcodec/agjson"
	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/gordian-engine/gagree/ag/agimport"
	"github.com/gordian-engine/gagree/ag/agsession"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServer struct {
	done chan struct{}
}

type HTTPServerConfig struct {
	Listener net.Listener

	Manager *agsession.Manager

	// Optional; enables the candidate status route.
	Importer *agimport.Importer

	// Optional; enables /metrics.
	Gatherer prometheus.Gatherer
}

// NewHTTPServer serves on cfg.Listener until ctx is cancelled.
func NewHTTPServer(ctx context.Context, log *slog.Logger, cfg HTTPServerConfig) *HTTPServer {
	srv := &http.Server{
		Handler: newMux(log, cfg),

		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	h := &HTTPServer{
		done: make(chan struct{}),
	}
	go h.serve(log, cfg.Listener, srv)
	go h.waitForShutdown(ctx, srv)

	return h
}

func (h *HTTPServer) Wait() {
	<-h.done
}

func (h *HTTPServer) waitForShutdown(ctx context.Context, srv *http.Server) {
	select {
	case <-h.done:
		return
	case <-ctx.Done():
		_ = srv.Close()
	}
}

func (h *HTTPServer) serve(log *slog.Logger, ln net.Listener, srv *http.Server) {
	defer close(h.done)

	if err := srv.Serve(ln); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
			log.Info("HTTP server shutting down")
		} else {
			log.Info("HTTP server shutting down due to error", "err", err)
		}
	}
}

type handler struct {
	log *slog.Logger

	m   *agsession.Manager
	imp *agimport.Importer
}

func newMux(log *slog.Logger, cfg HTTPServerConfig) http.Handler {
	h := handler{
		log: log,
		m:   cfg.Manager,
		imp: cfg.Importer,
	}

	r := mux.NewRouter()

	r.HandleFunc("/sessions", h.HandleSessions).Methods("GET")
	r.HandleFunc("/sessions/{sid}", h.HandleSession).Methods("GET")
	r.HandleFunc("/sessions/{sid}", h.HandleStart).Methods("POST")
	r.HandleFunc("/sessions/{sid}", h.HandleStop).Methods("DELETE")
	r.HandleFunc("/sessions/{sid}/statements", h.HandleAddStatement).Methods("POST")
	r.HandleFunc("/sessions/{sid}/candidates", h.HandlePropose).Methods("POST")
	r.HandleFunc("/sessions/{sid}/includable/{digest}", h.HandleIncludable).Methods("GET")

	if cfg.Importer != nil {
		r.HandleFunc("/candidates/{digest}", h.HandleCandidateStatus).Methods("GET")
	}

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	return r
}

func (h handler) writeJSON(w http.ResponseWriter, route string, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("Failed to encode response", "route", route, "err", err)
	}
}

func (h handler) session(w http.ResponseWriter, req *http.Request) (*agsession.Session, bool) {
	sid := agconsensus.SessionID(mux.Vars(req)["sid"])
	s, ok := h.m.Session(sid)
	if !ok {
		http.Error(w, "session not running", http.StatusNotFound)
	}
	return s, ok
}

func (h handler) HandleSessions(w http.ResponseWriter, req *http.Request) {
	ss := h.m.Sessions()
	out := make([]SessionStatus, 0, len(ss))
	for _, s := range ss {
		snap, err := s.Engine().State(req.Context())
		if err != nil {
			// Stopped between listing and querying.
			continue
		}
		out = append(out, newSessionStatus(s, snap))
	}

	h.writeJSON(w, "sessions", out)
}

func (h handler) HandleSession(w http.ResponseWriter, req *http.Request) {
	s, ok := h.session(w, req)
	if !ok {
		return
	}

	snap, err := s.Engine().State(req.Context())
	if err != nil {
		http.Error(w, "failed to get session state: "+err.Error(), http.StatusServiceUnavailable)
		return
	}

	h.writeJSON(w, "session", newSessionStatus(s, snap))
}

func (h handler) HandleStart(w http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()

	var sr StartRequest
	if err := json.NewDecoder(req.Body).Decode(&sr); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "failed to decode request body", http.StatusBadRequest)
		return
	}

	sid := agconsensus.SessionID(mux.Vars(req)["sid"])
	s, err := h.m.Start(req.Context(), sid, sr.Resume)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, agsession.ErrAlreadyRunning) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	snap, err := s.Engine().State(req.Context())
	if err != nil {
		http.Error(w, "failed to get session state: "+err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusCreated)
	h.writeJSON(w, "start_session", newSessionStatus(s, snap))
}

func (h handler) HandleStop(w http.ResponseWriter, req *http.Request) {
	sid := agconsensus.SessionID(mux.Vars(req)["sid"])
	if err := h.m.Stop(sid); err != nil {
		if errors.Is(err, agsession.ErrNotRunning) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h handler) HandleAddStatement(w http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()

	s, ok := h.session(w, req)
	if !ok {
		return
	}

	b, err := io.ReadAll(req.Body)
	if err != nil {
		h.log.Warn("Failed to read request body", "route", "add_statement", "err", err)
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var st agconsensus.SignedStatement
	if err := (agjson.Codec{}).UnmarshalStatement(b, &st); err != nil {
		http.Error(w, "failed to decode statement: "+err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.Engine().AddStatement(req.Context(), st)
	if err != nil {
		http.Error(w, "failed to add statement: "+err.Error(), http.StatusServiceUnavailable)
		return
	}

	out := AddStatementResponse{Outcome: res.Outcome.String()}
	if res.Reason != nil {
		out.Reason = res.Reason.Error()
	}
	h.writeJSON(w, "add_statement", out)
}

func (h handler) HandlePropose(w http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()

	s, ok := h.session(w, req)
	if !ok {
		return
	}

	b, err := io.ReadAll(req.Body)
	if err != nil {
		h.log.Warn("Failed to read request body", "route", "propose", "err", err)
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var c agconsensus.Candidate
	if err := (agjson.Codec{}).UnmarshalCandidate(b, &c); err != nil {
		http.Error(w, "failed to decode candidate: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.Propose(req.Context(), c); err != nil {
		http.Error(w, "failed to propose candidate: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h handler) HandleIncludable(w http.ResponseWriter, req *http.Request) {
	s, ok := h.session(w, req)
	if !ok {
		return
	}

	var d agconsensus.Digest
	if err := d.UnmarshalText([]byte(mux.Vars(req)["digest"])); err != nil {
		http.Error(w, "invalid digest: "+err.Error(), http.StatusBadRequest)
		return
	}

	inc, err := s.Engine().IsIncludable(req.Context(), d)
	if err != nil {
		http.Error(w, "failed to check digest: "+err.Error(), http.StatusServiceUnavailable)
		return
	}

	h.writeJSON(w, "includable", IncludableResponse{Includable: inc})
}

func (h handler) HandleCandidateStatus(w http.ResponseWriter, req *http.Request) {
	var d agconsensus.Digest
	if err := d.UnmarshalText([]byte(mux.Vars(req)["digest"])); err != nil {
		http.Error(w, "invalid digest: "+err.Error(), http.StatusBadRequest)
		return
	}

	st, err := h.imp.Status(req.Context(), d)
	if err != nil {
		h.log.Warn("Failed to get candidate status", "digest", d, "err", err)
		http.Error(w, "failed to get candidate status", http.StatusInternalServerError)
		return
	}

	out := CandidateStatusResponse{Status: st.String()}
	if bh, ok := h.imp.BestHeight(); ok {
		out.BestHeight = &bh
	}
	h.writeJSON(w, "candidate_status", out)
}
