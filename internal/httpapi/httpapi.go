// Package httpapi wires the five consensus endpoints plus the
// operational surface (/info, /healthz, /metrics) onto a
// github.com/gorilla/mux router.
package httpapi

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/akellehe/go-paxos/internal/acceptor"
	"github.com/akellehe/go-paxos/internal/config"
	"github.com/akellehe/go-paxos/internal/learner"
	"github.com/akellehe/go-paxos/internal/logging"
	"github.com/akellehe/go-paxos/internal/message"
	"github.com/akellehe/go-paxos/internal/proposer"
	"github.com/akellehe/go-paxos/internal/store"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = logging.For("httpapi")

// Server holds every component an agent's HTTP handlers need. It
// carries no mutable state of its own; everything mutable lives in
// the Acceptor/Learner/Proposer and the stores they share.
type Server struct {
	cfg       *config.Conf
	acceptor  *acceptor.Acceptor
	learner   *learner.Learner
	proposer  *proposer.Proposer
	completed *store.Store
}

// New builds a Server. completed is passed separately from the
// Learner so /read can serve it without the Learner needing a read
// method of its own.
func New(cfg *config.Conf, a *acceptor.Acceptor, l *learner.Learner, p *proposer.Proposer, completed *store.Store) *Server {
	return &Server{cfg: cfg, acceptor: a, learner: l, proposer: p, completed: completed}
}

// Router builds the gorilla/mux router exposing every endpoint.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/write", s.handleWrite).Methods(http.MethodPost)
	r.HandleFunc("/read", s.handleRead).Methods(http.MethodGet)
	r.HandleFunc("/prepare", s.handlePrepare).Methods(http.MethodPost)
	r.HandleFunc("/propose", s.handlePropose).Methods(http.MethodPost)
	r.HandleFunc("/learn", s.handleLearn).Methods(http.MethodPost)
	r.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

type writeRequest struct {
	Key       string `json:"key"`
	Predicate string `json:"predicate"`
	Argument  string `json:"argument"`
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	success, err := s.proposer.Write(r.Context(), req.Key, req.Predicate, req.Argument)
	if err != nil {
		log.WithField("key", req.Key).WithError(err).Warn("write failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, success)
}

// handleRead streams the completed store as newline-delimited JSON
// Prepares, one per committed round across every key.
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	buf := bufio.NewWriter(w)
	defer buf.Flush()
	enc := json.NewEncoder(buf)
	for _, p := range s.completed.OrderedRounds("") {
		if err := enc.Encode(p); err != nil {
			log.WithError(err).Error("failed to encode commit log entry")
			return
		}
	}
}

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var p message.Prepare
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.acceptor.HandlePrepare(p)
	if err != nil {
		log.WithField("key", p.Key).WithError(err).Error("prepare invariant violation")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, resp.Status, resp.Promise)
}

type proposeRequest struct {
	Prepare message.Prepare `json:"prepare"`
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	accept := s.acceptor.HandlePropose(message.Propose{Prepare: req.Prepare})
	writeJSON(w, http.StatusOK, accept)
}

type learnRequest struct {
	Prepare message.Prepare `json:"prepare"`
}

func (s *Server) handleLearn(w http.ResponseWriter, r *http.Request) {
	var req learnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	success := s.learner.HandleLearn(message.Learn{Prepare: req.Prepare})
	writeJSON(w, http.StatusOK, success)
}

// handleInfo reports operational identity: enough for an operator to
// confirm which agent they're talking to without a full config dump.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, `{"agent_id":%q,"learn_policy":%q,"peer_count":%d}`,
		s.cfg.AgentID, s.cfg.LearnPolicy, len(s.cfg.Peers))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("failed to encode response body")
	}
}
