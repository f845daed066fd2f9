package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/akellehe/go-paxos/internal/acceptor"
	"github.com/akellehe/go-paxos/internal/ballot"
	"github.com/akellehe/go-paxos/internal/config"
	"github.com/akellehe/go-paxos/internal/learner"
	"github.com/akellehe/go-paxos/internal/message"
	"github.com/akellehe/go-paxos/internal/proposer"
	"github.com/akellehe/go-paxos/internal/store"
	"github.com/akellehe/go-paxos/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct{}

func (f *fakeTransport) SendPrepare(_ context.Context, peer string, p message.Prepare) transport.PrepareResult {
	return transport.PrepareResult{Peer: peer, Outcome: transport.Issued, Promise: message.Promise{Prepare: &p}}
}

func (f *fakeTransport) SendPropose(_ context.Context, peer string, p message.Propose) transport.ProposeResult {
	return transport.ProposeResult{Peer: peer, Outcome: transport.Issued, Accept: message.Accept{Prepare: p.Prepare}}
}

func (f *fakeTransport) SendLearn(_ context.Context, peer string, l message.Learn) transport.LearnResult {
	return transport.LearnResult{Peer: peer, Outcome: transport.Issued, Success: message.NewSuccess(l.Prepare)}
}

func newTestServer(t *testing.T) (*Server, *store.Store, *store.Store) {
	t.Helper()
	current := store.New()
	completed := store.New()
	peers := transport.NewPeers("self", []string{"self", "b", "c"})
	tr := &fakeTransport{}
	allocator := ballot.NewAllocator("self")
	pr := proposer.New(allocator, current, completed, peers, tr)
	a := acceptor.New(current, completed)
	l := learner.New(completed)
	cfg := &config.Conf{AgentID: "self", LearnPolicy: config.LearnPolicyQuorum, Peers: []string{"self", "b", "c"}}
	return New(cfg, a, l, pr, completed), current, completed
}

func TestHandleWriteReturnsSuccess(t *testing.T) {
	srv, _, completed := newTestServer(t)
	router := srv.Router()

	body, _ := json.Marshal(writeRequest{Key: "foo", Predicate: "set", Argument: "a"})
	req := httptest.NewRequest(http.MethodPost, "/write", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got message.Success
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, message.StatusSuccess, got.Status)
	assert.Equal(t, "a", got.Prepare.Argument)

	rounds := completed.OrderedRounds("foo")
	require.Len(t, rounds, 1)
}

func TestHandleReadStreamsCommittedRounds(t *testing.T) {
	srv, _, completed := newTestServer(t)
	p := message.Prepare{ID: ballot.Ballot{Counter: 1, AgentID: "self"}, Key: "foo", Predicate: "set", Argument: "a"}
	completed.Add(message.Promise{Prepare: &p})

	router := srv.Router()
	req := httptest.NewRequest(http.MethodGet, "/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var decoded message.Prepare
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(rec.Body.Bytes()), &decoded))
	assert.Equal(t, "a", decoded.Argument)
}

func TestHandlePrepareFreshBallotReturns200(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	p := message.Prepare{ID: ballot.Ballot{Counter: 1, AgentID: "peer"}, Key: "foo", Predicate: "set", Argument: "a"}
	body, _ := json.Marshal(p)
	req := httptest.NewRequest(http.MethodPost, "/prepare", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleProposeReturnsAccept(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	p := message.Prepare{ID: ballot.Ballot{Counter: 1, AgentID: "peer"}, Key: "foo", Predicate: "set", Argument: "a"}
	body, _ := json.Marshal(proposeRequest{Prepare: p})
	req := httptest.NewRequest(http.MethodPost, "/propose", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var accept message.Accept
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accept))
	assert.Equal(t, "a", accept.Prepare.Argument)
}

func TestHandleLearnReturnsSuccess(t *testing.T) {
	srv, _, completed := newTestServer(t)
	router := srv.Router()

	p := message.Prepare{ID: ballot.Ballot{Counter: 1, AgentID: "peer"}, Key: "foo", Predicate: "set", Argument: "a"}
	body, _ := json.Marshal(learnRequest{Prepare: p})
	req := httptest.NewRequest(http.MethodPost, "/learn", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, completed.OrderedRounds("foo"), 1)
}

func TestHandleInfoReportsAgentIdentity(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "self")
}

func TestHandleHealthzReturnsOK(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
