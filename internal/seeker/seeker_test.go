package seeker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/akellehe/go-paxos/internal/ballot"
	"github.com/akellehe/go-paxos/internal/message"
	"github.com/akellehe/go-paxos/internal/proposer"
	"github.com/akellehe/go-paxos/internal/store"
	"github.com/akellehe/go-paxos/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeTransport struct {
	prepare func(peer string, p message.Prepare) transport.PrepareResult
	propose func(peer string, p message.Propose) transport.ProposeResult
	learn   func(peer string, l message.Learn) transport.LearnResult
}

func (f *fakeTransport) SendPrepare(_ context.Context, peer string, p message.Prepare) transport.PrepareResult {
	return f.prepare(peer, p)
}
func (f *fakeTransport) SendPropose(_ context.Context, peer string, p message.Propose) transport.ProposeResult {
	return f.propose(peer, p)
}
func (f *fakeTransport) SendLearn(_ context.Context, peer string, l message.Learn) transport.LearnResult {
	return f.learn(peer, l)
}

func alwaysIssuePrepare(peer string, p message.Prepare) transport.PrepareResult {
	return transport.PrepareResult{Peer: peer, Outcome: transport.Issued}
}
func alwaysAccept(peer string, p message.Propose) transport.ProposeResult {
	return transport.ProposeResult{Peer: peer, Outcome: transport.Issued, Accept: message.Accept{Prepare: p.Prepare}}
}
func alwaysLearn(peer string, l message.Learn) transport.LearnResult {
	return transport.LearnResult{Peer: peer, Outcome: transport.Issued, Success: message.NewSuccess(l.Prepare)}
}

func peerAddr(ts *httptest.Server) string {
	return strings.TrimPrefix(ts.URL, "http://")
}

func TestSeekMissingLearnsEntryAbsentLocally(t *testing.T) {
	remote := message.Prepare{ID: ballot.Ballot{Counter: 1, AgentID: "b"}, Key: "foo", Predicate: "set", Argument: "a"}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(remote)
		w.Write(body)
		w.Write([]byte("\n"))
	}))
	defer ts.Close()

	peers := transport.NewPeers("self", []string{"self", peerAddr(ts)})
	current := store.New()
	completed := store.New()
	allocator := ballot.NewAllocator("self")
	pr := proposer.New(allocator, current, completed, peers, &fakeTransport{prepare: alwaysIssuePrepare, propose: alwaysAccept, learn: alwaysLearn})

	s := New(current, completed, peers, pr)
	require.NoError(t, s.SeekMissing(context.Background()))

	got, err := completed.Get("foo")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Prepare.Argument)
}

func TestSeekMissingSkipsAlreadyCompleted(t *testing.T) {
	remote := message.Prepare{ID: ballot.Ballot{Counter: 1, AgentID: "b"}, Key: "foo", Predicate: "set", Argument: "a"}
	called := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		body, _ := json.Marshal(remote)
		w.Write(body)
		w.Write([]byte("\n"))
	}))
	defer ts.Close()

	peers := transport.NewPeers("self", []string{"self", peerAddr(ts)})
	current := store.New()
	completed := store.New()
	completed.Add(message.Promise{Prepare: &remote})
	allocator := ballot.NewAllocator("self")
	pr := proposer.New(allocator, current, completed, peers, &fakeTransport{prepare: alwaysIssuePrepare, propose: alwaysAccept, learn: alwaysLearn})

	s := New(current, completed, peers, pr)
	require.NoError(t, s.SeekMissing(context.Background()))
	assert.Equal(t, 1, called)
	assert.Len(t, completed.OrderedRounds("foo"), 1)
}

func TestSeekMissingWithNoPeersIsNoop(t *testing.T) {
	peers := transport.NewPeers("self", []string{"self"})
	current := store.New()
	completed := store.New()
	allocator := ballot.NewAllocator("self")
	pr := proposer.New(allocator, current, completed, peers, &fakeTransport{prepare: alwaysIssuePrepare, propose: alwaysAccept, learn: alwaysLearn})

	s := New(current, completed, peers, pr)
	assert.NoError(t, s.SeekMissing(context.Background()))
}

func TestSeekDanglingIgnoresFreshEntries(t *testing.T) {
	peers := transport.NewPeers("self", []string{"self", "b"})
	current := store.New()
	completed := store.New()
	pending := message.Prepare{ID: ballot.Ballot{Counter: 1, AgentID: "self"}, Key: "foo", Predicate: "set", Argument: "a"}
	current.Add(message.Promise{Prepare: &pending})

	allocator := ballot.NewAllocator("self")
	pr := proposer.New(allocator, current, completed, peers, &fakeTransport{prepare: alwaysIssuePrepare, propose: alwaysAccept, learn: alwaysLearn})

	clk := &fakeClock{now: time.Unix(1000, 0)}
	s := New(current, completed, peers, pr, WithClock(clk), WithDanglingAge(time.Minute))

	require.NoError(t, s.SeekDangling(context.Background()))
	assert.Empty(t, completed.Keys())
	assert.Contains(t, current.Keys(), "foo")
}

func TestSeekDanglingReDrivesAfterAgeThreshold(t *testing.T) {
	peers := transport.NewPeers("self", []string{"self", "b"})
	current := store.New()
	completed := store.New()
	pending := message.Prepare{ID: ballot.Ballot{Counter: 1, AgentID: "self"}, Key: "foo", Predicate: "set", Argument: "a"}
	current.Add(message.Promise{Prepare: &pending})

	allocator := ballot.NewAllocator("self")
	pr := proposer.New(allocator, current, completed, peers, &fakeTransport{prepare: alwaysIssuePrepare, propose: alwaysAccept, learn: alwaysLearn})

	clk := &fakeClock{now: time.Unix(1000, 0)}
	s := New(current, completed, peers, pr, WithClock(clk), WithDanglingAge(time.Minute))

	require.NoError(t, s.SeekDangling(context.Background()))

	clk.now = clk.now.Add(2 * time.Minute)
	require.NoError(t, s.SeekDangling(context.Background()))

	rounds := completed.OrderedRounds("foo")
	require.Len(t, rounds, 1)
	assert.Equal(t, "a", rounds[0].Argument)
}
