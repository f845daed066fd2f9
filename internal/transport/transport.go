// Package transport carries Prepare/Propose/Learn requests from a
// proposer to its peers and classifies their responses, returning a
// typed result per call rather than pushing raw bytes through a
// shared buffer.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/akellehe/go-paxos/internal/logging"
	"github.com/akellehe/go-paxos/internal/message"
	"github.com/pkg/errors"
)

var log = logging.For("transport")

// Outcome classifies a single peer's response to a Prepare, Propose or
// Learn request.
type Outcome int

const (
	// Issued means the peer accepted the request (a Promise or Accept).
	Issued Outcome = iota
	// Conflicting means the peer rejected the request because it
	// already holds an in-progress promise with a higher ballot, or a
	// completed round at or above the requested ballot.
	Conflicting
	// Failed means the peer did not answer in time, or answered with
	// something transport could not interpret.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Issued:
		return "issued"
	case Conflicting:
		return "conflicting"
	default:
		return "failed"
	}
}

// PrepareResult is one peer's answer to a Prepare.
type PrepareResult struct {
	Peer    string
	Outcome Outcome
	Promise message.Promise
}

// ProposeResult is one peer's answer to a Propose.
type ProposeResult struct {
	Peer    string
	Outcome Outcome
	Accept  message.Accept
}

// LearnResult is one peer's answer to a Learn.
type LearnResult struct {
	Peer    string
	Outcome Outcome
	Success message.Success
}

// Transport sends Paxos RPCs to a single peer. HTTPTransport is the
// production implementation; tests substitute fakes.
type Transport interface {
	SendPrepare(ctx context.Context, peer string, p message.Prepare) PrepareResult
	SendPropose(ctx context.Context, peer string, p message.Propose) ProposeResult
	SendLearn(ctx context.Context, peer string, l message.Learn) LearnResult
}

// HTTPTransport issues Paxos RPCs over plain HTTP POST with a JSON
// body, mirroring the wire shapes the adapter layer exposes.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport builds an HTTPTransport. A nil client falls back
// to http.DefaultClient; callers should instead rely on the
// context deadline passed to each Send* call.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{Client: client}
}

func (t *HTTPTransport) post(ctx context.Context, peer, path string, body interface{}, out interface{}) (int, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, errors.Wrap(err, "marshal request")
	}

	url := peer + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return 0, errors.Wrapf(err, "build request to %s", url)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := t.Client.Do(req)
	if err != nil {
		log.WithField("peer", peer).WithError(err).Debug("peer unreachable")
		return 0, errors.Wrapf(err, "peer %s unreachable", peer)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, errors.Wrap(err, "read response body")
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return res.StatusCode, errors.Wrapf(err, "decode response from %s", peer)
		}
	}
	return res.StatusCode, nil
}

// SendPrepare POSTs p to peer's /prepare endpoint. A 2xx status is
// Issued, 400 is Conflicting, anything else (including a transport
// error or context expiry) is Failed.
func (t *HTTPTransport) SendPrepare(ctx context.Context, peer string, p message.Prepare) PrepareResult {
	var promise message.Promise
	status, err := t.post(ctx, peer, "/prepare", p, &promise)
	outcome := classify(status, err)
	return PrepareResult{Peer: peer, Outcome: outcome, Promise: promise}
}

// SendPropose POSTs p to peer's /propose endpoint.
func (t *HTTPTransport) SendPropose(ctx context.Context, peer string, p message.Propose) ProposeResult {
	var accept message.Accept
	status, err := t.post(ctx, peer, "/propose", p, &accept)
	outcome := classify(status, err)
	return ProposeResult{Peer: peer, Outcome: outcome, Accept: accept}
}

// SendLearn POSTs l to peer's /learn endpoint.
func (t *HTTPTransport) SendLearn(ctx context.Context, peer string, l message.Learn) LearnResult {
	var success message.Success
	status, err := t.post(ctx, peer, "/learn", l, &success)
	outcome := classify(status, err)
	return LearnResult{Peer: peer, Outcome: outcome, Success: success}
}

func classify(status int, err error) Outcome {
	if err != nil {
		return Failed
	}
	switch {
	case status == http.StatusBadRequest:
		return Conflicting
	case status >= 200 && status < 300:
		return Issued
	default:
		return Failed
	}
}

// Peers tracks the agent's own identity against the full peer list so
// callers can compute "everyone but me" or "everyone including me"
// without repeating the filter at every call site.
type Peers struct {
	self string
	all  []string
}

// NewPeers builds a Peers helper. self need not be present in all;
// it is excluded from QuorumMembers()/Others() regardless.
func NewPeers(self string, all []string) Peers {
	return Peers{self: self, all: all}
}

// Others returns every configured peer except self.
func (p Peers) Others() []string {
	out := make([]string, 0, len(p.all))
	for _, addr := range p.all {
		if addr != p.self {
			out = append(out, addr)
		}
	}
	return out
}

// All returns self plus every configured peer, self first.
func (p Peers) All() []string {
	out := make([]string, 0, len(p.all)+1)
	out = append(out, p.self)
	out = append(out, p.Others()...)
	return out
}

// Size returns the total cluster size, counting self once even if
// absent from the configured peer list.
func (p Peers) Size() int {
	return len(p.Others()) + 1
}

// Quorum returns floor(n/2)+1 for a cluster of this size.
func (p Peers) Quorum() int {
	n := p.Size()
	return n/2 + 1
}

// QuorumMembers returns the Quorum()-1 peer addresses the proposer
// contacts for a round, i.e. the quorum minus the implicit self-vote.
// Selection is the prefix of Others() in configured order, which is
// deterministic and sufficient for safety: Paxos only requires that
// some quorum is reached, not which one.
func (p Peers) QuorumMembers() []string {
	need := p.Quorum() - 1
	others := p.Others()
	if need >= len(others) {
		return others
	}
	return others[:need]
}

// Self returns this agent's own address.
func (p Peers) Self() string {
	return p.self
}

// String is used in log fields and error messages.
func (p Peers) String() string {
	return fmt.Sprintf("%s (%d peers, quorum %d)", p.self, p.Size(), p.Quorum())
}
