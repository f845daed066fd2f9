// Package seeker runs the periodic anti-entropy passes that let a
// cluster converge even when a Learn fan-out missed a peer or a
// proposer crashed mid-round: SeekMissing pulls commit-log entries a
// peer has that this agent doesn't, SeekDangling re-drives this
// agent's own stuck in-progress rounds. Neither pass is required for
// a single successful write to return; both exist purely for
// liveness under churn.
package seeker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/akellehe/go-paxos/internal/clock"
	"github.com/akellehe/go-paxos/internal/logging"
	"github.com/akellehe/go-paxos/internal/message"
	"github.com/akellehe/go-paxos/internal/metrics"
	"github.com/akellehe/go-paxos/internal/proposer"
	"github.com/akellehe/go-paxos/internal/store"
	"github.com/akellehe/go-paxos/internal/transport"
	"github.com/pkg/errors"
)

var log = logging.For("seeker")

// Seeker periodically reconciles this agent's stores against its
// peers. A Seeker is safe for concurrent use; cmd/agentd invokes
// SeekMissing and then SeekDangling from one periodic ticker goroutine.
type Seeker struct {
	current   *store.Store
	completed *store.Store
	peers     transport.Peers
	proposer  *proposer.Proposer
	client    *http.Client
	clock     clock.Clock

	danglingAge time.Duration
	peerProb    float64

	mu        sync.Mutex
	firstSeen map[string]time.Time
}

// Option configures a Seeker at construction.
type Option func(*Seeker)

// WithDanglingAge overrides the default age a current entry must
// reach before SeekDangling re-drives it.
func WithDanglingAge(d time.Duration) Option {
	return func(s *Seeker) { s.danglingAge = d }
}

// WithPeerProbability overrides the default probability any given
// peer is contacted during a SeekMissing pass, trading completeness
// per pass for network load.
func WithPeerProbability(p float64) Option {
	return func(s *Seeker) { s.peerProb = p }
}

// WithClock overrides the default system clock.
func WithClock(c clock.Clock) Option {
	return func(s *Seeker) { s.clock = c }
}

// WithHTTPClient overrides the default http.Client used to fetch
// peers' /read output.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Seeker) { s.client = c }
}

// New builds a Seeker over the given stores and a Proposer able to
// re-drive dangling rounds.
func New(current, completed *store.Store, peers transport.Peers, pr *proposer.Proposer, opts ...Option) *Seeker {
	s := &Seeker{
		current:     current,
		completed:   completed,
		peers:       peers,
		proposer:    pr,
		client:      http.DefaultClient,
		clock:       clock.System{},
		danglingAge: 30 * time.Second,
		peerProb:    1.0,
		firstSeen:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// extractPeers samples peers.Others() with probability s.peerProb per
// peer, reducing fan-out when a cluster is large.
func (s *Seeker) extractPeers() []string {
	if s.peerProb >= 1.0 {
		return s.peers.Others()
	}
	var picked []string
	for _, peer := range s.peers.Others() {
		if rand.Float64() < s.peerProb {
			picked = append(picked, peer)
		}
	}
	return picked
}

// SeekMissing asks a sampled subset of peers for their full commit
// log and learns, directly into the completed store, any (key, id)
// this agent doesn't already have. It never runs those rounds through
// consensus again: a value a peer already reports as committed was
// already agreed by a quorum when it was first learned there.
func (s *Seeker) SeekMissing(ctx context.Context) error {
	targets := s.extractPeers()
	if len(targets) == 0 {
		log.Debug("no peers selected for this seek-missing pass")
		return nil
	}

	learned := 0
	var firstErr error
	for _, peer := range targets {
		rounds, err := s.fetchReadLog(ctx, peer)
		if err != nil {
			log.WithField("peer", peer).WithError(err).Debug("seek-missing: failed to read peer commit log")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, p := range rounds {
			p := p
			if s.completed.Contains(message.Promise{Prepare: &p}) {
				continue
			}
			s.completed.Add(message.Promise{Prepare: &p})
			learned++
			log.WithField("peer", peer).WithField("key", p.Key).WithField("ballot", p.ID.String()).Debug("seek-missing: learned entry absent locally")
		}
	}

	metrics.SeekRoundsTotal.WithLabelValues("missing").Inc()
	if learned == 0 {
		log.Debug("seek-missing: no new values learned from peers")
	}
	if learned == 0 && firstErr != nil && len(targets) == 1 {
		return errors.Wrap(firstErr, "seek-missing: no peer reachable")
	}
	return nil
}

// fetchReadLog GETs peer's /read endpoint and decodes its
// newline-delimited JSON stream of Prepares.
func (s *Seeker) fetchReadLog(ctx context.Context, peer string) ([]message.Prepare, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/read", peer), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build read request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "execute read request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("peer %s returned status %d from /read", peer, resp.StatusCode)
	}

	var rounds []message.Prepare
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var p message.Prepare
		if err := json.Unmarshal(line, &p); err != nil {
			return nil, errors.Wrap(err, "decode commit log line")
		}
		rounds = append(rounds, p)
	}
	return rounds, scanner.Err()
}

// SeekDangling re-drives any entry in the current store that has sat
// unresolved for longer than danglingAge. It re-enters the full
// Proposer.Write path (a fresh ballot, a fresh quorum round) rather
// than resubmitting the original ballot, since that ballot may already
// have been superseded elsewhere.
func (s *Seeker) SeekDangling(ctx context.Context) error {
	now := s.clock.Now()
	keys := s.current.Keys()

	s.mu.Lock()
	due := make([]string, 0)
	for _, key := range keys {
		seen, ok := s.firstSeen[key]
		if !ok {
			s.firstSeen[key] = now
			continue
		}
		if now.Sub(seen) >= s.danglingAge {
			due = append(due, key)
		}
	}
	// Drop bookkeeping for keys no longer dangling (resolved since the
	// last pass) so a later reappearance starts its age over.
	present := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		present[key] = struct{}{}
	}
	for key := range s.firstSeen {
		if _, ok := present[key]; !ok {
			delete(s.firstSeen, key)
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return nil
	}

	metrics.SeekRoundsTotal.WithLabelValues("dangling").Inc()

	var firstErr error
	for _, key := range due {
		promise, err := s.current.Get(key)
		if err != nil || promise.Prepare == nil {
			continue
		}
		log.WithField("key", key).WithField("ballot", promise.Prepare.ID.String()).Info("seek-dangling: re-driving stuck round")
		if _, err := s.proposer.Write(ctx, key, promise.Prepare.Predicate, promise.Prepare.Argument); err != nil {
			log.WithField("key", key).WithError(err).Warn("seek-dangling: re-drive failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.mu.Lock()
		delete(s.firstSeen, key)
		s.mu.Unlock()
	}
	return firstErr
}
