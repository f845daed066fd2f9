// Package proposer drives one write request through Prepare, Propose
// and Learn rounds to completion, including conflict retry and
// repair of pending earlier rounds discovered along the way.
//
// The Prepare/Propose/Learn fan-out is a single synchronous call
// chain that returns one result for one client write, rather than the
// fire-and-forget recursive retries an always-on automatic proposer
// loop would use. The retry/repair work list is a FIFO queue so a
// round discovered mid-flight gets resolved before the round that
// discovered it.
package proposer

import (
	"container/list"
	"context"
	"time"

	"github.com/akellehe/go-paxos/internal/ballot"
	"github.com/akellehe/go-paxos/internal/clock"
	"github.com/akellehe/go-paxos/internal/logging"
	"github.com/akellehe/go-paxos/internal/message"
	"github.com/akellehe/go-paxos/internal/metrics"
	"github.com/akellehe/go-paxos/internal/store"
	"github.com/akellehe/go-paxos/internal/transport"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

var log = logging.For("proposer")

// LearnPolicy controls how many Learn successes the proposer requires
// before reporting a write as committed.
type LearnPolicy int

const (
	// PolicyQuorum requires only a majority of the cluster (including
	// the implicit self-learn) to Success. This is the default: it
	// trades the stronger all-peers guarantee for availability when a
	// minority of peers is slow or unreachable during Learn.
	PolicyQuorum LearnPolicy = iota
	// PolicyAll requires every peer to Success before a write is
	// reported committed.
	PolicyAll
)

var (
	// ErrQuorumUnavailable is returned when fewer than the required
	// number of peers issued a Promise during Prepare.
	ErrQuorumUnavailable = errors.New("proposer: quorum unavailable during prepare")
	// ErrProposeFailure is returned when fewer than the contacted
	// quorum Accepted a Propose.
	ErrProposeFailure = errors.New("proposer: propose phase failed")
	// ErrLearnShortfall is returned when fewer than the required
	// number of peers acknowledged a Learn.
	ErrLearnShortfall = errors.New("proposer: learn shortfall")
)

// Proposer drives writes for one agent.
type Proposer struct {
	allocator *ballot.Allocator
	current   *store.Store
	completed *store.Store
	peers     transport.Peers
	tr        transport.Transport
	clock     clock.Clock
	timeout   time.Duration
	policy    LearnPolicy
}

// Option configures a Proposer at construction.
type Option func(*Proposer)

// WithLearnPolicy overrides the default PolicyQuorum.
func WithLearnPolicy(policy LearnPolicy) Option {
	return func(p *Proposer) { p.policy = policy }
}

// WithClock overrides the default system clock, used by tests to
// avoid depending on wall-clock timeouts.
func WithClock(c clock.Clock) Option {
	return func(p *Proposer) { p.clock = c }
}

// WithTimeout overrides the default per-RPC deadline.
func WithTimeout(d time.Duration) Option {
	return func(p *Proposer) { p.timeout = d }
}

// New builds a Proposer. current and completed are this agent's own
// promise stores, shared with its Acceptor and Learner.
func New(allocator *ballot.Allocator, current, completed *store.Store, peers transport.Peers, tr transport.Transport, opts ...Option) *Proposer {
	p := &Proposer{
		allocator: allocator,
		current:   current,
		completed: completed,
		peers:     peers,
		tr:        tr,
		clock:     clock.System{},
		timeout:   5 * time.Second,
		policy:    PolicyQuorum,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (pr *Proposer) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithDeadline(ctx, pr.clock.Now().Add(pr.timeout))
}

// Write drives key/predicate/argument through a full Paxos round:
// Prepare for a quorum of promises, repair any pending earlier round
// a peer surfaces, Propose once promised, and Learn once accepted.
func (pr *Proposer) Write(ctx context.Context, key, predicate, argument string) (message.Success, error) {
	timer := prometheus.NewTimer(metrics.WriteDuration)
	defer timer.ObserveDuration()

	initial := message.Prepare{ID: pr.allocator.Next(), Key: key, Predicate: predicate, Argument: argument}
	pr.current.Add(message.Promise{Prepare: &initial})
	originalID := initial.ID

	queue := list.New()
	queue.PushBack(initial)

	for queue.Len() > 0 {
		front := queue.Front()
		queue.Remove(front)
		p := front.Value.(message.Prepare)

		members := pr.peers.QuorumMembers()

		issued, repair, conflictBallot, conflicted := pr.runPrepare(ctx, members, p)

		if conflicted {
			metrics.ConflictsTotal.Inc()
			if !conflictBallot.IsZero() {
				pr.allocator.Bump(conflictBallot)
			}
			bumped := message.Prepare{ID: pr.allocator.Next(), Key: p.Key, Predicate: p.Predicate, Argument: p.Argument}
			if p.ID.Equal(originalID) {
				pr.current.Remove(p)
				pr.current.Add(message.Promise{Prepare: &bumped})
				originalID = bumped.ID
			}
			log.WithField("key", p.Key).WithField("old_ballot", p.ID.String()).WithField("new_ballot", bumped.ID.String()).Debug("conflict: retrying with bumped ballot")
			queue.PushBack(bumped)
			continue
		}

		if issued < len(members) {
			pr.current.Remove(p)
			metrics.WritesTotal.WithLabelValues("quorum_unavailable").Inc()
			return message.Success{}, errors.Wrapf(ErrQuorumUnavailable, "key %s: got %d/%d promises", p.Key, issued, len(members))
		}

		if repair != nil && !pr.current.Contains(message.Promise{Prepare: repair}) {
			metrics.RepairsTotal.Inc()
			log.WithField("key", p.Key).WithField("repair_ballot", repair.ID.String()).Debug("repairing earlier pending round before resuming")
			queue.PushBack(p)
			p = *repair
		}

		if err := pr.runPropose(ctx, members, p); err != nil {
			metrics.WritesTotal.WithLabelValues("propose_failed").Inc()
			return message.Success{}, err
		}

		if err := pr.runLearn(ctx, p); err != nil {
			metrics.WritesTotal.WithLabelValues("learn_shortfall").Inc()
			return message.Success{}, err
		}

		pr.completed.Add(message.Promise{Prepare: &p})
		pr.current.Remove(p)
		pr.current.EvictSuperseded(p.Key, p.ID)

		if p.ID.Equal(originalID) {
			metrics.WritesTotal.WithLabelValues("success").Inc()
			return message.NewSuccess(p), nil
		}
		// This iteration completed a rescued earlier round; loop to
		// resume whatever is left in the queue (typically the
		// original Prepare, now unblocked).
	}

	metrics.WritesTotal.WithLabelValues("queue_drained").Inc()
	return message.Success{}, errors.New("proposer: work queue drained without completing the original round")
}

// runPrepare sends p to members, returning the issued count, the
// highest-ballot repair candidate (if any response carried a
// different Prepare than p), the highest conflicting ballot observed,
// and whether any conflict occurred at all.
func (pr *Proposer) runPrepare(ctx context.Context, members []string, p message.Prepare) (issued int, repair *message.Prepare, highestConflict ballot.Ballot, conflicted bool) {
	for _, peer := range members {
		rpcCtx, cancel := pr.withDeadline(ctx)
		result := pr.tr.SendPrepare(rpcCtx, peer, p)
		cancel()

		switch result.Outcome {
		case transport.Issued:
			issued++
			metrics.PrepareTotal.WithLabelValues("issued").Inc()
			if result.Promise.Prepare != nil && !result.Promise.Prepare.Equal(p) {
				if repair == nil || result.Promise.Prepare.ID.Greater(repair.ID) {
					repair = result.Promise.Prepare
				}
			}
		case transport.Conflicting:
			conflicted = true
			metrics.PrepareTotal.WithLabelValues("conflicting").Inc()
			if result.Promise.Prepare != nil && result.Promise.Prepare.ID.Greater(highestConflict) {
				highestConflict = result.Promise.Prepare.ID
			}
		case transport.Failed:
			metrics.PrepareTotal.WithLabelValues("failed").Inc()
			log.WithField("peer", peer).WithField("key", p.Key).Debug("prepare failed against peer")
		}
	}
	return issued, repair, highestConflict, conflicted
}

// runPropose sends Propose(p) to members. Every contacted peer must
// Accept since a promised ballot cannot later be rejected during
// Propose, but a transport failure still must be surfaced.
func (pr *Proposer) runPropose(ctx context.Context, members []string, p message.Prepare) error {
	accepted := 0
	for _, peer := range members {
		rpcCtx, cancel := pr.withDeadline(ctx)
		result := pr.tr.SendPropose(rpcCtx, peer, message.Propose{Prepare: p})
		cancel()
		if result.Outcome == transport.Issued {
			accepted++
		} else {
			log.WithField("peer", peer).WithField("key", p.Key).Debug("propose failed against peer")
		}
	}
	if accepted < len(members) {
		return errors.Wrapf(ErrProposeFailure, "key %s: got %d/%d accepts", p.Key, accepted, len(members))
	}
	return nil
}

// runLearn fans Learn(p) out to every peer (not just the quorum
// contacted for Prepare/Propose) and checks the configured
// LearnPolicy.
func (pr *Proposer) runLearn(ctx context.Context, p message.Prepare) error {
	successes := 1 // this agent learns its own committed Prepare implicitly.
	for _, peer := range pr.peers.Others() {
		rpcCtx, cancel := pr.withDeadline(ctx)
		result := pr.tr.SendLearn(rpcCtx, peer, message.Learn{Prepare: p})
		cancel()
		if result.Outcome == transport.Issued {
			successes++
			metrics.LearnSuccesses.WithLabelValues("issued").Inc()
		} else {
			metrics.LearnSuccesses.WithLabelValues("failed").Inc()
			log.WithField("peer", peer).WithField("key", p.Key).Debug("learn failed against peer")
		}
	}

	required := pr.peers.Quorum()
	if pr.policy == PolicyAll {
		required = pr.peers.Size()
	}
	if successes < required {
		return errors.Wrapf(ErrLearnShortfall, "key %s: got %d/%d learn successes (policy requires %d)", p.Key, successes, pr.peers.Size(), required)
	}
	return nil
}
