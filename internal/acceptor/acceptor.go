// Package acceptor implements the Prepare and Propose sub-handlers an
// agent exposes to proposers, answering each Prepare with one of three
// outcomes (Reject, RepairHint, fresh Promise) rather than a binary
// retry-or-promise response.
package acceptor

import (
	"net/http"

	"github.com/akellehe/go-paxos/internal/logging"
	"github.com/akellehe/go-paxos/internal/message"
	"github.com/akellehe/go-paxos/internal/store"
	"github.com/pkg/errors"
)

var log = logging.For("acceptor")

// ErrInvariantViolation is returned when an incoming Prepare carries
// the exact ballot already held in current for that key. The ballot
// allocator guarantees this can't happen when the cluster behaves;
// it is surfaced as an ordinary error rather than a panic so a caller
// can log and continue instead of crashing the process.
var ErrInvariantViolation = errors.New("acceptor: prepare ballot collides with an in-progress promise")

// Acceptor arbitrates Prepare and Propose requests against the two
// promise stores of one agent.
type Acceptor struct {
	current   *store.Store
	completed *store.Store
}

// New builds an Acceptor over the given current/completed stores.
func New(current, completed *store.Store) *Acceptor {
	return &Acceptor{current: current, completed: completed}
}

// PrepareResponse is the tri-valued result of HandlePrepare:
// Reject and RepairHint both carry a non-nil Prepare in Promise, a
// fresh Promise carries none. Status mirrors the HTTP code the
// adapter layer should answer with.
type PrepareResponse struct {
	Status  int
	Promise message.Promise
}

// HandlePrepare evaluates the Prepare decision table top to bottom,
// first match wins.
func (a *Acceptor) HandlePrepare(p message.Prepare) (PrepareResponse, error) {
	cur, curErr := a.current.Get(p.Key)
	hasCurrent := curErr == nil
	last, lastErr := a.completed.Get(p.Key)
	hasCompleted := lastErr == nil

	if hasCurrent && cur.Prepare.ID.Equal(p.ID) {
		log.WithField("key", p.Key).WithField("ballot", p.ID.String()).Error("ballot collision on prepare")
		return PrepareResponse{}, errors.Wrapf(ErrInvariantViolation, "key %s ballot %s", p.Key, p.ID)
	}

	if hasCurrent && cur.Prepare.ID.Greater(p.ID) {
		log.WithField("key", p.Key).Debug("rejecting prepare: lower than in-progress promise")
		return PrepareResponse{Status: http.StatusBadRequest, Promise: cur}, nil
	}

	if hasCurrent {
		// cur.Prepare.ID < p.ID here.
		if !hasCompleted || cur.Prepare.ID.Greater(last.Prepare.ID) {
			log.WithField("key", p.Key).Debug("surfacing repair hint for in-progress promise")
			return PrepareResponse{Status: http.StatusOK, Promise: cur}, nil
		}
		log.WithField("key", p.Key).WithField("ballot", p.ID.String()).Debug("issuing fresh promise over a stale in-progress entry")
		return PrepareResponse{Status: http.StatusOK, Promise: message.Promise{}}, nil
	}

	if !hasCompleted || p.ID.Greater(last.Prepare.ID) {
		a.current.Add(message.Promise{Prepare: &p})
		log.WithField("key", p.Key).WithField("ballot", p.ID.String()).Debug("issuing fresh promise")
		return PrepareResponse{Status: http.StatusOK, Promise: message.Promise{}}, nil
	}

	log.WithField("key", p.Key).Debug("rejecting prepare: not above highest completed ballot")
	return PrepareResponse{Status: http.StatusBadRequest, Promise: last}, nil
}

// HandlePropose unconditionally removes the matching current entry
// and returns an Accept, regardless of whether the entry was present.
// There is deliberately no ballot re-check here: the proposer is
// already authorized by a Prepare quorum, and re-checking here would
// race with concurrent Prepares without buying additional safety.
func (a *Acceptor) HandlePropose(p message.Propose) message.Accept {
	a.current.Remove(p.Prepare)
	log.WithField("key", p.Prepare.Key).WithField("ballot", p.Prepare.ID.String()).Debug("accepted propose")
	return message.Accept{Prepare: p.Prepare}
}
