// Package message defines the wire contracts exchanged between
// agents: Prepare, Promise, Propose, Accept, Learn and Success.
//
// Rather than a base message type with send/fanout methods attached
// to every kind, each kind is its own small struct whose payload is
// always a Prepare, and sending lives in internal/transport (one
// Transport method per request kind) rather than in methods inherited
// down a type hierarchy.
package message

import (
	"github.com/akellehe/go-paxos/internal/ballot"
)

// Prepare is the canonical carrier of proposal identity: a ballot, the
// record key it concerns, and the opaque payload being proposed for
// that key.
type Prepare struct {
	ID        ballot.Ballot `json:"id"`
	Key       string        `json:"key"`
	Predicate string        `json:"predicate"`
	Argument  string        `json:"argument"`
}

// Equal compares two Prepares by value, used by the proposer to detect
// whether a repaired promise carries a different round than the one
// it's currently driving.
func (p Prepare) Equal(other Prepare) bool {
	return p.ID.Equal(other.ID) && p.Key == other.Key &&
		p.Predicate == other.Predicate && p.Argument == other.Argument
}

// Promise wraps a Prepare to mean "this acceptor has promised to
// honor ballots >= ID for Key". A nil Prepare is a bare acknowledgement
// with no prior or repaired round attached.
type Promise struct {
	Prepare *Prepare `json:"prepare"`
}

// Propose wraps the Prepare the proposer wants to commit.
type Propose struct {
	Prepare Prepare `json:"prepare"`
}

// Accept is the acceptor's positive response to a Propose.
type Accept struct {
	Prepare Prepare `json:"prepare"`
}

// Learn wraps the Prepare being committed, sent by the proposer to
// every peer in the Learn phase.
type Learn struct {
	Prepare Prepare `json:"prepare"`
}

// Success is the learner's positive response to a Learn, and also the
// shape returned to the client on a completed write.
type Success struct {
	Status  string  `json:"status"`
	Prepare Prepare `json:"prepare"`
}

// StatusSuccess is the only value Success.Status ever takes; it is a
// field rather than a bare 200 because clients read the response body
// directly off the wire.
const StatusSuccess = "SUCCESS"

// NewSuccess builds a Success response for the given committed
// Prepare.
func NewSuccess(p Prepare) Success {
	return Success{Status: StatusSuccess, Prepare: p}
}
