// Package ballot implements the monotone, process-unique proposal
// numbers that give every Prepare a total order.
package ballot

import (
	"fmt"
	"sync"
)

// Ballot is a totally ordered proposal number. Counter is strictly
// increasing within a single Allocator; AgentID breaks ties between
// allocators in different processes, since a bare integer counter
// alone cannot stay unique once more than one agent can propose.
type Ballot struct {
	Counter int64  `json:"counter"`
	AgentID string `json:"agent_id"`
}

// Zero is the smallest possible ballot, lower than anything a real
// Allocator will ever hand out (allocators start at 1).
var Zero = Ballot{}

// Less reports whether b sorts strictly before other.
func (b Ballot) Less(other Ballot) bool {
	if b.Counter != other.Counter {
		return b.Counter < other.Counter
	}
	return b.AgentID < other.AgentID
}

// Greater reports whether b sorts strictly after other.
func (b Ballot) Greater(other Ballot) bool {
	return other.Less(b)
}

// Equal reports whether b and other are the same ballot.
func (b Ballot) Equal(other Ballot) bool {
	return b.Counter == other.Counter && b.AgentID == other.AgentID
}

// GreaterOrEqual reports whether b sorts at or after other.
func (b Ballot) GreaterOrEqual(other Ballot) bool {
	return b.Equal(other) || b.Greater(other)
}

// IsZero reports whether b is the zero value, i.e. no ballot was ever
// issued.
func (b Ballot) IsZero() bool {
	return b.Counter == 0 && b.AgentID == ""
}

func (b Ballot) String() string {
	return fmt.Sprintf("%d@%s", b.Counter, b.AgentID)
}

// Allocator hands out strictly increasing ballots for one process. A
// cluster with a single fixed proposer could get away with a bare
// incrementing integer, but this cluster lets any agent propose, so
// every Allocator also stamps its AgentID onto each ballot it mints.
//
// The mutex exists regardless of whether the surrounding code ever
// suspends between reading and writing the counter: goroutines are
// multiplexed onto OS threads, so two concurrent HTTP handlers on the
// same agent can call Next or Bump at once even though the Paxos
// logic itself assumes no such races.
type Allocator struct {
	mu      sync.Mutex
	counter int64
	agentID string
}

// NewAllocator constructs an Allocator that stamps agentID onto every
// ballot it mints. Counters start at 1 so the zero Ballot can serve as
// a reliable "no ballot yet" sentinel.
func NewAllocator(agentID string) *Allocator {
	return &Allocator{agentID: agentID}
}

// Next advances the counter and returns the resulting ballot for this
// process.
func (a *Allocator) Next() Ballot {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counter++
	return Ballot{Counter: a.counter, AgentID: a.agentID}
}

// Bump advances the allocator's counter so that every subsequent
// ballot it mints is strictly greater than observed. Called by the
// proposer after a conflict response reveals a higher ballot already
// in play somewhere in the cluster.
func (a *Allocator) Bump(observed Ballot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if observed.Counter > a.counter {
		a.counter = observed.Counter
	}
}

// AgentID returns the identifier stamped onto every ballot this
// allocator mints.
func (a *Allocator) AgentID() string {
	return a.agentID
}
