// Package store implements the per-agent Promise stores: current (the
// in-progress promises populated at Prepare and cleared at Propose)
// and completed (learned rounds, populated at Learn and never
// mutated).
//
// Keyed first by record key then by ballot, the way a defaultdict of
// dicts keyed (key, ballot) would be, rather than by a single
// incrementing row id the way a SQL-table-backed store might be.
package store

import (
	"sync"

	"github.com/akellehe/go-paxos/internal/ballot"
	"github.com/akellehe/go-paxos/internal/logging"
	"github.com/akellehe/go-paxos/internal/message"
	"github.com/pkg/errors"
)

// ErrNotFound is returned by Get/HighestNumbered when no promise
// exists for the requested key.
var ErrNotFound = errors.New("store: no promise for key")

var log = logging.For("store")

// Store is a mapping key -> (ballot -> Promise). It backs both the
// current and completed stores of an agent; each agent constructs two
// independent instances.
type Store struct {
	mu    sync.Mutex
	byKey map[string]map[ballot.Ballot]message.Promise
	// ordered records promises in the order Add was called, used only
	// by the completed store to answer Read requests.
	ordered []message.Prepare
}

// New constructs an empty Store.
func New() *Store {
	return &Store{byKey: make(map[string]map[ballot.Ballot]message.Promise)}
}

// Add inserts promise at store[key][id]. Overwriting the same
// (key, id) pair is idempotent.
func (s *Store) Add(promise message.Promise) {
	if promise.Prepare == nil {
		log.Warn("refusing to add an empty promise")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := promise.Prepare.Key
	id := promise.Prepare.ID
	if s.byKey[key] == nil {
		s.byKey[key] = make(map[ballot.Ballot]message.Promise)
	}
	if _, exists := s.byKey[key][id]; !exists {
		s.ordered = append(s.ordered, *promise.Prepare)
	}
	s.byKey[key][id] = promise
}

// Remove deletes store[prepare.Key][prepare.ID]. Absence is logged,
// not treated as an error, and the inner map is pruned once empty.
func (s *Store) Remove(prepare message.Prepare) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inner, ok := s.byKey[prepare.Key]
	if !ok {
		log.WithField("key", prepare.Key).Debug("remove: no entries for key")
		return
	}
	if _, ok := inner[prepare.ID]; !ok {
		log.WithField("key", prepare.Key).WithField("ballot", prepare.ID.String()).Debug("remove: already absent")
		return
	}
	delete(inner, prepare.ID)
	if len(inner) == 0 {
		delete(s.byKey, prepare.Key)
	}
}

// Get returns the promise with the maximum ballot for key, or
// ErrNotFound.
func (s *Store) Get(key string) (message.Promise, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highestLocked(key)
}

func (s *Store) highestLocked(key string) (message.Promise, error) {
	inner := s.byKey[key]
	if len(inner) == 0 {
		return message.Promise{}, ErrNotFound
	}
	var best ballot.Ballot
	var bestPromise message.Promise
	first := true
	for id, promise := range inner {
		if first || id.Greater(best) {
			best = id
			bestPromise = promise
			first = false
		}
	}
	return bestPromise, nil
}

// HighestNumbered returns the promise with the maximum ballot for key
// if key is non-empty, or the maximum-ballot promise across every key
// otherwise. Ties cannot arise in practice because a ballot is unique
// per store by construction.
func (s *Store) HighestNumbered(key string) (message.Promise, error) {
	if key != "" {
		return s.Get(key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var best message.Promise
	var bestID ballot.Ballot
	found := false
	for k := range s.byKey {
		promise, err := s.highestLocked(k)
		if err != nil {
			continue
		}
		if !found || promise.Prepare.ID.Greater(bestID) {
			best = promise
			bestID = promise.Prepare.ID
			found = true
		}
	}
	if !found {
		return message.Promise{}, ErrNotFound
	}
	return best, nil
}

// Contains reports whether promise is present by (key, id).
func (s *Store) Contains(promise message.Promise) bool {
	if promise.Prepare == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inner, ok := s.byKey[promise.Prepare.Key]
	if !ok {
		return false
	}
	_, ok = inner[promise.Prepare.ID]
	return ok
}

// Clear empties the store, useful for resetting fixtures between test
// cases.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey = make(map[string]map[ballot.Ballot]message.Promise)
	s.ordered = nil
}

// EvictSuperseded removes every current[key] entry whose ballot is
// less than or equal to supersededBy. The proposer calls this with
// the ballot it just learned for key, bounding a possible RepairHint
// livelock: a promise that can never again be the highest for its key
// has no reason to keep surfacing itself as a repair target.
func (s *Store) EvictSuperseded(key string, supersededBy ballot.Ballot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inner, ok := s.byKey[key]
	if !ok {
		return
	}
	for id := range inner {
		if supersededBy.GreaterOrEqual(id) {
			delete(inner, id)
		}
	}
	if len(inner) == 0 {
		delete(s.byKey, key)
	}
}

// OrderedRounds returns the Prepares added to this store in add order,
// restricted to key when key is non-empty. This is the per-agent
// append-only commit log the read path serves from; it is meaningful
// only on the completed store.
func (s *Store) OrderedRounds(key string) []message.Prepare {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == "" {
		out := make([]message.Prepare, len(s.ordered))
		copy(out, s.ordered)
		return out
	}
	var out []message.Prepare
	for _, p := range s.ordered {
		if p.Key == key {
			out = append(out, p)
		}
	}
	return out
}

// Keys returns every record key with at least one promise in the
// store, in no particular order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.byKey))
	for k := range s.byKey {
		keys = append(keys, k)
	}
	return keys
}

// Snapshot returns a deep copy of the store's contents, used by
// cmd/agentd to hand them to a snapshot.Snapshotter without holding
// the store's lock for the duration of I/O.
func (s *Store) Snapshot() map[string]map[ballot.Ballot]message.Promise {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[ballot.Ballot]message.Promise, len(s.byKey))
	for key, inner := range s.byKey {
		innerCopy := make(map[ballot.Ballot]message.Promise, len(inner))
		for id, promise := range inner {
			innerCopy[id] = promise
		}
		out[key] = innerCopy
	}
	return out
}

// Restore replaces the store's contents with snapshot, used when
// loading from a Snapshotter at startup. The original add order is not
// part of a snapshot: OrderedRounds afterwards lists the restored
// entries in no particular order.
func (s *Store) Restore(snapshot map[string]map[ballot.Ballot]message.Promise) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey = make(map[string]map[ballot.Ballot]message.Promise, len(snapshot))
	s.ordered = nil
	for key, inner := range snapshot {
		innerCopy := make(map[ballot.Ballot]message.Promise, len(inner))
		for id, promise := range inner {
			innerCopy[id] = promise
			if promise.Prepare != nil {
				s.ordered = append(s.ordered, *promise.Prepare)
			}
		}
		s.byKey[key] = innerCopy
	}
}
