// Package snapshot defines an optional persistence extension point
// for a PromiseStore, left opt-in so the default in-memory
// configuration never pays for a database round trip. cmd/agentd
// loads both stores from it at startup and saves them on shutdown;
// nothing is written before an individual request is answered. A
// single narrow interface covers both the SQLite and Redis backends
// instead of a bespoke query surface per backend.
package snapshot

import (
	"github.com/akellehe/go-paxos/internal/ballot"
	"github.com/akellehe/go-paxos/internal/message"
)

// Record is the unit Snapshotter persists: one store's full contents
// for one key.
type Record struct {
	Store string // "current" or "completed"
	Key   string
	Promises map[ballot.Ballot]message.Promise
}

// Snapshotter persists and restores a PromiseStore's contents. The
// default configuration runs with persistence_driver: none, which
// never constructs a Snapshotter at all, so persistence across
// restart stays entirely opt-in.
type Snapshotter interface {
	// Save persists every (key, ballot, promise) in records, under
	// the named store ("current" or "completed").
	Save(storeName string, records []Record) error
	// Load returns every record previously saved under storeName.
	Load(storeName string) ([]Record, error)
	// Close releases the underlying connection.
	Close() error
}
