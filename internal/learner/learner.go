// Package learner records committed rounds. Flooding a newly learned
// value out to other peers is the proposer's job, not the learner's:
// this Learner is a pure recorder and never originates a send.
package learner

import (
	"github.com/akellehe/go-paxos/internal/logging"
	"github.com/akellehe/go-paxos/internal/message"
	"github.com/akellehe/go-paxos/internal/store"
)

var log = logging.For("learner")

// Learner appends Learn requests to a completed Promise store.
type Learner struct {
	completed *store.Store
}

// New builds a Learner over the given completed store.
func New(completed *store.Store) *Learner {
	return &Learner{completed: completed}
}

// HandleLearn records l.Prepare in completed and returns Success.
// Last-write-wins on a repeated (key, id) is benign under Paxos
// safety: two Learns for the same ballot always carry the same
// value, so re-adding is a no-op in effect.
func (l *Learner) HandleLearn(learn message.Learn) message.Success {
	l.completed.Add(message.Promise{Prepare: &learn.Prepare})
	log.WithField("key", learn.Prepare.Key).WithField("ballot", learn.Prepare.ID.String()).Debug("learned")
	return message.NewSuccess(learn.Prepare)
}
