package ballot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocatorNextIsStrictlyIncreasing(t *testing.T) {
	a := NewAllocator("agent-a")
	prev := a.Next()
	for i := 0; i < 10; i++ {
		next := a.Next()
		assert.True(t, next.Greater(prev), "ballot %s should be greater than %s", next, prev)
		prev = next
	}
}

func TestAllocatorBumpAdvancesPastObserved(t *testing.T) {
	a := NewAllocator("agent-a")
	_ = a.Next() // counter = 1

	a.Bump(Ballot{Counter: 50, AgentID: "agent-b"})
	next := a.Next()
	assert.Equal(t, int64(51), next.Counter)
}

func TestAllocatorBumpNeverGoesBackwards(t *testing.T) {
	a := NewAllocator("agent-a")
	for i := 0; i < 5; i++ {
		a.Next()
	}
	a.Bump(Ballot{Counter: 1, AgentID: "agent-b"})
	next := a.Next()
	assert.Equal(t, int64(6), next.Counter)
}

func TestBallotOrderingIsLexicographic(t *testing.T) {
	lower := Ballot{Counter: 1, AgentID: "z"}
	higher := Ballot{Counter: 2, AgentID: "a"}
	assert.True(t, lower.Less(higher))
	assert.True(t, higher.Greater(lower))

	tieBreakLow := Ballot{Counter: 5, AgentID: "a"}
	tieBreakHigh := Ballot{Counter: 5, AgentID: "b"}
	assert.True(t, tieBreakLow.Less(tieBreakHigh))
	assert.False(t, tieBreakLow.Equal(tieBreakHigh))
}

func TestBallotEqual(t *testing.T) {
	b1 := Ballot{Counter: 3, AgentID: "x"}
	b2 := Ballot{Counter: 3, AgentID: "x"}
	assert.True(t, b1.Equal(b2))
	assert.True(t, b1.GreaterOrEqual(b2))
}

func TestZeroBallotIsSmallestAndIsZero(t *testing.T) {
	assert.True(t, Zero.IsZero())
	a := NewAllocator("agent-a")
	assert.True(t, a.Next().Greater(Zero))
}
