package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thanhcanhit/bond-hub-call/internal/domain"
)

func TestLifecycleHappyPath(t *testing.T) {
	var seen []domain.CallState
	l := NewLifecycle(func(s domain.CallState) { seen = append(seen, s) })

	assert.Equal(t, domain.StateWaiting, l.State())
	assert.True(t, l.Transition(domain.StateConnecting))
	assert.True(t, l.Transition(domain.StateConnected))
	assert.True(t, l.Transition(domain.StateEnded))
	assert.Equal(t, []domain.CallState{domain.StateConnecting, domain.StateConnected, domain.StateEnded}, seen)
}

func TestLifecycleDuplicateTransitionIsNoop(t *testing.T) {
	fired := 0
	l := NewLifecycle(func(domain.CallState) { fired++ })

	assert.True(t, l.Transition(domain.StateConnecting))
	assert.False(t, l.Transition(domain.StateConnecting))
	assert.False(t, l.Transition(domain.StateConnecting))
	assert.Equal(t, 1, fired)
}

func TestLifecycleIllegalMovesRejected(t *testing.T) {
	l := NewLifecycle(nil)
	assert.False(t, l.Transition(domain.StateConnected), "waiting cannot jump to connected")

	assert.True(t, l.Transition(domain.StateRejected))
	assert.False(t, l.Transition(domain.StateConnecting), "rejected is terminal")
	assert.True(t, l.Transition(domain.StateEnded), "ended is reachable from terminal states")
	assert.False(t, l.Transition(domain.StateEnded), "but only once")
}
