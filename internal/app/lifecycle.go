package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thanhcanhit/bond-hub-call/internal/domain"
)

// Lifecycle guards the call state machine of one session. Transition is the
// only way to move; it reports whether the move actually happened, so every
// side effect of entering a state runs exactly once no matter how many
// duplicate triggers arrive.
type Lifecycle struct {
	mu       sync.Mutex
	state    domain.CallState
	onChange func(domain.CallState)
}

func NewLifecycle(onChange func(domain.CallState)) *Lifecycle {
	return &Lifecycle{state: domain.StateWaiting, onChange: onChange}
}

func (l *Lifecycle) State() domain.CallState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Transition moves to the given state if the move is legal and not a
// repeat. Duplicate and illegal requests return false without side effects.
func (l *Lifecycle) Transition(to domain.CallState) bool {
	l.mu.Lock()
	from := l.state
	if from == to || !from.CanTransition(to) {
		l.mu.Unlock()
		log.Debug().
			Str("module", "app").
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("transition skipped")
		return false
	}
	l.state = to
	fn := l.onChange
	l.mu.Unlock()

	log.Info().
		Str("module", "app").
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("call state changed")
	if fn != nil {
		fn(to)
	}
	return true
}
