package core

import "github.com/thanhcanhit/bond-hub-call/internal/domain"

// ContextBus propagates call-state messages between independent contexts
// (the caller's window and a separately opened incoming-call window).
// The lifecycle controller depends only on this interface, never on which
// transport delivered a message; duplicate delivery across buses is
// expected and harmless.
type ContextBus interface {
	Publish(msg domain.BridgeMessage) error
	// Subscribe registers a handler and returns its removal func.
	// Implementations must not deliver a context's own messages back to it.
	Subscribe(fn func(domain.BridgeMessage)) (unsubscribe func())
	Close()
}
