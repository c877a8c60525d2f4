// Package bus carries call-state messages between browsing contexts over
// two interchangeable transports: an in-process hub and a websocket link
// through a local broker. The session layer treats them identically.
package bus

import (
	"sync"

	"github.com/thanhcanhit/bond-hub-call/internal/core"
	"github.com/thanhcanhit/bond-hub-call/internal/domain"
)

// Hub is the in-process broadcast channel: every endpoint sees every other
// endpoint's messages, never its own.
type Hub struct {
	mu        sync.RWMutex
	endpoints map[*Endpoint]struct{}
	closed    bool
}

func NewHub() *Hub {
	return &Hub{endpoints: make(map[*Endpoint]struct{})}
}

// Endpoint creates a bus handle for one context.
func (h *Hub) Endpoint() *Endpoint {
	e := &Endpoint{hub: h, handlers: make(map[int]func(domain.BridgeMessage))}
	h.mu.Lock()
	if !h.closed {
		h.endpoints[e] = struct{}{}
	}
	h.mu.Unlock()
	return e
}

func (h *Hub) fanout(from *Endpoint, msg domain.BridgeMessage) {
	h.mu.RLock()
	targets := make([]*Endpoint, 0, len(h.endpoints))
	for e := range h.endpoints {
		if e != from {
			targets = append(targets, e)
		}
	}
	h.mu.RUnlock()

	for _, e := range targets {
		e.deliver(msg)
	}
}

func (h *Hub) drop(e *Endpoint) {
	h.mu.Lock()
	delete(h.endpoints, e)
	h.mu.Unlock()
}

func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.endpoints = make(map[*Endpoint]struct{})
	h.mu.Unlock()
}

// Endpoint implements core.ContextBus over the hub.
type Endpoint struct {
	hub *Hub

	mu       sync.Mutex
	handlers map[int]func(domain.BridgeMessage)
	next     int
	closed   bool
}

var _ core.ContextBus = (*Endpoint)(nil)

func (e *Endpoint) Publish(msg domain.BridgeMessage) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil
	}
	e.hub.fanout(e, msg)
	return nil
}

func (e *Endpoint) Subscribe(fn func(domain.BridgeMessage)) func() {
	e.mu.Lock()
	id := e.next
	e.next++
	e.handlers[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.handlers, id)
		e.mu.Unlock()
	}
}

func (e *Endpoint) deliver(msg domain.BridgeMessage) {
	e.mu.Lock()
	fns := make([]func(domain.BridgeMessage), 0, len(e.handlers))
	for _, fn := range e.handlers {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}

func (e *Endpoint) Close() {
	e.mu.Lock()
	e.closed = true
	e.handlers = make(map[int]func(domain.BridgeMessage))
	e.mu.Unlock()
	e.hub.drop(e)
}
