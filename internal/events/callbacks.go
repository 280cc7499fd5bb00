package events

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Token identifies one registration so it can be removed individually.
type Token uint64

// Subscription is a registered handle plus its once flag.
type Subscription[H any] struct {
	Handle H
	Once   bool
	token  Token
}

// SubscriberError wraps a failure raised from inside a subscriber.
type SubscriberError struct {
	Event string
	Err   error
}

func (e *SubscriberError) Error() string {
	return fmt.Sprintf("subscriber for %q failed: %v", e.Event, e.Err)
}

func (e *SubscriberError) Unwrap() error { return e.Err }

// CallbackBus maps event names to insertion-ordered subscriber lists. Invoke
// runs subscribers synchronously on the caller's goroutine. H is an opaque
// handle, e.g. a reference into a script interpreter.
//
// The bus lock is only held while the registry is read or mutated, never while
// a subscriber runs, so subscribers may re-enter the bus.
type CallbackBus[H any] struct {
	mu     sync.Mutex
	subs   map[string][]Subscription[H]
	next   Token
	logger zerolog.Logger

	// OnError receives every SubscriberError after it has been logged.
	OnError func(*SubscriberError)
}

// NewCallbackBus creates an empty registry.
func NewCallbackBus[H any]() *CallbackBus[H] {
	return &CallbackBus[H]{
		subs:   make(map[string][]Subscription[H]),
		logger: log.With().Str("component", "callbacks").Logger(),
	}
}

// Subscribe appends a handle to the event's list.
func (b *CallbackBus[H]) Subscribe(event string, handle H, once bool) Token {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	b.subs[event] = append(b.subs[event], Subscription[H]{Handle: handle, Once: once, token: b.next})

	b.logger.Debug().Str("event", event).Bool("once", once).Msg("callback registered")
	return b.next
}

// Unsubscribe removes a single registration. Unknown tokens are a no-op.
func (b *CallbackBus[H]) Unsubscribe(token Token) (H, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for event, list := range b.subs {
		for i, s := range list {
			if s.token != token {
				continue
			}
			b.removeAt(event, i)
			return s.Handle, true
		}
	}
	var zero H
	return zero, false
}

// UnsubscribeAll removes every subscriber of event and returns their handles
// so the caller can release them.
func (b *CallbackBus[H]) UnsubscribeAll(event string) []H {
	b.mu.Lock()
	defer b.mu.Unlock()

	list, ok := b.subs[event]
	if !ok {
		return nil
	}
	delete(b.subs, event)
	return handles(list)
}

// UnsubscribeEverything clears the registry and returns all removed handles.
func (b *CallbackBus[H]) UnsubscribeEverything() []H {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []H
	for _, list := range b.subs {
		out = append(out, handles(list)...)
	}
	b.subs = make(map[string][]Subscription[H])
	return out
}

// HasSubscribers reports whether Invoke(event) would call anything.
func (b *CallbackBus[H]) HasSubscribers(event string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[event]) > 0
}

// Count returns the number of subscribers registered for event.
func (b *CallbackBus[H]) Count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[event])
}

// Events lists the event names that currently have subscribers.
func (b *CallbackBus[H]) Events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.subs))
	for name := range b.subs {
		out = append(out, name)
	}
	return out
}

// Invoke calls every subscriber registered for event when the call starts, in
// registration order. Errors and panics are logged and do not stop the pass.
// Once-subscribers that fired are removed afterwards and returned, along with
// the number of calls made.
func (b *CallbackBus[H]) Invoke(event string, call func(H) error) (int, []H) {
	b.mu.Lock()
	snapshot := append([]Subscription[H](nil), b.subs[event]...)
	b.mu.Unlock()

	if len(snapshot) == 0 {
		return 0, nil
	}

	var fired []Token
	for _, s := range snapshot {
		if err := b.safeCall(event, call, s.Handle); err != nil {
			serr := &SubscriberError{Event: event, Err: err}
			b.logger.Error().Err(err).Str("event", event).Msg("callback failed")
			if b.OnError != nil {
				b.OnError(serr)
			}
		}
		if s.Once {
			fired = append(fired, s.token)
		}
	}

	if len(fired) == 0 {
		return len(snapshot), nil
	}

	var released []H
	b.mu.Lock()
	for _, tok := range fired {
		list := b.subs[event]
		for i, s := range list {
			if s.token == tok {
				released = append(released, s.Handle)
				b.removeAt(event, i)
				break
			}
		}
	}
	b.mu.Unlock()

	return len(snapshot), released
}

func (b *CallbackBus[H]) safeCall(event string, call func(H) error, h H) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return call(h)
}

// removeAt deletes index i of event's list and prunes the key when empty.
// Caller holds b.mu.
func (b *CallbackBus[H]) removeAt(event string, i int) {
	list := b.subs[event]
	list = append(list[:i:i], list[i+1:]...)
	if len(list) == 0 {
		delete(b.subs, event)
		return
	}
	b.subs[event] = list
}

func handles[H any](list []Subscription[H]) []H {
	out := make([]H, len(list))
	for i, s := range list {
		out[i] = s.Handle
	}
	return out
}

// IsSubscriberError reports whether err came from a subscriber.
func IsSubscriberError(err error) bool {
	var se *SubscriberError
	return errors.As(err, &se)
}
