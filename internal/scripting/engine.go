// Package scripting embeds a Lua interpreter per bot and exposes the bot's
// session to user scripts.
//
// One mutex guards each interpreter. Scripts, event callbacks and
// subscription changes made from Go all run while holding it. Go functions
// called from Lua already hold the lock and never take it again. The only
// place the lock is released mid-script is sleep() at the top level of a
// script, so event callbacks can run while the script waits.
package scripting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Shopify/go-lua"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mori-project/mori/internal/events"
	"github.com/mori-project/mori/internal/session"
)

var (
	// ErrScriptRunning is returned when a script is started while another runs.
	ErrScriptRunning = errors.New("a script is already running")
	// ErrStopped is returned by Run when the script was stopped.
	ErrStopped = errors.New("script stopped")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("script engine closed")
)

// callbacksKey names the registry table that holds subscribed functions.
const callbacksKey = "mori.callbacks"

// ScriptError wraps a Lua load or runtime error.
type ScriptError struct {
	Name string
	Err  error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("script %s: %v", e.Name, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// Engine is one bot's Lua interpreter. It implements session.Notifier.
type Engine struct {
	mu     sync.Mutex
	l      *lua.State
	s      *session.Session
	bus    *events.CallbackBus[int]
	logger zerolog.Logger

	// Guarded by mu.
	nextRef int
	depth   int
	closed  bool

	runMu   sync.Mutex
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
}

// New creates an engine bound to s and installs it as the session's notifier.
func New(s *session.Session) *Engine {
	e := &Engine{
		l:      lua.NewState(),
		s:      s,
		bus:    events.NewCallbackBus[int](),
		logger: log.With().Str("component", "scripting").Str("bot", s.ID).Logger(),
	}
	e.bus.OnError = func(err *events.SubscriberError) {
		s.Log(fmt.Sprintf("callback %s failed: %v", err.Event, err.Err))
	}

	lua.OpenLibraries(e.l)
	e.l.NewTable()
	e.l.SetField(lua.RegistryIndex, callbacksKey)
	e.registerTypes()
	e.registerGlobals()

	s.SetNotifier(e)
	return e
}

// Session returns the session the engine drives.
func (e *Engine) Session() *session.Session { return e.s }

// HasSubscribers reports whether a script listens for event.
func (e *Engine) HasSubscribers(event string) bool {
	return e.bus.HasSubscribers(event)
}

// Subscriptions returns the number of listeners for event.
func (e *Engine) Subscriptions(event string) int {
	return e.bus.Count(event)
}

// Notify calls every script listener of event with args, in subscription
// order, on the calling goroutine.
func (e *Engine) Notify(event string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	e.depth++
	_, released := e.bus.Invoke(event, func(ref int) error {
		return e.callRef(ref, args)
	})
	e.depth--
	e.release(e.l, released)
}

func (e *Engine) callRef(ref int, args []any) error {
	top := e.l.Top()
	defer e.l.SetTop(top)

	if !e.pushRef(ref) {
		// Released earlier in this pass.
		return nil
	}
	for _, a := range args {
		e.push(e.l, a)
	}
	return e.l.ProtectedCall(len(args), 0, 0)
}

// store keeps the function at idx in the callback table and returns its key.
// Keys are never reused.
func (e *Engine) store(l *lua.State, idx int) int {
	idx = l.AbsIndex(idx)
	e.nextRef++
	ref := e.nextRef

	l.Field(lua.RegistryIndex, callbacksKey)
	l.PushValue(idx)
	l.RawSetInt(-2, ref)
	l.Pop(1)
	return ref
}

func (e *Engine) pushRef(ref int) bool {
	e.l.Field(lua.RegistryIndex, callbacksKey)
	e.l.RawGetInt(-1, ref)
	e.l.Remove(-2)
	if e.l.IsNil(-1) {
		e.l.Pop(1)
		return false
	}
	return true
}

func (e *Engine) release(l *lua.State, refs []int) {
	if len(refs) == 0 {
		return
	}
	l.Field(lua.RegistryIndex, callbacksKey)
	for _, ref := range refs {
		l.PushNil()
		l.RawSetInt(-2, ref)
	}
	l.Pop(1)
}

// Run executes source and returns when it finishes, fails or is stopped.
func (e *Engine) Run(ctx context.Context, name, source string) error {
	ctx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	return e.run(ctx, name, source)
}

// Start runs source on a new goroutine. The returned channel receives the
// result once.
func (e *Engine) Start(ctx context.Context, name, source string) (<-chan error, error) {
	ctx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() {
		done <- e.run(ctx, name, source)
	}()
	return done, nil
}

func (e *Engine) begin(ctx context.Context) (context.Context, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return nil, ErrScriptRunning
	}
	e.running = true
	e.runCtx, e.cancel = context.WithCancel(ctx)
	return e.runCtx, nil
}

func (e *Engine) end() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	e.cancel()
	e.running = false
	e.runCtx, e.cancel = nil, nil
}

func (e *Engine) run(ctx context.Context, name, source string) error {
	defer e.end()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	top := e.l.Top()
	defer e.l.SetTop(top)

	e.logger.Info().Str("script", name).Msg("script started")
	if err := lua.LoadBuffer(e.l, source, name, ""); err != nil {
		return &ScriptError{Name: name, Err: err}
	}
	if err := e.l.ProtectedCall(0, 0, 0); err != nil {
		if ctx.Err() != nil {
			e.logger.Info().Str("script", name).Msg("script stopped")
			return ErrStopped
		}
		e.s.Log(fmt.Sprintf("script %s failed: %v", name, err))
		return &ScriptError{Name: name, Err: err}
	}
	e.logger.Info().Str("script", name).Msg("script finished")
	return nil
}

// Running reports whether a script is executing.
func (e *Engine) Running() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.running
}

// Stop cancels the running script. It takes effect at the script's next
// call into the host.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// Close stops any script, drops every listener and detaches from the session.
func (e *Engine) Close() {
	e.Stop()
	e.s.SetNotifier(nil)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.release(e.l, e.bus.UnsubscribeEverything())
}

// stopped raises a Lua error when the running script has been cancelled.
func (e *Engine) stopped(l *lua.State) {
	e.runMu.Lock()
	ctx := e.runCtx
	e.runMu.Unlock()
	if ctx != nil && ctx.Err() != nil && e.depth == 0 {
		lua.Errorf(l, "script stopped")
	}
}

func (e *Engine) currentCtx() context.Context {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.runCtx == nil {
		return context.Background()
	}
	return e.runCtx
}

// sleep pauses the script. At the top level the interpreter lock is released
// while waiting; inside a callback it is kept.
func (e *Engine) sleep(l *lua.State) int {
	d := time.Duration(lua.CheckInteger(l, 1)) * time.Millisecond
	ctx := e.currentCtx()

	if e.depth > 0 {
		time.Sleep(d)
		return 0
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	e.mu.Unlock()
	var cancelled bool
	select {
	case <-ctx.Done():
		cancelled = true
	case <-timer.C:
	}
	e.mu.Lock()

	if cancelled {
		lua.Errorf(l, "script stopped")
	}
	return 0
}
