// Package session models one bot's connection to the game server: its state
// subsystems, the dispatcher that applies server events to them and the
// actions scripts and front ends can take.
package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mori-project/mori/internal/events"
	"github.com/mori-project/mori/internal/itemdb"
)

// Transport carries already-framed messages to and from the server.
type Transport interface {
	Send(data []byte) error
	Disconnect() error
}

// UnreliableSender is implemented by transports that can skip delivery
// guarantees for a message.
type UnreliableSender interface {
	SendUnreliable(data []byte) error
}

// Notifier delivers named notifications to script subscribers. Notify runs
// subscribers synchronously on the calling goroutine.
type Notifier interface {
	HasSubscribers(event string) bool
	Notify(event string, args ...any)
}

// DialogHandler answers the next dialog the server opens.
type DialogHandler func(s *Session, text string)

// Options configures a Session.
type Options struct {
	// Context bounds item loading and paced actions. Defaults to Background.
	Context      context.Context
	ID           string
	Credentials  Credentials
	Server       ServerData
	ItemsPath    string
	Items        *itemdb.Store
	Loader       itemdb.Loader
	WorldDecoder WorldDecoder
	Bus          *events.EventBus
	Delays       Delays
	Automation   Automation
	LogCapacity  int
	LogSink      func(botID, line string)
}

// Session is the state of one bot. Each subsystem has its own lock; the
// dispatcher never holds two at once.
type Session struct {
	ID        string
	Auth      *AuthState
	World     *WorldState
	Players   *Players
	Inventory *Inventory
	Runtime   *Runtime
	Movement  *Movement

	baseCtx      context.Context
	items        *itemdb.Store
	loader       itemdb.Loader
	itemsPath    string
	worldDecoder WorldDecoder
	bus          *events.EventBus
	logger       zerolog.Logger

	phaseMu sync.RWMutex
	phase   events.ConnectionPhase

	connMu    sync.RWMutex
	transport Transport

	notifyMu sync.RWMutex
	notifier Notifier

	dialogMu sync.Mutex
	dialog   DialogHandler
}

// New creates a session in the FetchingServerData phase.
func New(opts Options) *Session {
	if opts.Items == nil {
		opts.Items = itemdb.NewStore(nil)
	}
	if opts.WorldDecoder == nil {
		opts.WorldDecoder = HeaderDecoder{}
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.ItemsPath == "" {
		opts.ItemsPath = "items.dat"
	}

	s := &Session{
		ID:           opts.ID,
		Auth:         newAuthState(opts.Credentials, opts.Server),
		World:        newWorldState(),
		Players:      newPlayers(),
		Inventory:    newInventory(),
		Movement:     newMovement(opts.Delays, opts.Automation),
		baseCtx:      opts.Context,
		items:        opts.Items,
		loader:       opts.Loader,
		itemsPath:    opts.ItemsPath,
		worldDecoder: opts.WorldDecoder,
		bus:          opts.Bus,
		logger:       log.With().Str("component", "session").Str("bot", opts.ID).Logger(),
	}

	sink := opts.LogSink
	s.Runtime = newRuntime(opts.LogCapacity, func(line string) {
		if sink != nil {
			sink(s.ID, line)
		}
		s.emit(events.EventLog, events.TextPayload{Text: line})
	})
	return s
}

// Logger returns the session's component logger.
func (s *Session) Logger() zerolog.Logger { return s.logger }

// Items returns the item database in use.
func (s *Session) Items() *itemdb.Database { return s.items.Current() }

func (s *Session) ctx() context.Context { return s.baseCtx }

// Phase returns the connection phase.
func (s *Session) Phase() events.ConnectionPhase {
	s.phaseMu.RLock()
	defer s.phaseMu.RUnlock()
	return s.phase
}

// SetPhase moves to p and announces the change.
func (s *Session) SetPhase(p events.ConnectionPhase) {
	s.phaseMu.Lock()
	old := s.phase
	s.phase = p
	s.phaseMu.Unlock()

	if old != p {
		s.logger.Info().Str("from", old.String()).Str("to", p.String()).Msg("phase changed")
		s.emit(events.EventPhaseChanged, events.PhasePayload{From: old, To: p})
	}
}

// AttachTransport makes t the outbound path.
func (s *Session) AttachTransport(t Transport) {
	s.connMu.Lock()
	s.transport = t
	s.connMu.Unlock()
}

// DetachTransport clears the outbound path and resets world-scoped state.
func (s *Session) DetachTransport() {
	s.connMu.Lock()
	s.transport = nil
	s.connMu.Unlock()

	s.World.reset()
	s.Players.clear()
}

// OnConnected installs t as the transport for a fresh connection to server
// and moves to ConnectingToServer.
func (s *Session) OnConnected(t Transport, server ServerData) {
	s.AttachTransport(t)
	s.SetPhase(events.PhaseConnectingToServer)
	s.emit(events.EventConnected, events.ConnectedPayload{Host: server.Host, Port: server.Port})
}

// OnDisconnected drops the transport after the connection ended. A pending
// redirect keeps the phase so the caller can reconnect to the new target.
func (s *Session) OnDisconnected(reason string) {
	redirecting := s.Runtime.Redirecting()
	s.DetachTransport()
	if !redirecting {
		s.SetPhase(events.PhaseFetchingServerData)
	}
	s.emit(events.EventDisconnected, events.DisconnectedPayload{Reason: reason, Redirecting: redirecting})
}

// ResetLogin abandons any pending redirect and points the next login at
// server.
func (s *Session) ResetLogin(server ServerData) {
	s.Auth.reset(server)
	s.Runtime.setRedirecting(false)
}

// Connected reports whether a transport is attached.
func (s *Session) Connected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.transport != nil
}

func (s *Session) currentTransport() Transport {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.transport
}

// SetNotifier installs the script notification sink.
func (s *Session) SetNotifier(n Notifier) {
	s.notifyMu.Lock()
	s.notifier = n
	s.notifyMu.Unlock()
}

func (s *Session) currentNotifier() Notifier {
	s.notifyMu.RLock()
	defer s.notifyMu.RUnlock()
	return s.notifier
}

func (s *Session) hasSubscribers(event string) bool {
	n := s.currentNotifier()
	return n != nil && n.HasSubscribers(event)
}

func (s *Session) notify(event string, args ...any) {
	if n := s.currentNotifier(); n != nil {
		n.Notify(event, args...)
	}
}

// SetDialogHandler installs the single pending dialog handler, replacing and
// returning any previous one. Pass nil to clear it.
func (s *Session) SetDialogHandler(h DialogHandler) DialogHandler {
	s.dialogMu.Lock()
	defer s.dialogMu.Unlock()
	prev := s.dialog
	s.dialog = h
	return prev
}

func (s *Session) takeDialogHandler() DialogHandler {
	s.dialogMu.Lock()
	defer s.dialogMu.Unlock()
	h := s.dialog
	s.dialog = nil
	return h
}

func (s *Session) emit(t events.EventType, payload interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(s.baseCtx, events.NewEvent(t, s.ID, payload))
}

// Log records a line in the bot log.
func (s *Session) Log(line string) {
	s.logger.Debug().Str("line", line).Msg("bot log")
	s.Runtime.PushLog(line)
}

// Status is a non-blocking summary for observers.
type Status struct {
	ID      string                 `json:"id"`
	Name    string                 `json:"name"`
	Phase   events.ConnectionPhase `json:"status"`
	Gems    int32                  `json:"gems"`
	Ping    uint32                 `json:"ping"`
	World   string                 `json:"world,omitempty"`
	NetID   uint32                 `json:"net_id"`
	UserID  uint32                 `json:"user_id"`
	X       float32                `json:"x"`
	Y       float32                `json:"y"`
	Players int                    `json:"players"`
}

// Status summarizes the session. Busy subsystems are reported with
// placeholder values instead of blocking.
func (s *Session) Status() Status {
	st := Status{
		ID:     s.ID,
		Name:   "Connecting...",
		Phase:  s.Phase(),
		Gems:   s.Inventory.Gems(),
		Ping:   s.Runtime.Ping(),
		NetID:  s.Runtime.NetID(),
		UserID: s.Runtime.UserID(),
	}
	st.X, st.Y = s.Movement.Position()

	if info, err := s.Auth.TryLoginInfo(); err == nil && info.DisplayName != "" {
		st.Name = info.DisplayName
	}
	if name, err := s.World.TryName(); err == nil && name != NoWorld {
		st.World = name
	}
	if players, err := s.Players.TryPlayers(); err == nil {
		st.Players = len(players)
	}
	return st
}
