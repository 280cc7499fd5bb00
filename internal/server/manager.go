package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mori-project/mori/internal/config"
	"github.com/mori-project/mori/internal/db"
	"github.com/mori-project/mori/internal/events"
	"github.com/mori-project/mori/internal/itemdb"
	"github.com/mori-project/mori/internal/scripting"
	"github.com/mori-project/mori/internal/session"
)

// pruneEvery is how many persisted lines a bot writes between prunes.
const pruneEvery = 200

var (
	// ErrBotNotFound is returned for an unknown bot id or name.
	ErrBotNotFound = errors.New("bot not found")
	// ErrDuplicateName is returned when a bot name is already taken.
	ErrDuplicateName = errors.New("bot name already in use")
)

// Options wires a Manager to the process-wide services.
type Options struct {
	Config *config.Config
	Bus    *events.EventBus
	Items  *itemdb.Store
	Loader itemdb.Loader
	// Store, when set, persists every bot log line.
	Store      *db.Store
	Dial       DialFunc
	HTTPClient *http.Client
}

// BotSpec describes a bot to create.
type BotSpec struct {
	Name        string
	Credentials session.Credentials
	// Server overrides the configured game server when non-nil.
	Server *session.ServerData
}

// Manager is the registry of running bots.
type Manager struct {
	mu   sync.RWMutex
	bots map[string]*Instance

	opts    Options
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
}

// NewManager creates a manager whose bots live until ctx ends or Shutdown.
func NewManager(ctx context.Context, opts Options) *Manager {
	if opts.Items == nil {
		opts.Items = itemdb.NewStore(nil)
	}
	if opts.Dial == nil {
		opts.Dial = DialTCP
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	ctx, cancel := context.WithCancel(ctx)

	m := &Manager{
		bots:    make(map[string]*Instance),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		started: time.Now(),
	}
	if opts.Bus != nil {
		opts.Bus.Subscribe(events.EventShutdown, "manager.shutdown", func(context.Context, events.Event) error {
			m.Shutdown()
			return nil
		})
	}
	return m
}

// Uptime returns the time since the manager was created.
func (m *Manager) Uptime() time.Duration {
	return time.Since(m.started)
}

// Items returns the shared item database store.
func (m *Manager) Items() *itemdb.Store {
	return m.opts.Items
}

// Create builds a bot and its script engine. The bot is not connected.
func (m *Manager) Create(spec BotSpec) (*Instance, error) {
	cfg := m.opts.Config
	if spec.Name == "" {
		return nil, fmt.Errorf("bot name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bots {
		if b.Name == spec.Name {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, spec.Name)
		}
	}

	id := uuid.NewString()
	server := session.ServerData{Host: cfg.Server.Host, Port: cfg.Server.Port}
	dataURL := ""
	if !cfg.Server.SkipLoginURL {
		dataURL = cfg.Server.DataURL()
	}
	if spec.Server != nil {
		server, dataURL = *spec.Server, ""
	}

	sess := session.New(session.Options{
		Context:     m.ctx,
		ID:          id,
		Credentials: spec.Credentials,
		Server:      server,
		ItemsPath:   cfg.Items.Path,
		Items:       m.opts.Items,
		Loader:      m.opts.Loader,
		Bus:         m.opts.Bus,
		Delays:      cfg.Delays,
		Automation:  cfg.Automation,
		LogSink:     m.logSink(cfg.Storage.LogRetention),
	})

	inst := &Instance{
		ID:        id,
		Name:      spec.Name,
		CreatedAt: time.Now(),
		Session:   sess,
		Engine:    scripting.New(sess),
		logger:    newInstanceLogger(id, spec.Name),
		baseCtx:   m.ctx,
		initial:   server,
		dataURL:   dataURL,
		dial:      m.opts.Dial,
		client:    m.opts.HTTPClient,
	}
	m.bots[id] = inst

	inst.logger.Info().Str("server", server.Host).Int("port", server.Port).Msg("bot created")
	m.emit(events.EventBotCreated, id, map[string]string{"id": id, "name": spec.Name})
	return inst, nil
}

// logSink persists log lines when a store is configured, pruning each bot's
// history to retention lines.
func (m *Manager) logSink(retention int) func(botID, line string) {
	store := m.opts.Store
	if store == nil {
		return nil
	}
	var written atomic.Int64
	return func(botID, line string) {
		if err := store.AppendLog(botID, line); err != nil {
			log.Warn().Err(err).Str("bot", botID).Msg("failed to persist log line")
			return
		}
		if retention > 0 && written.Add(1)%pruneEvery == 0 {
			if err := store.PruneLogs(botID, retention); err != nil {
				log.Warn().Err(err).Str("bot", botID).Msg("failed to prune logs")
			}
		}
	}
}

// Get finds a bot by id or, failing that, by name.
func (m *Manager) Get(idOrName string) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.bots[idOrName]; ok {
		return b, nil
	}
	for _, b := range m.bots {
		if b.Name == idOrName {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrBotNotFound, idOrName)
}

// List returns every bot, oldest first.
func (m *Manager) List() []*Instance {
	m.mu.RLock()
	out := make([]*Instance, 0, len(m.bots))
	for _, b := range m.bots {
		out = append(out, b)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].Name < out[b].Name
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}

// Count returns the number of bots.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bots)
}

// Remove closes a bot and forgets it, including its persisted logs.
func (m *Manager) Remove(idOrName string) error {
	inst, err := m.Get(idOrName)
	if err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.bots, inst.ID)
	m.mu.Unlock()

	inst.Close()
	if m.opts.Store != nil {
		if err := m.opts.Store.DeleteLogs(inst.ID); err != nil {
			inst.logger.Warn().Err(err).Msg("failed to delete persisted logs")
		}
	}
	m.emit(events.EventBotRemoved, inst.ID, map[string]string{"id": inst.ID, "name": inst.Name})
	return nil
}

// StartConfigured creates every bot in the configuration, starts its script
// and connects the ones marked auto_connect. A bot that fails to start is
// logged and skipped.
func (m *Manager) StartConfigured() int {
	started := 0
	for _, bc := range m.opts.Config.GetBots() {
		inst, err := m.Create(BotSpec{Name: bc.Name, Credentials: bc.Credentials()})
		if err != nil {
			log.Error().Err(err).Str("bot", bc.Name).Msg("failed to create configured bot")
			continue
		}
		if bc.Script != "" {
			if err := inst.RunScriptFile(bc.Script, true); err != nil {
				log.Error().Err(err).Str("bot", bc.Name).Msg("failed to start script")
			}
		}
		if bc.AutoConnect {
			if err := inst.Connect(); err != nil {
				log.Error().Err(err).Str("bot", bc.Name).Msg("failed to connect")
				continue
			}
		}
		started++
	}
	log.Info().Int("started", started).Int("configured", len(m.opts.Config.GetBots())).Msg("configured bots started")
	return started
}

// Shutdown closes every bot concurrently. Later calls are no-ops.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	bots := make([]*Instance, 0, len(m.bots))
	for id, b := range m.bots {
		bots = append(bots, b)
		delete(m.bots, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, b := range bots {
		g.Go(func() error {
			b.Close()
			return nil
		})
	}
	g.Wait()
	m.cancel()

	if len(bots) > 0 {
		log.Info().Int("bots", len(bots)).Msg("all bots closed")
	}
}

func (m *Manager) emit(t events.EventType, source string, payload interface{}) {
	if m.opts.Bus == nil {
		return
	}
	m.opts.Bus.Emit(m.ctx, events.NewEvent(t, source, payload))
}

// LogStore returns the persistent log store, or nil when none is configured.
func (m *Manager) LogStore() *db.Store {
	return m.opts.Store
}

// Config returns the configuration bots are created from.
func (m *Manager) Config() *config.Config {
	return m.opts.Config
}

// Statuses summarizes every bot, oldest first.
func (m *Manager) Statuses() []session.Status {
	bots := m.List()
	out := make([]session.Status, 0, len(bots))
	for _, b := range bots {
		out = append(out, b.Session.Status())
	}
	return out
}
