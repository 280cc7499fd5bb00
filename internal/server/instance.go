// Package server owns the running bots: it creates sessions, keeps their
// connections alive and runs their scripts.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mori-project/mori/internal/network"
	"github.com/mori-project/mori/internal/scripting"
	"github.com/mori-project/mori/internal/session"
)

const (
	// MaxRedirects bounds back-to-back redirects before falling back to a
	// fresh login with backoff.
	MaxRedirects = 5
	// ScriptStopTimeout is how long a restart waits for the old script.
	ScriptStopTimeout = 5 * time.Second
)

var (
	// ErrAlreadyConnected is returned by Connect while a connection loop runs.
	ErrAlreadyConnected = errors.New("bot is already connected")
	// ErrNotRunning is returned when there is no connection loop to stop.
	ErrNotRunning = errors.New("bot is not connected")
)

// Conn is a live connection to a game server.
type Conn interface {
	session.Transport
	ReadLoop(ctx context.Context, handle func([]byte)) error
}

// DialFunc opens a connection to addr.
type DialFunc func(ctx context.Context, addr string) (Conn, error)

// DialTCP dials a framed TCP connection.
func DialTCP(ctx context.Context, addr string) (Conn, error) {
	c, err := network.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Instance is one bot: its session, script engine and connection loop.
type Instance struct {
	ID        string
	Name      string
	CreatedAt time.Time
	Session   *session.Session
	Engine    *scripting.Engine

	logger  zerolog.Logger
	baseCtx context.Context
	initial session.ServerData
	dataURL string
	dial    DialFunc
	client  *http.Client

	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	scriptName string
	scriptDone <-chan error
	watcher    *fsnotify.Watcher
}

// Connected reports whether the connection loop is running.
func (i *Instance) Connected() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cancel != nil
}

// Connect starts the connection loop. It returns immediately.
func (i *Instance) Connect() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cancel != nil {
		return ErrAlreadyConnected
	}

	ctx, cancel := context.WithCancel(i.baseCtx)
	done := make(chan struct{})
	i.cancel, i.done = cancel, done
	go func() {
		defer close(done)
		i.run(ctx)
		i.mu.Lock()
		if i.done == done {
			i.cancel, i.done = nil, nil
		}
		i.mu.Unlock()
	}()
	return nil
}

// Disconnect stops the connection loop and waits for it to exit.
func (i *Instance) Disconnect() error {
	i.mu.Lock()
	cancel, done := i.cancel, i.done
	i.cancel, i.done = nil, nil
	i.mu.Unlock()

	if cancel == nil {
		return ErrNotRunning
	}
	cancel()
	<-done
	return nil
}

// run keeps the bot connected until ctx ends. Redirects reconnect at once;
// other disconnects reconnect with backoff when auto-reconnect is on.
func (i *Instance) run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second

	redirects := 0
	for {
		connected, err := i.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			i.logger.Warn().Err(err).Msg("connection attempt failed")
		}

		if connected && i.Session.Runtime.Redirecting() && redirects < MaxRedirects {
			redirects++
			i.logger.Info().Int("redirects", redirects).Msg("following redirect")
			continue
		}
		redirects = 0
		if connected {
			b.Reset()
		}

		if !i.Session.Movement.Automation().AutoReconnect {
			i.logger.Info().Msg("auto-reconnect off, connection loop ends")
			return
		}
		i.Session.ResetLogin(i.initial)

		wait := b.NextBackOff()
		i.logger.Info().Dur("wait", wait).Msg("reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// connectOnce runs a single connection to completion. connected reports
// whether the dial succeeded.
func (i *Instance) connectOnce(ctx context.Context) (connected bool, err error) {
	target := i.Session.Auth.ServerData()
	if i.dataURL != "" && !i.Session.Runtime.Redirecting() {
		sd, err := FetchServerData(ctx, i.client, i.dataURL)
		if err != nil {
			i.Session.Log(fmt.Sprintf("server data request failed: %v", err))
			return false, err
		}
		target = sd
		i.Session.Auth.SetServerData(sd)
	}

	addr := net.JoinHostPort(target.Host, strconv.Itoa(target.Port))
	i.logger.Info().Str("addr", addr).Msg("connecting")
	conn, err := i.dial(ctx, addr)
	if err != nil {
		i.Session.Log(fmt.Sprintf("connect to %s failed: %v", addr, err))
		return false, err
	}

	i.Session.OnConnected(conn, target)
	readErr := conn.ReadLoop(ctx, i.Session.HandleMessage)
	conn.Disconnect()

	reason := "connection closed"
	if readErr != nil {
		reason = readErr.Error()
	}
	i.Session.OnDisconnected(reason)
	i.Session.Log("disconnected: " + reason)
	return true, readErr
}

// RunScript starts source as the bot's script. Only one runs at a time.
func (i *Instance) RunScript(name, source string) error {
	done, err := i.Engine.Start(i.baseCtx, name, source)
	if err != nil {
		return err
	}

	i.mu.Lock()
	i.scriptName, i.scriptDone = name, done
	i.mu.Unlock()

	go func() {
		err := <-done
		switch {
		case err == nil:
			i.logger.Info().Str("script", name).Msg("script finished")
		case errors.Is(err, scripting.ErrStopped):
			i.logger.Info().Str("script", name).Msg("script stopped")
		default:
			i.logger.Warn().Err(err).Str("script", name).Msg("script failed")
		}
	}()
	return nil
}

// StopScript stops the running script and waits up to ScriptStopTimeout for
// it to end.
func (i *Instance) StopScript() error {
	i.mu.Lock()
	done := i.scriptDone
	i.mu.Unlock()

	if !i.Engine.Running() {
		return nil
	}
	i.Engine.Stop()
	if done == nil {
		return nil
	}

	deadline := time.NewTimer(ScriptStopTimeout)
	defer deadline.Stop()
	for i.Engine.Running() {
		select {
		case <-deadline.C:
			return fmt.Errorf("script did not stop within %s", ScriptStopTimeout)
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}

// ScriptName returns the name of the last started script.
func (i *Instance) ScriptName() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.scriptName
}

// RunScriptFile runs the Lua file at path. With watch set, the script is
// restarted whenever the file is written.
func (i *Instance) RunScriptFile(path string, watch bool) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read script %s: %w", path, err)
	}
	if err := i.RunScript(filepath.Base(path), string(source)); err != nil {
		return err
	}
	if watch {
		return i.watchScript(path)
	}
	return nil
}

func (i *Instance) watchScript(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch script: %w", err)
	}
	// Editors often replace files, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch script: %w", err)
	}

	i.mu.Lock()
	if i.watcher != nil {
		i.watcher.Close()
	}
	i.watcher = watcher
	i.mu.Unlock()

	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				i.reloadScript(path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				i.logger.Warn().Err(err).Msg("script watcher error")
			}
		}
	}()
	return nil
}

func (i *Instance) reloadScript(path string) {
	source, err := os.ReadFile(path)
	if err != nil {
		i.logger.Warn().Err(err).Str("path", path).Msg("script reload failed")
		return
	}
	if err := i.StopScript(); err != nil {
		i.logger.Warn().Err(err).Msg("script reload skipped")
		return
	}
	if err := i.RunScript(filepath.Base(path), string(source)); err != nil {
		i.logger.Warn().Err(err).Msg("script reload failed")
		return
	}
	i.Session.Log("script reloaded: " + filepath.Base(path))
}

// Close stops everything the bot runs and detaches the script engine.
func (i *Instance) Close() {
	i.mu.Lock()
	if i.watcher != nil {
		i.watcher.Close()
		i.watcher = nil
	}
	i.mu.Unlock()

	if err := i.Disconnect(); err != nil && !errors.Is(err, ErrNotRunning) {
		i.logger.Warn().Err(err).Msg("disconnect on close")
	}
	i.Engine.Close()
	i.logger.Info().Msg("bot closed")
}

func newInstanceLogger(id, name string) zerolog.Logger {
	return log.With().Str("component", "server").Str("bot", id).Str("name", name).Logger()
}
