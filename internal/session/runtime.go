package session

import (
	"sync"
	"time"
)

// DefaultLogCapacity is the number of log lines kept in memory per bot.
const DefaultLogCapacity = 500

// Runtime holds the counters assigned by the server and the bot log buffer.
type Runtime struct {
	mu          sync.RWMutex
	netID       uint32
	userID      uint32
	ping        uint32
	redirecting bool
	itemsHash   uint32

	logMu    sync.Mutex
	logs     []string
	logStart int
	logCap   int
	sink     func(line string)
}

func newRuntime(capacity int, sink func(string)) *Runtime {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Runtime{logCap: capacity, sink: sink}
}

// NetID returns the bot's own network id.
func (r *Runtime) NetID() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.netID
}

// UserID returns the bot's own user id.
func (r *Runtime) UserID() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userID
}

// Ping returns the last round-trip estimate in milliseconds.
func (r *Runtime) Ping() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ping
}

// Redirecting reports whether the current disconnect is a server redirect.
func (r *Runtime) Redirecting() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.redirecting
}

func (r *Runtime) setIdentity(netID, userID uint32) {
	r.mu.Lock()
	r.netID, r.userID = netID, userID
	r.mu.Unlock()
}

func (r *Runtime) setRedirecting(v bool) {
	r.mu.Lock()
	r.redirecting = v
	r.mu.Unlock()
}

func (r *Runtime) setPing(d time.Duration) {
	r.mu.Lock()
	r.ping = uint32(d.Milliseconds())
	r.mu.Unlock()
}

// expectItemsHash remembers the item-data checksum the server announced.
func (r *Runtime) expectItemsHash(h uint32) {
	r.mu.Lock()
	r.itemsHash = h
	r.mu.Unlock()
}

func (r *Runtime) expectedItemsHash() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.itemsHash
}

// PushLog appends a line to the ring buffer and forwards it to the sink.
func (r *Runtime) PushLog(line string) {
	r.logMu.Lock()
	if len(r.logs) < r.logCap {
		r.logs = append(r.logs, line)
	} else {
		r.logs[r.logStart] = line
		r.logStart = (r.logStart + 1) % r.logCap
	}
	sink := r.sink
	r.logMu.Unlock()

	if sink != nil {
		sink(line)
	}
}

// Logs returns the buffered lines, oldest first.
func (r *Runtime) Logs() []string {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	out := make([]string, 0, len(r.logs))
	out = append(out, r.logs[r.logStart:]...)
	return append(out, r.logs[:r.logStart]...)
}
