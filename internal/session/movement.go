package session

import (
	"math"
	"sync"
	"time"

	"github.com/mori-project/mori/internal/protocol"
)

// Delays are the per-action pacing tunables, in milliseconds.
type Delays struct {
	FindPath uint32 `json:"find_path_ms" yaml:"find_path_ms"`
	Punch    uint32 `json:"punch_ms" yaml:"punch_ms"`
	Place    uint32 `json:"place_ms" yaml:"place_ms"`
}

// DefaultDelays returns the stock pacing.
func DefaultDelays() Delays {
	return Delays{FindPath: 150, Punch: 100, Place: 100}
}

// Automation toggles background behaviours.
type Automation struct {
	AutoCollect    bool `json:"auto_collect" yaml:"auto_collect"`
	AutoReconnect  bool `json:"auto_reconnect" yaml:"auto_reconnect"`
	AutoLeaveOnMod bool `json:"auto_leave_on_mod" yaml:"auto_leave_on_mod"`
}

// DefaultAutomation returns the stock toggles.
func DefaultAutomation() Automation {
	return Automation{AutoCollect: true, AutoReconnect: true, AutoLeaveOnMod: true}
}

// Movement holds the authoritative position and the tunables that pace
// in-world actions.
type Movement struct {
	mu         sync.RWMutex
	x, y       float32
	delays     Delays
	automation Automation
	lastPunch  time.Time
	lastPlace  time.Time
}

func newMovement(d Delays, a Automation) *Movement {
	return &Movement{delays: d, automation: a}
}

// Position returns the bot position in world units.
func (m *Movement) Position() (float32, float32) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.x, m.y
}

// Tile returns the tile the bot stands on.
func (m *Movement) Tile() (int, int) {
	x, y := m.Position()
	return TileCoord(x), TileCoord(y)
}

// TileCoord converts a world coordinate to a tile index.
func TileCoord(v float32) int {
	return int(math.Floor(float64(v) / protocol.TileSize))
}

func (m *Movement) setPosition(x, y float32) {
	m.mu.Lock()
	m.x, m.y = x, y
	m.mu.Unlock()
}

// Delays returns the pacing tunables.
func (m *Movement) Delays() Delays {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.delays
}

// Automation returns the automation toggles.
func (m *Movement) Automation() Automation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.automation
}

func (m *Movement) update(fn func(d *Delays, a *Automation)) {
	m.mu.Lock()
	fn(&m.delays, &m.automation)
	m.mu.Unlock()
}

// pace blocks until at least delay ms have passed since the previous action
// of the same kind.
func (m *Movement) pace(last *time.Time, delayOf func(Delays) uint32) {
	m.mu.Lock()
	wait := time.Duration(delayOf(m.delays))*time.Millisecond - time.Since(*last)
	if wait < 0 {
		wait = 0
	}
	*last = time.Now().Add(wait)
	m.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}
}
