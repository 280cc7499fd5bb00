package session

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/mori-project/mori/internal/protocol"
)

// NoWorld is the world name meaning "not in a world".
const NoWorld = "EXIT"

// TileKind discriminates tiles whose extra data matters to scripts.
type TileKind uint8

const (
	TileBasic TileKind = iota
	TileSeed
	TileLock
	TileDoor
)

// Tile is one cell of the world grid.
type Tile struct {
	X          uint32   `json:"x"`
	Y          uint32   `json:"y"`
	Foreground uint16   `json:"foreground"`
	Background uint16   `json:"background"`
	Kind       TileKind `json:"kind"`
	// Lock data, set when Kind is TileLock.
	LockOwner uint32   `json:"lock_owner,omitempty"`
	Access    []uint32 `json:"access,omitempty"`
}

// DroppedItem is an item lying in the world.
type DroppedItem struct {
	UID   uint32  `json:"uid"`
	ID    uint16  `json:"id"`
	X     float32 `json:"x"`
	Y     float32 `json:"y"`
	Count uint8   `json:"count"`
}

// World is the model of the world the bot is in.
type World struct {
	Name    string        `json:"name"`
	Width   uint32        `json:"width"`
	Height  uint32        `json:"height"`
	Tiles   []Tile        `json:"tiles,omitempty"`
	Dropped []DroppedItem `json:"dropped,omitempty"`
	lastUID uint32
}

// InWorld reports whether the world is an actual world.
func (w *World) InWorld() bool {
	return w.Name != NoWorld && w.Name != ""
}

// Tile returns the tile at (x, y), or false when out of range.
func (w *World) Tile(x, y int) (Tile, bool) {
	if x < 0 || y < 0 || uint32(x) >= w.Width || uint32(y) >= w.Height {
		return Tile{}, false
	}
	i := y*int(w.Width) + x
	if i >= len(w.Tiles) {
		return Tile{}, false
	}
	return w.Tiles[i], true
}

func (w World) clone() World {
	w.Tiles = append([]Tile(nil), w.Tiles...)
	w.Dropped = append([]DroppedItem(nil), w.Dropped...)
	return w
}

// WorldDecoder turns SendMapData payloads into a World.
type WorldDecoder interface {
	DecodeWorld(data []byte) (World, error)
}

// WorldState guards the current World.
type WorldState struct {
	mu    sync.RWMutex
	world World
}

func newWorldState() *WorldState {
	return &WorldState{world: World{Name: NoWorld}}
}

// Snapshot returns a deep copy of the world.
func (s *WorldState) Snapshot() World {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.world.clone()
}

// TryWorld is Snapshot without waiting on a held lock.
func (s *WorldState) TryWorld() (World, error) {
	if !s.mu.TryRLock() {
		return World{}, ErrUnavailable
	}
	defer s.mu.RUnlock()
	return s.world.clone(), nil
}

// Name returns the world name.
func (s *WorldState) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.world.Name
}

// TryName is Name without waiting on a held lock.
func (s *WorldState) TryName() (string, error) {
	if !s.mu.TryRLock() {
		return "", ErrUnavailable
	}
	defer s.mu.RUnlock()
	return s.world.Name, nil
}

// InWorld reports whether a world is loaded.
func (s *WorldState) InWorld() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.world.InWorld()
}

// TryInWorld reports false when the lock is busy.
func (s *WorldState) TryInWorld() bool {
	if !s.mu.TryRLock() {
		return false
	}
	defer s.mu.RUnlock()
	return s.world.InWorld()
}

// Tile returns one tile.
func (s *WorldState) Tile(x, y int) (Tile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.world.Tile(x, y)
}

// Dropped returns the dropped items.
func (s *WorldState) Dropped() []DroppedItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]DroppedItem(nil), s.world.Dropped...)
}

func (s *WorldState) replace(w World) {
	s.mu.Lock()
	s.world = w
	s.mu.Unlock()
}

func (s *WorldState) reset() {
	s.replace(World{Name: NoWorld})
}

// applyItemChange applies an ItemChangeObject packet and returns the removed
// item when one was collected.
func (s *WorldState) applyItemChange(p protocol.GamePacket) (DroppedItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := &s.world

	switch int32(p.NetID) {
	case -1:
		w.lastUID++
		w.Dropped = append(w.Dropped, DroppedItem{
			UID:   w.lastUID,
			ID:    uint16(p.Value),
			X:     p.VecX,
			Y:     p.VecY,
			Count: uint8(p.FloatVar),
		})
	case -3:
		for i := range w.Dropped {
			d := &w.Dropped[i]
			if uint32(d.ID) == p.Value && sameTile(d.X, d.Y, p.VecX, p.VecY) {
				d.Count = uint8(p.FloatVar)
				break
			}
		}
	default:
		for i, d := range w.Dropped {
			if d.UID == p.Value {
				w.Dropped = append(w.Dropped[:i], w.Dropped[i+1:]...)
				return d, true
			}
		}
	}
	return DroppedItem{}, false
}

func sameTile(x1, y1, x2, y2 float32) bool {
	return tileOf(x1) == tileOf(x2) && tileOf(y1) == tileOf(y2)
}

func tileOf(v float32) int {
	return int(math.Floor(float64(v) / protocol.TileSize))
}

// HeaderDecoder reads only the world header (name and dimensions) and leaves
// the tile grid empty. Tile data layouts vary per item type and need an
// item-aware decoder.
type HeaderDecoder struct{}

// DecodeWorld parses [version:2][flags:4][name_len:2][name][width:4][height:4].
func (HeaderDecoder) DecodeWorld(data []byte) (World, error) {
	r := bytes.NewReader(data)
	var hdr struct {
		Version uint16
		Flags   uint32
		NameLen uint16
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return World{}, fmt.Errorf("failed to read world header: %w", err)
	}
	name := make([]byte, hdr.NameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return World{}, fmt.Errorf("failed to read world name: %w", err)
	}
	var dims struct{ Width, Height uint32 }
	if err := binary.Read(r, binary.LittleEndian, &dims); err != nil {
		return World{}, fmt.Errorf("failed to read world size: %w", err)
	}
	return World{Name: string(name), Width: dims.Width, Height: dims.Height}, nil
}
