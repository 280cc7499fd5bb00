package session

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
)

// Slot is one inventory entry.
type Slot struct {
	ID     uint16 `json:"id"`
	Amount uint8  `json:"amount"`
	Flags  uint8  `json:"flags,omitempty"`
}

// InventorySnapshot is a point-in-time copy of the inventory.
type InventorySnapshot struct {
	Gems  int32  `json:"gems"`
	Size  uint32 `json:"size"`
	Items []Slot `json:"items"`
}

// Inventory holds currency and item slots.
type Inventory struct {
	mu    sync.RWMutex
	gems  int32
	size  uint32
	slots map[uint16]Slot
}

func newInventory() *Inventory {
	return &Inventory{slots: make(map[uint16]Slot)}
}

// Gems returns the currency balance.
func (inv *Inventory) Gems() int32 {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.gems
}

func (inv *Inventory) addGems(delta int32) int32 {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.gems += delta
	return inv.gems
}

// Count returns how many of id are held.
func (inv *Inventory) Count(id uint16) uint8 {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.slots[id].Amount
}

// Has reports whether at least min of id are held.
func (inv *Inventory) Has(id uint16, min uint8) bool {
	return inv.Count(id) >= min
}

// SizeAndCount returns the capacity and the number of used slots.
func (inv *Inventory) SizeAndCount() (uint32, int) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.size, len(inv.slots)
}

// IsFull reports whether every slot is used.
func (inv *Inventory) IsFull() bool {
	size, count := inv.SizeAndCount()
	return uint32(count) >= size
}

// Snapshot returns a copy with slots ordered by item id.
func (inv *Inventory) Snapshot() InventorySnapshot {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.snapshot()
}

// TryInventory is Snapshot without waiting on a held lock.
func (inv *Inventory) TryInventory() (InventorySnapshot, error) {
	if !inv.mu.TryRLock() {
		return InventorySnapshot{}, ErrUnavailable
	}
	defer inv.mu.RUnlock()
	return inv.snapshot(), nil
}

func (inv *Inventory) snapshot() InventorySnapshot {
	items := make([]Slot, 0, len(inv.slots))
	for _, s := range inv.slots {
		items = append(items, s)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return InventorySnapshot{Gems: inv.gems, Size: inv.size, Items: items}
}

func (inv *Inventory) replace(size uint32, slots []Slot) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.size = size
	inv.slots = make(map[uint16]Slot, len(slots))
	for _, s := range slots {
		inv.slots[s.ID] = s
	}
}

// adjust adds delta to an item count, dropping the slot at zero.
func (inv *Inventory) adjust(id uint16, delta int) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	s := inv.slots[id]
	n := int(s.Amount) + delta
	switch {
	case n <= 0:
		delete(inv.slots, id)
	default:
		if n > 255 {
			n = 255
		}
		s.ID = id
		s.Amount = uint8(n)
		inv.slots[id] = s
	}
}

// decodeInventory parses a SendInventoryState payload.
// Format: [version:1][size:4][count:2] then count x [id:2][amount:1][flags:1].
func decodeInventory(data []byte) (uint32, []Slot, error) {
	r := bytes.NewReader(data)
	var hdr struct {
		Version uint8
		Size    uint32
		Count   uint16
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return 0, nil, fmt.Errorf("failed to read inventory header: %w", err)
	}
	slots := make([]Slot, hdr.Count)
	if err := binary.Read(r, binary.LittleEndian, slots); err != nil {
		return 0, nil, fmt.Errorf("failed to read %d inventory slots: %w", hdr.Count, err)
	}
	return hdr.Size, slots, nil
}
