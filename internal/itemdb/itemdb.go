// Package itemdb holds the read-only item database sessions consult for
// tile classification and script item lookups.
package itemdb

import (
	"context"
	"sort"
	"sync"

	"github.com/mori-project/mori/internal/db"
)

// Item is the subset of an item definition scripts can read.
type Item struct {
	ID            uint32 `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	Rarity        uint16 `json:"rarity" yaml:"rarity"`
	CollisionType uint8  `json:"collision_type" yaml:"collision_type"`
	ActionType    uint8  `json:"action_type" yaml:"action_type"`
}

// Collidable reports whether a tile holding this item blocks movement.
func (i Item) Collidable() bool { return IsCollidable(i.CollisionType) }

// IsCollidable reports whether a collision type blocks movement.
func IsCollidable(collision uint8) bool {
	return collision == 1 || collision == 6
}

// Database is an immutable id-indexed item set.
type Database struct {
	items map[uint32]Item
	order []uint32
}

// New builds a database from items. A later duplicate id replaces an earlier one.
func New(items []Item) *Database {
	d := &Database{items: make(map[uint32]Item, len(items))}
	for _, it := range items {
		d.items[it.ID] = it
	}
	d.order = make([]uint32, 0, len(d.items))
	for id := range d.items {
		d.order = append(d.order, id)
	}
	sort.Slice(d.order, func(i, j int) bool { return d.order[i] < d.order[j] })
	return d
}

// Empty returns a database with no items.
func Empty() *Database { return New(nil) }

// Get looks an item up by id.
func (d *Database) Get(id uint32) (Item, bool) {
	it, ok := d.items[id]
	return it, ok
}

// FindByName returns the lowest-id item whose name equals name exactly.
func (d *Database) FindByName(name string) (Item, bool) {
	for _, id := range d.order {
		if it := d.items[id]; it.Name == name {
			return it, true
		}
	}
	return Item{}, false
}

// Len returns the number of items.
func (d *Database) Len() int { return len(d.items) }

// CollisionType returns the collision type of id, or 0 when unknown.
func (d *Database) CollisionType(id uint32) uint8 {
	return d.items[id].CollisionType
}

// Store is a swappable reference to the current database, shared by every
// session of a process.
type Store struct {
	mu sync.RWMutex
	db *Database
}

// NewStore wraps an initial database; nil means empty.
func NewStore(initial *Database) *Store {
	if initial == nil {
		initial = Empty()
	}
	return &Store{db: initial}
}

// Current returns the database in use.
func (s *Store) Current() *Database {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Swap replaces the database.
func (s *Store) Swap(d *Database) {
	s.mu.Lock()
	s.db = d
	s.mu.Unlock()
}

// Loader decodes an item database from the raw items file. Decoding the
// native binary format is left to implementations.
type Loader interface {
	Load(ctx context.Context, raw []byte) (*Database, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, raw []byte) (*Database, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, raw []byte) (*Database, error) {
	return f(ctx, raw)
}

// CatalogLoader serves the item set kept in the SQLite catalog. The raw file
// only gates the swap through its checksum; its contents are not decoded.
type CatalogLoader struct {
	Store *db.Store
}

// Load reads every catalog row.
func (c CatalogLoader) Load(ctx context.Context, _ []byte) (*Database, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := c.Store.Items()
	if err != nil {
		return nil, err
	}
	items := make([]Item, len(rows))
	for i, r := range rows {
		items[i] = Item(r)
	}
	return New(items), nil
}

// Records converts items to catalog rows, for seeding the catalog.
func Records(items []Item) []db.ItemRecord {
	out := make([]db.ItemRecord, len(items))
	for i, it := range items {
		out[i] = db.ItemRecord(it)
	}
	return out
}
