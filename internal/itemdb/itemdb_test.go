package itemdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mori-project/mori/internal/db"
)

func TestDatabase_Lookups(t *testing.T) {
	d := New([]Item{
		{ID: 10, Name: "Rock", CollisionType: 1},
		{ID: 3, Name: "Dirt Seed"},
		{ID: 7, Name: "Rock", CollisionType: 6},
	})

	if it, ok := d.Get(3); !ok || it.Name != "Dirt Seed" {
		t.Fatalf("get=%+v ok=%v", it, ok)
	}
	if _, ok := d.Get(99); ok {
		t.Fatal("unknown id found")
	}
	if it, ok := d.FindByName("Rock"); !ok || it.ID != 7 {
		t.Fatalf("find=%+v ok=%v", it, ok)
	}
	if _, ok := d.FindByName("rock"); ok {
		t.Fatal("name match must be exact")
	}
	if !d.items[10].Collidable() || !d.items[7].Collidable() || d.items[3].Collidable() {
		t.Fatal("collidable classification")
	}
	if d.CollisionType(99) != 0 {
		t.Fatal("unknown collision type")
	}
}

func TestStore_Swap(t *testing.T) {
	s := NewStore(nil)
	if s.Current().Len() != 0 {
		t.Fatal("expected empty")
	}
	s.Swap(New([]Item{{ID: 1, Name: "x"}}))
	if s.Current().Len() != 1 {
		t.Fatal("swap not visible")
	}
}

func TestCatalogLoader(t *testing.T) {
	store, err := db.NewStore(filepath.Join(t.TempDir(), "items.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	seed := []Item{{ID: 242, Name: "World Lock", Rarity: 999, CollisionType: 1, ActionType: 3}}
	if err := store.ReplaceItems(Records(seed)); err != nil {
		t.Fatal(err)
	}

	d, err := CatalogLoader{Store: store}.Load(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if it, ok := d.Get(242); !ok || it != seed[0] {
		t.Fatalf("got %+v", it)
	}
}
