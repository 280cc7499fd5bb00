package itemdb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mori-project/mori/internal/db"
)

// ReadCatalogFile reads a JSON or YAML list of items.
func ReadCatalogFile(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []Item
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &items)
	default:
		err = json.Unmarshal(data, &items)
	}
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return items, nil
}

// SeedCatalog replaces the catalog rows in store with the items in path.
func SeedCatalog(store *db.Store, path string) (int, error) {
	items, err := ReadCatalogFile(path)
	if err != nil {
		return 0, err
	}
	if err := store.ReplaceItems(Records(items)); err != nil {
		return 0, err
	}
	return len(items), nil
}
