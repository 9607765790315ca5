package evidence

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/corvidlabs/corvid-core/internal/errs"
)

// Vault persists evidence items as JSON files under basePath/items/<id>.json,
// the authoritative on-disk record spec.md §6 requires (the SQLite index, if
// configured, can be rebuilt from these files with RebuildFromVault).
type Vault struct {
	basePath string
}

// NewVault ensures the items directory exists.
func NewVault(basePath string) (*Vault, error) {
	itemsDir := filepath.Join(basePath, "items")
	if err := os.MkdirAll(itemsDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.IllegalState, "evidence: vault init failed", err)
	}
	return &Vault{basePath: basePath}, nil
}

func (v *Vault) itemPath(id string) string {
	return filepath.Join(v.basePath, "items", id+".json")
}

// WriteItem persists one item's JSON form.
func (v *Vault) WriteItem(item *Item) error {
	buf, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return errs.Wrap(errs.IllegalState, "evidence: item encode failed", err)
	}
	if err := os.WriteFile(v.itemPath(item.ID), buf, 0o644); err != nil {
		return errs.Wrap(errs.IllegalState, "evidence: item write failed", err)
	}
	return nil
}

// ReadItem loads one item's JSON form back.
func (v *Vault) ReadItem(id string) (*Item, error) {
	buf, err := os.ReadFile(v.itemPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.NotFound, "evidence item not found in vault: "+id)
		}
		return nil, errs.Wrap(errs.IllegalState, "evidence: item read failed", err)
	}
	var item Item
	if err := json.Unmarshal(buf, &item); err != nil {
		return nil, errs.Wrap(errs.IllegalState, "evidence: item decode failed", err)
	}
	return &item, nil
}

// ListItemIDs scans the items directory for persisted evidence ids.
func (v *Vault) ListItemIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(v.basePath, "items"))
	if err != nil {
		return nil, errs.Wrap(errs.IllegalState, "evidence: vault scan failed", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) == ".json" {
			ids = append(ids, name[:len(name)-len(".json")])
		}
	}
	return ids, nil
}
