package prefab

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/l1jgo/spawnpool/internal/host"
	"github.com/l1jgo/spawnpool/internal/pool"
	"github.com/l1jgo/spawnpool/internal/spawn"
)

// Entry is one prefab from the prefab list.
type Entry struct {
	PrefabID      uint64  `yaml:"prefab_id"`
	Name          string  `yaml:"name"`
	NetworkObject bool    `yaml:"network_object"` // required to be spawned over the session
	Poolable      *Marker `yaml:"poolable,omitempty"`
}

// Marker opts a prefab into pooling. Omitting prewarm_count uses the
// configured default.
type Marker struct {
	PrewarmCount *int `yaml:"prewarm_count,omitempty"`
}

type prefabListFile struct {
	Prefabs []Entry `yaml:"prefabs"`
}

// Table holds the prefab list in file order.
type Table struct {
	entries []Entry
}

// LoadTable loads the prefab list from a YAML file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prefab_list: %w", err)
	}
	t, err := ParseTable(data)
	if err != nil {
		return nil, fmt.Errorf("parse prefab_list: %w", err)
	}
	return t, nil
}

// ParseTable decodes a prefab list document.
func ParseTable(data []byte) (*Table, error) {
	var f prefabListFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &Table{entries: f.Prefabs}, nil
}

// Count returns the number of entries.
func (t *Table) Count() int { return len(t.entries) }

// Entries returns the entries in file order.
func (t *Table) Entries() []Entry { return t.entries }

// Catalog is a prefab table bound to a host world.
type Catalog struct {
	templates map[pool.PrefabID]*host.Template
	entries   []spawn.PrefabEntry
}

// Bind creates world templates for every networked entry with an id.
// Entries without a network object or id keep a nil Prefab so the registry
// reports them.
func (t *Table) Bind(w *host.World) *Catalog {
	c := &Catalog{
		templates: make(map[pool.PrefabID]*host.Template, len(t.entries)),
		entries:   make([]spawn.PrefabEntry, 0, len(t.entries)),
	}
	for _, e := range t.entries {
		pe := spawn.PrefabEntry{Name: e.Name}
		if e.Poolable != nil {
			pe.Poolable = &spawn.Poolable{PrewarmCount: e.Poolable.PrewarmCount}
		}
		if e.NetworkObject && e.PrefabID != 0 {
			id := pool.PrefabID(e.PrefabID)
			tmpl := w.Template(id, e.Name)
			if _, dup := c.templates[id]; !dup {
				c.templates[id] = tmpl
			}
			pe.Prefab = tmpl
		}
		c.entries = append(c.entries, pe)
	}
	return c
}

// Entries returns the registry build input.
func (c *Catalog) Entries() []spawn.PrefabEntry { return c.entries }

// Prefab resolves a template by id. Implements netspawn.PrefabSource.
func (c *Catalog) Prefab(id pool.PrefabID) (pool.Prefab, bool) {
	tmpl, ok := c.templates[id]
	if !ok {
		return nil, false
	}
	return tmpl, true
}
