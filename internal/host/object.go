package host

import (
	"github.com/l1jgo/spawnpool/internal/core/geom"
	"github.com/l1jgo/spawnpool/internal/pool"
)

// Template is a prefab bound to a World. Implements pool.Prefab.
type Template struct {
	world *World
	id    pool.PrefabID
	name  string
}

func (t *Template) ID() pool.PrefabID { return t.id }
func (t *Template) Name() string      { return t.name }

func (t *Template) Instantiate() (pool.Instance, error) {
	obj, err := t.world.Instantiate(t)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// Object is one instantiated prefab. Implements pool.Instance.
type Object struct {
	world     *World
	handle    Handle
	prefab    pool.PrefabID
	name      string
	active    bool
	destroyed bool
}

func (o *Object) Handle() Handle          { return o.handle }
func (o *Object) Name() string            { return o.name }
func (o *Object) PrefabID() pool.PrefabID { return o.prefab }
func (o *Object) IsActive() bool          { return o.active }
func (o *Object) Destroyed() bool         { return o.destroyed }

// SetActive is ignored on destroyed objects.
func (o *Object) SetActive(active bool) {
	if o.destroyed {
		return
	}
	o.active = active
}

func (o *Object) Place(pos geom.Vec3, rot geom.Quat) {
	if tr, ok := o.world.transforms.get(o.handle); ok {
		tr.Position = pos
		tr.Rotation = rot
	}
}

// Placement returns the current position and rotation.
func (o *Object) Placement() (geom.Vec3, geom.Quat) {
	if tr, ok := o.world.transforms.get(o.handle); ok {
		return tr.Position, tr.Rotation
	}
	return geom.Vec3{}, geom.Identity()
}

// Destroy deactivates the object now and releases its handle at the next
// FlushDestroyQueue. Repeated calls are no-ops.
func (o *Object) Destroy() {
	if o.destroyed {
		return
	}
	o.active = false
	o.destroyed = true
	o.world.markForDestruction(o.handle)
}
