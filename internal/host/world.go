package host

import (
	"errors"
	"fmt"

	"github.com/l1jgo/spawnpool/internal/core/geom"
	"github.com/l1jgo/spawnpool/internal/pool"
)

// ErrWorldFull is returned by Instantiate when the object limit is reached.
var ErrWorldFull = errors.New("world object limit reached")

// Transform is the spatial placement of an object.
type Transform struct {
	Position geom.Vec3
	Rotation geom.Quat
}

// World is the in-process stand-in for the host engine: it instantiates
// objects from templates, tracks their placement and active flag, and
// destroys them at end of tick.
// Accessed only from the game loop goroutine.
type World struct {
	handles      *handleTable
	objects      *store[Object]
	transforms   *store[Transform]
	destroyQueue []Handle
	maxObjects   int
}

// NewWorld creates an empty world. maxObjects <= 0 means unlimited.
func NewWorld(maxObjects int) *World {
	return &World{
		handles:      newHandleTable(),
		objects:      newStore[Object](),
		transforms:   newStore[Transform](),
		destroyQueue: make([]Handle, 0, 64),
		maxObjects:   maxObjects,
	}
}

// Template returns a prefab template bound to this world.
func (w *World) Template(id pool.PrefabID, name string) *Template {
	return &Template{world: w, id: id, name: name}
}

// Instantiate creates a new inactive object from t.
func (w *World) Instantiate(t *Template) (*Object, error) {
	if w.maxObjects > 0 && w.handles.live >= w.maxObjects {
		return nil, fmt.Errorf("instantiate %s: %w (%d)", t.name, ErrWorldFull, w.maxObjects)
	}
	h := w.handles.alloc()
	obj := &Object{world: w, handle: h, prefab: t.id, name: t.name}
	w.objects.set(h, obj)
	w.transforms.set(h, &Transform{Rotation: geom.Identity()})
	return obj, nil
}

// Get resolves a handle. Returns false for stale or unknown handles.
func (w *World) Get(h Handle) (*Object, bool) {
	if !w.handles.alive(h) {
		return nil, false
	}
	return w.objects.get(h)
}

// TransformOf returns the placement of a live object.
func (w *World) TransformOf(h Handle) (Transform, bool) {
	if !w.handles.alive(h) {
		return Transform{}, false
	}
	tr, ok := w.transforms.get(h)
	if !ok {
		return Transform{}, false
	}
	return *tr, true
}

func (w *World) Alive(h Handle) bool { return w.handles.alive(h) }

// Len returns the number of live objects, active or not.
func (w *World) Len() int { return w.handles.live }

// EachActive calls fn for every active, non-destroyed object.
func (w *World) EachActive(fn func(*Object, Transform)) {
	join(w.objects, w.transforms, func(_ Handle, o *Object, tr *Transform) {
		if o.active && !o.destroyed {
			fn(o, *tr)
		}
	})
}

// ActiveCount returns the number of active objects.
func (w *World) ActiveCount() int {
	n := 0
	w.EachActive(func(*Object, Transform) { n++ })
	return n
}

func (w *World) markForDestruction(h Handle) {
	w.destroyQueue = append(w.destroyQueue, h)
}

// FlushDestroyQueue releases every object destroyed this tick and returns
// how many were released.
func (w *World) FlushDestroyQueue() int {
	n := 0
	for _, h := range w.destroyQueue {
		w.objects.remove(h)
		w.transforms.remove(h)
		if w.handles.release(h) {
			n++
		}
	}
	w.destroyQueue = w.destroyQueue[:0]
	return n
}
