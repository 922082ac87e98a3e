package pool

import (
	"errors"

	"github.com/l1jgo/spawnpool/internal/core/geom"
)

// PrefabID identifies a spawnable object type. Stable for the process lifetime.
type PrefabID uint64

// Instance is one spawnable object, either active or pooled (inactive).
// Implementations must be comparable; pointer types are expected.
type Instance interface {
	PrefabID() PrefabID
	SetActive(active bool)
	IsActive() bool
	Place(pos geom.Vec3, rot geom.Quat)
	// Destroy removes the instance permanently. Never called on a pooled
	// instance except when the pool is drained.
	Destroy()
	Destroyed() bool
}

// Prefab is the template new instances are created from.
type Prefab interface {
	ID() PrefabID
	// Instantiate returns a new instance. It may come back active; callers
	// deactivate it before placing.
	Instantiate() (Instance, error)
}

var (
	ErrInstantiate       = errors.New("instantiate prefab")
	ErrNegativeCount     = errors.New("negative prewarm count")
	ErrNilInstance       = errors.New("nil instance")
	ErrForeignInstance   = errors.New("instance belongs to another prefab")
	ErrDoubleReclaim     = errors.New("instance already pooled")
	ErrDestroyedInstance = errors.New("instance already destroyed")
)
