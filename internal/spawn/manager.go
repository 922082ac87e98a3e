package spawn

import (
	"fmt"

	"github.com/l1jgo/spawnpool/internal/core/geom"
	"github.com/l1jgo/spawnpool/internal/pool"
)

// DestroyPolicy tells the spawn subsystem when a spawned object is torn down
// on its own.
type DestroyPolicy int

const (
	DestroyWithSession DestroyPolicy = iota // lives until unspawned or the session ends
	DestroyWithScene                        // also torn down on scene change
)

func (p DestroyPolicy) String() string {
	switch p {
	case DestroyWithSession:
		return "session"
	case DestroyWithScene:
		return "scene"
	default:
		return fmt.Sprintf("Unknown(%d)", int(p))
	}
}

// SpawnHandler produces a placed, active instance for a remote spawn.
type SpawnHandler func(pos geom.Vec3, rot geom.Quat) (pool.Instance, error)

// DestroyHandler takes back an instance the spawn subsystem is done with.
type DestroyHandler func(inst pool.Instance) error

// Manager is the networked spawn subsystem the registry plugs into.
type Manager interface {
	RegisterSpawnHandler(id pool.PrefabID, fn SpawnHandler)
	RegisterDestroyHandler(id pool.PrefabID, fn DestroyHandler)
	RemoveHandlers(id pool.PrefabID)

	// Spawn announces inst to every session participant.
	Spawn(inst pool.Instance, payload []byte, policy DestroyPolicy) error
	// Unspawn withdraws inst from the session without destroying it locally.
	Unspawn(inst pool.Instance) error

	// IsAuthoritative reports whether this participant may spawn and destroy
	// (server or host role).
	IsAuthoritative() bool
}

// Observer receives registry activity on top of pool activity.
type Observer interface {
	pool.Observer
	RecordFallback(id pool.PrefabID)
}
