package event

import "github.com/l1jgo/spawnpool/internal/pool"

// ObjectSpawned is emitted when an instance joins the session, on the
// authoritative side when it is spawned and on clients when it is replicated.
type ObjectSpawned struct {
	NetworkID uint64
	PrefabID  pool.PrefabID
	Remote    bool // replicated from the authoritative side
}

// ObjectUnspawned is emitted when an instance leaves the session.
type ObjectUnspawned struct {
	NetworkID uint64
	PrefabID  pool.PrefabID
	Remote    bool
}
