package spawn

import (
	"errors"
	"fmt"

	"github.com/l1jgo/spawnpool/internal/pool"
)

var (
	ErrNotBuilt         = errors.New("spawn registry not built")
	ErrAlreadyBuilt     = errors.New("spawn registry already built")
	ErrNotAuthoritative = errors.New("spawn requires the server or host role")
	ErrUnknownPrefab    = errors.New("unknown prefab")

	errNoNetworkObject = errors.New("prefab has no network object")
	errDuplicatePrefab = errors.New("prefab id registered twice")
)

// ConfigError describes a prefab entry skipped while building the registry.
type ConfigError struct {
	PrefabID pool.PrefabID
	Name     string
	Err      error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("prefab %q (id %d): %v", e.Name, e.PrefabID, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
