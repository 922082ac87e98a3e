package system

import (
	"time"

	coresys "github.com/l1jgo/spawnpool/internal/core/system"
	"github.com/l1jgo/spawnpool/internal/host"
)

// CleanupSystem releases objects destroyed during the tick.
// Phase Cleanup.
type CleanupSystem struct {
	worlds []*host.World
}

func NewCleanupSystem(worlds ...*host.World) *CleanupSystem {
	return &CleanupSystem{worlds: worlds}
}

func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *CleanupSystem) Update(_ time.Duration) {
	for _, w := range s.worlds {
		w.FlushDestroyQueue()
	}
}
