package system

import (
	"time"

	coresys "github.com/l1jgo/spawnpool/internal/core/system"
)

// Ticker is anything driven once per tick, e.g. *scripting.Engine.
type Ticker interface {
	Tick(dt time.Duration)
}

// ScriptSystem runs the session scripts.
// Phase Update.
type ScriptSystem struct {
	scripts Ticker
}

func NewScriptSystem(scripts Ticker) *ScriptSystem {
	return &ScriptSystem{scripts: scripts}
}

func (s *ScriptSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *ScriptSystem) Update(dt time.Duration) {
	s.scripts.Tick(dt)
}
