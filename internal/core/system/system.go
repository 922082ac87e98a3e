package system

import "time"

// Phase orders systems within one tick.
type Phase int

const (
	PhasePreUpdate  Phase = iota // deliver last tick's events
	PhaseUpdate                  // scripts issue spawns and destroys
	PhasePostUpdate              // pool gauges
	PhaseOutput                  // replicate spawn messages
	PhaseCleanup                 // release destroyed objects
)

func (p Phase) String() string {
	switch p {
	case PhasePreUpdate:
		return "PreUpdate"
	case PhaseUpdate:
		return "Update"
	case PhasePostUpdate:
		return "PostUpdate"
	case PhaseOutput:
		return "Output"
	case PhaseCleanup:
		return "Cleanup"
	default:
		return "Unknown"
	}
}

// System is one step of the game loop.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
