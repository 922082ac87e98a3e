package pool

import (
	"fmt"

	"github.com/l1jgo/spawnpool/internal/core/geom"
)

// Observer receives pool activity. Implemented by metrics.PoolMetrics.
type Observer interface {
	RecordAcquire(id PrefabID, hit bool)
	RecordReclaim(id PrefabID)
	RecordCreate(id PrefabID)
}

// Stats is a snapshot of a pool's counters.
type Stats struct {
	Created  int    // instances made by the prefab factory
	Adopted  int    // instances created elsewhere and reclaimed into this pool
	Free     int    // currently pooled
	Active   int    // handed out and not yet reclaimed
	Acquires uint64 // total Acquire/AcquireAt calls that succeeded
	Misses   uint64 // acquires that had to instantiate
	Reclaims uint64
}

// HitRate is the share of acquires served from the free list.
func (s Stats) HitRate() float64 {
	if s.Acquires == 0 {
		return 0
	}
	return float64(s.Acquires-s.Misses) / float64(s.Acquires)
}

// InstancePool is a LIFO free list of inactive instances of one prefab.
type InstancePool struct {
	prefab Prefab
	id     PrefabID
	free   []Instance
	// owned tracks every instance this pool has seen: true while pooled,
	// false while active.
	owned map[Instance]bool
	obs   Observer

	active   int
	created  int
	adopted  int
	acquires uint64
	misses   uint64
	reclaims uint64
}

// New creates an empty pool for prefab. obs may be nil.
func New(prefab Prefab, obs Observer) *InstancePool {
	return &InstancePool{
		prefab: prefab,
		id:     prefab.ID(),
		free:   make([]Instance, 0, 16),
		owned:  make(map[Instance]bool, 16),
		obs:    obs,
	}
}

func (p *InstancePool) PrefabID() PrefabID { return p.id }
func (p *InstancePool) Prefab() Prefab     { return p.prefab }
func (p *InstancePool) Free() int          { return len(p.free) }
func (p *InstancePool) Active() int        { return p.active }
func (p *InstancePool) Created() int       { return p.created }

// Stats returns the current counters.
func (p *InstancePool) Stats() Stats {
	return Stats{
		Created:  p.created,
		Adopted:  p.adopted,
		Free:     len(p.free),
		Active:   p.active,
		Acquires: p.acquires,
		Misses:   p.misses,
		Reclaims: p.reclaims,
	}
}

// Prewarm instantiates count inactive instances into the free list.
// On factory failure the instances created so far stay pooled.
func (p *InstancePool) Prewarm(count int) error {
	if count < 0 {
		return fmt.Errorf("prewarm prefab %d: %w (%d)", p.id, ErrNegativeCount, count)
	}
	for i := 0; i < count; i++ {
		inst, err := p.instantiate()
		if err != nil {
			return fmt.Errorf("prewarm prefab %d (%d/%d): %w", p.id, i, count, err)
		}
		p.push(inst)
	}
	return nil
}

// Acquire returns an active instance, reusing a pooled one when available.
func (p *InstancePool) Acquire() (Instance, error) {
	inst, err := p.acquireInactive()
	if err != nil {
		return nil, err
	}
	inst.SetActive(true)
	return inst, nil
}

// AcquireAt places the instance before activating it so it never shows up
// at its previous location.
func (p *InstancePool) AcquireAt(pos geom.Vec3, rot geom.Quat) (Instance, error) {
	inst, err := p.acquireInactive()
	if err != nil {
		return nil, err
	}
	inst.Place(pos, rot)
	inst.SetActive(true)
	return inst, nil
}

func (p *InstancePool) acquireInactive() (Instance, error) {
	inst := p.pop()
	hit := inst != nil
	if !hit {
		var err error
		inst, err = p.instantiate()
		if err != nil {
			return nil, fmt.Errorf("acquire prefab %d: %w", p.id, err)
		}
		p.misses++
	}
	p.owned[inst] = false
	p.active++
	p.acquires++
	if p.obs != nil {
		p.obs.RecordAcquire(p.id, hit)
	}
	return inst, nil
}

// Reclaim deactivates inst and returns it to the free list. Instances of the
// same prefab that were instantiated outside the pool are adopted.
func (p *InstancePool) Reclaim(inst Instance) error {
	if inst == nil {
		return fmt.Errorf("reclaim prefab %d: %w", p.id, ErrNilInstance)
	}
	if got := inst.PrefabID(); got != p.id {
		return fmt.Errorf("reclaim prefab %d: %w (got %d)", p.id, ErrForeignInstance, got)
	}
	pooled, known := p.owned[inst]
	if inst.Destroyed() {
		if known && !pooled {
			delete(p.owned, inst)
			p.active--
		}
		return fmt.Errorf("reclaim prefab %d: %w", p.id, ErrDestroyedInstance)
	}
	switch {
	case known && pooled:
		return fmt.Errorf("reclaim prefab %d: %w", p.id, ErrDoubleReclaim)
	case known:
		p.active--
	default:
		p.adopted++
	}
	p.push(inst)
	p.reclaims++
	if p.obs != nil {
		p.obs.RecordReclaim(p.id)
	}
	return nil
}

// Drain permanently destroys every pooled instance. Active instances are
// left to their holders. Returns the number destroyed.
func (p *InstancePool) Drain() int {
	n := len(p.free)
	for i, inst := range p.free {
		delete(p.owned, inst)
		inst.Destroy()
		p.free[i] = nil
	}
	p.free = p.free[:0]
	return n
}

func (p *InstancePool) instantiate() (Instance, error) {
	inst, err := p.prefab.Instantiate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInstantiate, err)
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: factory returned nil", ErrInstantiate)
	}
	inst.SetActive(false)
	p.created++
	if p.obs != nil {
		p.obs.RecordCreate(p.id)
	}
	return inst, nil
}

// pop takes the newest live instance off the free list. Pooled instances
// destroyed behind the pool's back are dropped.
func (p *InstancePool) pop() Instance {
	for len(p.free) > 0 {
		last := len(p.free) - 1
		inst := p.free[last]
		p.free[last] = nil
		p.free = p.free[:last]
		if !inst.Destroyed() {
			return inst
		}
		delete(p.owned, inst)
	}
	return nil
}

func (p *InstancePool) push(inst Instance) {
	inst.SetActive(false)
	p.owned[inst] = true
	p.free = append(p.free, inst)
}
