package spawn

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/l1jgo/spawnpool/internal/core/geom"
	"github.com/l1jgo/spawnpool/internal/pool"
)

// Poolable marks a prefab entry for pooling. A nil PrewarmCount uses the
// build default.
type Poolable struct {
	PrewarmCount *int
}

// PrefabEntry is one configured spawnable prefab. Prefab is nil when the
// entry cannot be spawned over the network.
type PrefabEntry struct {
	Name     string
	Prefab   pool.Prefab
	Poolable *Poolable
}

// BuildOptions control which entries get a pool and how big it starts.
type BuildOptions struct {
	AllowAllPoolable bool
	DefaultPrewarm   int
}

// Registry maps prefab ids to instance pools and routes spawn/unspawn
// requests through them. One Registry per session; accessed only from the
// game loop goroutine.
type Registry struct {
	manager   Manager
	log       *zap.Logger
	obs       Observer
	pools     map[pool.PrefabID]*pool.InstancePool
	templates map[pool.PrefabID]pool.Prefab
	order     []pool.PrefabID
	built     bool
}

// NewRegistry creates an empty registry. obs may be nil.
func NewRegistry(manager Manager, log *zap.Logger, obs Observer) *Registry {
	return &Registry{
		manager:   manager,
		log:       log,
		obs:       obs,
		pools:     make(map[pool.PrefabID]*pool.InstancePool),
		templates: make(map[pool.PrefabID]pool.Prefab),
	}
}

// Initialize builds the registry. Must be called after the spawn manager
// has been started, since starting a session clears its handlers.
func (r *Registry) Initialize(entries []PrefabEntry, opts BuildOptions) error {
	return r.Build(entries, opts)
}

// Build creates a pool for every poolable entry and registers its spawn and
// destroy handlers. Bad entries are logged and skipped; the returned error
// joins their *ConfigError values and does not make the registry unusable.
func (r *Registry) Build(entries []PrefabEntry, opts BuildOptions) error {
	if r.built {
		return ErrAlreadyBuilt
	}
	r.built = true

	var errs []error
	for _, e := range entries {
		if err := r.add(e, opts); err != nil {
			r.log.Error("prefab skipped",
				zap.String("name", err.Name),
				zap.Uint64("prefab_id", uint64(err.PrefabID)),
				zap.Error(err.Err),
			)
			errs = append(errs, err)
		}
	}
	r.log.Info("spawn registry built",
		zap.Int("prefabs", len(r.templates)),
		zap.Int("pools", len(r.pools)),
		zap.Int("skipped", len(errs)),
	)
	return errors.Join(errs...)
}

func (r *Registry) add(e PrefabEntry, opts BuildOptions) *ConfigError {
	poolable := e.Poolable != nil || opts.AllowAllPoolable
	if e.Prefab == nil {
		if !poolable {
			r.log.Debug("non-network prefab ignored", zap.String("name", e.Name))
			return nil
		}
		return &ConfigError{Name: e.Name, Err: errNoNetworkObject}
	}

	id := e.Prefab.ID()
	if _, dup := r.templates[id]; dup {
		return &ConfigError{PrefabID: id, Name: e.Name, Err: errDuplicatePrefab}
	}
	if !poolable {
		r.templates[id] = e.Prefab
		return nil
	}

	count := opts.DefaultPrewarm
	if e.Poolable != nil && e.Poolable.PrewarmCount != nil {
		count = *e.Poolable.PrewarmCount
	}
	var obs pool.Observer
	if r.obs != nil {
		obs = r.obs
	}
	p := pool.New(e.Prefab, obs)
	if err := p.Prewarm(count); err != nil {
		p.Drain()
		return &ConfigError{PrefabID: id, Name: e.Name, Err: err}
	}

	r.templates[id] = e.Prefab
	r.pools[id] = p
	r.order = append(r.order, id)
	r.manager.RegisterSpawnHandler(id, p.AcquireAt)
	r.manager.RegisterDestroyHandler(id, p.Reclaim)
	r.log.Debug("pool registered",
		zap.String("name", e.Name),
		zap.Uint64("prefab_id", uint64(id)),
		zap.Int("prewarm", count),
	)
	return nil
}

// Pool returns the pool registered for id.
func (r *Registry) Pool(id pool.PrefabID) (*pool.InstancePool, bool) {
	p, ok := r.pools[id]
	return p, ok
}

// EachPool calls fn for every pool in registration order.
func (r *Registry) EachPool(fn func(pool.PrefabID, *pool.InstancePool)) {
	for _, id := range r.order {
		fn(id, r.pools[id])
	}
}

// PooledInstance takes an active instance from the pool for id without
// spawning it on the network. False means no pool is registered or the pool
// could not produce an instance; callers then instantiate on their own.
func (r *Registry) PooledInstance(id pool.PrefabID) (pool.Instance, bool) {
	p, ok := r.pools[id]
	if !ok {
		return nil, false
	}
	inst, err := p.Acquire()
	if err != nil {
		r.log.Warn("pooled acquire failed", zap.Uint64("prefab_id", uint64(id)), zap.Error(err))
		return nil, false
	}
	return inst, true
}

// Spawn places an instance of prefab id (pooled when possible) and spawns it
// across the session. Authoritative role only.
func (r *Registry) Spawn(id pool.PrefabID, pos geom.Vec3, rot geom.Quat, payload []byte, policy DestroyPolicy) (pool.Instance, error) {
	if err := r.checkCaller(); err != nil {
		return nil, err
	}

	var inst pool.Instance
	pooled := false
	if p, ok := r.pools[id]; ok {
		var err error
		inst, err = p.AcquireAt(pos, rot)
		if err != nil {
			r.log.Warn("pooled acquire failed, instantiating", zap.Uint64("prefab_id", uint64(id)), zap.Error(err))
		} else {
			pooled = true
		}
	}
	if inst == nil {
		tmpl, ok := r.templates[id]
		if !ok {
			return nil, fmt.Errorf("spawn prefab %d: %w", id, ErrUnknownPrefab)
		}
		created, err := tmpl.Instantiate()
		if err != nil {
			return nil, fmt.Errorf("spawn prefab %d: %w: %w", id, pool.ErrInstantiate, err)
		}
		if created == nil {
			return nil, fmt.Errorf("spawn prefab %d: %w: factory returned nil", id, pool.ErrInstantiate)
		}
		created.SetActive(false)
		created.Place(pos, rot)
		created.SetActive(true)
		inst = created
		if r.obs != nil {
			r.obs.RecordFallback(id)
		}
	}

	if err := r.manager.Spawn(inst, payload, policy); err != nil {
		r.release(inst, pooled)
		return nil, fmt.Errorf("spawn prefab %d: %w", id, err)
	}
	return inst, nil
}

// Unspawn withdraws inst from the session and reclaims it into its pool.
// Returns false when no pool exists for its prefab; the caller then owns
// the instance and is expected to destroy it. A reclaim error is returned
// after the instance has already left the session; it is then neither
// pooled nor destroyed and stays with the caller.
func (r *Registry) Unspawn(inst pool.Instance) (bool, error) {
	if err := r.checkCaller(); err != nil {
		return false, err
	}
	if inst == nil {
		return false, pool.ErrNilInstance
	}
	if err := r.manager.Unspawn(inst); err != nil {
		return false, fmt.Errorf("unspawn prefab %d: %w", inst.PrefabID(), err)
	}
	p, ok := r.pools[inst.PrefabID()]
	if !ok {
		return false, nil
	}
	if err := p.Reclaim(inst); err != nil {
		return false, err
	}
	return true, nil
}

// Destroy unspawns inst and destroys it permanently unless it went back to
// a pool. On error nothing is destroyed, since a rejected reclaim may mean
// the instance is still pooled.
func (r *Registry) Destroy(inst pool.Instance) error {
	pooled, err := r.Unspawn(inst)
	if err != nil {
		return err
	}
	if !pooled {
		inst.Destroy()
	}
	return nil
}

// Shutdown removes all handlers, destroys every pooled instance and empties
// the registry. It can be built again afterwards.
func (r *Registry) Shutdown() {
	drained := 0
	for _, id := range r.order {
		r.manager.RemoveHandlers(id)
		drained += r.pools[id].Drain()
	}
	r.log.Info("spawn registry shut down",
		zap.Int("pools", len(r.order)),
		zap.Int("destroyed", drained),
	)
	r.pools = make(map[pool.PrefabID]*pool.InstancePool)
	r.templates = make(map[pool.PrefabID]pool.Prefab)
	r.order = nil
	r.built = false
}

func (r *Registry) checkCaller() error {
	if !r.built {
		return ErrNotBuilt
	}
	if !r.manager.IsAuthoritative() {
		return ErrNotAuthoritative
	}
	return nil
}

func (r *Registry) release(inst pool.Instance, pooled bool) {
	if pooled {
		if p, ok := r.pools[inst.PrefabID()]; ok {
			if err := p.Reclaim(inst); err == nil {
				return
			}
		}
	}
	inst.Destroy()
}
