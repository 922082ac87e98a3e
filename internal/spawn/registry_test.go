package spawn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/l1jgo/spawnpool/internal/core/geom"
	"github.com/l1jgo/spawnpool/internal/host"
	"github.com/l1jgo/spawnpool/internal/pool"
)

type fakeManager struct {
	authoritative   bool
	spawnHandlers   map[pool.PrefabID]SpawnHandler
	destroyHandlers map[pool.PrefabID]DestroyHandler
	spawned         []pool.Instance
	payloads        [][]byte
	policies        []DestroyPolicy
	unspawned       []pool.Instance
	spawnErr        error
	unspawnErr      error
}

func newFakeManager() *fakeManager {
	return &fakeManager{
		authoritative:   true,
		spawnHandlers:   make(map[pool.PrefabID]SpawnHandler),
		destroyHandlers: make(map[pool.PrefabID]DestroyHandler),
	}
}

func (m *fakeManager) RegisterSpawnHandler(id pool.PrefabID, fn SpawnHandler) {
	m.spawnHandlers[id] = fn
}

func (m *fakeManager) RegisterDestroyHandler(id pool.PrefabID, fn DestroyHandler) {
	m.destroyHandlers[id] = fn
}

func (m *fakeManager) RemoveHandlers(id pool.PrefabID) {
	delete(m.spawnHandlers, id)
	delete(m.destroyHandlers, id)
}

func (m *fakeManager) Spawn(inst pool.Instance, payload []byte, policy DestroyPolicy) error {
	if m.spawnErr != nil {
		return m.spawnErr
	}
	m.spawned = append(m.spawned, inst)
	m.payloads = append(m.payloads, payload)
	m.policies = append(m.policies, policy)
	return nil
}

func (m *fakeManager) Unspawn(inst pool.Instance) error {
	if m.unspawnErr != nil {
		return m.unspawnErr
	}
	m.unspawned = append(m.unspawned, inst)
	return nil
}

func (m *fakeManager) IsAuthoritative() bool { return m.authoritative }

type fallbackCounter struct {
	fallbacks map[pool.PrefabID]int
	acquires  int
}

func (c *fallbackCounter) RecordAcquire(pool.PrefabID, bool) { c.acquires++ }
func (c *fallbackCounter) RecordReclaim(pool.PrefabID)       {}
func (c *fallbackCounter) RecordCreate(pool.PrefabID)        {}
func (c *fallbackCounter) RecordFallback(id pool.PrefabID) {
	if c.fallbacks == nil {
		c.fallbacks = make(map[pool.PrefabID]int)
	}
	c.fallbacks[id]++
}

func intPtr(n int) *int { return &n }

type fixture struct {
	world   *host.World
	manager *fakeManager
	reg     *Registry
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	m := newFakeManager()
	return &fixture{
		world:   host.NewWorld(0),
		manager: m,
		reg:     NewRegistry(m, zap.New(core), nil),
		logs:    logs,
	}
}

func TestBuild_Poolability(t *testing.T) {
	t.Run("explicit opt-in only", func(t *testing.T) {
		f := newFixture(t)
		err := f.reg.Build([]PrefabEntry{
			{Name: "bullet", Prefab: f.world.Template(1, "bullet"), Poolable: &Poolable{PrewarmCount: intPtr(3)}},
			{Name: "boss", Prefab: f.world.Template(2, "boss")},
		}, BuildOptions{DefaultPrewarm: 5})
		require.NoError(t, err)

		p, ok := f.reg.Pool(1)
		require.True(t, ok)
		assert.Equal(t, 3, p.Free())
		assert.Equal(t, 0, p.Active())

		_, ok = f.reg.Pool(2)
		assert.False(t, ok)

		assert.Contains(t, f.manager.spawnHandlers, pool.PrefabID(1))
		assert.Contains(t, f.manager.destroyHandlers, pool.PrefabID(1))
		assert.NotContains(t, f.manager.spawnHandlers, pool.PrefabID(2))
	})

	t.Run("allow all uses default prewarm", func(t *testing.T) {
		f := newFixture(t)
		err := f.reg.Build([]PrefabEntry{
			{Name: "bullet", Prefab: f.world.Template(1, "bullet"), Poolable: &Poolable{}},
			{Name: "boss", Prefab: f.world.Template(2, "boss")},
			{Name: "mine", Prefab: f.world.Template(3, "mine"), Poolable: &Poolable{PrewarmCount: intPtr(0)}},
		}, BuildOptions{AllowAllPoolable: true, DefaultPrewarm: 2})
		require.NoError(t, err)

		for id, want := range map[pool.PrefabID]int{1: 2, 2: 2, 3: 0} {
			p, ok := f.reg.Pool(id)
			require.True(t, ok, "prefab %d", id)
			assert.Equal(t, want, p.Free(), "prefab %d", id)
		}
		assert.Equal(t, 4, f.world.Len())
	})
}

func TestBuild_ConfigErrors(t *testing.T) {
	f := newFixture(t)
	err := f.reg.Build([]PrefabEntry{
		{Name: "broken", Poolable: &Poolable{}},
		{Name: "decor"}, // not poolable, not networked: ignored
		{Name: "a", Prefab: f.world.Template(5, "a"), Poolable: &Poolable{}},
		{Name: "a-again", Prefab: f.world.Template(5, "a-again"), Poolable: &Poolable{}},
		{Name: "negative", Prefab: f.world.Template(6, "negative"), Poolable: &Poolable{PrewarmCount: intPtr(-1)}},
		{Name: "ok", Prefab: f.world.Template(7, "ok"), Poolable: &Poolable{}},
	}, BuildOptions{})
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, errNoNetworkObject)
	assert.ErrorIs(t, err, errDuplicatePrefab)
	assert.ErrorIs(t, err, pool.ErrNegativeCount)

	_, ok := f.reg.Pool(5)
	assert.True(t, ok, "first registration wins")
	_, ok = f.reg.Pool(6)
	assert.False(t, ok)
	_, ok = f.reg.Pool(7)
	assert.True(t, ok, "build continues past bad entries")

	assert.Equal(t, 3, f.logs.FilterMessage("prefab skipped").Len())
}

func TestBuild_PrewarmFailureSkipsEntry(t *testing.T) {
	f := newFixture(t)
	f.world = host.NewWorld(3)
	err := f.reg.Build([]PrefabEntry{
		{Name: "single", Prefab: f.world.Template(2, "single"), Poolable: &Poolable{PrewarmCount: intPtr(1)}},
		{Name: "swarm", Prefab: f.world.Template(1, "swarm"), Poolable: &Poolable{PrewarmCount: intPtr(5)}},
	}, BuildOptions{})
	assert.ErrorIs(t, err, host.ErrWorldFull)
	assert.ErrorIs(t, err, pool.ErrInstantiate)

	_, ok := f.reg.Pool(1)
	assert.False(t, ok)
	assert.NotContains(t, f.manager.spawnHandlers, pool.PrefabID(1))
	assert.Equal(t, 2, f.world.FlushDestroyQueue(), "partial prewarm destroyed")

	p, ok := f.reg.Pool(2)
	require.True(t, ok)
	assert.Equal(t, 1, p.Free())
}

func TestBuild_Twice(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.Build(nil, BuildOptions{}))
	assert.ErrorIs(t, f.reg.Build(nil, BuildOptions{}), ErrAlreadyBuilt)
}

func TestSpawn_Pooled(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.Initialize([]PrefabEntry{
		{Name: "bullet", Prefab: f.world.Template(42, "bullet"), Poolable: &Poolable{PrewarmCount: intPtr(1)}},
	}, BuildOptions{}))
	p, _ := f.reg.Pool(42)

	pos := geom.Vec3{X: 1, Y: 2, Z: 3}
	inst, err := f.reg.Spawn(42, pos, geom.Identity(), []byte("hp=3"), DestroyWithScene)
	require.NoError(t, err)

	assert.True(t, inst.IsActive())
	assert.Equal(t, 0, p.Free())
	assert.Equal(t, 1, p.Active())
	assert.Equal(t, 1, f.world.Len(), "served from prewarm")

	tr, ok := f.world.TransformOf(inst.(*host.Object).Handle())
	require.True(t, ok)
	assert.Equal(t, pos, tr.Position)
	assert.Equal(t, geom.Identity(), tr.Rotation)

	require.Len(t, f.manager.spawned, 1)
	assert.Same(t, inst, f.manager.spawned[0])
	assert.Equal(t, []byte("hp=3"), f.manager.payloads[0])
	assert.Equal(t, DestroyWithScene, f.manager.policies[0])
}

func TestSpawn_FallbackWithoutPool(t *testing.T) {
	f := newFixture(t)
	obs := &fallbackCounter{}
	f.reg = NewRegistry(f.manager, zap.NewNop(), obs)
	require.NoError(t, f.reg.Build([]PrefabEntry{
		{Name: "boss", Prefab: f.world.Template(9, "boss")},
	}, BuildOptions{}))

	pos := geom.Vec3{X: -1}
	inst, err := f.reg.Spawn(9, pos, geom.Identity(), nil, DestroyWithSession)
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.True(t, inst.IsActive())
	tr, _ := f.world.TransformOf(inst.(*host.Object).Handle())
	assert.Equal(t, pos, tr.Position)
	assert.Equal(t, 1, obs.fallbacks[9])

	_, err = f.reg.Spawn(1000, pos, geom.Identity(), nil, DestroyWithSession)
	assert.ErrorIs(t, err, ErrUnknownPrefab)
}

func TestSpawn_FallbackWhenPoolFails(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	m := newFakeManager()
	w := host.NewWorld(0)
	failing := &flakyPrefab{Prefab: w.Template(3, "flaky"), failures: 1}
	reg := NewRegistry(m, zap.New(core), nil)
	require.NoError(t, reg.Build([]PrefabEntry{
		{Name: "flaky", Prefab: failing, Poolable: &Poolable{}},
	}, BuildOptions{}))

	inst, err := reg.Spawn(3, geom.Vec3{}, geom.Identity(), nil, DestroyWithSession)
	require.NoError(t, err)
	assert.True(t, inst.IsActive())
	assert.Equal(t, 1, logs.FilterMessage("pooled acquire failed, instantiating").Len())

	// The fallback instance is adopted by the pool on unspawn.
	pooled, err := reg.Unspawn(inst)
	require.NoError(t, err)
	assert.True(t, pooled)
	p, _ := reg.Pool(3)
	assert.Equal(t, 1, p.Free())
}

type flakyPrefab struct {
	pool.Prefab
	failures int
}

func (f *flakyPrefab) Instantiate() (pool.Instance, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("asset not loaded")
	}
	return f.Prefab.Instantiate()
}

func TestSpawn_ManagerRejects(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.Build([]PrefabEntry{
		{Name: "bullet", Prefab: f.world.Template(1, "bullet"), Poolable: &Poolable{PrewarmCount: intPtr(1)}},
		{Name: "boss", Prefab: f.world.Template(2, "boss")},
	}, BuildOptions{}))
	rejected := errors.New("session closed")
	f.manager.spawnErr = rejected

	_, err := f.reg.Spawn(1, geom.Vec3{}, geom.Identity(), nil, DestroyWithSession)
	assert.ErrorIs(t, err, rejected)
	p, _ := f.reg.Pool(1)
	assert.Equal(t, 1, p.Free(), "pooled instance goes back")

	_, err = f.reg.Spawn(2, geom.Vec3{}, geom.Identity(), nil, DestroyWithSession)
	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, 1, f.world.FlushDestroyQueue(), "unpooled instance destroyed")
}

func TestSpawn_Misuse(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Spawn(1, geom.Vec3{}, geom.Identity(), nil, DestroyWithSession)
	assert.ErrorIs(t, err, ErrNotBuilt)

	require.NoError(t, f.reg.Build(nil, BuildOptions{}))
	f.manager.authoritative = false
	_, err = f.reg.Spawn(1, geom.Vec3{}, geom.Identity(), nil, DestroyWithSession)
	assert.ErrorIs(t, err, ErrNotAuthoritative)
	_, err = f.reg.Unspawn(&host.Object{})
	assert.ErrorIs(t, err, ErrNotAuthoritative)
}

func TestUnspawnAndDestroy(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.Build([]PrefabEntry{
		{Name: "bullet", Prefab: f.world.Template(1, "bullet"), Poolable: &Poolable{}},
		{Name: "boss", Prefab: f.world.Template(2, "boss")},
	}, BuildOptions{}))

	bullet, err := f.reg.Spawn(1, geom.Vec3{}, geom.Identity(), nil, DestroyWithSession)
	require.NoError(t, err)
	boss, err := f.reg.Spawn(2, geom.Vec3{}, geom.Identity(), nil, DestroyWithSession)
	require.NoError(t, err)

	pooled, err := f.reg.Unspawn(bullet)
	require.NoError(t, err)
	assert.True(t, pooled)
	assert.False(t, bullet.IsActive())

	pooled, err = f.reg.Unspawn(boss)
	require.NoError(t, err)
	assert.False(t, pooled)
	assert.Equal(t, []pool.Instance{bullet, boss}, f.manager.unspawned)

	_, err = f.reg.Unspawn(bullet)
	assert.ErrorIs(t, err, pool.ErrDoubleReclaim)

	again, err := f.reg.Spawn(1, geom.Vec3{}, geom.Identity(), nil, DestroyWithSession)
	require.NoError(t, err)
	assert.Same(t, bullet, again)

	require.NoError(t, f.reg.Destroy(again))
	assert.False(t, again.(*host.Object).Destroyed(), "pooled instance retained")

	boss2, err := f.reg.Spawn(2, geom.Vec3{}, geom.Identity(), nil, DestroyWithSession)
	require.NoError(t, err)
	require.NoError(t, f.reg.Destroy(boss2))
	assert.True(t, boss2.(*host.Object).Destroyed())

	_, err = f.reg.Unspawn(nil)
	assert.ErrorIs(t, err, pool.ErrNilInstance)
}

func TestUnspawn_ManagerError(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.Build([]PrefabEntry{
		{Name: "boss", Prefab: f.world.Template(2, "boss")},
	}, BuildOptions{}))
	boss, err := f.reg.Spawn(2, geom.Vec3{}, geom.Identity(), nil, DestroyWithSession)
	require.NoError(t, err)

	f.manager.unspawnErr = errors.New("not spawned")
	assert.Error(t, f.reg.Destroy(boss))
	assert.False(t, boss.(*host.Object).Destroyed())
}

func TestPooledInstance(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.Build([]PrefabEntry{
		{Name: "bullet", Prefab: f.world.Template(1, "bullet"), Poolable: &Poolable{PrewarmCount: intPtr(1)}},
	}, BuildOptions{}))

	inst, ok := f.reg.PooledInstance(1)
	require.True(t, ok)
	assert.True(t, inst.IsActive())
	assert.Empty(t, f.manager.spawned, "no network side effect")

	_, ok = f.reg.PooledInstance(2)
	assert.False(t, ok)
}

func TestHandlersRouteToPool(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.Build([]PrefabEntry{
		{Name: "bullet", Prefab: f.world.Template(1, "bullet"), Poolable: &Poolable{PrewarmCount: intPtr(2)}},
	}, BuildOptions{}))
	p, _ := f.reg.Pool(1)

	pos := geom.Vec3{Y: 10}
	inst, err := f.manager.spawnHandlers[1](pos, geom.Identity())
	require.NoError(t, err)
	assert.Equal(t, 1, p.Free())
	tr, _ := f.world.TransformOf(inst.(*host.Object).Handle())
	assert.Equal(t, pos, tr.Position)

	require.NoError(t, f.manager.destroyHandlers[1](inst))
	assert.Equal(t, 2, p.Free())
}

func TestShutdown(t *testing.T) {
	f := newFixture(t)
	entries := []PrefabEntry{
		{Name: "bullet", Prefab: f.world.Template(1, "bullet"), Poolable: &Poolable{PrewarmCount: intPtr(3)}},
	}
	require.NoError(t, f.reg.Build(entries, BuildOptions{}))
	held, err := f.reg.Spawn(1, geom.Vec3{}, geom.Identity(), nil, DestroyWithSession)
	require.NoError(t, err)

	f.reg.Shutdown()
	assert.Empty(t, f.manager.spawnHandlers)
	assert.Empty(t, f.manager.destroyHandlers)
	assert.Equal(t, 2, f.world.FlushDestroyQueue())
	assert.False(t, held.(*host.Object).Destroyed())

	_, err = f.reg.Spawn(1, geom.Vec3{}, geom.Identity(), nil, DestroyWithSession)
	assert.ErrorIs(t, err, ErrNotBuilt)
	require.NoError(t, f.reg.Build(entries, BuildOptions{}), "rebuild after shutdown")
}

func TestDestroyPolicy_String(t *testing.T) {
	assert.Equal(t, "session", DestroyWithSession.String())
	assert.Equal(t, "scene", DestroyWithScene.String())
	assert.Equal(t, "Unknown(9)", DestroyPolicy(9).String())
}

type trackedInstance struct {
	id            pool.PrefabID
	active        bool
	destroyed     bool
	activeAtPlace bool
}

func (i *trackedInstance) PrefabID() pool.PrefabID { return i.id }
func (i *trackedInstance) SetActive(active bool)   { i.active = active }
func (i *trackedInstance) IsActive() bool          { return i.active }
func (i *trackedInstance) Destroy()                { i.destroyed = true }
func (i *trackedInstance) Destroyed() bool         { return i.destroyed }
func (i *trackedInstance) Place(geom.Vec3, geom.Quat) {
	i.activeAtPlace = i.active
}

// activePrefab hands out clones that start active, like an enabled template.
type activePrefab struct {
	id      pool.PrefabID
	nilOnce bool
}

func (p *activePrefab) ID() pool.PrefabID { return p.id }

func (p *activePrefab) Instantiate() (pool.Instance, error) {
	if p.nilOnce {
		p.nilOnce = false
		return nil, nil
	}
	return &trackedInstance{id: p.id, active: true}, nil
}

func TestSpawn_FallbackPlacesBeforeActivation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.Build([]PrefabEntry{
		{Name: "turret", Prefab: &activePrefab{id: 5}},
	}, BuildOptions{}))

	inst, err := f.reg.Spawn(5, geom.Vec3{X: 2}, geom.Identity(), nil, DestroyWithSession)
	require.NoError(t, err)
	tracked := inst.(*trackedInstance)
	assert.False(t, tracked.activeAtPlace)
	assert.True(t, tracked.active)
}

func TestSpawn_FallbackNilInstance(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.Build([]PrefabEntry{
		{Name: "turret", Prefab: &activePrefab{id: 5, nilOnce: true}},
	}, BuildOptions{}))

	var err error
	assert.NotPanics(t, func() {
		_, err = f.reg.Spawn(5, geom.Vec3{}, geom.Identity(), nil, DestroyWithSession)
	})
	assert.ErrorIs(t, err, pool.ErrInstantiate)
	assert.Empty(t, f.manager.spawned)
}

func TestUnspawn_DestroyedPooledInstance(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.Build([]PrefabEntry{
		{Name: "bullet", Prefab: f.world.Template(1, "bullet"), Poolable: &Poolable{PrewarmCount: intPtr(1)}},
	}, BuildOptions{}))
	inst, err := f.reg.Spawn(1, geom.Vec3{}, geom.Identity(), nil, DestroyWithSession)
	require.NoError(t, err)
	inst.Destroy()
	f.world.FlushDestroyQueue()

	pooled, err := f.reg.Unspawn(inst)
	assert.False(t, pooled)
	assert.ErrorIs(t, err, pool.ErrDestroyedInstance)
	assert.Equal(t, []pool.Instance{inst}, f.manager.unspawned, "left the session")

	p, _ := f.reg.Pool(1)
	assert.Equal(t, 0, p.Free())
	assert.Equal(t, 0, p.Active())

	next, err := f.reg.Spawn(1, geom.Vec3{}, geom.Identity(), nil, DestroyWithSession)
	require.NoError(t, err)
	assert.NotSame(t, inst, next)
	assert.True(t, next.IsActive())
}
