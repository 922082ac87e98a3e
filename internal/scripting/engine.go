package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/l1jgo/spawnpool/internal/core/geom"
	"github.com/l1jgo/spawnpool/internal/pool"
	"github.com/l1jgo/spawnpool/internal/spawn"
)

// Spawner is the registry surface exposed to scripts.
type Spawner interface {
	Spawn(id pool.PrefabID, pos geom.Vec3, rot geom.Quat, payload []byte, policy spawn.DestroyPolicy) (pool.Instance, error)
	Destroy(inst pool.Instance) error
	Pool(id pool.PrefabID) (*pool.InstancePool, bool)
}

// Objects maps spawned instances to the network ids scripts use as handles
// and withdraws scene-scoped objects on a scene change.
type Objects interface {
	NetworkID(inst pool.Instance) (uint64, bool)
	Object(netID uint64) (pool.Instance, bool)
	UnloadScene(release func(pool.Instance) error) (int, error)
}

// Engine wraps a single gopher-lua VM that drives spawning from scripts.
// Single-goroutine access only (game loop).
//
// Globals exposed to scripts:
//
//	spawn(prefab_id, x, y, z [, scene_scoped [, payload]]) -> handle | nil, err
//	destroy(handle) -> true | nil, err
//	pool_stats(prefab_id) -> {free, active, created, hit_rate} | nil
//	unload_scene() -> count | nil, err
//	log(msg)
//
// Each tick the engine calls on_tick(dt_ms) when a script defines it.
type Engine struct {
	vm      *lua.LState
	spawner Spawner
	objects Objects
	log     *zap.Logger
}

// NewEngine creates a Lua engine and loads every .lua file in scriptsDir in
// name order. A missing directory loads nothing.
func NewEngine(scriptsDir string, spawner Spawner, objects Objects, log *zap.Logger) (*Engine, error) {
	e := newEngine(spawner, objects, log)
	if scriptsDir == "" {
		return e, nil
	}
	if err := e.loadDir(scriptsDir); err != nil {
		e.vm.Close()
		return nil, fmt.Errorf("load scripts: %w", err)
	}
	return e, nil
}

func newEngine(spawner Spawner, objects Objects, log *zap.Logger) *Engine {
	vm := lua.NewState(lua.Options{SkipOpenLibs: false})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, spawner: spawner, objects: objects, log: log}
	vm.SetGlobal("spawn", vm.NewFunction(e.luaSpawn))
	vm.SetGlobal("destroy", vm.NewFunction(e.luaDestroy))
	vm.SetGlobal("pool_stats", vm.NewFunction(e.luaPoolStats))
	vm.SetGlobal("unload_scene", vm.NewFunction(e.luaUnloadScene))
	vm.SetGlobal("log", vm.NewFunction(e.luaLog))
	return e
}

func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			e.log.Warn("scripts directory missing", zap.String("dir", dir))
			return nil
		}
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// LoadString runs a chunk of Lua source.
func (e *Engine) LoadString(src string) error {
	return e.vm.DoString(src)
}

// Tick calls on_tick(dt_ms). Script errors are logged, not returned, so a
// broken script cannot stop the game loop.
func (e *Engine) Tick(dt time.Duration) {
	fn := e.vm.GetGlobal("on_tick")
	if fn == lua.LNil {
		return
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, lua.LNumber(dt.Milliseconds())); err != nil {
		e.log.Error("lua on_tick error", zap.Error(err))
	}
}

// Close releases the VM.
func (e *Engine) Close() {
	e.vm.Close()
}

func (e *Engine) luaSpawn(L *lua.LState) int {
	id := pool.PrefabID(L.CheckNumber(1))
	pos := geom.Vec3{
		X: float32(L.OptNumber(2, 0)),
		Y: float32(L.OptNumber(3, 0)),
		Z: float32(L.OptNumber(4, 0)),
	}
	policy := spawn.DestroyWithSession
	if L.OptBool(5, false) {
		policy = spawn.DestroyWithScene
	}
	var payload []byte
	if s := L.OptString(6, ""); s != "" {
		payload = []byte(s)
	}

	inst, err := e.spawner.Spawn(id, pos, geom.Identity(), payload, policy)
	if err != nil {
		return pushError(L, err)
	}
	netID, ok := e.objects.NetworkID(inst)
	if !ok {
		return pushError(L, fmt.Errorf("prefab %d spawned without a network id", id))
	}
	L.Push(lua.LNumber(netID))
	return 1
}

func (e *Engine) luaDestroy(L *lua.LState) int {
	netID := uint64(L.CheckNumber(1))
	inst, ok := e.objects.Object(netID)
	if !ok {
		return pushError(L, fmt.Errorf("unknown handle %d", netID))
	}
	if err := e.spawner.Destroy(inst); err != nil {
		return pushError(L, err)
	}
	L.Push(lua.LTrue)
	return 1
}

func (e *Engine) luaPoolStats(L *lua.LState) int {
	id := pool.PrefabID(L.CheckNumber(1))
	p, ok := e.spawner.Pool(id)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	s := p.Stats()
	t := L.NewTable()
	t.RawSetString("free", lua.LNumber(s.Free))
	t.RawSetString("active", lua.LNumber(s.Active))
	t.RawSetString("created", lua.LNumber(s.Created))
	t.RawSetString("hit_rate", lua.LNumber(s.HitRate()))
	L.Push(t)
	return 1
}

// luaUnloadScene destroys every object spawned scene-scoped; pooled ones go
// back to their pools.
func (e *Engine) luaUnloadScene(L *lua.LState) int {
	n, err := e.objects.UnloadScene(e.spawner.Destroy)
	if err != nil {
		return pushError(L, err)
	}
	L.Push(lua.LNumber(n))
	return 1
}

func (e *Engine) luaLog(L *lua.LState) int {
	e.log.Info("lua", zap.String("msg", L.CheckString(1)))
	return 0
}

func pushError(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}
