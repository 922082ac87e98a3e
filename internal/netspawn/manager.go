// Package netspawn is an in-process networked spawn subsystem. The
// authoritative side assigns network ids and queues spawn/unspawn messages;
// clients apply those messages through the registered prefab handlers.
package netspawn

import (
	"errors"
	"fmt"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/l1jgo/spawnpool/internal/core/event"
	"github.com/l1jgo/spawnpool/internal/core/geom"
	"github.com/l1jgo/spawnpool/internal/pool"
	"github.com/l1jgo/spawnpool/internal/spawn"
)

var (
	ErrAlreadySpawned  = errors.New("instance already spawned")
	ErrNotSpawned      = errors.New("instance not spawned")
	ErrUnknownObject   = errors.New("unknown network object")
	ErrNoPrefab        = errors.New("no handler or template for prefab")
	ErrNotClient       = errors.New("only clients apply replicated messages")
	ErrNotSessionOwner = spawn.ErrNotAuthoritative
)

// MessageKind distinguishes replicated messages.
type MessageKind int

const (
	MsgSpawn MessageKind = iota + 1
	MsgUnspawn
)

func (k MessageKind) String() string {
	switch k {
	case MsgSpawn:
		return "spawn"
	case MsgUnspawn:
		return "unspawn"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Message is one replicated spawn or unspawn notice.
type Message struct {
	Kind      MessageKind
	NetworkID uint64
	PrefabID  pool.PrefabID
	Position  geom.Vec3
	Rotation  geom.Quat
	Payload   []byte
	Policy    spawn.DestroyPolicy
}

// PrefabSource resolves templates for prefabs that have no spawn handler.
type PrefabSource interface {
	Prefab(id pool.PrefabID) (pool.Prefab, bool)
}

// placed is implemented by instances that can report their placement.
type placed interface {
	Placement() (geom.Vec3, geom.Quat)
}

type record struct {
	netID  uint64
	policy spawn.DestroyPolicy
}

// Manager implements spawn.Manager. Game loop goroutine only.
type Manager struct {
	role    Role
	prefabs PrefabSource
	bus     *event.Bus
	log     *zap.Logger

	spawnHandlers   map[pool.PrefabID]spawn.SpawnHandler
	destroyHandlers map[pool.PrefabID]spawn.DestroyHandler

	nextNetID uint64
	spawned   map[pool.Instance]record
	byNetID   map[uint64]pool.Instance
	outbox    *queue.Queue
}

// NewManager creates a stopped manager. prefabs and bus may be nil.
func NewManager(role Role, prefabs PrefabSource, bus *event.Bus, log *zap.Logger) *Manager {
	m := &Manager{
		role:    role,
		prefabs: prefabs,
		bus:     bus,
		log:     log,
	}
	m.reset()
	return m
}

// Start begins a session. Handlers registered before Start are discarded,
// so the pool registry must be built afterwards.
func (m *Manager) Start() {
	m.reset()
	m.log.Info("spawn session started", zap.Stringer("role", m.role))
}

func (m *Manager) reset() {
	m.spawnHandlers = make(map[pool.PrefabID]spawn.SpawnHandler)
	m.destroyHandlers = make(map[pool.PrefabID]spawn.DestroyHandler)
	m.spawned = make(map[pool.Instance]record)
	m.byNetID = make(map[uint64]pool.Instance)
	m.outbox = queue.New()
	m.nextNetID = 0
}

func (m *Manager) Role() Role            { return m.role }
func (m *Manager) IsAuthoritative() bool { return m.role.Authoritative() }
func (m *Manager) SpawnedCount() int     { return len(m.spawned) }
func (m *Manager) PendingMessages() int  { return m.outbox.Length() }

func (m *Manager) RegisterSpawnHandler(id pool.PrefabID, fn spawn.SpawnHandler) {
	m.spawnHandlers[id] = fn
}

func (m *Manager) RegisterDestroyHandler(id pool.PrefabID, fn spawn.DestroyHandler) {
	m.destroyHandlers[id] = fn
}

func (m *Manager) RemoveHandlers(id pool.PrefabID) {
	delete(m.spawnHandlers, id)
	delete(m.destroyHandlers, id)
}

// NetworkID returns the id assigned to a spawned instance.
func (m *Manager) NetworkID(inst pool.Instance) (uint64, bool) {
	rec, ok := m.spawned[inst]
	return rec.netID, ok
}

// Object returns the instance spawned under netID.
func (m *Manager) Object(netID uint64) (pool.Instance, bool) {
	inst, ok := m.byNetID[netID]
	return inst, ok
}

// Spawn assigns a network id to inst and queues a spawn message.
func (m *Manager) Spawn(inst pool.Instance, payload []byte, policy spawn.DestroyPolicy) error {
	if !m.IsAuthoritative() {
		return ErrNotSessionOwner
	}
	if _, ok := m.spawned[inst]; ok {
		return fmt.Errorf("spawn prefab %d: %w", inst.PrefabID(), ErrAlreadySpawned)
	}
	m.nextNetID++
	netID := m.nextNetID
	m.track(inst, netID, policy)

	msg := Message{
		Kind:      MsgSpawn,
		NetworkID: netID,
		PrefabID:  inst.PrefabID(),
		Rotation:  geom.Identity(),
		Payload:   payload,
		Policy:    policy,
	}
	if p, ok := inst.(placed); ok {
		msg.Position, msg.Rotation = p.Placement()
	}
	m.outbox.Add(msg)
	event.Emit(m.bus, event.ObjectSpawned{NetworkID: netID, PrefabID: inst.PrefabID()})
	return nil
}

// Unspawn forgets inst and queues an unspawn message. The local instance
// is left alone.
func (m *Manager) Unspawn(inst pool.Instance) error {
	if !m.IsAuthoritative() {
		return ErrNotSessionOwner
	}
	rec, ok := m.spawned[inst]
	if !ok {
		return fmt.Errorf("unspawn prefab %d: %w", inst.PrefabID(), ErrNotSpawned)
	}
	m.untrack(inst, rec.netID)
	m.outbox.Add(Message{Kind: MsgUnspawn, NetworkID: rec.netID, PrefabID: inst.PrefabID()})
	event.Emit(m.bus, event.ObjectUnspawned{NetworkID: rec.netID, PrefabID: inst.PrefabID()})
	return nil
}

// Drain pops every queued message in order and passes it to fn.
func (m *Manager) Drain(fn func(Message)) int {
	n := 0
	for m.outbox.Length() > 0 {
		msg := m.outbox.Remove().(Message)
		fn(msg)
		n++
	}
	return n
}

// Apply replays a message from the authoritative side on a client.
// Spawns go through the prefab's spawn handler when one is registered,
// otherwise the prefab is instantiated. Unspawns go through the destroy
// handler, otherwise the instance is destroyed.
func (m *Manager) Apply(msg Message) error {
	if m.IsAuthoritative() {
		return ErrNotClient
	}
	switch msg.Kind {
	case MsgSpawn:
		return m.applySpawn(msg)
	case MsgUnspawn:
		return m.applyUnspawn(msg)
	default:
		return fmt.Errorf("apply message: unknown kind %s", msg.Kind)
	}
}

func (m *Manager) applySpawn(msg Message) error {
	if _, dup := m.byNetID[msg.NetworkID]; dup {
		return fmt.Errorf("apply spawn %d: %w", msg.NetworkID, ErrAlreadySpawned)
	}
	var inst pool.Instance
	if fn, ok := m.spawnHandlers[msg.PrefabID]; ok {
		var err error
		if inst, err = fn(msg.Position, msg.Rotation); err != nil {
			return fmt.Errorf("apply spawn %d: %w", msg.NetworkID, err)
		}
	} else {
		if m.prefabs == nil {
			return fmt.Errorf("apply spawn %d: %w %d", msg.NetworkID, ErrNoPrefab, msg.PrefabID)
		}
		prefab, ok := m.prefabs.Prefab(msg.PrefabID)
		if !ok {
			return fmt.Errorf("apply spawn %d: %w %d", msg.NetworkID, ErrNoPrefab, msg.PrefabID)
		}
		created, err := prefab.Instantiate()
		if err != nil {
			return fmt.Errorf("apply spawn %d: %w: %w", msg.NetworkID, pool.ErrInstantiate, err)
		}
		if created == nil {
			return fmt.Errorf("apply spawn %d: %w: factory returned nil", msg.NetworkID, pool.ErrInstantiate)
		}
		created.SetActive(false)
		created.Place(msg.Position, msg.Rotation)
		created.SetActive(true)
		inst = created
	}
	m.track(inst, msg.NetworkID, msg.Policy)
	event.Emit(m.bus, event.ObjectSpawned{NetworkID: msg.NetworkID, PrefabID: msg.PrefabID, Remote: true})
	return nil
}

func (m *Manager) applyUnspawn(msg Message) error {
	inst, ok := m.byNetID[msg.NetworkID]
	if !ok {
		return fmt.Errorf("apply unspawn %d: %w", msg.NetworkID, ErrUnknownObject)
	}
	m.untrack(inst, msg.NetworkID)
	if fn, ok := m.destroyHandlers[inst.PrefabID()]; ok {
		if err := fn(inst); err != nil {
			return fmt.Errorf("apply unspawn %d: %w", msg.NetworkID, err)
		}
	} else {
		inst.Destroy()
	}
	event.Emit(m.bus, event.ObjectUnspawned{NetworkID: msg.NetworkID, PrefabID: inst.PrefabID(), Remote: true})
	return nil
}

func (m *Manager) track(inst pool.Instance, netID uint64, policy spawn.DestroyPolicy) {
	m.spawned[inst] = record{netID: netID, policy: policy}
	m.byNetID[netID] = inst
}

func (m *Manager) untrack(inst pool.Instance, netID uint64) {
	delete(m.spawned, inst)
	delete(m.byNetID, netID)
}

// UnloadScene withdraws every object spawned with DestroyWithScene. On the
// authoritative side they are unspawned and handed to release (typically
// Registry.Destroy); returns how many were withdrawn.
func (m *Manager) UnloadScene(release func(pool.Instance) error) (int, error) {
	if !m.IsAuthoritative() {
		return 0, ErrNotSessionOwner
	}
	var victims []pool.Instance
	for inst, rec := range m.spawned {
		if rec.policy == spawn.DestroyWithScene {
			victims = append(victims, inst)
		}
	}
	var errs []error
	for _, inst := range victims {
		if err := release(inst); err != nil {
			errs = append(errs, err)
		}
	}
	return len(victims), errors.Join(errs...)
}
