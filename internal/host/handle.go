package host

// Handle encodes a 32-bit slot index in the lower bits and a 32-bit
// generation in the upper bits. The generation bumps when the slot is
// released so stale handles stop resolving.
type Handle uint64

func newHandle(index, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index))
}

func (h Handle) Index() uint32      { return uint32(h) }
func (h Handle) Generation() uint32 { return uint32(h >> 32) }

// handleTable allocates handles with slot reuse.
type handleTable struct {
	generations []uint32
	freeSlots   []uint32
	next        uint32
	live        int
}

func newHandleTable() *handleTable {
	return &handleTable{
		generations: make([]uint32, 0, 256),
		freeSlots:   make([]uint32, 0, 64),
	}
}

func (t *handleTable) alloc() Handle {
	t.live++
	if n := len(t.freeSlots); n > 0 {
		idx := t.freeSlots[n-1]
		t.freeSlots = t.freeSlots[:n-1]
		return newHandle(idx, t.generations[idx])
	}
	idx := t.next
	t.next++
	t.generations = append(t.generations, 0)
	return newHandle(idx, 0)
}

func (t *handleTable) alive(h Handle) bool {
	idx := h.Index()
	return idx < t.next && t.generations[idx] == h.Generation()
}

func (t *handleTable) release(h Handle) bool {
	if !t.alive(h) {
		return false // stale
	}
	t.generations[h.Index()]++
	t.freeSlots = append(t.freeSlots, h.Index())
	t.live--
	return true
}

// store is a typed component map keyed by handle.
type store[T any] struct {
	data map[Handle]*T
}

func newStore[T any]() *store[T] {
	return &store[T]{data: make(map[Handle]*T, 256)}
}

func (s *store[T]) set(h Handle, c *T) { s.data[h] = c }
func (s *store[T]) remove(h Handle)    { delete(s.data, h) }
func (s *store[T]) len() int           { return len(s.data) }

func (s *store[T]) get(h Handle) (*T, bool) {
	c, ok := s.data[h]
	return c, ok
}

// join calls fn for every handle present in both stores, iterating the
// smaller one.
func join[A, B any](sa *store[A], sb *store[B], fn func(Handle, *A, *B)) {
	if sa.len() <= sb.len() {
		for h, a := range sa.data {
			if b, ok := sb.data[h]; ok {
				fn(h, a, b)
			}
		}
		return
	}
	for h, b := range sb.data {
		if a, ok := sa.data[h]; ok {
			fn(h, a, b)
		}
	}
}
