package tdb

import "sync"

// MemoryAllocator is the anonymous-arena allocator backing spec §6.2's
// "memory-backed mode": the same node format as the file-backed
// allocator, but is_read_only is always false, and there is no
// durability to speak of. Used for scratch nodes built during a write
// transaction before they are ever linked into a committed path, and
// as the package's lazily-initialized convenience default (spec §9
// Design Notes: "provide a thread-safe free-function that returns a
// handle to a lazily-initialised in-memory allocator when an embedder
// wants the convenience").
//
// Grounded on the teacher's node-pool pattern (sirgallo/mari
// NodePool.go) for avoiding GC churn on repeated scratch allocation,
// adapted here to hand out raw byte ranges from a growable arena
// instead of pooling typed node structs, since this allocator's unit
// of reuse is bytes, not Go values.
type MemoryAllocator struct {
	mu      sync.Mutex
	arena   []byte
	version uint64
	top     Ref
}

// NewMemoryAllocator creates an arena allocator with an 8-byte reserved
// region at offset 0 (ref 0 must stay invalid, per spec §3.1).
func NewMemoryAllocator() *MemoryAllocator {
	return &MemoryAllocator{arena: make([]byte, HeaderSize)}
}

func (m *MemoryAllocator) Translate(ref Ref) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ref.IsNull() || !ref.Aligned() {
		return nil, invariantErr("invalid ref passed to Translate")
	}
	if uint64(ref) >= uint64(len(m.arena)) {
		return nil, corruptionErr("ref out of range", nil)
	}
	return m.arena[ref:], nil
}

func (m *MemoryAllocator) Alloc(size uint64) (Ref, []byte, error) {
	if size < HeaderSize || size%8 != 0 {
		return NullRef, nil, invariantErr("alloc size must be >=8 and 8-byte aligned")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	off := uint64(len(m.arena))
	if off+size > uint64(^uint32(0)) {
		return NullRef, nil, capacityErr("scratch arena exceeds addressable size")
	}
	m.arena = append(m.arena, make([]byte, size)...)

	ref, err := refFromOffset(off)
	if err != nil {
		return NullRef, nil, err
	}
	return ref, m.arena[off : off+size], nil
}

// Free is a no-op for scratch memory: the arena is dropped wholesale
// when the transaction that owns it is abandoned or completes.
func (m *MemoryAllocator) Free(ref Ref) error { return nil }

// IsReadOnly is always false: every byte in the arena is freshly
// allocated scratch space owned exclusively by the current writer.
func (m *MemoryAllocator) IsReadOnly(ref Ref) bool { return false }

func (m *MemoryAllocator) Commit(topRef Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.top = topRef
	m.version++
	return nil
}

func (m *MemoryAllocator) CurrentVersion() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

var (
	defaultAllocatorOnce sync.Once
	defaultAllocator     *MemoryAllocator
)

// DefaultAllocator returns a process-wide lazily-initialized in-memory
// allocator for callers that just want scratch-node convenience
// without managing their own arena (spec §9 Design Notes). Unlike the
// teacher's global singleton, this is an explicit accessor, not an
// ambient package-level default threaded invisibly through every
// function -- callers still pass the returned Allocator explicitly.
func DefaultAllocator() *MemoryAllocator {
	defaultAllocatorOnce.Do(func() {
		defaultAllocator = NewMemoryAllocator()
	})
	return defaultAllocator
}
