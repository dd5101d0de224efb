package tdb

// allocator.go defines the storage-backend contract from spec §4.1.
// Two implementations satisfy it: FileAllocator (mmap-backed, versioned
// freelist, two-slot commit -- allocator_file.go) and MemoryAllocator
// (anonymous growable arena for scratch nodes -- allocator_memory.go,
// spec §6.2 and Design Notes' "global default allocator").
//
// Grounded on the teacher's Mari type (sirgallo/mari Mari.go/Node.go):
// the teacher hard-codes a single mmap-backed implementation with
// package-level ReadINodeFromMemMap/WriteINodeToMemMap functions. Spec
// §9's Design Notes call out exactly this ("Global default allocator /
// singleton. Strategy: make the allocator an explicit parameter at
// every construction site") as something to re-architect, so we lift
// the teacher's mmap operations behind an interface and make every
// array/column/index constructor take one explicitly.
type Allocator interface {
	// Translate returns a byte slice view of the node at ref, including
	// its 8-byte header. Spec §4.1: "panic if ref out of range" -- we
	// return a CorruptionError instead, recovered at the call site via
	// recoverToErr, which is the Go-idiomatic rendering of a fatal,
	// non-recoverable slice panic.
	Translate(ref Ref) ([]byte, error)

	// Alloc reserves size bytes (>=8, 8-byte aligned) and returns the
	// new ref together with a zeroed, writable view of those bytes. The
	// node header is not pre-populated; the caller writes it.
	Alloc(size uint64) (Ref, []byte, error)

	// Free returns ref's byte range to the allocator. Per spec §4.1, a
	// free on a ref inside the read-only (already-committed) region is
	// recorded in the versioned freelist but does not overwrite data;
	// a free on a still-mutable scratch ref may reclaim immediately.
	Free(ref Ref) error

	// IsReadOnly reports whether ref lies in the immutable committed
	// region. The copy-on-write rule (spec §4.3) gates every mutation
	// on this check.
	IsReadOnly(ref Ref) bool

	// Commit publishes topRef as the new root via the two-slot header
	// protocol (spec §4.1.1) and fsyncs per the configured durability
	// level. Only meaningful for a FileAllocator; MemoryAllocator's
	// Commit only records topRef and bumps its version counter.
	Commit(topRef Ref) error

	// CurrentVersion returns the allocator's write version counter, used
	// to tag freed ranges (spec §3.7), to pin a reader's snapshot
	// (db.go's View), and by Group.Commit to record the next version in
	// the group root.
	CurrentVersion() uint64
}
