package tdb

// options.go: the embedder-facing configuration surface from spec
// §6.3, shaped as the teacher's flat options-struct-passed-to-Open
// idiom (sirgallo/mari Types.go's MariOpts{ Filepath }) rather than a
// functional-options builder, since the teacher never reaches for one.

// Mode selects whether the engine is file-backed or purely in-memory.
type Mode int

const (
	// ModeFileBacked maps a real file and survives process restarts.
	ModeFileBacked Mode = iota
	// ModeInMemory never touches disk; Durability is forced to
	// DurabilityMemoryOnly.
	ModeInMemory
)

// Durability controls how aggressively Commit syncs to stable storage.
type Durability int

const (
	// DurabilityFull fsyncs after every commit (spec §4.1.1 steps 3,5,7).
	DurabilityFull Durability = iota
	// DurabilityUnsafe skips fsync: process-crash-safe (a new reader
	// after a crash still sees a consistent prior snapshot because the
	// two-slot write order is preserved) but not OS/power-loss-safe.
	DurabilityUnsafe
	// DurabilityMemoryOnly is the durability of ModeInMemory, which
	// never touches a file. A file-backed allocator given it skips every
	// sync on Commit, the same as DurabilityUnsafe.
	DurabilityMemoryOnly
)

// Fanout is the inner-node branching factor and leaf split threshold
// (spec §6.3: "Must be a power of two, typically 1000"; spec §9 Design
// Notes: the teacher's REALM_MAX_BPNODE_SIZE is a compile-time choice
// we instead expose as a runtime Option, declaring our own default
// rather than claiming binary compatibility with any specific
// upstream's on-disk layout).
const DefaultFanout = 1000

// DefaultIndexSplitSize is the secondary index's MAX_LIST_SIZE (spec
// §3.5, §4.5): leaf (values[], row_keys[]) pair arrays split once they
// reach this length.
const DefaultIndexSplitSize = 1000

// Options configures Open.
type Options struct {
	// Path is the backing file path. Ignored when Mode is ModeInMemory.
	Path string

	// Mode selects file-backed vs in-memory (spec §6.3).
	Mode Mode

	// ReadOnly refuses to acquire the writer lock; Update fails.
	ReadOnly bool

	// Durability controls fsync behavior on commit.
	Durability Durability

	// InitialSize is the file size to pre-allocate on first Open.
	InitialSize int64

	// Fanout is the inner-node branching factor for the B+-tree column
	// (spec §3.4). It is not checked to be a power of two (DefaultFanout
	// itself is 1000). Zero means DefaultFanout.
	Fanout int

	// IndexSplit is the secondary index leaf split threshold (spec
	// §3.5's MAX_LIST_SIZE). Zero means DefaultIndexSplitSize.
	IndexSplit int

	// EncryptionKey is out of scope for this engine (spec §1 Non-goals,
	// §6.3): it exists purely as the documented hook point. A non-nil
	// key is accepted and stored but never used to transform bytes --
	// the hook point is immediately after Allocator.Translate, where an
	// embedder wrapping this package would intercept the returned slice.
	EncryptionKey []byte
}

func (o Options) fanout() int {
	if o.Fanout <= 0 {
		return DefaultFanout
	}
	return o.Fanout
}

func (o Options) indexSplit() int {
	if o.IndexSplit <= 0 {
		return DefaultIndexSplitSize
	}
	return o.IndexSplit
}

// DefaultOptions returns the zero-value-safe baseline: file-backed,
// full durability, default fanout.
func DefaultOptions(path string) Options {
	return Options{
		Path:        path,
		Mode:        ModeFileBacked,
		Durability:  DurabilityFull,
		InitialSize: int64(DefaultPageSize) * 16 * 1000, // 16000 pages: 65,536,000 bytes with 4 KiB pages, matches teacher's initial resize
		Fanout:      DefaultFanout,
	}
}
