package tdb

import "sync"

// db.go is the embedder-facing entry point: Open/Close plus the
// View/Update transaction pair from spec §4.1.1/§6. Grounded on the
// teacher's top-level Mari type (sirgallo/mari Mari.go's Open/Close)
// for lifecycle management and Transaction.go's ViewTx/UpdateTx for
// the read/write split, generalized from the teacher's single
// mmap-backed mode to this engine's file-backed-or-in-memory Options
// (spec §6.3), and from the teacher's optimistic-retry UpdateTx loop
// to an explicit single-writer mutex plus savepoint rollback, since
// this engine's FileAllocator already serializes writers through
// BeginWrite/Commit rather than needing a compare-and-swap retry.
type DB struct {
	mu   sync.Mutex
	opts Options

	alloc Allocator
	fa    *FileAllocator // nil in ModeInMemory

	group  *Group
	topRef Ref

	stopCh chan struct{}
	doneCh chan struct{}
}

// Open creates or reopens a database at opts.Path (or an anonymous
// in-memory arena when opts.Mode is ModeInMemory).
func Open(opts Options) (db *DB, err error) {
	defer recoverToErr("Open", &err)

	db = &DB{opts: opts}

	switch opts.Mode {
	case ModeInMemory:
		db.opts.Durability = DurabilityMemoryOnly
		db.alloc = NewMemoryAllocator()
	default:
		initialSize := opts.InitialSize
		if initialSize <= 0 {
			initialSize = DefaultOptions(opts.Path).InitialSize
		}
		fa, topRef, openErr := OpenFile(opts.Path, initialSize)
		if openErr != nil {
			return nil, openErr
		}
		fa.SetDurability(opts.Durability)
		db.fa = fa
		db.alloc = fa
		db.topRef = topRef
	}

	group, err := OpenGroup(db.alloc, db.topRef, uint32(opts.fanout()), uint32(opts.indexSplit()))
	if err != nil {
		return nil, err
	}
	db.group = group
	db.startMaintenance()
	return db, nil
}

// Close flushes and releases the backing file, if any.
func (db *DB) Close() error {
	if db.fa == nil {
		return nil
	}
	db.stopMaintenance()
	return db.fa.Close()
}

// View runs fn against a read-only snapshot of the database as of the
// moment View is called, per spec §4.1.1's reader-pinning guarantee: a
// concurrent Update cannot reclaim any byte range this snapshot can
// still reach. Returns fn's own error unchanged; View never commits.
func (db *DB) View(fn func(tx *Tx) error) (err error) {
	defer recoverToErr("DB.View", &err)

	db.mu.Lock()
	topRef := db.topRef
	version := db.alloc.CurrentVersion()
	db.mu.Unlock()

	if db.fa != nil {
		db.fa.PinVersion(version)
		defer db.fa.UnpinVersion(version)
	}

	// Must use openGroupNoHydrate, not OpenGroup: Open already hydrated
	// the allocator once, and re-running Hydrate here from this reader's
	// own (possibly stale) snapshot would clobber a concurrent Update's
	// live version, high-water mark, and freelist state.
	group, err := openGroupNoHydrate(db.alloc, topRef, uint32(db.opts.fanout()), uint32(db.opts.indexSplit()))
	if err != nil {
		return err
	}

	return fn(&Tx{group: group, isWrite: false})
}

// Update runs fn against a writable snapshot and, if fn returns nil,
// commits the result as the new current version via the two-slot
// protocol (spec §4.1.1). If fn returns an error, every allocation fn
// made is rolled back and no new version is published.
func (db *DB) Update(fn func(tx *Tx) error) (err error) {
	if db.opts.ReadOnly {
		return invariantErr("database opened read-only, cannot Update")
	}

	defer recoverToErr("DB.Update", &err)

	db.mu.Lock()
	defer db.mu.Unlock()

	// Same reasoning as View: the allocator was already hydrated once by
	// Open, and this Group reopen must not re-hydrate it.
	group, err := openGroupNoHydrate(db.alloc, db.topRef, uint32(db.opts.fanout()), uint32(db.opts.indexSplit()))
	if err != nil {
		return err
	}

	var savepoint uint64
	if db.fa != nil {
		savepoint = db.fa.BeginWrite()
	}

	if txErr := fn(&Tx{group: group, isWrite: true}); txErr != nil {
		if db.fa != nil {
			db.fa.Rollback(savepoint)
		}
		return txErr
	}

	newTopRef, err := group.Commit()
	if err != nil {
		if db.fa != nil {
			db.fa.Rollback(savepoint)
		}
		return err
	}

	db.topRef = newTopRef
	db.group = group
	return nil
}

// CurrentVersion reports the version of the most recently committed
// snapshot.
func (db *DB) CurrentVersion() uint64 {
	return db.alloc.CurrentVersion()
}
