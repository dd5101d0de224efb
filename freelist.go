package tdb

import "sync"

// freelist.go implements the versioned freelist from spec §3.7/§4.1:
// byte ranges released by obsolete snapshots, tagged with the version
// at which they became unreachable, recyclable only once no live
// reader still holds that version or older.
//
// Grounded on the teacher's version index (sirgallo/mari Version.go's
// loadStartOffset/storeStartOffset, an mmap'd array mapping version ->
// offset) generalized from "one offset per version" to "a set of
// reusable ranges each tagged with a version", and on spec §4.1's
// explicit requirement that the freelist itself "is stored inside the
// file as ordinary arrays" -- persistFreelist/loadFreelist round-trip
// through three Array nodes (offsets, sizes, versions) rather than a
// bespoke blob format.
type freeRange struct {
	Offset  uint64
	Size    uint64
	Version uint64
}

// FreeList is the allocator's in-memory view of reclaimable space.
// Selection policy is first-fit over ranges old enough to reuse, the
// policy spec §4.10 records as the Open Question resolution (realm-
// core's Column.cpp freelist consumer is also a first-fit bump
// allocator over freed ranges).
type FreeList struct {
	mu     sync.Mutex
	ranges []freeRange
}

func newFreeList() *FreeList { return &FreeList{} }

// add records a newly-freed range tagged with the version at which it
// stopped being reachable.
func (f *FreeList) add(offset, size, version uint64) {
	if size == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges = append(f.ranges, freeRange{Offset: offset, Size: size, Version: version})
}

// takeFirstFit returns a range of at least `size` bytes whose Version
// is strictly below safeBelowVersion (i.e. no live reader can still be
// pinned to a snapshot that could reach it), per spec §5.3: "a range R
// freed at version V is not reused until no live reader holds a
// version <= V." Any leftover bytes beyond what's needed remain in the
// freelist as a smaller range at the same version.
func (f *FreeList) takeFirstFit(size uint64, safeBelowVersion uint64) (freeRange, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.ranges {
		r := &f.ranges[i]
		if r.Version >= safeBelowVersion {
			continue
		}
		if r.Size < size {
			continue
		}
		taken := freeRange{Offset: r.Offset, Size: size, Version: r.Version}
		if r.Size == size {
			f.ranges = append(f.ranges[:i], f.ranges[i+1:]...)
		} else {
			r.Offset += size
			r.Size -= size
		}
		return taken, true
	}
	return freeRange{}, false
}

// snapshot copies out every range for persistence.
func (f *FreeList) snapshot() []freeRange {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]freeRange, len(f.ranges))
	copy(out, f.ranges)
	return out
}

// replace swaps the in-memory view for ranges (used by
// FileAllocator.Hydrate to install what loadFreelist read back on
// open).
func (f *FreeList) replace(ranges []freeRange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges = ranges
}

// persistFreelist serializes ranges into three parallel Array nodes
// (offsets, sizes, versions), returning their refs. Allocating these
// arrays itself consumes allocator space, which is why the commit
// protocol (spec §4.1.1) writes the freelist after the transaction's
// own data but before the header flip: "write new data -> write new
// freelist -> write header".
func persistFreelist(alloc Allocator, ranges []freeRange) (offsetsRef, sizesRef, versionsRef Ref, err error) {
	offsets, err := NewArray(alloc, false)
	if err != nil {
		return 0, 0, 0, err
	}
	sizes, err := NewArray(alloc, false)
	if err != nil {
		return 0, 0, 0, err
	}
	versions, err := NewArray(alloc, false)
	if err != nil {
		return 0, 0, 0, err
	}

	for i, r := range ranges {
		if err := offsets.Insert(uint32(i), int64(r.Offset)); err != nil {
			return 0, 0, 0, err
		}
		if err := sizes.Insert(uint32(i), int64(r.Size)); err != nil {
			return 0, 0, 0, err
		}
		if err := versions.Insert(uint32(i), int64(r.Version)); err != nil {
			return 0, 0, 0, err
		}
	}

	return offsets.Ref(), sizes.Ref(), versions.Ref(), nil
}

// loadFreelist reads back the three parallel arrays written by
// persistFreelist.
func loadFreelist(alloc Allocator, offsetsRef, sizesRef, versionsRef Ref) ([]freeRange, error) {
	if offsetsRef.IsNull() {
		return nil, nil
	}
	offsets, err := OpenArray(alloc, offsetsRef).ToSlice()
	if err != nil {
		return nil, err
	}
	sizes, err := OpenArray(alloc, sizesRef).ToSlice()
	if err != nil {
		return nil, err
	}
	versions, err := OpenArray(alloc, versionsRef).ToSlice()
	if err != nil {
		return nil, err
	}
	if len(offsets) != len(sizes) || len(offsets) != len(versions) {
		return nil, corruptionErr("freelist arrays length mismatch", nil)
	}

	ranges := make([]freeRange, len(offsets))
	for i := range offsets {
		ranges[i] = freeRange{
			Offset:  uint64(offsets[i]),
			Size:    uint64(sizes[i]),
			Version: uint64(versions[i]),
		}
	}
	return ranges, nil
}
