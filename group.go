package tdb

// group.go implements the top-level Group/Snapshot container from
// spec §3.6/§4.7: a named-table directory plus the freelist, published
// atomically as a single top-ref.
//
// Grounded on the teacher's top-level Mari type (sirgallo/mari
// Mari.go), which owns the single mmap'd root and funnels every read/
// write through it; generalized from the teacher's single implicit
// HAMT root to an explicit directory of named tables, each an
// independently-addressable Column.
//
// The table directory itself is stored the same way every other piece
// of structured data in this engine is: as plain Arrays, rather than
// reaching for a bespoke struct-to-bytes encoding. Table names are
// packed into a flat byte Array alongside a per-name length Array;
// table and index column roots live in their own ref Arrays.
type Group struct {
	alloc      Allocator
	fanout     uint32
	indexSplit uint32
	ref        Ref // last-known committed/open root; NullRef for a brand new group

	order  []string
	tables map[string]*tableEntry
}

type tableEntry struct {
	columnRef Ref
	indexRef  Ref
}

const groupDirectorySlots = 8

// NewGroup creates an empty, never-yet-committed group.
func NewGroup(alloc Allocator, fanout, indexSplit uint32) *Group {
	return &Group{
		alloc:      alloc,
		fanout:     fanout,
		indexSplit: indexSplit,
		tables:     make(map[string]*tableEntry),
	}
}

// OpenGroup decodes an existing group root, per spec §4.7's
// `Group::open(allocator, top_ref)`. A NullRef topRef behaves like
// NewGroup (a freshly created, empty file).
//
// This also restores the allocator's version/freelist state from the
// Group root's own serialized metadata (see FileAllocator.Hydrate) --
// correct for the one open per process lifetime that establishes that
// state, but NOT safe to repeat on a live allocator a concurrent writer
// may already be mid-transaction on. Callers that reopen a Group
// against an already-hydrated, possibly-live allocator (db.go's View
// and Update, once the initial Open has hydrated it) must use
// openGroupNoHydrate instead.
func OpenGroup(alloc Allocator, topRef Ref, fanout, indexSplit uint32) (g *Group, err error) {
	return openGroup(alloc, topRef, fanout, indexSplit, true)
}

// openGroupNoHydrate decodes a Group root the same way OpenGroup does
// but never calls FileAllocator.Hydrate. Use this for every open after
// the first: once a DB has hydrated its allocator at Open time, the
// allocator's version/freelist are already tracked live through every
// subsequent Commit/Alloc/Free, and re-hydrating from a reader's
// possibly-stale snapshot would stomp a concurrent writer's in-flight
// state (version, high-water mark, freelist) out from under it.
func openGroupNoHydrate(alloc Allocator, topRef Ref, fanout, indexSplit uint32) (g *Group, err error) {
	return openGroup(alloc, topRef, fanout, indexSplit, false)
}

func openGroup(alloc Allocator, topRef Ref, fanout, indexSplit uint32, hydrate bool) (g *Group, err error) {
	defer recoverToErr("OpenGroup", &err)

	g = NewGroup(alloc, fanout, indexSplit)
	if topRef.IsNull() {
		return g, nil
	}
	g.ref = topRef

	if fa, ok := alloc.(*FileAllocator); ok && fa.IsReadOnly(topRef) {
		buf, err := alloc.Translate(topRef)
		if err != nil {
			return nil, err
		}
		h, err := decodeHeader(buf)
		if err != nil {
			return nil, err
		}
		total := nodeByteSize(h.Scheme, h.Width, h.Size)
		if err := verifyNodeChecksum(buf, total); err != nil {
			return nil, err
		}
	}

	wrapper := OpenArray(alloc, topRef)
	size, err := wrapper.Size()
	if err != nil {
		return nil, err
	}
	if size != groupDirectorySlots {
		return nil, corruptionErr("group root has unexpected slot count", nil)
	}

	get := func(i uint32) (Ref, error) {
		v, err := wrapper.Get(i)
		if err != nil {
			return 0, err
		}
		return Ref(uint64(v)), nil
	}

	namesRef, err := get(0)
	if err != nil {
		return nil, err
	}
	lensRef, err := get(1)
	if err != nil {
		return nil, err
	}
	tableRootsRef, err := get(2)
	if err != nil {
		return nil, err
	}
	indexRootsRef, err := get(3)
	if err != nil {
		return nil, err
	}
	offsetsRef, err := get(4)
	if err != nil {
		return nil, err
	}
	sizesRef, err := get(5)
	if err != nil {
		return nil, err
	}
	versionsRef, err := get(6)
	if err != nil {
		return nil, err
	}
	versionTagged, err := wrapper.Get(7)
	if err != nil {
		return nil, err
	}
	version := uint64(untagInt(Ref(uint64(versionTagged))))

	names, lens, tableRoots, indexRoots, err := decodeDirectory(alloc, namesRef, lensRef, tableRootsRef, indexRootsRef)
	if err != nil {
		return nil, err
	}
	for i, name := range names {
		g.order = append(g.order, name)
		g.tables[name] = &tableEntry{columnRef: tableRoots[i], indexRef: indexRoots[i]}
	}

	if fa, ok := alloc.(*FileAllocator); ok && hydrate {
		freelist, err := loadFreelist(alloc, offsetsRef, sizesRef, versionsRef)
		if err != nil {
			return nil, err
		}
		fa.Hydrate(version, freelist)
	}

	return g, nil
}

func decodeDirectory(alloc Allocator, namesRef, lensRef, tableRootsRef, indexRootsRef Ref) (names []string, lens []int64, tableRoots, indexRoots []Ref, err error) {
	if namesRef.IsNull() {
		return nil, nil, nil, nil, nil
	}
	nameBytes, err := OpenArray(alloc, namesRef).ToSlice()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	lens, err = OpenArray(alloc, lensRef).ToSlice()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	rawTableRoots, err := OpenArray(alloc, tableRootsRef).ToSlice()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	rawIndexRoots, err := OpenArray(alloc, indexRootsRef).ToSlice()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if len(lens) != len(rawTableRoots) || len(lens) != len(rawIndexRoots) {
		return nil, nil, nil, nil, corruptionErr("group directory arrays length mismatch", nil)
	}

	names = make([]string, len(lens))
	tableRoots = make([]Ref, len(lens))
	indexRoots = make([]Ref, len(lens))
	pos := 0
	for i, l := range lens {
		end := pos + int(l)
		if end > len(nameBytes) {
			return nil, nil, nil, nil, corruptionErr("group directory name bytes out of range", nil)
		}
		b := make([]byte, l)
		for k := range b {
			b[k] = byte(nameBytes[pos+k])
		}
		names[i] = string(b)
		tableRoots[i] = Ref(uint64(rawTableRoots[i]))
		indexRoots[i] = Ref(uint64(rawIndexRoots[i]))
		pos = end
	}
	return names, lens, tableRoots, indexRoots, nil
}

// CreateTable adds a new, empty table (a single empty leaf Column).
func (g *Group) CreateTable(name string) (*Column, error) {
	if _, exists := g.tables[name]; exists {
		return nil, invariantErr("table already exists: " + name)
	}
	col, err := NewColumn(g.alloc, g.fanout)
	if err != nil {
		return nil, err
	}
	g.tables[name] = &tableEntry{columnRef: col.Ref(), indexRef: NullRef}
	g.order = append(g.order, name)
	return col, nil
}

// Table opens an existing table by name.
func (g *Group) Table(name string) (*Column, bool) {
	e, ok := g.tables[name]
	if !ok {
		return nil, false
	}
	return OpenColumn(g.alloc, e.columnRef, g.fanout), true
}

// UpdateTable repoints name at col's current root, after the caller
// has performed mutations through it.
func (g *Group) UpdateTable(name string, col *Column) error {
	e, ok := g.tables[name]
	if !ok {
		return invariantErr("no such table: " + name)
	}
	e.columnRef = col.Ref()
	return nil
}

// BuildIndex builds (or rebuilds) an ordered secondary index over
// name's current contents, per spec §4.5's build(column).
func (g *Group) BuildIndex(name string) (*Index, error) {
	col, ok := g.Table(name)
	if !ok {
		return nil, invariantErr("no such table: " + name)
	}
	idx, err := NewIndex(g.alloc, g.indexSplit)
	if err != nil {
		return nil, err
	}
	if err := idx.Build(col); err != nil {
		return nil, err
	}
	g.tables[name].indexRef = idx.Ref()
	return idx, nil
}

// Index returns the table's secondary index, if one has been built.
func (g *Group) Index(name string) (*Index, bool) {
	e, ok := g.tables[name]
	if !ok || e.indexRef.IsNull() {
		return nil, false
	}
	return OpenIndex(g.alloc, e.indexRef, g.indexSplit), true
}

// UpdateIndex repoints name's index at idx's current root.
func (g *Group) UpdateIndex(name string, idx *Index) error {
	e, ok := g.tables[name]
	if !ok {
		return invariantErr("no such table: " + name)
	}
	e.indexRef = idx.Ref()
	return nil
}

// Commit gathers the current table directory and freelist, writes a
// new group root, checksums it, and publishes it via the allocator's
// two-slot protocol (spec §4.7/§4.1.1).
func (g *Group) Commit() (newTopRef Ref, err error) {
	defer recoverToErr("Group.Commit", &err)

	var pending []freeRange
	if fa, ok := g.alloc.(*FileAllocator); ok {
		pending = fa.CombinedFreelist()
	}
	offsetsRef, sizesRef, versionsRef, err := persistFreelist(g.alloc, pending)
	if err != nil {
		return 0, err
	}

	namesRef, lensRef, tableRootsRef, indexRootsRef, err := g.encodeDirectory()
	if err != nil {
		return 0, err
	}

	nextVersion := g.alloc.CurrentVersion() + 1

	wrapper, err := NewArray(g.alloc, true)
	if err != nil {
		return 0, err
	}
	slots := []int64{
		int64(namesRef), int64(lensRef), int64(tableRootsRef), int64(indexRootsRef),
		int64(offsetsRef), int64(sizesRef), int64(versionsRef),
		int64(tagInt(int64(nextVersion))),
	}
	for i, v := range slots {
		if err := wrapper.Insert(uint32(i), v); err != nil {
			return 0, err
		}
	}

	buf, err := g.alloc.Translate(wrapper.Ref())
	if err != nil {
		return 0, err
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return 0, err
	}
	total := nodeByteSize(h.Scheme, h.Width, h.Size)
	stampNodeChecksum(buf, total)

	if err := g.alloc.Commit(wrapper.Ref()); err != nil {
		return 0, err
	}
	g.ref = wrapper.Ref()
	return g.ref, nil
}

func (g *Group) encodeDirectory() (namesRef, lensRef, tableRootsRef, indexRootsRef Ref, err error) {
	namesArr, err := NewArray(g.alloc, false)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	lensArr, err := NewArray(g.alloc, false)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	tableRootsArr, err := NewArray(g.alloc, true)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	indexRootsArr, err := NewArray(g.alloc, true)
	if err != nil {
		return 0, 0, 0, 0, err
	}

	bytePos := uint32(0)
	for i, name := range g.order {
		e := g.tables[name]
		for _, b := range []byte(name) {
			if err := namesArr.Insert(bytePos, int64(b)); err != nil {
				return 0, 0, 0, 0, err
			}
			bytePos++
		}
		if err := lensArr.Insert(uint32(i), int64(len(name))); err != nil {
			return 0, 0, 0, 0, err
		}
		if err := tableRootsArr.Insert(uint32(i), int64(e.columnRef)); err != nil {
			return 0, 0, 0, 0, err
		}
		if err := indexRootsArr.Insert(uint32(i), int64(e.indexRef)); err != nil {
			return 0, 0, 0, 0, err
		}
	}

	return namesArr.Ref(), lensArr.Ref(), tableRootsArr.Ref(), indexRootsArr.Ref(), nil
}

// TableNames returns the table directory in creation order.
func (g *Group) TableNames() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}
