package tdb

// treewriter.go implements the streaming serializer from spec §4.6:
// a stack of "parent level" buffers that lets a caller hand values one
// at a time without holding the whole column in memory. Leaves are
// emitted as soon as they fill to the fanout; whenever a level's
// buffer of child entries itself reaches the fanout, it is folded into
// an inner node and bubbles up to the next level. Finish flushes every
// partially-filled level, producing a root that satisfies the same
// B+-tree invariants column.go's normal insert path produces (spec
// §4.6: "every emitted subtree satisfies the B+-tree invariants of
// §3.4").
//
// Grounded on column.go's buildInnerNode (shared, not reimplemented)
// and the teacher's append-oriented write path (sirgallo/mari
// Transaction.go batches puts into a single version before exposing
// it); here generalized from "batch of puts" to "streaming sequence of
// leaf-sized chunks, level by level".
type TreeWriter struct {
	alloc  Allocator
	fanout uint32

	currentLeaf []int64
	levels      [][]treeWriterEntry
}

type treeWriterEntry struct {
	ref  Ref
	size uint32
}

// NewTreeWriter starts a streaming write for a column with the given
// fanout. Values are supplied via AppendValue in their final order
// (append-only, so every produced inner node stays in compact form
// per spec §4.6's "append only conditions ... uniform child sizes").
func NewTreeWriter(alloc Allocator, fanout uint32) *TreeWriter {
	return &TreeWriter{alloc: alloc, fanout: fanout}
}

// AppendValue adds the next value in sequence.
func (w *TreeWriter) AppendValue(v int64) (err error) {
	defer recoverToErr("TreeWriter.AppendValue", &err)
	w.currentLeaf = append(w.currentLeaf, v)
	if uint32(len(w.currentLeaf)) == w.fanout {
		return w.flushLeaf()
	}
	return nil
}

func (w *TreeWriter) flushLeaf() error {
	if len(w.currentLeaf) == 0 {
		return nil
	}
	arr, err := NewArray(w.alloc, false)
	if err != nil {
		return err
	}
	for i, v := range w.currentLeaf {
		if err := arr.Insert(uint32(i), v); err != nil {
			return err
		}
	}
	entry := treeWriterEntry{ref: arr.Ref(), size: uint32(len(w.currentLeaf))}
	w.currentLeaf = w.currentLeaf[:0]
	return w.pushEntry(0, entry)
}

func (w *TreeWriter) pushEntry(level int, entry treeWriterEntry) error {
	for level >= len(w.levels) {
		w.levels = append(w.levels, nil)
	}
	w.levels[level] = append(w.levels[level], entry)
	if uint32(len(w.levels[level])) < w.fanout {
		return nil
	}

	refs, sizes := splitEntries(w.levels[level])
	ref, err := buildInnerNode(w.alloc, refs, sizes, false)
	if err != nil {
		return err
	}
	w.levels[level] = w.levels[level][:0]
	return w.pushEntry(level+1, treeWriterEntry{ref: ref, size: sumU32(sizes)})
}

func splitEntries(entries []treeWriterEntry) ([]Ref, []uint32) {
	refs := make([]Ref, len(entries))
	sizes := make([]uint32, len(entries))
	for i, e := range entries {
		refs[i] = e.ref
		sizes[i] = e.size
	}
	return refs, sizes
}

// Finish flushes every pending level and returns the root ref of the
// assembled column, per spec §4.6: "the top-most non-empty level's
// final ref is the root."
func (w *TreeWriter) Finish() (root Ref, err error) {
	defer recoverToErr("TreeWriter.Finish", &err)

	if err := w.flushLeaf(); err != nil {
		return 0, err
	}
	if len(w.levels) == 0 {
		empty, err := NewArray(w.alloc, false)
		if err != nil {
			return 0, err
		}
		return empty.Ref(), nil
	}

	for level := 0; level < len(w.levels); level++ {
		entries := w.levels[level]
		last := level == len(w.levels)-1
		if last && len(entries) == 1 {
			return entries[0].ref, nil
		}
		if len(entries) == 0 {
			continue
		}
		// Always wrap, even a single entry: promoting it unwrapped would
		// put it beside entries one level taller and leave leaves at
		// unequal depths.
		refs, sizes := splitEntries(entries)
		ref, err := buildInnerNode(w.alloc, refs, sizes, false)
		if err != nil {
			return 0, err
		}
		for level+1 >= len(w.levels) {
			w.levels = append(w.levels, nil)
		}
		w.levels[level+1] = append(w.levels[level+1], treeWriterEntry{ref: ref, size: sumU32(sizes)})
	}

	top := w.levels[len(w.levels)-1]
	return top[len(top)-1].ref, nil
}
