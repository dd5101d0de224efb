package tdb

// index.go implements the ordered secondary index from spec §3.5/§4.5:
// a B+-tree whose leaves hold (value, row_key) pairs sorted by value,
// and whose inner nodes hold (max_value_per_child, child_ref) pairs
// sorted by max. Each node -- leaf or inner -- is represented as a
// 2-element has_refs wrapper Array (spec §9's "tagged-variant node
// handle"): slot 0 is the "values" (leaf) or "max values" (inner)
// array ref, slot 1 is the "row keys" (leaf) or "child refs" (inner)
// array ref. The wrapper's own is_inner_bptree_node flag discriminates
// the two kinds, the same device column.go uses for its inner nodes.
//
// Grounded on the same teacher COW-recursion shape as column.go
// (sirgallo/mari Operation.go), adapted to the index's two-arrays-per-
// level-sorted-by-a-key shape described in spec §4.5. The spec's four
// named split-result variants (None/InsertBefore/InsertAfter/Split)
// collapse to the same (left, sibling) bubble-up pair column.go uses,
// since a leaf's own identity ref always changes under copy-on-write
// anyway -- "InsertBefore"/"InsertAfter"/"Split" all reduce to
// "replace this child with left, and optionally link sibling after it."
type Index struct {
	alloc     Allocator
	splitSize uint32
	ref       Ref
}

// NewIndex creates an empty index (a single empty leaf).
func NewIndex(alloc Allocator, splitSize uint32) (*Index, error) {
	ref, err := newIndexLeaf(alloc)
	if err != nil {
		return nil, err
	}
	return &Index{alloc: alloc, splitSize: splitSize, ref: ref}, nil
}

// OpenIndex wraps an existing index root ref.
func OpenIndex(alloc Allocator, ref Ref, splitSize uint32) *Index {
	return &Index{alloc: alloc, splitSize: splitSize, ref: ref}
}

func (x *Index) Ref() Ref { return x.ref }

func newIndexLeaf(alloc Allocator) (Ref, error) {
	values, err := NewArray(alloc, false)
	if err != nil {
		return 0, err
	}
	if err := values.markContext(); err != nil {
		return 0, err
	}
	rowKeys, err := NewArray(alloc, false)
	if err != nil {
		return 0, err
	}
	return wrapIndexNode(alloc, values.Ref(), rowKeys.Ref(), false)
}

func wrapIndexNode(alloc Allocator, aRef, bRef Ref, inner bool) (Ref, error) {
	wrapper, err := NewArray(alloc, true)
	if err != nil {
		return 0, err
	}
	if inner {
		if err := wrapper.markInnerBPTreeNode(); err != nil {
			return 0, err
		}
	}
	if err := wrapper.Insert(0, int64(aRef)); err != nil {
		return 0, err
	}
	if err := wrapper.Insert(1, int64(bRef)); err != nil {
		return 0, err
	}
	return wrapper.Ref(), nil
}

func isInnerIndexNode(alloc Allocator, ref Ref) (bool, error) {
	buf, err := alloc.Translate(ref)
	if err != nil {
		return false, err
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return false, err
	}
	return h.HasFlag(FlagInnerBPTreeNode), nil
}

// openIndexNode decodes a wrapper into its two member arrays.
func openIndexNode(alloc Allocator, ref Ref) (wrapper, a, b *Array, err error) {
	wrapper = OpenArray(alloc, ref)
	aRefV, err := wrapper.Get(0)
	if err != nil {
		return nil, nil, nil, err
	}
	bRefV, err := wrapper.Get(1)
	if err != nil {
		return nil, nil, nil, err
	}
	return wrapper, OpenArray(alloc, Ref(uint64(aRefV))), OpenArray(alloc, Ref(uint64(bRefV))), nil
}

// rewrapIndexNode repoints an existing wrapper at (possibly COW'd) a/b
// refs via Array.Set, which itself performs copy-on-write on the
// wrapper if needed, rather than allocating a brand new wrapper node
// on every update.
func rewrapIndexNode(wrapper, a, b *Array) (Ref, error) {
	if err := wrapper.Set(0, int64(a.Ref())); err != nil {
		return 0, err
	}
	if err := wrapper.Set(1, int64(b.Ref())); err != nil {
		return 0, err
	}
	return wrapper.Ref(), nil
}

// Build inserts every (value_i, i) pair from column in order, per
// spec §4.5: O(N log N).
func (x *Index) Build(column *Column) (err error) {
	defer recoverToErr("Index.Build", &err)
	size, err := column.Size()
	if err != nil {
		return err
	}
	for i := uint32(0); i < size; i++ {
		v, err := column.Get(i)
		if err != nil {
			return err
		}
		if err := x.Insert(int64(i), v); err != nil {
			return err
		}
	}
	return nil
}

// Find returns a row key whose column value equals value, per spec
// §4.5. The index is multi-valued; which of several matching rows is
// returned is left unspecified by spec example 5, same here.
func (x *Index) Find(value int64) (rowKey int64, found bool, err error) {
	defer recoverToErr("Index.Find", &err)
	ref := x.ref
	for {
		inner, err := isInnerIndexNode(x.alloc, ref)
		if err != nil {
			return 0, false, err
		}
		_, a, b, err := openIndexNode(x.alloc, ref)
		if err != nil {
			return 0, false, err
		}
		if !inner {
			p, err := a.LowerBound(value)
			if err != nil {
				return 0, false, err
			}
			size, err := a.Size()
			if err != nil {
				return 0, false, err
			}
			if p >= size {
				return 0, false, nil
			}
			v, err := a.Get(p)
			if err != nil {
				return 0, false, err
			}
			if v != value {
				return 0, false, nil
			}
			rk, err := b.Get(p)
			if err != nil {
				return 0, false, err
			}
			return rk, true, nil
		}
		k, err := clampedLowerBound(a, value)
		if err != nil {
			return 0, false, err
		}
		child, err := b.Get(k)
		if err != nil {
			return 0, false, err
		}
		ref = Ref(uint64(child))
	}
}

// clampedLowerBound finds the first child whose max value is >= v,
// clamping to the last child so values greater than every known
// maximum still route somewhere. It is a lower bound, not an upper
// bound, so a child whose maximum equals v is the one chosen.
func clampedLowerBound(maxValues *Array, v int64) (uint32, error) {
	k, err := maxValues.LowerBound(v)
	if err != nil {
		return 0, err
	}
	size, err := maxValues.Size()
	if err != nil {
		return 0, err
	}
	if k >= size {
		k = size - 1
	}
	return k, nil
}

type idxInsertOutcome struct {
	left      Ref
	leftMax   int64
	sibling   Ref
	siblingMax int64
}

// Insert adds (rowKey, value), per spec §4.5: located via upper_bound
// on values, split on overflow past splitSize.
func (x *Index) Insert(rowKey, value int64) (err error) {
	defer recoverToErr("Index.Insert", &err)
	out, err := idxInsertRec(x.alloc, x.ref, x.splitSize, rowKey, value)
	if err != nil {
		return err
	}
	if out.sibling == NullRef {
		x.ref = out.left
		return nil
	}
	newRoot, err := wrapInnerFromPairs(x.alloc,
		[]int64{out.leftMax, out.siblingMax},
		[]Ref{out.left, out.sibling})
	if err != nil {
		return err
	}
	x.ref = newRoot
	return nil
}

func wrapInnerFromPairs(alloc Allocator, maxes []int64, children []Ref) (Ref, error) {
	maxArr, err := NewArray(alloc, false)
	if err != nil {
		return 0, err
	}
	if err := maxArr.markContext(); err != nil {
		return 0, err
	}
	childArr, err := NewArray(alloc, true)
	if err != nil {
		return 0, err
	}
	for i, m := range maxes {
		if err := maxArr.Insert(uint32(i), m); err != nil {
			return 0, err
		}
	}
	for i, c := range children {
		if err := childArr.Insert(uint32(i), int64(c)); err != nil {
			return 0, err
		}
	}
	return wrapIndexNode(alloc, maxArr.Ref(), childArr.Ref(), true)
}

func idxInsertRec(alloc Allocator, ref Ref, splitSize uint32, rowKey, value int64) (idxInsertOutcome, error) {
	inner, err := isInnerIndexNode(alloc, ref)
	if err != nil {
		return idxInsertOutcome{}, err
	}
	wrapper, a, b, err := openIndexNode(alloc, ref)
	if err != nil {
		return idxInsertOutcome{}, err
	}

	if !inner {
		p, err := a.UpperBound(value)
		if err != nil {
			return idxInsertOutcome{}, err
		}
		if err := a.Insert(p, value); err != nil {
			return idxInsertOutcome{}, err
		}
		if err := b.Insert(p, rowKey); err != nil {
			return idxInsertOutcome{}, err
		}
		size, err := a.Size()
		if err != nil {
			return idxInsertOutcome{}, err
		}
		if size <= splitSize {
			newRef, err := rewrapIndexNode(wrapper, a, b)
			if err != nil {
				return idxInsertOutcome{}, err
			}
			last, err := a.Get(size - 1)
			if err != nil {
				return idxInsertOutcome{}, err
			}
			return idxInsertOutcome{left: newRef, leftMax: last}, nil
		}

		splitAt := clampUint32(size/2, 1, size-1)
		rightValues := getScratchInt64(int(size - splitAt))
		rightRowKeys := getScratchInt64(int(size - splitAt))
		for k := splitAt; k < size; k++ {
			v, err := a.Get(k)
			if err != nil {
				return idxInsertOutcome{}, err
			}
			rk, err := b.Get(k)
			if err != nil {
				return idxInsertOutcome{}, err
			}
			rightValues = append(rightValues, v)
			rightRowKeys = append(rightRowKeys, rk)
		}
		if err := a.Truncate(splitAt); err != nil {
			return idxInsertOutcome{}, err
		}
		if err := b.Truncate(splitAt); err != nil {
			return idxInsertOutcome{}, err
		}
		leftRef, err := rewrapIndexNode(wrapper, a, b)
		if err != nil {
			return idxInsertOutcome{}, err
		}
		leftMax, err := a.Get(splitAt - 1)
		if err != nil {
			return idxInsertOutcome{}, err
		}

		rightValuesArr, err := NewArray(alloc, false)
		if err != nil {
			return idxInsertOutcome{}, err
		}
		if err := rightValuesArr.markContext(); err != nil {
			return idxInsertOutcome{}, err
		}
		rightRowKeysArr, err := NewArray(alloc, false)
		if err != nil {
			return idxInsertOutcome{}, err
		}
		for i, v := range rightValues {
			if err := rightValuesArr.Insert(uint32(i), v); err != nil {
				return idxInsertOutcome{}, err
			}
			if err := rightRowKeysArr.Insert(uint32(i), rightRowKeys[i]); err != nil {
				return idxInsertOutcome{}, err
			}
		}
		rightRef, err := wrapIndexNode(alloc, rightValuesArr.Ref(), rightRowKeysArr.Ref(), false)
		if err != nil {
			return idxInsertOutcome{}, err
		}
		siblingMax := rightValues[len(rightValues)-1]
		putScratchInt64(rightValues)
		putScratchInt64(rightRowKeys)
		return idxInsertOutcome{
			left: leftRef, leftMax: leftMax,
			sibling: rightRef, siblingMax: siblingMax,
		}, nil
	}

	// Inner node.
	childCount, err := b.Size()
	if err != nil {
		return idxInsertOutcome{}, err
	}
	childNdx, err := clampedLowerBound(a, value)
	if err != nil {
		return idxInsertOutcome{}, err
	}
	childRefV, err := b.Get(childNdx)
	if err != nil {
		return idxInsertOutcome{}, err
	}
	childOut, err := idxInsertRec(alloc, Ref(uint64(childRefV)), splitSize, rowKey, value)
	if err != nil {
		return idxInsertOutcome{}, err
	}

	if err := a.Set(childNdx, childOut.leftMax); err != nil {
		return idxInsertOutcome{}, err
	}
	if err := b.Set(childNdx, int64(childOut.left)); err != nil {
		return idxInsertOutcome{}, err
	}
	if childOut.sibling != NullRef {
		if err := a.Insert(childNdx+1, childOut.siblingMax); err != nil {
			return idxInsertOutcome{}, err
		}
		if err := b.Insert(childNdx+1, int64(childOut.sibling)); err != nil {
			return idxInsertOutcome{}, err
		}
		childCount++
	}

	if childCount <= splitSize {
		newRef, err := rewrapIndexNode(wrapper, a, b)
		if err != nil {
			return idxInsertOutcome{}, err
		}
		last, err := a.Get(childCount - 1)
		if err != nil {
			return idxInsertOutcome{}, err
		}
		return idxInsertOutcome{left: newRef, leftMax: last}, nil
	}

	mid := childCount / 2
	leftMaxes, rightMaxes := make([]int64, mid), make([]int64, childCount-mid)
	leftChildren, rightChildren := make([]Ref, mid), make([]Ref, childCount-mid)
	for k := uint32(0); k < childCount; k++ {
		m, err := a.Get(k)
		if err != nil {
			return idxInsertOutcome{}, err
		}
		c, err := b.Get(k)
		if err != nil {
			return idxInsertOutcome{}, err
		}
		if k < mid {
			leftMaxes[k] = m
			leftChildren[k] = Ref(uint64(c))
		} else {
			rightMaxes[k-mid] = m
			rightChildren[k-mid] = Ref(uint64(c))
		}
	}
	leftRef, err := wrapInnerFromPairs(alloc, leftMaxes, leftChildren)
	if err != nil {
		return idxInsertOutcome{}, err
	}
	rightRef, err := wrapInnerFromPairs(alloc, rightMaxes, rightChildren)
	if err != nil {
		return idxInsertOutcome{}, err
	}
	return idxInsertOutcome{
		left: leftRef, leftMax: leftMaxes[len(leftMaxes)-1],
		sibling: rightRef, siblingMax: rightMaxes[len(rightMaxes)-1],
	}, nil
}

// Erase removes the (rowKey, oldValue) pair, per spec §4.5. Returns
// ErrNotFound if no such pair exists.
func (x *Index) Erase(rowKey, oldValue int64) (err error) {
	defer recoverToErr("Index.Erase", &err)
	newRef, _, removed, err := idxEraseRec(x.alloc, x.ref, oldValue, rowKey)
	if err != nil {
		return err
	}
	if removed {
		leaf, err := newIndexLeaf(x.alloc)
		if err != nil {
			return err
		}
		x.ref = leaf
		return nil
	}
	x.ref = collapseIndexRoot(x.alloc, newRef)
	return nil
}

func idxEraseRec(alloc Allocator, ref Ref, value, rowKey int64) (newRef Ref, newMax int64, removed bool, err error) {
	inner, err := isInnerIndexNode(alloc, ref)
	if err != nil {
		return 0, 0, false, err
	}
	wrapper, a, b, err := openIndexNode(alloc, ref)
	if err != nil {
		return 0, 0, false, err
	}

	if !inner {
		p, err := a.LowerBound(value)
		if err != nil {
			return 0, 0, false, err
		}
		size, err := a.Size()
		if err != nil {
			return 0, 0, false, err
		}
		found := false
		for p < size {
			v, err := a.Get(p)
			if err != nil {
				return 0, 0, false, err
			}
			if v != value {
				break
			}
			rk, err := b.Get(p)
			if err != nil {
				return 0, 0, false, err
			}
			if rk == rowKey {
				found = true
				break
			}
			p++
		}
		if !found {
			return 0, 0, false, ErrNotFound
		}
		if err := a.Erase(p); err != nil {
			return 0, 0, false, err
		}
		if err := b.Erase(p); err != nil {
			return 0, 0, false, err
		}
		newSize, err := a.Size()
		if err != nil {
			return 0, 0, false, err
		}
		if newSize == 0 {
			_ = alloc.Free(ref)
			return 0, 0, true, nil
		}
		newWrapper, err := rewrapIndexNode(wrapper, a, b)
		if err != nil {
			return 0, 0, false, err
		}
		last, err := a.Get(newSize - 1)
		if err != nil {
			return 0, 0, false, err
		}
		return newWrapper, last, false, nil
	}

	childNdx, err := clampedLowerBound(a, value)
	if err != nil {
		return 0, 0, false, err
	}
	childRefV, err := b.Get(childNdx)
	if err != nil {
		return 0, 0, false, err
	}
	childNewRef, childNewMax, childRemoved, err := idxEraseRec(alloc, Ref(uint64(childRefV)), value, rowKey)
	if err != nil {
		return 0, 0, false, err
	}

	if childRemoved {
		if err := a.Erase(childNdx); err != nil {
			return 0, 0, false, err
		}
		if err := b.Erase(childNdx); err != nil {
			return 0, 0, false, err
		}
	} else {
		if err := a.Set(childNdx, childNewMax); err != nil {
			return 0, 0, false, err
		}
		if err := b.Set(childNdx, int64(childNewRef)); err != nil {
			return 0, 0, false, err
		}
	}

	size, err := b.Size()
	if err != nil {
		return 0, 0, false, err
	}
	if size == 0 {
		_ = alloc.Free(ref)
		return 0, 0, true, nil
	}
	newWrapper, err := rewrapIndexNode(wrapper, a, b)
	if err != nil {
		return 0, 0, false, err
	}
	last, err := a.Get(size - 1)
	if err != nil {
		return 0, 0, false, err
	}
	return newWrapper, last, false, nil
}

// collapseIndexRoot mirrors column.go's collapseRoot: an inner root
// with a single surviving child is replaced by that child.
func collapseIndexRoot(alloc Allocator, ref Ref) Ref {
	for {
		inner, err := isInnerIndexNode(alloc, ref)
		if err != nil || !inner {
			return ref
		}
		_, _, b, err := openIndexNode(alloc, ref)
		if err != nil {
			return ref
		}
		size, err := b.Size()
		if err != nil || size != 1 {
			return ref
		}
		only, err := b.Get(0)
		if err != nil {
			return ref
		}
		_ = alloc.Free(ref)
		ref = Ref(uint64(only))
	}
}
