package tdb

import "sort"

// array.go implements the primitive array from spec §3.3 and §4.3: a
// resizable, bit-packed sequence of signed integers living in a single
// node, with copy-on-write gating every mutation.
//
// Grounded on the teacher's node accessor pattern (sirgallo/mari
// Node.go's ReadINodeFromMemMap/WriteINodeToMemMap and Node.go's
// copyINode for path copying): the teacher's accessor is a typed Go
// struct reloaded from the mem-map on every read and explicitly copied
// before every write. Array generalizes that into spec §9's "tagged
// variant node handle": a thin (alloc, ref) pair that re-derives its
// header from Translate on every operation rather than caching Go
// struct fields that could go stale across a structural mutation
// elsewhere in the tree (spec §3.7: "accessors ... must be treated as
// invalidated across any structural mutation not performed through
// them").
type Array struct {
	alloc Allocator
	ref   Ref
}

// OpenArray wraps an existing node ref as an Array accessor. No I/O
// happens until the first operation.
func OpenArray(alloc Allocator, ref Ref) *Array {
	return &Array{alloc: alloc, ref: ref}
}

// NewArray allocates a fresh, empty (size 0, width 0) array node.
// hasRefs marks the node's FlagHasRefs bit, per spec §3.2's invariant
// that only has_refs nodes may hold child refs/tagged scalars as
// elements.
func NewArray(alloc Allocator, hasRefs bool) (*Array, error) {
	ref, buf, err := alloc.Alloc(HeaderSize)
	if err != nil {
		return nil, err
	}
	var flags uint8
	if hasRefs {
		flags = FlagHasRefs
	}
	h := NodeHeader{Size: 0, Scheme: SchemeBits, Width: 0, Flags: flags, Capacity: HeaderSize}
	if err := encodeHeader(h, buf); err != nil {
		return nil, err
	}
	return &Array{alloc: alloc, ref: ref}, nil
}

// Ref returns the array's current node ref. Every mutating method may
// change this (copy-on-write, width expansion, or resize all produce a
// fresh ref); callers embedding an Array as a child must re-read Ref()
// after any mutation and propagate it to the parent.
func (a *Array) Ref() Ref { return a.ref }

func (a *Array) header() (NodeHeader, []byte, error) {
	buf, err := a.alloc.Translate(a.ref)
	if err != nil {
		return NodeHeader{}, nil, err
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return NodeHeader{}, nil, err
	}
	return h, buf, nil
}

// Size returns the node's logical element count.
func (a *Array) Size() (size uint32, err error) {
	defer recoverToErr("Array.Size", &err)
	h, _, err := a.header()
	if err != nil {
		return 0, err
	}
	return h.Size, nil
}

func (a *Array) HasRefs() (bool, error) {
	h, _, err := a.header()
	if err != nil {
		return false, err
	}
	return h.HasFlag(FlagHasRefs), nil
}

// markInnerBPTreeNode sets the is_inner_bptree_node flag on a freshly
// allocated node, before it is linked into any tree (column.go's
// buildInnerNode). Safe to patch in place: the node has not yet been
// published, so this is not a mutation subject to the copy-on-write
// rule.
func (a *Array) markInnerBPTreeNode() error {
	h, buf, err := a.header()
	if err != nil {
		return err
	}
	h.Flags |= FlagInnerBPTreeNode
	return encodeHeader(h, buf)
}

// markContext sets the context_flag bit (spec §3.2) that FindFirst
// uses to enable its sorted fast path. Callers take on the obligation
// the flag documents: every element this array will ever hold, now and
// after every future mutation, stays in non-decreasing order. Safe to
// call in place the same way markInnerBPTreeNode is -- the flag
// survives every later copy-on-write rewrite via Array.rewrite's
// flags-preserving header reconstruction.
func (a *Array) markContext() error {
	h, buf, err := a.header()
	if err != nil {
		return err
	}
	h.Flags |= FlagContext
	return encodeHeader(h, buf)
}

// Get reads the i'th element, sign-extended to int64. Spec §4.3: "O(1);
// undefined if i >= size" -- we instead bounds-check and return a
// corruption error, since this is a Go library, not inline C++.
func (a *Array) Get(i uint32) (v int64, err error) {
	defer recoverToErr("Array.Get", &err)

	h, buf, err := a.header()
	if err != nil {
		return 0, err
	}
	if i >= h.Size {
		return 0, corruptionErr("index out of range", nil)
	}
	return readElem(buf[HeaderSize:], h.Width, i), nil
}

// readElem reads element index i at the given bit width from a
// header-stripped payload slice, sign-extending the result.
func readElem(payload []byte, width uint8, i uint32) int64 {
	if width == 0 {
		return 0
	}
	bitOffset := int(i) * int(width)
	raw := getBitfield(payload, bitOffset, width)
	return signExtend(raw, width)
}

func writeElem(payload []byte, width uint8, i uint32, v int64) {
	if width == 0 {
		return
	}
	bitOffset := int(i) * int(width)
	setBitfield(payload, bitOffset, width, uint64(v))
}

// GetChunk fills out with 8 consecutive values starting at i; indices
// at or beyond size read as 0 (spec §4.3). For width <= 4 bits this
// batches the decode through a single 64-bit load, per spec §4.3.1.
func (a *Array) GetChunk(i uint32, out *[8]int64) (err error) {
	defer recoverToErr("Array.GetChunk", &err)

	h, buf, err := a.header()
	if err != nil {
		return err
	}
	payload := buf[HeaderSize:]

	if h.Width != 0 && h.Width <= 4 {
		bitOffset := int(i) * int(h.Width)
		byteOffset := bitOffset / 8
		bitInByte := uint(bitOffset % 8)

		var word uint64
		if byteOffset < len(payload) {
			var tmp [8]byte
			copy(tmp[:], payload[byteOffset:min(byteOffset+8, len(payload))])
			word = leUint64(tmp[:])
		}
		word >>= bitInByte
		mask := uint64(1)<<h.Width - 1
		for k := 0; k < 8; k++ {
			idx := i + uint32(k)
			if idx >= h.Size {
				out[k] = 0
				continue
			}
			out[k] = signExtend(word&mask, h.Width)
			word >>= h.Width
		}
		return nil
	}

	for k := 0; k < 8; k++ {
		idx := i + uint32(k)
		if idx >= h.Size {
			out[k] = 0
			continue
		}
		out[k] = readElem(payload, h.Width, idx)
	}
	return nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for k := 7; k >= 0; k-- {
		v = v<<8 | uint64(b[k])
	}
	return v
}

// scanMinMax returns the current min/max across all elements (width=0
// nodes are trivially {0,0}); used to recompute the required width on
// Set/Insert per spec §4.2's width-selection rule, which is defined
// over "the current minimum and maximum values" of the node.
func (a *Array) scanMinMax() (min, max int64, err error) {
	h, buf, err := a.header()
	if err != nil {
		return 0, 0, err
	}
	if h.Size == 0 {
		return 0, 0, nil
	}
	payload := buf[HeaderSize:]
	min = readElem(payload, h.Width, 0)
	max = min
	for i := uint32(1); i < h.Size; i++ {
		v := readElem(payload, h.Width, i)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max, nil
}

// rewrite allocates a fresh node sized for (newSize, newWidth), invokes
// fill to populate its payload, frees the old node if it was mutable
// scratch (a no-op if it was in the read-only region -- spec §4.1:
// freeing a read-only ref is recorded but does not overwrite data),
// and repoints a.ref at the new node. This is the single COW/width-
// expansion choke point every mutating Array method funnels through,
// so there is exactly one place that reallocates.
//
// flags is the full 3-bit flags byte to carry into the new node, not
// just FlagHasRefs: a node's FlagInnerBPTreeNode or FlagContext marking
// must survive every COW rewrite the same way FlagHasRefs does, since
// callers (column.go's buildInnerNode, index.go's wrapIndexNode) mark a
// node once and then keep inserting into it.
func (a *Array) rewrite(newSize uint32, flags uint8, newWidth uint8, fill func(payload []byte)) error {
	size := nodeByteSize(schemeForWidth(newWidth), newWidth, newSize)
	newRef, buf, err := a.alloc.Alloc(size)
	if err != nil {
		return err
	}

	h := NodeHeader{Size: newSize, Scheme: schemeForWidth(newWidth), Width: newWidth, Flags: flags, Capacity: uint32(size)}
	if err := encodeHeader(h, buf); err != nil {
		return err
	}
	fill(buf[HeaderSize:])

	oldRef := a.ref
	a.ref = newRef
	if oldRef != NullRef {
		_ = a.alloc.Free(oldRef)
	}
	return nil
}

// Set writes v at index i. Per spec §4.3: in-place when v fits the
// current width and the node is mutable; otherwise a full rewrite
// (which transparently performs copy-on-write and/or width expansion).
func (a *Array) Set(i uint32, v int64) (err error) {
	defer recoverToErr("Array.Set", &err)

	h, buf, err := a.header()
	if err != nil {
		return err
	}
	if i >= h.Size {
		return corruptionErr("index out of range", nil)
	}

	if fitsWidth(v, h.Width) && !a.alloc.IsReadOnly(a.ref) {
		writeElem(buf[HeaderSize:], h.Width, i, v)
		return nil
	}

	min, max, err := a.scanMinMax()
	if err != nil {
		return err
	}
	// Width is recomputed from the node's current min/max, which still
	// counts the overwritten slot's old value, plus the incoming value.
	// On this rewrite path the result can be narrower than the old
	// width when no remaining value needs it (Erase never narrows, so
	// a node can carry a wider width than its values need).
	newWidth := widthFor(min, max, v)
	oldPayload := buf[HeaderSize:]
	oldWidth := h.Width
	size := h.Size

	return a.rewrite(size, h.Flags, newWidth, func(payload []byte) {
		for k := uint32(0); k < size; k++ {
			if k == i {
				continue
			}
			writeElem(payload, newWidth, k, readElem(oldPayload, oldWidth, k))
		}
		writeElem(payload, newWidth, i, v)
	})
}

// Insert grows the array by one element, shifting the tail right.
// Width expansion follows the same rule as Set.
func (a *Array) Insert(i uint32, v int64) (err error) {
	defer recoverToErr("Array.Insert", &err)

	h, buf, err := a.header()
	if err != nil {
		return err
	}
	if i > h.Size {
		return invariantErr("insert index beyond size")
	}
	if h.Size >= (1<<24)-1 {
		return capacityErr("array would exceed 2^24-1 elements")
	}

	min, max, err := a.scanMinMax()
	if err != nil {
		return err
	}
	newWidth := widthFor(min, max, v)
	oldPayload := buf[HeaderSize:]
	oldWidth := h.Width
	oldSize := h.Size
	newSize := oldSize + 1

	return a.rewrite(newSize, h.Flags, newWidth, func(payload []byte) {
		for k := uint32(0); k < i; k++ {
			writeElem(payload, newWidth, k, readElem(oldPayload, oldWidth, k))
		}
		writeElem(payload, newWidth, i, v)
		for k := i; k < oldSize; k++ {
			writeElem(payload, newWidth, k+1, readElem(oldPayload, oldWidth, k))
		}
	})
}

// Erase removes the element at index i, shifting the tail left. Width
// is not shrunk (spec §4.3), except that erasing the only element
// leaves an empty width-0 node.
func (a *Array) Erase(i uint32) (err error) {
	defer recoverToErr("Array.Erase", &err)

	h, buf, err := a.header()
	if err != nil {
		return err
	}
	if i >= h.Size {
		return corruptionErr("index out of range", nil)
	}

	oldPayload := buf[HeaderSize:]
	width := h.Width
	oldSize := h.Size
	newSize := oldSize - 1

	if newSize == 0 {
		return a.rewrite(0, h.Flags, 0, func(payload []byte) {})
	}

	return a.rewrite(newSize, h.Flags, width, func(payload []byte) {
		for k := uint32(0); k < i; k++ {
			writeElem(payload, width, k, readElem(oldPayload, width, k))
		}
		for k := i + 1; k < oldSize; k++ {
			writeElem(payload, width, k-1, readElem(oldPayload, width, k))
		}
	})
}

// Move block-copies the half-open range [begin,end) to start at dest
// within the same node. A dest strictly inside (begin,end) is rejected
// as a programming error; every other dest is accepted, including a
// leftward move whose target overlaps the source range.
func (a *Array) Move(begin, end, dest uint32) (err error) {
	defer recoverToErr("Array.Move", &err)

	if end < begin {
		return invariantErr("move: end before begin")
	}
	if dest > begin && dest < end {
		return invariantErr("move: unsupported overlap")
	}

	if err := a.ensureWritable(); err != nil {
		return err
	}
	h, buf, err := a.header()
	if err != nil {
		return err
	}
	if end > h.Size || dest+(end-begin) > h.Size {
		return corruptionErr("move range out of bounds", nil)
	}

	payload := buf[HeaderSize:]
	width := h.Width
	n := end - begin

	// Read the source range into a temp buffer first since dest may
	// overlap the tail of [begin,end).
	tmp := make([]int64, n)
	for k := uint32(0); k < n; k++ {
		tmp[k] = readElem(payload, width, begin+k)
	}
	for k := uint32(0); k < n; k++ {
		writeElem(payload, width, dest+k, tmp[k])
	}
	return nil
}

// Truncate drops every element at or past newSize. If newSize is 0,
// width resets to 0 (spec §4.3).
func (a *Array) Truncate(newSize uint32) (err error) {
	defer recoverToErr("Array.Truncate", &err)

	if err := a.ensureWritable(); err != nil {
		return err
	}
	h, buf, err := a.header()
	if err != nil {
		return err
	}
	if newSize > h.Size {
		return invariantErr("truncate: newSize exceeds current size")
	}

	if newSize == 0 {
		return a.rewrite(0, h.Flags, 0, func(payload []byte) {})
	}

	h.Size = newSize
	return encodeHeader(h, buf)
}

// ensureWritable performs copy-on-write in place: if the node is in
// the allocator's read-only region, it is duplicated byte-for-byte
// into a freshly allocated node of the same capacity, and a.ref is
// repointed at the copy. Spec §4.3: "Copy-on-write rule: any mutation
// first checks allocator.is_read_only(self.ref). If read-only,
// allocate a fresh node, copy the contents, redirect the parent
// pointer, then mutate."
func (a *Array) ensureWritable() error {
	if !a.alloc.IsReadOnly(a.ref) {
		return nil
	}
	buf, err := a.alloc.Translate(a.ref)
	if err != nil {
		return err
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return err
	}
	size := nodeByteSize(h.Scheme, h.Width, h.Size)
	newRef, newBuf, err := a.alloc.Alloc(size)
	if err != nil {
		return err
	}
	copy(newBuf, buf[:size])
	h.Capacity = uint32(size)
	if err := encodeHeader(h, newBuf); err != nil {
		return err
	}
	a.ref = newRef
	return nil
}

// FindOp selects the comparison used by FindFirst.
type FindOp int

const (
	FindEQ FindOp = iota
	FindNE
	FindLT
	FindGT
)

// FindFirst returns the first index in [begin,end) satisfying
// `elem Op v`, per spec §4.3. A false second return means no match was
// found in range -- the Go-idiomatic rendering of spec §9's "explicit
// optional" guidance, replacing the legacy "-1 cast to size_t" sentinel
// pattern the source used.
func (a *Array) FindFirst(op FindOp, v int64, begin, end uint32) (idx uint32, found bool, err error) {
	defer recoverToErr("Array.FindFirst", &err)

	h, buf, err := a.header()
	if err != nil {
		return 0, false, err
	}
	if end > h.Size {
		end = h.Size
	}
	payload := buf[HeaderSize:]

	// Sorted fast path (original_source/src/realm/array.cpp's IntegerNode
	// dispatch): an array the caller has marked context_flag is known to
	// be non-decreasing end to end, so an equality search can binary
	// search [begin,end) instead of scanning it.
	if op == FindEQ && h.HasFlag(FlagContext) {
		lo, hi := begin, end
		for lo < hi {
			mid := lo + (hi-lo)/2
			if readElem(payload, h.Width, mid) < v {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if lo < end && readElem(payload, h.Width, lo) == v {
			return lo, true, nil
		}
		return 0, false, nil
	}

	match := func(elem int64) bool {
		switch op {
		case FindEQ:
			return elem == v
		case FindNE:
			return elem != v
		case FindLT:
			return elem < v
		case FindGT:
			return elem > v
		default:
			return false
		}
	}

	for i := begin; i < end; i++ {
		if match(readElem(payload, h.Width, i)) {
			return i, true, nil
		}
	}
	return 0, false, nil
}

// LowerBound returns the index of the first element >= v in a
// (caller-guaranteed) sorted array, via binary search.
func (a *Array) LowerBound(v int64) (idx uint32, err error) {
	defer recoverToErr("Array.LowerBound", &err)

	h, buf, err := a.header()
	if err != nil {
		return 0, err
	}
	payload := buf[HeaderSize:]

	lo, hi := uint32(0), h.Size
	for lo < hi {
		mid := lo + (hi-lo)/2
		if readElem(payload, h.Width, mid) < v {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// UpperBound returns the index of the first element > v.
func (a *Array) UpperBound(v int64) (idx uint32, err error) {
	defer recoverToErr("Array.UpperBound", &err)

	h, buf, err := a.header()
	if err != nil {
		return 0, err
	}
	payload := buf[HeaderSize:]

	lo, hi := uint32(0), h.Size
	for lo < hi {
		mid := lo + (hi-lo)/2
		if readElem(payload, h.Width, mid) <= v {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// Sum adds elements in [begin,end).
func (a *Array) Sum(begin, end uint32) (sum int64, err error) {
	defer recoverToErr("Array.Sum", &err)
	h, buf, err := a.header()
	if err != nil {
		return 0, err
	}
	if end > h.Size {
		end = h.Size
	}
	payload := buf[HeaderSize:]
	for i := begin; i < end; i++ {
		sum += readElem(payload, h.Width, i)
	}
	return sum, nil
}

// MinMax returns the min and max of [begin,end). ok is false if the
// range is empty.
func (a *Array) MinMax(begin, end uint32) (min, max int64, ok bool, err error) {
	h, buf, err := a.header()
	if err != nil {
		return 0, 0, false, err
	}
	if end > h.Size {
		end = h.Size
	}
	if begin >= end {
		return 0, 0, false, nil
	}
	payload := buf[HeaderSize:]
	min = readElem(payload, h.Width, begin)
	max = min
	for i := begin + 1; i < end; i++ {
		v := readElem(payload, h.Width, i)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max, true, nil
}

// Sort orders elements ascending in place.
func (a *Array) Sort() (err error) {
	defer recoverToErr("Array.Sort", &err)

	if err := a.ensureWritable(); err != nil {
		return err
	}
	h, buf, err := a.header()
	if err != nil {
		return err
	}
	payload := buf[HeaderSize:]

	vals := getScratchInt64(int(h.Size))
	for i := uint32(0); i < h.Size; i++ {
		vals = append(vals, readElem(payload, h.Width, i))
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	for i, v := range vals {
		writeElem(payload, h.Width, uint32(i), v)
	}
	putScratchInt64(vals)
	return nil
}

// ToSlice materializes every element; used by the tree writer and
// tests, never on a hot path.
func (a *Array) ToSlice() (out []int64, err error) {
	h, buf, err := a.header()
	if err != nil {
		return nil, err
	}
	payload := buf[HeaderSize:]
	out = make([]int64, h.Size)
	for i := range out {
		out[i] = readElem(payload, h.Width, uint32(i))
	}
	return out, nil
}
