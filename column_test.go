package tdb

import "testing"

func TestColumnInsertWithinSingleLeaf(t *testing.T) {
	alloc := NewMemoryAllocator()
	col, err := NewColumn(alloc, 8)
	if err != nil {
		t.Fatalf("NewColumn: %v", err)
	}
	for i, v := range []int64{1, 2, 3, 4} {
		if err := col.Insert(uint32(i), v); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	size, err := col.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 4 {
		t.Fatalf("Size = %d, want 4", size)
	}
	for i, want := range []int64{1, 2, 3, 4} {
		got, err := col.Get(uint32(i))
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if got != want {
			t.Errorf("Get(%d) = %d, want %d", i, got, want)
		}
	}
}

func TestColumnAppendForcesSplitToInnerNode(t *testing.T) {
	alloc := NewMemoryAllocator()
	const fanout = 4
	col, err := NewColumn(alloc, fanout)
	if err != nil {
		t.Fatalf("NewColumn: %v", err)
	}

	const n = 50
	for i := 0; i < n; i++ {
		if err := col.Insert(uint32(i), int64(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	inner, err := isInnerNode(alloc, col.Ref())
	if err != nil {
		t.Fatalf("isInnerNode: %v", err)
	}
	if !inner {
		t.Fatalf("expected root to become an inner node after %d appends with fanout %d", n, fanout)
	}

	size, err := col.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != n {
		t.Fatalf("Size = %d, want %d", size, n)
	}
	for i := 0; i < n; i++ {
		got, err := col.Get(uint32(i))
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if got != int64(i) {
			t.Errorf("Get(%d) = %d, want %d", i, got, i)
		}
	}
}

func TestColumnInsertInMiddleForcesGeneralForm(t *testing.T) {
	alloc := NewMemoryAllocator()
	const fanout = 4
	col, err := NewColumn(alloc, fanout)
	if err != nil {
		t.Fatalf("NewColumn: %v", err)
	}
	for i := 0; i < 30; i++ {
		if err := col.Insert(uint32(i), int64(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	// Insert not-at-tail: forces non-compact (general) form rootward.
	if err := col.Insert(0, -1); err != nil {
		t.Fatalf("Insert(0, -1): %v", err)
	}
	size, err := col.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 31 {
		t.Fatalf("Size = %d, want 31", size)
	}
	iv, err := decodeInner(alloc, col.Ref())
	if err != nil {
		t.Fatalf("decodeInner(root): %v", err)
	}
	if !iv.isGeneral {
		t.Errorf("root still in compact form after a non-tail insert")
	}
	got, err := col.Get(0)
	if err != nil {
		t.Fatalf("Get(0): %v", err)
	}
	if got != -1 {
		t.Errorf("Get(0) = %d, want -1", got)
	}
	got, err = col.Get(1)
	if err != nil {
		t.Fatalf("Get(1): %v", err)
	}
	if got != 0 {
		t.Errorf("Get(1) = %d, want 0", got)
	}
}

func TestColumnSetAndErase(t *testing.T) {
	alloc := NewMemoryAllocator()
	col, err := NewColumn(alloc, 4)
	if err != nil {
		t.Fatalf("NewColumn: %v", err)
	}
	for i := 0; i < 20; i++ {
		if err := col.Insert(uint32(i), int64(i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := col.Set(10, 999); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := col.Get(10)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 999 {
		t.Errorf("Get(10) = %d, want 999", got)
	}

	if err := col.Erase(10); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	size, err := col.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 19 {
		t.Fatalf("Size after erase = %d, want 19", size)
	}
	got, err = col.Get(10)
	if err != nil {
		t.Fatalf("Get after erase: %v", err)
	}
	if got != 11 {
		t.Errorf("Get(10) after erasing index 10 = %d, want 11 (shifted down)", got)
	}
}

func TestColumnVisitLeavesCoversEveryElementOnce(t *testing.T) {
	alloc := NewMemoryAllocator()
	col, err := NewColumn(alloc, 4)
	if err != nil {
		t.Fatalf("NewColumn: %v", err)
	}
	const n = 40
	for i := 0; i < n; i++ {
		if err := col.Insert(uint32(i), int64(i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	seen := make([]bool, n)
	err = col.VisitLeaves(0, func(leaf *Array, offset uint32) (bool, error) {
		size, err := leaf.Size()
		if err != nil {
			return false, err
		}
		for k := uint32(0); k < size; k++ {
			v, err := leaf.Get(k)
			if err != nil {
				return false, err
			}
			if v != int64(offset+k) {
				t.Errorf("leaf element at logical offset %d = %d, want %d", offset+k, v, offset+k)
			}
			seen[offset+k] = true
		}
		return true, nil
	})
	if err != nil {
		t.Fatalf("VisitLeaves: %v", err)
	}
	for i, ok := range seen {
		if !ok {
			t.Errorf("element %d never visited", i)
		}
	}
}
