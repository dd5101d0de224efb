package tdb

import "testing"

func TestTreeWriterProducesReadableColumn(t *testing.T) {
	alloc := NewMemoryAllocator()
	const fanout = 4
	w := NewTreeWriter(alloc, fanout)

	const n = 37
	for i := 0; i < n; i++ {
		if err := w.AppendValue(int64(i)); err != nil {
			t.Fatalf("AppendValue(%d): %v", i, err)
		}
	}
	root, err := w.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	col := OpenColumn(alloc, root, fanout)
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

func TestTreeWriterEmptyProducesEmptyColumn(t *testing.T) {
	alloc := NewMemoryAllocator()
	w := NewTreeWriter(alloc, 8)
	root, err := w.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	col := OpenColumn(alloc, root, 8)
	size, err := col.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 0 {
		t.Errorf("Size = %d, want 0", size)
	}
}

func TestTreeWriterExactlyOneLeaf(t *testing.T) {
	alloc := NewMemoryAllocator()
	const fanout = 8
	w := NewTreeWriter(alloc, fanout)
	for i := 0; i < fanout; i++ {
		if err := w.AppendValue(int64(i * i)); err != nil {
			t.Fatalf("AppendValue: %v", err)
		}
	}
	root, err := w.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	inner, err := isInnerNode(alloc, root)
	if err != nil {
		t.Fatalf("isInnerNode: %v", err)
	}
	if inner {
		t.Errorf("a single full leaf should not need an inner node wrapper")
	}
}
