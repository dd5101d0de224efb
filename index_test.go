package tdb

import "testing"

func TestIndexInsertAndFind(t *testing.T) {
	alloc := NewMemoryAllocator()
	idx, err := NewIndex(alloc, 4)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	pairs := map[int64]int64{100: 0, 50: 1, 75: 2, 25: 3, 10: 4, 90: 5}
	for value, rowKey := range pairs {
		if err := idx.Insert(rowKey, value); err != nil {
			t.Fatalf("Insert(%d, %d): %v", rowKey, value, err)
		}
	}
	for value, wantRowKey := range pairs {
		rowKey, found, err := idx.Find(value)
		if err != nil {
			t.Fatalf("Find(%d): %v", value, err)
		}
		if !found {
			t.Fatalf("Find(%d) not found", value)
		}
		if rowKey != wantRowKey {
			t.Errorf("Find(%d) = %d, want %d", value, rowKey, wantRowKey)
		}
	}
	if _, found, err := idx.Find(12345); err != nil {
		t.Fatalf("Find(missing): %v", err)
	} else if found {
		t.Errorf("Find(12345) unexpectedly found a match")
	}
}

func TestIndexBuildFromColumn(t *testing.T) {
	alloc := NewMemoryAllocator()
	col, err := NewColumn(alloc, 8)
	if err != nil {
		t.Fatalf("NewColumn: %v", err)
	}
	values := []int64{30, 10, 50, 20, 40}
	for i, v := range values {
		if err := col.Insert(uint32(i), v); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	idx, err := NewIndex(alloc, 4)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if err := idx.Build(col); err != nil {
		t.Fatalf("Build: %v", err)
	}

	for rowKey, value := range values {
		gotRowKey, found, err := idx.Find(value)
		if err != nil {
			t.Fatalf("Find(%d): %v", value, err)
		}
		if !found || gotRowKey != int64(rowKey) {
			t.Errorf("Find(%d) = (%d, %v), want (%d, true)", value, gotRowKey, found, rowKey)
		}
	}
}

func TestIndexInsertManyForcesSplit(t *testing.T) {
	alloc := NewMemoryAllocator()
	const splitSize = 4
	idx, err := NewIndex(alloc, splitSize)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	const n = 60
	for i := 0; i < n; i++ {
		if err := idx.Insert(int64(i), int64(i*2)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	inner, err := isInnerIndexNode(alloc, idx.Ref())
	if err != nil {
		t.Fatalf("isInnerIndexNode: %v", err)
	}
	if !inner {
		t.Fatalf("expected index root to become an inner node after %d inserts with split size %d", n, splitSize)
	}
	for i := 0; i < n; i++ {
		rowKey, found, err := idx.Find(int64(i * 2))
		if err != nil {
			t.Fatalf("Find(%d): %v", i*2, err)
		}
		if !found || rowKey != int64(i) {
			t.Errorf("Find(%d) = (%d, %v), want (%d, true)", i*2, rowKey, found, i)
		}
	}
}

func TestIndexErase(t *testing.T) {
	alloc := NewMemoryAllocator()
	idx, err := NewIndex(alloc, 4)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := idx.Insert(int64(i), int64(i*10)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := idx.Erase(5, 50); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if _, found, err := idx.Find(50); err != nil {
		t.Fatalf("Find after erase: %v", err)
	} else if found {
		t.Errorf("Find(50) should no longer be found after Erase")
	}
	rowKey, found, err := idx.Find(30)
	if err != nil {
		t.Fatalf("Find(30): %v", err)
	}
	if !found || rowKey != 3 {
		t.Errorf("Find(30) = (%d, %v), want (3, true)", rowKey, found)
	}
}
