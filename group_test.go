package tdb

import "testing"

func TestGroupCreateTableAndCommitRoundTrips(t *testing.T) {
	alloc := NewMemoryAllocator()
	g := NewGroup(alloc, 8, 8)

	col, err := g.CreateTable("events")
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	for i, v := range []int64{1, 2, 3} {
		if err := col.Insert(uint32(i), v); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := g.UpdateTable("events", col); err != nil {
		t.Fatalf("UpdateTable: %v", err)
	}

	topRef, err := g.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if topRef.IsNull() {
		t.Fatalf("Commit returned a null top ref")
	}

	reopened, err := OpenGroup(alloc, topRef, 8, 8)
	if err != nil {
		t.Fatalf("OpenGroup: %v", err)
	}
	names := reopened.TableNames()
	if len(names) != 1 || names[0] != "events" {
		t.Fatalf("TableNames = %v, want [events]", names)
	}
	reopenedCol, ok := reopened.Table("events")
	if !ok {
		t.Fatalf("Table(events) not found after reopen")
	}
	size, err := reopenedCol.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 3 {
		t.Fatalf("Size = %d, want 3", size)
	}
}

func TestGroupBuildAndUpdateIndex(t *testing.T) {
	alloc := NewMemoryAllocator()
	g := NewGroup(alloc, 8, 8)

	col, err := g.CreateTable("measurements")
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	for i, v := range []int64{30, 10, 20} {
		if err := col.Insert(uint32(i), v); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := g.UpdateTable("measurements", col); err != nil {
		t.Fatalf("UpdateTable: %v", err)
	}

	idx, err := g.BuildIndex("measurements")
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	rowKey, found, err := idx.Find(20)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !found || rowKey != 2 {
		t.Errorf("Find(20) = (%d, %v), want (2, true)", rowKey, found)
	}

	if err := g.UpdateIndex("measurements", idx); err != nil {
		t.Fatalf("UpdateIndex: %v", err)
	}
	if _, ok := g.Index("measurements"); !ok {
		t.Errorf("Index(measurements) should be present after BuildIndex")
	}
}

func TestGroupCreateTableRejectsDuplicateName(t *testing.T) {
	alloc := NewMemoryAllocator()
	g := NewGroup(alloc, 8, 8)
	if _, err := g.CreateTable("dup"); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := g.CreateTable("dup"); err == nil {
		t.Errorf("expected an error creating a second table with the same name")
	}
}

func TestOpenGroupOnNullRefIsEmpty(t *testing.T) {
	alloc := NewMemoryAllocator()
	g, err := OpenGroup(alloc, NullRef, 8, 8)
	if err != nil {
		t.Fatalf("OpenGroup: %v", err)
	}
	if len(g.TableNames()) != 0 {
		t.Errorf("expected no tables in a freshly opened null-ref group")
	}
}
