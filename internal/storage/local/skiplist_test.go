package local

import "testing"

func TestSkipListInsertAndSearch(t *testing.T) {
	sl := newSkipList[int, string](lessInt)
	sl.Upsert(1, "value1")

	val, found := sl.Search(1)
	if !found || val != "value1" {
		t.Fatalf("expected value1, got %v found=%v", val, found)
	}
}

func TestSkipListUpsertReplacesExisting(t *testing.T) {
	sl := newSkipList[int, string](lessInt)
	sl.Upsert(1, "value1")
	sl.Upsert(1, "value2")

	val, found := sl.Search(1)
	if !found || val != "value2" {
		t.Fatalf("expected value2, got %v found=%v", val, found)
	}
	if sl.Len() != 1 {
		t.Fatalf("expected len 1, got %d", sl.Len())
	}
}

func TestSkipListDelete(t *testing.T) {
	sl := newSkipList[int, string](lessInt)
	sl.Upsert(1, "value1")
	sl.Upsert(2, "value2")

	if !sl.Delete(1) {
		t.Fatal("expected delete to succeed")
	}
	if _, found := sl.Search(1); found {
		t.Fatal("key should be gone after delete")
	}
	if sl.Len() != 1 {
		t.Fatalf("expected len 1, got %d", sl.Len())
	}
}

func TestSkipListRangeIsOrdered(t *testing.T) {
	sl := newSkipList[int, string](lessInt)
	for _, k := range []int{5, 1, 3, 2, 4} {
		sl.Upsert(k, "x")
	}

	var seen []int
	sl.Range(func(key int, _ string) bool {
		seen = append(seen, key)
		return true
	})

	want := []int{1, 2, 3, 4, 5}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, seen)
		}
	}
}
