package node

import (
	"testing"

	"indextree/pkg/kv"
)

func newIntLeaf() *Leaf[int, string] {
	return NewLeaf[int, string](kv.Ordered[int]())
}

func TestLeafInsertGetOverwrite(t *testing.T) {
	l := newIntLeaf()
	l.Insert(10, "a", Overwrite)
	l.Insert(20, "b", Overwrite)
	l.Insert(10, "c", Overwrite)

	if v, ok := l.Get(10); !ok || v != "c" {
		t.Fatalf("expected overwritten value c, got %q ok=%v", v, ok)
	}
	if l.Len() != 2 {
		t.Fatalf("expected 2 entries after overwrite, got %d", l.Len())
	}
}

func TestLeafInsertRejectPolicy(t *testing.T) {
	l := newIntLeaf()
	l.Insert(10, "a", Reject)
	ok := l.Insert(10, "b", Reject)
	if ok {
		t.Fatal("expected Reject policy to refuse duplicate key")
	}
	v, _ := l.Get(10)
	if v != "a" {
		t.Fatalf("value should remain unchanged under Reject, got %q", v)
	}
}

func TestLeafOrderMaintained(t *testing.T) {
	l := newIntLeaf()
	for _, k := range []int{5, 1, 9, 3, 7} {
		l.Insert(k, "x", Overwrite)
	}
	prev := -1 << 30
	for _, k := range l.Keys() {
		if k <= prev {
			t.Fatalf("keys not strictly increasing: %v", l.Keys())
		}
		prev = k
	}
}

func TestLeafRemove(t *testing.T) {
	l := newIntLeaf()
	l.Insert(1, "a", Overwrite)
	l.Insert(2, "b", Overwrite)

	if !l.Remove(1) {
		t.Fatal("expected removal of present key to succeed")
	}
	if l.Remove(1) {
		t.Fatal("second removal of same key should report not found")
	}
	if _, ok := l.Get(1); ok {
		t.Fatal("removed key should not be found")
	}
}

func TestLeafSplit(t *testing.T) {
	l := newIntLeaf()
	for i := 0; i < 6; i++ {
		l.Insert(i, "v", Overwrite)
	}
	right, pivot := l.Split()
	if pivot != right.Keys()[0] {
		t.Fatalf("pivot must equal first key of right sibling")
	}
	if l.Len()+right.Len() != 6 {
		t.Fatalf("split must preserve total entry count: left=%d right=%d", l.Len(), right.Len())
	}
	if l.Len() != 3 || right.Len() != 3 {
		t.Fatalf("expected even split 3/3, got left=%d right=%d", l.Len(), right.Len())
	}
}

func TestLeafTakeFromLeft(t *testing.T) {
	left := newIntLeaf()
	left.Insert(1, "a", Overwrite)
	left.Insert(2, "b", Overwrite)
	right := newIntLeaf()
	right.Insert(5, "c", Overwrite)

	pivot := right.TakeFromLeft(left)
	if pivot != 2 {
		t.Fatalf("expected moved key 2 as pivot, got %d", pivot)
	}
	if left.Len() != 1 || right.Len() != 2 {
		t.Fatalf("unexpected sizes after borrow: left=%d right=%d", left.Len(), right.Len())
	}
	if right.Keys()[0] != 2 {
		t.Fatalf("borrowed key should be at front of right")
	}
}

func TestLeafTakeFromRight(t *testing.T) {
	left := newIntLeaf()
	left.Insert(1, "a", Overwrite)
	right := newIntLeaf()
	right.Insert(5, "c", Overwrite)
	right.Insert(6, "d", Overwrite)

	pivot := left.TakeFromRight(right)
	if pivot != 6 {
		t.Fatalf("expected new right.keys[0]=6 as pivot, got %d", pivot)
	}
	if left.Keys()[len(left.Keys())-1] != 5 {
		t.Fatalf("borrowed key should land at back of left")
	}
}

func TestLeafMerge(t *testing.T) {
	left := newIntLeaf()
	left.Insert(1, "a", Overwrite)
	right := newIntLeaf()
	right.Insert(2, "b", Overwrite)
	right.Insert(3, "c", Overwrite)

	left.Merge(right)
	if left.Len() != 3 {
		t.Fatalf("expected merged length 3, got %d", left.Len())
	}
	for i, want := range []int{1, 2, 3} {
		if left.Keys()[i] != want {
			t.Fatalf("merged keys out of order: %v", left.Keys())
		}
	}
}

func TestLeafRequiresSplitAndMerge(t *testing.T) {
	degree := 4
	l := newIntLeaf()
	for i := 0; i < degree; i++ {
		l.Insert(i, "v", Overwrite)
	}
	if l.RequiresSplit(degree) {
		t.Fatal("leaf at exactly degree entries should not require split")
	}
	l.Insert(degree, "v", Overwrite)
	if !l.RequiresSplit(degree) {
		t.Fatal("leaf exceeding degree entries should require split")
	}

	m := newIntLeaf()
	m.Insert(1, "v", Overwrite)
	if !m.RequiresMerge(degree) {
		t.Fatal("leaf at or below ceil(degree/2) should require merge")
	}
}
