package pager

import "testing"

func TestBlockCreate(t *testing.T) {
	b := NewBlock(1, 4096)
	if b.BlockNo() != 1 {
		t.Errorf("expected block number 1, got %d", b.BlockNo())
	}
	if len(b.Data()) != 4096 {
		t.Errorf("expected 4096 bytes, got %d", len(b.Data()))
	}
}

func TestBlockDirty(t *testing.T) {
	b := NewBlock(1, 4096)
	if b.IsDirty() {
		t.Error("new block should not be dirty")
	}
	b.SetDirty(true)
	if !b.IsDirty() {
		t.Error("block should be dirty after SetDirty(true)")
	}
}

func TestBlockReadWrite(t *testing.T) {
	b := NewBlock(1, 4096)

	data := []byte("hello world")
	copy(b.Data()[100:], data)
	b.SetDirty(true)

	got := b.Data()[100 : 100+len(data)]
	if string(got) != "hello world" {
		t.Errorf("expected 'hello world', got '%s'", string(got))
	}
}

func TestBlockKind(t *testing.T) {
	b := NewBlock(1, 4096)
	b.SetKind(BlockKindLeaf)
	if b.Kind() != BlockKindLeaf {
		t.Errorf("expected BlockKindLeaf, got %v", b.Kind())
	}
}

func TestBlockPinUnpin(t *testing.T) {
	b := NewBlock(1, 4096)
	if b.IsPinned() {
		t.Error("fresh block should not be pinned")
	}
	b.Pin()
	b.Pin()
	if !b.IsPinned() {
		t.Error("block should be pinned after Pin")
	}
	b.Unpin()
	if !b.IsPinned() {
		t.Error("block with one outstanding pin should still be pinned")
	}
	b.Unpin()
	if b.IsPinned() {
		t.Error("block should not be pinned after matching Unpin calls")
	}
}
