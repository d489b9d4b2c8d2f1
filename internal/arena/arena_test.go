package arena

import "testing"

func TestAllocAcrossChunks(t *testing.T) {
	a := NewSize(16)
	var ptrs [][]byte
	for i := 0; i < 8; i++ {
		b := a.Alloc(5)
		for j := range b {
			b[j] = byte(i)
		}
		ptrs = append(ptrs, b)
	}
	for i, b := range ptrs {
		for _, v := range b {
			if v != byte(i) {
				t.Fatalf("allocation %d corrupted: %v", i, b)
			}
		}
	}
}

func TestOversizeAllocGetsDedicatedChunk(t *testing.T) {
	a := NewSize(16)
	small := a.Alloc(4)
	big := a.Alloc(100)
	if len(big) != 100 {
		t.Fatalf("len(big) = %d, want 100", len(big))
	}
	small[0] = 1
	big[0] = 2
	if small[0] != 1 || big[0] != 2 {
		t.Fatalf("oversize chunk clobbered sibling allocation")
	}
}

func TestDetachRefRelease(t *testing.T) {
	a := New()
	a.Detach()
	if !a.Live() {
		t.Fatalf("arena should be live immediately after Detach")
	}
	a.Ref()
	a.Release() // matches Ref
	if !a.Live() {
		t.Fatalf("arena should still be live: creator ref outstanding")
	}
	a.Release() // matches Detach's implicit creator ref
	if a.Live() {
		t.Fatalf("arena should no longer be live")
	}
}

func TestAllocStringCopies(t *testing.T) {
	a := New()
	s := "hello"
	cp := a.AllocString(s)
	if cp != s {
		t.Fatalf("AllocString = %q, want %q", cp, s)
	}
}
