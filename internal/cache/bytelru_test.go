package cache

import "testing"

func TestByteLRUEvictsOldest(t *testing.T) {
	c := NewByteLRU(20)
	c.Set("a", "12345678") // 9 bytes
	c.Set("b", "12345678") // 9 bytes
	c.Set("c", "12345678") // pushes over budget, "a" goes

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatal("expected b to survive")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("expected c to survive")
	}
	if c.Size() > 20 {
		t.Fatalf("size %d exceeds budget", c.Size())
	}
}

func TestByteLRUGetRefreshesRecency(t *testing.T) {
	c := NewByteLRU(20)
	c.Set("a", "12345678")
	c.Set("b", "12345678")
	c.Get("a") // now b is the oldest
	c.Set("c", "12345678")

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to survive after being touched")
	}
}

func TestByteLRUUpdateAdjustsSize(t *testing.T) {
	c := NewByteLRU(100)
	c.Set("k", "short")
	c.Set("k", "a much longer value than before")
	want := int64(len("k") + len("a much longer value than before"))
	if c.Size() != want {
		t.Fatalf("size = %d, want %d", c.Size(), want)
	}
	if c.Len() != 1 {
		t.Fatalf("len = %d, want 1", c.Len())
	}
}

func TestByteLRUOversizedEntry(t *testing.T) {
	c := NewByteLRU(4)
	c.Set("key", "a value that can never fit")
	if c.Len() != 0 {
		t.Fatalf("oversized entry retained, len = %d", c.Len())
	}
	if c.Size() != 0 {
		t.Fatalf("size = %d, want 0", c.Size())
	}
}
