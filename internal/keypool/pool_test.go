package keypool

import (
	"errors"
	"testing"
)

func TestRotateRoundRobin(t *testing.T) {
	p, err := New([]string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("init pool: %v", err)
	}

	want := []string{"a", "b", "c", "a", "b"}
	for i, w := range want {
		k, err := p.Current()
		if err != nil {
			t.Fatalf("current at step %d: %v", i, err)
		}
		if k != w {
			t.Fatalf("step %d: want %q, got %q", i, w, k)
		}
		p.Rotate()
	}
}

func TestEvictNeverComesBack(t *testing.T) {
	p, _ := New([]string{"a", "b", "c"})
	p.Evict("b")
	if p.Size() != 2 {
		t.Fatalf("size after evict: %d", p.Size())
	}
	for i := 0; i < 6; i++ {
		k, err := p.Current()
		if err != nil {
			t.Fatalf("current: %v", err)
		}
		if k == "b" {
			t.Fatalf("evicted key presented again at step %d", i)
		}
		p.Rotate()
	}
}

func TestEvictCurrentAdjustsIndex(t *testing.T) {
	p, _ := New([]string{"a", "b", "c"})
	p.Rotate() // current = b
	p.Evict("b")
	k, err := p.Current()
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if k != "c" {
		t.Fatalf("want c after evicting current, got %q", k)
	}
}

func TestEvictLastAdjustsIndex(t *testing.T) {
	p, _ := New([]string{"a", "b", "c"})
	p.Rotate()
	p.Rotate() // current = c
	p.Evict("c")
	k, err := p.Current()
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if k != "a" {
		t.Fatalf("want wrap to a, got %q", k)
	}
}

func TestExhaustion(t *testing.T) {
	p, _ := New([]string{"a"})
	p.Evict("a")
	if _, err := p.Current(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("want ErrExhausted, got %v", err)
	}
	// Rotate on an empty pool must not panic.
	p.Rotate()
}

func TestNewRejectsEmpty(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expected error for empty credential list")
	}
}
