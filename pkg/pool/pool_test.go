package pool

import "testing"

type widget struct {
	N int
}

func TestGetCallsNewWhenEmpty(t *testing.T) {
	p := New(func() *widget { return &widget{N: 7} })
	w := p.Get()
	if w.N != 7 {
		t.Fatalf("expected 7, got %d", w.N)
	}
}

func TestGetAppliesResetOnReuse(t *testing.T) {
	p := New(func() *widget { return &widget{N: 7} })
	p.Reset = func(w *widget) { w.N = 0 }

	w := p.Get()
	w.N = 99
	p.Put(w)

	reused := p.Get()
	if reused.N != 0 {
		t.Fatalf("expected Reset to zero N, got %d", reused.N)
	}
}

func TestPutNilIsNoop(t *testing.T) {
	p := New(func() *widget { return &widget{} })
	p.Put(nil) // must not panic
}
