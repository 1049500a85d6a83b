package rng

import "testing"

func TestNewSeeded_SameSeedSameSequence(t *testing.T) {
	a := NewSeeded(42)
	b := NewSeeded(42)
	for i := 0; i < 1000; i++ {
		if x, y := a.Float64(), b.Float64(); x != y {
			t.Fatalf("draw %d: %v != %v", i, x, y)
		}
		if x, y := a.IntN(97), b.IntN(97); x != y {
			t.Fatalf("intn %d: %d != %d", i, x, y)
		}
	}
}

func TestScripted_LoopsAndMaps(t *testing.T) {
	s := NewScripted(0, 0.5, 0.999)
	if got := s.Float64(); got != 0 {
		t.Fatalf("first=%v want 0", got)
	}
	if got := s.IntN(10); got != 5 {
		t.Fatalf("IntN(10) on 0.5 = %d want 5", got)
	}
	if got := s.IntN(10); got != 9 {
		t.Fatalf("IntN(10) on 0.999 = %d want 9", got)
	}
	if got := s.Float64(); got != 0 {
		t.Fatalf("script should loop, got %v", got)
	}
	if s.Draws() != 4 {
		t.Fatalf("draws=%d want 4", s.Draws())
	}
}

func TestScripted_EmptyIsZero(t *testing.T) {
	var s Scripted
	if s.Float64() != 0 || s.IntN(3) != 0 {
		t.Fatalf("empty script should yield zeros")
	}
}

func TestPCG_StateRoundTrip(t *testing.T) {
	a := NewSeeded(9)
	for i := 0; i < 17; i++ {
		a.Float64()
	}
	state, err := a.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	b := NewSeeded(1)
	if err := b.UnmarshalBinary(state); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	for i := 0; i < 100; i++ {
		if x, y := a.IntN(1000), b.IntN(1000); x != y {
			t.Fatalf("draw %d after restore: %d != %d", i, x, y)
		}
	}
}
