package shuffle

import (
	"cmp"
	"slices"
	"testing"

	"trustcollapse.dev/internal/sim/rng"
	"trustcollapse.dev/internal/sim/world"
)

func randomWorld(n int, seed int64) *world.World {
	src := rng.NewSeeded(seed)
	w := world.New(world.Mixed, n)
	for i := 0; i < n; i++ {
		if src.Float64() < 0.2 {
			continue // void
		}
		w.Populate(i, world.Class(src.IntN(3)), src.Float64()*40-30)
		if src.Float64() < 0.5 {
			w.LastMove[i] = world.MoveBad
			w.BadStreak[i] = uint8(src.IntN(256))
		}
	}
	return w
}

func occupiedMultiset(w *world.World) []world.Cell {
	var out []world.Cell
	for i := 0; i < w.Len(); i++ {
		if w.Occupied[i] {
			out = append(out, w.Cell(i))
		}
	}
	slices.SortFunc(out, func(a, b world.Cell) int {
		if c := cmp.Compare(a.Class, b.Class); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Trust, b.Trust); c != 0 {
			return c
		}
		if c := cmp.Compare(a.LastMove, b.LastMove); c != 0 {
			return c
		}
		return cmp.Compare(a.BadStreak, b.BadStreak)
	})
	return out
}

func TestPermutation_IsPermutation(t *testing.T) {
	p := Permutation(1000, rng.NewSeeded(11))
	seen := make([]bool, len(p))
	for _, v := range p {
		if seen[v] {
			t.Fatalf("duplicate %d", v)
		}
		seen[v] = true
	}
}

func TestPermutation_ZeroAndOne(t *testing.T) {
	if len(Permutation(0, rng.NewSeeded(1))) != 0 {
		t.Fatalf("empty permutation expected")
	}
	if p := Permutation(1, rng.NewSeeded(1)); p[0] != 0 {
		t.Fatalf("p=%v", p)
	}
}

func TestShuffle_PreservesMultiset(t *testing.T) {
	w := randomWorld(2000, 5)
	before := occupiedMultiset(w)
	popBefore := w.Population()

	s := NewShuffler(w.Len())
	src := rng.NewSeeded(6)
	for k := 0; k < 5; k++ {
		s.World(w, src)
	}

	if w.Population() != popBefore {
		t.Fatalf("population %d -> %d", popBefore, w.Population())
	}
	if after := occupiedMultiset(w); !slices.Equal(before, after) {
		t.Fatalf("multiset changed by shuffle")
	}
}

func TestShuffle_MovesColumnsTogether(t *testing.T) {
	// Encode each cell's original index in trust so rows can be traced.
	n := 64
	w := world.New(world.Good, n)
	for i := 0; i < n; i++ {
		w.Populate(i, world.Class(i%3), float64(-i))
		w.BadStreak[i] = uint8(i)
		if i%2 == 1 {
			w.LastMove[i] = world.MoveBad
		}
	}
	NewShuffler(n).World(w, rng.NewSeeded(99))
	for i := 0; i < n; i++ {
		orig := int(-w.Trust[i])
		if int(w.BadStreak[i]) != orig || w.Class[i] != world.Class(orig%3) {
			t.Fatalf("row %d torn: %+v", i, w.Cell(i))
		}
		if (orig%2 == 1) != (w.LastMove[i] == world.MoveBad) {
			t.Fatalf("row %d last move torn: %+v", i, w.Cell(i))
		}
	}
}

func TestShuffle_Deterministic(t *testing.T) {
	a := randomWorld(500, 1)
	b := randomWorld(500, 1)
	NewShuffler(500).World(a, rng.NewSeeded(2))
	NewShuffler(500).World(b, rng.NewSeeded(2))
	if !slices.Equal(a.Trust, b.Trust) || !slices.Equal(a.Occupied, b.Occupied) {
		t.Fatalf("same seed should give same layout")
	}
}
