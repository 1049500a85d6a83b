// Package shuffle relabels cell positions inside a world so the fixed grid
// topology stops encoding a persistent social structure.
package shuffle

import (
	"trustcollapse.dev/internal/sim/rng"
	"trustcollapse.dev/internal/sim/world"
)

// Permutation returns a uniform random permutation of [0,n) built by a
// Fisher-Yates pass from the last index down.
func Permutation(n int, src rng.Source) []int32 {
	idx := make([]int32, n)
	Fill(idx, src)
	return idx
}

// Fill writes a fresh permutation into idx, reusing its storage.
func Fill(idx []int32, src rng.Source) {
	for i := range idx {
		idx[i] = int32(i)
	}
	for i := len(idx) - 1; i > 0; i-- {
		j := src.IntN(i + 1)
		idx[i], idx[j] = idx[j], idx[i]
	}
}

// Apply relabels every column of w by following the cycles of perm with
// in-place swaps. visited must have len(perm) entries; it is cleared first.
func Apply(w *world.World, perm []int32, visited []bool) {
	clear(visited)
	for start := range perm {
		if visited[start] {
			continue
		}
		i := start
		for !visited[i] {
			visited[i] = true
			j := int(perm[i])
			if i != j {
				w.Swap(i, j)
			}
			i = j
		}
	}
}

// Shuffler keeps the scratch buffers for repeated shuffles of same-sized
// worlds.
type Shuffler struct {
	perm    []int32
	visited []bool
}

func NewShuffler(n int) *Shuffler {
	return &Shuffler{perm: make([]int32, n), visited: make([]bool, n)}
}

// World draws a new permutation from src and applies it to w.
func (s *Shuffler) World(w *world.World, src rng.Source) {
	if len(s.perm) != w.Len() {
		s.perm = make([]int32, w.Len())
		s.visited = make([]bool, w.Len())
	}
	Fill(s.perm, src)
	Apply(w, s.perm, s.visited)
}
