// Package world holds one population's columnar cell state.
package world

import "fmt"

// World is a structure-of-arrays population: column c at index i describes
// cell i. All five columns always have the same length.
type World struct {
	kind Kind

	Occupied  []bool
	Class     []Class
	Trust     []float64
	LastMove  []int8
	BadStreak []uint8
}

// New allocates a world of n void cells.
func New(kind Kind, n int) *World {
	w := &World{
		kind:      kind,
		Occupied:  make([]bool, n),
		Class:     make([]Class, n),
		Trust:     make([]float64, n),
		LastMove:  make([]int8, n),
		BadStreak: make([]uint8, n),
	}
	for i := range w.LastMove {
		w.LastMove[i] = MoveGood
	}
	return w
}

func (w *World) Kind() Kind { return w.kind }

// Len is the number of grid slots (occupied or not).
func (w *World) Len() int { return len(w.Occupied) }

// Populate marks cell i occupied with the given class and trust, a cooperative
// last move and a cleared streak.
func (w *World) Populate(i int, c Class, trust float64) {
	w.Occupied[i] = true
	w.Class[i] = c
	w.Trust[i] = ClampTrust(trust)
	w.LastMove[i] = MoveGood
	w.BadStreak[i] = 0
}

// Vacate turns cell i into a void. The class column is left as is; it has no
// meaning for a void.
func (w *World) Vacate(i int) {
	w.Occupied[i] = false
	w.Trust[i] = 0
	w.LastMove[i] = MoveGood
	w.BadStreak[i] = 0
}

// CopyCell overwrites the class, trust, last move and streak of w[dst] with
// src[from]. Occupancy of the destination is not changed.
func (w *World) CopyCell(dst int, src *World, from int) {
	w.Class[dst] = src.Class[from]
	w.Trust[dst] = src.Trust[from]
	w.LastMove[dst] = src.LastMove[from]
	w.BadStreak[dst] = src.BadStreak[from]
}

// Swap exchanges cells a and b across every column.
func (w *World) Swap(a, b int) {
	w.Occupied[a], w.Occupied[b] = w.Occupied[b], w.Occupied[a]
	w.Class[a], w.Class[b] = w.Class[b], w.Class[a]
	w.Trust[a], w.Trust[b] = w.Trust[b], w.Trust[a]
	w.LastMove[a], w.LastMove[b] = w.LastMove[b], w.LastMove[a]
	w.BadStreak[a], w.BadStreak[b] = w.BadStreak[b], w.BadStreak[a]
}

// Population counts occupied cells.
func (w *World) Population() int {
	n := 0
	for _, occ := range w.Occupied {
		if occ {
			n++
		}
	}
	return n
}

// Cell is one row of the columns, used by snapshots and tests.
type Cell struct {
	Occupied  bool    `json:"occupied"`
	Class     Class   `json:"class"`
	Trust     float64 `json:"trust"`
	LastMove  int8    `json:"last_move"`
	BadStreak uint8   `json:"bad_streak"`
}

func (w *World) Cell(i int) Cell {
	return Cell{
		Occupied:  w.Occupied[i],
		Class:     w.Class[i],
		Trust:     w.Trust[i],
		LastMove:  w.LastMove[i],
		BadStreak: w.BadStreak[i],
	}
}

// Columns is a detached copy of a world's state, safe to hand to another
// goroutine.
type Columns struct {
	Kind      Kind
	Occupied  []bool
	Class     []Class
	Trust     []float64
	LastMove  []int8
	BadStreak []uint8
}

func (w *World) Columns() Columns {
	return Columns{
		Kind:      w.kind,
		Occupied:  append([]bool(nil), w.Occupied...),
		Class:     append([]Class(nil), w.Class...),
		Trust:     append([]float64(nil), w.Trust...),
		LastMove:  append([]int8(nil), w.LastMove...),
		BadStreak: append([]uint8(nil), w.BadStreak...),
	}
}

// ClampTrust enforces the trust ceiling.
func ClampTrust(t float64) float64 {
	if t > TrustCeiling {
		return TrustCeiling
	}
	return t
}

// IncStreak increments a bad-streak counter, saturating at MaxBadStreak.
func IncStreak(s uint8) uint8 {
	if s >= MaxBadStreak {
		return MaxBadStreak
	}
	return s + 1
}

// Check reports whether c could be restored into w.
func (w *World) Check(c Columns) error {
	n := w.Len()
	if c.Kind != w.kind {
		return fmt.Errorf("world restore: kind %s, want %s", c.Kind, w.kind)
	}
	if len(c.Occupied) != n || len(c.Class) != n || len(c.Trust) != n || len(c.LastMove) != n || len(c.BadStreak) != n {
		return fmt.Errorf("world restore: column lengths do not match %d cells", n)
	}
	for i := 0; i < n; i++ {
		if c.Class[i] >= NumClasses {
			return fmt.Errorf("world restore: cell %d has class %d", i, c.Class[i])
		}
		if c.LastMove[i] != MoveGood && c.LastMove[i] != MoveBad {
			return fmt.Errorf("world restore: cell %d has move %d", i, c.LastMove[i])
		}
	}
	return nil
}

// Restore overwrites w with c. The kind and length must match.
func (w *World) Restore(c Columns) error {
	if err := w.Check(c); err != nil {
		return err
	}
	copy(w.Occupied, c.Occupied)
	copy(w.Class, c.Class)
	copy(w.Trust, c.Trust)
	copy(w.LastMove, c.LastMove)
	copy(w.BadStreak, c.BadStreak)
	for i := range w.Trust {
		w.Trust[i] = ClampTrust(w.Trust[i])
	}
	return nil
}
