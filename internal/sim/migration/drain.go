package migration

import (
	"errors"
	"fmt"

	"trustcollapse.dev/internal/sim/rng"
	"trustcollapse.dev/internal/sim/world"
)

// DefaultCap is the number of queue entries consumed per tick.
const DefaultCap = 50

// DefaultStreakThreshold is the bad streak at which a Mixed cell is queued.
const DefaultStreakThreshold = 4

// maxRejections bounds the random probe for an occupied Good cell before
// falling back to an explicit scan.
const maxRejections = 64

// ErrNoDestination is returned when the Good world has no occupied cell to
// overwrite.
var ErrNoDestination = errors.New("migration: no eligible destination in good world")

// Result reports one drain pass.
type Result struct {
	Processed int // entries consumed from the queue, skips included
	Migrated  int
	Skipped   int // stale entries pointing at a void
}

// Drain consumes up to limit entries from q. Each live entry overwrites a
// uniformly drawn occupied Good cell with the Mixed cell's state and leaves a
// void behind. Entries past the limit stay queued in order. When no
// destination exists the entry is put back at the head and ErrNoDestination
// is returned along with what was done so far.
func Drain(q *Queue, good, mixed *world.World, limit int, src rng.Source) (Result, error) {
	var res Result
	for res.Processed < limit {
		idx, ok := q.Pop()
		if !ok {
			break
		}
		if idx < 0 || idx >= mixed.Len() || !mixed.Occupied[idx] {
			res.Processed++
			res.Skipped++
			continue
		}
		dst, ok := pickDestination(good, src)
		if !ok {
			q.pushFront(idx)
			return res, fmt.Errorf("drain mixed cell %d: %w", idx, ErrNoDestination)
		}
		good.CopyCell(dst, mixed, idx)
		mixed.Vacate(idx)
		res.Processed++
		res.Migrated++
	}
	return res, nil
}

// pickDestination draws uniform grid indices until one is occupied. After
// maxRejections misses it samples uniformly among the occupied cells it can
// find, so a sparse Good world still terminates and an empty one reports
// failure instead of spinning.
func pickDestination(good *world.World, src rng.Source) (int, bool) {
	n := good.Len()
	if n == 0 {
		return 0, false
	}
	for try := 0; try < maxRejections; try++ {
		i := src.IntN(n)
		if good.Occupied[i] {
			return i, true
		}
	}
	occupied := make([]int, 0, 16)
	for i, occ := range good.Occupied {
		if occ {
			occupied = append(occupied, i)
		}
	}
	if len(occupied) == 0 {
		return 0, false
	}
	return occupied[src.IntN(len(occupied))], true
}
