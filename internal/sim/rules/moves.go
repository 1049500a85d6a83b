package rules

import (
	"trustcollapse.dev/internal/sim/rng"
	"trustcollapse.dev/internal/sim/world"
)

// DecideMoves picks every occupied cell's action for this tick. Negative trust
// always defects without consuming a draw; otherwise the cell cooperates with
// probability trust/10.
func DecideMoves(w *world.World, src rng.Source) {
	for i, occ := range w.Occupied {
		if !occ {
			continue
		}
		t := w.Trust[i]
		if t < 0 {
			w.LastMove[i] = world.MoveBad
			continue
		}
		if src.Float64() < t/world.TrustCeiling {
			w.LastMove[i] = world.MoveGood
		} else {
			w.LastMove[i] = world.MoveBad
		}
	}
}

// DefaultSelfDrift is how far a Powerful cell's own move shifts its trust.
const DefaultSelfDrift = 0.1

// ApplySelfDrift moves every occupied Powerful cell's trust by +amount after a
// cooperative move and -amount after a defection. Other classes are untouched.
func ApplySelfDrift(w *world.World, amount float64) {
	for i, occ := range w.Occupied {
		if !occ || w.Class[i] != world.Powerful {
			continue
		}
		if w.LastMove[i] > 0 {
			w.Trust[i] = world.ClampTrust(w.Trust[i] + amount)
		} else {
			w.Trust[i] = world.ClampTrust(w.Trust[i] - amount)
		}
	}
}

// UpdateStreaks bumps the saturating bad streak of every defecting occupied
// cell and clears it on cooperation. When enqueue is non-nil, every occupied
// cell whose streak is at least threshold is reported, every tick the
// condition holds.
func UpdateStreaks(w *world.World, threshold int, enqueue func(i int)) {
	for i, occ := range w.Occupied {
		if !occ {
			continue
		}
		if w.LastMove[i] < 0 {
			w.BadStreak[i] = world.IncStreak(w.BadStreak[i])
		} else {
			w.BadStreak[i] = 0
		}
		if enqueue != nil && int(w.BadStreak[i]) >= threshold {
			enqueue(i)
		}
	}
}
