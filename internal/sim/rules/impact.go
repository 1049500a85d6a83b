// Package rules holds the per-tick state transition rules applied to a world:
// move decisions, neighbor impacts, self-drift and streak bookkeeping.
package rules

import (
	"fmt"
	"math"

	"trustcollapse.dev/internal/sim/topology"
	"trustcollapse.dev/internal/sim/world"
)

// Table is indexed [actor class][target class].
type Table [world.NumClasses][world.NumClasses]float64

// ImpactModel holds the trust delta an actor inflicts on a target, by the
// sign of the actor's last move.
type ImpactModel struct {
	Pos Table `json:"pos" yaml:"pos"`
	Neg Table `json:"neg" yaml:"neg"`
}

// DefaultImpact returns the stock tables. Powerful actors swing everyone
// hard; Common and Poor defectors mostly hurt their own strata.
func DefaultImpact() ImpactModel {
	return ImpactModel{
		Pos: Table{
			{+0.5, +0.5, +0.5},
			{+0.1, +0.1, +0.2},
			{+0.1, +0.1, +0.1},
		},
		Neg: Table{
			{-1.0, -1.0, -1.0},
			{-0.1, -0.5, -0.5},
			{-0.1, -0.2, -0.3},
		},
	}
}

// Validate rejects NaN and infinite entries.
func (m ImpactModel) Validate() error {
	for a := 0; a < world.NumClasses; a++ {
		for b := 0; b < world.NumClasses; b++ {
			if v := m.Pos[a][b]; math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("pos[%d][%d] is not finite", a, b)
			}
			if v := m.Neg[a][b]; math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("neg[%d][%d] is not finite", a, b)
			}
		}
	}
	return nil
}

// Impact is the delta an actor of class actor, having played move, applies to
// a target of class target.
func (m *ImpactModel) Impact(actor, target world.Class, move int8) float64 {
	if move > 0 {
		return m.Pos[actor][target]
	}
	return m.Neg[actor][target]
}

// ComputeNeighborDeltas fills delta[i] with the mean impact of cell i's
// occupied neighbors, read entirely from the current state. Void cells and
// cells without occupied neighbors get 0.
func ComputeNeighborDeltas(w *world.World, topo *topology.Topology, m *ImpactModel, delta []float64) {
	for i, occ := range w.Occupied {
		delta[i] = 0
		if !occ {
			continue
		}
		ci := w.Class[i]
		sum, cnt := 0.0, 0
		for _, j := range topo.Neighbors(i) {
			if !w.Occupied[j] {
				continue
			}
			sum += m.Impact(w.Class[j], ci, w.LastMove[j])
			cnt++
		}
		if cnt > 0 {
			delta[i] = sum / float64(cnt)
		}
	}
}

// ApplyNeighborImpacts computes every delta from the pre-update state, then
// applies and clamps them. scratch must have at least w.Len() entries; it is
// reused across ticks to avoid an allocation per step.
func ApplyNeighborImpacts(w *world.World, topo *topology.Topology, m *ImpactModel, scratch []float64) {
	delta := scratch[:w.Len()]
	ComputeNeighborDeltas(w, topo, m, delta)
	for i, occ := range w.Occupied {
		if occ {
			w.Trust[i] = world.ClampTrust(w.Trust[i] + delta[i])
		}
	}
}
