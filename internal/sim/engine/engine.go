// Package engine advances the two-world trust simulation one tick at a time.
//
// An Engine is single-threaded: Step, Init and the mutators must not be called
// concurrently. Hosts that drive it from a timer own the serialization.
package engine

import (
	"errors"
	"fmt"

	"trustcollapse.dev/internal/sim/migration"
	"trustcollapse.dev/internal/sim/rng"
	"trustcollapse.dev/internal/sim/rules"
	"trustcollapse.dev/internal/sim/shuffle"
	"trustcollapse.dev/internal/sim/topology"
	"trustcollapse.dev/internal/sim/world"
)

// ErrInvalidFraction is returned by RandomizeMixed for a fraction outside [0,1].
var ErrInvalidFraction = errors.New("good fraction must be within [0,1]")

type Engine struct {
	cfg Config
	src rng.Source

	topo  *topology.Topology
	good  *world.World
	mixed *world.World
	queue migration.Queue

	tick     uint64
	migrated uint64
	shuffle  bool

	// Per-tick results of the last Step.
	last StepResult

	delta    []float64
	shuffler *shuffle.Shuffler
}

// StepResult describes what the last tick did.
type StepResult struct {
	Tick     uint64 `json:"tick"` // tick number that was executed
	Enqueued int    `json:"enqueued"`
	Migrated int    `json:"migrated"`
	Skipped  int    `json:"skipped"`
	Shuffled bool   `json:"shuffled"`
}

// New validates cfg, allocates both worlds and the shared topology, and
// initializes the populations from src.
func New(cfg Config, src rng.Source) (*Engine, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil random source", ErrInvalidConfig)
	}
	e := &Engine{src: src}
	if err := e.Reinit(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// Reinit swaps in a new configuration and resets the populations. The grid
// is rebuilt only when its dimensions change.
func (e *Engine) Reinit(cfg Config) error {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	n := cfg.Cells()
	if e.topo == nil || e.topo.Width() != cfg.Width || e.topo.Height() != cfg.Height {
		e.topo = topology.Build(cfg.Width, cfg.Height)
		e.good = world.New(world.Good, n)
		e.mixed = world.New(world.Mixed, n)
		e.delta = make([]float64, n)
		e.shuffler = shuffle.NewShuffler(n)
	}
	e.cfg = cfg
	e.shuffle = !cfg.DisableShuffle
	e.Init()
	return nil
}

// Init resets both populations, the migration queue and the counters. The
// Good world starts fully trusting; the Mixed world draws trust uniformly
// from [-10,10].
func (e *Engine) Init() {
	for i := 0; i < e.good.Len(); i++ {
		e.good.Populate(i, e.drawClass(), world.TrustCeiling)
	}
	for i := 0; i < e.mixed.Len(); i++ {
		c := e.drawClass()
		e.mixed.Populate(i, c, e.src.Float64()*20-10)
	}
	e.queue.Reset()
	e.tick = 0
	e.migrated = 0
	e.last = StepResult{}
}

func (e *Engine) drawClass() world.Class {
	r := e.src.Float64()
	acc := 0.0
	for k := 0; k < world.NumClasses-1; k++ {
		acc += e.cfg.ClassRatios[k]
		if r < acc {
			return world.Class(k)
		}
	}
	return world.Class(world.NumClasses - 1)
}

// Step runs one tick: move decisions, neighbor impacts, self-drift and
// streak bookkeeping for Good then Mixed, then migration draining, then the
// optional shuffle of both worlds, then the tick counter.
//
// A drain failure (no occupied Good cell) does not abort the tick: the rest
// of it still runs and the error is returned afterwards.
func (e *Engine) Step() error {
	res := StepResult{Tick: e.tick}
	res.Enqueued = e.applyRules(e.good) + e.applyRules(e.mixed)

	drained, drainErr := e.drainMigrations()
	res.Migrated = drained.Migrated
	res.Skipped = drained.Skipped

	if e.shuffle {
		e.shuffleWorlds()
		res.Shuffled = true
	}
	e.tick++
	e.last = res
	if drainErr != nil {
		return fmt.Errorf("tick %d: %w", res.Tick, drainErr)
	}
	return nil
}

// applyRules runs the per-world phases and returns how many entries were
// queued for migration.
func (e *Engine) applyRules(w *world.World) int {
	rules.DecideMoves(w, e.src)
	rules.ApplyNeighborImpacts(w, e.topo, e.cfg.Impact, e.delta)
	rules.ApplySelfDrift(w, e.cfg.SelfDrift)

	var enqueue func(int)
	if w.Kind() == world.Mixed {
		enqueue = e.queue.Push
	}
	before := e.queue.Len()
	rules.UpdateStreaks(w, e.cfg.StreakThreshold, enqueue)
	return e.queue.Len() - before
}

func (e *Engine) drainMigrations() (migration.Result, error) {
	res, err := migration.Drain(&e.queue, e.good, e.mixed, e.cfg.MigrationCap, e.src)
	e.migrated += uint64(res.Migrated)
	return res, err
}

func (e *Engine) shuffleWorlds() {
	e.shuffler.World(e.good, e.src)
	e.shuffler.World(e.mixed, e.src)
}

// SetShuffleEnabled toggles position shuffling for subsequent ticks.
func (e *Engine) SetShuffleEnabled(on bool) { e.shuffle = on }

func (e *Engine) ShuffleEnabled() bool { return e.shuffle }

// RandomizeMixed reassigns the trust of every occupied Mixed cell: uniform in
// [0,10] with probability goodFraction, uniform in [-10,0] otherwise. Moves
// and streaks are reset; occupancy and class are kept.
func (e *Engine) RandomizeMixed(goodFraction float64) error {
	if !(goodFraction >= 0 && goodFraction <= 1) {
		return fmt.Errorf("%w: %v", ErrInvalidFraction, goodFraction)
	}
	w := e.mixed
	for i, occ := range w.Occupied {
		if !occ {
			continue
		}
		if e.src.Float64() < goodFraction {
			w.Trust[i] = e.src.Float64() * world.TrustCeiling
		} else {
			w.Trust[i] = -e.src.Float64() * world.TrustCeiling
		}
		w.LastMove[i] = world.MoveGood
		w.BadStreak[i] = 0
	}
	return nil
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Topology() *topology.Topology { return e.topo }

func (e *Engine) Tick() uint64 { return e.tick }

// Migrated is the cumulative number of cells moved since the last Init.
func (e *Engine) Migrated() uint64 { return e.migrated }

func (e *Engine) QueueLen() int { return e.queue.Len() }

// PendingMigrations returns the queued Mixed indices, oldest first.
func (e *Engine) PendingMigrations() []int { return e.queue.Pending() }

func (e *Engine) LastStep() StepResult { return e.last }

// World returns the live world of the given kind. Callers must treat it as
// read-only and must not retain it across Step calls from another goroutine.
func (e *Engine) World(k world.Kind) *world.World {
	if k == world.Good {
		return e.good
	}
	return e.mixed
}

// Snapshot is a detached copy of the engine state.
type Snapshot struct {
	Tick           uint64
	Width          int
	Height         int
	QueueLen       int
	Migrated       uint64
	ShuffleEnabled bool
	Pending        []int
	Good           world.Columns
	Mixed          world.Columns

	// RandState is the position of the random source, when the source can
	// report it. Without it a restored engine draws a different stream.
	RandState []byte `json:",omitempty"`

	// CommandsApplied is set by hosts that log commands with the tick they
	// precede: it counts the leading commands of the next logged tick that
	// are already reflected in this state. Restore ignores it.
	CommandsApplied int `json:",omitempty"`
}

func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Tick:           e.tick,
		Width:          e.cfg.Width,
		Height:         e.cfg.Height,
		QueueLen:       e.queue.Len(),
		Migrated:       e.migrated,
		ShuffleEnabled: e.shuffle,
		Pending:        e.queue.Pending(),
		Good:           e.good.Columns(),
		Mixed:          e.mixed.Columns(),
		RandState:      e.randState(),
	}
}
