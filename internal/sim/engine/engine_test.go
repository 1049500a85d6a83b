package engine

import (
	"errors"
	"slices"
	"testing"

	"trustcollapse.dev/internal/sim/rng"
	"trustcollapse.dev/internal/sim/world"
)

func smallConfig(w, h int) Config {
	cfg := DefaultConfig()
	cfg.Width = w
	cfg.Height = h
	return cfg
}

func mustNew(t *testing.T, cfg Config, src rng.Source) *Engine {
	t.Helper()
	e, err := New(cfg, src)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"negative width":  func(c *Config) { c.Width = -1 },
		"negative height": func(c *Config) { c.Height = -3 },
		"ratios sum":      func(c *Config) { c.ClassRatios = [3]float64{0.5, 0.5, 0.5} },
		"negative ratio":  func(c *Config) { c.ClassRatios = [3]float64{-0.1, 0.5, 0.6} },
		"negative cap":    func(c *Config) { c.MigrationCap = -1 },
		"negative streak": func(c *Config) { c.StreakThreshold = -4 },
	}
	for name, mut := range cases {
		cfg := smallConfig(4, 4)
		mut(&cfg)
		if _, err := New(cfg, rng.NewSeeded(1)); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: err=%v want ErrInvalidConfig", name, err)
		}
	}
	if _, err := New(smallConfig(4, 4), nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("nil source: err=%v", err)
	}
}

func TestNew_ZeroConfigTakesDefaults(t *testing.T) {
	e := mustNew(t, Config{}, rng.NewSeeded(1))
	cfg := e.Config()
	if cfg.Width != DefaultWidth || cfg.Height != DefaultHeight {
		t.Fatalf("grid %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.MigrationCap != 50 || cfg.StreakThreshold != 4 || cfg.ClassRatios != DefaultClassRatios {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Impact == nil || cfg.Impact.Neg[0][0] != -1.0 {
		t.Fatalf("impact defaults missing")
	}
	if cfg.SelfDrift != 0.1 || !e.ShuffleEnabled() {
		t.Fatalf("drift %v shuffle %v", cfg.SelfDrift, e.ShuffleEnabled())
	}
}

func TestNew_DisableFieldsAllowZeros(t *testing.T) {
	cfg := smallConfig(6, 4)
	cfg.MigrationCap, cfg.SelfDrift = 0, 0
	cfg.DisableMigration, cfg.DisableSelfDrift, cfg.DisableShuffle = true, true, true
	e := mustNew(t, cfg, rng.NewSeeded(4))
	got := e.Config()
	if got.MigrationCap != 0 || got.SelfDrift != 0 || e.ShuffleEnabled() {
		t.Fatalf("zeros not kept: cap=%d drift=%v shuffle=%v", got.MigrationCap, got.SelfDrift, e.ShuffleEnabled())
	}
	for i := 0; i < 20; i++ {
		if err := e.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	if e.Migrated() != 0 || e.World(world.Mixed).Population() != 6*4 {
		t.Fatalf("cap 0 still migrated %d", e.Migrated())
	}

	bad := smallConfig(6, 4)
	bad.DisableMigration = true
	if _, err := New(bad, rng.NewSeeded(4)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("disabled migration with cap %d: err=%v", bad.MigrationCap, err)
	}
}

func TestInit_Distributions(t *testing.T) {
	e := mustNew(t, smallConfig(40, 25), rng.NewSeeded(3))
	good, mixed := e.World(world.Good), e.World(world.Mixed)
	n := 40 * 25
	if good.Population() != n || mixed.Population() != n {
		t.Fatalf("populations %d/%d want %d", good.Population(), mixed.Population(), n)
	}
	classes := [world.NumClasses]int{}
	for i := 0; i < n; i++ {
		if good.Trust[i] != 10 || good.LastMove[i] != world.MoveGood || good.BadStreak[i] != 0 {
			t.Fatalf("good cell %d: %+v", i, good.Cell(i))
		}
		if tr := mixed.Trust[i]; tr < -10 || tr > 10 {
			t.Fatalf("mixed cell %d trust %v", i, tr)
		}
		classes[good.Class[i]]++
	}
	// 10/30/60 with generous slack.
	if classes[world.Powerful] < n/20 || classes[world.Poor] < n/2 {
		t.Fatalf("class draw looks off: %v", classes)
	}
	if e.Tick() != 0 || e.Migrated() != 0 || e.QueueLen() != 0 {
		t.Fatalf("counters not reset")
	}
}

func TestInit_ResetsAfterRunning(t *testing.T) {
	e := mustNew(t, smallConfig(10, 10), rng.NewSeeded(4))
	for i := 0; i < 30; i++ {
		if err := e.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	e.Init()
	if e.Tick() != 0 || e.Migrated() != 0 || e.QueueLen() != 0 {
		t.Fatalf("tick=%d migrated=%d queue=%d", e.Tick(), e.Migrated(), e.QueueLen())
	}
	if e.World(world.Mixed).Population() != 100 {
		t.Fatalf("mixed should be fully repopulated")
	}
}

func TestStep_TrustCeilingAndStreakBound(t *testing.T) {
	e := mustNew(t, smallConfig(20, 10), rng.NewSeeded(5))
	for tick := 0; tick < 300; tick++ {
		if err := e.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
		for _, k := range []world.Kind{world.Good, world.Mixed} {
			w := e.World(k)
			for i := 0; i < w.Len(); i++ {
				if w.Trust[i] > world.TrustCeiling {
					t.Fatalf("tick %d %v cell %d trust %v", tick, k, i, w.Trust[i])
				}
			}
		}
	}
	if e.Tick() != 300 {
		t.Fatalf("tick=%d", e.Tick())
	}
}

func TestStep_MigrationPopulationEffect(t *testing.T) {
	cfg := smallConfig(16, 16)
	cfg.MigrationCap = 7
	e := mustNew(t, cfg, rng.NewSeeded(6))
	n := cfg.Cells()
	total := 0
	for tick := 0; tick < 200; tick++ {
		mixedBefore := e.World(world.Mixed).Population()
		queueBefore := e.QueueLen()
		if err := e.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
		res := e.LastStep()
		if got := e.World(world.Mixed).Population(); got != mixedBefore-res.Migrated {
			t.Fatalf("tick %d: mixed %d -> %d, migrated %d", tick, mixedBefore, got, res.Migrated)
		}
		if e.World(world.Good).Population() != n {
			t.Fatalf("tick %d: good population changed", tick)
		}
		if res.Migrated+res.Skipped > cfg.MigrationCap {
			t.Fatalf("tick %d: drained %d > cap", tick, res.Migrated+res.Skipped)
		}
		if drop := queueBefore + res.Enqueued - e.QueueLen(); drop > cfg.MigrationCap {
			t.Fatalf("tick %d: queue dropped by %d", tick, drop)
		}
		total += res.Migrated
	}
	if uint64(total) != e.Migrated() {
		t.Fatalf("cumulative %d != %d", e.Migrated(), total)
	}
	if total == 0 {
		t.Fatalf("expected some migrations from a mixed world")
	}
}

func TestStep_DeterministicUnderSeed(t *testing.T) {
	cfg := smallConfig(24, 12)
	a := mustNew(t, cfg, rng.NewSeeded(2024))
	b := mustNew(t, cfg, rng.NewSeeded(2024))
	for tick := 0; tick < 1000; tick++ {
		if tick == 400 {
			a.SetShuffleEnabled(false)
			b.SetShuffleEnabled(false)
		}
		if err := a.Step(); err != nil {
			t.Fatalf("a: %v", err)
		}
		if err := b.Step(); err != nil {
			t.Fatalf("b: %v", err)
		}
		if da, db := a.Digest(), b.Digest(); da != db {
			t.Fatalf("digest mismatch at tick %d", tick)
		}
	}
	for _, k := range []world.Kind{world.Good, world.Mixed} {
		wa, wb := a.World(k), b.World(k)
		if !slices.Equal(wa.Trust, wb.Trust) || !slices.Equal(wa.Class, wb.Class) ||
			!slices.Equal(wa.Occupied, wb.Occupied) || !slices.Equal(wa.LastMove, wb.LastMove) ||
			!slices.Equal(wa.BadStreak, wb.BadStreak) {
			t.Fatalf("%v columns diverged", k)
		}
	}
}

func TestStep_UniformCooperationOnTinyTorus(t *testing.T) {
	// A script of zeros draws Powerful for every cell and always cooperates
	// when trust > 0.
	e := mustNew(t, smallConfig(2, 2), rng.NewScripted(0))
	mixed := e.World(world.Mixed)
	for i := 0; i < mixed.Len(); i++ {
		mixed.Trust[i] = 10
	}
	if err := e.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	for _, k := range []world.Kind{world.Good, world.Mixed} {
		w := e.World(k)
		for i := 0; i < w.Len(); i++ {
			if w.Class[i] != world.Powerful {
				t.Fatalf("%v cell %d class %v", k, i, w.Class[i])
			}
			if w.Trust[i] != 10 || w.LastMove[i] != world.MoveGood || w.BadStreak[i] != 0 {
				t.Fatalf("%v cell %d: %+v", k, i, w.Cell(i))
			}
		}
	}
	if e.QueueLen() != 0 || e.Migrated() != 0 {
		t.Fatalf("no migration expected")
	}
}

// forcedDefector builds a 4x4 engine where every cell cooperates except
// Mixed cell target, whose trust is pinned far below zero.
func forcedDefector(t *testing.T, target int) *Engine {
	t.Helper()
	cfg := smallConfig(4, 4)
	cfg.DisableShuffle = true
	e := mustNew(t, cfg, rng.NewScripted(0))
	mixed := e.World(world.Mixed)
	for i := 0; i < mixed.Len(); i++ {
		mixed.Trust[i] = 10
	}
	mixed.Trust[target] = -1000
	return e
}

func TestForcedMigration_QueuedByTickFourAndDrained(t *testing.T) {
	const target = 5
	e := forcedDefector(t, target)
	for tick := 0; tick < 3; tick++ {
		if err := e.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
		if e.QueueLen() != 0 {
			t.Fatalf("tick %d: queued too early", tick)
		}
	}
	good, mixed := e.World(world.Good), e.World(world.Mixed)

	// Fourth tick, phase by phase.
	e.applyRules(good)
	e.applyRules(mixed)
	if got := e.PendingMigrations(); !slices.Equal(got, []int{target}) {
		t.Fatalf("queue=%v want [%d]", got, target)
	}
	pre := mixed.Cell(target)
	if pre.LastMove != world.MoveBad || pre.BadStreak != 4 {
		t.Fatalf("pre-migration cell %+v", pre)
	}
	goodBefore := good.Columns()

	res, err := e.drainMigrations()
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if res.Migrated != 1 || e.Migrated() != 1 {
		t.Fatalf("migrated=%d cumulative=%d", res.Migrated, e.Migrated())
	}
	if mixed.Occupied[target] {
		t.Fatalf("source slot should be void")
	}

	changed := 0
	for i := 0; i < good.Len(); i++ {
		before := world.Cell{
			Occupied: goodBefore.Occupied[i], Class: goodBefore.Class[i], Trust: goodBefore.Trust[i],
			LastMove: goodBefore.LastMove[i], BadStreak: goodBefore.BadStreak[i],
		}
		if good.Cell(i) == before {
			continue
		}
		changed++
		if good.Cell(i) != pre {
			t.Fatalf("good cell %d=%+v want %+v", i, good.Cell(i), pre)
		}
	}
	if changed != 1 {
		t.Fatalf("overwrote %d good cells, want 1", changed)
	}
}

func TestForcedMigration_ThroughStep(t *testing.T) {
	const target = 10
	e := forcedDefector(t, target)
	for tick := 0; tick < 4; tick++ {
		if err := e.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	if e.Migrated() != 1 || e.LastStep().Migrated != 1 {
		t.Fatalf("migrated=%d", e.Migrated())
	}
	if e.World(world.Mixed).Occupied[target] {
		t.Fatalf("target should be void after tick 4")
	}
	if e.World(world.Mixed).Population() != 15 || e.World(world.Good).Population() != 16 {
		t.Fatalf("populations mixed=%d good=%d", e.World(world.Mixed).Population(), e.World(world.Good).Population())
	}
	// Further ticks leave the void alone.
	if err := e.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if e.World(world.Mixed).Occupied[target] || e.QueueLen() != 0 {
		t.Fatalf("void should not re-enter the queue")
	}
}

func TestStep_NoDestinationSurfacesError(t *testing.T) {
	const target = 3
	e := forcedDefector(t, target)
	good := e.World(world.Good)
	for i := 0; i < good.Len(); i++ {
		good.Vacate(i)
	}
	var err error
	for tick := 0; tick < 4 && err == nil; tick++ {
		err = e.Step()
	}
	if err == nil {
		t.Fatalf("expected drain failure on an empty good world")
	}
	if e.Tick() != 4 {
		t.Fatalf("tick should still advance, got %d", e.Tick())
	}
	if got := e.PendingMigrations(); !slices.Equal(got, []int{target}) {
		t.Fatalf("entry should stay queued, got %v", got)
	}
}

func TestSetShuffleEnabled(t *testing.T) {
	e := mustNew(t, smallConfig(6, 6), rng.NewSeeded(8))
	if !e.ShuffleEnabled() {
		t.Fatalf("shuffle should default on")
	}
	_ = e.Step()
	if !e.LastStep().Shuffled {
		t.Fatalf("expected shuffled tick")
	}
	e.SetShuffleEnabled(false)
	_ = e.Step()
	if e.LastStep().Shuffled {
		t.Fatalf("shuffle should be off")
	}
}

func TestRandomizeMixed(t *testing.T) {
	e := mustNew(t, smallConfig(10, 10), rng.NewSeeded(9))
	mixed := e.World(world.Mixed)
	mixed.Vacate(0)
	mixed.BadStreak[5] = 9
	mixed.LastMove[5] = world.MoveBad
	classes := append([]world.Class(nil), mixed.Class...)

	if err := e.RandomizeMixed(1); err != nil {
		t.Fatalf("randomize: %v", err)
	}
	for i := 1; i < mixed.Len(); i++ {
		if tr := mixed.Trust[i]; tr < 0 || tr > 10 {
			t.Fatalf("cell %d trust %v outside [0,10]", i, tr)
		}
		if mixed.LastMove[i] != world.MoveGood || mixed.BadStreak[i] != 0 {
			t.Fatalf("cell %d not reset: %+v", i, mixed.Cell(i))
		}
	}
	if mixed.Occupied[0] || mixed.Trust[0] != 0 {
		t.Fatalf("void should be untouched")
	}
	if !slices.Equal(classes, mixed.Class) {
		t.Fatalf("classes changed")
	}

	if err := e.RandomizeMixed(0); err != nil {
		t.Fatalf("randomize: %v", err)
	}
	for i := 1; i < mixed.Len(); i++ {
		if tr := mixed.Trust[i]; tr > 0 || tr < -10 {
			t.Fatalf("cell %d trust %v outside [-10,0]", i, tr)
		}
	}

	for _, bad := range []float64{-0.1, 1.5} {
		if err := e.RandomizeMixed(bad); !errors.Is(err, ErrInvalidFraction) {
			t.Fatalf("fraction %v: err=%v", bad, err)
		}
	}
}

func TestReinit_ChangesGrid(t *testing.T) {
	e := mustNew(t, smallConfig(5, 5), rng.NewSeeded(10))
	if err := e.Reinit(smallConfig(8, 3)); err != nil {
		t.Fatalf("reinit: %v", err)
	}
	if e.World(world.Good).Len() != 24 || e.Topology().Len() != 24 {
		t.Fatalf("grid not rebuilt")
	}
	if err := e.Reinit(smallConfig(-1, 3)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err=%v", err)
	}
	if e.World(world.Good).Len() != 24 {
		t.Fatalf("failed reinit must not touch state")
	}
}

func TestSnapshotAndDigest(t *testing.T) {
	e := mustNew(t, smallConfig(6, 4), rng.NewSeeded(11))
	_ = e.Step()
	snap := e.Snapshot()
	if snap.Tick != 1 || snap.Width != 6 || snap.Height != 4 || len(snap.Good.Trust) != 24 {
		t.Fatalf("snapshot=%+v", snap)
	}
	d := e.Digest()
	e.World(world.Mixed).Trust[0] -= 1
	if e.Digest() == d {
		t.Fatalf("digest should change with state")
	}
	if snap.Mixed.Trust[0] == e.World(world.Mixed).Trust[0] {
		t.Fatalf("snapshot should be detached")
	}
}
