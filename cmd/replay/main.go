package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	persistlog "trustcollapse.dev/internal/persistence/log"
	"trustcollapse.dev/internal/persistence/snapshot"
	"trustcollapse.dev/internal/sim/runner"
	"trustcollapse.dev/internal/sim/tuning"
)

func main() {
	var (
		dataDir    = flag.String("data", "./data", "runtime data directory")
		ticksDir   = flag.String("ticks", "", "tick log dir containing ticks-*.jsonl.zst (default: <data>/ticks)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to the tuning.yaml the server started with")
		seed       = flag.Int64("seed", 0, "random seed (0 = use the tuning seed)")
		snapPath   = flag.String("snapshot", "", "start verifying from this snapshot instead of tick 0 (optional)")
		toTick     = flag.Uint64("to_tick", 0, "stop after tick (inclusive, optional)")
	)
	flag.Parse()

	dir := strings.TrimSpace(*ticksDir)
	if dir == "" {
		dir = persistlog.TickDir(*dataDir)
	}

	var (
		p         *runner.Replayer
		err       error
		startRun  string
		startTick uint64
	)
	if *snapPath != "" {
		snap, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fail("read snapshot", err)
		}
		fmt.Printf("snapshot v%d run=%s tick=%d seed=%d grid=%dx%d queue=%d migrated=%d\n",
			snap.Header.Version, snap.Header.RunID, snap.Header.Tick, snap.Header.Seed,
			snap.Header.Width, snap.Header.Height, len(snap.State.Pending), snap.State.Migrated)
		// The snapshot carries its own config and seed.
		p, err = runner.NewReplayerAt(snap.Config, snap.Header.Seed, snap.Header.RunID, snap.State)
		if err != nil {
			fail("replayer", err)
		}
		startRun, startTick = snap.Header.RunID, snap.Header.Tick
	} else {
		tune, err := tuning.Load(*tuningPath)
		if err != nil {
			fail("load tuning", err)
		}
		if *seed != 0 {
			tune.Seed = *seed
		}
		cfg, err := tune.EngineConfig()
		if err != nil {
			fail("tuning", err)
		}
		p, err = runner.NewReplayer(cfg, tune.Seed)
		if err != nil {
			fail("replayer", err)
		}
	}

	// With a starting snapshot, skip everything up to its position in the
	// log: entries of earlier runs and of its own run before its tick.
	started := startRun == ""
	var skipped uint64
	err = persistlog.ReadTickLog(dir, func(e runner.TickEntry) error {
		if !started {
			if e.RunID != startRun || e.Tick < startTick {
				skipped++
				return nil
			}
			started = true
		}
		if *toTick != 0 && e.Tick > *toTick {
			return persistlog.ErrStop
		}
		return p.Apply(e)
	})
	if err != nil {
		fail("replay", err)
	}
	if !started {
		fail("replay", errors.New("snapshot run/tick not found in the tick log"))
	}
	fmt.Printf("replay ok: checked=%d ticks restarts=%d skipped=%d final_tick=%d\n", p.Checked, p.Restarts, skipped, p.Engine().Tick())
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
