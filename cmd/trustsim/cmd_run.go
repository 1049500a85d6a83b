package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"trustcollapse.dev/internal/persistence/indexdb"
	persistlog "trustcollapse.dev/internal/persistence/log"
	"trustcollapse.dev/internal/sim/engine"
	"trustcollapse.dev/internal/sim/rng"
	"trustcollapse.dev/internal/sim/runner"
	"trustcollapse.dev/internal/sim/tuning"
	"trustcollapse.dev/internal/sim/world"
)

type runResult struct {
	RunID      string        `json:"run_id"`
	Seed       int64         `json:"seed"`
	Ticks      uint64        `json:"ticks"`
	Migrated   uint64        `json:"migrated"`
	QueueLen   int           `json:"queue_len"`
	StepErrors int           `json:"step_errors"`
	Digest     string        `json:"digest"`
	Good       world.Summary `json:"good"`
	Mixed      world.Summary `json:"mixed"`
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Step an engine for a number of ticks and print the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			ticks, _ := cmd.Flags().GetUint64("ticks")
			tuningPath, _ := cmd.Flags().GetString("tuning")
			seed, _ := cmd.Flags().GetInt64("seed")
			dataDir, _ := cmd.Flags().GetString("data")
			every, _ := cmd.Flags().GetUint64("every")
			randomize, _ := cmd.Flags().GetFloat64("randomize")

			tune := tuning.Defaults()
			if tuningPath != "" {
				t, err := tuning.Load(tuningPath)
				if err != nil {
					return fmt.Errorf("load tuning: %w", err)
				}
				tune = t
			}
			if cmd.Flags().Changed("seed") {
				tune.Seed = seed
			}
			cfg, err := tune.EngineConfig()
			if err != nil {
				return err
			}
			eng, err := engine.New(cfg, rng.NewSeeded(tune.Seed))
			if err != nil {
				return err
			}

			runID := strconv.FormatInt(time.Now().UnixNano(), 36)
			var loggers runner.TickLoggers
			if dataDir != "" {
				tl := persistlog.NewTickLogger(dataDir)
				defer tl.Close()
				idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index.sqlite"))
				if err != nil {
					return fmt.Errorf("open index: %w", err)
				}
				defer idx.Close()
				if err := idx.RecordTuning(tune); err != nil {
					return fmt.Errorf("record tuning: %w", err)
				}
				loggers = runner.TickLoggers{tl, idx}
			}

			var pending []runner.Command
			if cmd.Flags().Changed("randomize") {
				c := runner.Command{Kind: runner.CmdRandomizeMixed, Fraction: randomize}
				if err := c.ApplyTo(eng); err != nil {
					return err
				}
				pending = append(pending, c)
			}

			res := runResult{RunID: runID, Seed: tune.Seed}
			out := cmd.OutOrStdout()
			for i := uint64(0); i < ticks; i++ {
				entry, err := runner.StepOnce(eng, runID, pending, loggers != nil)
				pending = nil
				if err != nil {
					res.StepErrors++
				}
				if loggers != nil {
					if err := loggers.WriteTick(entry); err != nil {
						return fmt.Errorf("tick log: %w", err)
					}
				}
				if every > 0 && !jsonOut && eng.Tick()%every == 0 {
					fmt.Fprintf(out, "tick %-8d good %5d mean %8.3f | mixed %5d mean %8.3f evil %5d | queue %d migrated %d\n",
						eng.Tick(), entry.Good.Occupied, entry.Good.MeanTrust,
						entry.Mixed.Occupied, entry.Mixed.MeanTrust, entry.Mixed.EvilCount,
						entry.QueueLen, entry.MigratedTotal)
				}
			}

			res.Ticks = eng.Tick()
			res.Migrated = eng.Migrated()
			res.QueueLen = eng.QueueLen()
			res.Digest = eng.Digest()
			res.Good = world.Summarize(eng.World(world.Good))
			res.Mixed = world.Summarize(eng.World(world.Mixed))

			if jsonOut {
				return json.NewEncoder(out).Encode(res)
			}
			fmt.Fprintf(out, "run %s seed=%d ticks=%d migrated=%d queue=%d step_errors=%d\n",
				res.RunID, res.Seed, res.Ticks, res.Migrated, res.QueueLen, res.StepErrors)
			fmt.Fprintf(out, "  good:  occupied=%d mean=%.3f good=%d evil=%d\n", res.Good.Occupied, res.Good.MeanTrust, res.Good.GoodCount, res.Good.EvilCount)
			fmt.Fprintf(out, "  mixed: occupied=%d mean=%.3f good=%d evil=%d\n", res.Mixed.Occupied, res.Mixed.MeanTrust, res.Mixed.GoodCount, res.Mixed.EvilCount)
			fmt.Fprintf(out, "  digest: %s\n", res.Digest)
			return nil
		},
	}

	cmd.Flags().Uint64("ticks", 100, "Number of ticks to run")
	cmd.Flags().String("tuning", "", "Path to tuning.yaml (default: built-in defaults)")
	cmd.Flags().Int64("seed", 0, "Random seed (default: the tuning seed)")
	cmd.Flags().String("data", "", "Write the tick log and index under this directory")
	cmd.Flags().Uint64("every", 0, "Print a progress line every N ticks")
	cmd.Flags().Float64("randomize", 0, "Randomize the Mixed world with this good fraction before the first tick")

	return cmd
}
