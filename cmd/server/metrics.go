package main

import (
	"fmt"
	"io"

	"trustcollapse.dev/internal/persistence/indexdb"
	"trustcollapse.dev/internal/sim/runner"
	"trustcollapse.dev/internal/sim/world"
)

// writeMetrics renders the Prometheus text exposition format.
func writeMetrics(w io.Writer, m runner.Metrics, observers int64, tickLogLines uint64, idx indexdb.Stats, idxEnabled bool) {
	fmt.Fprintf(w, "# HELP trustsim_tick Current engine tick.\n")
	fmt.Fprintf(w, "# TYPE trustsim_tick gauge\n")
	fmt.Fprintf(w, "trustsim_tick %d\n", m.Tick)

	fmt.Fprintf(w, "# HELP trustsim_running Whether the loop is stepping (1) or paused (0).\n")
	fmt.Fprintf(w, "# TYPE trustsim_running gauge\n")
	fmt.Fprintf(w, "trustsim_running %d\n", b2i(m.Running))

	fmt.Fprintf(w, "# HELP trustsim_tick_rate_hz Target ticks per second.\n")
	fmt.Fprintf(w, "# TYPE trustsim_tick_rate_hz gauge\n")
	fmt.Fprintf(w, "trustsim_tick_rate_hz %d\n", m.TickRateHz)

	fmt.Fprintf(w, "# HELP trustsim_shuffle_enabled Whether positions are shuffled after each tick.\n")
	fmt.Fprintf(w, "# TYPE trustsim_shuffle_enabled gauge\n")
	fmt.Fprintf(w, "trustsim_shuffle_enabled %d\n", b2i(m.ShuffleEnabled))

	fmt.Fprintf(w, "# HELP trustsim_migration_queue_len Pending migration entries.\n")
	fmt.Fprintf(w, "# TYPE trustsim_migration_queue_len gauge\n")
	fmt.Fprintf(w, "trustsim_migration_queue_len %d\n", m.QueueLen)

	fmt.Fprintf(w, "# HELP trustsim_migrated_total Cells moved from Mixed to Good since the last reset.\n")
	fmt.Fprintf(w, "# TYPE trustsim_migrated_total counter\n")
	fmt.Fprintf(w, "trustsim_migrated_total %d\n", m.MigratedTotal)

	fmt.Fprintf(w, "# HELP trustsim_tick_events Per-tick migration events of the last tick.\n")
	fmt.Fprintf(w, "# TYPE trustsim_tick_events gauge\n")
	fmt.Fprintf(w, "trustsim_tick_events{event=%q} %d\n", "enqueued", m.EnqueuedTick)
	fmt.Fprintf(w, "trustsim_tick_events{event=%q} %d\n", "migrated", m.MigratedTick)
	fmt.Fprintf(w, "trustsim_tick_events{event=%q} %d\n", "skipped", m.SkippedTick)

	fmt.Fprintf(w, "# HELP trustsim_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(w, "# TYPE trustsim_step_ms gauge\n")
	fmt.Fprintf(w, "trustsim_step_ms %.3f\n", m.StepMS)

	fmt.Fprintf(w, "# HELP trustsim_step_errors_total Ticks that reported an error.\n")
	fmt.Fprintf(w, "# TYPE trustsim_step_errors_total counter\n")
	fmt.Fprintf(w, "trustsim_step_errors_total %d\n", m.StepErrors)

	fmt.Fprintf(w, "# HELP trustsim_command_queue_depth Commands waiting for the next tick boundary.\n")
	fmt.Fprintf(w, "# TYPE trustsim_command_queue_depth gauge\n")
	fmt.Fprintf(w, "trustsim_command_queue_depth %d\n", m.CommandDepth)

	fmt.Fprintf(w, "# HELP trustsim_observers Connected observer sessions.\n")
	fmt.Fprintf(w, "# TYPE trustsim_observers gauge\n")
	fmt.Fprintf(w, "trustsim_observers %d\n", observers)

	fmt.Fprintf(w, "# HELP trustsim_population Occupied cells per world.\n")
	fmt.Fprintf(w, "# TYPE trustsim_population gauge\n")
	fmt.Fprintf(w, "# HELP trustsim_mean_trust Mean trust over occupied cells per world.\n")
	fmt.Fprintf(w, "# TYPE trustsim_mean_trust gauge\n")
	fmt.Fprintf(w, "# HELP trustsim_alignment Cells by trust sign per world.\n")
	fmt.Fprintf(w, "# TYPE trustsim_alignment gauge\n")
	for _, ws := range []struct {
		name string
		s    world.Summary
	}{{world.Good.String(), m.Good}, {world.Mixed.String(), m.Mixed}} {
		fmt.Fprintf(w, "trustsim_population{world=%q} %d\n", ws.name, ws.s.Occupied)
		fmt.Fprintf(w, "trustsim_mean_trust{world=%q} %.6f\n", ws.name, ws.s.MeanTrust)
		fmt.Fprintf(w, "trustsim_alignment{world=%q,sign=%q} %d\n", ws.name, "good", ws.s.GoodCount)
		fmt.Fprintf(w, "trustsim_alignment{world=%q,sign=%q} %d\n", ws.name, "evil", ws.s.EvilCount)
	}

	fmt.Fprintf(w, "# HELP trustsim_tick_log_lines_total Tick log entries written by this process.\n")
	fmt.Fprintf(w, "# TYPE trustsim_tick_log_lines_total counter\n")
	fmt.Fprintf(w, "trustsim_tick_log_lines_total %d\n", tickLogLines)

	if !idxEnabled {
		return
	}
	fmt.Fprintf(w, "# HELP trustsim_index_queue_depth SQLite index writer backlog.\n")
	fmt.Fprintf(w, "# TYPE trustsim_index_queue_depth gauge\n")
	fmt.Fprintf(w, "trustsim_index_queue_depth %d\n", idx.QueueDepth)

	fmt.Fprintf(w, "# HELP trustsim_index_queue_capacity SQLite index writer queue capacity.\n")
	fmt.Fprintf(w, "# TYPE trustsim_index_queue_capacity gauge\n")
	fmt.Fprintf(w, "trustsim_index_queue_capacity %d\n", idx.QueueCapacity)

	fmt.Fprintf(w, "# HELP trustsim_index_dropped_total Tick rows dropped because the index fell behind.\n")
	fmt.Fprintf(w, "# TYPE trustsim_index_dropped_total counter\n")
	fmt.Fprintf(w, "trustsim_index_dropped_total %d\n", idx.DropTickTotal)

	fmt.Fprintf(w, "# HELP trustsim_index_written_total Tick rows committed to the index.\n")
	fmt.Fprintf(w, "# TYPE trustsim_index_written_total counter\n")
	fmt.Fprintf(w, "trustsim_index_written_total %d\n", idx.WrittenTotal)

	fmt.Fprintf(w, "# HELP trustsim_index_write_errors_total Failed index writes.\n")
	fmt.Fprintf(w, "# TYPE trustsim_index_write_errors_total counter\n")
	fmt.Fprintf(w, "trustsim_index_write_errors_total %d\n", idx.WriteErrors)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
