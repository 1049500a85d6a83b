package runner

import (
	"trustcollapse.dev/internal/observerproto"
	"trustcollapse.dev/internal/sim/world"
)

// Metrics is a thread-safe read-only view of the loop. It is updated from the
// loop goroutine after every step or state-changing command.
type Metrics struct {
	Tick           uint64 `json:"tick"`
	Running        bool   `json:"running"`
	TickRateHz     int    `json:"tick_rate_hz"`
	ShuffleEnabled bool   `json:"shuffle_enabled"`

	QueueLen      int    `json:"queue_len"`
	MigratedTotal uint64 `json:"migrated_total"`
	MigratedTick  int    `json:"migrated_tick"`
	EnqueuedTick  int    `json:"enqueued_tick"`
	SkippedTick   int    `json:"skipped_tick"`

	StepMS       float64 `json:"step_ms"`
	StepErrors   uint64  `json:"step_errors"`
	Observers    int     `json:"observers"`
	CommandDepth int     `json:"command_depth"`

	Good  world.Summary `json:"good"`
	Mixed world.Summary `json:"mixed"`
}

func (m Metrics) Status() observerproto.Status {
	return observerproto.Status{
		Tick:           m.Tick,
		Running:        m.Running,
		TickRateHz:     m.TickRateHz,
		ShuffleEnabled: m.ShuffleEnabled,
	}
}

func (r *Runner) Metrics() Metrics {
	if r == nil {
		return Metrics{}
	}
	m, _ := r.metrics.Load().(Metrics)
	return m
}

func (r *Runner) publish(good, mixed world.Summary) {
	res := r.eng.LastStep()
	m := Metrics{
		Tick:           r.eng.Tick(),
		Running:        r.running,
		TickRateHz:     r.rate,
		ShuffleEnabled: r.eng.ShuffleEnabled(),
		QueueLen:       r.eng.QueueLen(),
		MigratedTotal:  r.eng.Migrated(),
		MigratedTick:   res.Migrated,
		EnqueuedTick:   res.Enqueued,
		SkippedTick:    res.Skipped,
		StepMS:         r.lastStepMS,
		StepErrors:     r.stepErrors,
		Observers:      len(r.observers),
		CommandDepth:   len(r.cmds),
		Good:           good,
		Mixed:          mixed,
	}
	r.metrics.Store(m)
	r.broadcast(m)
}
