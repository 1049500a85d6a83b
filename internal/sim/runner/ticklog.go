package runner

import (
	"trustcollapse.dev/internal/sim/engine"
	"trustcollapse.dev/internal/sim/world"
)

// TickEntry is the per-step record written to the tick log and the index.
// Tick is the tick that was executed; Digest is the engine state after it.
type TickEntry struct {
	RunID  string `json:"run_id,omitempty"`
	Tick   uint64 `json:"tick"`
	Digest string `json:"digest"`

	// Commands are the engine-changing commands applied since the previous
	// step, in order.
	Commands []Command `json:"commands,omitempty"`

	Enqueued      int    `json:"enqueued"`
	Migrated      int    `json:"migrated"`
	Skipped       int    `json:"skipped"`
	Shuffled      bool   `json:"shuffled"`
	QueueLen      int    `json:"queue_len"`
	MigratedTotal uint64 `json:"migrated_total"`

	Good  world.Summary `json:"good"`
	Mixed world.Summary `json:"mixed"`

	Error string `json:"error,omitempty"`
}

type TickLogger interface {
	WriteTick(entry TickEntry) error
}

// TickLoggers fans an entry out to several loggers. Individual failures are
// ignored; the first error is returned.
type TickLoggers []TickLogger

func (ls TickLoggers) WriteTick(entry TickEntry) error {
	var first error
	for _, l := range ls {
		if l == nil {
			continue
		}
		if err := l.WriteTick(entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// StepOnce advances eng by one tick and describes it. cmds are the commands
// applied since the previous step. The digest is only computed when
// withDigest is set. A step error is also recorded in the entry.
func StepOnce(eng *engine.Engine, runID string, cmds []Command, withDigest bool) (TickEntry, error) {
	tick := eng.Tick()
	err := eng.Step()
	res := eng.LastStep()
	entry := TickEntry{
		RunID:         runID,
		Tick:          tick,
		Commands:      cmds,
		Enqueued:      res.Enqueued,
		Migrated:      res.Migrated,
		Skipped:       res.Skipped,
		Shuffled:      res.Shuffled,
		QueueLen:      eng.QueueLen(),
		MigratedTotal: eng.Migrated(),
		Good:          world.Summarize(eng.World(world.Good)),
		Mixed:         world.Summarize(eng.World(world.Mixed)),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if withDigest {
		entry.Digest = eng.Digest()
	}
	return entry, err
}
