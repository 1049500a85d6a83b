package runner

import (
	"errors"
	"fmt"

	"trustcollapse.dev/internal/sim/engine"
	"trustcollapse.dev/internal/sim/rng"
)

// ErrDigestMismatch is returned when a replayed tick diverges from the log.
var ErrDigestMismatch = errors.New("digest mismatch")

// Replayer re-executes a tick log against a fresh engine and checks every
// recorded digest.
type Replayer struct {
	cfg  engine.Config
	seed int64
	eng  *engine.Engine

	runID string
	// skip is the number of leading commands of the next entry that the
	// starting snapshot already reflects.
	skip int

	Checked  uint64
	Restarts int
}

func NewReplayer(cfg engine.Config, seed int64) (*Replayer, error) {
	p := &Replayer{cfg: cfg, seed: seed}
	if err := p.restart(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewReplayerAt starts from a snapshot taken during run runID. Entries of
// that run before the snapshot tick must not be applied. Commands the
// snapshot already reflects are not applied again from the first entry.
func NewReplayerAt(cfg engine.Config, seed int64, runID string, snap engine.Snapshot) (*Replayer, error) {
	eng, err := engine.New(cfg, rng.NewSeeded(seed))
	if err != nil {
		return nil, err
	}
	if err := eng.Restore(snap); err != nil {
		return nil, err
	}
	return &Replayer{cfg: cfg, seed: seed, eng: eng, runID: runID, skip: snap.CommandsApplied}, nil
}

func (p *Replayer) restart() error {
	eng, err := engine.New(p.cfg, rng.NewSeeded(p.seed))
	if err != nil {
		return err
	}
	p.eng = eng
	return nil
}

func (p *Replayer) Engine() *engine.Engine { return p.eng }

// Apply re-applies one entry. A new run id marks a host restart, and the
// engine starts fresh from the seed. Entries without a run id fall back to
// treating a tick that goes backwards without a reset command as a restart.
func (p *Replayer) Apply(entry TickEntry) error {
	var restarted bool
	if entry.RunID != "" {
		restarted = p.runID != "" && entry.RunID != p.runID
		p.runID = entry.RunID
	} else {
		restarted = entry.Tick < p.eng.Tick() && !resets(entry.Commands)
	}
	if restarted {
		if err := p.restart(); err != nil {
			return err
		}
		p.Restarts++
	}
	cmds := entry.Commands
	if p.skip > 0 {
		if restarted || p.skip > len(cmds) {
			return fmt.Errorf("tick %d: snapshot reflects %d commands, entry lists %d", entry.Tick, p.skip, len(cmds))
		}
		cmds = cmds[p.skip:]
		p.skip = 0
	}
	for _, c := range cmds {
		if err := c.ApplyTo(p.eng); err != nil {
			return fmt.Errorf("tick %d: command %s: %w", entry.Tick, c.Kind, err)
		}
	}
	if got := p.eng.Tick(); got != entry.Tick {
		return fmt.Errorf("tick %d: engine is at tick %d", entry.Tick, got)
	}
	// Step errors are part of the recorded history; the digest is what counts.
	_ = p.eng.Step()
	if entry.Digest == "" {
		return nil
	}
	if got := p.eng.Digest(); got != entry.Digest {
		return fmt.Errorf("%w at tick %d: got %s want %s", ErrDigestMismatch, entry.Tick, got, entry.Digest)
	}
	p.Checked++
	return nil
}

func resets(cmds []Command) bool {
	for _, c := range cmds {
		if c.Kind == CmdReset {
			return true
		}
	}
	return false
}
