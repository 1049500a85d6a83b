package engine

import (
	"encoding"
	"fmt"
)

func (e *Engine) randState() []byte {
	m, ok := e.src.(encoding.BinaryMarshaler)
	if !ok {
		return nil
	}
	b, err := m.MarshalBinary()
	if err != nil {
		return nil
	}
	return b
}

// Restore replaces the engine state with s. The snapshot must come from an
// engine with the same grid dimensions. When s carries a random source state
// and the engine's source can load it, the stream resumes where it left off.
func (e *Engine) Restore(s Snapshot) error {
	if s.Width != e.cfg.Width || s.Height != e.cfg.Height {
		return fmt.Errorf("%w: snapshot grid %dx%d, engine %dx%d", ErrInvalidConfig, s.Width, s.Height, e.cfg.Width, e.cfg.Height)
	}
	n := e.cfg.Cells()
	for _, i := range s.Pending {
		if i < 0 || i >= n {
			return fmt.Errorf("%w: pending migration index %d out of range", ErrInvalidConfig, i)
		}
	}
	if err := e.good.Check(s.Good); err != nil {
		return err
	}
	if err := e.mixed.Check(s.Mixed); err != nil {
		return err
	}
	if len(s.RandState) > 0 {
		u, ok := e.src.(encoding.BinaryUnmarshaler)
		if !ok {
			return fmt.Errorf("%w: random source cannot restore state", ErrInvalidConfig)
		}
		if err := u.UnmarshalBinary(s.RandState); err != nil {
			return fmt.Errorf("restore random source: %w", err)
		}
	}
	// Checked above; these cannot fail.
	_ = e.good.Restore(s.Good)
	_ = e.mixed.Restore(s.Mixed)
	e.queue.Reset()
	for _, i := range s.Pending {
		e.queue.Push(i)
	}
	e.tick = s.Tick
	e.migrated = s.Migrated
	e.shuffle = s.ShuffleEnabled
	e.last = StepResult{}
	return nil
}
