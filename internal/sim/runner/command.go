package runner

import (
	"errors"
	"fmt"

	"trustcollapse.dev/internal/sim/engine"
)

var (
	ErrStopped        = errors.New("runner stopped")
	ErrBusy           = errors.New("runner command queue full")
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidRate    = errors.New("tick rate out of range")
	ErrNoSnapshotSink = errors.New("snapshot sink not configured")
)

const (
	MinTickRateHz = 1
	MaxTickRateHz = 60
)

type Kind string

const (
	CmdStart          Kind = "start"
	CmdPause          Kind = "pause"
	CmdStep           Kind = "step"
	CmdReset          Kind = "reset"
	CmdSetShuffle     Kind = "set_shuffle"
	CmdRandomizeMixed Kind = "randomize_mixed"
	CmdSetRate        Kind = "set_rate"
)

// Command is a host-level request applied at the next tick boundary.
type Command struct {
	Kind     Kind    `json:"kind"`
	On       bool    `json:"on,omitempty"`
	Fraction float64 `json:"fraction,omitempty"`
	Rate     int     `json:"rate,omitempty"`
}

// ChangesEngine reports whether the command mutates engine state. Only those
// commands are recorded in the tick log.
func (c Command) ChangesEngine() bool {
	switch c.Kind {
	case CmdReset, CmdSetShuffle, CmdRandomizeMixed:
		return true
	}
	return false
}

// ApplyTo runs an engine-changing command against e. It is used both by the
// live loop and by replay.
func (c Command) ApplyTo(e *engine.Engine) error {
	switch c.Kind {
	case CmdReset:
		e.Init()
		return nil
	case CmdSetShuffle:
		e.SetShuffleEnabled(c.On)
		return nil
	case CmdRandomizeMixed:
		return e.RandomizeMixed(c.Fraction)
	}
	return fmt.Errorf("%w: %q does not change the engine", ErrUnknownCommand, c.Kind)
}

func validRate(hz int) bool { return hz >= MinTickRateHz && hz <= MaxTickRateHz }
