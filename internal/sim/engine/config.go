package engine

import (
	"errors"
	"fmt"
	"math"

	"trustcollapse.dev/internal/sim/migration"
	"trustcollapse.dev/internal/sim/rules"
	"trustcollapse.dev/internal/sim/world"
)

// ErrInvalidConfig wraps every configuration rejection.
var ErrInvalidConfig = errors.New("invalid engine config")

// Config parameterizes an engine. Zero-valued fields take the defaults of
// DefaultConfig; negative values are rejected. Shuffling, migration and
// self-drift are on unless switched off with the Disable fields, which is the
// only way to get a zero migration cap or a zero drift.
type Config struct {
	Width  int
	Height int

	// ClassRatios are the draw weights of Powerful, Common and Poor.
	ClassRatios [world.NumClasses]float64

	// Impact defaults to rules.DefaultImpact when nil.
	Impact *rules.ImpactModel

	// StreakThreshold is at least 1 once defaults are applied; a zero
	// threshold would queue every Mixed cell on every tick.
	StreakThreshold int
	MigrationCap    int

	// SelfDrift is the Powerful-class self adjustment per tick.
	SelfDrift float64

	DisableShuffle   bool
	DisableMigration bool // forces MigrationCap to 0
	DisableSelfDrift bool // forces SelfDrift to 0
}

const (
	DefaultWidth  = 100
	DefaultHeight = 50
)

// DefaultClassRatios is 10% Powerful, 30% Common, 60% Poor.
var DefaultClassRatios = [world.NumClasses]float64{0.1, 0.3, 0.6}

func DefaultConfig() Config {
	m := rules.DefaultImpact()
	return Config{
		Width:           DefaultWidth,
		Height:          DefaultHeight,
		ClassRatios:     DefaultClassRatios,
		Impact:          &m,
		StreakThreshold: migration.DefaultStreakThreshold,
		MigrationCap:    migration.DefaultCap,
		SelfDrift:       rules.DefaultSelfDrift,
	}
}

func (c *Config) applyDefaults() {
	if c.Width == 0 {
		c.Width = DefaultWidth
	}
	if c.Height == 0 {
		c.Height = DefaultHeight
	}
	if c.ClassRatios == ([world.NumClasses]float64{}) {
		c.ClassRatios = DefaultClassRatios
	}
	if c.Impact == nil {
		m := rules.DefaultImpact()
		c.Impact = &m
	} else {
		// Detach from the caller's copy.
		m := *c.Impact
		c.Impact = &m
	}
	if c.StreakThreshold == 0 {
		c.StreakThreshold = migration.DefaultStreakThreshold
	}
	if c.MigrationCap == 0 && !c.DisableMigration {
		c.MigrationCap = migration.DefaultCap
	}
	if c.SelfDrift == 0 && !c.DisableSelfDrift {
		c.SelfDrift = rules.DefaultSelfDrift
	}
}

// WithDefaults returns c with zero-valued fields filled in, as New and
// Reinit see it.
func (c Config) WithDefaults() Config {
	c.applyDefaults()
	return c
}

// Validate checks a config after defaults have been applied.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: grid %dx%d must be positive", ErrInvalidConfig, c.Width, c.Height)
	}
	if c.Width > 1<<15 || c.Height > 1<<15 {
		return fmt.Errorf("%w: grid %dx%d too large", ErrInvalidConfig, c.Width, c.Height)
	}
	sum := 0.0
	for k, r := range c.ClassRatios {
		if r < 0 || math.IsNaN(r) || math.IsInf(r, 0) {
			return fmt.Errorf("%w: class ratio %d = %v", ErrInvalidConfig, k, r)
		}
		sum += r
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("%w: class ratios sum to %v, want 1", ErrInvalidConfig, sum)
	}
	if c.Impact != nil {
		if err := c.Impact.Validate(); err != nil {
			return fmt.Errorf("%w: impact: %v", ErrInvalidConfig, err)
		}
	}
	if c.StreakThreshold < 1 {
		return fmt.Errorf("%w: streak threshold %d must be at least 1", ErrInvalidConfig, c.StreakThreshold)
	}
	if c.MigrationCap < 0 {
		return fmt.Errorf("%w: migration cap %d is negative", ErrInvalidConfig, c.MigrationCap)
	}
	if c.DisableMigration && c.MigrationCap != 0 {
		return fmt.Errorf("%w: migration cap %d with migration disabled", ErrInvalidConfig, c.MigrationCap)
	}
	if math.IsNaN(c.SelfDrift) || math.IsInf(c.SelfDrift, 0) {
		return fmt.Errorf("%w: self drift %v", ErrInvalidConfig, c.SelfDrift)
	}
	if c.DisableSelfDrift && c.SelfDrift != 0 {
		return fmt.Errorf("%w: self drift %v with drift disabled", ErrInvalidConfig, c.SelfDrift)
	}
	return nil
}

// Cells is the grid size.
func (c Config) Cells() int { return c.Width * c.Height }
