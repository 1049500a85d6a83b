package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"trustcollapse.dev/internal/sim/engine"
	"trustcollapse.dev/internal/sim/migration"
	"trustcollapse.dev/internal/sim/rules"
	"trustcollapse.dev/internal/sim/world"
)

type Tuning struct {
	TickRateHz  int   `yaml:"tick_rate_hz"`
	Seed        int64 `yaml:"seed"`
	StartPaused bool  `yaml:"start_paused"`

	GridWidth  int `yaml:"grid_width"`
	GridHeight int `yaml:"grid_height"`

	ClassRatios []float64 `yaml:"class_ratios"`

	Impact *ImpactTables `yaml:"impact_matrices"`

	MigrationStreakThreshold int   `yaml:"migration_streak_threshold"`
	MigrationCapPerTick      int   `yaml:"migration_cap_per_tick"`
	ShuffleEnabled           *bool `yaml:"shuffle_enabled"`

	PowerfulSelfDrift float64 `yaml:"powerful_self_drift"`

	Histogram world.HistogramSpec `yaml:"histogram"`
}

// ImpactTables is the YAML form of rules.ImpactModel: 3x3 rows ordered
// powerful, common, poor.
type ImpactTables struct {
	Pos [][]float64 `yaml:"pos"`
	Neg [][]float64 `yaml:"neg"`
}

const (
	DefaultTickRateHz = 12
	MaxTickRateHz     = 60
)

func Defaults() Tuning {
	on := true
	return Tuning{
		TickRateHz:               DefaultTickRateHz,
		Seed:                     1337,
		GridWidth:                engine.DefaultWidth,
		GridHeight:               engine.DefaultHeight,
		ClassRatios:              append([]float64(nil), engine.DefaultClassRatios[:]...),
		MigrationStreakThreshold: migration.DefaultStreakThreshold,
		MigrationCapPerTick:      migration.DefaultCap,
		ShuffleEnabled:           &on,
		PowerfulSelfDrift:        rules.DefaultSelfDrift,
		Histogram:                world.DefaultHistogram(),
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.normalize()
	if _, err := t.EngineConfig(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) normalize() {
	if t.TickRateHz <= 0 {
		t.TickRateHz = DefaultTickRateHz
	}
	if t.TickRateHz > MaxTickRateHz {
		t.TickRateHz = MaxTickRateHz
	}
	if t.Histogram.Bins <= 0 || t.Histogram.Max <= t.Histogram.Min {
		t.Histogram = world.DefaultHistogram()
	}
}

// EngineConfig converts the tuning into an engine configuration and
// validates it.
func (t Tuning) EngineConfig() (engine.Config, error) {
	cfg := engine.Config{
		Width:           t.GridWidth,
		Height:          t.GridHeight,
		StreakThreshold: t.MigrationStreakThreshold,
		MigrationCap:    t.MigrationCapPerTick,
		SelfDrift:       t.PowerfulSelfDrift,

		DisableShuffle:   t.ShuffleEnabled != nil && !*t.ShuffleEnabled,
		DisableMigration: t.MigrationCapPerTick == 0,
		DisableSelfDrift: t.PowerfulSelfDrift == 0,
	}
	if len(t.ClassRatios) != 0 {
		if len(t.ClassRatios) != world.NumClasses {
			return cfg, fmt.Errorf("%w: class_ratios needs %d entries, got %d", engine.ErrInvalidConfig, world.NumClasses, len(t.ClassRatios))
		}
		copy(cfg.ClassRatios[:], t.ClassRatios)
	}
	if t.Impact != nil {
		m, err := t.Impact.model()
		if err != nil {
			return cfg, fmt.Errorf("%w: impact_matrices: %v", engine.ErrInvalidConfig, err)
		}
		cfg.Impact = &m
	}
	if err := cfg.WithDefaults().Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (it ImpactTables) model() (rules.ImpactModel, error) {
	m := rules.DefaultImpact()
	if it.Pos != nil {
		if err := fillTable(&m.Pos, it.Pos); err != nil {
			return m, fmt.Errorf("pos: %w", err)
		}
	}
	if it.Neg != nil {
		if err := fillTable(&m.Neg, it.Neg); err != nil {
			return m, fmt.Errorf("neg: %w", err)
		}
	}
	return m, nil
}

func fillTable(dst *rules.Table, rows [][]float64) error {
	if len(rows) != world.NumClasses {
		return fmt.Errorf("want %d rows, got %d", world.NumClasses, len(rows))
	}
	for a, row := range rows {
		if len(row) != world.NumClasses {
			return fmt.Errorf("row %d: want %d columns, got %d", a, world.NumClasses, len(row))
		}
		copy(dst[a][:], row)
	}
	return nil
}
