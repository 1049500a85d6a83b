package observerproto

import "trustcollapse.dev/internal/sim/world"

// Version is the observer protocol version.
const Version = "1.0"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeControl   = "CONTROL"
	TypeFrame     = "FRAME"
)

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Grids requests the per-cell columns of both worlds in every frame.
	Grids     bool `json:"grids,omitempty"`
	Histogram bool `json:"histogram,omitempty"`
	// EveryTicks thins the stream to one frame per N ticks.
	EveryTicks int `json:"every_ticks,omitempty"`
}

// Client -> Server. Body of POST /admin/v1/control.
type ControlMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	Cmd      string   `json:"cmd"`
	On       *bool    `json:"on,omitempty"`
	Fraction *float64 `json:"fraction,omitempty"`
	Rate     int      `json:"rate,omitempty"`
}

// ControlResponse answers a control request.
type ControlResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Status Status `json:"status"`
}

// Status is the host-level run state.
type Status struct {
	Tick           uint64 `json:"tick"`
	Running        bool   `json:"running"`
	TickRateHz     int    `json:"tick_rate_hz"`
	ShuffleEnabled bool   `json:"shuffle_enabled"`
}

// HTTP response for GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	Status          Status      `json:"status"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	Width           int                 `json:"width"`
	Height          int                 `json:"height"`
	Seed            int64               `json:"seed"`
	StreakThreshold int                 `json:"streak_threshold"`
	MigrationCap    int                 `json:"migration_cap"`
	Histogram       world.HistogramSpec `json:"histogram"`
}

// Server -> Client. Sent after every tick, or after a command changes state
// while paused.
type FrameMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	Status

	QueueLen      int    `json:"queue_len"`
	MigratedTotal uint64 `json:"migrated_total"`
	MigratedTick  int    `json:"migrated_tick"`
	EnqueuedTick  int    `json:"enqueued_tick"`

	Good  WorldFrame `json:"good"`
	Mixed WorldFrame `json:"mixed"`
}

type WorldFrame struct {
	Summary   world.Summary `json:"summary"`
	Histogram []world.Bin   `json:"histogram,omitempty"`
	Grid      *GridFrame    `json:"grid,omitempty"`
}

// GridFrame is a row-major dump of one world. Class is -1 for a void cell.
type GridFrame struct {
	Class    []int8    `json:"class"`
	Trust    []float32 `json:"trust"`
	LastMove []int8    `json:"last_move"`
}

// NewGridFrame encodes w for the wire.
func NewGridFrame(w *world.World) *GridFrame {
	n := w.Len()
	g := &GridFrame{
		Class:    make([]int8, n),
		Trust:    make([]float32, n),
		LastMove: make([]int8, n),
	}
	for i := 0; i < n; i++ {
		if !w.Occupied[i] {
			g.Class[i] = -1
			continue
		}
		g.Class[i] = int8(w.Class[i])
		g.Trust[i] = float32(w.Trust[i])
		g.LastMove[i] = w.LastMove[i]
	}
	return g
}
